package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/agentpool/core"
)

// RemoteOptions configures a RemoteWorker.
type RemoteOptions struct {
	// Config is the worker configuration. The id is forced to the id
	// passed to NewRemoteWorker.
	Config core.WorkerConfig

	// Dialer performs the websocket handshake.
	Dialer *websocket.Dialer

	// HandshakeTimeout bounds the initial dial.
	HandshakeTimeout time.Duration
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// RemoteWorker bridges tasks to an external process speaking JSON-RPC 2.0
// over a websocket. Requests and responses are correlated by id, so
// multiple tasks can be in flight on one connection.
type RemoteWorker struct {
	*Base

	url    string
	dialer *websocket.Dialer

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan rpcResponse

	readDone chan struct{}
}

// NewRemoteWorker creates a worker bridging to the websocket endpoint at
// url. The connection is established in Initialize.
func NewRemoteWorker(id, url string, optFns ...func(o *RemoteOptions)) *RemoteWorker {
	opts := RemoteOptions{
		Config:           core.DefaultWorkerConfig(id),
		HandshakeTimeout: 10 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Config.ID = id

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	}

	caps := []core.Capability{core.CapRemoteResources, core.CapRemoteTools}

	return &RemoteWorker{
		Base:    NewBase("Remote Bridge", "1.0.0", caps, opts.Config),
		url:     url,
		dialer:  dialer,
		pending: make(map[string]chan rpcResponse),
	}
}

// Initialize dials the remote endpoint and starts the read loop.
func (w *RemoteWorker) Initialize(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", core.ErrNetwork, w.url, err)
	}

	w.connMu.Lock()
	w.conn = conn
	w.readDone = make(chan struct{})
	w.connMu.Unlock()

	if err := w.Base.Initialize(ctx); err != nil {
		conn.Close()
		return err
	}

	go w.readLoop(conn)

	return nil
}

// readLoop dispatches incoming responses to their waiting calls. It exits
// when the connection errors, failing all in-flight calls.
func (w *RemoteWorker) readLoop(conn *websocket.Conn) {
	defer close(w.readDone)

	for {
		var resp rpcResponse
		if err := conn.ReadJSON(&resp); err != nil {
			w.failPending()
			return
		}

		w.pendingMu.Lock()
		ch, ok := w.pending[resp.ID]
		if ok {
			delete(w.pending, resp.ID)
		}
		w.pendingMu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

func (w *RemoteWorker) failPending() {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	for id, ch := range w.pending {
		close(ch)
		delete(w.pending, id)
	}
}

// Execute forwards the task to the remote endpoint and waits for the
// correlated response.
func (w *RemoteWorker) Execute(ctx context.Context, task core.Task) (core.TaskResult, error) {
	if err := w.BeginTask(task.ID); err != nil {
		return core.TaskResult{}, err
	}
	defer w.EndTask()

	start := time.Now()

	payload, err := w.call(ctx, remoteMethod(task), task.Spec.Params)
	dur := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			res := core.FailureResult(task.ID, w.ID(), err, dur)
			res.Status = core.StatusCancelled
			return res, nil
		}
		return core.FailureResult(task.ID, w.ID(), err, dur), nil
	}

	return core.SuccessResult(task.ID, w.ID(), payload, dur), nil
}

// remoteMethod maps a task to the JSON-RPC method name the remote side
// expects.
func remoteMethod(task core.Task) string {
	switch task.Spec.Kind {
	case core.KindRemoteResource:
		return "resources/read"
	case core.KindRemoteTool:
		return "tools/call"
	default:
		if task.Spec.Name != "" {
			return task.Spec.Name
		}
		return string(task.Spec.Kind)
	}
}

func (w *RemoteWorker) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	w.connMu.Lock()
	conn, readDone := w.conn, w.readDone
	w.connMu.Unlock()

	if conn == nil {
		return nil, fmt.Errorf("%w: not connected", core.ErrNetwork)
	}

	req := rpcRequest{JSONRPC: "2.0", ID: core.NewID(), Method: method, Params: params}

	ch := make(chan rpcResponse, 1)

	w.pendingMu.Lock()
	w.pending[req.ID] = ch
	w.pendingMu.Unlock()

	w.writeMu.Lock()
	err := conn.WriteJSON(req)
	w.writeMu.Unlock()

	if err != nil {
		w.pendingMu.Lock()
		delete(w.pending, req.ID)
		w.pendingMu.Unlock()

		return nil, fmt.Errorf("%w: write: %v", core.ErrNetwork, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: connection closed", core.ErrNetwork)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrTaskProcessingFailed, resp.Error)
		}
		return resp.Result, nil
	case <-readDone:
		return nil, fmt.Errorf("%w: connection closed", core.ErrNetwork)
	case <-ctx.Done():
		w.pendingMu.Lock()
		delete(w.pending, req.ID)
		w.pendingMu.Unlock()

		return nil, ctx.Err()
	}
}

// Shutdown closes the connection, failing any in-flight calls.
func (w *RemoteWorker) Shutdown(ctx context.Context) error {
	w.connMu.Lock()
	conn := w.conn
	w.conn = nil
	w.connMu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}

	return w.Base.Shutdown(ctx)
}

// HealthCheck reports Unhealthy when the connection is gone while the
// worker is supposed to be serving.
func (w *RemoteWorker) HealthCheck() core.Health {
	base := w.Base.HealthCheck()
	if base.State != core.HealthHealthy {
		return base
	}

	w.connMu.Lock()
	conn, readDone := w.conn, w.readDone
	w.connMu.Unlock()

	if conn == nil {
		return core.Unhealthy("not connected")
	}

	select {
	case <-readDone:
		return core.Unhealthy("connection lost")
	default:
	}

	return core.Healthy()
}
