package bus

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/logging"
)

// Middleware is one stage of the ordered pipeline wrapping send and
// receive. OnSend runs before a message is enqueued; a non-nil error aborts
// delivery and surfaces to the sender. OnReceive runs on dequeue before the
// message reaches the recipient.
type Middleware interface {
	Name() string
	OnSend(msg *core.Message) error
	OnReceive(msg *core.Message) error
}

// LoggingMiddleware logs every send and receive at debug level.
type LoggingMiddleware struct {
	logger logging.Logger
}

// NewLoggingMiddleware creates the logging stage.
func NewLoggingMiddleware(logger logging.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &LoggingMiddleware{logger: logger}
}

// Name implements Middleware.
func (m *LoggingMiddleware) Name() string { return "logging" }

// OnSend implements Middleware.
func (m *LoggingMiddleware) OnSend(msg *core.Message) error {
	m.logger.Debug("bus send", "message_id", msg.ID, "from", msg.From, "to", msg.To, "kind", string(msg.Kind), "type", msg.Type())
	return nil
}

// OnReceive implements Middleware.
func (m *LoggingMiddleware) OnReceive(msg *core.Message) error {
	m.logger.Debug("bus receive", "message_id", msg.ID, "from", msg.From, "to", msg.To, "kind", string(msg.Kind), "type", msg.Type())
	return nil
}

// AuthMiddleware rejects sends from unknown sender ids. An empty allow-list
// permits everyone; senders added later via Allow are accepted immediately.
type AuthMiddleware struct {
	mu      sync.RWMutex
	allowed map[string]struct{}
}

// NewAuthMiddleware creates the auth stage with an initial allow-list.
func NewAuthMiddleware(senders ...string) *AuthMiddleware {
	m := &AuthMiddleware{allowed: make(map[string]struct{})}
	m.Allow(senders...)
	return m
}

// Allow adds sender ids to the allow-list.
func (m *AuthMiddleware) Allow(senders ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range senders {
		m.allowed[s] = struct{}{}
	}
}

// Revoke removes a sender id from the allow-list.
func (m *AuthMiddleware) Revoke(sender string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.allowed, sender)
}

// Name implements Middleware.
func (m *AuthMiddleware) Name() string { return "auth" }

// OnSend implements Middleware.
func (m *AuthMiddleware) OnSend(msg *core.Message) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.allowed) == 0 {
		return nil
	}
	if _, ok := m.allowed[msg.From]; !ok {
		return fmt.Errorf("sender %q not allowed", msg.From)
	}
	return nil
}

// OnReceive implements Middleware.
func (m *AuthMiddleware) OnReceive(*core.Message) error { return nil }

// RateLimitMiddleware enforces a per-sender token bucket on sends.
type RateLimitMiddleware struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimitMiddleware creates the rate limiting stage allowing
// perSecond sends per sender with the given burst.
func NewRateLimitMiddleware(perSecond float64, burst int) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Name implements Middleware.
func (m *RateLimitMiddleware) Name() string { return "ratelimit" }

// OnSend implements Middleware.
func (m *RateLimitMiddleware) OnSend(msg *core.Message) error {
	m.mu.Lock()
	lim, ok := m.limiters[msg.From]
	if !ok {
		lim = rate.NewLimiter(m.limit, m.burst)
		m.limiters[msg.From] = lim
	}
	m.mu.Unlock()

	if !lim.Allow() {
		return fmt.Errorf("rate limit exceeded for sender %q", msg.From)
	}
	return nil
}

// OnReceive implements Middleware.
func (m *RateLimitMiddleware) OnReceive(*core.Message) error { return nil }

const headerEncoding = "content-encoding"

// CompressionMiddleware gzips payloads above a size threshold on send and
// transparently restores them on receive. The compressed bytes travel as a
// JSON base64 string so the payload stays valid JSON in transit.
type CompressionMiddleware struct {
	threshold int
}

// NewCompressionMiddleware creates the compression stage. Payloads of
// threshold bytes or fewer pass through untouched.
func NewCompressionMiddleware(threshold int) *CompressionMiddleware {
	if threshold <= 0 {
		threshold = 1 << 10
	}
	return &CompressionMiddleware{threshold: threshold}
}

// Name implements Middleware.
func (m *CompressionMiddleware) Name() string { return "compression" }

// OnSend implements Middleware.
func (m *CompressionMiddleware) OnSend(msg *core.Message) error {
	if len(msg.Payload) <= m.threshold {
		return nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(msg.Payload); err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}

	encoded, err := json.Marshal(buf.Bytes())
	if err != nil {
		return fmt.Errorf("encode compressed payload: %w", err)
	}

	msg.Payload = encoded
	if msg.Headers == nil {
		msg.Headers = map[string]string{}
	}
	msg.Headers[headerEncoding] = "gzip"
	return nil
}

// OnReceive implements Middleware.
func (m *CompressionMiddleware) OnReceive(msg *core.Message) error {
	if msg.Headers[headerEncoding] != "gzip" {
		return nil
	}

	var compressed []byte
	if err := json.Unmarshal(msg.Payload, &compressed); err != nil {
		return fmt.Errorf("decode compressed payload: %w", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("decompress payload: %w", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("decompress payload: %w", err)
	}
	if err := zr.Close(); err != nil {
		return fmt.Errorf("decompress payload: %w", err)
	}

	msg.Payload = raw
	delete(msg.Headers, headerEncoding)
	return nil
}
