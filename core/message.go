package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind categorizes point-to-point messages on the bus.
type MessageKind string

const (
	MessageRequest      MessageKind = "request"
	MessageResponse     MessageKind = "response"
	MessageNotification MessageKind = "notification"
	MessageCommand      MessageKind = "command"
	MessageEvent        MessageKind = "event"
)

// Well-known values of the "type" header identifying engine payloads.
const (
	PayloadTaskAssign = "task.assign"
	PayloadTaskResult = "task.result"
	PayloadTaskCancel = "task.cancel"
)

// Message is the unit of point-to-point communication between the engine and
// workers. Ordering is guaranteed per sender-recipient pair only. Headers
// carry transport metadata (payload type, middleware annotations); Payload is
// opaque JSON.
type Message struct {
	ID            string            `json:"id"`
	From          string            `json:"from"`
	To            string            `json:"to"`
	Kind          MessageKind       `json:"kind"`
	Timestamp     time.Time         `json:"timestamp"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// NewMessage creates a bare message from sender to recipient.
func NewMessage(from, to string, kind MessageKind) Message {
	return Message{
		ID:        NewID(),
		From:      from,
		To:        to,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

// Type returns the payload type header, or "" if unset.
func (m Message) Type() string { return m.Headers["type"] }

func (m Message) withType(t string) Message {
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	m.Headers["type"] = t
	return m
}

// NewTaskAssignment builds the request delivering a task to a worker inbox.
// The task id doubles as correlation id for the eventual result.
func NewTaskAssignment(from, to string, task Task) (Message, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return Message{}, fmt.Errorf("%w: encode task: %v", ErrSerialization, err)
	}
	msg := NewMessage(from, to, MessageRequest).withType(PayloadTaskAssign)
	msg.Payload = payload
	msg.CorrelationID = task.ID
	msg.ReplyTo = from
	return msg, nil
}

// NewTaskResultMessage builds the response a worker posts after executing a
// task.
func NewTaskResultMessage(from, to string, result TaskResult) (Message, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("%w: encode result: %v", ErrSerialization, err)
	}
	msg := NewMessage(from, to, MessageResponse).withType(PayloadTaskResult)
	msg.Payload = payload
	msg.CorrelationID = result.TaskID
	return msg, nil
}

// NewCancelCommand builds the cooperative cancellation signal for a running
// task.
func NewCancelCommand(from, to, taskID string) Message {
	msg := NewMessage(from, to, MessageCommand).withType(PayloadTaskCancel)
	msg.CorrelationID = taskID
	return msg
}

// DecodeTask extracts the Task from a task.assign message.
func (m Message) DecodeTask() (Task, error) {
	if m.Type() != PayloadTaskAssign {
		return Task{}, fmt.Errorf("%w: message %s is %q, not %q", ErrSerialization, m.ID, m.Type(), PayloadTaskAssign)
	}
	var task Task
	if err := json.Unmarshal(m.Payload, &task); err != nil {
		return Task{}, fmt.Errorf("%w: decode task: %v", ErrSerialization, err)
	}
	return task, nil
}

// DecodeTaskResult extracts the TaskResult from a task.result message.
func (m Message) DecodeTaskResult() (TaskResult, error) {
	if m.Type() != PayloadTaskResult {
		return TaskResult{}, fmt.Errorf("%w: message %s is %q, not %q", ErrSerialization, m.ID, m.Type(), PayloadTaskResult)
	}
	var result TaskResult
	if err := json.Unmarshal(m.Payload, &result); err != nil {
		return TaskResult{}, fmt.Errorf("%w: decode result: %v", ErrSerialization, err)
	}
	return result, nil
}

// EventKind categorizes broadcast events.
type EventKind string

const (
	EventShutdown           EventKind = "shutdown"
	EventConfigChanged      EventKind = "config-changed"
	EventHealthUpdate       EventKind = "health-update"
	EventWorkerRegistered   EventKind = "worker-registered"
	EventWorkerUnregistered EventKind = "worker-unregistered"
	EventWorkerRemoved      EventKind = "worker-removed" // recovery exhausted, worker evicted
	EventCustom             EventKind = "custom"
)

// BroadcastEvent is a system-wide notification fanned out to every
// registered recipient, best effort.
type BroadcastEvent struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	Kind      EventKind       `json:"kind"`
	Name      string          `json:"name,omitempty"` // event name for EventCustom
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewBroadcastEvent creates an event originating from source.
func NewBroadcastEvent(source string, kind EventKind) BroadcastEvent {
	return BroadcastEvent{
		ID:        NewID(),
		Source:    source,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}
