package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/logging"
)

var (
	// ErrRecipientNotFound is returned when sending to an unregistered id.
	ErrRecipientNotFound = errors.New("recipient not found")
	// ErrChannelClosed is returned by Receive after the inbox was
	// unregistered.
	ErrChannelClosed = errors.New("channel closed")
	// ErrDeliveryFailed wraps middleware rejections and payload failures
	// surfaced to the sender.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// headerBroadcast marks messages wrapping a BroadcastEvent; headerTopic
// carries the topic name of a publish.
const (
	headerBroadcast = "event.broadcast"
	headerTopic     = "topic"
)

// Options configures a Bus.
type Options struct {
	// Middleware is the ordered pipeline applied to every message: OnSend
	// in slice order before enqueue, OnReceive in slice order on dequeue.
	Middleware []Middleware

	// Logger defaults to NoOp when nil.
	Logger logging.Logger
}

// Bus routes messages between registered recipients. It is safe for
// concurrent use.
type Bus struct {
	mu         sync.RWMutex
	inboxes    map[string]*Inbox
	topics     map[string]map[string]struct{}
	middleware []Middleware
	logger     logging.Logger
}

// New creates an empty bus.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Bus{
		inboxes:    make(map[string]*Inbox),
		topics:     make(map[string]map[string]struct{}),
		middleware: opts.Middleware,
		logger:     opts.Logger,
	}
}

// Register creates an inbox for the given recipient id and returns its
// handle. Registering an existing id returns the existing handle.
func (b *Bus) Register(id string) *Inbox {
	b.mu.Lock()
	defer b.mu.Unlock()
	if in, ok := b.inboxes[id]; ok {
		return in
	}
	in := newInbox(id, b)
	b.inboxes[id] = in
	b.logger.Debug("bus recipient registered", "recipient", id)
	return in
}

// Unregister drains and discards the recipient's inbox and removes all of
// its topic subscriptions. Subsequent sends to the id fail with
// ErrRecipientNotFound.
func (b *Bus) Unregister(id string) {
	b.mu.Lock()
	in, ok := b.inboxes[id]
	delete(b.inboxes, id)
	for _, subs := range b.topics {
		delete(subs, id)
	}
	b.mu.Unlock()

	if ok {
		in.close()
		b.logger.Debug("bus recipient unregistered", "recipient", id)
	}
}

// Registered reports whether the id currently has an inbox.
func (b *Bus) Registered(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.inboxes[id]
	return ok
}

// Send delivers a message to its recipient's inbox. The send side of the
// middleware pipeline runs first; a rejection aborts delivery and the error
// surfaces to the caller.
func (b *Bus) Send(msg core.Message) error {
	for _, mw := range b.middleware {
		if err := mw.OnSend(&msg); err != nil {
			return fmt.Errorf("%w: middleware %s: %v", ErrDeliveryFailed, mw.Name(), err)
		}
	}

	b.mu.RLock()
	in, ok := b.inboxes[msg.To]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrRecipientNotFound, msg.To)
	}
	if !in.push(msg) {
		return fmt.Errorf("%w: %s", ErrRecipientNotFound, msg.To)
	}
	return nil
}

// Broadcast fans an event out to every currently registered recipient, best
// effort. Recipients racing an unregistration may be skipped.
func (b *Bus) Broadcast(ev core.BroadcastEvent) {
	b.deliverEvent(ev, b.snapshotRecipients(), "")
}

// Subscribe adds the recipient to a named topic. The recipient must be
// registered.
func (b *Bus) Subscribe(topic, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inboxes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRecipientNotFound, id)
	}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]struct{})
		b.topics[topic] = subs
	}
	subs[id] = struct{}{}
	return nil
}

// Unsubscribe removes the recipient from a topic.
func (b *Bus) Unsubscribe(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics[topic], id)
}

// Publish fans an event out to the topic's subscribers only.
func (b *Bus) Publish(topic string, ev core.BroadcastEvent) {
	b.mu.RLock()
	ids := make([]string, 0, len(b.topics[topic]))
	for id := range b.topics[topic] {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	b.deliverEvent(ev, ids, topic)
}

func (b *Bus) snapshotRecipients() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.inboxes))
	for id := range b.inboxes {
		ids = append(ids, id)
	}
	return ids
}

func (b *Bus) deliverEvent(ev core.BroadcastEvent, ids []string, topic string) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("broadcast event encode failed", "event", string(ev.Kind), "error", err)
		return
	}

	failed := 0
	for _, id := range ids {
		msg := core.NewMessage(ev.Source, id, core.MessageEvent)
		msg.Payload = payload
		msg.Headers = map[string]string{"type": headerBroadcast}
		if topic != "" {
			msg.Headers[headerTopic] = topic
		}
		if err := b.Send(msg); err != nil {
			failed++
		}
	}
	if failed > 0 {
		b.logger.Warn("broadcast delivery incomplete", "event", string(ev.Kind), "failed", failed, "total", len(ids))
	}
}

// processReceive runs the receive side of the pipeline; called by Inbox.
func (b *Bus) processReceive(msg *core.Message) error {
	for _, mw := range b.middleware {
		if err := mw.OnReceive(msg); err != nil {
			return fmt.Errorf("%w: middleware %s: %v", ErrDeliveryFailed, mw.Name(), err)
		}
	}
	return nil
}

// IsBroadcast reports whether the message wraps a BroadcastEvent.
func IsBroadcast(msg core.Message) bool { return msg.Type() == headerBroadcast }

// DecodeEvent extracts the BroadcastEvent from a broadcast message.
func DecodeEvent(msg core.Message) (core.BroadcastEvent, error) {
	if !IsBroadcast(msg) {
		return core.BroadcastEvent{}, fmt.Errorf("%w: message %s is not a broadcast", ErrDeliveryFailed, msg.ID)
	}
	var ev core.BroadcastEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return core.BroadcastEvent{}, fmt.Errorf("%w: decode event: %v", ErrDeliveryFailed, err)
	}
	return ev, nil
}
