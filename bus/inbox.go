package bus

import (
	"container/list"
	"context"
	"sync"

	"github.com/hupe1980/agentpool/core"
)

// Inbox is an unbounded FIFO mailbox for one recipient. Sends never block;
// receives block until a message arrives, the context is cancelled or the
// inbox is closed.
type Inbox struct {
	owner string
	bus   *Bus

	mu     sync.Mutex
	queue  *list.List
	notify chan struct{}
	closed bool
}

func newInbox(owner string, b *Bus) *Inbox {
	return &Inbox{
		owner:  owner,
		bus:    b,
		queue:  list.New(),
		notify: make(chan struct{}, 1),
	}
}

// Owner returns the recipient id this inbox belongs to.
func (in *Inbox) Owner() string { return in.owner }

// push enqueues a message. Returns false if the inbox is closed.
func (in *Inbox) push(msg core.Message) bool {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return false
	}
	in.queue.PushBack(msg)
	in.mu.Unlock()

	select {
	case in.notify <- struct{}{}:
	default:
	}
	return true
}

// Receive returns the next message, running the receive side of the
// middleware pipeline on it. Messages the pipeline rejects are logged and
// dropped; the loop moves on to the next one. Receive blocks until a
// message is available, ctx is done, or the inbox is closed
// (ErrChannelClosed).
func (in *Inbox) Receive(ctx context.Context) (core.Message, error) {
	for {
		in.mu.Lock()
		if front := in.queue.Front(); front != nil {
			in.queue.Remove(front)
			in.mu.Unlock()
			msg := front.Value.(core.Message)
			if err := in.bus.processReceive(&msg); err != nil {
				in.bus.logger.Warn("Dropping rejected message",
					"recipient", in.owner,
					"message_id", msg.ID,
					"from", msg.From,
					"error", err,
				)
				continue
			}
			return msg, nil
		}
		closed := in.closed
		in.mu.Unlock()

		if closed {
			return core.Message{}, ErrChannelClosed
		}

		select {
		case <-ctx.Done():
			return core.Message{}, ctx.Err()
		case <-in.notify:
		}
	}
}

// Len returns the number of queued messages.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.queue.Len()
}

// close drains and discards all pending messages and wakes any blocked
// receiver.
func (in *Inbox) close() {
	in.mu.Lock()
	in.closed = true
	in.queue.Init()
	in.mu.Unlock()

	select {
	case in.notify <- struct{}{}:
	default:
	}
}
