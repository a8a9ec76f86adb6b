// Package bus implements the in-process message bus connecting the manager,
// the scheduler and the workers: point-to-point delivery into per-worker
// unbounded inboxes, best-effort broadcast, named topics and an ordered
// middleware pipeline wrapping send and receive.
//
// Delivery guarantees are deliberately narrow. Ordering holds per
// sender-recipient pair only; there is no cross-sender ordering and no
// exactly-once guarantee for broadcasts racing an unregistration.
// Backpressure is the scheduler's job (capacity limits), not the channel's,
// which is why inboxes are unbounded.
package bus
