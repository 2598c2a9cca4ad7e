package transport

import "fmt"

// ErrMessageTooLarge is returned by Enqueue when a payload exceeds
// mdb.MaxResponseLength bytes.
type ErrMessageTooLarge struct {
	Length int
}

func (e *ErrMessageTooLarge) Error() string {
	return fmt.Sprintf("mdb: enqueued message of %d bytes exceeds max response length", e.Length)
}

// DeliveryCallback is invoked once a message has been transmitted and the
// ACK/NACK/timeout outcome is known. Its return value is consulted only
// when delivered is false: true requeues the message at the head of the
// queue, false discards it. A nil callback behaves as "always requeue".
type DeliveryCallback func(delivered bool) (retry bool)

// Message is a payload queued for transmission together with the action to
// take once delivery succeeds or fails.
type Message struct {
	Payload  []byte
	Callback DeliveryCallback
}

// deliver runs the message's callback (if any) and reports whether the
// message should be re-queued: the return value only matters when
// delivered is false; a missing callback defaults to requeue.
func (m *Message) deliver(delivered bool) bool {
	if m.Callback == nil {
		return !delivered
	}
	return m.Callback(delivered)
}
