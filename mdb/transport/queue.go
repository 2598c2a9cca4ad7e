package transport

import (
	"sync"

	"mdbcashless/mdb"
)

// OutboundQueue is the mutex-guarded FIFO of messages awaiting
// transmission. Enqueue/HasQueued are safe to call from the application
// goroutine while the protocol goroutine drains the queue on every POLL.
type OutboundQueue struct {
	mu       sync.Mutex
	messages []*Message
}

// NewOutboundQueue returns an empty OutboundQueue.
func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{}
}

// Enqueue appends msg to the tail of the queue. It rejects payloads larger
// than mdb.MaxResponseLength — an oversize message is a programmer error,
// not a runtime condition to recover from.
func (q *OutboundQueue) Enqueue(msg *Message) error {
	if len(msg.Payload) > mdb.MaxResponseLength {
		return &ErrMessageTooLarge{Length: len(msg.Payload)}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

// HasQueued reports whether any message is waiting.
func (q *OutboundQueue) HasQueued() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages) > 0
}

// drainBatch removes and returns the maximal FIFO prefix whose combined
// payload length fits within mdb.MaxResponseLength bytes. It returns nil
// if the queue is empty.
func (q *OutboundQueue) drainBatch() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return nil
	}

	total := 0
	n := 0
	for n < len(q.messages) {
		l := len(q.messages[n].Payload)
		if n > 0 && total+l > mdb.MaxResponseLength {
			break
		}
		total += l
		n++
	}

	batch := make([]*Message, n)
	copy(batch, q.messages[:n])
	q.messages = q.messages[n:]
	return batch
}

// requeueFront re-prepends msgs to the head of the queue, preserving their
// relative order, so the next flush retries them first.
func (q *OutboundQueue) requeueFront(msgs []*Message) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	merged := make([]*Message, 0, len(msgs)+len(q.messages))
	merged = append(merged, msgs...)
	merged = append(merged, q.messages...)
	q.messages = merged
}
