package transport

import "testing"

func TestOutboundQueueRejectsOversize(t *testing.T) {
	q := NewOutboundQueue()
	err := q.Enqueue(&Message{Payload: make([]byte, 37)})
	if err == nil {
		t.Fatal("expected oversize message to be rejected")
	}
}

func TestOutboundQueueCoalescesUpToLimit(t *testing.T) {
	q := NewOutboundQueue()
	lengths := []int{10, 10, 10, 10}
	for _, l := range lengths {
		if err := q.Enqueue(&Message{Payload: make([]byte, l)}); err != nil {
			t.Fatal(err)
		}
	}

	batch := q.drainBatch()
	// First three messages total 30 bytes; a fourth would push to 40 > 36.
	if len(batch) != 3 {
		t.Fatalf("expected 3 coalesced messages, got %d", len(batch))
	}
	if !q.HasQueued() {
		t.Fatal("expected the fourth message to remain queued")
	}
}

func TestOutboundQueueAlwaysDrainsAtLeastOne(t *testing.T) {
	q := NewOutboundQueue()
	q.Enqueue(&Message{Payload: make([]byte, 36)})
	batch := q.drainBatch()
	if len(batch) != 1 {
		t.Fatalf("expected a single maximal message to drain alone, got %d", len(batch))
	}
}

func TestOutboundQueueRequeuePreservesOrder(t *testing.T) {
	q := NewOutboundQueue()
	first := &Message{Payload: []byte{1}}
	second := &Message{Payload: []byte{2}}
	q.Enqueue(first)
	q.Enqueue(second)

	batch := q.drainBatch()
	q.requeueFront(batch)

	requeued := q.drainBatch()
	if len(requeued) != 2 || requeued[0] != first || requeued[1] != second {
		t.Fatalf("requeue did not preserve order: %+v", requeued)
	}
}

func TestMessageDeliverDefaultsToRequeue(t *testing.T) {
	m := &Message{Payload: []byte{1}}
	if !m.deliver(false) {
		t.Error("message with nil callback should request retry on failure")
	}
	if m.deliver(true) {
		t.Error("retry flag should be ignored when delivered is true")
	}
}

func TestMessageDeliverHonorsCallback(t *testing.T) {
	calls := []bool{}
	m := &Message{
		Payload: []byte{1},
		Callback: func(delivered bool) bool {
			calls = append(calls, delivered)
			return false
		},
	}
	if m.deliver(false) {
		t.Error("callback returned false, deliver should report no retry")
	}
	if len(calls) != 1 || calls[0] != false {
		t.Fatalf("callback called with wrong argument: %v", calls)
	}
}
