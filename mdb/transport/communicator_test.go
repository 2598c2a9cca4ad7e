package transport

import (
	"testing"

	"mdbcashless/mdb"
)

type recordingHandler struct {
	frames []*Frame
}

func (h *recordingHandler) HandleFrame(f *Frame) {
	h.frames = append(h.frames, f)
}

func TestSendReplyACK(t *testing.T) {
	port := NewFakePort()
	comm := NewCommunicator(port, Options{})
	port.Feed(Symbol{Data: mdb.ACK, Mode: true})

	delivered, err := comm.SendReply(mdb.JustReset)
	if err != nil {
		t.Fatal(err)
	}
	if !delivered {
		t.Fatal("expected ACK to report delivered=true")
	}

	last := port.LastWrite()
	if len(last) != 2 || last[0].Data != mdb.JustReset[0] || !last[1].Mode {
		t.Fatalf("unexpected transmitted waveform: %+v", last)
	}
}

func TestSendReplyNACK(t *testing.T) {
	port := NewFakePort()
	comm := NewCommunicator(port, Options{})
	port.Feed(Symbol{Data: mdb.NACK, Mode: true})

	delivered, err := comm.SendReply(mdb.JustReset)
	if err != nil {
		t.Fatal(err)
	}
	if delivered {
		t.Fatal("expected NACK to report delivered=false")
	}
}

func TestSendReplyTimeoutActsAsNACK(t *testing.T) {
	port := NewFakePort()
	port.SetAutoAdvance(int64(ResponseWindow) + 1)
	comm := NewCommunicator(port, Options{})

	delivered, err := comm.SendReply(mdb.JustReset)
	if err != nil {
		t.Fatal(err)
	}
	if delivered {
		t.Fatal("expected timeout to report delivered=false")
	}
}

func TestSendReplyRetransmitsOnRET(t *testing.T) {
	port := NewFakePort()
	comm := NewCommunicator(port, Options{})
	port.Feed(Symbol{Data: mdb.RET, Mode: true})
	port.Feed(Symbol{Data: mdb.ACK, Mode: true})

	delivered, err := comm.SendReply(mdb.JustReset)
	if err != nil {
		t.Fatal(err)
	}
	if !delivered {
		t.Fatal("expected RET followed by ACK to report delivered=true")
	}
	if len(port.Writes()) != 2 {
		t.Fatalf("expected 2 transmissions (original + retransmit), got %d", len(port.Writes()))
	}
}

func TestSendReplySurplusBytesFeedNextFrame(t *testing.T) {
	port := NewFakePort()
	handler := &recordingHandler{}
	comm := NewCommunicator(port, Options{})
	comm.SetHandler(handler)

	// ACK followed immediately by the next POLL command (header 0x12 =
	// address 0x10 | POLL) in the same burst.
	burst := append([]Symbol{{Data: mdb.ACK, Mode: true}}, InboundFrameSymbols(0x12, 0x12)...)
	port.Feed(burst...)

	delivered, err := comm.SendReply(mdb.JustReset)
	if err != nil {
		t.Fatal(err)
	}
	if !delivered {
		t.Fatal("expected ACK to report delivered=true")
	}
	if len(handler.frames) != 1 || handler.frames[0].Command != mdb.CmdPoll {
		t.Fatalf("expected the surplus POLL frame to be dispatched, got %+v", handler.frames)
	}
}

func TestFlushOnPollCoalescesAndDelivers(t *testing.T) {
	port := NewFakePort()
	comm := NewCommunicator(port, Options{})
	port.Feed(Symbol{Data: mdb.ACK, Mode: true})

	var delivered1, delivered2 bool
	comm.Enqueue(&Message{Payload: mdb.SessionStart, Callback: func(ok bool) bool { delivered1 = ok; return !ok }})
	comm.Enqueue(&Message{Payload: mdb.EndSession, Callback: func(ok bool) bool { delivered2 = ok; return !ok }})

	flushed, err := comm.FlushOnPoll()
	if err != nil {
		t.Fatal(err)
	}
	if !flushed {
		t.Fatal("expected queue to flush")
	}
	if !delivered1 || !delivered2 {
		t.Fatal("expected both messages' callbacks to report delivered=true")
	}
	if comm.HasQueued() {
		t.Fatal("expected queue to be empty after a successful flush")
	}
}

func TestFlushOnPollRequeuesOnNACK(t *testing.T) {
	port := NewFakePort()
	comm := NewCommunicator(port, Options{})
	port.Feed(Symbol{Data: mdb.NACK, Mode: true})

	comm.Enqueue(&Message{Payload: mdb.SessionStart})

	flushed, err := comm.FlushOnPoll()
	if err != nil {
		t.Fatal(err)
	}
	if !flushed {
		t.Fatal("expected queue to attempt a flush")
	}
	if !comm.HasQueued() {
		t.Fatal("expected the message to be requeued after NACK")
	}
}

func TestFlushOnPollEmptyQueueReportsNotFlushed(t *testing.T) {
	port := NewFakePort()
	comm := NewCommunicator(port, Options{})
	flushed, err := comm.FlushOnPoll()
	if err != nil {
		t.Fatal(err)
	}
	if flushed {
		t.Fatal("expected FlushOnPoll on an empty queue to report flushed=false")
	}
}
