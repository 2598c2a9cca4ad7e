package transport

import (
	"fmt"
	"sync"
	"time"

	"mdbcashless/mdb"
)

// ResponseWindow is the default wall-clock budget for sampling an
// ACK/NACK/RET reply after a data-carrying response.
const ResponseWindow = 5 * time.Millisecond

// Handler receives frames reassembled by a Communicator and addressed to
// this device. cashless.Device implements this interface; Communicator
// never imports the cashless package, keeping the dependency one-way so the
// transport layer stays usable without any particular peripheral wired to
// it.
type Handler interface {
	HandleFrame(frame *Frame)
}

// Options configures a Communicator.
type Options struct {
	// Address is used only for the shutdown drain in Close: it lets the
	// protocol task recognize a frame addressed to this device without
	// depending on the cashless package. Defaults to mdb.DefaultAddress.
	Address byte

	// ResponseWindow overrides the 5 ms ACK-window default.
	ResponseWindow time.Duration
}

// Communicator owns the serial Port and drives the protocol task: it
// reassembles frames, dispatches them to a Handler, and performs the
// synchronous transmit+handshake exchange. It also owns the OutboundQueue
// so FlushOnPoll can coalesce and deliver queued messages.
type Communicator struct {
	port        Port
	address     byte
	window      time.Duration
	reassembler *Reassembler
	queue       *OutboundQueue

	handlerMu sync.RWMutex
	handler   Handler

	sendMu sync.Mutex

	pendingMu sync.Mutex
	pending   []*Frame

	exit chan struct{}
	done chan struct{}
}

// NewCommunicator returns a Communicator ready to have a Handler attached
// and Run started.
func NewCommunicator(port Port, opts Options) *Communicator {
	address := opts.Address
	if address == 0 {
		address = mdb.DefaultAddress
	}
	window := opts.ResponseWindow
	if window <= 0 {
		window = ResponseWindow
	}
	return &Communicator{
		port:        port,
		address:     address,
		window:      window,
		reassembler: NewReassembler(),
		queue:       NewOutboundQueue(),
		exit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// SetHandler attaches the frame handler. Must be called before Run.
func (c *Communicator) SetHandler(h Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = h
}

func (c *Communicator) dispatch(frame *Frame) {
	c.handlerMu.RLock()
	h := c.handler
	c.handlerMu.RUnlock()
	if h != nil {
		h.HandleFrame(frame)
	}
}

// Run opens the port and loops reading symbols, reassembling frames, and
// dispatching them to the handler until Close is called. It is meant to
// run on its own goroutine — the sole owner of the serial port; nothing
// else may call Port methods while Run is active.
func (c *Communicator) Run() error {
	defer close(c.done)

	if err := c.port.Open(); err != nil {
		return fmt.Errorf("mdb: opening transport: %w", err)
	}

	for {
		select {
		case <-c.exit:
			return c.shutdown()
		default:
		}

		symbols, err := c.port.ReadSymbols()
		if err != nil {
			logger("mdb: read error: " + err.Error())
			continue
		}

		for _, sym := range symbols {
			if frame, ok := c.reassembler.Feed(sym); ok {
				c.dispatch(frame)
			}
		}
	}
}

// Close signals the protocol task to stop. Shutdown stops reading, drains
// pending frames until one addressed to this device appears, transmits
// JUST_RESET, then releases the port.
func (c *Communicator) Close() {
	select {
	case <-c.exit:
		// already closed
	default:
		close(c.exit)
	}
	<-c.done
}

func (c *Communicator) shutdown() error {
	for {
		symbols, err := c.port.ReadSymbols()
		if err != nil {
			break
		}
		addressed := false
		for _, sym := range symbols {
			if frame, ok := c.reassembler.Feed(sym); ok && frame.Address == c.address {
				addressed = true
			}
		}
		if addressed {
			break
		}
	}
	c.sendMu.Lock()
	_, _ = c.sendWithHandshake(mdb.JustReset)
	c.sendMu.Unlock()
	return c.port.Close()
}

// HasQueued reports whether any outbound message is waiting to flush.
func (c *Communicator) HasQueued() bool {
	return c.queue.HasQueued()
}

// Enqueue appends a message to the outbound queue.
func (c *Communicator) Enqueue(msg *Message) error {
	return c.queue.Enqueue(msg)
}

// SendACK transmits the single-byte ACK. ACK/NACK sent by this device are
// bare symbols with no further framing and never expect an acknowledgement
// of their own in return.
func (c *Communicator) SendACK() error {
	return c.sendRaw(Symbol{Data: mdb.ACK, Mode: true})
}

// SendNACK transmits the single-byte NACK.
func (c *Communicator) SendNACK() error {
	return c.sendRaw(Symbol{Data: mdb.NACK, Mode: true})
}

func (c *Communicator) sendRaw(sym Symbol) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.port.WriteSymbols([]Symbol{sym}); err != nil {
		return fmt.Errorf("mdb: writing symbol: %w", err)
	}
	for c.port.Busy() {
	}
	return nil
}

// SendReply transmits a data-carrying response and runs the ACK/NACK/RET
// handshake, returning whether the VMC acknowledged it.
func (c *Communicator) SendReply(payload []byte) (delivered bool, err error) {
	c.sendMu.Lock()
	delivered, err = c.sendWithHandshake(payload)
	c.sendMu.Unlock()
	c.dispatchPending()
	return delivered, err
}

// FlushOnPoll drains the maximal FIFO prefix of the outbound queue that
// fits within mdb.MaxResponseLength bytes, transmits it as one response,
// and resolves each message's delivery callback with the outcome. It
// returns flushed=false if the queue was empty (the caller should ACK
// instead).
func (c *Communicator) FlushOnPoll() (flushed bool, err error) {
	batch := c.queue.drainBatch()
	if len(batch) == 0 {
		return false, nil
	}

	payload := make([]byte, 0, mdb.MaxResponseLength)
	for _, m := range batch {
		payload = append(payload, m.Payload...)
	}

	c.sendMu.Lock()
	delivered, sendErr := c.sendWithHandshake(payload)
	c.sendMu.Unlock()
	c.dispatchPending()

	if delivered {
		for _, m := range batch {
			m.deliver(true)
		}
		return true, sendErr
	}

	var toRequeue []*Message
	for _, m := range batch {
		if m.deliver(false) {
			toRequeue = append(toRequeue, m)
		}
	}
	c.queue.requeueFront(toRequeue)
	return true, sendErr
}

// sendWithHandshake transmits payload and samples the receive line for up
// to the response window. Must be called with sendMu held.
func (c *Communicator) sendWithHandshake(payload []byte) (bool, error) {
	if err := c.port.WriteSymbols(EncodeFrame(payload)); err != nil {
		return false, fmt.Errorf("mdb: writing frame: %w", err)
	}
	for c.port.Busy() {
	}

	deadline := c.port.NowNano() + c.window.Nanoseconds()
	for c.port.NowNano() < deadline {
		symbols, err := c.port.ReadSymbols()
		if err != nil {
			return false, fmt.Errorf("mdb: reading ack window: %w", err)
		}
		if len(symbols) == 0 {
			continue
		}

		first := symbols[0]
		switch first.Data {
		case mdb.ACK:
			c.feedSurplus(symbols[1:])
			return true, nil
		case mdb.RET:
			c.feedSurplus(symbols[1:])
			return c.sendWithHandshake(payload)
		case mdb.NACK:
			c.feedSurplus(symbols[1:])
			return false, nil
		default:
			// No ACK/NACK/RET arrived; this burst is the start of the
			// next VMC command. Feed it all back and assume NACK.
			c.feedSurplus(symbols)
			return false, nil
		}
	}
	return false, nil // no reply within the response window => treat as NACK
}

// feedSurplus pushes bytes that arrived alongside (or instead of) an
// ACK/NACK/RET into the reassembler. Completed frames are queued rather
// than dispatched immediately, since feedSurplus runs while sendMu is
// still held — dispatching here could re-enter SendReply/SendACK and
// deadlock. dispatchPending runs them once sendMu is released.
func (c *Communicator) feedSurplus(symbols []Symbol) {
	for _, sym := range symbols {
		if frame, ok := c.reassembler.Feed(sym); ok {
			c.pendingMu.Lock()
			c.pending = append(c.pending, frame)
			c.pendingMu.Unlock()
		}
	}
}

func (c *Communicator) dispatchPending() {
	c.pendingMu.Lock()
	frames := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	for _, f := range frames {
		c.dispatch(f)
	}
}
