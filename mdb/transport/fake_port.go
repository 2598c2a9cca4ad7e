package transport

import "sync"

// FakePort is a deterministic in-memory Port for tests and the simulator's
// scripted demo mode: a test feeds inbound symbols with Feed and inspects
// outbound traffic with LastWrite, with no real serial device involved.
type FakePort struct {
	mu          sync.Mutex
	batches     [][]Symbol
	writes      [][]Symbol
	busy        bool
	nowNano     int64
	autoAdvance int64
	opened      bool
	closed      bool
	onWrite     func([]Symbol)
}

// SetWriteObserver installs a callback invoked with every transmitted
// waveform, in addition to the normal Writes()/LastWrite() recording. Used
// by the simulator's --dump-frames mode to print traffic as it happens;
// nil disables it. This never taps a real bus (the fake port only ever
// reflects traffic the simulator itself generates), per the Non-goal on
// bus sniffing.
func (p *FakePort) SetWriteObserver(f func([]Symbol)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWrite = f
}

// NewFakePort returns a FakePort ready for use; Open need not be called by
// tests that only want to drive Reassembler/Communicator logic directly.
func NewFakePort() *FakePort {
	return &FakePort{}
}

func (p *FakePort) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = true
	return nil
}

func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// ReadSymbols pops and returns the oldest batch queued by Feed, or nil if
// none is waiting. Each Feed call represents one underlying read() burst,
// so two separate Feed calls (e.g. RET then, later, ACK) surface as two
// separate ReadSymbols results rather than being coalesced together — only
// symbols fed by a single Feed call are seen as one burst, matching how
// "surplus bytes in the same burst" is distinguished from a later reply
// arriving on a subsequent read. Each call also advances the fake clock by
// the auto-advance step configured with SetAutoAdvance, simulating
// wall-clock time passing while a real transport polls for incoming bytes.
func (p *FakePort) ReadSymbols() ([]Symbol, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nowNano += p.autoAdvance
	if len(p.batches) == 0 {
		return nil, nil
	}
	out := p.batches[0]
	p.batches = p.batches[1:]
	return out, nil
}

// SetAutoAdvance configures how many nanoseconds ReadSymbols advances the
// fake clock by on every call, letting a test drive the 5 ms ACK-window
// timeout to completion deterministically without a real sleep.
func (p *FakePort) SetAutoAdvance(ns int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoAdvance = ns
}

// WriteSymbols records the transmitted waveform for later inspection.
func (p *FakePort) WriteSymbols(symbols []Symbol) error {
	p.mu.Lock()
	cp := make([]Symbol, len(symbols))
	copy(cp, symbols)
	p.writes = append(p.writes, cp)
	onWrite := p.onWrite
	p.mu.Unlock()
	if onWrite != nil {
		onWrite(cp)
	}
	return nil
}

func (p *FakePort) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// SetBusy lets a test simulate a still-in-flight transmission.
func (p *FakePort) SetBusy(busy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = busy
}

func (p *FakePort) NowNano() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nowNano
}

// Advance moves the fake clock forward by ns nanoseconds, used to drive
// the 5 ms ACK-window timeout deterministically in tests.
func (p *FakePort) Advance(ns int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nowNano += ns
}

// Feed queues symbols as a single burst for a future ReadSymbols call to
// return together, simulating one read() worth of bytes arriving from the
// VMC. Call Feed once per desired burst; call it multiple times to
// simulate bytes that arrive across separate reads (e.g. a RET now and an
// ACK on a later poll of the line).
func (p *FakePort) Feed(symbols ...Symbol) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]Symbol, len(symbols))
	copy(cp, symbols)
	p.batches = append(p.batches, cp)
}

// InboundFrameSymbols builds the 9-bit symbol sequence for a complete
// inbound VMC frame (header..checksum): only the first byte carries the
// mode bit for frames coming from the bus master — the trailing checksum
// does not.
func InboundFrameSymbols(frameBytes ...byte) []Symbol {
	out := make([]Symbol, len(frameBytes))
	for i, b := range frameBytes {
		out[i] = Symbol{Data: b, Mode: i == 0}
	}
	return out
}

// Writes returns every WriteSymbols call recorded so far.
func (p *FakePort) Writes() [][]Symbol {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]Symbol, len(p.writes))
	copy(out, p.writes)
	return out
}

// LastWrite returns the most recent transmitted waveform, or nil if
// nothing has been written yet.
func (p *FakePort) LastWrite() []Symbol {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.writes) == 0 {
		return nil
	}
	return p.writes[len(p.writes)-1]
}
