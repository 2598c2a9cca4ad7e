// Package transport implements the MDB framing layer: 9-bit symbol
// reassembly, checksum verification, the outbound queue, and the
// ACK/NACK/RET response handshake. It consumes a bit-banged serial Port
// and never decides protocol semantics itself — that is cashless.Device's
// job.
package transport

// Symbol is one 9-bit value received or transmitted on the bus: an 8-bit
// data byte plus the mode bit (the 9th bit). Mode=true marks an address
// byte / frame start on the wire.
type Symbol struct {
	Data byte
	Mode bool
}

// Port is the bit-banged serial transport this package consumes. A real
// implementation drives GPIO directly (see the tinygo-tagged PIO backend);
// FakePort provides a deterministic in-memory stand-in for tests.
type Port interface {
	// Open configures the receive line for 9600 baud / 9 data bits and
	// prepares the transmit side. Must be called before ReadSymbols or
	// WriteSymbols.
	Open() error

	// Close releases the underlying GPIO/serial resource.
	Close() error

	// ReadSymbols returns any symbols received since the last call. It
	// does not block past whatever the underlying bit-bang reader does;
	// callers are expected to poll it in a tight loop.
	ReadSymbols() ([]Symbol, error)

	// WriteSymbols transmits a waveform of 9-bit symbols at 9600 baud.
	WriteSymbols(symbols []Symbol) error

	// Busy reports whether a previously started transmission is still in
	// flight.
	Busy() bool

	// NowNano returns a monotonic wall-clock reading in nanoseconds, used
	// to bound the 5 ms ACK window.
	NowNano() int64
}

// EncodeFrame turns a payload into the wire symbols for an outbound MDB
// frame: every payload byte with mode 0, followed by the mod-256 checksum
// with mode 1.
func EncodeFrame(payload []byte) []Symbol {
	out := make([]Symbol, 0, len(payload)+1)
	var checksum byte
	for _, b := range payload {
		out = append(out, Symbol{Data: b, Mode: false})
		checksum += b
	}
	out = append(out, Symbol{Data: checksum, Mode: true})
	return out
}
