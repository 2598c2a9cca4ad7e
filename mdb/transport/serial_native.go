//go:build !rp2040

package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// SerialConfig configures a NativePort.
type SerialConfig struct {
	// Device is the serial device path (e.g. "/dev/ttyACM0", "COM3").
	Device string

	// ReadTimeout bounds how long a single underlying Read blocks. Defaults
	// to 5ms, matching the bus's own ACK response window, so ReadSymbols
	// never stalls the protocol task past one poll cycle.
	ReadTimeout time.Duration
}

// NativePort drives the bus through an attached bridge microcontroller that
// performs the real-time 9600-baud/9-data-bit bit-banging and relays each
// symbol to the host as a plain 2-byte pair: a flags byte (bit 0 is the
// mode bit) followed by the data byte. The split mirrors how the bus
// hardware itself separates realtime bit-timing (the bridge MCU) from
// higher-level framing (the host): this package only ever moves
// already-framed bytes and never bit-times a waveform itself.
type NativePort struct {
	cfg  SerialConfig
	port *serial.Port

	mu      sync.Mutex
	busy    bool
	pending []byte // undecoded bytes left over from a short Read
}

// OpenSerialPort validates cfg and returns a NativePort for the bridge
// device it describes. The device itself is opened later, by Open.
func OpenSerialPort(cfg SerialConfig) (*NativePort, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("mdb: serial device path is required")
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 5 * time.Millisecond
	}
	cfg.ReadTimeout = timeout
	return &NativePort{cfg: cfg}, nil
}

// Open implements Port.
func (p *NativePort) Open() error {
	port, err := serial.OpenPort(&serial.Config{
		Name:        p.cfg.Device,
		Baud:        9600,
		ReadTimeout: p.cfg.ReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("mdb: failed to open serial bridge %s: %w", p.cfg.Device, err)
	}
	p.port = port
	return nil
}

// Close implements Port.
func (p *NativePort) Close() error {
	if p.port == nil {
		return nil
	}
	return p.port.Close()
}

// ReadSymbols implements Port, decoding the bridge's [flags, data] byte
// pairs into Symbols. A pair split across two underlying Reads is carried
// over in pending until its second byte arrives.
func (p *NativePort) ReadSymbols() ([]Symbol, error) {
	buf := make([]byte, 256)
	n, err := p.port.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("mdb: serial read: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, buf[:n]...)

	var out []Symbol
	i := 0
	for ; i+1 < len(p.pending); i += 2 {
		out = append(out, Symbol{Data: p.pending[i+1], Mode: p.pending[i]&0x01 != 0})
	}
	p.pending = p.pending[i:]
	return out, nil
}

// WriteSymbols implements Port, encoding each Symbol as a [flags, data]
// pair for the bridge to re-time onto the bus.
func (p *NativePort) WriteSymbols(symbols []Symbol) error {
	p.mu.Lock()
	p.busy = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.busy = false
		p.mu.Unlock()
	}()

	out := make([]byte, 0, len(symbols)*2)
	for _, s := range symbols {
		var flags byte
		if s.Mode {
			flags = 0x01
		}
		out = append(out, flags, s.Data)
	}
	if _, err := p.port.Write(out); err != nil {
		return fmt.Errorf("mdb: serial write: %w", err)
	}
	return nil
}

// Busy implements Port.
func (p *NativePort) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// NowNano implements Port.
func (p *NativePort) NowNano() int64 {
	return time.Now().UnixNano()
}
