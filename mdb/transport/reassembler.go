package transport

import "mdbcashless/mdb"

// Frame is a fully reassembled, checksum-verified MDB frame.
type Frame struct {
	// Address is the 5-bit peripheral address packed into b[0] & 0xF8.
	Address byte

	// Command is the 3-bit command packed into b[0] & 0x07.
	Command mdb.Command

	// Payload is b[1:N-1] — everything between the header byte and the
	// trailing checksum. For VEND frames, Payload[0] is the subcommand.
	Payload []byte

	// Raw is the complete frame including the header byte and checksum,
	// kept for callers that index by absolute byte offset.
	Raw []byte
}

// Reassembler rebuilds frames from a stream of 9-bit symbols, one symbol
// at a time: a mode-bit-set symbol starts a new frame, the command (and,
// for VEND, the subcommand) fixes the expected length, and a checksum
// mismatch silently discards the frame. A single Reassembler must only
// ever be fed by one goroutine.
type Reassembler struct {
	pending     bool
	accum       []byte
	checksum    byte
	expectedLen int
}

// NewReassembler returns a Reassembler ready to receive symbols.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed processes one received symbol and returns a completed Frame once
// enough symbols have arrived to fill out a checksum-valid frame. It
// returns (nil, false) while a frame is still in progress or was silently
// discarded (bad checksum, unknown command, or unknown VEND subcommand).
func (r *Reassembler) Feed(sym Symbol) (*Frame, bool) {
	if sym.Mode {
		r.accum = r.accum[:0]
		r.pending = true
		r.checksum = 0
		r.expectedLen = 2
	}

	if !r.pending || len(r.accum) >= r.expectedLen {
		return nil, false
	}

	r.accum = append(r.accum, sym.Data)

	if len(r.accum) == 2 {
		cmd := mdb.Command(r.accum[0] & mdb.CommandMask)
		switch cmd {
		case mdb.CmdVend:
			sub := mdb.Subcommand(r.accum[1])
			length, ok := mdb.VendLengths[sub]
			if !ok {
				logger("mdb: unknown VEND subcommand, dropping frame")
				r.reset()
				return nil, false
			}
			r.expectedLen = length
		default:
			length, ok := mdb.FixedLengths[cmd]
			if !ok {
				logger("mdb: unknown command, dropping frame")
				r.reset()
				return nil, false
			}
			r.expectedLen = length
		}
	}

	if len(r.accum) < r.expectedLen {
		r.checksum += sym.Data
		return nil, false
	}

	// Trailing byte reached: accum[len-1] is the checksum, not counted
	// into the running sum.
	r.pending = false
	trailer := r.accum[len(r.accum)-1]
	if trailer != r.checksum {
		logger("mdb: checksum mismatch, dropping frame")
		return nil, false
	}

	raw := make([]byte, len(r.accum))
	copy(raw, r.accum)

	frame := &Frame{
		Address: raw[0] & mdb.AddressMask,
		Command: mdb.Command(raw[0] & mdb.CommandMask),
		Payload: raw[1 : len(raw)-1],
		Raw:     raw,
	}
	return frame, true
}

func (r *Reassembler) reset() {
	r.pending = false
	r.accum = r.accum[:0]
	r.checksum = 0
	r.expectedLen = 2
}
