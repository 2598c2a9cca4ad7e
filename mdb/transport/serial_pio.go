//go:build rp2040

package transport

// PIO-backed Port: drives the bus's 9600-baud, 9-data-bit waveform directly
// off two PIO state machines (one shifting symbols out, one sampling them
// in), the same way a hardware UART would, instead of bit-banging it from
// Go. The RX program samples mid-bit at 9600 baud and pushes each 9-bit
// symbol (8 data bits, then the mode bit) into its RX FIFO; the TX program
// does the reverse, shifting a start bit, 9 data/mode bits and a stop bit
// out at the same rate.

import (
	"fmt"
	"machine"
	"time"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// buildRXProgram samples one 9-bit MDB symbol (LSB first) per loop.
func buildRXProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Wait(false, rp2pio.WaitSrcPin, 0).Encode(),  // 0: wait for the falling start bit
		asm.Set(rp2pio.SetDestX, 8).Delay(7).Encode(),   // 1: x = 8 data+mode bits, half-bit delay
		// bit_loop:
		asm.In(rp2pio.InSrcPins, 1).Delay(7).Encode(),   // 2: in pins, 1 [7]
		asm.Jmp(2, rp2pio.JmpXNZeroDec).Encode(),        // 3: jmp x--, bit_loop
		asm.Push(false, true).Encode(),                  // 4: push the assembled symbol
		// .wrap
	}
}

// buildTXProgram shifts one 9-bit symbol out per FIFO word, start and stop
// framing handled by the caller padding the word to 11 bits.
func buildTXProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),                  // 0: pull block
		asm.Set(rp2pio.SetDestX, 10).Encode(),            // 1: x = 11 bits (start+9+stop)
		// bit_loop:
		asm.Out(rp2pio.OutDestPins, 1).Delay(7).Encode(), // 2: out pins, 1 [7]
		asm.Jmp(2, rp2pio.JmpXNZeroDec).Encode(),         // 3: jmp x--, bit_loop
		// .wrap
	}
}

const (
	pioOrigin  = 0
	pioClkDiv  = 1302 // 125MHz / (9600 * 10 samples/bit) rounded
)

// PIOPort drives the bus using dedicated RX/TX PIO state machines on PIO0.
type PIOPort struct {
	pio    *rp2pio.PIO
	rxSM   rp2pio.StateMachine
	txSM   rp2pio.StateMachine
	rxPin  machine.Pin
	txPin  machine.Pin
	txBusy bool
}

// NewPIOPort claims two state machines on PIO0 for the given pins.
func NewPIOPort(rxPin, txPin machine.Pin) *PIOPort {
	pioHW := rp2pio.PIO0
	return &PIOPort{
		pio:   pioHW,
		rxSM:  pioHW.StateMachine(0),
		txSM:  pioHW.StateMachine(1),
		rxPin: rxPin,
		txPin: txPin,
	}
}

// Open implements Port: loads and starts both PIO programs.
func (p *PIOPort) Open() error {
	p.rxSM.TryClaim()
	p.txSM.TryClaim()

	rxProgram := buildRXProgram()
	rxOffset, err := p.pio.AddProgram(rxProgram, pioOrigin)
	if err != nil {
		return fmt.Errorf("mdb: load rx program: %w", err)
	}
	txProgram := buildTXProgram()
	txOffset, err := p.pio.AddProgram(txProgram, pioOrigin+uint8(len(rxProgram)))
	if err != nil {
		return fmt.Errorf("mdb: load tx program: %w", err)
	}

	p.rxPin.Configure(machine.PinConfig{Mode: p.pio.PinMode()})
	p.txPin.Configure(machine.PinConfig{Mode: p.pio.PinMode()})

	rxCfg := rp2pio.DefaultStateMachineConfig()
	rxCfg.SetInPins(p.rxPin)
	rxCfg.SetInShift(true, true, 9)
	rxCfg.SetWrap(rxOffset+uint8(len(rxProgram))-1, rxOffset)
	rxCfg.SetClkDivIntFrac(pioClkDiv, 0)
	p.rxSM.Init(rxOffset, rxCfg)
	p.rxSM.SetPindirsConsecutive(p.rxPin, 1, false)

	txCfg := rp2pio.DefaultStateMachineConfig()
	txCfg.SetOutPins(p.txPin, 1)
	txCfg.SetOutShift(true, true, 32)
	txCfg.SetWrap(txOffset+uint8(len(txProgram))-1, txOffset)
	txCfg.SetClkDivIntFrac(pioClkDiv, 0)
	p.txSM.Init(txOffset, txCfg)
	p.txSM.SetPindirsConsecutive(p.txPin, 1, true)

	p.rxSM.SetEnabled(true)
	p.txSM.SetEnabled(true)
	return nil
}

// Close implements Port.
func (p *PIOPort) Close() error {
	p.rxSM.SetEnabled(false)
	p.txSM.SetEnabled(false)
	return nil
}

// ReadSymbols implements Port, draining whatever the RX FIFO has
// accumulated since the last call without blocking.
func (p *PIOPort) ReadSymbols() ([]Symbol, error) {
	var out []Symbol
	for !p.rxSM.IsRxFIFOEmpty() {
		word := p.rxSM.RxGet()
		out = append(out, Symbol{Data: byte(word), Mode: word&0x100 != 0})
	}
	return out, nil
}

// WriteSymbols implements Port, framing each symbol with a start and stop
// bit and pushing it to the TX FIFO.
func (p *PIOPort) WriteSymbols(symbols []Symbol) error {
	p.txBusy = true
	defer func() { p.txBusy = false }()

	for _, s := range symbols {
		word := uint32(0)<<0 | uint32(1)<<10 // start=0, stop=1, bits 1-9 filled below
		word |= uint32(s.Data) << 1
		if s.Mode {
			word |= 1 << 9
		}
		for p.txSM.IsTxFIFOFull() {
			time.Sleep(time.Microsecond)
		}
		p.txSM.TxPut(word)
	}
	return nil
}

// Busy implements Port.
func (p *PIOPort) Busy() bool {
	return p.txBusy || !p.txSM.IsTxFIFOEmpty()
}

// NowNano implements Port.
func (p *PIOPort) NowNano() int64 {
	return time.Now().UnixNano()
}
