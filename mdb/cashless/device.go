package cashless

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"mdbcashless/mdb"
	"mdbcashless/mdb/transport"
)

// defaultDisplayTenths is the DISPLAY_REQUEST duration used when a caller
// passes ms=0, mirroring the 6000 ms default of the reference
// implementation's open_session/update_display operations.
const defaultDisplayTenths = 60

// Options configures a Device.
type Options struct {
	// Address is this peripheral's MDB bus address. Defaults to
	// mdb.DefaultAddress (cashless device #1).
	Address byte
}

// Device implements the MDB Level-01 cashless peripheral state machine. It
// is a transport.Handler: the Communicator it is attached to dispatches
// reassembled frames into HandleFrame on the protocol task's goroutine.
// Application operations (OpenSession, ApproveVend, ...) are safe to call
// from any goroutine.
type Device struct {
	comm    *transport.Communicator
	address byte

	mu         sync.Mutex
	vendReq    *VendRequest
	nextVendID uint64

	atomicState atomic.Int32

	subMu       sync.Mutex
	subscribers map[chan State]struct{}
}

// NewDevice returns a Device in the Reset state, wired as the given
// Communicator's frame handler.
func NewDevice(comm *transport.Communicator, opts Options) *Device {
	address := opts.Address
	if address == 0 {
		address = mdb.DefaultAddress
	}
	d := &Device{
		comm:        comm,
		address:     address,
		subscribers: make(map[chan State]struct{}),
	}
	d.atomicState.Store(int32(Reset))
	comm.SetHandler(d)
	return d
}

// Start (re)initializes the device to the Reset state. The caller is
// responsible for running the attached Communicator's Run loop on its own
// goroutine.
func (d *Device) Start() {
	d.setState(Reset)
}

// Exit stops the protocol task, performing the drain-then-JustReset
// shutdown sequence described in the transport package.
func (d *Device) Exit() {
	d.comm.Close()
}

// State returns the device's current state. Safe for concurrent use; reads
// a plain atomic word rather than taking a lock, per the message-passing
// state design.
func (d *Device) State() State {
	return State(d.atomicState.Load())
}

// VendRequest returns the outstanding vend request, or nil outside the
// Vend state.
func (d *Device) VendRequest() *VendRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vendReq
}

// Subscribe registers for state-change notifications. The returned channel
// receives the new state after every transition (best-effort: a slow
// reader may miss intermediate states but never a stale one, since the
// channel is buffered 1 and only ever holds the most recent state). The
// returned function unregisters the channel.
func (d *Device) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	d.subMu.Lock()
	d.subscribers[ch] = struct{}{}
	d.subMu.Unlock()

	cancel := func() {
		d.subMu.Lock()
		delete(d.subscribers, ch)
		d.subMu.Unlock()
	}
	return ch, cancel
}

func (d *Device) setState(s State) {
	d.atomicState.Store(int32(s))
	d.notify(s)
}

func (d *Device) notify(s State) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for ch := range d.subscribers {
		select {
		case ch <- s:
		default:
			// Drop the stale value sitting in the buffer and retry once;
			// a slow subscriber only ever sees the latest state.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

func (d *Device) setVendRequest(slot uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vendReq = &VendRequest{ID: d.nextVendID, Slot: slot}
	d.nextVendID++
}

func (d *Device) clearVendRequest() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vendReq = nil
}

// enqueue wraps a transport.Message around payload, translating action
// into the delivery callback the transport expects.
func (d *Device) enqueue(payload []byte, action PostSendAction) error {
	err := d.comm.Enqueue(&transport.Message{
		Payload: payload,
		Callback: func(delivered bool) (retry bool) {
			if delivered {
				if action.kind == kindTransitionTo {
					d.setState(action.target)
				}
				return false
			}
			return action.kind == kindTransitionTo || action.kind == kindRequeueOnFail
		},
	})
	if err != nil {
		return fmt.Errorf("cashless: enqueue: %w", err)
	}
	return nil
}

func tenthsOf(ms uint16) byte {
	if ms == 0 {
		return defaultDisplayTenths
	}
	tenths := ms / 100
	if tenths > 255 {
		tenths = 255
	}
	return byte(tenths)
}

// OpenSession enqueues SESSION_START; on successful delivery the device
// moves to SessionIdle. A non-nil display is enqueued alongside it. It is
// a no-op outside the Enabled state.
func (d *Device) OpenSession(display []byte, ms uint16) error {
	if d.State() != Enabled {
		return nil
	}
	if err := d.enqueue(mdb.SessionStart, TransitionTo(SessionIdle)); err != nil {
		return err
	}
	if display != nil {
		return d.enqueue(mdb.DisplayRequest(tenthsOf(ms), display), DoNothing())
	}
	return nil
}

// UpdateDisplay enqueues a DISPLAY_REQUEST. It is a no-op outside
// SessionIdle and Vend.
func (d *Device) UpdateDisplay(content []byte, ms uint16) error {
	switch d.State() {
	case SessionIdle, Vend:
	default:
		return nil
	}
	return d.enqueue(mdb.DisplayRequest(tenthsOf(ms), content), DoNothing())
}

// CancelSession enqueues CANCEL_REQUEST, asking the VMC to end the current
// session. It is a no-op outside SessionIdle and Vend.
func (d *Device) CancelSession() error {
	switch d.State() {
	case SessionIdle, Vend:
	default:
		return nil
	}
	return d.enqueue(mdb.CancelRequest, RequeueOnFail())
}

// CloseSession enqueues END_SESSION; on successful delivery the device
// moves to Enabled. It is a no-op outside SessionIdle and Vend.
func (d *Device) CloseSession() error {
	switch d.State() {
	case SessionIdle, Vend:
	default:
		return nil
	}
	return d.enqueue(mdb.EndSession, TransitionTo(Enabled))
}

// ApproveVend enqueues VEND_APPROVED for the outstanding vend request. It
// is a no-op outside the Vend state. The actual transition out of Vend
// happens when the VMC's VEND/SUCCESS or VEND/FAILURE frame arrives.
func (d *Device) ApproveVend(amount uint16) error {
	if d.State() != Vend {
		return nil
	}
	return d.enqueue(mdb.VendApproved(amount), RequeueOnFail())
}

// DenyVend enqueues VEND_DENIED and returns to SessionIdle on delivery. It
// is a no-op outside the Vend state.
func (d *Device) DenyVend() error {
	if d.State() != Vend {
		return nil
	}
	d.clearVendRequest()
	return d.enqueue(mdb.VendDenied, TransitionTo(SessionIdle))
}

// HandleFrame implements transport.Handler. It runs on the protocol task's
// goroutine: completed frames are dispatched here strictly serialized, one
// at a time.
func (d *Device) HandleFrame(frame *transport.Frame) {
	if frame.Address != d.address {
		return
	}

	if frame.Command == mdb.CmdReset {
		d.clearVendRequest()
		_ = d.comm.SendACK()
		d.setState(Reset)
		return
	}

	switch frame.Command {
	case mdb.CmdPoll:
		d.handlePoll()
	case mdb.CmdSetup:
		d.handleSetup(frame)
	case mdb.CmdReader:
		d.handleReader(frame)
	case mdb.CmdVend:
		d.handleVend(frame)
	case mdb.CmdExpansion:
		d.handleExpansion(frame)
	}
}

func (d *Device) handlePoll() {
	switch d.State() {
	case Reset:
		delivered, err := d.comm.SendReply(mdb.JustReset)
		if err == nil && delivered {
			d.setState(Disabled)
		}
	case Disabled:
		_ = d.comm.SendACK()
	default:
		if d.comm.HasQueued() {
			_, _ = d.comm.FlushOnPoll()
		} else {
			_ = d.comm.SendACK()
		}
	}
}

func (d *Device) handleSetup(frame *transport.Frame) {
	if d.State() != Disabled || len(frame.Payload) == 0 {
		return
	}
	switch mdb.Subcommand(frame.Payload[0]) {
	case mdb.SetupConfigData:
		_, _ = d.comm.SendReply(mdb.ConfigResponse)
	case mdb.SetupMaxMinPrices:
		_ = d.comm.SendACK()
	}
}

func (d *Device) handleExpansion(frame *transport.Frame) {
	if d.State() != Disabled || len(frame.Payload) == 0 {
		return
	}
	if mdb.Subcommand(frame.Payload[0]) == mdb.ExpansionRequestID {
		_, _ = d.comm.SendReply(mdb.ExpansionID)
	}
}

func (d *Device) handleReader(frame *transport.Frame) {
	if len(frame.Payload) == 0 {
		return
	}
	switch mdb.Subcommand(frame.Payload[0]) {
	case mdb.ReaderEnable:
		if d.State() == Disabled {
			_ = d.comm.SendACK()
			d.setState(Enabled)
		}
	case mdb.ReaderDisable:
		if d.State() != Disabled {
			_ = d.comm.SendACK()
			d.setState(Disabled)
		}
	case mdb.ReaderCancel:
		if d.State() != Disabled {
			_, _ = d.comm.SendReply(mdb.ReaderCancelAck)
			d.clearVendRequest()
			d.setState(Enabled)
		}
	}
}

func (d *Device) handleVend(frame *transport.Frame) {
	if len(frame.Payload) == 0 {
		return
	}
	switch mdb.Subcommand(frame.Payload[0]) {
	case mdb.VendRequest:
		if d.State() == SessionIdle && len(frame.Payload) >= 5 {
			slot := binary.BigEndian.Uint16(frame.Payload[3:5])
			d.setVendRequest(slot)
			d.setState(Vend)
			_ = d.comm.SendACK()
		} else {
			_, _ = d.comm.SendReply(mdb.OutOfSequence)
		}
	case mdb.VendCancel:
		if d.State() == Vend {
			d.clearVendRequest()
			_ = d.comm.SendACK()
			_ = d.enqueue(mdb.VendDenied, TransitionTo(SessionIdle))
		} else {
			_, _ = d.comm.SendReply(mdb.OutOfSequence)
		}
	case mdb.VendSuccess:
		if d.State() == Vend {
			d.clearVendRequest()
			_ = d.comm.SendACK()
			d.setState(SessionIdle)
		} else {
			_, _ = d.comm.SendReply(mdb.OutOfSequence)
		}
	case mdb.VendFailure:
		if d.State() == Vend {
			d.clearVendRequest()
			_ = d.comm.SendACK()
			d.setState(SessionIdle)
		} else {
			_, _ = d.comm.SendReply(mdb.OutOfSequence)
		}
	case mdb.VendSessionComplete:
		if d.State() == SessionIdle {
			_ = d.comm.SendACK()
			_ = d.enqueue(mdb.EndSession, TransitionTo(Enabled))
		} else {
			_, _ = d.comm.SendReply(mdb.OutOfSequence)
		}
	}
}
