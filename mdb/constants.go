// Package mdb holds the wire-level constants for the MDB (Multi-Drop Bus)
// Level-01 Cashless Device protocol: command/subcommand codes, fixed frame
// lengths, and the canned response payloads this peripheral sends.
package mdb

// Command is the 3-bit command field packed into the low bits of a frame's
// address byte (b[0] & 0x07).
type Command byte

// Subcommand is the first payload byte of a multi-subcommand frame (VEND,
// READER, SETUP, EXPANSION).
type Subcommand byte

// Commands, per MDB Level-01.
const (
	CmdReset     Command = 0x00
	CmdSetup     Command = 0x01
	CmdPoll      Command = 0x02
	CmdVend      Command = 0x03
	CmdReader    Command = 0x04
	CmdExpansion Command = 0x07
)

// Subcommands.
const (
	SetupConfigData    Subcommand = 0x00
	SetupMaxMinPrices  Subcommand = 0x01
	VendRequest        Subcommand = 0x00
	VendCancel         Subcommand = 0x01
	VendSuccess         Subcommand = 0x02
	VendFailure         Subcommand = 0x03
	VendSessionComplete Subcommand = 0x04
	VendCashSale        Subcommand = 0x05
	ReaderDisable      Subcommand = 0x00
	ReaderEnable       Subcommand = 0x01
	ReaderCancel       Subcommand = 0x02
	ExpansionRequestID Subcommand = 0x00
)

// AddressMask and CommandMask split the first byte of a frame into the
// 5-bit peripheral address and the 3-bit command.
const (
	AddressMask = 0xF8
	CommandMask = 0x07
)

// DefaultAddress is the MDB bus address of cashless device #1.
const DefaultAddress = 0x10

// MaxResponseLength is the largest payload (excluding checksum) this
// peripheral may place in a single response, per MDB Level-01.
const MaxResponseLength = 36

// Single-byte bus-level acknowledgements.
const (
	ACK  = 0x00 // sent with mode bit 1
	NACK = 0xFF // sent with mode bit 1
	RET  = 0xAA // received only; never sent by this peripheral
)

// FixedLengths maps commands with a length independent of any subcommand to
// their total frame length (address+payload+checksum bytes).
var FixedLengths = map[Command]int{
	CmdReset:     2,
	CmdSetup:     7,
	CmdPoll:      2,
	CmdReader:    3,
	CmdExpansion: 32,
}

// VendLengths maps VEND subcommands to their total frame length.
var VendLengths = map[Subcommand]int{
	VendRequest:         7,
	VendCancel:          3,
	VendSuccess:         5,
	VendFailure:         3,
	VendSessionComplete: 3,
	VendCashSale:        7,
}

// Canned response payloads (checksum not included; transport appends it).
var (
	// JustReset answers a POLL while the peripheral believes it is in Reset.
	JustReset = []byte{0x00}

	// ConfigResponse answers SETUP/CONFIG_DATA: MDB Level 1, currency code
	// 0x01F4, scale factor 0x01, 0x02 decimal places, country code 0x0202.
	ConfigResponse = []byte{0x01, 0x01, 0x02, 0xF4, 0x01, 0x02, 0x02, 0x02}

	// ExpansionID answers EXPANSION/REQUEST_ID: a 30-byte reply beginning
	// with the manufacturer code placeholder 0x09, followed by 29 zero
	// bytes (serial number / model / software version left blank).
	ExpansionID = append([]byte{0x09}, make([]byte, 29)...)

	// SessionStart opens a session, advertising a fixed available credit
	// of 13.37 (currency minor units, big-endian 0x0539).
	SessionStart = []byte{0x03, 0x05, 0x39}

	// VendDenied refuses the outstanding vend request.
	VendDenied = []byte{0x06}

	// CancelRequest asks the VMC to cancel the current session; sent by the
	// application-level cancel_session operation.
	CancelRequest = []byte{0x04}

	// EndSession closes the current session.
	EndSession = []byte{0x07}

	// ReaderCancelAck is the immediate, unsolicited reply to a READER/CANCEL
	// command from the VMC. Unlike CancelRequest it is not a named wire
	// constant in the protocol's reference table — it is specific to the
	// READER/CANCEL transition.
	ReaderCancelAck = []byte{0x08}

	// OutOfSequence answers a command that is not valid in the current
	// state.
	OutOfSequence = []byte{0x0B}
)

// VendApproved builds the VEND_APPROVED payload for the given amount, a
// 16-bit big-endian minor-unit credit.
func VendApproved(amount uint16) []byte {
	return []byte{0x05, byte(amount >> 8), byte(amount)}
}

// DisplayRequest builds the DISPLAY_REQUEST payload: duration in 0.1 s
// units followed by up to 32 bytes of display text.
func DisplayRequest(tenthsOfSecond byte, content []byte) []byte {
	out := make([]byte, 0, 2+len(content))
	out = append(out, 0x02, tenthsOfSecond)
	out = append(out, content...)
	return out
}

// Checksum computes the MDB modulo-256 checksum over a frame's address and
// payload bytes (everything but the trailing checksum byte itself).
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}
