// Package cashless implements the MDB Level-01 cashless peripheral state
// machine: it dispatches on (command, subcommand), owns the session/vend
// lifecycle, and exposes thread-safe operations to an application.
package cashless

// State is the peripheral's position in the session lifecycle.
type State int

const (
	// Reset is the initial state, entered on power-up and whenever the VMC
	// sends RESET.
	Reset State = iota
	// Disabled means the device is known to the VMC but not accepting
	// sessions.
	Disabled
	// Enabled means the device may open a session.
	Enabled
	// SessionIdle means a session is open with no vend pending.
	SessionIdle
	// Vend means a vend request is outstanding, awaiting approve/deny.
	Vend
)

func (s State) String() string {
	switch s {
	case Reset:
		return "Reset"
	case Disabled:
		return "Disabled"
	case Enabled:
		return "Enabled"
	case SessionIdle:
		return "SessionIdle"
	case Vend:
		return "Vend"
	default:
		return "Unknown"
	}
}
