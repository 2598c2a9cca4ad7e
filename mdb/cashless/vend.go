package cashless

// VendRequest describes the outstanding vend surfaced to the application
// while the device is in the Vend state. id ascends across the device's
// lifetime; slot is parsed big-endian from a VEND/REQUEST frame.
type VendRequest struct {
	ID   uint64
	Slot uint16
}
