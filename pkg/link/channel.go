package link

// Channel is the duplex byte channel driven by a Port or a Client.
//
// None of the methods may block. Receive copies bytes already received into
// p and returns the count. Transmit starts sending a complete frame; the
// frame must stay untouched until TransmitDone reports true.
type Channel interface {
	Receive(p []byte) int
	Transmit(frame []byte) error
	TransmitDone() bool
}
