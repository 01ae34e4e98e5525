package transport

import "net"

// Pipe creates two connected in-memory Streams. Both must be run.
func Pipe(nameA, nameB string) (*Stream, *Stream) {
	a, b := net.Pipe()
	return NewStream(nameA, a), NewStream(nameB, b)
}
