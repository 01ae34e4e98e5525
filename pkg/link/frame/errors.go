package frame

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameTooLong indicates the encoded frame exceeds the transmit buffer.
	ErrFrameTooLong = errors.New("frame too long")
	// ErrNotStarted indicates a chunk is appended before Begin.
	ErrNotStarted = errors.New("frame not started")
	// ErrShortMessage indicates a body shorter than the header.
	ErrShortMessage = errors.New("short message")
)

// LengthError reports a mismatch between the declared and received payload.
type LengthError struct {
	Declared int
	Actual   int
}

// Error implements error.
func (e *LengthError) Error() string {
	return fmt.Sprintf("payload length %d, declared %d", e.Actual, e.Declared)
}
