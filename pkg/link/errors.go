package link

import (
	"errors"
	"fmt"

	"github.com/robotalks/tripcomm/pkg/link/frame"
)

var (
	// ErrNotIdle indicates the transmitter is still busy with a frame.
	ErrNotIdle = errors.New("transmitter not idle")
	// ErrNoReply indicates no reply received from peer.
	// This happens when a reply is received for a latter request, and all
	// previous requests fail with this error.
	ErrNoReply = errors.New("no reply")
	// ErrTimeout indicates the peer didn't answer within the response interval.
	ErrTimeout = errors.New("response timeout")
	// ErrQueueFull indicates a request can't be queued.
	ErrQueueFull = errors.New("queue full")
	// ErrPayloadTooLarge indicates the payload never fits the transmit buffer.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrClosed indicates the client is no longer running.
	ErrClosed = errors.New("closed")
)

// NakError wraps the code of a negative acknowledgement.
type NakError struct {
	Code frame.AckCode
}

// Error implements error.
func (e *NakError) Error() string {
	return fmt.Sprintf("nak %s", e.Code)
}

// AckError converts an ack code into an error, nil for a positive ack.
func AckError(code frame.AckCode) error {
	if code.IsAck() {
		return nil
	}
	return &NakError{Code: code}
}
