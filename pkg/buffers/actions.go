package buffers

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/tripcomm/pkg/link"
	"github.com/robotalks/tripcomm/pkg/link/frame"
)

// TimeLen is the length of a time argument: seconds and nanoseconds, each a
// little-endian uint32.
const TimeLen = 8

// EncodeTime encodes t as a time argument.
func EncodeTime(t time.Time) []byte {
	b := make([]byte, TimeLen)
	binary.LittleEndian.PutUint32(b, uint32(t.Unix()))
	binary.LittleEndian.PutUint32(b[4:], uint32(t.Nanosecond()))
	return b
}

// DecodeTime decodes a time argument.
func DecodeTime(b []byte) (time.Time, error) {
	if len(b) != TimeLen {
		return time.Time{}, errors.New("invalid time length")
	}
	nsec := binary.LittleEndian.Uint32(b[4:])
	if nsec >= uint32(time.Second) {
		return time.Time{}, errors.New("invalid nanoseconds")
	}
	return time.Unix(int64(binary.LittleEndian.Uint32(b)), int64(nsec)), nil
}

// Clock is the unit time, kept as an offset from the host clock.
type Clock struct {
	offset atomic.Int64
}

// Now returns the unit time.
func (c *Clock) Now() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

// Set adjusts the unit time.
func (c *Clock) Set(t time.Time) {
	c.offset.Store(int64(time.Until(t)))
}

// Execute implements link.Action for the write-time action.
func (c *Clock) Execute(arg []byte) frame.AckCode {
	if len(arg) != TimeLen {
		return frame.NakCmdFormat
	}
	t, err := DecodeTime(arg)
	if err != nil {
		return frame.NakDataRange
	}
	c.Set(t)
	glog.Infof("clock set to %s", t.UTC().Format(time.RFC3339))
	return frame.Ack
}

// Capture is a delayed buffer produced by Source on its own goroutine.
type Capture struct {
	Source func() ([]byte, error)
}

// Start implements link.DelayedProvider.
func (c *Capture) Start(done link.DoneFunc) frame.AckCode {
	if c.Source == nil {
		return frame.NakNotAvailable
	}
	go func() {
		done(c.Source())
	}()
	return frame.Ack
}

// Self test kinds.
const (
	TestHWTrip   byte = 1
	TestHWNoTrip byte = 2
	TestSWTrip   byte = 3
	TestSWNoTrip byte = 4
)

// SelfTest is the asynchronous test injection action. The argument names the
// test kind.
type SelfTest struct {
	Duration time.Duration
	// Run performs the test; nil passes every test.
	Run func(kind byte) error
	// Done, if set, is called with the outcome of each test.
	Done func(kind byte, err error)

	last atomic.Int32
}

// Start implements link.AsyncAction.
func (s *SelfTest) Start(arg []byte, done link.DoneFunc) frame.AckCode {
	if len(arg) != 1 {
		return frame.NakCmdFormat
	}
	kind := arg[0]
	if kind < TestHWTrip || kind > TestSWNoTrip {
		return frame.NakDataRange
	}
	s.last.Store(int32(kind))
	go func() {
		time.Sleep(s.Duration)
		var err error
		if s.Run != nil {
			err = s.Run(kind)
		}
		if s.Done != nil {
			s.Done(kind, err)
		}
		done(nil, err)
	}()
	return frame.Ack
}

// Last returns the kind of the last test started, 0 if none.
func (s *SelfTest) Last() byte {
	return byte(s.last.Load())
}
