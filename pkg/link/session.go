package link

import (
	"encoding/binary"
	"time"

	"github.com/rs/xid"

	"github.com/robotalks/tripcomm/pkg/link/frame"
)

// SessionStatus is the state of an asynchronous session as reported by the
// check buffer.
type SessionStatus byte

// Session states.
const (
	SessionCompleted  SessionStatus = 0
	SessionInProgress SessionStatus = 1
	SessionFailed     SessionStatus = 2
)

// String implements fmt.Stringer.
func (s SessionStatus) String() string {
	switch s {
	case SessionCompleted:
		return "completed"
	case SessionInProgress:
		return "in-progress"
	case SessionFailed:
		return "failed"
	}
	return "unknown"
}

// Session tracks the single asynchronous operation a port permits at a time:
// a delayed read or an execute-with-check action.
type Session struct {
	ID      xid.ID
	Command frame.Command
	Key     BufKey
	Status  SessionStatus
	Started time.Time
	Ended   time.Time
	Err     error
}

func newSession(cmd frame.Command, key BufKey) *Session {
	return &Session{
		ID:      xid.New(),
		Command: cmd,
		Key:     key,
		Status:  SessionInProgress,
		Started: time.Now(),
	}
}

// Busy indicates the session is still in progress.
func (s *Session) Busy() bool {
	return s != nil && s.Status == SessionInProgress
}

func (s *Session) finish(err error) {
	s.Ended, s.Err = time.Now(), err
	if err != nil {
		s.Status = SessionFailed
	} else {
		s.Status = SessionCompleted
	}
}

// CheckLen is the payload length of the check buffer.
const CheckLen = 5

// checkPayload encodes the check buffer: status, command, buffer type and
// id of the last session. Without any session the status reads completed.
func (s *Session) checkPayload(p []byte) []byte {
	p = p[:CheckLen]
	for i := range p {
		p[i] = 0
	}
	if s != nil {
		p[0], p[1], p[2] = byte(s.Status), byte(s.Command), byte(s.Key.Type)
		binary.LittleEndian.PutUint16(p[3:], s.Key.ID)
	}
	return p
}

// ParseCheck decodes the check buffer.
func ParseCheck(data []byte) (SessionStatus, frame.Command, BufKey, error) {
	if len(data) < CheckLen {
		return SessionFailed, 0, BufKey{}, &NakError{Code: frame.NakCmdFormat}
	}
	key := BufKey{Type: frame.BufType(data[2]), ID: binary.LittleEndian.Uint16(data[3:])}
	return SessionStatus(data[0]), frame.Command(data[1]), key, nil
}
