package buffers

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/robotalks/tripcomm/pkg/link"
)

// Event codes.
const (
	EventTrip     uint16 = 1
	EventTestTrip uint16 = 2
	EventAlarm    uint16 = 3
	EventCapture  uint16 = 4
	EventTimeSet  uint16 = 5
	EventSetpoint uint16 = 6
)

// DefaultEventLogSize is the number of events kept.
const DefaultEventLogSize = 64

// EventRecordLen is the wire length of one event: seconds (4), code (2),
// argument (4).
const EventRecordLen = 10

// MaxSummaryEvents is the number of most recent events in a summary.
const MaxSummaryEvents = 16

// ErrNoTrip is reported by a trip snapshot read before any trip.
var ErrNoTrip = errors.New("no trip recorded")

// Event is one log entry.
type Event struct {
	Time time.Time `json:"time"`
	Code uint16    `json:"code"`
	Arg  uint32    `json:"arg"`
}

// EventLog is a bounded log of the most recent events.
type EventLog struct {
	clock  *Clock
	events []Event
	next   int
	total  int
	trip   []byte
	lock   sync.RWMutex
}

// NewEventLog creates a log holding size events.
func NewEventLog(clock *Clock, size int) *EventLog {
	return &EventLog{clock: clock, events: make([]Event, size)}
}

// Record appends an event stamped with the unit clock.
func (l *EventLog) Record(code uint16, arg uint32) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.events[l.next] = Event{Time: l.clock.Now(), Code: code, Arg: arg}
	l.next = (l.next + 1) % len(l.events)
	l.total++
}

// RecordTrip records a trip event with its snapshot.
func (l *EventLog) RecordTrip(arg uint32, snapshot []byte) {
	l.Record(EventTrip, arg)
	l.lock.Lock()
	l.trip = append([]byte(nil), snapshot...)
	l.lock.Unlock()
}

// Recent returns up to n events, most recent first.
func (l *EventLog) Recent(n int) []Event {
	l.lock.RLock()
	defer l.lock.RUnlock()
	if kept := l.kept(); n > kept {
		n = kept
	}
	events := make([]Event, n)
	for i := range events {
		events[i] = l.events[(l.next-1-i+len(l.events))%len(l.events)]
	}
	return events
}

// Total returns the number of events ever recorded.
func (l *EventLog) Total() int {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.total
}

// LastTrip returns the snapshot of the most recent trip.
func (l *EventLog) LastTrip() ([]byte, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	if l.trip == nil {
		return nil, ErrNoTrip
	}
	return append([]byte(nil), l.trip...), nil
}

// Summary returns the provider of the event summary buffer: the total count
// (uint16) followed by the most recent records.
func (l *EventLog) Summary() link.Provider {
	return link.ProviderFunc(func() []byte {
		events := l.Recent(MaxSummaryEvents)
		b := make([]byte, 2, 2+EventRecordLen*len(events))
		binary.LittleEndian.PutUint16(b, uint16(l.Total()))
		for _, e := range events {
			b = binary.LittleEndian.AppendUint32(b, uint32(e.Time.Unix()))
			b = binary.LittleEndian.AppendUint16(b, e.Code)
			b = binary.LittleEndian.AppendUint32(b, e.Arg)
		}
		return b
	})
}

func (l *EventLog) kept() int {
	if l.total < len(l.events) {
		return l.total
	}
	return len(l.events)
}
