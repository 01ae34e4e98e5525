package link

import (
	"time"

	"github.com/robotalks/tripcomm/pkg/link/frame"
)

// Default telemetry periods.
const (
	MeteringInterval = 200 * time.Millisecond
	RotationInterval = time.Second
)

// telemetrySlot is a time slice of periodic telemetry. Buffers sharing a slot
// are rotated, one per service.
type telemetrySlot struct {
	keys      []BufKey
	interval  int
	countdown int
	next      int
}

func (s *telemetrySlot) due() bool {
	return len(s.keys) > 0 && s.countdown <= 0
}

func (s *telemetrySlot) tick() {
	if s.countdown > 0 {
		s.countdown--
	}
}

func (s *telemetrySlot) take() BufKey {
	key := s.keys[s.next]
	s.next = (s.next + 1) % len(s.keys)
	s.countdown = s.interval
	return key
}

// telemetry schedules the periodic telemetry slots.
type telemetry struct {
	slots  [NumTelemetrySlots]telemetrySlot
	cursor int
}

func (t *telemetry) tick() {
	for n := range t.slots {
		t.slots[n].tick()
	}
}

// next selects the first due slot at or after the cursor, round-robin.
func (t *telemetry) next() (BufKey, bool) {
	for i := 0; i < NumTelemetrySlots; i++ {
		n := (t.cursor + i) % NumTelemetrySlots
		if slot := &t.slots[n]; slot.due() {
			t.cursor = (n + 1) % NumTelemetrySlots
			return slot.take(), true
		}
	}
	return BufKey{}, false
}

// SetTelemetry assigns buffers to a telemetry slot sent every interval.
// Calling it with no keys disables the slot. It must not be called
// concurrently with Step.
func (p *Port) SetTelemetry(slot int, interval time.Duration, keys ...BufKey) {
	s := &p.telemetry.slots[slot]
	s.keys = append([]BufKey(nil), keys...)
	s.interval = p.conf.Ticks(interval)
	s.countdown = s.interval
	s.next = 0
}

// SetDefaultTelemetry installs the usual slot layout: real-time metering in
// slot 0 at MeteringInterval, then each group of keys in its own slot
// rotating at RotationInterval.
func (p *Port) SetDefaultTelemetry(metering []BufKey, rotated ...[]BufKey) {
	p.SetTelemetry(0, MeteringInterval, metering...)
	for n, keys := range rotated {
		if n+1 >= NumTelemetrySlots {
			break
		}
		p.SetTelemetry(n+1, RotationInterval, keys...)
	}
}

// RTDataKeys builds keys of real-time data buffers.
func RTDataKeys(ids ...uint16) []BufKey {
	keys := make([]BufKey, len(ids))
	for n, id := range ids {
		keys[n] = BufKey{Type: frame.BufTypeRTData, ID: id}
	}
	return keys
}
