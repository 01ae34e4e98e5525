package buffers

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/tripcomm/pkg/link/frame"
	"github.com/robotalks/tripcomm/pkg/store"
)

// Health counters.
const (
	HealthPowerUps = iota
	HealthResets
	HealthTrips
	HealthTestTrips
	HealthAlarms
	HealthOperations
	HealthCRCErrors
	HealthTimeouts
	HealthWatchdogs
	HealthStoreErrors
	HealthOverTemps
	HealthLowBattery

	NumHealthCounters
)

// Health keeps the diagnostic counters, persisted as one record of
// little-endian uint32 values. It serves diagnostic buffer 0.
type Health struct {
	store    store.Store
	counters [NumHealthCounters]uint32
	lock     sync.Mutex
}

// NewHealth loads the counters from st.
func NewHealth(st store.Store) (*Health, error) {
	h := &Health{store: st}
	data, err := st.Read(storeHealth)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	for n := range h.counters {
		if len(data) >= 4*(n+1) {
			h.counters[n] = binary.LittleEndian.Uint32(data[4*n:])
		}
	}
	return h, nil
}

// Add increments a counter and persists the record.
func (h *Health) Add(counter int, delta uint32) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.counters[counter] += delta
	h.persist()
}

// Counter returns the value of one counter.
func (h *Health) Counter(counter int) uint32 {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.counters[counter]
}

// Reset implements the counter reset action. An empty argument clears all
// counters, otherwise each byte names one counter.
func (h *Health) Reset(arg []byte) frame.AckCode {
	h.lock.Lock()
	defer h.lock.Unlock()
	for _, n := range arg {
		if int(n) >= NumHealthCounters {
			return frame.NakDataRange
		}
	}
	if len(arg) == 0 {
		h.counters = [NumHealthCounters]uint32{}
	}
	for _, n := range arg {
		h.counters[n] = 0
	}
	if !h.persist() {
		return frame.NakGeneral
	}
	return frame.Ack
}

// Len implements link.Provider.
func (h *Health) Len() int {
	return 4 * NumHealthCounters
}

// Fill implements link.Provider.
func (h *Health) Fill(p []byte) int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return copy(p, h.encode())
}

func (h *Health) encode() []byte {
	b := make([]byte, 4*NumHealthCounters)
	for n, v := range h.counters {
		binary.LittleEndian.PutUint32(b[4*n:], v)
	}
	return b
}

func (h *Health) persist() bool {
	if err := h.store.Write(storeHealth, h.encode()); err != nil {
		glog.Errorf("health: %v", err)
		return false
	}
	return true
}
