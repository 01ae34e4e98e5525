package buffers

import (
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/tripcomm/pkg/link"
	"github.com/robotalks/tripcomm/pkg/link/frame"
	"github.com/robotalks/tripcomm/pkg/store"
)

// Range bounds one setpoint, inclusive.
type Range struct {
	Min uint16
	Max uint16
}

// SetpointGroup describes one setpoint buffer: a little-endian uint16 per
// setpoint.
type SetpointGroup struct {
	ID       uint16
	Ranges   []Range
	Defaults []uint16
}

// DefaultSetpointGroups returns the system and protection groups.
func DefaultSetpointGroups() []SetpointGroup {
	return []SetpointGroup{
		{
			// frequency, rated current, breaker frame, language
			ID:       0,
			Ranges:   []Range{{50, 60}, {100, 6300}, {0, 3}, {0, 7}},
			Defaults: []uint16{50, 1600, 1, 0},
		},
		{
			// long delay pickup, long delay time, short delay pickup,
			// short delay time, instantaneous pickup, ground fault pickup
			ID:       1,
			Ranges:   []Range{{40, 100}, {5, 240}, {150, 1000}, {0, 50}, {200, 1500}, {20, 100}},
			Defaults: []uint16{100, 20, 300, 10, 1000, 50},
		},
	}
}

// Setpoints serves the setpoint groups and persists them in a store.
type Setpoints struct {
	records store.Store
	groups  map[uint16]*setpoints
	lock    sync.RWMutex
}

type setpoints struct {
	SetpointGroup
	values []uint16
}

// NewSetpoints loads the groups from st, falling back to the defaults.
func NewSetpoints(st store.Store, groups ...SetpointGroup) (*Setpoints, error) {
	s := &Setpoints{records: st, groups: make(map[uint16]*setpoints, len(groups))}
	for _, g := range groups {
		sp := &setpoints{SetpointGroup: g, values: append([]uint16(nil), g.Defaults...)}
		data, err := st.Read(storeSetpoints + g.ID)
		switch {
		case err == nil && len(data) == 2*len(g.Ranges):
			decodeSetpoints(sp.values, data)
		case err == nil:
			glog.Warningf("setpoints %d: stored record of %d bytes ignored", g.ID, len(data))
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		s.groups[g.ID] = sp
	}
	return s, nil
}

// Values returns a copy of a group.
func (s *Setpoints) Values(id uint16) []uint16 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if g := s.groups[id]; g != nil {
		return append([]uint16(nil), g.values...)
	}
	return nil
}

// Register installs the read, write and restore-defaults handlers of every
// group.
func (s *Setpoints) Register(reg *link.Registry) {
	ids := make([]uint16, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		id := id
		reg.Provide(frame.BufTypeSetp, id, link.ProviderFunc(func() []byte { return s.encode(id) })).
			Accept(frame.BufTypeSetp, id, link.StoreFunc(func(p []byte) frame.AckCode { return s.write(id, p) })).
			Handle(frame.ActTypeSetp, id, link.ActionFunc(func([]byte) frame.AckCode { return s.restore(id) }))
	}
}

func (s *Setpoints) encode(id uint16) []byte {
	s.lock.RLock()
	defer s.lock.RUnlock()
	g := s.groups[id]
	b := make([]byte, 2*len(g.values))
	for n, v := range g.values {
		binary.LittleEndian.PutUint16(b[2*n:], v)
	}
	return b
}

func (s *Setpoints) write(id uint16, p []byte) frame.AckCode {
	s.lock.Lock()
	defer s.lock.Unlock()
	g := s.groups[id]
	if len(p) != 2*len(g.Ranges) {
		return frame.NakCmdFormat
	}
	values := make([]uint16, len(g.Ranges))
	decodeSetpoints(values, p)
	for n, v := range values {
		if r := g.Ranges[n]; v < r.Min || v > r.Max {
			glog.V(2).Infof("setpoints %d: setpoint %d = %d out of range", id, n, v)
			return frame.NakDataRange
		}
	}
	return s.commit(g, values)
}

func (s *Setpoints) restore(id uint16) frame.AckCode {
	s.lock.Lock()
	defer s.lock.Unlock()
	g := s.groups[id]
	return s.commit(g, append([]uint16(nil), g.Defaults...))
}

func (s *Setpoints) commit(g *setpoints, values []uint16) frame.AckCode {
	b := make([]byte, 2*len(values))
	for n, v := range values {
		binary.LittleEndian.PutUint16(b[2*n:], v)
	}
	if err := s.records.Write(storeSetpoints+g.ID, b); err != nil {
		glog.Errorf("setpoints %d: %v", g.ID, err)
		return frame.NakGeneral
	}
	g.values = values
	return frame.Ack
}

func decodeSetpoints(values []uint16, b []byte) {
	for n := range values {
		values[n] = binary.LittleEndian.Uint16(b[2*n:])
	}
}
