// Package buffers provides reference payload providers for the link: the
// buffers a trip unit exposes to its display processor.
package buffers

import (
	"time"

	"github.com/robotalks/tripcomm/pkg/link"
	"github.com/robotalks/tripcomm/pkg/link/frame"
	"github.com/robotalks/tripcomm/pkg/store"
)

// Event buffer ids.
const (
	EventIDSummary      uint16 = 16
	EventIDTripSnapshot uint16 = 18
	EventIDCapture      uint16 = 21
)

// Factory buffer ids.
const (
	FactoryIDStyle  uint16 = 22
	FactoryIDStyle2 uint16 = 41
	FactoryIDProtFW uint16 = 99
)

// Execute action ids.
const (
	ActIDWriteTime uint16 = 1
	ActIDSelfTest  uint16 = 0
	ActIDResetDiag uint16 = 0
)

// Record id ranges in the store.
const (
	storeHealth    uint16 = 0x0000
	storeFactory   uint16 = 0x1000
	storeSetpoints uint16 = 0x2000
)

// Unit bundles the reference buffers of one trip unit.
type Unit struct {
	Clock     *Clock
	Metering  *Metering
	Setpoints *Setpoints
	Events    *EventLog
	Health    *Health
	Factory   *Factory
	Capture   *Capture
	SelfTest  *SelfTest
}

// NewUnit creates a Unit persisting to st, with the default metering and
// setpoint groups.
func NewUnit(st store.Store, firmware string) (*Unit, error) {
	health, err := NewHealth(st)
	if err != nil {
		return nil, err
	}
	setpoints, err := NewSetpoints(st, DefaultSetpointGroups()...)
	if err != nil {
		return nil, err
	}
	u := &Unit{
		Clock:     &Clock{},
		Metering:  NewMetering(DefaultMeteringGroups),
		Setpoints: setpoints,
		Health:    health,
		Factory:   NewFactory(st, firmware),
		SelfTest:  &SelfTest{Duration: 2 * time.Second},
	}
	u.Events = NewEventLog(u.Clock, DefaultEventLogSize)
	u.Capture = &Capture{Source: u.Metering.Waveform}
	return u, nil
}

// Register installs all buffers and actions into reg.
func (u *Unit) Register(reg *link.Registry) *link.Registry {
	u.Metering.Register(reg)
	u.Setpoints.Register(reg)
	reg.Provide(frame.BufTypeEvent, EventIDSummary, u.Events.Summary()).
		ProvideDelayed(frame.BufTypeEvent, EventIDTripSnapshot, &Capture{Source: u.Events.LastTrip}).
		ProvideDelayed(frame.BufTypeEvent, EventIDCapture, u.Capture).
		Provide(frame.BufTypeDiag, 0, u.Health).
		Handle(frame.ActTypeReset, ActIDResetDiag, link.ActionFunc(u.Health.Reset)).
		Handle(frame.ActTypeTime, ActIDWriteTime, u.Clock).
		HandleAsync(frame.ActTypeTU, ActIDSelfTest, u.SelfTest)
	u.Factory.Register(reg)
	return reg
}

// TelemetryKeys returns the metering buffers for the fast slot and the
// groups rotated in the slower slots.
func (u *Unit) TelemetryKeys() (metering []link.BufKey, rotated [][]link.BufKey) {
	ids := u.Metering.IDs()
	if len(ids) == 0 {
		return
	}
	metering = link.RTDataKeys(ids[0])
	if len(ids) > 1 {
		rotated = append(rotated, link.RTDataKeys(ids[1:]...))
	}
	rotated = append(rotated, []link.BufKey{{Type: frame.BufTypeDiag, ID: 0}})
	return
}
