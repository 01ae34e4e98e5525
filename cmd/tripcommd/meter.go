package main

import (
	"math"
	"time"

	"github.com/robotalks/tripcomm/pkg/buffers"
	"github.com/robotalks/tripcomm/pkg/framework"
	"github.com/robotalks/tripcomm/pkg/link/goose"
)

// Nominal readings of the synthetic metering groups.
var nominal = map[uint16]float64{
	0: 400,
	1: 480,
	2: 300,
	3: 60,
}

// meter feeds the metering groups with synthetic readings and publishes the
// leading readings on the publish link.
type meter struct {
	Metering *buffers.Metering
	Engine   *goose.Engine
	// Period is the metering update period.
	Period time.Duration
	// Publish is the values and connectivity publish period.
	Publish time.Duration

	started     time.Time
	lastUpdate  time.Time
	lastPublish time.Time
}

func (m *meter) Control(ctx framework.ControlContext) error {
	now := ctx.Time()
	if m.started.IsZero() {
		m.started = now
	}
	if now.Sub(m.lastUpdate) >= m.Period {
		m.lastUpdate = now
		m.update(now.Sub(m.started).Seconds())
	}
	if m.Engine != nil && now.Sub(m.lastPublish) >= m.Publish {
		m.lastPublish = now
		m.publish()
	}
	return nil
}

func (m *meter) update(t float64) {
	for _, id := range m.Metering.IDs() {
		values := m.Metering.Values(id)
		base := nominal[id]
		for n := range values {
			values[n] = float32(base * (1 + 0.05*math.Sin(t+float64(n))))
		}
		m.Metering.Update(id, values...)
	}
}

func (m *meter) publish() {
	var rec goose.MeterValues
	readings := m.Metering.Values(0)
	readings = append(readings, m.Metering.Values(1)...)
	copy(rec.Values[:], readings)
	m.Engine.PublishValues(rec)
	m.Engine.PublishConnectivity()
}
