package mqtt

import (
	"context"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/tripcomm/pkg/link"
	"github.com/robotalks/tripcomm/pkg/link/goose"
)

// Topics, relative to the queue prefix.
const (
	TopicSubscriptions = "goose/"
	TopicGooseStats    = "stats/goose"
	TopicPortStats     = "stats/ports/"
	TopicPublishStatus = "publish/status"
	TopicPublishValues = "publish/values"
)

// DefaultStatsInterval is the default period of statistics reports.
const DefaultStatsInterval = 5 * time.Second

// PortStats is the statistics report of one port.
type PortStats struct {
	Name  string     `json:"name"`
	Stats link.Stats `json:"stats"`
}

// PortLister lists the ports whose statistics are reported.
type PortLister interface {
	Ports() []*link.Port
}

// Bridge connects the engine and ports to the broker.
type Bridge struct {
	Queue    *Queue
	Engine   *goose.Engine
	Ports    PortLister
	Interval time.Duration
}

// New creates a Bridge and hooks the subscription updates of engine. Either
// of engine and ports may be nil.
func New(q *Queue, engine *goose.Engine, ports PortLister) *Bridge {
	b := &Bridge{Queue: q, Engine: engine, Ports: ports, Interval: DefaultStatsInterval}
	if engine != nil {
		engine.Watch(b.Update)
		q.Sub(TopicPublishStatus, b.handleStatus)
		q.Sub(TopicPublishValues, b.handleValues)
	}
	return b
}

// Name implements framework.Named.
func (b *Bridge) Name() string {
	return "mqtt-bridge"
}

// Run implements framework.Runnable.
func (b *Bridge) Run(ctx context.Context) error {
	token := b.Queue.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	defer b.Queue.Close()
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.PublishStats()
		}
	}
}

// Update publishes a subscription record, retained.
func (b *Bridge) Update(s goose.Subscription) {
	b.publish(TopicSubscriptions+strconv.Itoa(int(s.DeviceID)), &s, true)
}

// PublishStats publishes the statistics of the engine and every port.
func (b *Bridge) PublishStats() {
	if b.Engine != nil {
		stats := b.Engine.Stats()
		b.publish(TopicGooseStats, &stats, false)
	}
	if b.Ports == nil {
		return
	}
	for _, p := range b.Ports.Ports() {
		b.publish(TopicPortStats+p.Name(), &PortStats{Name: p.Name(), Stats: p.Stats()}, false)
	}
}

func (b *Bridge) publish(topic string, v interface{}, retain bool) {
	payload, err := Encode(v)
	if err != nil {
		glog.Errorf("mqtt: encode %s: %v", topic, err)
		return
	}
	b.Queue.PubWith(topic, payload, 0, retain)
}

func (b *Bridge) handleStatus(topic string, payload []byte) {
	var rec goose.StatusControl
	if err := Decode(payload, &rec); err != nil {
		glog.Warningf("mqtt: %s: %v", topic, err)
		return
	}
	b.Engine.PublishStatus(rec)
}

func (b *Bridge) handleValues(topic string, payload []byte) {
	var rec goose.MeterValues
	if err := Decode(payload, &rec); err != nil {
		glog.Warningf("mqtt: %s: %v", topic, err)
		return
	}
	b.Engine.PublishValues(rec)
}
