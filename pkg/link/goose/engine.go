// Package goose implements the high-speed publish/subscribe link between
// coordinating protection devices.
//
// It shares the framing of the primary link but replaces the running
// sequence counter with one fixed sequence number per message type and keeps
// at most one message in flight per sample period.
package goose

import (
	"encoding"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/tripcomm/pkg/framework"
	"github.com/robotalks/tripcomm/pkg/link"
	"github.com/robotalks/tripcomm/pkg/link/frame"
)

// MsgType is the message type, also used as its sequence number.
type MsgType uint8

// Message types.
const (
	TypeAck          MsgType = 0
	TypeStatusCtrl   MsgType = 1
	TypeValues       MsgType = 2
	TypeConnectivity MsgType = 3

	NumTypes = 4
)

// String implements fmt.Stringer.
func (t MsgType) String() string {
	switch t {
	case TypeAck:
		return "ack"
	case TypeStatusCtrl:
		return "status-control"
	case TypeValues:
		return "values"
	case TypeConnectivity:
		return "connectivity"
	}
	return "unknown"
}

// priority is the order in which pending types are serviced.
var priority = [NumTypes]MsgType{TypeStatusCtrl, TypeValues, TypeConnectivity, TypeAck}

// Buffer sizes of the publish link.
const (
	DefaultRxSize = 128
	DefaultTxSize = 128
)

// Config defines the parameters of an Engine.
type Config struct {
	Name     string
	Addr     frame.Addr
	DeviceID uint16
	RxSize   int
	TxSize   int
	// Sample is the tick period.
	Sample time.Duration
	// Retry is the number of samples a publish stays outstanding and blocks
	// another publish of the same type.
	Retry int
}

// DefaultConfig returns the default publish link configuration.
func DefaultConfig() Config {
	return Config{
		Name:   "goose",
		Addr:   frame.MakeAddr(frame.ClassProtection, frame.ClassProtection),
		RxSize: DefaultRxSize,
		TxSize: DefaultTxSize,
		Sample: time.Millisecond,
		Retry:  20,
	}
}

// entry is one row of the outstanding-request table.
type entry struct {
	pending     int
	countdown   int
	outstanding bool
}

// Subscription is the latest state heard from one publisher.
type Subscription struct {
	DeviceID     uint16         `json:"device_id"`
	Status       *StatusControl `json:"status,omitempty"`
	Values       *MeterValues   `json:"values,omitempty"`
	Connectivity *Connectivity  `json:"connectivity,omitempty"`
	Updated      time.Time      `json:"updated"`
	Count        uint64         `json:"count"`
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	RxFrames    uint64 `json:"rx_frames"`
	RxCRCErrors uint64 `json:"rx_crc_errors"`
	RxDropped   uint64 `json:"rx_dropped"`
	Published   uint64 `json:"published"`
	Acked       uint64 `json:"acked"`
	Abandoned   uint64 `json:"abandoned"`
	AcksSent    uint64 `json:"acks_sent"`
	TxErrors    uint64 `json:"tx_errors"`
}

// Engine runs the publish/subscribe link. Tick must be called from a single
// goroutine; the publish and query methods are safe for concurrent use.
type Engine struct {
	// OnUpdate, if set, is called on the tick goroutine with a copy of a
	// subscription after each received publish. It must be set before Tick
	// starts, use Watch afterwards.
	OnUpdate func(Subscription)

	conf    Config
	channel link.Channel

	rx  *frame.Ring
	asm *frame.Assembler
	enc *frame.Encoder

	table   [NumTypes]entry
	ackMask uint8
	spacing int
	sending bool
	samples uint32

	status StatusControl
	values MeterValues

	subs     map[uint16]*Subscription
	subsLock sync.RWMutex

	posts chan func(*Engine)

	rxFrames    atomic.Uint64
	rxCRCErrors atomic.Uint64
	rxDropped   atomic.Uint64
	published   atomic.Uint64
	acked       atomic.Uint64
	abandoned   atomic.Uint64
	acksSent    atomic.Uint64
	txErrors    atomic.Uint64
}

// NewEngine creates an Engine driving ch.
func NewEngine(conf Config, ch link.Channel) *Engine {
	e := &Engine{
		conf:    conf,
		channel: ch,
		rx:      frame.NewRing(conf.RxSize),
		asm:     frame.NewAssembler(conf.RxSize),
		enc:     frame.NewEncoder(conf.TxSize),
		subs:    make(map[uint16]*Subscription),
		posts:   make(chan func(*Engine), 16),
	}
	e.status.DeviceID = conf.DeviceID
	e.values.DeviceID = conf.DeviceID
	return e
}

// Name returns the engine name.
func (e *Engine) Name() string {
	return e.conf.Name
}

// PublishStatus requests a status/control publish of r.
func (e *Engine) PublishStatus(r StatusControl) {
	r.DeviceID = e.conf.DeviceID
	e.posts <- func(e *Engine) {
		e.status = r
		e.table[TypeStatusCtrl].pending++
	}
}

// PublishValues requests an analog values publish of r.
func (e *Engine) PublishValues(r MeterValues) {
	r.DeviceID = e.conf.DeviceID
	e.posts <- func(e *Engine) {
		e.values = r
		e.table[TypeValues].pending++
	}
}

// PublishConnectivity requests a connectivity publish.
func (e *Engine) PublishConnectivity() {
	e.posts <- func(e *Engine) {
		e.table[TypeConnectivity].pending++
	}
}

// Watch adds fn to the subscription update hooks. It takes effect on the
// next Tick and may be called while the engine runs.
func (e *Engine) Watch(fn func(Subscription)) {
	e.posts <- func(e *Engine) {
		next := e.OnUpdate
		if next == nil {
			e.OnUpdate = fn
			return
		}
		e.OnUpdate = func(s Subscription) {
			next(s)
			fn(s)
		}
	}
}

// Subscriptions returns copies of all subscription records.
func (e *Engine) Subscriptions() []Subscription {
	e.subsLock.RLock()
	defer e.subsLock.RUnlock()
	subs := make([]Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, *s)
	}
	return subs
}

// Subscription returns the record of one publisher.
func (e *Engine) Subscription(deviceID uint16) (Subscription, bool) {
	e.subsLock.RLock()
	defer e.subsLock.RUnlock()
	if s, ok := e.subs[deviceID]; ok {
		return *s, true
	}
	return Subscription{}, false
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	return Stats{
		RxFrames:    e.rxFrames.Load(),
		RxCRCErrors: e.rxCRCErrors.Load(),
		RxDropped:   e.rxDropped.Load(),
		Published:   e.published.Load(),
		Acked:       e.acked.Load(),
		Abandoned:   e.abandoned.Load(),
		AcksSent:    e.acksSent.Load(),
		TxErrors:    e.txErrors.Load(),
	}
}

// Outstanding reports whether a publish of typ awaits its acknowledgement.
// It must be called from the tick goroutine.
func (e *Engine) Outstanding(typ MsgType) bool {
	return e.table[typ].outstanding
}

// Control implements framework.Controller.
func (e *Engine) Control(framework.ControlContext) error {
	e.Tick()
	return nil
}

// AddToLoop implements framework.LoopAdder.
func (e *Engine) AddToLoop(l *framework.Loop) {
	l.AddController(framework.PrLvTop, e)
}

// Tick runs one sample period.
func (e *Engine) Tick() {
	e.samples++
	e.applyPosts()
	e.receive()

	for n := range e.table {
		ent := &e.table[n]
		if ent.countdown == 0 {
			continue
		}
		if ent.countdown--; ent.countdown == 0 && ent.outstanding {
			// no retry, the publish is abandoned.
			ent.outstanding = false
			e.abandoned.Add(1)
			glog.V(2).Infof("%s: %s publish abandoned", e.conf.Name, MsgType(n))
		}
	}

	if e.sending {
		if !e.channel.TransmitDone() {
			return
		}
		e.sending = false
	}
	if e.spacing > 0 {
		e.spacing--
		return
	}
	for _, typ := range priority {
		ent := &e.table[typ]
		if ent.countdown != 0 {
			continue
		}
		if typ == TypeAck {
			if e.ackMask != 0 {
				e.sendAck()
				return
			}
			continue
		}
		if ent.pending > 0 {
			e.publish(typ)
			return
		}
	}
}

func (e *Engine) applyPosts() {
	for {
		select {
		case fn := <-e.posts:
			fn(e)
		default:
			return
		}
	}
}

func (e *Engine) receive() {
	e.rx.Fill(e.channel.Receive)
	for e.asm.Step(e.rx) {
		if !e.asm.Valid() {
			e.rxCRCErrors.Add(1)
			continue
		}
		msg, err := frame.Parse(e.asm.Message())
		if err != nil || msg.BufType != frame.BufTypeGoose {
			e.rxDropped.Add(1)
			continue
		}
		e.rxFrames.Add(1)
		e.handle(&msg)
	}
}

func (e *Engine) handle(m *frame.Message) {
	typ := MsgType(m.Seq)
	switch {
	case m.Command == frame.CmdAck && typ != TypeAck && typ < NumTypes:
		if ent := &e.table[typ]; ent.outstanding {
			ent.outstanding = false
			e.acked.Add(1)
		}
	case m.Command == frame.CmdWrite && typ != TypeAck && typ < NumTypes:
		if e.subscribe(typ, m.Payload) {
			e.ackMask |= 1 << typ
		} else {
			e.rxDropped.Add(1)
		}
	default:
		e.rxDropped.Add(1)
		glog.V(3).Infof("%s: drop %s", e.conf.Name, m)
	}
}

func (e *Engine) subscribe(typ MsgType, payload []byte) bool {
	var (
		rec  encoding.BinaryUnmarshaler
		id   *uint16
		sc   StatusControl
		mv   MeterValues
		conn Connectivity
	)
	switch typ {
	case TypeStatusCtrl:
		rec, id = &sc, &sc.DeviceID
	case TypeValues:
		rec, id = &mv, &mv.DeviceID
	case TypeConnectivity:
		rec, id = &conn, &conn.DeviceID
	}
	if err := rec.UnmarshalBinary(payload); err != nil {
		return false
	}

	e.subsLock.Lock()
	s := e.subs[*id]
	if s == nil {
		s = &Subscription{DeviceID: *id}
		e.subs[*id] = s
	}
	switch typ {
	case TypeStatusCtrl:
		s.Status = &sc
	case TypeValues:
		s.Values = &mv
	case TypeConnectivity:
		s.Connectivity = &conn
	}
	s.Updated = time.Now()
	s.Count++
	update := *s
	e.subsLock.Unlock()

	if e.OnUpdate != nil {
		e.OnUpdate(update)
	}
	return true
}

func (e *Engine) publish(typ MsgType) {
	var rec encoding.BinaryMarshaler
	switch typ {
	case TypeStatusCtrl:
		rec = &e.status
	case TypeValues:
		rec = &e.values
	case TypeConnectivity:
		rec = &Connectivity{DeviceID: e.conf.DeviceID, Uptime: e.samples}
	}
	payload, _ := rec.MarshalBinary()
	if !e.send(frame.CmdWrite, typ, payload) {
		return
	}
	ent := &e.table[typ]
	ent.pending--
	ent.outstanding = true
	ent.countdown = e.conf.Retry
	e.published.Add(1)
}

// sendAck acknowledges the lowest pending type.
func (e *Engine) sendAck() {
	for typ := TypeStatusCtrl; typ < NumTypes; typ++ {
		if e.ackMask&(1<<typ) == 0 {
			continue
		}
		var id [2]byte
		id[0], id[1] = byte(e.conf.DeviceID), byte(e.conf.DeviceID>>8)
		if e.send(frame.CmdAck, typ, id[:]) {
			e.ackMask &^= 1 << typ
			e.acksSent.Add(1)
		}
		return
	}
}

func (e *Engine) send(cmd frame.Command, typ MsgType, payload []byte) bool {
	m := &frame.Message{
		Command: cmd,
		Addr:    e.conf.Addr,
		Seq:     frame.Seq(typ),
		BufType: frame.BufTypeGoose,
		BufID:   e.conf.DeviceID,
		Payload: payload,
	}
	err := e.enc.Encode(m)
	if err == nil {
		err = e.channel.Transmit(e.enc.Bytes())
	}
	if err != nil {
		e.txErrors.Add(1)
		glog.Warningf("%s: transmit %s: %v", e.conf.Name, m, err)
		return false
	}
	e.sending = true
	e.spacing = 1
	return true
}
