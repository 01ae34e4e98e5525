package link

import (
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/tripcomm/pkg/framework"
	"github.com/robotalks/tripcomm/pkg/link/frame"
)

// Obligation is the set of pending responses the scheduler owes the peer.
type Obligation uint8

// Obligations, each set by the dispatcher or a completion and cleared by the
// scheduler once serviced.
const (
	ObligAck Obligation = 1 << iota
	ObligReadResponse
	ObligWriteResponse
)

// Has checks whether all of o are pending.
func (p Obligation) Has(o Obligation) bool {
	return p&o == o
}

// reply is a response assembled later by the scheduler.
type reply struct {
	addr frame.Addr
	seq  frame.Seq
	cmd  frame.Command
	key  BufKey
	code frame.AckCode
	data []byte
}

// Port is the context of one link: transmit and receive buffers, the
// assembler, pending obligations, sequence numbers and the wait countdown.
// All methods except Post, Push, Stats and Session must be called from the
// goroutine running Step.
type Port struct {
	conf     Config
	channel  Channel
	registry *Registry

	rx  *frame.Ring
	asm *frame.Assembler
	enc *frame.Encoder
	buf []byte

	obligs    Obligation
	ack       reply
	read      reply
	writeResp reply
	pushQ     []*PushRequest
	telemetry telemetry

	state      txState
	wait       int
	countdown  int
	expectAck  bool
	pushing    *PushRequest
	lastSeq    frame.Seq
	lastAcked  frame.Seq
	ackArrived bool
	ackCode    frame.AckCode

	session     *Session
	sessionView atomic.Pointer[Session]
	posts       chan func(*Port)
	counters    counters
}

// NewPort creates a Port driving ch.
func NewPort(conf Config, ch Channel, registry *Registry) *Port {
	if registry == nil {
		registry = NewRegistry()
	}
	queue := conf.PushQueue
	if queue <= 0 {
		queue = 1
	}
	return &Port{
		conf:     conf,
		channel:  ch,
		registry: registry,
		rx:       frame.NewRing(conf.RxSize),
		asm:      frame.NewAssembler(conf.RxSize),
		enc:      frame.NewEncoder(conf.TxSize),
		buf:      make([]byte, conf.TxSize),
		posts:    make(chan func(*Port), queue+4),
	}
}

// Name returns the port name.
func (p *Port) Name() string {
	return p.conf.Name
}

// Config returns the port configuration.
func (p *Port) Config() Config {
	return p.conf
}

// Registry returns the buffer registry.
func (p *Port) Registry() *Registry {
	return p.registry
}

// Stats returns a snapshot of the counters. Safe for concurrent use.
func (p *Port) Stats() Stats {
	return p.counters.snapshot()
}

// Obligations returns the pending obligations.
func (p *Port) Obligations() Obligation {
	return p.obligs
}

// Post schedules fn to run on the loop goroutine during the next Step. It
// blocks when the post queue is full.
func (p *Port) Post(fn func(*Port)) {
	p.posts <- fn
}

// Step runs one poll period: queued completions, countdowns, reception and
// transmission.
func (p *Port) Step() {
	p.applyPosts()
	p.telemetry.tick()
	p.receive()
	p.transmit()
}

// Control implements framework.Controller.
func (p *Port) Control(framework.ControlContext) error {
	p.Step()
	return nil
}

// AddToLoop implements framework.LoopAdder.
func (p *Port) AddToLoop(l *framework.Loop) {
	l.AddController(framework.PrLvControl, p)
}

func (p *Port) applyPosts() {
	for {
		select {
		case fn := <-p.posts:
			fn(p)
		default:
			return
		}
	}
}

// stalled holds off reception while a response to a prior message is owed.
func (p *Port) stalled() bool {
	return p.obligs&(ObligAck|ObligReadResponse) != 0
}

func (p *Port) receive() {
	p.rx.Fill(p.channel.Receive)
	for !p.stalled() && p.asm.Step(p.rx) {
		p.counters.rxOverruns.Store(p.asm.Overruns())
		p.counters.rxMalformed.Store(p.asm.Malformed())
		if !p.asm.Valid() {
			p.counters.rxCRCErrors.Add(1)
			glog.V(3).Infof("%s: drop frame with bad crc", p.conf.Name)
			continue
		}
		p.counters.rxFrames.Add(1)
		msg, err := frame.Parse(p.asm.Message())
		p.dispatch(&msg, err)
	}
	p.counters.rxOverruns.Store(p.asm.Overruns())
	p.counters.rxMalformed.Store(p.asm.Malformed())
}
