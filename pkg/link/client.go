package link

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/tripcomm/pkg/link/frame"
)

// Request is a request sent by a Client.
type Request struct {
	Command frame.Command
	BufType frame.BufType
	BufID   uint16
	Payload []byte
}

// Result is the result of a request using Do.
type Result struct {
	Err  error
	Code frame.AckCode
	Data []byte
}

// Call represents a pending request waiting for reply.
type Call struct {
	req      *Request
	seq      frame.Seq
	deadline time.Time
	resultCh chan Result
	next     *Call
}

// RequestSeq returns the sequence number assigned to the request. It is
// only valid once the request is transmitted.
func (c *Call) RequestSeq() frame.Seq {
	return c.seq
}

// ResultChan returns the chan to retrieve result.
func (c *Call) ResultChan() <-chan Result {
	return c.resultCh
}

func (c *Call) key() BufKey {
	return BufKey{Type: c.req.BufType, ID: c.req.BufID}
}

func (c *Call) complete(r Result) {
	c.resultCh <- r
}

type callList struct {
	head *Call
	tail *Call
}

func (l *callList) append(c *Call) {
	if l.head == nil {
		l.head = c
	} else {
		l.tail.next = c
	}
	l.tail = c
}

func (l *callList) pop() *Call {
	c := l.head
	if c != nil {
		if l.head = c.next; l.head == nil {
			l.tail = nil
		}
		c.next = nil
	}
	return c
}

// remove unlinks c.
func (l *callList) remove(c *Call) {
	var prev *Call
	for curr := l.head; curr != nil; prev, curr = curr, curr.next {
		if curr != c {
			continue
		}
		if prev == nil {
			l.head = c.next
		} else {
			prev.next = c.next
		}
		if l.tail == c {
			l.tail = prev
		}
		c.next = nil
		return
	}
}

// removeThrough unlinks c and every call queued before it, which are
// returned in order.
func (l *callList) removeThrough(c *Call) (skipped []*Call) {
	for curr := l.pop(); curr != nil; curr = l.pop() {
		if curr == c {
			return
		}
		skipped = append(skipped, curr)
	}
	return
}

// expire removes the calls whose deadline passed.
func (l *callList) expire(now time.Time) (expired []*Call) {
	var kept callList
	for c := l.pop(); c != nil; c = l.pop() {
		if now.After(c.deadline) {
			expired = append(expired, c)
		} else {
			kept.append(c)
		}
	}
	*l = kept
	return
}

func (l *callList) find(match func(*Call) bool) *Call {
	for c := l.head; c != nil; c = c.next {
		if match(c) {
			return c
		}
	}
	return nil
}

// Client provides the requesting side of the link over a Channel.
type Client struct {
	// Handler answers unsolicited writes and executes pushed by the unit. It
	// runs on the client goroutine; a nil Handler acknowledges everything.
	Handler func(*frame.Message) frame.AckCode

	conf    Config
	channel Channel

	rx  *frame.Ring
	asm *frame.Assembler
	enc *frame.Encoder

	seq      frame.Seq
	sending  bool
	acks     []*frame.Message
	queue    callList
	pending  callList
	awaiting callList
	closed   bool
	lock     sync.Mutex

	eventCh chan *frame.Message
}

// NewClient creates a client driving ch.
func NewClient(conf Config, ch Channel) *Client {
	return &Client{
		conf:    conf,
		channel: ch,
		rx:      frame.NewRing(conf.RxSize),
		asm:     frame.NewAssembler(conf.RxSize),
		enc:     frame.NewEncoder(conf.TxSize),
		eventCh: make(chan *frame.Message, 16),
	}
}

// EventChan retrieves unsolicited messages: telemetry, pushes and delayed
// write-responses nobody waits for.
func (c *Client) EventChan() <-chan *frame.Message {
	return c.eventCh
}

// DoWith sends a request and expects a result in the provided chan.
func (c *Client) DoWith(req *Request, ch chan Result) *Call {
	call := &Call{req: req, resultCh: ch}
	if !frame.FitsTx(c.conf.TxSize, len(req.Payload)) {
		call.complete(Result{Err: ErrPayloadTooLarge})
		return call
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		call.complete(Result{Err: ErrClosed})
		return call
	}
	c.queue.append(call)
	return call
}

// Do sends a request and returns a Call for result.
func (c *Client) Do(req *Request) *Call {
	return c.DoWith(req, make(chan Result, 1))
}

// Exec sends a request and waits for the result.
func (c *Client) Exec(ctx context.Context, req *Request) Result {
	select {
	case r := <-c.Do(req).ResultChan():
		return r
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// ReadNow reads a buffer immediately.
func (c *Client) ReadNow(ctx context.Context, typ frame.BufType, id uint16) ([]byte, error) {
	r := c.Exec(ctx, &Request{Command: frame.CmdReadNow, BufType: typ, BufID: id})
	return r.Data, r.Err
}

// ReadLater requests a delayed read and waits for the write-response.
func (c *Client) ReadLater(ctx context.Context, typ frame.BufType, id uint16) ([]byte, error) {
	r := c.Exec(ctx, &Request{Command: frame.CmdReadLater, BufType: typ, BufID: id})
	return r.Data, r.Err
}

// Write writes a buffer.
func (c *Client) Write(ctx context.Context, typ frame.BufType, id uint16, data []byte) error {
	return c.Exec(ctx, &Request{Command: frame.CmdWrite, BufType: typ, BufID: id, Payload: data}).Err
}

// Execute runs an action and waits for its acknowledgement.
func (c *Client) Execute(ctx context.Context, act frame.BufType, id uint16, arg []byte) error {
	return c.Exec(ctx, &Request{Command: frame.CmdExecAck, BufType: act, BufID: id, Payload: arg}).Err
}

// ExecuteCheck starts an asynchronous action; its progress is read with
// CheckStatus.
func (c *Client) ExecuteCheck(ctx context.Context, act frame.BufType, id uint16, arg []byte) error {
	return c.Exec(ctx, &Request{Command: frame.CmdExecCheck, BufType: act, BufID: id, Payload: arg}).Err
}

// CheckStatus reads the status of the last asynchronous session.
func (c *Client) CheckStatus(ctx context.Context) (SessionStatus, error) {
	data, err := c.ReadNow(ctx, frame.BufTypeCheck, 0)
	if err != nil {
		return SessionFailed, err
	}
	if len(data) == 0 {
		return SessionFailed, &NakError{Code: frame.NakCmdFormat}
	}
	return SessionStatus(data[0]), nil
}

// Run drives the client with the configured tick until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.conf.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.close()
			return ctx.Err()
		case now := <-ticker.C:
			c.Step(now)
		}
	}
}

// Step receives, expires overdue calls and transmits the next frame.
func (c *Client) Step(now time.Time) {
	c.rx.Fill(c.channel.Receive)
	for c.asm.Step(c.rx) {
		if !c.asm.Valid() {
			glog.V(3).Infof("%s: drop frame with bad crc", c.conf.Name)
			continue
		}
		msg, err := frame.Parse(c.asm.Message())
		if err != nil || msg.Addr.Dst() != c.conf.Class || !c.conf.isPeer(msg.Addr.Src()) {
			glog.V(3).Infof("%s: drop %s", c.conf.Name, &msg)
			continue
		}
		c.handle(&msg, now)
	}

	c.lock.Lock()
	expired := append(c.pending.expire(now), c.awaiting.expire(now)...)
	c.lock.Unlock()
	for _, call := range expired {
		call.complete(Result{Err: ErrTimeout})
	}

	c.transmit(now)
}

func (c *Client) handle(m *frame.Message, now time.Time) {
	key := BufKey{Type: m.BufType, ID: m.BufID}
	switch m.Command {
	case frame.CmdAck, frame.CmdWriteResp:
		c.lock.Lock()
		call := c.pending.find(func(call *Call) bool {
			return call.seq == m.Seq && call.key() == key &&
				(m.Command == frame.CmdAck || call.req.Command == frame.CmdReadNow)
		})
		var skipped []*Call
		if call != nil {
			skipped = c.pending.removeThrough(call)
		}
		c.lock.Unlock()
		if call != nil {
			for _, s := range skipped {
				s.complete(Result{Err: ErrNoReply})
			}
			c.reply(call, m, now)
			return
		}
		if m.Command == frame.CmdWriteResp {
			c.writeResponse(m, key)
		}
	case frame.CmdWrite, frame.CmdExecAck:
		code := frame.Ack
		if c.Handler != nil {
			code = c.Handler(m)
		}
		c.ack(m, code)
		c.emit(m)
	default:
		glog.V(3).Infof("%s: unexpected %s", c.conf.Name, m)
	}
}

func (c *Client) reply(call *Call, m *frame.Message, now time.Time) {
	if m.Command == frame.CmdWriteResp {
		call.complete(Result{Data: append([]byte(nil), m.Payload...)})
		return
	}
	code := frame.NakGeneral
	if len(m.Payload) > 0 {
		code = frame.AckCode(m.Payload[0])
	}
	if call.req.Command == frame.CmdReadLater && code.IsAck() {
		call.deadline = now.Add(c.conf.Delayed)
		c.lock.Lock()
		c.awaiting.append(call)
		c.lock.Unlock()
		return
	}
	call.complete(Result{Code: code, Err: AckError(code)})
}

// writeResponse handles an unsolicited write-response. Telemetry carries
// sequence 0, anything else completes a delayed read and is acknowledged.
func (c *Client) writeResponse(m *frame.Message, key BufKey) {
	if m.Seq == 0 {
		c.emit(m)
		return
	}
	c.ack(m, frame.Ack)
	c.lock.Lock()
	call := c.awaiting.find(func(call *Call) bool { return call.key() == key })
	if call != nil {
		c.awaiting.remove(call)
	}
	c.lock.Unlock()
	if call != nil {
		call.complete(Result{Data: append([]byte(nil), m.Payload...)})
	} else {
		c.emit(m)
	}
}

func (c *Client) ack(m *frame.Message, code frame.AckCode) {
	c.acks = append(c.acks, &frame.Message{
		Command: frame.CmdAck,
		Addr:    m.Addr.Reply(),
		Seq:     m.Seq,
		BufType: m.BufType,
		BufID:   m.BufID,
		Payload: []byte{byte(code)},
	})
}

func (c *Client) emit(m *frame.Message) {
	msg := *m
	msg.Payload = append([]byte(nil), m.Payload...)
	select {
	case c.eventCh <- &msg:
	default:
		glog.V(2).Infof("%s: event dropped %s", c.conf.Name, m)
	}
}

func (c *Client) transmit(now time.Time) {
	if c.sending {
		if !c.channel.TransmitDone() {
			return
		}
		c.sending = false
	}
	var msg *frame.Message
	if len(c.acks) > 0 {
		msg = c.acks[0]
		c.acks = c.acks[1:]
	} else {
		c.lock.Lock()
		call := c.queue.pop()
		if call != nil {
			c.seq = c.seq.Next()
			call.seq = c.seq
			call.deadline = now.Add(c.conf.Response)
			c.pending.append(call)
		}
		c.lock.Unlock()
		if call == nil {
			return
		}
		msg = &frame.Message{
			Command: call.req.Command,
			Addr:    frame.MakeAddr(c.conf.Class, c.conf.Peer),
			Seq:     call.seq,
			BufType: call.req.BufType,
			BufID:   call.req.BufID,
			Payload: call.req.Payload,
		}
	}
	err := c.enc.Encode(msg)
	if err == nil {
		err = c.channel.Transmit(c.enc.Bytes())
	}
	if err != nil {
		glog.Warningf("%s: transmit %s: %v", c.conf.Name, msg, err)
		c.failSeq(msg.Seq, err)
		return
	}
	c.sending = true
}

func (c *Client) failSeq(seq frame.Seq, err error) {
	c.lock.Lock()
	call := c.pending.find(func(call *Call) bool { return call.seq == seq })
	if call != nil {
		c.pending.remove(call)
	}
	c.lock.Unlock()
	if call != nil {
		call.complete(Result{Err: err})
	}
}

func (c *Client) close() {
	c.lock.Lock()
	c.closed = true
	var calls []*Call
	for _, l := range []*callList{&c.queue, &c.pending, &c.awaiting} {
		for call := l.pop(); call != nil; call = l.pop() {
			calls = append(calls, call)
		}
	}
	c.lock.Unlock()
	for _, call := range calls {
		call.complete(Result{Err: ErrClosed})
	}
}
