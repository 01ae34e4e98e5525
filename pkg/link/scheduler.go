package link

import (
	"github.com/golang/glog"

	"github.com/robotalks/tripcomm/pkg/link/frame"
)

type txState int

const (
	txIdle           txState = iota // ready to service the next obligation
	txTransmitting                  // frame handed to the channel
	txWaitTurnaround                // waiting for an ack or the countdown
)

// PushRequest is an unsolicited write (CmdWrite) or execute (CmdExecAck)
// sent by this unit. Both expect an acknowledgement.
type PushRequest struct {
	Command frame.Command
	BufType frame.BufType
	BufID   uint16
	Payload []byte
	// Done, if set, is called on the loop goroutine with the ack code, or
	// ErrTimeout when the peer didn't answer.
	Done func(frame.AckCode, error)
}

// Push queues an unsolicited request. Safe for concurrent use.
func (p *Port) Push(req *PushRequest) error {
	if req.Command != frame.CmdWrite && req.Command != frame.CmdExecAck {
		return &NakError{Code: frame.NakCmdInvalid}
	}
	if !frame.FitsTx(p.conf.TxSize, len(req.Payload)) {
		return ErrPayloadTooLarge
	}
	select {
	case p.posts <- func(p *Port) { p.enqueuePush(req) }:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Port) enqueuePush(req *PushRequest) {
	if len(p.pushQ) >= p.conf.PushQueue {
		glog.Warningf("%s: push queue full, drop %s %d/%d", p.conf.Name, req.Command, req.BufType, req.BufID)
		if req.Done != nil {
			req.Done(frame.NakBufOverflow, ErrQueueFull)
		}
		return
	}
	p.pushQ = append(p.pushQ, req)
}

// Idle indicates the transmitter is idle.
func (p *Port) Idle() bool {
	return p.state == txIdle
}

func (p *Port) transmit() {
	switch p.state {
	case txTransmitting:
		if !p.channel.TransmitDone() {
			return
		}
		p.countdown = p.wait
		p.state = txWaitTurnaround
		fallthrough
	case txWaitTurnaround:
		if p.expectAck && p.ackArrived {
			p.endWait(p.ackCode, nil)
			break
		}
		if p.countdown > 0 {
			p.countdown--
			return
		}
		if p.expectAck {
			p.counters.timeouts.Add(1)
			glog.V(2).Infof("%s: no ack for seq %d", p.conf.Name, p.lastSeq)
			p.endWait(frame.NakGeneral, ErrTimeout)
		} else {
			p.endWait(frame.Ack, nil)
		}
	}
	if p.state == txIdle {
		p.service()
	}
}

func (p *Port) endWait(code frame.AckCode, err error) {
	p.state = txIdle
	p.expectAck, p.ackArrived = false, false
	if req := p.pushing; req != nil {
		p.pushing = nil
		if req.Done != nil {
			req.Done(code, err)
		}
	}
}

// service picks the highest priority obligation and starts transmitting it.
func (p *Port) service() {
	switch {
	case p.obligs.Has(ObligWriteResponse):
		p.obligs &^= ObligWriteResponse
		r := &p.writeResp
		err := p.send(&frame.Message{
			Command: frame.CmdWriteResp,
			Addr:    r.addr,
			Seq:     p.nextSeq(),
			BufType: r.key.Type,
			BufID:   r.key.ID,
			Payload: r.data,
		}, true)
		r.data = nil
		if err != nil && p.session != nil && p.session.Key == r.key {
			p.failSession(p.session, err)
		}
	case p.obligs.Has(ObligAck):
		p.obligs &^= ObligAck
		p.sendAck(&p.ack)
	case p.obligs.Has(ObligReadResponse):
		p.obligs &^= ObligReadResponse
		p.respondRead(&p.read)
	case len(p.pushQ) > 0:
		req := p.pushQ[0]
		p.pushQ[0] = nil
		p.pushQ = p.pushQ[1:]
		p.pushing = req
		err := p.send(&frame.Message{
			Command: req.Command,
			Addr:    frame.MakeAddr(p.conf.Class, p.conf.Peer),
			Seq:     p.nextSeq(),
			BufType: req.BufType,
			BufID:   req.BufID,
			Payload: req.Payload,
		}, true)
		if err != nil {
			p.endWait(frame.NakGeneral, err)
		}
	default:
		if key, ok := p.telemetry.next(); ok {
			p.sendTelemetry(key)
		}
	}
}

func (p *Port) nextSeq() frame.Seq {
	p.lastSeq = p.lastSeq.Next()
	return p.lastSeq
}

func (p *Port) sendAck(r *reply) {
	if !r.code.IsAck() {
		p.counters.naks.Add(1)
	}
	p.send(&frame.Message{
		Command: frame.CmdAck,
		Addr:    r.addr,
		Seq:     r.seq,
		BufType: r.key.Type,
		BufID:   r.key.ID,
		Payload: []byte{byte(r.code)},
	}, false)
}

func (p *Port) respondRead(r *reply) {
	if r.key.Type == frame.BufTypeCheck {
		p.sendData(r, p.session.checkPayload(p.buf))
		return
	}
	if r.cmd == frame.CmdReadLater {
		r.code = p.startDelayed(r)
		p.sendAck(r)
		return
	}
	prov, code := p.registry.Provider(r.key)
	if prov == nil {
		r.code = code
		p.sendAck(r)
		return
	}
	n := prov.Len()
	if !frame.FitsTx(p.conf.TxSize, n) || n > len(p.buf) {
		glog.Warningf("%s: buffer %s of %d bytes exceeds transmit capacity", p.conf.Name, r.key, n)
		r.code = frame.NakBufOverflow
		p.sendAck(r)
		return
	}
	p.sendData(r, p.buf[:prov.Fill(p.buf[:n])])
}

// sendData answers a read-now with a write-response echoing the request
// sequence number.
func (p *Port) sendData(r *reply, data []byte) {
	p.send(&frame.Message{
		Command: frame.CmdWriteResp,
		Addr:    r.addr,
		Seq:     r.seq,
		BufType: r.key.Type,
		BufID:   r.key.ID,
		Payload: data,
	}, false)
}

func (p *Port) startDelayed(r *reply) frame.AckCode {
	if p.session.Busy() {
		return frame.NakNotAvailable
	}
	prov, code := p.registry.DelayedProvider(r.key)
	if prov == nil {
		return code
	}
	s := newSession(frame.CmdReadLater, r.key)
	addr := r.addr
	done := p.completion(s, func(p *Port, data []byte) {
		if !frame.FitsTx(p.conf.TxSize, len(data)) {
			glog.Warningf("%s: delayed buffer %s of %d bytes exceeds transmit capacity", p.conf.Name, s.Key, len(data))
			p.failSession(s, ErrPayloadTooLarge)
			return
		}
		p.writeResp = reply{addr: addr, key: s.Key, data: data}
		p.obligs |= ObligWriteResponse
	})
	if code = prov.Start(done); code.IsAck() {
		p.openSession(s)
	}
	return code
}

// sendTelemetry sends a periodic buffer. Telemetry carries sequence 0 and
// expects no acknowledgement.
func (p *Port) sendTelemetry(key BufKey) {
	prov, _ := p.registry.Provider(key)
	if prov == nil {
		return
	}
	n := prov.Len()
	if !frame.FitsTx(p.conf.TxSize, n) || n > len(p.buf) {
		glog.Warningf("%s: telemetry %s of %d bytes exceeds transmit capacity", p.conf.Name, key, n)
		return
	}
	p.send(&frame.Message{
		Command: frame.CmdWriteResp,
		Addr:    frame.MakeAddr(p.conf.Class, p.conf.Peer),
		BufType: key.Type,
		BufID:   key.ID,
		Payload: p.buf[:prov.Fill(p.buf[:n])],
	}, false)
}

// send encodes m and hands it to the channel.
func (p *Port) send(m *frame.Message, expectAck bool) error {
	var hdr [frame.HeaderLen]byte
	m.PutHeader(hdr[:])
	p.enc.Begin()
	err := p.enc.Append(hdr[:])
	if err == nil {
		err = p.enc.Finish(m.Payload)
	}
	if err == nil {
		err = p.channel.Transmit(p.enc.Bytes())
	}
	if err != nil {
		p.counters.txErrors.Add(1)
		glog.Warningf("%s: transmit %s: %v", p.conf.Name, m, err)
		return err
	}
	p.counters.txFrames.Add(1)
	glog.V(3).Infof("%s: sent %s", p.conf.Name, m)
	p.state = txTransmitting
	p.expectAck, p.ackArrived = expectAck, false
	if expectAck {
		p.wait = p.conf.Ticks(p.conf.Response)
	} else {
		p.wait = p.conf.Ticks(p.conf.Turnaround)
	}
	return nil
}
