package link

import (
	"github.com/golang/glog"

	"github.com/robotalks/tripcomm/pkg/link/frame"
)

// dispatch routes one received message. It sets at most one obligation and
// never touches the transmit buffer.
func (p *Port) dispatch(m *frame.Message, parseErr error) {
	if parseErr == frame.ErrShortMessage {
		p.drop(m, "short message")
		return
	}
	if m.Addr.Dst() != p.conf.Class || !p.conf.isPeer(m.Addr.Src()) {
		p.drop(m, "address")
		return
	}
	if parseErr != nil {
		if m.Command.ExpectsAck() {
			glog.V(2).Infof("%s: %s: %v", p.conf.Name, m, parseErr)
			p.setAck(m, frame.NakCmdFormat)
		} else {
			p.drop(m, parseErr.Error())
		}
		return
	}

	key := BufKey{Type: m.BufType, ID: m.BufID}
	switch m.Command {
	case frame.CmdReadNow:
		p.setRead(m)
	case frame.CmdReadLater:
		if p.session.Busy() {
			p.setAck(m, frame.NakNotAvailable)
			return
		}
		p.setRead(m)
	case frame.CmdWrite:
		w, code := p.registry.Writable(key)
		if w != nil {
			code = w.Store(m.Payload)
		}
		p.setAck(m, code)
	case frame.CmdExecAck:
		a, code := p.registry.Action(key)
		if a != nil {
			code = a.Execute(m.Payload)
		}
		p.setAck(m, code)
	case frame.CmdExecCheck:
		p.setAck(m, p.startAsync(m, key))
	case frame.CmdAck:
		p.receiveAck(m)
	default:
		p.drop(m, "unknown command")
	}
}

func (p *Port) drop(m *frame.Message, reason string) {
	p.counters.rxDropped.Add(1)
	glog.V(3).Infof("%s: drop %s: %s", p.conf.Name, m, reason)
}

func (p *Port) setAck(m *frame.Message, code frame.AckCode) {
	glog.V(2).Infof("%s: %s -> %s", p.conf.Name, m, code)
	p.ack = reply{
		addr: m.Addr.Reply(),
		seq:  m.Seq,
		cmd:  m.Command,
		key:  BufKey{Type: m.BufType, ID: m.BufID},
		code: code,
	}
	p.obligs |= ObligAck
}

func (p *Port) setRead(m *frame.Message) {
	glog.V(2).Infof("%s: %s pending", p.conf.Name, m)
	p.read = reply{
		addr: m.Addr.Reply(),
		seq:  m.Seq,
		cmd:  m.Command,
		key:  BufKey{Type: m.BufType, ID: m.BufID},
	}
	p.obligs |= ObligReadResponse
}

func (p *Port) startAsync(m *frame.Message, key BufKey) frame.AckCode {
	if p.session.Busy() {
		return frame.NakNotAvailable
	}
	a, code := p.registry.AsyncAction(key)
	if a == nil {
		return code
	}
	s := newSession(m.Command, key)
	if code = a.Start(m.Payload, p.completion(s, nil)); code.IsAck() {
		p.openSession(s)
	}
	return code
}

func (p *Port) openSession(s *Session) {
	p.session = s
	p.publishSession()
	p.counters.sessions.Add(1)
	glog.V(2).Infof("%s: session %s %s %s started", p.conf.Name, s.ID, s.Command, s.Key)
}

// completion returns the DoneFunc of a session. The result is applied on the
// loop goroutine; onData, if set, receives the data of a successful session.
func (p *Port) completion(s *Session, onData func(*Port, []byte)) DoneFunc {
	return func(data []byte, err error) {
		p.Post(func(p *Port) {
			if s.Status != SessionInProgress {
				return
			}
			s.finish(err)
			if p.session == s {
				p.publishSession()
			}
			glog.V(2).Infof("%s: session %s %s", p.conf.Name, s.ID, s.Status)
			if err == nil && onData != nil {
				onData(p, data)
			}
		})
	}
}

// failSession marks a finished session failed when its result could not be
// delivered.
func (p *Port) failSession(s *Session, err error) {
	s.Status, s.Err = SessionFailed, err
	if p.session == s {
		p.publishSession()
	}
	glog.V(2).Infof("%s: session %s %s: %v", p.conf.Name, s.ID, s.Status, err)
}

func (p *Port) receiveAck(m *frame.Message) {
	code := frame.NakGeneral
	if len(m.Payload) > 0 {
		code = frame.AckCode(m.Payload[0])
	}
	if !p.expectAck || m.Seq != p.lastSeq || p.ackArrived {
		p.counters.strayAcks.Add(1)
		glog.V(3).Infof("%s: stray %s", p.conf.Name, m)
		return
	}
	p.ackArrived, p.ackCode, p.lastAcked = true, code, m.Seq
	if !code.IsAck() {
		p.counters.naks.Add(1)
	}
}

// Session returns a copy of the last asynchronous session, if any.
// Safe for concurrent use.
func (p *Port) Session() (Session, bool) {
	if s := p.sessionView.Load(); s != nil {
		return *s, true
	}
	return Session{}, false
}

func (p *Port) publishSession() {
	s := *p.session
	p.sessionView.Store(&s)
}
