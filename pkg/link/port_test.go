package link

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/tripcomm/pkg/link/frame"
)

const fromDisplay = frame.Addr(0x45)

type testChannel struct {
	in     []byte
	frames [][]byte
	busy   bool
	fail   error
}

func (c *testChannel) Receive(p []byte) int {
	n := copy(p, c.in)
	c.in = c.in[n:]
	return n
}

func (c *testChannel) Transmit(f []byte) error {
	if c.fail != nil {
		return c.fail
	}
	c.frames = append(c.frames, append([]byte(nil), f...))
	return nil
}

func (c *testChannel) TransmitDone() bool {
	return !c.busy
}

type mockWritable struct {
	mock.Mock
}

func (m *mockWritable) Store(payload []byte) frame.AckCode {
	args := m.Called(append([]byte(nil), payload...))
	return args.Get(0).(frame.AckCode)
}

type captureDelayed struct {
	starts int
	done   DoneFunc
}

func (d *captureDelayed) Start(done DoneFunc) frame.AckCode {
	d.starts++
	d.done = done
	return frame.Ack
}

type captureAsync struct {
	starts int
	args   [][]byte
	done   DoneFunc
}

func (a *captureAsync) Start(arg []byte, done DoneFunc) frame.AckCode {
	a.starts++
	a.args = append(a.args, append([]byte(nil), arg...))
	a.done = done
	return frame.Ack
}

func testConfig() Config {
	conf := DefaultConfig()
	conf.Tick = 10 * time.Millisecond
	conf.Turnaround = 10 * time.Millisecond
	conf.Response = 30 * time.Millisecond
	return conf
}

func decodeFrame(t *testing.T, f []byte) frame.Message {
	a := frame.NewAssembler(1024)
	var complete bool
	for _, b := range f {
		complete = a.Feed(b)
	}
	require.True(t, complete)
	require.True(t, a.Valid())
	m, err := frame.Parse(append([]byte(nil), a.Message()...))
	require.NoError(t, err)
	return m
}

type portTestEnv struct {
	t    *testing.T
	ch   *testChannel
	reg  *Registry
	port *Port
}

func newPortTestEnv(t *testing.T) *portTestEnv {
	env := &portTestEnv{t: t, ch: &testChannel{}, reg: NewRegistry()}
	env.port = NewPort(testConfig(), env.ch, env.reg)
	return env
}

func (e *portTestEnv) injectRaw(f []byte) {
	e.ch.in = append(e.ch.in, f...)
}

func (e *portTestEnv) inject(m *frame.Message) {
	f, err := frame.Encode(m)
	require.NoError(e.t, err)
	e.injectRaw(f)
}

func (e *portTestEnv) request(cmd frame.Command, seq frame.Seq, typ frame.BufType, id uint16, payload ...byte) {
	e.inject(&frame.Message{Command: cmd, Addr: fromDisplay, Seq: seq, BufType: typ, BufID: id, Payload: payload})
}

func (e *portTestEnv) step(n int) {
	for i := 0; i < n; i++ {
		e.port.Step()
	}
}

func (e *portTestEnv) sent() []frame.Message {
	var msgs []frame.Message
	for _, f := range e.ch.frames {
		msgs = append(msgs, decodeFrame(e.t, f))
	}
	e.ch.frames = nil
	return msgs
}

// next steps until exactly one frame is sent.
func (e *portTestEnv) next() frame.Message {
	for i := 0; i < 100 && len(e.ch.frames) == 0; i++ {
		e.port.Step()
	}
	msgs := e.sent()
	require.Len(e.t, msgs, 1)
	return msgs[0]
}

// settle steps until the transmitter is idle with nothing pending.
func (e *portTestEnv) settle() {
	for i := 0; i < 100; i++ {
		e.port.Step()
		if e.port.Idle() && e.port.Obligations() == 0 {
			return
		}
	}
	e.t.Fatal("port not settled")
}

func (e *portTestEnv) expectAck(seq frame.Seq, code frame.AckCode) frame.Message {
	m := e.next()
	require.Equal(e.t, frame.CmdAck, m.Command)
	require.Equal(e.t, frame.Addr(0x54), m.Addr)
	require.Equal(e.t, seq, m.Seq)
	require.Equal(e.t, []byte{byte(code)}, m.Payload)
	e.settle()
	return m
}

func TestPortReadNow(t *testing.T) {
	env := newPortTestEnv(t)
	env.reg.Provide(frame.BufTypeRTData, 1, ProviderFunc(func() []byte { return []byte{1, 0, 2} }))

	env.request(frame.CmdReadNow, 7, frame.BufTypeRTData, 1)
	env.step(1)
	msgs := env.sent()
	require.Len(t, msgs, 1)
	m := msgs[0]
	require.Equal(t, frame.CmdWriteResp, m.Command)
	require.Equal(t, frame.Addr(0x54), m.Addr)
	require.Equal(t, frame.Seq(7), m.Seq)
	require.Equal(t, frame.BufTypeRTData, m.BufType)
	require.Equal(t, uint16(1), m.BufID)
	require.Equal(t, []byte{1, 0, 2}, m.Payload)
	env.settle()

	env.request(frame.CmdReadNow, 8, frame.BufTypeRTData, 2)
	env.expectAck(8, frame.NakBufInvalid)
	env.request(frame.CmdReadNow, 9, frame.BufTypeFactory, 0)
	env.expectAck(9, frame.NakBufTypeInvalid)

	stats := env.port.Stats()
	require.Equal(t, uint64(3), stats.RxFrames)
	require.Equal(t, uint64(3), stats.TxFrames)
	require.Equal(t, uint64(2), stats.Naks)
}

func TestPortReadOversized(t *testing.T) {
	env := newPortTestEnv(t)
	env.reg.Provide(frame.BufTypeEvent, 1, ProviderFunc(func() []byte { return make([]byte, DefaultTxSize) }))
	env.request(frame.CmdReadNow, 1, frame.BufTypeEvent, 1)
	env.expectAck(1, frame.NakBufOverflow)
}

func TestPortAddressWhitelist(t *testing.T) {
	testCases := []struct {
		addr     frame.Addr
		accepted bool
	}{
		{0x45, true},
		{0x75, true},
		{0x85, true},
		{0x95, true},
		{0xd5, true},
		{0x35, false},
		{0x55, false},
		{0xe5, false},
		{0x46, false},
		{0x44, false},
	}

	for _, tc := range testCases {
		env := newPortTestEnv(t)
		env.reg.Provide(frame.BufTypeRTData, 0, ProviderFunc(func() []byte { return []byte{1} }))
		env.inject(&frame.Message{Command: frame.CmdReadNow, Addr: tc.addr, Seq: 1, BufType: frame.BufTypeRTData})
		env.step(3)
		msgs := env.sent()
		if !tc.accepted {
			require.Empty(t, msgs, "addr %02x", byte(tc.addr))
			require.Equal(t, uint64(1), env.port.Stats().RxDropped)
			continue
		}
		require.Len(t, msgs, 1, "addr %02x", byte(tc.addr))
		require.Equal(t, tc.addr.Reply(), msgs[0].Addr)
		require.Equal(t, frame.ClassProtection, msgs[0].Addr.Src())
	}
}

func TestPortWrite(t *testing.T) {
	env := newPortTestEnv(t)
	w := &mockWritable{}
	w.On("Store", []byte{1, 2}).Return(frame.Ack).Once()
	w.On("Store", []byte{0xff}).Return(frame.NakDataRange).Once()
	env.reg.Accept(frame.BufTypeSetp, 0, w)

	env.request(frame.CmdWrite, 2, frame.BufTypeSetp, 0, 1, 2)
	env.expectAck(2, frame.Ack)
	env.request(frame.CmdWrite, 3, frame.BufTypeSetp, 0, 0xff)
	env.expectAck(3, frame.NakDataRange)
	env.request(frame.CmdWrite, 4, frame.BufTypeSetp, 9, 1)
	env.expectAck(4, frame.NakBufInvalid)
	env.request(frame.CmdWrite, 5, 99, 0, 1)
	env.expectAck(5, frame.NakBufTypeInvalid)
	w.AssertExpectations(t)
}

func TestPortExecute(t *testing.T) {
	env := newPortTestEnv(t)
	var args [][]byte
	env.reg.Handle(frame.ActTypeReset, 2, ActionFunc(func(arg []byte) frame.AckCode {
		args = append(args, append([]byte(nil), arg...))
		return frame.Ack
	}))
	env.request(frame.CmdExecAck, 1, frame.ActTypeReset, 2, 0x10)
	m := env.expectAck(1, frame.Ack)
	require.Equal(t, frame.ActTypeReset, m.BufType)
	require.Equal(t, uint16(2), m.BufID)
	require.Equal(t, [][]byte{{0x10}}, args)

	env.request(frame.CmdExecAck, 2, frame.ActTypeReset, 3)
	env.expectAck(2, frame.NakCmdInvalid)
}

func TestPortMalformed(t *testing.T) {
	env := newPortTestEnv(t)
	w := &mockWritable{}
	env.reg.Accept(frame.BufTypeSetp, 0, w)

	// declared length 5, only 2 bytes present.
	body := []byte{byte(frame.CmdWrite), byte(fromDisplay), 3, byte(frame.BufTypeSetp), 0, 0, 5, 0, 1, 2}
	enc := frame.NewEncoder(64)
	enc.Begin()
	require.NoError(t, enc.Finish(body))
	env.injectRaw(enc.Bytes())
	env.expectAck(3, frame.NakCmdFormat)

	body[0] = byte(frame.CmdReadNow)
	enc.Begin()
	require.NoError(t, enc.Finish(body))
	env.injectRaw(enc.Bytes())
	env.step(3)
	require.Empty(t, env.sent())
	require.Equal(t, uint64(1), env.port.Stats().RxDropped)

	f, err := frame.Encode(&frame.Message{Command: frame.CmdWrite, Addr: fromDisplay, Seq: 4, BufType: frame.BufTypeSetp, Payload: []byte{7, 7, 7}})
	require.NoError(t, err)
	f[len(f)-5] ^= 0x80
	env.injectRaw(f)
	env.request(frame.Command(0x20), 5, frame.BufTypeSetp, 0)
	env.step(3)
	require.Empty(t, env.sent())
	stats := env.port.Stats()
	require.Equal(t, uint64(1), stats.RxCRCErrors)
	require.Equal(t, uint64(2), stats.RxDropped)
	w.AssertNotCalled(t, "Store", mock.Anything)
}

func TestPortPriority(t *testing.T) {
	env := newPortTestEnv(t)
	delayed := &captureDelayed{}
	w := &mockWritable{}
	w.On("Store", mock.Anything).Return(frame.Ack)
	env.reg.ProvideDelayed(frame.BufTypeEvent, 3, delayed)
	env.reg.Accept(frame.BufTypeSetp, 0, w)
	env.reg.Provide(frame.BufTypeRTData, 1, ProviderFunc(func() []byte { return []byte{0x42} }))

	env.request(frame.CmdReadLater, 1, frame.BufTypeEvent, 3)
	env.expectAck(1, frame.Ack)
	require.Equal(t, 1, delayed.starts)
	s, ok := env.port.Session()
	require.True(t, ok)
	require.Equal(t, SessionInProgress, s.Status)

	// write-response, ack and telemetry all become due in the same pass.
	delayed.done([]byte{9, 8, 7}, nil)
	env.request(frame.CmdWrite, 2, frame.BufTypeSetp, 0, 5)
	env.port.SetTelemetry(0, testConfig().Tick, BufKey{Type: frame.BufTypeRTData, ID: 1})
	env.step(1)

	msgs := env.sent()
	require.Len(t, msgs, 1)
	m := msgs[0]
	require.Equal(t, frame.CmdWriteResp, m.Command)
	require.NotZero(t, m.Seq)
	require.Equal(t, frame.BufTypeEvent, m.BufType)
	require.Equal(t, uint16(3), m.BufID)
	require.Equal(t, []byte{9, 8, 7}, m.Payload)

	m = env.next()
	require.Equal(t, frame.CmdAck, m.Command)
	require.Equal(t, frame.Seq(2), m.Seq)

	m = env.next()
	require.Equal(t, frame.CmdWriteResp, m.Command)
	require.Zero(t, m.Seq)
	require.Equal(t, frame.BufTypeRTData, m.BufType)
	require.Equal(t, []byte{0x42}, m.Payload)

	s, _ = env.port.Session()
	require.Equal(t, SessionCompleted, s.Status)
	require.Equal(t, uint64(1), env.port.Stats().Timeouts)
}

func TestPortDelayedTransmitFailure(t *testing.T) {
	env := newPortTestEnv(t)
	delayed := &captureDelayed{}
	env.reg.ProvideDelayed(frame.BufTypeEvent, 3, delayed)

	env.request(frame.CmdReadLater, 1, frame.BufTypeEvent, 3)
	env.expectAck(1, frame.Ack)

	lost := errors.New("line down")
	env.ch.fail = lost
	delayed.done([]byte{9, 8, 7}, nil)
	env.step(1)
	require.Zero(t, env.port.Obligations())
	require.Equal(t, uint64(1), env.port.Stats().TxErrors)

	s, ok := env.port.Session()
	require.True(t, ok)
	require.Equal(t, SessionFailed, s.Status)
	require.ErrorIs(t, s.Err, lost)

	env.ch.fail = nil
	env.request(frame.CmdReadNow, 2, frame.BufTypeCheck, 0)
	m := env.next()
	status, cmd, key, err := ParseCheck(m.Payload)
	require.NoError(t, err)
	require.Equal(t, SessionFailed, status)
	require.Equal(t, frame.CmdReadLater, cmd)
	require.Equal(t, BufKey{Type: frame.BufTypeEvent, ID: 3}, key)
}

func TestPortNonOverlap(t *testing.T) {
	env := newPortTestEnv(t)
	w := &mockWritable{}
	w.On("Store", []byte{1}).Return(frame.Ack)
	env.reg.Accept(frame.BufTypeSetp, 0, w)
	env.reg.Provide(frame.BufTypeRTData, 0, ProviderFunc(func() []byte { return []byte{3} }))

	env.ch.busy = true
	env.request(frame.CmdReadNow, 1, frame.BufTypeRTData, 0)
	env.request(frame.CmdWrite, 2, frame.BufTypeSetp, 0, 1)
	env.step(1)
	require.Len(t, env.ch.frames, 1)
	w.AssertNotCalled(t, "Store", mock.Anything)

	// the read response is serviced, the write is dispatched but its ack
	// waits for the transmitter.
	env.step(1)
	w.AssertNumberOfCalls(t, "Store", 1)
	require.Equal(t, ObligAck, env.port.Obligations())
	env.step(5)
	require.Len(t, env.ch.frames, 1)

	env.ch.busy = false
	msgs := env.sent()
	require.Equal(t, frame.CmdWriteResp, msgs[0].Command)
	m := env.next()
	require.Equal(t, frame.CmdAck, m.Command)
	require.Equal(t, frame.Seq(2), m.Seq)
}

func TestPortBusyRejection(t *testing.T) {
	env := newPortTestEnv(t)
	action := &captureAsync{}
	delayed := &captureDelayed{}
	env.reg.HandleAsync(frame.ActTypeDiag, 1, action)
	env.reg.ProvideDelayed(frame.BufTypeDiag, 1, delayed)

	env.request(frame.CmdExecCheck, 1, frame.ActTypeDiag, 1, 0x33)
	env.expectAck(1, frame.Ack)
	first, ok := env.port.Session()
	require.True(t, ok)
	require.Equal(t, SessionInProgress, first.Status)

	env.request(frame.CmdExecCheck, 2, frame.ActTypeDiag, 1)
	env.expectAck(2, frame.NakNotAvailable)
	env.request(frame.CmdReadLater, 3, frame.BufTypeDiag, 1)
	env.expectAck(3, frame.NakNotAvailable)
	require.Equal(t, 1, action.starts)
	require.Zero(t, delayed.starts)
	require.Equal(t, [][]byte{{0x33}}, action.args)

	s, _ := env.port.Session()
	require.Equal(t, first.ID, s.ID)
	require.Equal(t, SessionInProgress, s.Status)

	env.request(frame.CmdReadNow, 4, frame.BufTypeCheck, 0)
	m := env.next()
	require.Equal(t, frame.CmdWriteResp, m.Command)
	status, cmd, key, err := ParseCheck(m.Payload)
	require.NoError(t, err)
	require.Equal(t, SessionInProgress, status)
	require.Equal(t, frame.CmdExecCheck, cmd)
	require.Equal(t, BufKey{Type: frame.ActTypeDiag, ID: 1}, key)
	env.settle()

	action.done(nil, nil)
	env.request(frame.CmdReadNow, 5, frame.BufTypeCheck, 0)
	m = env.next()
	status, _, _, err = ParseCheck(m.Payload)
	require.NoError(t, err)
	require.Equal(t, SessionCompleted, status)
	env.settle()

	// a late second completion is ignored.
	action.done(nil, ErrTimeout)
	env.step(1)
	s, _ = env.port.Session()
	require.Equal(t, SessionCompleted, s.Status)

	env.request(frame.CmdReadLater, 6, frame.BufTypeDiag, 1)
	env.expectAck(6, frame.Ack)
	delayed.done(nil, ErrTimeout)
	env.step(1)
	s, _ = env.port.Session()
	require.Equal(t, SessionFailed, s.Status)
	require.NotEqual(t, first.ID, s.ID)
	require.Zero(t, env.port.Obligations())
}

func TestPortPush(t *testing.T) {
	env := newPortTestEnv(t)
	type result struct {
		code frame.AckCode
		err  error
	}
	var results []result
	done := func(code frame.AckCode, err error) {
		results = append(results, result{code, err})
	}

	require.NoError(t, env.port.Push(&PushRequest{
		Command: frame.CmdWrite,
		BufType: frame.BufTypeDiag,
		BufID:   2,
		Payload: []byte{9},
		Done:    done,
	}))
	m := env.next()
	require.Equal(t, frame.CmdWrite, m.Command)
	require.Equal(t, frame.Addr(0x54), m.Addr)
	require.Equal(t, frame.Seq(1), m.Seq)
	env.settle()
	require.Equal(t, []result{{frame.NakGeneral, ErrTimeout}}, results)

	require.NoError(t, env.port.Push(&PushRequest{
		Command: frame.CmdExecAck,
		BufType: frame.ActTypeTime,
		Payload: []byte{1, 2, 3, 4},
		Done:    done,
	}))
	m = env.next()
	require.Equal(t, frame.CmdExecAck, m.Command)
	require.Equal(t, frame.Seq(2), m.Seq)
	env.inject(&frame.Message{Command: frame.CmdAck, Addr: fromDisplay, Seq: 9, Payload: []byte{0}})
	env.inject(&frame.Message{Command: frame.CmdAck, Addr: fromDisplay, Seq: 2, BufType: frame.ActTypeTime, Payload: []byte{0}})
	env.step(1)
	require.Len(t, results, 2)
	require.Equal(t, result{frame.Ack, nil}, results[1])
	require.True(t, env.port.Idle())

	stats := env.port.Stats()
	require.Equal(t, uint64(1), stats.Timeouts)
	require.Equal(t, uint64(1), stats.StrayAcks)

	require.Error(t, env.port.Push(&PushRequest{Command: frame.CmdReadNow}))
	require.Equal(t, ErrPayloadTooLarge, env.port.Push(&PushRequest{
		Command: frame.CmdWrite,
		Payload: make([]byte, DefaultTxSize),
	}))
}

func TestTelemetryRoundRobin(t *testing.T) {
	var tm telemetry
	a := BufKey{Type: frame.BufTypeRTData, ID: 0}
	b1 := BufKey{Type: frame.BufTypeDiag, ID: 1}
	b2 := BufKey{Type: frame.BufTypeDiag, ID: 2}
	tm.slots[0] = telemetrySlot{keys: []BufKey{a}, interval: 1}
	tm.slots[3] = telemetrySlot{keys: []BufKey{b1, b2}, interval: 2}

	var got []BufKey
	for i := 0; i < 6; i++ {
		tm.tick()
		for {
			key, ok := tm.next()
			if !ok {
				break
			}
			got = append(got, key)
		}
	}
	require.Equal(t, []BufKey{a, b1, a, b2, a, a, b1, a, a}, got)
}
