package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/tripcomm/pkg/link/frame"
)

// pipeEnd is one end of an in-memory link, delivering frames to its peer
// immediately.
type pipeEnd struct {
	rx   []byte
	peer *pipeEnd
}

func (p *pipeEnd) Receive(b []byte) int {
	n := copy(b, p.rx)
	p.rx = p.rx[n:]
	return n
}

func (p *pipeEnd) Transmit(f []byte) error {
	p.peer.rx = append(p.peer.rx, f...)
	return nil
}

func (p *pipeEnd) TransmitDone() bool {
	return true
}

func testClientConfig() Config {
	conf := DefaultClientConfig()
	conf.Tick = 10 * time.Millisecond
	conf.Response = 200 * time.Millisecond
	conf.Delayed = time.Second
	return conf
}

type clientTestEnv struct {
	t      *testing.T
	reg    *Registry
	port   *Port
	client *Client
	now    time.Time
}

func newClientTestEnv(t *testing.T) *clientTestEnv {
	unit, display := &pipeEnd{}, &pipeEnd{}
	unit.peer, display.peer = display, unit
	env := &clientTestEnv{t: t, reg: NewRegistry(), now: time.Unix(0, 0)}
	env.port = NewPort(testConfig(), unit, env.reg)
	env.client = NewClient(testClientConfig(), display)
	return env
}

func (e *clientTestEnv) step(n int) {
	for i := 0; i < n; i++ {
		e.port.Step()
		e.now = e.now.Add(10 * time.Millisecond)
		e.client.Step(e.now)
	}
}

func (e *clientTestEnv) result(call *Call) Result {
	for i := 0; i < 500; i++ {
		select {
		case r := <-call.ResultChan():
			return r
		default:
			e.step(1)
		}
	}
	e.t.Fatal("no result")
	return Result{}
}

func (e *clientTestEnv) do(cmd frame.Command, typ frame.BufType, id uint16, payload ...byte) Result {
	return e.result(e.client.Do(&Request{Command: cmd, BufType: typ, BufID: id, Payload: payload}))
}

func requireNak(t *testing.T, code frame.AckCode, err error) {
	var nak *NakError
	require.True(t, errors.As(err, &nak), "%v", err)
	require.Equal(t, code, nak.Code)
}

func TestClientReadWrite(t *testing.T) {
	env := newClientTestEnv(t)
	var stored []byte
	env.reg.Provide(frame.BufTypeSetp, 0, ProviderFunc(func() []byte { return stored }))
	env.reg.Accept(frame.BufTypeSetp, 0, StoreFunc(func(p []byte) frame.AckCode {
		if len(p) == 0 {
			return frame.NakDataRange
		}
		stored = append([]byte(nil), p...)
		return frame.Ack
	}))

	setpoints := []byte{0x01, 0x00, 0x02, 0x01, 0xfe, 0x00}
	r := env.do(frame.CmdWrite, frame.BufTypeSetp, 0, setpoints...)
	require.NoError(t, r.Err)
	require.Equal(t, frame.Ack, r.Code)

	r = env.do(frame.CmdReadNow, frame.BufTypeSetp, 0)
	require.NoError(t, r.Err)
	require.Equal(t, setpoints, r.Data)

	r = env.do(frame.CmdWrite, frame.BufTypeSetp, 0)
	requireNak(t, frame.NakDataRange, r.Err)
	r = env.do(frame.CmdReadNow, frame.BufTypeSetp, 1)
	requireNak(t, frame.NakBufInvalid, r.Err)
}

func TestClientReadLater(t *testing.T) {
	env := newClientTestEnv(t)
	delayed := &captureDelayed{}
	env.reg.ProvideDelayed(frame.BufTypeEvent, 3, delayed)

	call := env.client.Do(&Request{Command: frame.CmdReadLater, BufType: frame.BufTypeEvent, BufID: 3})
	for i := 0; i < 100 && delayed.done == nil; i++ {
		env.step(1)
	}
	require.NotNil(t, delayed.done)
	env.step(5)
	select {
	case r := <-call.ResultChan():
		t.Fatalf("unexpected result %v", r)
	default:
	}

	waveform := make([]byte, 300)
	for i := range waveform {
		waveform[i] = byte(i)
	}
	delayed.done(waveform, nil)
	r := env.result(call)
	require.NoError(t, r.Err)
	require.Equal(t, waveform, r.Data)

	env.step(5)
	require.True(t, env.port.Idle())
	stats := env.port.Stats()
	require.Zero(t, stats.Timeouts)
	require.Zero(t, stats.StrayAcks)
}

func TestClientExecuteCheck(t *testing.T) {
	env := newClientTestEnv(t)
	action := &captureAsync{}
	env.reg.HandleAsync(frame.ActTypeTU, 0, action)
	ctx := context.Background()

	call := env.client.Do(&Request{Command: frame.CmdExecCheck, BufType: frame.ActTypeTU})
	r := env.result(call)
	require.NoError(t, r.Err)

	call = env.client.Do(&Request{Command: frame.CmdReadNow, BufType: frame.BufTypeCheck})
	r = env.result(call)
	require.NoError(t, r.Err)
	status, cmd, _, err := ParseCheck(r.Data)
	require.NoError(t, err)
	require.Equal(t, SessionInProgress, status)
	require.Equal(t, frame.CmdExecCheck, cmd)

	r = env.do(frame.CmdExecCheck, frame.ActTypeTU, 0)
	requireNak(t, frame.NakNotAvailable, r.Err)

	action.done(nil, errors.New("self test failed"))
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				env.step(1)
			}
		}
	}()
	status, err = env.client.CheckStatus(ctx)
	close(stop)
	wg.Wait()
	require.NoError(t, err)
	require.Equal(t, SessionFailed, status)
}

func TestClientUnsolicited(t *testing.T) {
	env := newClientTestEnv(t)
	env.client.Handler = func(m *frame.Message) frame.AckCode {
		if m.BufType == frame.BufTypeDiag {
			return frame.NakDataRange
		}
		return frame.Ack
	}
	env.reg.Provide(frame.BufTypeRTData, 0, ProviderFunc(func() []byte { return []byte{1, 2, 3} }))
	env.port.SetTelemetry(0, 20*time.Millisecond, BufKey{Type: frame.BufTypeRTData})

	var codes []frame.AckCode
	require.NoError(t, env.port.Push(&PushRequest{
		Command: frame.CmdWrite,
		BufType: frame.BufTypeDiag,
		BufID:   7,
		Payload: []byte{0xaa},
		Done: func(code frame.AckCode, err error) {
			require.NoError(t, err)
			codes = append(codes, code)
		},
	}))
	env.step(10)
	require.Equal(t, []frame.AckCode{frame.NakDataRange}, codes)

	var pushed, telemetry int
	for len(env.client.EventChan()) > 0 {
		m := <-env.client.EventChan()
		switch m.Command {
		case frame.CmdWrite:
			pushed++
			require.Equal(t, []byte{0xaa}, m.Payload)
		case frame.CmdWriteResp:
			telemetry++
			require.Zero(t, m.Seq)
			require.Equal(t, []byte{1, 2, 3}, m.Payload)
		}
	}
	require.Equal(t, 1, pushed)
	require.NotZero(t, telemetry)
	require.Zero(t, env.port.Stats().Timeouts)
}

func TestClientNoReply(t *testing.T) {
	ch := &testChannel{}
	client := NewClient(testClientConfig(), ch)
	now := time.Unix(0, 0)
	first := client.Do(&Request{Command: frame.CmdWrite, BufType: frame.BufTypeSetp, Payload: []byte{1}})
	second := client.Do(&Request{Command: frame.CmdWrite, BufType: frame.BufTypeSetp, Payload: []byte{2}})
	client.Step(now)
	client.Step(now)
	require.Len(t, ch.frames, 2)
	require.Equal(t, frame.Seq(1), first.RequestSeq())
	require.Equal(t, frame.Seq(2), second.RequestSeq())
	m := decodeFrame(t, ch.frames[1])
	require.Equal(t, frame.Addr(0x45), m.Addr)
	require.Equal(t, []byte{2}, m.Payload)

	f, err := frame.Encode(&frame.Message{Command: frame.CmdAck, Addr: 0x54, Seq: 2, BufType: frame.BufTypeSetp, Payload: []byte{0}})
	require.NoError(t, err)
	ch.in = f
	client.Step(now)
	require.Equal(t, ErrNoReply, (<-first.ResultChan()).Err)
	r := <-second.ResultChan()
	require.NoError(t, r.Err)
	require.Equal(t, frame.Ack, r.Code)
}

func TestClientTimeout(t *testing.T) {
	ch := &testChannel{}
	client := NewClient(testClientConfig(), ch)
	now := time.Unix(0, 0)
	call := client.Do(&Request{Command: frame.CmdReadNow, BufType: frame.BufTypeRTData})
	client.Step(now)
	client.Step(now.Add(100 * time.Millisecond))
	require.Empty(t, call.ResultChan())
	client.Step(now.Add(201 * time.Millisecond))
	require.Equal(t, ErrTimeout, (<-call.ResultChan()).Err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pending := client.Do(&Request{Command: frame.CmdReadNow, BufType: frame.BufTypeRTData})
	require.Equal(t, context.Canceled, client.Run(ctx))
	require.Equal(t, ErrClosed, (<-pending.ResultChan()).Err)
	closed := client.Do(&Request{Command: frame.CmdReadNow})
	require.Equal(t, ErrClosed, (<-closed.ResultChan()).Err)
}
