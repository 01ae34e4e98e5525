package transport

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/tripcomm/pkg/framework"
	"github.com/robotalks/tripcomm/pkg/link"
	"github.com/robotalks/tripcomm/pkg/link/frame"
)

// gateRW blocks reads until closed and writes until released.
type gateRW struct {
	closed  chan struct{}
	release chan struct{}
}

func (rw *gateRW) Read(p []byte) (int, error) {
	<-rw.closed
	return 0, io.EOF
}

func (rw *gateRW) Write(p []byte) (int, error) {
	<-rw.release
	return len(p), nil
}

func (rw *gateRW) Close() error {
	close(rw.closed)
	return nil
}

type readOnly struct {
	io.Reader
}

func (readOnly) Write(p []byte) (int, error) {
	return len(p), nil
}

func TestStreamTransmitBusy(t *testing.T) {
	rw := &gateRW{closed: make(chan struct{}), release: make(chan struct{})}
	s := NewStream("test", rw)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, s.TransmitDone())
	require.NoError(t, s.Transmit([]byte{0, 1}))
	require.False(t, s.TransmitDone())
	require.Equal(t, link.ErrNotIdle, s.Transmit([]byte{0, 1}))

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	close(rw.release)
	require.Eventually(t, s.TransmitDone, time.Second, time.Millisecond)
	require.Equal(t, uint64(2), s.Counters().TxBytes)
	cancel()
	require.Equal(t, context.Canceled, <-done)
}

func TestStreamRxLimit(t *testing.T) {
	data := make([]byte, 25)
	for i := range data {
		data[i] = byte(i)
	}
	s := NewStream("test", readOnly{bytes.NewReader(data)})
	s.RxLimit = 10
	require.Equal(t, io.EOF, s.Run(context.Background()))

	buf := make([]byte, 4)
	require.Equal(t, 4, s.Receive(buf))
	require.Equal(t, []byte{0, 1, 2, 3}, buf)
	buf = make([]byte, 32)
	require.Equal(t, 6, s.Receive(buf))
	require.Equal(t, []byte{4, 5, 6, 7, 8, 9}, buf[:6])
	require.Zero(t, s.Receive(buf))

	counters := s.Counters()
	require.Equal(t, uint64(25), counters.RxBytes)
	require.Equal(t, uint64(15), counters.RxDropped)
}

func TestPipeLink(t *testing.T) {
	unit, display := Pipe("unit", "display")
	reg := link.NewRegistry().
		Provide(frame.BufTypeRTData, 0, link.ProviderFunc(func() []byte { return []byte{1, 2, 3} }))
	conf := link.DefaultConfig()
	port := link.NewPort(conf, unit, reg)
	client := link.NewClient(link.DefaultClientConfig(), display)

	ctx, cancel := context.WithCancel(context.Background())
	loop := framework.NewLoop()
	loop.Interval = conf.Tick
	loop.Add(unit, display, port)
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()
	clientDone := make(chan error, 1)
	go func() { clientDone <- client.Run(ctx) }()

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()
	data, err := client.ReadNow(reqCtx, frame.BufTypeRTData, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, data)

	_, err = client.ReadNow(reqCtx, frame.BufTypeRTData, 9)
	var nak *link.NakError
	require.ErrorAs(t, err, &nak)
	require.Equal(t, frame.NakBufInvalid, nak.Code)

	cancel()
	require.Equal(t, context.Canceled, <-loopDone)
	require.Equal(t, context.Canceled, <-clientDone)
	require.NotZero(t, unit.Counters().RxBytes)
}
