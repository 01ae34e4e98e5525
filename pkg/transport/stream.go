// Package transport provides duplex byte channels for the links.
//
// A Stream pumps an io.ReadWriter with a reader goroutine and a writer
// goroutine and exposes the non-blocking link.Channel contract to the poll
// loop.
package transport

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/tripcomm/pkg/framework"
	"github.com/robotalks/tripcomm/pkg/link"
)

// DefaultRxLimit is the default number of received bytes buffered until
// the loop drains them.
const DefaultRxLimit = 4096

// Stream implements link.Channel over an io.ReadWriter.
type Stream struct {
	ReadWriter io.ReadWriter
	// RxLimit bounds the received bytes not yet taken by Receive. Excess
	// bytes are dropped and counted.
	RxLimit int

	name string

	rxLock sync.Mutex
	rxBuf  []byte

	txCh   chan []byte
	txBusy atomic.Bool

	rxBytes   atomic.Uint64
	rxDropped atomic.Uint64
	txBytes   atomic.Uint64
}

// Counters is a snapshot of the stream counters.
type Counters struct {
	RxBytes   uint64 `json:"rx_bytes"`
	RxDropped uint64 `json:"rx_dropped"`
	TxBytes   uint64 `json:"tx_bytes"`
}

// NewStream creates a Stream over rw.
func NewStream(name string, rw io.ReadWriter) *Stream {
	return &Stream{
		ReadWriter: rw,
		RxLimit:    DefaultRxLimit,
		name:       name,
		txCh:       make(chan []byte, 1),
	}
}

// Name implements framework.Named.
func (s *Stream) Name() string {
	return s.name
}

// Receive implements link.Channel.
func (s *Stream) Receive(p []byte) int {
	s.rxLock.Lock()
	defer s.rxLock.Unlock()
	n := copy(p, s.rxBuf)
	s.rxBuf = s.rxBuf[:copy(s.rxBuf, s.rxBuf[n:])]
	return n
}

// Transmit implements link.Channel. The frame is copied and written by the
// writer goroutine.
func (s *Stream) Transmit(f []byte) error {
	if !s.txBusy.CompareAndSwap(false, true) {
		return link.ErrNotIdle
	}
	s.txCh <- append([]byte(nil), f...)
	return nil
}

// TransmitDone implements link.Channel.
func (s *Stream) TransmitDone() bool {
	return !s.txBusy.Load()
}

// Counters returns a snapshot of the counters.
func (s *Stream) Counters() Counters {
	return Counters{
		RxBytes:   s.rxBytes.Load(),
		RxDropped: s.rxDropped.Load(),
		TxBytes:   s.txBytes.Load(),
	}
}

// Run implements framework.Runnable. It returns when ctx is canceled or
// either direction fails. The ReadWriter is closed on return if it is an
// io.Closer.
func (s *Stream) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go s.readLoop(errCh)
	defer s.close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			glog.Warningf("%s: read: %v", s.name, err)
			return err
		case f := <-s.txCh:
			n, err := s.ReadWriter.Write(f)
			s.txBytes.Add(uint64(n))
			s.txBusy.Store(false)
			if err != nil {
				glog.Warningf("%s: write: %v", s.name, err)
				return err
			}
		}
	}
}

// AddToLoop implements framework.LoopAdder.
func (s *Stream) AddToLoop(l *framework.Loop) {
	l.AddRunnable(s)
}

func (s *Stream) readLoop(errCh chan error) {
	buf := make([]byte, 256)
	for {
		n, err := s.ReadWriter.Read(buf)
		if n > 0 {
			s.push(buf[:n])
		}
		if err != nil {
			errCh <- err
			return
		}
	}
}

func (s *Stream) push(p []byte) {
	s.rxBytes.Add(uint64(len(p)))
	s.rxLock.Lock()
	defer s.rxLock.Unlock()
	if free := s.RxLimit - len(s.rxBuf); len(p) > free {
		if free < 0 {
			free = 0
		}
		s.rxDropped.Add(uint64(len(p) - free))
		p = p[:free]
	}
	s.rxBuf = append(s.rxBuf, p...)
}

func (s *Stream) close() {
	if closer, ok := s.ReadWriter.(io.Closer); ok {
		closer.Close()
	}
}
