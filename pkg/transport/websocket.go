package transport

import (
	"context"
	"net/http"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"
)

// DialWebsocket connects to a websocket endpoint serving a link.
func DialWebsocket(url, origin string) (*Stream, error) {
	conn, err := websocket.Dial(url, "", origin)
	if err != nil {
		return nil, err
	}
	conn.PayloadType = websocket.BinaryFrame
	return NewStream(url, conn), nil
}

// WebsocketHandler returns a handler which accepts one peer at a time and
// hands each connection to serve as a running Stream. serve returns when the
// peer should be released.
func WebsocketHandler(ctx context.Context, serve func(context.Context, *Stream)) http.Handler {
	sem := make(chan struct{}, 1)
	return websocket.Handler(func(conn *websocket.Conn) {
		select {
		case sem <- struct{}{}:
		default:
			glog.Warningf("websocket %s: link busy", conn.Request().RemoteAddr)
			conn.Close()
			return
		}
		defer func() { <-sem }()

		conn.PayloadType = websocket.BinaryFrame
		s := NewStream(conn.Request().RemoteAddr, conn)
		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			done <- s.Run(streamCtx)
			cancel()
		}()
		glog.Infof("websocket %s: connected", s.Name())
		serve(streamCtx, s)
		cancel()
		glog.Infof("websocket %s: disconnected: %v", s.Name(), <-done)
	})
}
