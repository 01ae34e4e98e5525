package transport

import "strings"

// DefaultOrigin is the origin presented when dialing a websocket link.
const DefaultOrigin = "http://localhost/"

// Open opens a link device: a ws:// or wss:// URL is dialed, anything else
// is opened as a serial device at baud.
func Open(device string, baud int) (*Stream, error) {
	if strings.HasPrefix(device, "ws://") || strings.HasPrefix(device, "wss://") {
		return DialWebsocket(device, DefaultOrigin)
	}
	return OpenSerial(device, baud)
}
