package link

import (
	"time"

	"github.com/robotalks/tripcomm/pkg/link/frame"
)

// Buffer sizes of the primary link.
const (
	DefaultRxSize = 512
	DefaultTxSize = 350
)

// NumTelemetrySlots is the number of periodic telemetry slots.
const NumTelemetrySlots = 7

// Config defines the parameters of a Port.
type Config struct {
	// Name identifies the port in logs and statistics.
	Name string
	// Class is the device class of this unit.
	Class frame.Class
	// Peer is the device class unsolicited messages are sent to.
	Peer frame.Class
	// Peers are the device classes allowed to address this unit.
	Peers []frame.Class

	// RxSize is the receive ring size, rounded up to a power of two. The
	// message buffer has the same size.
	RxSize int
	// TxSize is the transmit buffer capacity.
	TxSize int

	// Tick is the poll period.
	Tick time.Duration
	// Turnaround is the wait after a frame not expecting any response.
	Turnaround time.Duration
	// Response is the maximum wait for an expected acknowledgement.
	Response time.Duration
	// Delayed is the maximum wait of a client for the write-response
	// completing a delayed read.
	Delayed time.Duration
	// PushQueue is the capacity of the unsolicited push queue.
	PushQueue int
}

// DefaultConfig returns the configuration of the display processor port.
func DefaultConfig() Config {
	return Config{
		Name:       "display",
		Class:      frame.ClassProtection,
		Peer:       frame.ClassDisplay,
		Peers:      frame.PeerClasses,
		RxSize:     DefaultRxSize,
		TxSize:     DefaultTxSize,
		Tick:       10 * time.Millisecond,
		Turnaround: 20 * time.Millisecond,
		Response:   500 * time.Millisecond,
		Delayed:    5 * time.Second,
		PushQueue:  8,
	}
}

// DefaultClientConfig returns the configuration of a display side client.
func DefaultClientConfig() Config {
	conf := DefaultConfig()
	conf.Name = "client"
	conf.Class = frame.ClassDisplay
	conf.Peer = frame.ClassProtection
	conf.Peers = []frame.Class{frame.ClassProtection}
	return conf
}

// Ticks converts a duration into a number of poll periods, at least one.
func (c *Config) Ticks(d time.Duration) int {
	if c.Tick <= 0 {
		return 1
	}
	n := int((d + c.Tick - 1) / c.Tick)
	if n < 1 {
		n = 1
	}
	return n
}

func (c *Config) isPeer(class frame.Class) bool {
	for _, peer := range c.Peers {
		if peer == class {
			return true
		}
	}
	return false
}
