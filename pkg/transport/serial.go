package transport

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate is the inter-processor UART rate.
const DefaultBaudRate = 115200

// OpenSerial opens a serial device as a Stream, 8N1.
func OpenSerial(device string, baud int) (*Stream, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return NewStream(device, port), nil
}

// SerialPorts lists the serial devices present.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
