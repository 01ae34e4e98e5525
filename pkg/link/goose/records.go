package goose

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortRecord indicates a record payload shorter than its layout.
var ErrShortRecord = errors.New("short record")

// NumControls is the number of open/close control pairs in a status record.
const NumControls = 8

// Record lengths on the wire.
const (
	StatusControlLen = 2 + 6 + 2*NumControls
	MeterValuesLen   = 2 + 4*NumMeterValues
	ConnectivityLen  = 2 + 4
)

// NumMeterValues is the number of readings in a MeterValues record.
const NumMeterValues = 13

// Control is one open/close command pair.
type Control struct {
	Open  uint8 `json:"open"`
	Close uint8 `json:"close"`
}

// StatusControl is the breaker status and control record.
type StatusControl struct {
	DeviceID     uint16               `json:"device_id"`
	CBPos        uint8                `json:"cb_pos"`
	TripFailure  uint8                `json:"trip_failure"`
	ZSI          uint8                `json:"zsi"`
	Capture      uint8                `json:"capture"`
	SPSetSelect  uint8                `json:"sp_set_select"`
	SourceStatus uint8                `json:"source_status"`
	Controls     [NumControls]Control `json:"controls"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *StatusControl) MarshalBinary() ([]byte, error) {
	b := make([]byte, StatusControlLen)
	binary.LittleEndian.PutUint16(b, r.DeviceID)
	b[2], b[3], b[4] = r.CBPos, r.TripFailure, r.ZSI
	b[5], b[6], b[7] = r.Capture, r.SPSetSelect, r.SourceStatus
	for n, c := range r.Controls {
		b[8+2*n], b[9+2*n] = c.Open, c.Close
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *StatusControl) UnmarshalBinary(b []byte) error {
	if len(b) < StatusControlLen {
		return ErrShortRecord
	}
	r.DeviceID = binary.LittleEndian.Uint16(b)
	r.CBPos, r.TripFailure, r.ZSI = b[2], b[3], b[4]
	r.Capture, r.SPSetSelect, r.SourceStatus = b[5], b[6], b[7]
	for n := range r.Controls {
		r.Controls[n] = Control{Open: b[8+2*n], Close: b[9+2*n]}
	}
	return nil
}

// MeterValues is the analog values record.
type MeterValues struct {
	DeviceID uint16                  `json:"device_id"`
	Values   [NumMeterValues]float32 `json:"values"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *MeterValues) MarshalBinary() ([]byte, error) {
	b := make([]byte, MeterValuesLen)
	binary.LittleEndian.PutUint16(b, r.DeviceID)
	for n, v := range r.Values {
		binary.LittleEndian.PutUint32(b[2+4*n:], math.Float32bits(v))
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *MeterValues) UnmarshalBinary(b []byte) error {
	if len(b) < MeterValuesLen {
		return ErrShortRecord
	}
	r.DeviceID = binary.LittleEndian.Uint16(b)
	for n := range r.Values {
		r.Values[n] = math.Float32frombits(binary.LittleEndian.Uint32(b[2+4*n:]))
	}
	return nil
}

// Connectivity is the periodic presence record of a device.
type Connectivity struct {
	DeviceID uint16 `json:"device_id"`
	Uptime   uint32 `json:"uptime"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *Connectivity) MarshalBinary() ([]byte, error) {
	b := make([]byte, ConnectivityLen)
	binary.LittleEndian.PutUint16(b, r.DeviceID)
	binary.LittleEndian.PutUint32(b[2:], r.Uptime)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Connectivity) UnmarshalBinary(b []byte) error {
	if len(b) < ConnectivityLen {
		return ErrShortRecord
	}
	r.DeviceID = binary.LittleEndian.Uint16(b)
	r.Uptime = binary.LittleEndian.Uint32(b[2:])
	return nil
}
