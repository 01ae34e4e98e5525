package frame

import (
	"encoding/binary"
	"fmt"
)

// Delimiters.
const (
	StartOfPacket byte = 0x00
	EndOfPacket   byte = 0x01
)

// HeaderLen is the length of the message header preceding the payload.
const HeaderLen = 8

// CRCLen is the length of the trailing CRC.
const CRCLen = 2

// Command is the operation carried by a message.
type Command byte

// Commands.
const (
	CmdReadNow   Command = 0x02
	CmdReadLater Command = 0x03
	CmdWriteResp Command = 0x04
	CmdWrite     Command = 0x06
	CmdExecAck   Command = 0x09
	CmdExecCheck Command = 0x0A
	CmdAck       Command = 0x0E
)

var commandNames = map[Command]string{
	CmdReadNow:   "read-now",
	CmdReadLater: "read-later",
	CmdWriteResp: "write-response",
	CmdWrite:     "write",
	CmdExecAck:   "exec-ack",
	CmdExecCheck: "exec-check",
	CmdAck:       "ack",
}

// String implements fmt.Stringer.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("cmd(%d)", byte(c))
}

// ExpectsAck indicates the receiver answers the command with an ack.
func (c Command) ExpectsAck() bool {
	switch c {
	case CmdWrite, CmdExecAck, CmdExecCheck:
		return true
	}
	return false
}

// Class identifies a device class in one nibble of an address.
type Class byte

// Device classes.
const (
	ClassDisplay    Class = 0x04
	ClassProtection Class = 0x05
	ClassBluetooth  Class = 0x07
	ClassUSB        Class = 0x08
	ClassEthernet1  Class = 0x09
	ClassEthernet2  Class = 0x0A
	ClassEthernet3  Class = 0x0B
	ClassEthernet4  Class = 0x0C
	ClassEthernet5  Class = 0x0D
)

// PeerClasses are the display processor ports allowed to address this unit.
var PeerClasses = []Class{
	ClassDisplay,
	ClassBluetooth,
	ClassUSB,
	ClassEthernet1,
	ClassEthernet2,
	ClassEthernet3,
	ClassEthernet4,
	ClassEthernet5,
}

// Addr packs the source class (high nibble) and destination class (low nibble).
type Addr byte

// MakeAddr builds an address.
func MakeAddr(src, dst Class) Addr {
	return Addr(byte(src&0x0f)<<4 | byte(dst&0x0f))
}

// Src returns the source class.
func (a Addr) Src() Class {
	return Class(a >> 4)
}

// Dst returns the destination class.
func (a Addr) Dst() Class {
	return Class(a & 0x0f)
}

// Reply returns the address used to answer a message sent to a.
func (a Addr) Reply() Addr {
	return MakeAddr(a.Dst(), a.Src())
}

// BufType selects the family of a buffer.
type BufType byte

// Buffer types.
const (
	BufTypeRTData  BufType = 3
	BufTypeDiag    BufType = 4
	BufTypeSetp    BufType = 5
	BufTypeEvent   BufType = 7
	BufTypeCheck   BufType = 8
	BufTypeFactory BufType = 13
	BufTypeGoose   BufType = 20
)

// Execute action types, carried in the buffer type field of execute commands.
const (
	ActTypeSetp    BufType = 0
	ActTypeReset   BufType = 1
	ActTypeTU      BufType = 2
	ActTypeCapture BufType = 3
	ActTypeDiag    BufType = 4
	ActTypeTime    BufType = 5
	ActTypeOthers  BufType = 6
	ActTypePwd     BufType = 7
	ActTypeFactory BufType = 13
)

// AckCode is the status carried by an acknowledgement.
type AckCode byte

// ACK/NAK codes.
const (
	Ack                AckCode = 0x00
	NakGeneral         AckCode = 0x01
	NakBufInvalid      AckCode = 0x02
	NakBufTypeInvalid  AckCode = 0x03
	NakNotAvailable    AckCode = 0x04
	NakNotState        AckCode = 0x05
	NakDataCRC         AckCode = 0x06
	NakDataRange       AckCode = 0x07
	NakNoSession       AckCode = 0x08
	NakNoSessionInProg AckCode = 0x09
	NakIncSession      AckCode = 0x0A
	NakBufOverflow     AckCode = 0x0B
	NakCmdFormat       AckCode = 0x0C
	NakCmdInvalid      AckCode = 0x0D
)

var ackNames = [...]string{
	"ack",
	"general",
	"buffer-invalid",
	"buffer-type-invalid",
	"not-available",
	"not-in-state",
	"data-crc",
	"data-range",
	"no-session",
	"no-session-in-progress",
	"incomplete-session",
	"buffer-overflow",
	"command-format",
	"command-invalid",
}

// String implements fmt.Stringer.
func (c AckCode) String() string {
	if int(c) < len(ackNames) {
		return ackNames[c]
	}
	return fmt.Sprintf("code(%d)", byte(c))
}

// IsAck indicates a positive acknowledgement.
func (c AckCode) IsAck() bool {
	return c == Ack
}

// Seq is the sequence number correlating a request with its ack.
type Seq byte

// Next calculates the next sequence number, skipping 0.
func (s Seq) Next() Seq {
	n := byte(s) + 1
	if n == 0 {
		n = 1
	}
	return Seq(n)
}

// Message is the unit of exchange on either link.
type Message struct {
	Command Command
	Addr    Addr
	Seq     Seq
	BufType BufType
	BufID   uint16
	Payload []byte
}

// String implements fmt.Stringer.
func (m *Message) String() string {
	return fmt.Sprintf("%s addr=%02x seq=%d buf=%d/%d len=%d",
		m.Command, byte(m.Addr), m.Seq, m.BufType, m.BufID, len(m.Payload))
}

// PutHeader writes the header into b, which must be at least HeaderLen long.
func (m *Message) PutHeader(b []byte) {
	b[0], b[1], b[2], b[3] = byte(m.Command), byte(m.Addr), byte(m.Seq), byte(m.BufType)
	binary.LittleEndian.PutUint16(b[4:], m.BufID)
	binary.LittleEndian.PutUint16(b[6:], uint16(len(m.Payload)))
}

// Header returns the encoded header.
func (m *Message) Header() []byte {
	b := make([]byte, HeaderLen)
	m.PutHeader(b)
	return b
}

// Parse decodes a message body (header + payload, CRC excluded).
// The payload aliases body.
func Parse(body []byte) (Message, error) {
	var m Message
	if len(body) < HeaderLen {
		return m, ErrShortMessage
	}
	m.Command = Command(body[0])
	m.Addr = Addr(body[1])
	m.Seq = Seq(body[2])
	m.BufType = BufType(body[3])
	m.BufID = binary.LittleEndian.Uint16(body[4:])
	size := int(binary.LittleEndian.Uint16(body[6:]))
	m.Payload = body[HeaderLen:]
	if size != len(m.Payload) {
		return m, &LengthError{Declared: size, Actual: len(m.Payload)}
	}
	return m, nil
}
