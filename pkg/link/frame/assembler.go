package frame

type asmState int

const (
	asmIdle     asmState = iota // waiting for START_OF_PKT
	asmSegment                  // waiting for a segment code
	asmData                     // copying the bytes of a run
	asmFinalize                 // END_OF_PKT seen, message complete
)

// noLiteral marks a segment code which doesn't replace a delimiter.
const noLiteral = -1

// Assembler rebuilds messages from the received byte stream.
type Assembler struct {
	msg     []byte
	ndx     int
	state   asmState
	literal int
	left    int
	crc     uint16

	overruns  uint64
	malformed uint64
}

// NewAssembler creates an Assembler with a message buffer of size bytes.
func NewAssembler(size int) *Assembler {
	return &Assembler{msg: make([]byte, size)}
}

// Step consumes bytes from r until a message is complete or r is drained.
// Bytes following a complete message stay in r for the next call.
func (a *Assembler) Step(r *Ring) bool {
	for {
		b, ok := r.ReadByte()
		if !ok {
			return false
		}
		if a.Feed(b) {
			return true
		}
	}
}

// Feed consumes one byte and reports whether a message is complete.
func (a *Assembler) Feed(b byte) bool {
	if b == StartOfPacket {
		a.restart()
		return false
	}
	switch a.state {
	case asmIdle:
		return false
	case asmSegment:
		if b == EndOfPacket {
			// the final code always closes its run with a zero literal.
			if a.literal != 0 {
				return a.drop()
			}
			a.state = asmFinalize
			break
		}
		offset := int(b >> 1)
		if a.literal != noLiteral && !a.emit(byte(a.literal)) {
			return false
		}
		a.left = offset - 1
		if offset == int(codeFullRun>>1) {
			a.literal = noLiteral
		} else {
			a.literal = int(b & 1)
		}
		if a.left > 0 {
			a.state = asmData
		}
	case asmData:
		if b == EndOfPacket {
			return a.drop()
		}
		if !a.emit(b) {
			return false
		}
		if a.left--; a.left == 0 {
			a.state = asmSegment
		}
	}
	if a.state == asmFinalize {
		a.state = asmIdle
		return true
	}
	return false
}

// Valid reports whether the completed message passed the CRC check.
func (a *Assembler) Valid() bool {
	return a.ndx >= CRCLen && a.crc == 0
}

// Message returns the completed message body with the CRC stripped.
// The slice is reused by the next message.
func (a *Assembler) Message() []byte {
	if a.ndx < CRCLen {
		return nil
	}
	return a.msg[:a.ndx-CRCLen]
}

// Receiving indicates a frame is partially assembled.
func (a *Assembler) Receiving() bool {
	return a.state != asmIdle
}

// Overruns returns the number of frames dropped for exceeding the buffer.
func (a *Assembler) Overruns() uint64 {
	return a.overruns
}

// Malformed returns the number of frames dropped for ending with a segment
// code the encoder never produces.
func (a *Assembler) Malformed() uint64 {
	return a.malformed
}

// Reset returns to idle, dropping a partial frame.
func (a *Assembler) Reset() {
	a.state = asmIdle
}

func (a *Assembler) restart() {
	a.ndx = 0
	a.crc = CRCInit()
	a.literal = noLiteral
	a.left = 0
	a.state = asmSegment
}

func (a *Assembler) drop() bool {
	a.malformed++
	a.state = asmIdle
	return false
}

func (a *Assembler) emit(b byte) bool {
	if a.ndx >= len(a.msg) {
		a.overruns++
		a.state = asmIdle
		return false
	}
	a.msg[a.ndx] = b
	a.ndx++
	a.crc = CRCUpdate(a.crc, b)
	return true
}
