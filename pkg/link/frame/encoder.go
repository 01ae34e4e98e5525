package frame

// MaxRun is the longest run of data bytes covered by one segment code.
const MaxRun = 126

// codeFullRun is the segment code of a full run without embedded delimiter.
const codeFullRun byte = 0xFE

// MaxEncodedLen returns the worst-case frame length of a body of n bytes.
func MaxEncodedLen(n int) int {
	n += CRCLen
	return n + n/MaxRun + 3
}

// FitsTx checks whether a payload of n bytes always fits a transmit buffer.
func FitsTx(capacity, n int) bool {
	return MaxEncodedLen(HeaderLen+n) <= capacity
}

// Encoder assembles frames into a fixed transmit buffer.
//
// A frame is built by Begin, any number of Append calls and a final Finish.
// All chunks are stuffed and CRC'd as one continuous stream, so a message can
// be composed from several non-contiguous sources.
type Encoder struct {
	buf     []byte
	stage   []byte
	ndx     int
	segNdx  int
	runLen  int
	crc     uint16
	started bool
	err     error
}

// NewEncoder creates an Encoder with a transmit buffer of size bytes.
func NewEncoder(size int) *Encoder {
	return &Encoder{buf: make([]byte, size)}
}

// Cap returns the transmit buffer capacity.
func (e *Encoder) Cap() int {
	return len(e.buf)
}

// Begin starts a new frame, discarding anything not yet finished.
func (e *Encoder) Begin() {
	e.buf[0] = StartOfPacket
	e.segNdx, e.ndx, e.runLen = 1, 2, 0
	e.crc = CRCInit()
	e.started, e.err = true, nil
}

// Append encodes a non-final chunk.
func (e *Encoder) Append(data []byte) error {
	return e.chunk(data, false)
}

// Finish encodes the final chunk followed by the CRC and END_OF_PKT.
// After Finish, Bytes returns the frame to transmit.
func (e *Encoder) Finish(data []byte) error {
	return e.chunk(data, true)
}

// Bytes returns the finished frame. The slice aliases the transmit buffer
// and is only valid until the next Begin.
func (e *Encoder) Bytes() []byte {
	if e.started || e.err != nil {
		return nil
	}
	return e.buf[:e.ndx]
}

// Encode encodes a complete message.
func (e *Encoder) Encode(m *Message) error {
	var hdr [HeaderLen]byte
	m.PutHeader(hdr[:])
	e.Begin()
	if err := e.Append(hdr[:]); err != nil {
		return err
	}
	return e.Finish(m.Payload)
}

func (e *Encoder) chunk(data []byte, final bool) error {
	if !e.started {
		return ErrNotStarted
	}
	if e.err != nil {
		return e.err
	}
	// Longer chunks cross a segment boundary while being encoded, copy them
	// so the source can never alias the region being written.
	if len(data) > MaxRun {
		e.stage = append(e.stage[:0], data...)
		data = e.stage
	}
	for _, b := range data {
		e.crc = CRCUpdate(e.crc, b)
		if !e.put(b) {
			return e.fail()
		}
	}
	if !final {
		return nil
	}
	crc := CRCComplete(e.crc)
	if !e.put(byte(crc)) || !e.put(byte(crc>>8)) || e.ndx >= len(e.buf) {
		return e.fail()
	}
	e.buf[e.segNdx] = byte(e.runLen+1) << 1
	e.buf[e.ndx] = EndOfPacket
	e.ndx++
	e.started = false
	return nil
}

func (e *Encoder) put(b byte) bool {
	if b > EndOfPacket {
		if e.ndx >= len(e.buf) {
			return false
		}
		e.buf[e.ndx] = b
		e.ndx++
		if e.runLen++; e.runLen < MaxRun {
			return true
		}
		e.buf[e.segNdx] = codeFullRun
	} else {
		e.buf[e.segNdx] = byte(e.runLen+1)<<1 | b
	}
	if e.ndx >= len(e.buf) {
		return false
	}
	e.segNdx = e.ndx
	e.ndx++
	e.runLen = 0
	return true
}

func (e *Encoder) fail() error {
	e.err = ErrFrameTooLong
	return e.err
}

// Encode encodes a message into a newly allocated frame.
func Encode(m *Message) ([]byte, error) {
	e := NewEncoder(MaxEncodedLen(HeaderLen + len(m.Payload)))
	if err := e.Encode(m); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}
