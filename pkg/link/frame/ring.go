package frame

// Ring is a power-of-two circular receive buffer.
//
// The transport side fills it at the head, the assembler drains it at the
// tail. Indexes wrap with the buffer, so one slot is always kept free.
type Ring struct {
	buf  []byte
	mask int
	head int
	tail int
}

// NewRing creates a Ring holding at least size bytes, rounded up to a power
// of two.
func NewRing(size int) *Ring {
	n := 2
	for n < size {
		n <<= 1
	}
	return &Ring{buf: make([]byte, n), mask: n - 1}
}

// Len returns the number of bytes available to read.
func (r *Ring) Len() int {
	return (r.head - r.tail) & r.mask
}

// Free returns the number of bytes that can be written.
func (r *Ring) Free() int {
	return r.mask - r.Len()
}

// Reset discards all buffered bytes.
func (r *Ring) Reset() {
	r.head, r.tail = 0, 0
}

// Write copies as much of p as fits and returns the count.
func (r *Ring) Write(p []byte) int {
	return r.Fill(func(dst []byte) int {
		n := copy(dst, p)
		p = p[n:]
		return n
	})
}

// Fill lets fn write directly into the free space, at most twice when the
// free region wraps. fn returns the number of bytes written; a short count
// stops filling.
func (r *Ring) Fill(fn func([]byte) int) int {
	var total int
	for free := r.Free(); free > 0; free = r.Free() {
		end := r.head + free
		if end > len(r.buf) {
			end = len(r.buf)
		}
		seg := r.buf[r.head:end]
		n := fn(seg)
		if n <= 0 {
			break
		}
		r.head = (r.head + n) & r.mask
		total += n
		if n < len(seg) {
			break
		}
	}
	return total
}

// ReadByte reads the byte at the tail.
func (r *Ring) ReadByte() (byte, bool) {
	if r.head == r.tail {
		return 0, false
	}
	b := r.buf[r.tail]
	r.tail = (r.tail + 1) & r.mask
	return b, true
}
