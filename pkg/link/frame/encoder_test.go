package frame

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// segmentCodes walks a frame and returns the positions of its segment codes.
func segmentCodes(t *testing.T, f []byte) []int {
	require.Equal(t, StartOfPacket, f[0])
	require.Equal(t, EndOfPacket, f[len(f)-1])
	var codes []int
	for pos := 1; pos < len(f)-1; pos += int(f[pos] >> 1) {
		require.NotZero(t, f[pos]>>1, "zero offset at %d", pos)
		codes = append(codes, pos)
	}
	return codes
}

func encodeChunks(t *testing.T, size int, chunks ...[]byte) []byte {
	e := NewEncoder(size)
	e.Begin()
	for n, chunk := range chunks {
		var err error
		if n == len(chunks)-1 {
			err = e.Finish(chunk)
		} else {
			err = e.Append(chunk)
		}
		require.NoError(t, err)
	}
	return e.Bytes()
}

func TestCRCResidue(t *testing.T) {
	data := []byte("123456789")
	require.Equal(t, uint16(0x4B37), Checksum(data))
	acc := CRCInit()
	for _, b := range data {
		acc = CRCUpdate(acc, b)
	}
	crc := CRCComplete(acc)
	acc = CRCUpdate(CRCUpdate(acc, byte(crc)), byte(crc>>8))
	require.Zero(t, acc)
}

func TestEncoderRuns(t *testing.T) {
	fill := func(n int) []byte {
		return bytes.Repeat([]byte{0x55}, n)
	}

	t.Run("126 bytes", func(t *testing.T) {
		f := encodeChunks(t, 300, fill(126))
		codes := segmentCodes(t, f)
		require.Equal(t, 1, codes[0])
		require.Equal(t, codeFullRun, f[1])
		// the next code starts right after the run and covers the CRC only.
		require.Equal(t, 128, codes[1])
		require.Equal(t, fill(126), f[2:128])
	})

	t.Run("127 bytes", func(t *testing.T) {
		f := encodeChunks(t, 300, fill(127))
		codes := segmentCodes(t, f)
		require.Equal(t, codeFullRun, f[1])
		require.Equal(t, 128, codes[1])
		require.Equal(t, byte(0x55), f[129])
	})

	t.Run("delimiters", func(t *testing.T) {
		f := encodeChunks(t, 64, []byte{0x10, 0x00, 0x01, 0x01, 0x20})
		// 0x10 then a literal 0, a literal 1 right after, another 1, then 0x20.
		require.Equal(t, byte(2<<1|0), f[1])
		require.Equal(t, byte(0x10), f[2])
		require.Equal(t, byte(1<<1|1), f[3])
		require.Equal(t, byte(1<<1|1), f[4])
		segmentCodes(t, f)
	})

	t.Run("chunks", func(t *testing.T) {
		data := make([]byte, 300)
		for i := range data {
			data[i] = byte(i)
		}
		require.Equal(t,
			encodeChunks(t, 400, data),
			encodeChunks(t, 400, data[:8], data[8:200], data[200:]))
	})
}

func TestEncoderErrors(t *testing.T) {
	e := NewEncoder(16)
	require.Equal(t, ErrNotStarted, e.Append([]byte{1}))
	e.Begin()
	require.Equal(t, ErrFrameTooLong, e.Finish(bytes.Repeat([]byte{2}, 16)))
	require.Nil(t, e.Bytes())
	require.Equal(t, ErrFrameTooLong, e.Finish(nil))

	e.Begin()
	require.NoError(t, e.Finish(bytes.Repeat([]byte{2}, 11)))
	require.Len(t, e.Bytes(), 16)
	require.Equal(t, len(e.Bytes()), MaxEncodedLen(11))
}

func TestEncoderStagesAliasedSource(t *testing.T) {
	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(i + 2)
	}
	e := NewEncoder(512)
	e.Begin()
	require.NoError(t, e.Finish(data))

	// the previous frame spans more than one run, reuse it as the source.
	src := e.buf[2:202]
	expect := encodeChunks(t, 512, append([]byte(nil), src...))
	e.Begin()
	require.NoError(t, e.Finish(src))
	require.Equal(t, expect, e.Bytes())
}

func TestMaxEncodedLen(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for n := 0; n < 600; n += 7 {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(rnd.Intn(3) + 1)
		}
		f := encodeChunks(t, MaxEncodedLen(n), data)
		require.True(t, len(f) <= MaxEncodedLen(n))
		require.True(t, FitsTx(MaxEncodedLen(n+HeaderLen), n))
	}
}
