// Package frame provides the wire framing shared by both processor links.
package frame

// A frame is delimited by START_OF_PKT (0x00) and END_OF_PKT (0x01). Since the
// body may contain both values, every run of up to 126 non-delimiter bytes is
// preceded by a segment code. Bits 7..1 of a segment code hold the offset to
// the next segment code and bit 0 holds the delimiter value that was replaced
// at that position. An offset of 127 (code 0xFE) means a full run without an
// embedded delimiter.
//
//   [0x00] [code] body... [code] ... CRC-LSB CRC-MSB [0x01]
//
// The body and the CRC are stuffed as a single stream. The CRC is the
// CRC-16/MODBUS of the body, so replaying the CRC over body+CRC yields zero.
