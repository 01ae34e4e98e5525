package frame

import "github.com/sigurn/crc16"

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRCInit returns the initial accumulator value.
func CRCInit() uint16 {
	return crc16.Init(crcTable)
}

// CRCUpdate folds one byte into the accumulator.
func CRCUpdate(acc uint16, b byte) uint16 {
	return crc16.Update(acc, []byte{b}, crcTable)
}

// Checksum computes the CRC of data.
func Checksum(data []byte) uint16 {
	return crc16.Complete(crc16.Update(CRCInit(), data, crcTable), crcTable)
}

// CRCComplete finalizes an accumulator into the value sent on the wire.
func CRCComplete(acc uint16) uint16 {
	return crc16.Complete(acc, crcTable)
}
