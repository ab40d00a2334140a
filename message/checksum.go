package message

import (
	"github.com/sigurn/crc16"
)

// OSDP uses CRC-16/AUG-CCITT: polynomial 0x1021, initial value 0x1D0F, no reflection.
var crcTable = crc16.MakeTable(crc16.CRC16_AUG_CCITT)

// Checksum returns the 8-bit two's complement checksum of data.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}

	return -sum
}

// CRC returns the 16-bit frame check of data.
func CRC(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// checkSize returns the size of the trailing frame check field.
func checkSize(useCRC bool) int {
	if useCRC {
		return 2
	}

	return 1
}

// appendCheck appends the checksum or little-endian CRC of frame to frame.
func appendCheck(frame []byte, useCRC bool) []byte {
	if useCRC {
		crc := CRC(frame)
		return append(frame, byte(crc), byte(crc>>8))
	}

	return append(frame, Checksum(frame))
}

// verifyCheck reports whether the trailing check field of frame matches its content.
func verifyCheck(frame []byte, useCRC bool) bool {
	n := checkSize(useCRC)
	if len(frame) < n {
		return false
	}
	body := frame[:len(frame)-n]
	if useCRC {
		crc := CRC(body)
		return frame[len(frame)-2] == byte(crc) && frame[len(frame)-1] == byte(crc>>8)
	}

	return frame[len(frame)-1] == Checksum(body)
}
