package channel

import (
	"errors"
	"fmt"
)

// DetectionLength is the size of a detection record
const DetectionLength = 14

// ErrShortDetection is returned for detection frames under DetectionLength bytes
var ErrShortDetection = errors.New("channel: short detection frame")

// DetectionRecord encodes the record announcing an access code: nine zero
// bytes, the LAP big endian, then 0xff 0xf0
func DetectionRecord(lap uint32) [DetectionLength]byte {
	var rec [DetectionLength]byte
	rec[9] = byte(lap >> 16)
	rec[10] = byte(lap >> 8)
	rec[11] = byte(lap)
	rec[12] = 0xff
	rec[13] = 0xf0
	return rec
}

// ParseDetection returns the LAP carried by a detection record
func ParseDetection(frame []byte) (uint32, error) {
	if len(frame) < DetectionLength {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortDetection, len(frame))
	}
	return uint32(frame[9])<<16 | uint32(frame[10])<<8 | uint32(frame[11]), nil
}
