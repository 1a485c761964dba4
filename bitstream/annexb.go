// annexb.go implements start-code framing of compressed units with
// emulation prevention.

package bitstream

import (
	"bytes"
	"fmt"
)

var startCode = []byte{0, 0, 1}

const (
	emulationPreventionByte = 0x03
	stopByte                = 0x80
)

// Unit is a single start-code delimited unit.
type Unit struct {
	Type    byte
	Payload []byte
}

func (u Unit) String() string {
	return fmt.Sprintf("Unit(type:0x%02X, size:%d)", u.Type, len(u.Payload))
}

// FindStartCode returns the index of the first start code at or after
// "from", or -1.
func FindStartCode(b []byte, from int) int {
	if from >= len(b) {
		return -1
	}
	idx := bytes.Index(b[from:], startCode)
	if idx < 0 {
		return -1
	}
	return from + idx
}

// NextUnit parses the first unit of b. Garbage before the first start code
// is skipped. A unit is complete once the next start code is seen, or at
// the end of b if isLast is set. "consumed" is the amount of bytes to drop
// from the beginning of b (it may be non-zero even if ok is false).
func NextUnit(b []byte, isLast bool) (unit Unit, consumed int, ok bool) {
	begin := FindStartCode(b, 0)
	if begin < 0 {
		// keep a possible incomplete start code at the tail
		keep := min(len(b), len(startCode)-1)
		if isLast {
			keep = 0
		}
		return Unit{}, len(b) - keep, false
	}

	payloadBegin := begin + len(startCode)
	end := FindStartCode(b, payloadBegin)
	switch {
	case end >= 0:
		// zero bytes directly before the start code belong to it (4-byte start codes)
		for end > payloadBegin && b[end-1] == 0 {
			end--
		}
		consumed = end
	case isLast:
		end = len(b)
		consumed = end
	default:
		return Unit{}, begin, false
	}

	raw := b[payloadBegin:end]
	if len(raw) == 0 {
		return Unit{}, consumed, false
	}
	rbsp := RemoveEmulationPrevention(nil, raw)
	rbsp = trimTrailingBits(rbsp)
	if len(rbsp) == 0 {
		return Unit{}, consumed, false
	}
	return Unit{
		Type:    rbsp[0],
		Payload: rbsp[1:],
	}, consumed, true
}

// NextRawUnit is like NextUnit, but returns the unit as is: with its start
// code and without removing the emulation prevention.
func NextRawUnit(b []byte, isLast bool) (raw []byte, consumed int, ok bool) {
	begin := FindStartCode(b, 0)
	if begin < 0 {
		keep := min(len(b), len(startCode)-1)
		if isLast {
			keep = 0
		}
		return nil, len(b) - keep, false
	}
	end := FindStartCode(b, begin+len(startCode))
	switch {
	case end >= 0:
		for end > begin+len(startCode) && b[end-1] == 0 {
			end--
		}
	case isLast:
		end = len(b)
	default:
		return nil, begin, false
	}
	if end == begin+len(startCode) {
		return nil, end, false
	}
	return b[begin:end], end, true
}

func trimTrailingBits(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	if len(b) > 0 && b[len(b)-1] == stopByte {
		b = b[:len(b)-1]
	}
	return b
}

// AppendUnit appends a start code followed by the escaped type and payload
// to dst.
func AppendUnit(dst []byte, unitType byte, payload []byte) []byte {
	dst = append(dst, startCode...)
	dst = AddEmulationPrevention(dst, []byte{unitType})
	zeros := 0
	if unitType == 0 {
		zeros = 1
	}
	dst = addEmulationPrevention(dst, payload, zeros)
	// the stop byte keeps the payload from ending with zeros
	dst = append(dst, stopByte)
	return dst
}

// AddEmulationPrevention appends src to dst inserting an 0x03 byte wherever
// two zero bytes would be followed by a byte less than or equal to 0x03.
func AddEmulationPrevention(dst, src []byte) []byte {
	return addEmulationPrevention(dst, src, 0)
}

func addEmulationPrevention(dst, src []byte, zeros int) []byte {
	for _, c := range src {
		if zeros >= 2 && c <= emulationPreventionByte {
			dst = append(dst, emulationPreventionByte)
			zeros = 0
		}
		dst = append(dst, c)
		if c == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return dst
}

// RemoveEmulationPrevention is the inverse of AddEmulationPrevention.
func RemoveEmulationPrevention(dst, src []byte) []byte {
	zeros := 0
	for _, c := range src {
		if zeros >= 2 && c == emulationPreventionByte {
			zeros = 0
			continue
		}
		dst = append(dst, c)
		if c == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return dst
}
