package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

type RateControlMethod int

const (
	RateControlMethodUndefined = RateControlMethod(iota)
	RateControlMethodCBR
	RateControlMethodVBR
	RateControlMethodCQP
	RateControlMethodAVBR
	RateControlMethodICQ
	EndOfRateControlMethod
)

func (m RateControlMethod) String() string {
	switch m {
	case RateControlMethodUndefined:
		return "undefined"
	case RateControlMethodCBR:
		return "cbr"
	case RateControlMethodVBR:
		return "vbr"
	case RateControlMethodCQP:
		return "cqp"
	case RateControlMethodAVBR:
		return "avbr"
	case RateControlMethodICQ:
		return "icq"
	}
	return fmt.Sprintf("unknown_rate_control_%d", int(m))
}

func (m RateControlMethod) IsValid() bool {
	return m > RateControlMethodUndefined && m < EndOfRateControlMethod
}

// UsesBitrate returns true if the method is driven by a target bitrate
// rather than a fixed quantizer.
func (m RateControlMethod) UsesBitrate() bool {
	switch m {
	case RateControlMethodCBR, RateControlMethodVBR, RateControlMethodAVBR:
		return true
	}
	return false
}

func ParseRateControlMethod(s string) (RateControlMethod, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m := RateControlMethodUndefined + 1; m < EndOfRateControlMethod; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return RateControlMethodUndefined, fmt.Errorf("unknown rate control method %q", s)
}

func (m *RateControlMethod) UnmarshalYAML(b []byte) error {
	v, err := ParseRateControlMethod(unquoteYAML(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m RateControlMethod) MarshalYAML() ([]byte, error) {
	return json.Marshal(m.String())
}
