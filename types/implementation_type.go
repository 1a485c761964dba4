package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ImplementationType int

const (
	ImplementationTypeAny = ImplementationType(iota)
	ImplementationTypeSoftware
	ImplementationTypeHardware
	EndOfImplementationType
)

func (t ImplementationType) String() string {
	switch t {
	case ImplementationTypeAny:
		return "any"
	case ImplementationTypeSoftware:
		return "software"
	case ImplementationTypeHardware:
		return "hardware"
	}
	return fmt.Sprintf("unknown_implementation_type_%d", int(t))
}

func (t ImplementationType) IsValid() bool {
	return t >= ImplementationTypeAny && t < EndOfImplementationType
}

func ParseImplementationType(s string) (ImplementationType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "sw":
		return ImplementationTypeSoftware, nil
	case "hw":
		return ImplementationTypeHardware, nil
	}
	for t := ImplementationTypeAny; t < EndOfImplementationType; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return ImplementationTypeAny, fmt.Errorf("unknown implementation type %q", s)
}

func (t *ImplementationType) UnmarshalYAML(b []byte) error {
	v, err := ParseImplementationType(unquoteYAML(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t ImplementationType) MarshalYAML() ([]byte, error) {
	return json.Marshal(t.String())
}
