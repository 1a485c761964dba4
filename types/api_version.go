package types

import (
	"encoding/json"
	"fmt"
)

type APIVersion struct {
	Major uint16
	Minor uint16
}

func (v APIVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

func (v APIVersion) IsZero() bool {
	return v.Major == 0 && v.Minor == 0
}

// AtLeast returns true if v is the same as or newer than other.
func (v APIVersion) AtLeast(other APIVersion) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	return v.Minor >= other.Minor
}

func ParseAPIVersion(s string) (APIVersion, error) {
	var v APIVersion
	if _, err := fmt.Sscanf(s, "%d.%d", &v.Major, &v.Minor); err != nil {
		return APIVersion{}, fmt.Errorf("unable to parse API version from %q: %w", s, err)
	}
	return v, nil
}

func (v *APIVersion) UnmarshalYAML(b []byte) error {
	r, err := ParseAPIVersion(unquoteYAML(b))
	if err != nil {
		return err
	}
	*v = r
	return nil
}

func (v APIVersion) MarshalYAML() ([]byte, error) {
	return json.Marshal(v.String())
}
