package types

import (
	"encoding/json"
)

// HardwareDeviceName is the path or identifier of the device to open,
// e.g. "/dev/dri/renderD128".
type HardwareDeviceName string

func (n *HardwareDeviceName) UnmarshalYAML(b []byte) error {
	*n = HardwareDeviceName(unquoteYAML(b))
	return nil
}

func (n HardwareDeviceName) MarshalYAML() ([]byte, error) {
	return json.Marshal(string(n))
}
