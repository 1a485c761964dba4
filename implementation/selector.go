package implementation

import (
	"fmt"

	"github.com/xaionaro-go/avsession/types"
)

// Selector is the result of a successful Select. The zero value is not a
// valid selector.
type Selector struct {
	implementation Implementation
	description    Description
	properties     Properties
}

func (s Selector) IsValid() bool {
	return s.implementation != nil
}

func (s Selector) String() string {
	if !s.IsValid() {
		return "Selector(<invalid>)"
	}
	return fmt.Sprintf("Selector(%s)", s.description)
}

func (s Selector) Implementation() Implementation {
	return s.implementation
}

func (s Selector) Description() Description {
	return s.description
}

// Properties returns a copy of the properties the selector was made with.
func (s Selector) Properties() Properties {
	return s.properties.Clone()
}

// DeviceType returns the device sessions made from this selector run on.
func (s Selector) DeviceType() types.HardwareDeviceType {
	if s.properties.HardwareDeviceType.IsHardware() {
		return s.properties.HardwareDeviceType
	}
	return s.description.DefaultDeviceType()
}

func (s Selector) DeviceName() types.HardwareDeviceName {
	return s.properties.HardwareDeviceName
}
