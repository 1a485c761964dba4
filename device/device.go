// Package device manages the device contexts (accelerators) sessions run
// on.
package device

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avsession/types"
)

// Context is an opened device.
type Context interface {
	fmt.Stringer
	Type() types.HardwareDeviceType
	Name() types.HardwareDeviceName
	Close(ctx context.Context) error
}

// Opener opens a device context of the given type.
type Opener func(
	ctx context.Context,
	deviceType types.HardwareDeviceType,
	deviceName types.HardwareDeviceName,
) (Context, error)

// Software is the "device" of implementations that run on the CPU.
type Software struct {
	name types.HardwareDeviceName
}

var _ Context = (*Software)(nil)

func NewSoftware(name types.HardwareDeviceName) *Software {
	return &Software{name: name}
}

func (d *Software) String() string {
	return fmt.Sprintf("software:%s", d.name)
}

func (d *Software) Type() types.HardwareDeviceType {
	return types.HardwareDeviceTypeNone
}

func (d *Software) Name() types.HardwareDeviceName {
	return d.name
}

func (*Software) Close(context.Context) error {
	return nil
}
