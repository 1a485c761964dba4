package libav

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/xaionaro-go/avsession/device"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/xsync"
)

// hwDevice is a libav hardware device context.
type hwDevice struct {
	locker     xsync.Mutex
	deviceType types.HardwareDeviceType
	name       types.HardwareDeviceName
	context    *astiav.HardwareDeviceContext
	closer     *astikit.Closer
}

var _ device.Context = (*hwDevice)(nil)

func openHWDevice(
	ctx context.Context,
	deviceType types.HardwareDeviceType,
	deviceName types.HardwareDeviceName,
) (_ret *hwDevice, _err error) {
	logger.Tracef(ctx, "openHWDevice(%s, '%s')", deviceType, deviceName)
	defer func() { logger.Tracef(ctx, "/openHWDevice(%s, '%s'): %v", deviceType, deviceName, _err) }()
	hwCtx, err := astiav.CreateHardwareDeviceContext(
		astiav.HardwareDeviceType(deviceType),
		string(deviceName),
		nil,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create hardware (%s:%s) device context: %w", deviceType, deviceName, err)
	}
	d := &hwDevice{
		deviceType: deviceType,
		name:       deviceName,
		context:    hwCtx,
		closer:     astikit.NewCloser(),
	}
	d.closer.Add(hwCtx.Free)
	return d, nil
}

func (d *hwDevice) String() string {
	return fmt.Sprintf("libav:%s:%s", d.deviceType, d.name)
}

func (d *hwDevice) Type() types.HardwareDeviceType {
	return d.deviceType
}

func (d *hwDevice) Name() types.HardwareDeviceName {
	return d.name
}

func (d *hwDevice) HardwareDeviceContext() *astiav.HardwareDeviceContext {
	return d.context
}

func (d *hwDevice) Close(ctx context.Context) error {
	return xsync.DoR1(ctx, &d.locker, func() error {
		if d.closer == nil {
			return nil
		}
		err := d.closer.Close()
		d.closer = nil
		d.context = nil
		return err
	})
}

// hardwareDeviceContext returns the libav device context of dev, or nil
// for the CPU.
func hardwareDeviceContext(dev device.Context) *astiav.HardwareDeviceContext {
	hw, ok := dev.(*hwDevice)
	if !ok {
		return nil
	}
	return hw.HardwareDeviceContext()
}
