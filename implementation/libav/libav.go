// Package libav is an implementation on top of libav (FFmpeg) through
// go-astiav. The CPU flavor is registered on import; accelerated flavors
// are registered with RegisterHardware once the device is known to work.
package libav

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avsession/bitstream"
	"github.com/xaionaro-go/avsession/device"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
)

const Name = "libav"

var APIVersion = types.APIVersion{Major: 2, Minor: 6}

// framedCodecs are the codecs whose elementary streams are delimited with
// start codes, so they could be fed to a decoder without a demuxer.
var framedCodecs = []types.CodecID{
	types.CodecIDAVC,
	types.CodecIDHEVC,
	types.CodecIDMPEG2,
}

func init() {
	implementation.Register(New(types.HardwareDeviceTypeNone))
}

// SetupLogging forwards the libav log into the logger of ctx.
func SetupLogging(ctx context.Context) {
	l := logger.FromCtx(ctx)
	astiav.SetLogLevel(LogLevelToAstiav(l.Level()))
	astiav.SetLogCallback(func(c astiav.Classer, level astiav.LogLevel, fmt, msg string) {
		var cs string
		if c != nil {
			if cl := c.Class(); cl != nil {
				cs = " - class: " + cl.String()
			}
		}
		l.Logf(LogLevelFromAstiav(level), "%s%s", strings.TrimSpace(msg), cs)
	})
}

// RegisterHardware probes the given accelerators and registers an
// implementation for each of the working ones into the registry.
func RegisterHardware(
	ctx context.Context,
	registry *implementation.Registry,
	deviceTypes ...types.HardwareDeviceType,
) error {
	var errs []error
	for _, deviceType := range deviceTypes {
		if !deviceType.IsHardware() {
			errs = append(errs, fmt.Errorf("%s is not an accelerator", deviceType))
			continue
		}
		dev, err := openHWDevice(ctx, deviceType, "")
		if err != nil {
			logger.Warnf(ctx, "%s is not available: %v", deviceType, err)
			errs = append(errs, err)
			continue
		}
		if err := dev.Close(ctx); err != nil {
			logger.Errorf(ctx, "unable to close %s: %v", dev, err)
		}
		if err := registry.Register(ctx, New(deviceType)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Libav struct {
	deviceType  types.HardwareDeviceType
	description implementation.Description
}

var _ implementation.Implementation = (*Libav)(nil)

func New(deviceType types.HardwareDeviceType) *Libav {
	return &Libav{
		deviceType:  deviceType,
		description: newDescription(deviceType),
	}
}

func implementationName(deviceType types.HardwareDeviceType) string {
	if !deviceType.IsHardware() {
		return Name
	}
	return Name + "-" + deviceType.String()
}

func newDescription(deviceType types.HardwareDeviceType) implementation.Description {
	ctx := context.Background()
	fourCCs := supportedFourCCs()
	d := implementation.Description{
		Name:          implementationName(deviceType),
		Type:          types.ImplementationTypeSoftware,
		APIVersion:    APIVersion,
		MemoryTypes:   []types.MemoryType{types.MemoryTypeSystem},
		DeviceTypes:   []types.HardwareDeviceType{deviceType},
		DeviceSharing: true,
	}
	if deviceType.IsHardware() {
		d.Type = types.ImplementationTypeHardware
		d.MemoryTypes = append(d.MemoryTypes, types.MemoryTypeVideo)
	} else {
		d.VPP = &implementation.VPPCaps{
			InFourCCs:  fourCCs,
			OutFourCCs: fourCCs,
		}
	}

	for _, codecID := range framedCodecs {
		maxBFrames := uint32(4)
		if codecID == types.CodecIDMPEG2 {
			maxBFrames = 2
		}
		caps := implementation.CodecCaps{
			CodecID: codecID,
			FourCCs: fourCCs,
			RateControl: []types.RateControlMethod{
				types.RateControlMethodCQP,
				types.RateControlMethodCBR,
				types.RateControlMethodVBR,
			},
			MaxBFrames: maxBFrames,
		}
		if c, isHW := findCodec(ctx, false, codecID, deviceType); c != nil && (!deviceType.IsHardware() || isHW || hasHardwareConfig(c, deviceType)) {
			d.Decoders = append(d.Decoders, caps)
		}
		if c, isHW := findCodec(ctx, true, codecID, deviceType); c != nil && (!deviceType.IsHardware() || isHW) {
			d.Encoders = append(d.Encoders, caps)
		}
	}
	return d
}

func hasHardwareConfig(c *astiav.Codec, deviceType types.HardwareDeviceType) bool {
	_, _, found := hardwareConfig(c, deviceType)
	return found
}

func (l *Libav) String() string {
	return l.description.Name
}

func (l *Libav) Description() implementation.Description {
	return l.description
}

func (l *Libav) OpenDevice(
	ctx context.Context,
	deviceType types.HardwareDeviceType,
	deviceName types.HardwareDeviceName,
) (device.Context, error) {
	if deviceType != l.deviceType {
		return nil, types.ErrUnsupportedParameter{Param: "HardwareDeviceType", Reason: fmt.Sprintf("%s runs on %s only", l, l.deviceType)}
	}
	if !deviceType.IsHardware() {
		return device.NewSoftware(deviceName), nil
	}
	return openHWDevice(ctx, deviceType, deviceName)
}

// DecodeHeader decodes the beginning of the stream with a temporary
// decoder until the first picture comes out.
func (l *Libav) DecodeHeader(
	ctx context.Context,
	codecID types.CodecID,
	data []byte,
	isLast bool,
) (_ret *implementation.VideoParam, _err error) {
	logger.Tracef(ctx, "DecodeHeader(%s, %d bytes)", codecID, len(data))
	defer func() { logger.Tracef(ctx, "/DecodeHeader(%s): %v", codecID, _err) }()
	c, _ := findCodec(ctx, false, codecID, types.HardwareDeviceTypeNone)
	if c == nil {
		return nil, types.ErrUnsupportedParameter{Param: "CodecID", Reason: fmt.Sprintf("libav has no decoder for %s", codecID)}
	}
	cc := astiav.AllocCodecContext(c)
	if cc == nil {
		return nil, types.ErrAllocationFailed{Resource: "codec context", Err: fmt.Errorf("AllocCodecContext returned nil")}
	}
	defer cc.Free()
	cc.SetFlags2(astiav.CodecContextFlags2(astiav.CodecFlag2Chunks))
	if err := cc.Open(c, nil); err != nil {
		return nil, types.ErrIO{Op: "open codec", Err: err}
	}

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	f := astiav.AllocFrame()
	defer f.Free()

	receive := func() (bool, error) {
		err := cc.ReceiveFrame(f)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, astiav.ErrEagain), errors.Is(err, astiav.ErrEof):
			return false, nil
		default:
			return false, err
		}
	}

	got := false
	for rest := data; !got; {
		raw, consumed, ok := bitstream.NextRawUnit(rest, isLast)
		rest = rest[consumed:]
		if !ok {
			if consumed == 0 {
				break
			}
			continue
		}
		if err := pkt.FromData(raw); err != nil {
			return nil, types.ErrAllocationFailed{Resource: "packet", Err: err}
		}
		err := cc.SendPacket(pkt)
		pkt.Unref()
		if err != nil {
			logger.Debugf(ctx, "unable to decode a unit: %v", err)
			continue
		}
		var recvErr error
		if got, recvErr = receive(); recvErr != nil {
			return nil, types.ErrIO{Op: "decode header", Err: recvErr}
		}
	}
	if !got && isLast {
		if err := cc.SendPacket(nil); err == nil {
			got, _ = receive()
		}
	}
	if !got {
		if isLast {
			return nil, types.ErrIO{Op: "decode header", Err: fmt.Errorf("no picture could be decoded")}
		}
		return nil, implementation.ErrNeedMoreInput
	}

	fourCC, ok := fourCCFromPixelFormat(f.PixelFormat())
	if !ok {
		logger.Debugf(ctx, "pixel format %s has no fourcc, the pictures will be converted to %s", f.PixelFormat(), types.FourCCI420)
		fourCC = types.FourCCI420
	}
	frameRate := rationalFromAstiav(cc.Framerate())
	if !frameRate.IsPositive() {
		frameRate = types.Rational{Num: 30, Den: 1}
	}
	params := implementation.DefaultDecodeParam(codecID)
	params.FrameInfo = types.NewFrameInfo(fourCC, uint32(f.Width()), uint32(f.Height()), frameRate)
	return &params, nil
}

func (l *Libav) NewDecoder(
	ctx context.Context,
	dev device.Context,
	params implementation.VideoParam,
) (implementation.Decoder, error) {
	return newDecoder(ctx, dev, params)
}

func (l *Libav) NewEncoder(
	ctx context.Context,
	dev device.Context,
	params implementation.VideoParam,
) (implementation.Encoder, error) {
	return newEncoder(ctx, dev, params)
}

func (l *Libav) NewVPP(
	ctx context.Context,
	_ device.Context,
	params implementation.VideoParam,
) (implementation.VPP, error) {
	if l.description.VPP == nil {
		return nil, types.ErrUnsupportedParameter{Param: "VPP", Reason: fmt.Sprintf("%s has no video processing", l)}
	}
	return newVPP(ctx, params)
}
