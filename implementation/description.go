package implementation

import (
	"fmt"
	"slices"

	"github.com/xaionaro-go/avsession/types"
)

// Description is the static capability set of an implementation.
type Description struct {
	Name       string
	Type       types.ImplementationType
	APIVersion types.APIVersion

	Decoders []CodecCaps
	Encoders []CodecCaps

	// VPP is nil if the implementation provides no video processing.
	VPP *VPPCaps

	MemoryTypes []types.MemoryType

	// DeviceTypes lists the accelerators the implementation can run on;
	// HardwareDeviceTypeNone means the CPU.
	DeviceTypes []types.HardwareDeviceType

	// DeviceSharing is true if one device context may be used by many
	// sessions at once.
	DeviceSharing bool
}

func (d Description) String() string {
	return fmt.Sprintf("%s(%s, API %s)", d.Name, d.Type, d.APIVersion)
}

type CodecCaps struct {
	CodecID       types.CodecID
	MaxResolution types.Resolution
	FourCCs       []types.FourCC
	RateControl   []types.RateControlMethod
	MaxBFrames    uint32
}

type VPPCaps struct {
	MaxResolution       types.Resolution
	InFourCCs           []types.FourCC
	OutFourCCs          []types.FourCC
	FrameRateConversion bool
}

func (d Description) Decoder(codecID types.CodecID) (CodecCaps, bool) {
	return findCodec(d.Decoders, codecID)
}

func (d Description) Encoder(codecID types.CodecID) (CodecCaps, bool) {
	return findCodec(d.Encoders, codecID)
}

func findCodec(caps []CodecCaps, codecID types.CodecID) (CodecCaps, bool) {
	for _, c := range caps {
		if c.CodecID == codecID {
			return c, true
		}
	}
	return CodecCaps{}, false
}

func (d Description) SupportsMemory(memType types.MemoryType) bool {
	return memType == types.MemoryTypeUndefined || slices.Contains(d.MemoryTypes, memType)
}

func (d Description) SupportsDevice(deviceType types.HardwareDeviceType) bool {
	return slices.Contains(d.DeviceTypes, deviceType)
}

// DefaultDeviceType is the device type used when the caller did not
// request one.
func (d Description) DefaultDeviceType() types.HardwareDeviceType {
	if len(d.DeviceTypes) == 0 {
		return types.HardwareDeviceTypeNone
	}
	return d.DeviceTypes[0]
}

func fitsInto(size, limit types.Resolution) bool {
	if limit.IsZero() {
		return true
	}
	return size.Width <= limit.Width && size.Height <= limit.Height
}

// CheckDecode validates decoding parameters against the capabilities.
func (d Description) CheckDecode(params VideoParam) error {
	caps, ok := d.Decoder(params.CodecID)
	if !ok {
		return types.ErrUnsupportedParameter{Param: "CodecID", Reason: fmt.Sprintf("%s cannot decode %s", d.Name, params.CodecID)}
	}
	if err := d.checkCodecFrame(caps, params.FrameInfo); err != nil {
		return err
	}
	return d.checkMemory(params.IOPattern.Out())
}

// CheckEncode validates encoding parameters against the capabilities.
func (d Description) CheckEncode(params VideoParam) error {
	caps, ok := d.Encoder(params.CodecID)
	if !ok {
		return types.ErrUnsupportedParameter{Param: "CodecID", Reason: fmt.Sprintf("%s cannot encode %s", d.Name, params.CodecID)}
	}
	if err := d.checkCodecFrame(caps, params.FrameInfo); err != nil {
		return err
	}
	if len(caps.RateControl) > 0 && !slices.Contains(caps.RateControl, params.RateControl.Method) {
		return types.ErrUnsupportedParameter{Param: "RateControl.Method", Reason: fmt.Sprintf("%s is not supported by %s", params.RateControl.Method, d.Name)}
	}
	if params.GOP.BFrames > caps.MaxBFrames {
		return types.ErrUnsupportedParameter{Param: "GOP.BFrames", Reason: fmt.Sprintf("%d > %d", params.GOP.BFrames, caps.MaxBFrames)}
	}
	return d.checkMemory(params.IOPattern.In())
}

// CheckVPP validates video processing parameters against the
// capabilities.
func (d Description) CheckVPP(params VideoParam) error {
	if d.VPP == nil {
		return types.ErrUnsupportedParameter{Param: "VPP", Reason: fmt.Sprintf("%s has no video processing", d.Name)}
	}
	for _, item := range []struct {
		Param   string
		Info    types.FrameInfo
		FourCCs []types.FourCC
	}{
		{"InFrameInfo", params.InFrameInfo, d.VPP.InFourCCs},
		{"OutFrameInfo", params.OutFrameInfo, d.VPP.OutFourCCs},
	} {
		if !slices.Contains(item.FourCCs, item.Info.FourCC) {
			return types.ErrUnsupportedParameter{Param: item.Param + ".FourCC", Reason: fmt.Sprintf("%s is not supported by %s", item.Info.FourCC, d.Name)}
		}
		if !fitsInto(item.Info.Size, d.VPP.MaxResolution) {
			return types.ErrUnsupportedParameter{Param: item.Param + ".Size", Reason: fmt.Sprintf("%s exceeds %s", item.Info.Size, d.VPP.MaxResolution)}
		}
	}
	if params.InFrameInfo.FrameRate != params.OutFrameInfo.FrameRate && !d.VPP.FrameRateConversion {
		return types.ErrUnsupportedParameter{Param: "OutFrameInfo.FrameRate", Reason: "frame rate conversion is not supported"}
	}
	if err := d.checkMemory(params.IOPattern.In()); err != nil {
		return err
	}
	return d.checkMemory(params.IOPattern.Out())
}

func (d Description) checkCodecFrame(caps CodecCaps, fi types.FrameInfo) error {
	if !slices.Contains(caps.FourCCs, fi.FourCC) {
		return types.ErrUnsupportedParameter{Param: "FrameInfo.FourCC", Reason: fmt.Sprintf("%s is not supported for %s by %s", fi.FourCC, caps.CodecID, d.Name)}
	}
	if !fitsInto(fi.Size, caps.MaxResolution) {
		return types.ErrUnsupportedParameter{Param: "FrameInfo.Size", Reason: fmt.Sprintf("%s exceeds %s", fi.Size, caps.MaxResolution)}
	}
	return nil
}

func (d Description) checkMemory(memType types.MemoryType) error {
	if !d.SupportsMemory(memType) {
		return types.ErrUnsupportedParameter{Param: "IOPattern", Reason: fmt.Sprintf("%s memory is not supported by %s", memType, d.Name)}
	}
	return nil
}
