// Package soft is a pure-Go reference implementation.
//
// It does not implement any real codec: the compressed format is a
// simple emulated elementary stream (see stream.go) that exercises the
// whole pipeline (parsing, reordering, reference pictures, rate control)
// deterministically and without any native dependencies. Real codecs are
// provided by package implementation/libav.
package soft

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avsession/device"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
)

const Name = "soft"

var APIVersion = types.APIVersion{Major: 2, Minor: 10}

func init() {
	implementation.Register(New())
}

type Soft struct {
	description implementation.Description
}

var _ implementation.Implementation = (*Soft)(nil)

func New() *Soft {
	return &Soft{description: newDescription()}
}

func newDescription() implementation.Description {
	maxResolution := types.Resolution{Width: defaultMaxResolutionW, Height: defaultMaxResolutionH}
	rateControl := []types.RateControlMethod{
		types.RateControlMethodCQP,
		types.RateControlMethodCBR,
		types.RateControlMethodVBR,
		types.RateControlMethodAVBR,
		types.RateControlMethodICQ,
	}
	var codecs []implementation.CodecCaps
	for codecID := types.CodecIDUndefined + 1; codecID < types.EndOfCodecID; codecID++ {
		caps := implementation.CodecCaps{
			CodecID:       codecID,
			MaxResolution: maxResolution,
			FourCCs:       types.FourCCs(),
			RateControl:   rateControl,
			MaxBFrames:    maxReorderDepth,
		}
		if codecID == types.CodecIDJPEG {
			caps.MaxBFrames = 0
		}
		codecs = append(codecs, caps)
	}
	return implementation.Description{
		Name:       Name,
		Type:       types.ImplementationTypeSoftware,
		APIVersion: APIVersion,
		Decoders:   codecs,
		Encoders:   codecs,
		VPP: &implementation.VPPCaps{
			MaxResolution:       maxResolution,
			InFourCCs:           types.FourCCs(),
			OutFourCCs:          types.FourCCs(),
			FrameRateConversion: true,
		},
		MemoryTypes:   []types.MemoryType{types.MemoryTypeSystem},
		DeviceTypes:   []types.HardwareDeviceType{types.HardwareDeviceTypeNone},
		DeviceSharing: true,
	}
}

func (s *Soft) String() string {
	return Name
}

func (s *Soft) Description() implementation.Description {
	return s.description
}

func (s *Soft) OpenDevice(
	ctx context.Context,
	deviceType types.HardwareDeviceType,
	deviceName types.HardwareDeviceName,
) (device.Context, error) {
	if deviceType != types.HardwareDeviceTypeNone {
		return nil, types.ErrUnsupportedParameter{Param: "HardwareDeviceType", Reason: fmt.Sprintf("%s runs on the CPU only", Name)}
	}
	return device.NewSoftware(deviceName), nil
}

func (s *Soft) DecodeHeader(
	ctx context.Context,
	codecID types.CodecID,
	data []byte,
	isLast bool,
) (_ret *implementation.VideoParam, _err error) {
	logger.Tracef(ctx, "DecodeHeader(%s, %d bytes)", codecID, len(data))
	defer func() { logger.Tracef(ctx, "/DecodeHeader(%s): %v", codecID, _err) }()
	h, err := findSequenceHeader(data, isLast)
	if err != nil {
		return nil, types.ErrIO{Op: "decode header", Err: err}
	}
	if h == nil {
		if isLast {
			return nil, types.ErrIO{Op: "decode header", Err: fmt.Errorf("no sequence header in the stream")}
		}
		return nil, implementation.ErrNeedMoreInput
	}
	if h.CodecID != codecID {
		return nil, types.ErrUnsupportedParameter{Param: "CodecID", Reason: fmt.Sprintf("the stream is %s, not %s", h.CodecID, codecID)}
	}
	params := implementation.DefaultDecodeParam(codecID)
	params.FrameInfo = h.FrameInfo()
	params.GOP.BFrames = uint32(h.BFrames)
	return &params, nil
}

func (s *Soft) NewDecoder(
	ctx context.Context,
	_ device.Context,
	params implementation.VideoParam,
) (implementation.Decoder, error) {
	return newDecoder(ctx, params)
}

func (s *Soft) NewEncoder(
	ctx context.Context,
	_ device.Context,
	params implementation.VideoParam,
) (implementation.Encoder, error) {
	return newEncoder(ctx, params)
}

func (s *Soft) NewVPP(
	ctx context.Context,
	_ device.Context,
	params implementation.VideoParam,
) (implementation.VPP, error) {
	return newVPP(ctx, params)
}
