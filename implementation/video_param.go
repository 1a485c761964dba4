package implementation

import (
	"fmt"

	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/typing"
)

const DefaultAsyncDepth = 4

type ScalingMode int

const (
	ScalingModeDefault = ScalingMode(iota)
	ScalingModeLowPower
	ScalingModeQuality
	EndOfScalingMode
)

func (m ScalingMode) String() string {
	switch m {
	case ScalingModeDefault:
		return "default"
	case ScalingModeLowPower:
		return "lowpower"
	case ScalingModeQuality:
		return "quality"
	}
	return fmt.Sprintf("unknown_scaling_mode_%d", int(m))
}

func ParseScalingMode(s string) (ScalingMode, error) {
	for m := ScalingModeDefault; m < EndOfScalingMode; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return ScalingModeDefault, fmt.Errorf("unknown scaling mode %q", s)
}

type RateControl struct {
	Method     types.RateControlMethod
	QP         typing.Optional[uint8]
	TargetKbps typing.Optional[uint32]
	MaxKbps    typing.Optional[uint32]
}

type GOP struct {
	// Size is the distance between intra pictures; 0 means only the first
	// picture is intra.
	Size uint32

	// BFrames is the amount of B-pictures between two anchors.
	BFrames uint32

	// IDRInterval is the amount of intra pictures between two IDR
	// pictures; 0 means every intra picture is IDR.
	IDRInterval uint32
}

// VideoParam is the configuration of a session. It is copied into the
// session on Init and is immutable afterwards.
type VideoParam struct {
	CodecID types.CodecID

	// FrameInfo is the raw side of a decoder or an encoder.
	FrameInfo types.FrameInfo

	// InFrameInfo and OutFrameInfo are the two sides of a VPP.
	InFrameInfo  types.FrameInfo
	OutFrameInfo types.FrameInfo

	RateControl RateControl
	GOP         GOP
	IOPattern   types.IOPattern

	// AsyncDepth is the amount of frames allowed in flight.
	AsyncDepth int

	ScalingMode ScalingMode

	// NumFrames limits the amount of produced frames; 0 means no limit.
	NumFrames uint64
}

// DefaultDecodeParam returns decoding parameters for a stream with the
// given codec; the FrameInfo is expected to come from the stream header
// (see DecodeHeader) or to be set by the caller.
func DefaultDecodeParam(codecID types.CodecID) VideoParam {
	return VideoParam{
		CodecID:    codecID,
		IOPattern:  types.IOPatternOutSystemMemory,
		AsyncDepth: DefaultAsyncDepth,
	}
}

// DefaultEncodeParam returns encoding parameters with a constant
// quantizer and no B-frames.
func DefaultEncodeParam(codecID types.CodecID, fi types.FrameInfo) VideoParam {
	return VideoParam{
		CodecID:   codecID,
		FrameInfo: fi,
		RateControl: RateControl{
			Method: types.RateControlMethodCQP,
			QP:     typing.Opt[uint8](26),
		},
		GOP: GOP{
			Size: 30,
		},
		IOPattern:  types.IOPatternInSystemMemory,
		AsyncDepth: DefaultAsyncDepth,
	}
}

func DefaultVPPParam(in, out types.FrameInfo) VideoParam {
	return VideoParam{
		InFrameInfo:  in,
		OutFrameInfo: out,
		IOPattern:    types.IOPatternSystem,
		AsyncDepth:   DefaultAsyncDepth,
	}
}

func (p VideoParam) validateCommon() error {
	if p.AsyncDepth < 0 {
		return types.ErrUnsupportedParameter{Param: "AsyncDepth", Reason: fmt.Sprintf("%d is negative", p.AsyncDepth)}
	}
	if p.ScalingMode < ScalingModeDefault || p.ScalingMode >= EndOfScalingMode {
		return types.ErrUnsupportedParameter{Param: "ScalingMode", Reason: p.ScalingMode.String()}
	}
	if err := p.IOPattern.Validate(); err != nil {
		return types.ErrUnsupportedParameter{Param: "IOPattern", Reason: err.Error()}
	}
	return nil
}

func (p VideoParam) ValidateDecode() error {
	if err := p.validateCommon(); err != nil {
		return err
	}
	if !p.CodecID.IsValid() {
		return types.ErrUnsupportedParameter{Param: "CodecID", Reason: p.CodecID.String()}
	}
	if p.IOPattern.In() != types.MemoryTypeUndefined {
		return types.ErrUnsupportedParameter{Param: "IOPattern", Reason: "a decoder has no raw input"}
	}
	return p.FrameInfo.Validate()
}

func (p VideoParam) ValidateEncode() error {
	if err := p.validateCommon(); err != nil {
		return err
	}
	if !p.CodecID.IsValid() {
		return types.ErrUnsupportedParameter{Param: "CodecID", Reason: p.CodecID.String()}
	}
	if p.IOPattern.Out() != types.MemoryTypeUndefined {
		return types.ErrUnsupportedParameter{Param: "IOPattern", Reason: "an encoder has no raw output"}
	}
	rc := p.RateControl
	if !rc.Method.IsValid() {
		return types.ErrUnsupportedParameter{Param: "RateControl.Method", Reason: rc.Method.String()}
	}
	switch {
	case rc.Method == types.RateControlMethodCQP || rc.Method == types.RateControlMethodICQ:
		if !rc.QP.IsSet() {
			return types.ErrUnsupportedParameter{Param: "RateControl.QP", Reason: fmt.Sprintf("required for %s", rc.Method)}
		}
		if rc.QP.Get() > 51 {
			return types.ErrUnsupportedParameter{Param: "RateControl.QP", Reason: fmt.Sprintf("%d is out of range [0, 51]", rc.QP.Get())}
		}
	case rc.Method.UsesBitrate():
		if !rc.TargetKbps.IsSet() || rc.TargetKbps.Get() == 0 {
			return types.ErrUnsupportedParameter{Param: "RateControl.TargetKbps", Reason: fmt.Sprintf("required for %s", rc.Method)}
		}
		if rc.MaxKbps.IsSet() && rc.MaxKbps.Get() < rc.TargetKbps.Get() {
			return types.ErrUnsupportedParameter{Param: "RateControl.MaxKbps", Reason: "less than the target bitrate"}
		}
	}
	if p.GOP.Size > 0 && p.GOP.BFrames >= p.GOP.Size {
		return types.ErrUnsupportedParameter{Param: "GOP.BFrames", Reason: fmt.Sprintf("%d does not fit into a GOP of %d", p.GOP.BFrames, p.GOP.Size)}
	}
	return p.FrameInfo.Validate()
}

func (p VideoParam) ValidateVPP() error {
	if err := p.validateCommon(); err != nil {
		return err
	}
	if err := p.InFrameInfo.Validate(); err != nil {
		return fmt.Errorf("InFrameInfo: %w", err)
	}
	if err := p.OutFrameInfo.Validate(); err != nil {
		return fmt.Errorf("OutFrameInfo: %w", err)
	}
	return nil
}

// EffectiveAsyncDepth returns the async depth with the default applied.
func (p VideoParam) EffectiveAsyncDepth() int {
	if p.AsyncDepth == 0 {
		return DefaultAsyncDepth
	}
	return p.AsyncDepth
}
