package soft

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/scaler"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/xsync"
)

type vpp struct {
	locker      xsync.Mutex
	params      implementation.VideoParam
	scaler      *scaler.Software
	pending     []*frame.Frame
	inDuration  int64
	outDuration int64
	nextOutPTS  int64
	outCount    uint64
	started     bool
	isEOS       bool
	isClosed    bool
}

var _ implementation.VPP = (*vpp)(nil)

func scalerQuality(mode implementation.ScalingMode) scaler.Quality {
	switch mode {
	case implementation.ScalingModeLowPower:
		return scaler.QualityFast
	case implementation.ScalingModeQuality:
		return scaler.QualityBest
	default:
		return scaler.QualityDefault
	}
}

func newVPP(
	ctx context.Context,
	params implementation.VideoParam,
) (*vpp, error) {
	s, err := scaler.NewSoftware(ctx, params.InFrameInfo, params.OutFrameInfo, scalerQuality(params.ScalingMode))
	if err != nil {
		return nil, err
	}
	return &vpp{
		params:      params,
		scaler:      s,
		inDuration:  types.FrameDuration(params.InFrameInfo.FrameRate),
		outDuration: types.FrameDuration(params.OutFrameInfo.FrameRate),
	}, nil
}

func (v *vpp) isFrameRateConversion() bool {
	return v.inDuration != v.outDuration && v.inDuration > 0 && v.outDuration > 0
}

func (v *vpp) SendFrame(ctx context.Context, f *frame.Frame) error {
	return xsync.DoR1(ctx, &v.locker, func() error {
		if v.isClosed || v.isEOS {
			return fmt.Errorf("the VPP does not accept frames anymore")
		}
		in := f.Info()
		if in.FourCC != v.params.InFrameInfo.FourCC || in.Visible() != v.params.InFrameInfo.Visible() {
			return types.ErrUnsupportedParameter{
				Param:  "FrameInfo",
				Reason: fmt.Sprintf("got a frame %s while the VPP input is %s", in, v.params.InFrameInfo),
			}
		}
		if f.IsMapped(ctx) {
			return types.ErrInvalidAccess{Reason: "the frame is mapped, unmap it before submitting"}
		}
		if !v.started {
			v.started = true
			v.nextOutPTS = f.PTS
		}
		v.pending = append(v.pending, f)
		return nil
	})
}

func (v *vpp) SendEndOfStream(ctx context.Context) error {
	return xsync.DoR1(ctx, &v.locker, func() error {
		v.isEOS = true
		return nil
	})
}

func (v *vpp) ReceiveFrame(
	ctx context.Context,
	alloc frame.Allocator,
) (*frame.Frame, error) {
	return xsync.DoA2R2(ctx, &v.locker, v.receiveFrameLocked, ctx, alloc)
}

func (v *vpp) receiveFrameLocked(
	ctx context.Context,
	alloc frame.Allocator,
) (_ret *frame.Frame, _err error) {
	logger.Tracef(ctx, "receiveFrameLocked")
	defer func() { logger.Tracef(ctx, "/receiveFrameLocked: %v %v", _ret, _err) }()
	if v.isClosed {
		return nil, fmt.Errorf("the VPP is closed")
	}
	if !v.isFrameRateConversion() {
		if len(v.pending) == 0 {
			return v.starved()
		}
		in := v.pending[0]
		out, err := v.process(ctx, in, in.PTS, alloc)
		if err != nil {
			return nil, err
		}
		v.pending = v.pending[1:]
		v.releaseInput(ctx, in)
		return out, nil
	}

	// an input picture covers [PTS, PTS+inDuration): drop the pictures
	// that got covered by the next one, repeat the ones covering several
	// output timestamps
	for len(v.pending) >= 2 && v.pending[1].PTS <= v.nextOutPTS {
		v.releaseInput(ctx, v.pending[0])
		v.pending = v.pending[1:]
	}
	switch {
	case len(v.pending) >= 2:
	case len(v.pending) == 1 && v.isEOS:
		if v.nextOutPTS >= v.pending[0].PTS+v.inDuration {
			v.releaseInput(ctx, v.pending[0])
			v.pending = nil
			return nil, types.ErrEndOfStream
		}
	default:
		return v.starved()
	}

	out, err := v.process(ctx, v.pending[0], v.nextOutPTS, alloc)
	if err != nil {
		return nil, err
	}
	v.nextOutPTS += v.outDuration
	return out, nil
}

func (v *vpp) starved() (*frame.Frame, error) {
	if v.isEOS {
		return nil, types.ErrEndOfStream
	}
	return nil, implementation.ErrNeedMoreInput
}

func (v *vpp) process(
	ctx context.Context,
	in *frame.Frame,
	pts int64,
	alloc frame.Allocator,
) (*frame.Frame, error) {
	out, err := alloc.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if err := v.scaler.ScaleFrame(ctx, in, out); err != nil {
		if releaseErr := out.Release(ctx); releaseErr != nil {
			logger.Errorf(ctx, "unable to release the frame: %v", releaseErr)
		}
		return nil, fmt.Errorf("unable to process the frame: %w", err)
	}
	out.PTS = pts
	out.Order = v.outCount
	v.outCount++
	return out, nil
}

func (v *vpp) releaseInput(ctx context.Context, f *frame.Frame) {
	if err := f.Release(ctx); err != nil {
		logger.Errorf(ctx, "unable to release the input frame: %v", err)
	}
}

func (v *vpp) Close(ctx context.Context) error {
	return xsync.DoR1(ctx, &v.locker, func() error {
		if v.isClosed {
			return nil
		}
		v.isClosed = true
		for _, f := range v.pending {
			v.releaseInput(ctx, f)
		}
		v.pending = nil
		return v.scaler.Close(ctx)
	})
}
