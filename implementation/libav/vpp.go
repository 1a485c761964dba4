package libav

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/xsync"
)

type pendingFrame struct {
	Frame *astiav.Frame
	PTS   int64
}

// vpp scales and converts pictures with libswscale; it keeps the frame
// rate.
type vpp struct {
	locker   xsync.Mutex
	params   implementation.VideoParam
	scaler   *swsScaler
	outFrame *astiav.Frame
	pending  []pendingFrame
	order    uint64
	isEOS    bool
	isClosed bool
}

var _ implementation.VPP = (*vpp)(nil)

func newVPP(
	ctx context.Context,
	params implementation.VideoParam,
) (_ret *vpp, _err error) {
	in, out := params.InFrameInfo, params.OutFrameInfo
	inPixFmt, ok := pixelFormatFromFourCC(in.FourCC)
	if !ok {
		return nil, types.ErrUnsupportedParameter{Param: "InFrameInfo.FourCC", Reason: fmt.Sprintf("%s has no libav counterpart", in.FourCC)}
	}
	outPixFmt, ok := pixelFormatFromFourCC(out.FourCC)
	if !ok {
		return nil, types.ErrUnsupportedParameter{Param: "OutFrameInfo.FourCC", Reason: fmt.Sprintf("%s has no libav counterpart", out.FourCC)}
	}
	s, err := newSWSScaler(ctx,
		int(in.ROI.W), int(in.ROI.H), inPixFmt,
		int(out.ROI.W), int(out.ROI.H), outPixFmt,
		scaleFlags(params.ScalingMode)...,
	)
	if err != nil {
		return nil, err
	}
	outFrame, err := newAVFrame(out)
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	return &vpp{
		params:   params,
		scaler:   s,
		outFrame: outFrame,
	}, nil
}

func (v *vpp) SendFrame(ctx context.Context, f *frame.Frame) error {
	return xsync.DoA2R1(ctx, &v.locker, v.sendFrameLocked, ctx, f)
}

func (v *vpp) sendFrameLocked(ctx context.Context, f *frame.Frame) error {
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
	pts := f.PTS
	return f.Consume(ctx, func(ctx context.Context, s frame.Surface) error {
		avFrame, err := newAVFrame(v.params.InFrameInfo)
		if err != nil {
			return err
		}
		if err := copySurfaceToAVFrame(ctx, s, avFrame); err != nil {
			avFrame.Free()
			return err
		}
		v.pending = append(v.pending, pendingFrame{Frame: avFrame, PTS: pts})
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
	if len(v.pending) == 0 {
		if v.isEOS {
			return nil, types.ErrEndOfStream
		}
		return nil, implementation.ErrNeedMoreInput
	}

	in := v.pending[0]
	if err := v.outFrame.MakeWritable(); err != nil {
		return nil, fmt.Errorf("unable to make the frame writable: %w", err)
	}
	if err := v.scaler.ScaleFrame(ctx, in.Frame, v.outFrame); err != nil {
		return nil, err
	}
	f, err := alloc.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	err = frame.WithMapped(ctx, f, types.MemoryAccessWrite, func(m *frame.Mapping) error {
		return copyAVFrameToMapping(v.outFrame, m)
	})
	if err != nil {
		if releaseErr := f.Release(ctx); releaseErr != nil {
			logger.Errorf(ctx, "unable to release the frame: %v", releaseErr)
		}
		return nil, err
	}
	v.pending = v.pending[1:]
	in.Frame.Free()
	f.PTS = in.PTS
	f.Order = v.order
	v.order++
	return f, nil
}

func (v *vpp) Close(ctx context.Context) error {
	return xsync.DoR1(ctx, &v.locker, func() error {
		if v.isClosed {
			return nil
		}
		v.isClosed = true
		for _, p := range v.pending {
			p.Frame.Free()
		}
		v.pending = nil
		v.outFrame.Free()
		return v.scaler.Close(ctx)
	})
}
