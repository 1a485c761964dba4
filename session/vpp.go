package session

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/source"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/xsync"
)

// VPP scales, converts and retimes the frames of the source.
type VPP struct {
	*base
	source      source.Frames
	vpp         implementation.VPP
	inPool      *frame.SurfacePool
	isSourceEOS bool
}

func NewVPP(
	ctx context.Context,
	selector implementation.Selector,
	src source.Frames,
	opts ...Option,
) (*VPP, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: no frame source", types.ErrConfiguration)
	}
	b, err := newBase(ctx, KindVPP, selector, opts...)
	if err != nil {
		return nil, err
	}
	return &VPP{
		base:   b,
		source: src,
	}, nil
}

func (s *VPP) Init(
	ctx context.Context,
	params implementation.VideoParam,
) error {
	return xsync.DoA2R1(ctx, &s.locker, s.initLocked, ctx, params)
}

func (s *VPP) initLocked(
	ctx context.Context,
	params implementation.VideoParam,
) (_err error) {
	logger.Debugf(ctx, "initLocked: %s -> %s", params.InFrameInfo, params.OutFrameInfo)
	defer func() { logger.Debugf(ctx, "/initLocked: %v", _err) }()
	if err := s.checkUninitializedLocked(); err != nil {
		return err
	}
	params, err := s.prepareLocked(
		ctx, params,
		implementation.VideoParam.ValidateVPP,
		implementation.Description.CheckVPP,
	)
	if err != nil {
		return s.failLocked(ctx, err)
	}
	s.params = params

	vpp, err := s.selector.Implementation().NewVPP(ctx, s.lease.Context, params)
	if err != nil {
		return s.failLocked(ctx, types.ErrAllocationFailed{Resource: "vpp", Err: err})
	}
	s.vpp = vpp
	s.closeProcessor = s.closeVPP

	// a frame rate conversion may hold two input frames
	inPool, err := frame.NewSurfacePool(params.InFrameInfo, params.AsyncDepth+2, nil)
	if err != nil {
		return s.failLocked(ctx, types.ErrAllocationFailed{Resource: "input surface pool", Err: err})
	}
	s.inPool = inPool

	if err := s.newPoolLocked(ctx, params.OutFrameInfo, 0); err != nil {
		return s.failLocked(ctx, err)
	}
	s.state = StateInitialized
	return nil
}

func (s *VPP) closeVPP(ctx context.Context) error {
	err := s.vpp.Close(ctx)
	if s.inPool != nil {
		err = errors.Join(err, s.inPool.Close(ctx))
		s.inPool = nil
	}
	return err
}

// Next returns the next processed frame, or types.ErrEndOfStream once the
// source is exhausted. The caller owns the frame and must release it.
func (s *VPP) Next(ctx context.Context) (*frame.Frame, error) {
	return xsync.DoA1R2(ctx, &s.locker, s.nextLocked, ctx)
}

func (s *VPP) nextLocked(ctx context.Context) (_ret *frame.Frame, _err error) {
	logger.Tracef(ctx, "nextLocked")
	defer func() { logger.Tracef(ctx, "/nextLocked: %v %v", _ret, _err) }()
	if err := s.checkStreamingLocked(); err != nil {
		return nil, err
	}
	if s.isOutputLimitReachedLocked() {
		return nil, s.finishLocked(ctx)
	}
	s.state = StateStreaming

	ctx, cancelFn := s.withCancelOnClose(ctx)
	defer cancelFn()
	if err := s.pacer.Wait(ctx); err != nil {
		return nil, s.handleErrorLocked(ctx, err)
	}

	for {
		f, err := s.vpp.ReceiveFrame(ctx, s.pool)
		switch {
		case err == nil:
			s.outputLocked(frameSize(f))
			return f, nil
		case !errors.Is(err, implementation.ErrNeedMoreInput):
			return nil, s.handleErrorLocked(ctx, err)
		}
		if err := s.feedLocked(ctx); err != nil {
			return nil, s.handleErrorLocked(ctx, err)
		}
	}
}

func (s *VPP) feedLocked(ctx context.Context) error {
	if s.isSourceEOS {
		return types.ErrIO{Op: "vpp", Err: fmt.Errorf("the processor requests more frames after the end of the stream")}
	}
	f, err := s.source.ReadFrame(ctx, s.inPool)
	switch {
	case errors.Is(err, types.ErrEndOfStream):
		s.isSourceEOS = true
		return s.vpp.SendEndOfStream(ctx)
	case err != nil:
		return err
	}
	size := frameSize(f)
	if err := s.vpp.SendFrame(ctx, f); err != nil {
		releaseUnconsumed(ctx, f)
		return err
	}
	s.stats.IncrementIn(size)
	return nil
}

// All iterates over the processed frames; the iteration stops on the end
// of the stream (not reported) or on the first error (reported).
func (s *VPP) All(ctx context.Context) iter.Seq2[*frame.Frame, error] {
	return func(yield func(*frame.Frame, error) bool) {
		for {
			f, err := s.Next(ctx)
			switch {
			case errors.Is(err, types.ErrEndOfStream):
				return
			case err != nil:
				yield(nil, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}
