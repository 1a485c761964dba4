package session

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/xaionaro-go/avsession/bitstream"
	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/source"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/xsync"
)

// Encode encodes raw frames into chunks (in decoding order).
//
// Frames are either pulled from the source by Next, or pushed with Submit
// (in which case the source may be nil).
type Encode struct {
	*base
	source      source.Frames
	encoder     implementation.Encoder
	numInput    uint64
	isInputEOS  bool
	isFlushSent bool
}

func NewEncode(
	ctx context.Context,
	selector implementation.Selector,
	src source.Frames,
	opts ...Option,
) (*Encode, error) {
	b, err := newBase(ctx, KindEncode, selector, opts...)
	if err != nil {
		return nil, err
	}
	return &Encode{
		base:   b,
		source: src,
	}, nil
}

func (s *Encode) Init(
	ctx context.Context,
	params implementation.VideoParam,
) error {
	return xsync.DoA2R1(ctx, &s.locker, s.initLocked, ctx, params)
}

func (s *Encode) initLocked(
	ctx context.Context,
	params implementation.VideoParam,
) (_err error) {
	logger.Debugf(ctx, "initLocked: %s %s", params.CodecID, params.FrameInfo)
	defer func() { logger.Debugf(ctx, "/initLocked: %s: %v", params.CodecID, _err) }()
	if err := s.checkUninitializedLocked(); err != nil {
		return err
	}
	params, err := s.prepareLocked(
		ctx, params,
		implementation.VideoParam.ValidateEncode,
		implementation.Description.CheckEncode,
	)
	if err != nil {
		return s.failLocked(ctx, err)
	}
	s.params = params

	encoder, err := s.selector.Implementation().NewEncoder(ctx, s.lease.Context, params)
	if err != nil {
		return s.failLocked(ctx, types.ErrAllocationFailed{Resource: "encoder", Err: err})
	}
	s.encoder = encoder
	s.closeProcessor = encoder.Close

	// the pool holds the raw frames read from the source (or acquired
	// with AcquireFrame) until the encoder consumes them
	if err := s.newPoolLocked(ctx, params.FrameInfo, 0); err != nil {
		return s.failLocked(ctx, err)
	}
	s.state = StateInitialized
	return nil
}

// AcquireFrame returns an empty frame of the encoded geometry from the
// session pool, to be filled and passed to Submit.
func (s *Encode) AcquireFrame(ctx context.Context) (*frame.Frame, error) {
	pool, err := xsync.DoR2(ctx, &s.locker, func() (*frame.SurfacePool, error) {
		if s.state != StateInitialized && s.state != StateStreaming {
			return nil, fmt.Errorf("%w: the %s session is %s", types.ErrConfiguration, s.kind, s.state)
		}
		return s.pool, nil
	})
	if err != nil {
		return nil, err
	}
	return pool.Acquire(ctx)
}

// Submit consumes the frame and returns the chunks that became available.
// The handle is invalid afterwards, also on errors, except for a mapped
// frame: it is rejected with types.ErrInvalidAccess and stays with the
// caller.
func (s *Encode) Submit(
	ctx context.Context,
	f *frame.Frame,
) ([]*bitstream.Chunk, error) {
	return xsync.DoA2R2(ctx, &s.locker, s.submitLocked, ctx, f)
}

func (s *Encode) submitLocked(
	ctx context.Context,
	f *frame.Frame,
) (_ret []*bitstream.Chunk, _err error) {
	logger.Tracef(ctx, "submitLocked: %s", f)
	defer func() { logger.Tracef(ctx, "/submitLocked: %s: %d %v", f, len(_ret), _err) }()
	if err := s.checkStreamingLocked(); err != nil {
		releaseUnconsumed(ctx, f)
		return nil, err
	}
	if s.isInputEOS {
		releaseUnconsumed(ctx, f)
		return nil, fmt.Errorf("%w: the %s session is flushed already", types.ErrConfiguration, s.kind)
	}
	s.state = StateStreaming
	if err := s.sendFrameLocked(ctx, f); err != nil {
		return nil, s.handleSubmitErrorLocked(ctx, err)
	}

	var chunks []*bitstream.Chunk
	for {
		chunk, err := s.encoder.ReceiveChunk(ctx)
		switch {
		case err == nil:
			s.outputLocked(uint64(chunk.Size()))
			chunks = append(chunks, chunk)
			continue
		case errors.Is(err, implementation.ErrNeedMoreInput):
			return chunks, nil
		}
		return chunks, s.handleErrorLocked(ctx, err)
	}
}

// handleSubmitErrorLocked keeps the session alive if the frame was just
// rejected.
func (s *Encode) handleSubmitErrorLocked(ctx context.Context, err error) error {
	var unsupported types.ErrUnsupportedParameter
	if errors.As(err, &unsupported) || types.IsInvalidAccess(err) {
		return err
	}
	return s.handleErrorLocked(ctx, err)
}

// releaseUnconsumed releases a frame that was handed over but not passed
// to the encoder, so that the ownership transfer holds on every path.
func releaseUnconsumed(ctx context.Context, f *frame.Frame) {
	if f == nil || !f.IsValid(ctx) {
		return
	}
	if err := f.Release(ctx); err != nil {
		logger.Warnf(ctx, "unable to release %s: %v", f, err)
	}
}

func (s *Encode) sendFrameLocked(ctx context.Context, f *frame.Frame) error {
	if f == nil {
		return types.ErrInvalidAccess{Reason: "nil frame"}
	}
	size := frameSize(f)
	if err := s.encoder.SendFrame(ctx, f); err != nil {
		releaseUnconsumed(ctx, f)
		return err
	}
	s.numInput++
	s.stats.IncrementIn(size)
	return nil
}

// Flush signals the end of the input and returns the remaining chunks.
// The session is Closed afterwards.
func (s *Encode) Flush(ctx context.Context) ([]*bitstream.Chunk, error) {
	return xsync.DoA1R2(ctx, &s.locker, s.flushLocked, ctx)
}

func (s *Encode) flushLocked(ctx context.Context) (_ret []*bitstream.Chunk, _err error) {
	logger.Debugf(ctx, "flushLocked")
	defer func() { logger.Debugf(ctx, "/flushLocked: %d %v", len(_ret), _err) }()
	s.isInputEOS = true
	var chunks []*bitstream.Chunk
	for {
		chunk, err := s.nextLocked(ctx)
		switch {
		case err == nil:
			chunks = append(chunks, chunk)
			continue
		case errors.Is(err, types.ErrEndOfStream):
			return chunks, nil
		}
		return chunks, err
	}
}

// Next returns the next chunk, pulling frames from the source as needed.
// Without a source the input is considered complete and the encoder is
// drained.
func (s *Encode) Next(ctx context.Context) (*bitstream.Chunk, error) {
	return xsync.DoA1R2(ctx, &s.locker, s.nextLocked, ctx)
}

func (s *Encode) nextLocked(ctx context.Context) (_ret *bitstream.Chunk, _err error) {
	logger.Tracef(ctx, "nextLocked")
	defer func() { logger.Tracef(ctx, "/nextLocked: %v %v", _ret, _err) }()
	if err := s.checkStreamingLocked(); err != nil {
		return nil, err
	}
	s.state = StateStreaming

	ctx, cancelFn := s.withCancelOnClose(ctx)
	defer cancelFn()
	if err := s.pacer.Wait(ctx); err != nil {
		return nil, s.handleErrorLocked(ctx, err)
	}

	for {
		chunk, err := s.encoder.ReceiveChunk(ctx)
		switch {
		case err == nil:
			s.outputLocked(uint64(chunk.Size()))
			return chunk, nil
		case !errors.Is(err, implementation.ErrNeedMoreInput):
			return nil, s.handleErrorLocked(ctx, err)
		}
		if err := s.feedLocked(ctx); err != nil {
			return nil, s.handleErrorLocked(ctx, err)
		}
	}
}

func (s *Encode) feedLocked(ctx context.Context) error {
	if s.isFlushSent {
		return types.ErrIO{Op: "encode", Err: fmt.Errorf("the encoder requests more frames after the end of the stream")}
	}
	if s.source == nil || s.isInputEOS || (s.params.NumFrames > 0 && s.numInput >= s.params.NumFrames) {
		s.isInputEOS = true
		s.isFlushSent = true
		return s.encoder.SendEndOfStream(ctx)
	}

	f, err := s.source.ReadFrame(ctx, s.pool)
	switch {
	case errors.Is(err, types.ErrEndOfStream):
		s.isInputEOS = true
		s.isFlushSent = true
		return s.encoder.SendEndOfStream(ctx)
	case err != nil:
		return err
	}
	return s.sendFrameLocked(ctx, f)
}

// All iterates over the produced chunks; the iteration stops on the end
// of the stream (not reported) or on the first error (reported).
func (s *Encode) All(ctx context.Context) iter.Seq2[*bitstream.Chunk, error] {
	return func(yield func(*bitstream.Chunk, error) bool) {
		for {
			chunk, err := s.Next(ctx)
			switch {
			case errors.Is(err, types.ErrEndOfStream):
				return
			case err != nil:
				yield(nil, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}
