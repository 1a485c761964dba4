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

// Decode decodes an elementary stream into frames in display order.
type Decode struct {
	*base
	source  source.Bitstream
	decoder implementation.Decoder
	readBuf []byte

	// pending is the data consumed while probing the header, it is fed to
	// the decoder before anything else.
	pending     []byte
	isSourceEOS bool
}

func NewDecode(
	ctx context.Context,
	selector implementation.Selector,
	src source.Bitstream,
	opts ...Option,
) (*Decode, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: no bitstream source", types.ErrConfiguration)
	}
	b, err := newBase(ctx, KindDecode, selector, opts...)
	if err != nil {
		return nil, err
	}
	return &Decode{
		base:    b,
		source:  src,
		readBuf: make([]byte, b.config.ReadSize),
	}, nil
}

// Init validates the parameters against the implementation and allocates
// the decoder. On failure the session is Closed.
func (s *Decode) Init(
	ctx context.Context,
	params implementation.VideoParam,
) error {
	return xsync.DoA2R1(ctx, &s.locker, s.initLocked, ctx, params)
}

func (s *Decode) initLocked(
	ctx context.Context,
	params implementation.VideoParam,
) (_err error) {
	logger.Debugf(ctx, "initLocked: %s", params.CodecID)
	defer func() { logger.Debugf(ctx, "/initLocked: %s: %v", params.CodecID, _err) }()
	if err := s.checkUninitializedLocked(); err != nil {
		return err
	}
	params, err := s.prepareLocked(
		ctx, params,
		implementation.VideoParam.ValidateDecode,
		implementation.Description.CheckDecode,
	)
	if err != nil {
		return s.failLocked(ctx, err)
	}
	s.params = params

	decoder, err := s.selector.Implementation().NewDecoder(ctx, s.lease.Context, params)
	if err != nil {
		return s.failLocked(ctx, types.ErrAllocationFailed{Resource: "decoder", Err: err})
	}
	s.decoder = decoder
	s.closeProcessor = decoder.Close

	if err := s.newPoolLocked(ctx, params.FrameInfo, decoder.ReorderDepth()); err != nil {
		return s.failLocked(ctx, err)
	}
	s.state = StateInitialized
	return nil
}

// InitByHeader reads the stream until the implementation recognizes the
// sequence header, takes the stream geometry from it and initializes the
// session. CodecID must be set; the rest of the stream description in
// params is overwritten.
func (s *Decode) InitByHeader(
	ctx context.Context,
	params implementation.VideoParam,
) error {
	return xsync.DoA2R1(ctx, &s.locker, s.initByHeaderLocked, ctx, params)
}

func (s *Decode) initByHeaderLocked(
	ctx context.Context,
	params implementation.VideoParam,
) (_err error) {
	logger.Debugf(ctx, "initByHeaderLocked: %s", params.CodecID)
	defer func() { logger.Debugf(ctx, "/initByHeaderLocked: %s: %v", params.CodecID, _err) }()
	if err := s.checkUninitializedLocked(); err != nil {
		return err
	}
	if !params.CodecID.IsValid() {
		return fmt.Errorf("%w: codec is not set", types.ErrConfiguration)
	}

	impl := s.selector.Implementation()
	for {
		header, err := impl.DecodeHeader(ctx, params.CodecID, s.pending, s.isSourceEOS)
		switch {
		case err == nil:
			params.FrameInfo = header.FrameInfo
			params.GOP.BFrames = max(params.GOP.BFrames, header.GOP.BFrames)
			logger.Debugf(ctx, "the stream header is found after %d bytes: %s", len(s.pending), params.FrameInfo)
			return s.initLocked(ctx, params)
		case !errors.Is(err, implementation.ErrNeedMoreInput):
			return s.failLocked(ctx, err)
		}
		if s.isSourceEOS {
			return s.failLocked(ctx, types.ErrIO{Op: "decode header", Err: fmt.Errorf("the stream ended before the sequence header")})
		}

		n, err := s.readHeaderDataLocked(ctx)
		switch {
		case errors.Is(err, types.ErrEndOfStream):
			s.isSourceEOS = true
		case err == nil:
		case s.closer.IsClosed():
			return types.ErrCancelled{Err: s.closer.Reason()}
		case ctx.Err() != nil:
			// nothing is allocated yet and the read data is kept in
			// s.pending, so InitByHeader could be called again
			if types.IsCancelled(err) {
				return err
			}
			return types.ErrCancelled{Err: err}
		default:
			return s.failLocked(ctx, err)
		}
		s.pending = append(s.pending, s.readBuf[:n]...)
		s.stats.BytesIn.Add(uint64(n))
	}
}

func (s *Decode) readHeaderDataLocked(ctx context.Context) (int, error) {
	ctx, cancelFn := s.withCancelOnClose(ctx)
	defer cancelFn()
	return s.source.ReadBitstream(ctx, s.readBuf)
}

// Next returns the next frame in display order, or types.ErrEndOfStream
// once everything is decoded. The caller owns the frame and must release
// it.
func (s *Decode) Next(ctx context.Context) (*frame.Frame, error) {
	return xsync.DoA1R2(ctx, &s.locker, s.nextLocked, ctx)
}

func (s *Decode) nextLocked(ctx context.Context) (_ret *frame.Frame, _err error) {
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
		f, err := s.decoder.ReceiveFrame(ctx, s.pool)
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

// feedLocked passes the next portion of the stream to the decoder.
func (s *Decode) feedLocked(ctx context.Context) error {
	if len(s.pending) > 0 {
		data := s.pending
		s.pending = nil
		if err := s.decoder.SendData(ctx, data); err != nil {
			return err
		}
		if s.isSourceEOS {
			return s.decoder.SendEndOfStream(ctx)
		}
		return nil
	}
	if s.isSourceEOS {
		return types.ErrIO{Op: "decode", Err: fmt.Errorf("the decoder requests more data after the end of the stream")}
	}

	n, err := s.source.ReadBitstream(ctx, s.readBuf)
	switch {
	case errors.Is(err, types.ErrEndOfStream):
		s.isSourceEOS = true
		return s.decoder.SendEndOfStream(ctx)
	case err != nil:
		return err
	}
	s.stats.BytesIn.Add(uint64(n))
	return s.decoder.SendData(ctx, s.readBuf[:n])
}

// All iterates over the decoded frames; the iteration stops on the end of
// the stream (not reported) or on the first error (reported).
func (s *Decode) All(ctx context.Context) iter.Seq2[*frame.Frame, error] {
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
