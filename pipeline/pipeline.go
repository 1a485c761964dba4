// Package pipeline chains sessions: a decoder, optionally followed by a
// video processor (added automatically when the requested output differs
// from the stream) and optionally by an encoder. Every stage runs on its
// own goroutine and hands frames over through a bounded channel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/session"
	"github.com/xaionaro-go/avsession/sink"
	"github.com/xaionaro-go/avsession/source"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/observability"
	"golang.org/x/sync/errgroup"
)

const DefaultHandoffDepth = 2

// Output describes the requested raw output; zero fields are taken from
// the decoded stream.
type Output struct {
	FourCC      types.FourCC
	Width       uint32
	Height      uint32
	FrameRate   types.Rational
	ScalingMode implementation.ScalingMode
}

// Apply returns the frame info of the output given the one of the stream.
func (o Output) Apply(stream types.FrameInfo) types.FrameInfo {
	fourCC := stream.FourCC
	if o.FourCC != types.FourCCUndefined {
		fourCC = o.FourCC
	}
	visible := stream.Visible()
	if o.Width != 0 {
		visible.Width = o.Width
	}
	if o.Height != 0 {
		visible.Height = o.Height
	}
	frameRate := stream.FrameRate
	if o.FrameRate.IsPositive() {
		frameRate = o.FrameRate
	}
	return types.NewFrameInfo(fourCC, visible.Width, visible.Height, frameRate)
}

// needsVPP returns true if frames of the stream have to be processed to
// match out.
func needsVPP(stream, out types.FrameInfo) bool {
	return stream.FourCC != out.FourCC ||
		stream.Visible() != out.Visible() ||
		stream.FrameRate != out.FrameRate
}

type Config struct {
	Decoder implementation.Selector

	// DecodeParams are the decoding parameters; if FrameInfo is not set,
	// the stream geometry is taken from the stream header.
	DecodeParams implementation.VideoParam

	Output Output

	// VPP runs the processing stage; the decoder selector is used if it
	// is not valid.
	VPP implementation.Selector

	// Encoder enables the encoding stage if valid. EncodeParams.FrameInfo
	// is replaced with the output frame info.
	Encoder      implementation.Selector
	EncodeParams implementation.VideoParam

	HandoffDepth   int
	SessionOptions []session.Option
}

type Result struct {
	Decode types.Statistics
	VPP    *types.Statistics
	Encode *types.Statistics

	OutputInfo types.FrameInfo
}

// Run processes the whole stream. Raw frames are written to frames if
// there is no encoding stage, chunks to chunks otherwise.
func Run(
	ctx context.Context,
	cfg Config,
	in source.Bitstream,
	frames sink.Frames,
	chunks sink.Bitstream,
) (_ret *Result, _err error) {
	logger.Debugf(ctx, "Run")
	defer func() { logger.Debugf(ctx, "/Run: %v", _err) }()
	isEncoding := cfg.Encoder.IsValid()
	switch {
	case isEncoding && chunks == nil:
		return nil, fmt.Errorf("%w: no bitstream sink for the encoding stage", types.ErrConfiguration)
	case !isEncoding && frames == nil:
		return nil, fmt.Errorf("%w: no frame sink", types.ErrConfiguration)
	}
	handoffDepth := cfg.HandoffDepth
	if handoffDepth <= 0 {
		handoffDepth = DefaultHandoffDepth
	}
	// the next stage holds up to handoffDepth frames plus the one it is
	// working on
	opts := append([]session.Option{session.OptionExtraSurfaces(handoffDepth + 1)}, cfg.SessionOptions...)

	dec, err := session.NewDecode(ctx, cfg.Decoder, in, opts...)
	if err != nil {
		return nil, err
	}
	defer dec.Close(ctx)
	if cfg.DecodeParams.FrameInfo.FourCC == types.FourCCUndefined {
		err = dec.InitByHeader(ctx, cfg.DecodeParams)
	} else {
		err = dec.Init(ctx, cfg.DecodeParams)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the decoder: %w", err)
	}
	streamInfo := dec.Params(ctx).FrameInfo
	outInfo := cfg.Output.Apply(streamInfo)
	logger.Debugf(ctx, "stream: %s; output: %s", streamInfo, outInfo)

	g, gctx := errgroup.WithContext(ctx)
	result := &Result{OutputInfo: outInfo}

	decoded := source.NewChan(handoffDepth)
	decodeCtx, stopDecode := context.WithCancelCause(gctx)
	defer stopDecode(nil)
	goStage(decodeCtx, g, func(ctx context.Context) error {
		defer decoded.CloseSend()
		return producerError(ctx, forwardFrames(ctx, dec.All(ctx), decoded))
	})

	last, stopLast := decoded, stopDecode
	var vpp *session.VPP
	if needsVPP(streamInfo, outInfo) {
		selector := cfg.VPP
		if !selector.IsValid() {
			selector = cfg.Decoder
		}
		vpp, err = session.NewVPP(ctx, selector, decoded, opts...)
		if err == nil {
			defer vpp.Close(ctx)
			params := implementation.DefaultVPPParam(streamInfo, outInfo)
			params.ScalingMode = cfg.Output.ScalingMode
			err = vpp.Init(ctx, params)
		}
		if err != nil {
			abort(ctx, g, decoded, stopDecode)
			return nil, fmt.Errorf("unable to initialize the video processor: %w", err)
		}
		processed := source.NewChan(handoffDepth)
		processCtx, stopProcess := context.WithCancelCause(gctx)
		defer stopProcess(nil)
		goStage(processCtx, g, func(processCtx context.Context) error {
			defer processed.CloseSend()
			defer consumerDone(ctx, decoded, stopDecode)
			return producerError(processCtx, forwardFrames(processCtx, vpp.All(processCtx), processed))
		})
		last, stopLast = processed, stopProcess
	}

	var enc *session.Encode
	if isEncoding {
		params := cfg.EncodeParams
		params.FrameInfo = outInfo
		enc, err = session.NewEncode(ctx, cfg.Encoder, last, cfg.SessionOptions...)
		if err == nil {
			defer enc.Close(ctx)
			err = enc.Init(ctx, params)
		}
		if err != nil {
			abort(ctx, g, last, stopLast)
			return nil, fmt.Errorf("unable to initialize the encoder: %w", err)
		}
		goStage(gctx, g, func(gctx context.Context) error {
			defer consumerDone(ctx, last, stopLast)
			for chunk, err := range enc.All(gctx) {
				if err != nil {
					return fmt.Errorf("encoding failed: %w", err)
				}
				if err := chunks.WriteChunk(gctx, chunk); err != nil {
					return err
				}
			}
			return nil
		})
	} else {
		goStage(gctx, g, func(gctx context.Context) error {
			defer consumerDone(ctx, last, stopLast)
			return writeFrames(gctx, last, frames)
		})
	}

	err = g.Wait()
	result.Decode = dec.Stats()
	if vpp != nil {
		stats := vpp.Stats()
		result.VPP = &stats
	}
	if enc != nil {
		stats := enc.Stats()
		result.Encode = &stats
	}
	return result, err
}

// goStage runs fn on a goroutine of the group; a panic is reported
// through the logger in ctx before it crashes the process.
func goStage(
	ctx context.Context,
	g *errgroup.Group,
	fn func(ctx context.Context) error,
) {
	g.Go(func() (_err error) {
		observability.Call(ctx, func(ctx context.Context) {
			_err = fn(ctx)
		})
		return
	})
}

// errStageDone is the cause a producer is stopped with once its consumer
// does not need more frames.
var errStageDone = errors.New("the next stage is done")

// producerError hides the error caused by stopping the producer on
// purpose.
func producerError(ctx context.Context, err error) error {
	if err != nil && errors.Is(context.Cause(ctx), errStageDone) {
		return nil
	}
	return err
}

// consumerDone stops the producer of in and releases the frames it still
// sends.
func consumerDone(
	ctx context.Context,
	in *source.Chan,
	stop context.CancelCauseFunc,
) {
	stop(errStageDone)
	in.Drain(ctx)
}

// abort stops the already started stages when the pipeline could not be
// built completely.
func abort(
	ctx context.Context,
	g *errgroup.Group,
	last *source.Chan,
	stop context.CancelCauseFunc,
) {
	consumerDone(ctx, last, stop)
	if err := g.Wait(); err != nil {
		logger.Debugf(ctx, "the aborted stages returned: %v", err)
	}
}

// forwardFrames sends every frame of the sequence to the channel; a frame
// that could not be sent is released.
func forwardFrames(
	ctx context.Context,
	seq iter.Seq2[*frame.Frame, error],
	out *source.Chan,
) error {
	for f, err := range seq {
		if err != nil {
			return err
		}
		if err := out.Send(ctx, f); err != nil {
			if releaseErr := f.Release(ctx); releaseErr != nil {
				logger.Errorf(ctx, "unable to release %s: %v", f, releaseErr)
			}
			return err
		}
	}
	return nil
}

func writeFrames(
	ctx context.Context,
	in *source.Chan,
	out sink.Frames,
) error {
	for {
		f, err := in.ReadFrame(ctx, nil)
		switch {
		case errors.Is(err, types.ErrEndOfStream):
			return nil
		case err != nil:
			return err
		}
		err = out.WriteFrame(ctx, f)
		if releaseErr := f.Release(ctx); releaseErr != nil && err == nil {
			err = releaseErr
		}
		if err != nil {
			return err
		}
	}
}
