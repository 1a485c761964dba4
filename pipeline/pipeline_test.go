package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avsession/device"
	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/implementation/soft"
	"github.com/xaionaro-go/avsession/session"
	"github.com/xaionaro-go/avsession/sink"
	"github.com/xaionaro-go/avsession/source"
	"github.com/xaionaro-go/avsession/types"
	"golang.org/x/sync/errgroup"
)

var testFrameRate = types.Rational{Num: 30, Den: 1}

func newTestSelector(t *testing.T) implementation.Selector {
	ctx := context.Background()
	registry := implementation.NewRegistry()
	require.NoError(t, registry.Register(ctx, soft.New()))
	selector, err := registry.Select(ctx, implementation.Properties{})
	require.NoError(t, err)
	return selector
}

func testOptions() []session.Option {
	return []session.Option{session.OptionDeviceManager{device.NewManager()}}
}

func encodeClip(
	t *testing.T,
	codecID types.CodecID,
	info types.FrameInfo,
	numFrames int,
) []byte {
	ctx := context.Background()
	layout, err := frame.NewLayout(info)
	require.NoError(t, err)
	raw := make([]byte, layout.VisibleSize()*numFrames)
	for i := range raw {
		raw[i] = byte(i % 251)
	}
	src, err := source.NewRawFrameReaderFromBytes(raw, info)
	require.NoError(t, err)

	enc, err := session.NewEncode(ctx, newTestSelector(t), src, testOptions()...)
	require.NoError(t, err)
	defer enc.Close(ctx)
	params := implementation.DefaultEncodeParam(codecID, info)
	params.GOP.BFrames = 1
	require.NoError(t, enc.Init(ctx, params))

	out, buf := sink.NewBitstreamWriterToMemory()
	for chunk, err := range enc.All(ctx) {
		require.NoError(t, err)
		require.NoError(t, out.WriteChunk(ctx, chunk))
	}
	require.NoError(t, out.Close(ctx))
	return buf.Bytes()
}

func TestOutputApply(t *testing.T) {
	stream := types.NewFrameInfo(types.FourCCNV12, 320, 240, testFrameRate)
	require.False(t, needsVPP(stream, Output{}.Apply(stream)))

	out := Output{FourCC: types.FourCCI420, Width: 160}.Apply(stream)
	require.Equal(t, types.FourCCI420, out.FourCC)
	require.Equal(t, types.Resolution{Width: 160, Height: 240}, out.Visible())
	require.Equal(t, testFrameRate, out.FrameRate)
	require.True(t, needsVPP(stream, out))
}

func TestRunDecode(t *testing.T) {
	ctx := context.Background()
	streamInfo := types.NewFrameInfo(types.FourCCNV12, 96, 64, testFrameRate)
	stream := encodeClip(t, types.CodecIDAVC, streamInfo, 9)

	for _, tc := range []struct {
		Name      string
		Output    Output
		Frames    int
		VPPStage  bool
		FrameSize types.FrameInfo
	}{
		{
			Name:      "as-is",
			Frames:    9,
			FrameSize: streamInfo,
		},
		{
			Name:      "resize-and-convert",
			Output:    Output{FourCC: types.FourCCI420, Width: 48, Height: 32},
			Frames:    9,
			VPPStage:  true,
			FrameSize: types.NewFrameInfo(types.FourCCI420, 48, 32, testFrameRate),
		},
		{
			Name:      "frame-rate",
			Output:    Output{FrameRate: types.Rational{Num: 10, Den: 1}},
			Frames:    3,
			VPPStage:  true,
			FrameSize: types.NewFrameInfo(types.FourCCNV12, 96, 64, types.Rational{Num: 10, Den: 1}),
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			out, buf := sink.NewRawFrameWriterToMemory()
			result, err := Run(ctx, Config{
				Decoder:        newTestSelector(t),
				DecodeParams:   implementation.DefaultDecodeParam(types.CodecIDAVC),
				Output:         tc.Output,
				HandoffDepth:   1,
				SessionOptions: testOptions(),
			}, source.NewBitstreamReaderFromBytes(stream), out, nil)
			require.NoError(t, err)
			require.NoError(t, out.Close(ctx))

			layout, err := frame.NewLayout(tc.FrameSize)
			require.NoError(t, err)
			require.Equal(t, tc.Frames*layout.VisibleSize(), buf.Len())
			require.Equal(t, uint64(9), result.Decode.FramesOut)
			require.Equal(t, tc.VPPStage, result.VPP != nil)
			if result.VPP != nil {
				require.Equal(t, uint64(tc.Frames), result.VPP.FramesOut)
			}
			require.Nil(t, result.Encode)
		})
	}
}

func TestRunTranscode(t *testing.T) {
	ctx := context.Background()
	streamInfo := types.NewFrameInfo(types.FourCCI420, 64, 48, testFrameRate)
	stream := encodeClip(t, types.CodecIDAVC, streamInfo, 11)

	out, buf := sink.NewBitstreamWriterToMemory()
	outInfo := types.NewFrameInfo(types.FourCCI420, 32, 24, testFrameRate)
	result, err := Run(ctx, Config{
		Decoder:        newTestSelector(t),
		DecodeParams:   implementation.DefaultDecodeParam(types.CodecIDAVC),
		Output:         Output{Width: 32, Height: 24},
		Encoder:        newTestSelector(t),
		EncodeParams:   implementation.DefaultEncodeParam(types.CodecIDHEVC, types.FrameInfo{}),
		SessionOptions: testOptions(),
	}, source.NewBitstreamReaderFromBytes(stream), nil, out)
	require.NoError(t, err)
	require.NoError(t, out.Close(ctx))
	require.NotNil(t, result.Encode)
	require.Equal(t, uint64(11), result.Encode.FramesIn)
	require.Equal(t, outInfo.Visible(), result.OutputInfo.Visible())

	dec, err := session.NewDecode(ctx, newTestSelector(t), source.NewBitstreamReaderFromBytes(buf.Bytes()), testOptions()...)
	require.NoError(t, err)
	defer dec.Close(ctx)
	require.NoError(t, dec.InitByHeader(ctx, implementation.DefaultDecodeParam(types.CodecIDHEVC)))
	count := 0
	for f, err := range dec.All(ctx) {
		require.NoError(t, err)
		require.Equal(t, outInfo.Visible(), f.Info().Visible())
		require.NoError(t, f.Release(ctx))
		count++
	}
	require.Equal(t, 11, count)
}

type failingSink struct {
	failAfter int
	written   int
}

var errSinkFailure = errors.New("sink failure")

func (s *failingSink) WriteFrame(ctx context.Context, f *frame.Frame) error {
	if s.written >= s.failAfter {
		return errSinkFailure
	}
	s.written++
	return nil
}

func (s *failingSink) Close(ctx context.Context) error {
	return nil
}

func TestRunSinkFailure(t *testing.T) {
	ctx := context.Background()
	streamInfo := types.NewFrameInfo(types.FourCCI420, 64, 48, testFrameRate)
	stream := encodeClip(t, types.CodecIDAVC, streamInfo, 20)

	out := &failingSink{failAfter: 3}
	_, err := Run(ctx, Config{
		Decoder:        newTestSelector(t),
		DecodeParams:   implementation.DefaultDecodeParam(types.CodecIDAVC),
		Output:         Output{Width: 32, Height: 24},
		SessionOptions: testOptions(),
	}, source.NewBitstreamReaderFromBytes(stream), out, nil)
	require.ErrorIs(t, err, errSinkFailure)
	require.Equal(t, 3, out.written)
}

func TestRunNoSink(t *testing.T) {
	_, err := Run(context.Background(), Config{Decoder: newTestSelector(t)}, source.NewBitstreamReaderFromBytes(nil), nil, nil)
	require.ErrorIs(t, err, types.ErrConfiguration)
}

func TestGoStage(t *testing.T) {
	type ctxKey struct{}
	errStage := errors.New("stage failed")
	g, gctx := errgroup.WithContext(context.Background())
	stageCtx := context.WithValue(gctx, ctxKey{}, "decode")

	var seen []any
	goStage(stageCtx, g, func(ctx context.Context) error {
		seen = append(seen, ctx.Value(ctxKey{}))
		return errStage
	})
	require.ErrorIs(t, g.Wait(), errStage)
	require.Equal(t, []any{"decode"}, seen)
	require.Error(t, gctx.Err())
}
