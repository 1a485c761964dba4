package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avsession/bitstream"
	"github.com/xaionaro-go/avsession/device"
	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/implementation/soft"
	"github.com/xaionaro-go/avsession/source"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/typing"
)

var testFrameRate = types.Rational{Num: 30, Den: 1}

func newTestSelector(t *testing.T) implementation.Selector {
	ctx := context.Background()
	registry := implementation.NewRegistry()
	require.NoError(t, registry.Register(ctx, soft.New()))
	selector, err := registry.Select(ctx, implementation.Properties{
		Implementation: types.ImplementationTypeSoftware,
	})
	require.NoError(t, err)
	return selector
}

func rawClip(t *testing.T, info types.FrameInfo, numFrames int) []byte {
	layout, err := frame.NewLayout(info)
	require.NoError(t, err)
	size := layout.VisibleSize()
	result := make([]byte, size*numFrames)
	for idx := 0; idx < numFrames; idx++ {
		for i := 0; i < size; i++ {
			result[idx*size+i] = byte((i/9 + 7*idx) % 230)
		}
	}
	return result
}

func encodeClip(
	t *testing.T,
	params implementation.VideoParam,
	numFrames int,
) ([]*bitstream.Chunk, []byte) {
	ctx := context.Background()
	src, err := source.NewRawFrameReaderFromBytes(rawClip(t, params.FrameInfo, numFrames), params.FrameInfo)
	require.NoError(t, err)

	s, err := NewEncode(ctx, newTestSelector(t), src, OptionDeviceManager{device.NewManager()})
	require.NoError(t, err)
	defer s.Close(ctx)
	require.NoError(t, s.Init(ctx, params))
	require.Equal(t, StateInitialized, s.State(ctx))

	var (
		chunks []*bitstream.Chunk
		stream []byte
	)
	for chunk, err := range s.All(ctx) {
		require.NoError(t, err)
		chunks = append(chunks, chunk)
		stream = append(stream, chunk.Data...)
	}
	require.Equal(t, StateClosed, s.State(ctx))
	_, err = s.Next(ctx)
	require.ErrorIs(t, err, types.ErrEndOfStream)
	stats := s.Stats()
	require.Equal(t, uint64(numFrames), stats.FramesIn)
	require.Equal(t, uint64(len(chunks)), stats.FramesOut)
	require.Equal(t, uint64(len(stream)), stats.BytesOut)
	return chunks, stream
}

func TestEncodeHEVC(t *testing.T) {
	fi := types.NewFrameInfo(types.FourCCI420, 320, 240, testFrameRate)
	params := implementation.DefaultEncodeParam(types.CodecIDHEVC, fi)
	chunks, stream := encodeClip(t, params, 30)
	require.Len(t, chunks, 30)
	require.NotEmpty(t, stream)
	for _, chunk := range chunks {
		require.NotZero(t, chunk.Size())
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		Name    string
		CodecID types.CodecID
		Info    types.FrameInfo
		BFrames uint32
		Frames  int
	}{
		{
			Name:    "avc-i420",
			CodecID: types.CodecIDAVC,
			Info:    types.NewFrameInfo(types.FourCCI420, 176, 144, testFrameRate),
			Frames:  12,
		},
		{
			Name:    "hevc-nv12-bframes",
			CodecID: types.CodecIDHEVC,
			Info:    types.NewFrameInfo(types.FourCCNV12, 64, 48, testFrameRate),
			BFrames: 2,
			Frames:  17,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			encParams := implementation.DefaultEncodeParam(tc.CodecID, tc.Info)
			encParams.GOP.BFrames = tc.BFrames
			chunks, stream := encodeClip(t, encParams, tc.Frames)
			require.Len(t, chunks, tc.Frames)

			manager := device.NewManager()
			s, err := NewDecode(ctx, newTestSelector(t), source.NewBitstreamReaderFromBytes(stream), OptionDeviceManager{manager}, OptionReadSize(100))
			require.NoError(t, err)
			defer s.Close(ctx)
			require.Greater(t, s.Version().Major, uint16(1))

			require.NoError(t, s.InitByHeader(ctx, implementation.DefaultDecodeParam(tc.CodecID)))
			require.Equal(t, tc.Info.Visible(), s.Params(ctx).FrameInfo.Visible())
			require.Equal(t, tc.Info.FourCC, s.Params(ctx).FrameInfo.FourCC)
			require.Equal(t, 1, manager.NumOpened(ctx))

			count := 0
			for f, err := range s.All(ctx) {
				require.NoError(t, err)
				require.Equal(t, tc.Info.Visible(), f.Info().Visible())
				require.Equal(t, uint64(count), f.Order)
				require.Equal(t, types.PTSForOrder(uint64(count), testFrameRate), f.PTS)
				require.NoError(t, f.Release(ctx))
				count++
			}
			require.Equal(t, tc.Frames, count)
			require.Equal(t, StateClosed, s.State(ctx))
			require.Zero(t, manager.NumOpened(ctx))
			require.Equal(t, uint64(len(stream)), s.Stats().BytesIn)

			for range 2 {
				_, err = s.Next(ctx)
				require.ErrorIs(t, err, types.ErrEndOfStream)
			}
			require.NoError(t, s.Close(ctx))
			require.NoError(t, s.Close(ctx))
		})
	}
}

func TestDecodeNumFrames(t *testing.T) {
	ctx := context.Background()
	fi := types.NewFrameInfo(types.FourCCI420, 64, 48, testFrameRate)
	_, stream := encodeClip(t, implementation.DefaultEncodeParam(types.CodecIDAVC, fi), 10)

	s, err := NewDecode(ctx, newTestSelector(t), source.NewBitstreamReaderFromBytes(stream), OptionDeviceManager{device.NewManager()})
	require.NoError(t, err)
	defer s.Close(ctx)
	params := implementation.DefaultDecodeParam(types.CodecIDAVC)
	params.FrameInfo = fi
	params.NumFrames = 4
	require.NoError(t, s.Init(ctx, params))

	count := 0
	for f, err := range s.All(ctx) {
		require.NoError(t, err)
		require.NoError(t, f.Release(ctx))
		count++
	}
	require.Equal(t, 4, count)
}

func TestDecodeBackpressure(t *testing.T) {
	ctx := context.Background()
	fi := types.NewFrameInfo(types.FourCCI420, 64, 48, testFrameRate)
	_, stream := encodeClip(t, implementation.DefaultEncodeParam(types.CodecIDAVC, fi), 10)

	s, err := NewDecode(ctx, newTestSelector(t), source.NewBitstreamReaderFromBytes(stream), OptionDeviceManager{device.NewManager()}, OptionExtraSurfaces(0))
	require.NoError(t, err)
	defer s.Close(ctx)
	params := implementation.DefaultDecodeParam(types.CodecIDAVC)
	params.FrameInfo = fi
	require.NoError(t, s.Init(ctx, params))
	require.Equal(t, 1, s.Params(ctx).AsyncDepth)

	held, err := s.Next(ctx)
	require.NoError(t, err)

	timeoutCtx, cancelFn := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelFn()
	_, err = s.Next(timeoutCtx)
	require.True(t, types.IsCancelled(err), "%v", err)
	require.Equal(t, StateStreaming, s.State(ctx))

	require.NoError(t, held.Release(ctx))
	f, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), f.Order)
	require.NoError(t, f.Release(ctx))
}

type blockingBitstream struct {
	started chan struct{}
}

func (b *blockingBitstream) ReadBitstream(ctx context.Context, _ []byte) (int, error) {
	close(b.started)
	<-ctx.Done()
	return 0, types.ErrCancelled{Err: ctx.Err()}
}

func TestCloseUnblocksNext(t *testing.T) {
	ctx := context.Background()
	src := &blockingBitstream{started: make(chan struct{})}
	manager := device.NewManager()
	s, err := NewDecode(ctx, newTestSelector(t), src, OptionDeviceManager{manager})
	require.NoError(t, err)
	params := implementation.DefaultDecodeParam(types.CodecIDAVC)
	params.FrameInfo = types.NewFrameInfo(types.FourCCI420, 64, 48, testFrameRate)
	require.NoError(t, s.Init(ctx, params))

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Next(ctx)
		errCh <- err
	}()
	<-src.started
	require.NoError(t, s.Close(ctx))

	select {
	case err := <-errCh:
		require.True(t, types.IsCancelled(err), "%v", err)
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Next is not unblocked by Close")
	}
	require.Equal(t, StateClosed, s.State(ctx))
	require.Zero(t, manager.NumOpened(ctx))

	_, err = s.Next(ctx)
	require.True(t, types.IsCancelled(err), "%v", err)
}

// stallingBitstream blocks the read number stallAt until the context is
// done; the other reads are served by src.
type stallingBitstream struct {
	src     source.Bitstream
	stallAt int
	reads   int
}

func (b *stallingBitstream) ReadBitstream(ctx context.Context, buf []byte) (int, error) {
	b.reads++
	if b.reads == b.stallAt {
		<-ctx.Done()
		return 0, types.ErrCancelled{Err: ctx.Err()}
	}
	return b.src.ReadBitstream(ctx, buf)
}

func TestInitByHeaderResumesAfterCancel(t *testing.T) {
	ctx := context.Background()
	const numFrames = 6
	fi := types.NewFrameInfo(types.FourCCI420, 64, 48, testFrameRate)
	_, stream := encodeClip(t, implementation.DefaultEncodeParam(types.CodecIDAVC, fi), numFrames)

	src := &stallingBitstream{src: source.NewBitstreamReaderFromBytes(stream), stallAt: 2}
	manager := device.NewManager()
	s, err := NewDecode(ctx, newTestSelector(t), src, OptionDeviceManager{manager}, OptionReadSize(16))
	require.NoError(t, err)
	defer s.Close(ctx)

	params := implementation.DefaultDecodeParam(types.CodecIDAVC)
	timeoutCtx, cancelFn := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancelFn()
	err = s.InitByHeader(timeoutCtx, params)
	require.True(t, types.IsCancelled(err), "%v", err)
	require.Equal(t, StateUninitialized, s.State(ctx))
	require.Zero(t, manager.NumOpened(ctx))

	require.NoError(t, s.InitByHeader(ctx, params))
	require.Equal(t, fi.Visible(), s.Params(ctx).FrameInfo.Visible())
	count := 0
	for f, err := range s.All(ctx) {
		require.NoError(t, err)
		require.Equal(t, types.PTSForOrder(uint64(count), testFrameRate), f.PTS)
		require.NoError(t, f.Release(ctx))
		count++
	}
	require.Equal(t, numFrames, count)
	require.Equal(t, uint64(len(stream)), s.Stats().BytesIn)
}

func TestCloseUnblocksInitByHeader(t *testing.T) {
	ctx := context.Background()
	src := &blockingBitstream{started: make(chan struct{})}
	s, err := NewDecode(ctx, newTestSelector(t), src, OptionDeviceManager{device.NewManager()})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.InitByHeader(ctx, implementation.DefaultDecodeParam(types.CodecIDAVC))
	}()
	<-src.started
	require.NoError(t, s.Close(ctx))

	select {
	case err := <-errCh:
		require.True(t, types.IsCancelled(err), "%v", err)
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("InitByHeader is not unblocked by Close")
	}
	require.Equal(t, StateClosed, s.State(ctx))
}

func TestInvalidSelector(t *testing.T) {
	ctx := context.Background()
	_, err := NewDecode(ctx, implementation.Selector{}, source.NewBitstreamReaderFromBytes(nil))
	require.ErrorIs(t, err, types.ErrConfiguration)
	_, err = NewEncode(ctx, implementation.Selector{}, nil)
	require.ErrorIs(t, err, types.ErrConfiguration)
	_, err = NewVPP(ctx, implementation.Selector{}, source.NewChan(0))
	require.ErrorIs(t, err, types.ErrConfiguration)
}

func TestInitFailureClosesSession(t *testing.T) {
	ctx := context.Background()
	manager := device.NewManager()
	s, err := NewDecode(ctx, newTestSelector(t), source.NewBitstreamReaderFromBytes(nil), OptionDeviceManager{manager})
	require.NoError(t, err)

	params := implementation.DefaultDecodeParam(types.CodecIDAVC)
	params.FrameInfo = types.NewFrameInfo(types.FourCCI420, 64, 48, testFrameRate)
	params.IOPattern = types.IOPatternOutVideoMemory
	err = s.Init(ctx, params)
	require.ErrorAs(t, err, &types.ErrUnsupportedParameter{})
	require.Equal(t, StateClosed, s.State(ctx))
	require.Zero(t, manager.NumOpened(ctx))

	_, err = s.Next(ctx)
	require.True(t, types.IsCancelled(err), "%v", err)
	require.ErrorIs(t, s.Init(ctx, params), types.ErrConfiguration)
}

func TestNextBeforeInit(t *testing.T) {
	ctx := context.Background()
	s, err := NewDecode(ctx, newTestSelector(t), source.NewBitstreamReaderFromBytes(nil))
	require.NoError(t, err)
	defer s.Close(ctx)
	_, err = s.Next(ctx)
	require.ErrorIs(t, err, types.ErrConfiguration)
}

func TestEncodeSubmitFlush(t *testing.T) {
	ctx := context.Background()
	fi := types.NewFrameInfo(types.FourCCI420, 64, 48, testFrameRate)
	params := implementation.DefaultEncodeParam(types.CodecIDAVC, fi)
	params.GOP.BFrames = 2
	params.RateControl = implementation.RateControl{
		Method:     types.RateControlMethodCBR,
		TargetKbps: typing.Opt[uint32](200),
	}

	s, err := NewEncode(ctx, newTestSelector(t), nil, OptionDeviceManager{device.NewManager()})
	require.NoError(t, err)
	defer s.Close(ctx)
	require.NoError(t, s.Init(ctx, params))

	raw := rawClip(t, fi, 7)
	layout, err := frame.NewLayout(fi)
	require.NoError(t, err)
	var chunks []*bitstream.Chunk
	for idx := 0; idx < 7; idx++ {
		f, err := s.AcquireFrame(ctx)
		require.NoError(t, err)
		require.NoError(t, frame.WithMapped(ctx, f, types.MemoryAccessWrite, func(m *frame.Mapping) error {
			_, err := m.FillVisible(raw[idx*layout.VisibleSize():])
			return err
		}))
		f.PTS = types.PTSForOrder(uint64(idx), testFrameRate)
		result, err := s.Submit(ctx, f)
		require.NoError(t, err)
		require.False(t, f.IsValid(ctx))
		_, err = f.Map(ctx, types.MemoryAccessRead)
		require.True(t, types.IsInvalidAccess(err), "%v", err)
		chunks = append(chunks, result...)
	}
	rest, err := s.Flush(ctx)
	require.NoError(t, err)
	chunks = append(chunks, rest...)
	require.Len(t, chunks, 7)
	require.Equal(t, bitstream.FrameTypeIDR, chunks[0].FrameType)

	rest, err = s.Flush(ctx)
	require.NoError(t, err)
	require.Empty(t, rest)

	late, err := frame.New(fi)
	require.NoError(t, err)
	_, err = s.Submit(ctx, late)
	require.Error(t, err)
	require.False(t, late.IsValid(ctx))
}

func TestEncodeRejectsMappedFrame(t *testing.T) {
	ctx := context.Background()
	fi := types.NewFrameInfo(types.FourCCI420, 64, 48, testFrameRate)
	s, err := NewEncode(ctx, newTestSelector(t), nil, OptionDeviceManager{device.NewManager()})
	require.NoError(t, err)
	defer s.Close(ctx)
	require.NoError(t, s.Init(ctx, implementation.DefaultEncodeParam(types.CodecIDAVC, fi)))

	f, err := s.AcquireFrame(ctx)
	require.NoError(t, err)
	m, err := f.Map(ctx, types.MemoryAccessWrite)
	require.NoError(t, err)
	_, err = s.Submit(ctx, f)
	require.True(t, types.IsInvalidAccess(err), "%v", err)
	require.NoError(t, m.Unmap(ctx))

	// the session survives a rejected frame
	chunks, err := s.Submit(ctx, f)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}

func TestVPPSession(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		Name     string
		In       types.FrameInfo
		Out      types.FrameInfo
		InCount  int
		OutCount int
	}{
		{
			Name:     "upscale",
			In:       types.NewFrameInfo(types.FourCCI420, 64, 48, testFrameRate),
			Out:      types.NewFrameInfo(types.FourCCI420, 160, 120, testFrameRate),
			InCount:  8,
			OutCount: 8,
		},
		{
			Name:     "downscale-to-rgb",
			In:       types.NewFrameInfo(types.FourCCNV12, 160, 120, testFrameRate),
			Out:      types.NewFrameInfo(types.FourCCRGB4, 80, 60, testFrameRate),
			InCount:  8,
			OutCount: 8,
		},
		{
			Name:     "frame-rate-halving",
			In:       types.NewFrameInfo(types.FourCCI420, 64, 48, types.Rational{Num: 60, Den: 1}),
			Out:      types.NewFrameInfo(types.FourCCI420, 64, 48, testFrameRate),
			InCount:  10,
			OutCount: 5,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			src, err := source.NewRawFrameReaderFromBytes(rawClip(t, tc.In, tc.InCount), tc.In)
			require.NoError(t, err)
			s, err := NewVPP(ctx, newTestSelector(t), src, OptionDeviceManager{device.NewManager()})
			require.NoError(t, err)
			defer s.Close(ctx)
			require.NoError(t, s.Init(ctx, implementation.DefaultVPPParam(tc.In, tc.Out)))

			count := 0
			for f, err := range s.All(ctx) {
				require.NoError(t, err)
				require.Equal(t, tc.Out.FourCC, f.Info().FourCC)
				require.Equal(t, tc.Out.Visible(), f.Info().Visible())
				require.NoError(t, f.Release(ctx))
				count++
			}
			require.Equal(t, tc.OutCount, count)
			require.Equal(t, uint64(tc.InCount), s.Stats().FramesIn)
			_, err = s.Next(ctx)
			require.True(t, errors.Is(err, types.ErrEndOfStream), "%v", err)
		})
	}
}

func TestMaxFPS(t *testing.T) {
	ctx := context.Background()
	fi := types.NewFrameInfo(types.FourCCI420, 64, 48, testFrameRate)
	src, err := source.NewRawFrameReaderFromBytes(rawClip(t, fi, 4), fi)
	require.NoError(t, err)
	s, err := NewVPP(ctx, newTestSelector(t), src, OptionDeviceManager{device.NewManager()}, OptionMaxFPS(50))
	require.NoError(t, err)
	defer s.Close(ctx)
	require.NoError(t, s.Init(ctx, implementation.DefaultVPPParam(fi, fi)))

	startedAt := time.Now()
	count := 0
	for f, err := range s.All(ctx) {
		require.NoError(t, err)
		require.NoError(t, f.Release(ctx))
		count++
	}
	require.Equal(t, 4, count)
	require.GreaterOrEqual(t, time.Since(startedAt), 55*time.Millisecond)
}

func TestEncodeResumesAfterCancel(t *testing.T) {
	ctx := context.Background()
	const numFrames = 5
	fi := types.NewFrameInfo(types.FourCCI420, 64, 48, testFrameRate)
	params := implementation.DefaultEncodeParam(types.CodecIDAVC, fi)
	params.GOP.BFrames = 0
	src, err := source.NewRawFrameReaderFromBytes(rawClip(t, fi, numFrames), fi)
	require.NoError(t, err)

	s, err := NewEncode(ctx, newTestSelector(t), src, OptionDeviceManager{device.NewManager()}, OptionExtraSurfaces(0))
	require.NoError(t, err)
	defer s.Close(ctx)
	require.NoError(t, s.Init(ctx, params))

	// no free surface: the frame read from the source has nowhere to go
	held, err := s.AcquireFrame(ctx)
	require.NoError(t, err)
	timeoutCtx, cancelFn := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancelFn()
	_, err = s.Next(timeoutCtx)
	require.True(t, types.IsCancelled(err), "%v", err)
	require.Equal(t, StateStreaming, s.State(ctx))
	require.NoError(t, held.Release(ctx))

	var chunks []*bitstream.Chunk
	for chunk, err := range s.All(ctx) {
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, numFrames)
	for idx, chunk := range chunks {
		require.Equal(t, types.PTSForOrder(uint64(idx), testFrameRate), chunk.PTS)
	}
	require.Equal(t, uint64(numFrames), s.Stats().FramesIn)
}

func TestVPPResumesAfterCancel(t *testing.T) {
	ctx := context.Background()
	const numFrames = 5
	fi := types.NewFrameInfo(types.FourCCI420, 64, 48, testFrameRate)
	src, err := source.NewRawFrameReaderFromBytes(rawClip(t, fi, numFrames), fi)
	require.NoError(t, err)

	s, err := NewVPP(ctx, newTestSelector(t), src, OptionDeviceManager{device.NewManager()})
	require.NoError(t, err)
	defer s.Close(ctx)
	require.NoError(t, s.Init(ctx, implementation.DefaultVPPParam(fi, fi)))

	var held []*frame.Frame
	for range s.inPool.Size() {
		f, err := s.inPool.Acquire(ctx)
		require.NoError(t, err)
		held = append(held, f)
	}
	timeoutCtx, cancelFn := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancelFn()
	_, err = s.Next(timeoutCtx)
	require.True(t, types.IsCancelled(err), "%v", err)
	require.Equal(t, StateStreaming, s.State(ctx))
	for _, f := range held {
		require.NoError(t, f.Release(ctx))
	}

	count := 0
	for f, err := range s.All(ctx) {
		require.NoError(t, err)
		require.Equal(t, types.PTSForOrder(uint64(count), testFrameRate), f.PTS)
		require.NoError(t, f.Release(ctx))
		count++
	}
	require.Equal(t, numFrames, count)
	require.Equal(t, uint64(numFrames), s.Stats().FramesIn)
}
