package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/types"
)

func TestRawFrameReader(t *testing.T) {
	ctx := context.Background()
	info := types.NewFrameInfo(types.FourCCI420, 32, 16, types.Rational{Num: 30, Den: 1})
	frameSize := 32*16 + 2*16*8
	data := make([]byte, 3*frameSize)
	for i := range data {
		data[i] = byte(i / frameSize)
	}

	r, err := NewRawFrameReaderFromBytes(data, info)
	require.NoError(t, err)
	require.Equal(t, frameSize, r.FrameSize())

	pool, err := frame.NewSurfacePool(info, 1, nil)
	require.NoError(t, err)
	for idx := range 3 {
		f, err := r.ReadFrame(ctx, pool)
		require.NoError(t, err)
		require.Equal(t, uint64(idx), f.Order)
		require.Equal(t, int64(idx*3000), f.PTS)
		require.NoError(t, frame.WithMapped(ctx, f, types.MemoryAccessRead, func(m *frame.Mapping) error {
			require.Equal(t, byte(idx), m.Plane(0)[0])
			require.Equal(t, byte(idx), m.Plane(2)[0])
			return nil
		}))
		require.NoError(t, f.Release(ctx))
	}

	for range 2 {
		_, err := r.ReadFrame(ctx, pool)
		require.ErrorIs(t, err, types.ErrEndOfStream)
	}
}

func TestRawFrameReaderAcquireCancelled(t *testing.T) {
	ctx := context.Background()
	info := types.NewFrameInfo(types.FourCCI420, 32, 16, types.Rational{Num: 30, Den: 1})
	frameSize := 32*16 + 2*16*8
	data := make([]byte, 3*frameSize)
	for i := range data {
		data[i] = byte(i / frameSize)
	}
	r, err := NewRawFrameReaderFromBytes(data, info)
	require.NoError(t, err)

	pool, err := frame.NewSurfacePool(info, 1, nil)
	require.NoError(t, err)
	held, err := r.ReadFrame(ctx, pool)
	require.NoError(t, err)

	timeoutCtx, cancelFn := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancelFn()
	_, err = r.ReadFrame(timeoutCtx, pool)
	require.True(t, types.IsCancelled(err), "%v", err)
	require.NoError(t, held.Release(ctx))

	// the frame read before the cancellation is not lost
	for idx := 1; idx < 3; idx++ {
		f, err := r.ReadFrame(ctx, pool)
		require.NoError(t, err)
		require.Equal(t, uint64(idx), f.Order)
		require.NoError(t, frame.WithMapped(ctx, f, types.MemoryAccessRead, func(m *frame.Mapping) error {
			require.Equal(t, byte(idx), m.Plane(0)[0])
			return nil
		}))
		require.NoError(t, f.Release(ctx))
	}
	_, err = r.ReadFrame(ctx, pool)
	require.ErrorIs(t, err, types.ErrEndOfStream)
}

func TestRawFrameReaderTruncated(t *testing.T) {
	ctx := context.Background()
	info := types.NewFrameInfo(types.FourCCI420, 32, 16, types.Rational{Num: 30, Den: 1})
	r, err := NewRawFrameReaderFromBytes(make([]byte, 100), info)
	require.NoError(t, err)

	_, err = r.ReadFrame(ctx, nil)
	var ioErr types.ErrIO
	require.ErrorAs(t, err, &ioErr)
	require.False(t, errors.Is(err, types.ErrEndOfStream))
}

func TestRawFrameReaderAllocatorMismatch(t *testing.T) {
	ctx := context.Background()
	info := types.NewFrameInfo(types.FourCCI420, 32, 16, types.Rational{Num: 30, Den: 1})
	r, err := NewRawFrameReaderFromBytes(make([]byte, 1000), info)
	require.NoError(t, err)

	pool, err := frame.NewSurfacePool(info.WithFourCC(types.FourCCNV12), 1, nil)
	require.NoError(t, err)
	_, err = r.ReadFrame(ctx, pool)
	var unsupported types.ErrUnsupportedParameter
	require.ErrorAs(t, err, &unsupported)
}

func TestBitstreamReader(t *testing.T) {
	ctx := context.Background()
	r := NewBitstreamReaderFromBytes([]byte("abcdef"))
	buf := make([]byte, 4)

	n, err := r.ReadBitstream(ctx, buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	n, err = r.ReadBitstream(ctx, buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	_, err = r.ReadBitstream(ctx, buf)
	require.ErrorIs(t, err, types.ErrEndOfStream)
	require.Equal(t, uint64(6), r.BytesRead())

	cancelledCtx, cancelFn := context.WithCancel(ctx)
	cancelFn()
	_, err = r.ReadBitstream(cancelledCtx, buf)
	require.True(t, types.IsCancelled(err))
}

func TestChan(t *testing.T) {
	ctx := context.Background()
	info := types.NewFrameInfo(types.FourCCI420, 32, 16, types.Rational{Num: 30, Den: 1})
	c := NewChan(1)

	f, err := frame.New(info)
	require.NoError(t, err)
	require.NoError(t, c.Send(ctx, f))

	timeoutCtx, cancelFn := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancelFn()
	f2, err := frame.New(info)
	require.NoError(t, err)
	err = c.Send(timeoutCtx, f2)
	require.True(t, types.IsCancelled(err))
	require.NoError(t, f2.Release(ctx))

	got, err := c.ReadFrame(ctx, nil)
	require.NoError(t, err)
	require.Same(t, f, got)
	require.NoError(t, got.Release(ctx))

	c.CloseSend()
	_, err = c.ReadFrame(ctx, nil)
	require.ErrorIs(t, err, types.ErrEndOfStream)
}
