package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avsession/bitstream"
	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/types"
)

func TestRawFrameWriter(t *testing.T) {
	ctx := context.Background()
	info := types.NewFrameInfo(types.FourCCNV12, 20, 10, types.Rational{Num: 30, Den: 1})
	f, err := frame.New(info)
	require.NoError(t, err)
	defer f.Release(ctx)

	w, buf := NewRawFrameWriterToMemory()
	require.NoError(t, w.WriteFrame(ctx, f))
	require.NoError(t, w.WriteFrame(ctx, f))
	require.False(t, f.IsMapped(ctx))
	require.NoError(t, w.Close(ctx))
	require.NoError(t, w.Close(ctx))

	require.Equal(t, 2*(20*10+20*5), buf.Len())
	require.Equal(t, uint64(2), w.Stats().FramesIn)

	err = w.WriteFrame(ctx, f)
	var ioErr types.ErrIO
	require.ErrorAs(t, err, &ioErr)
}

func TestBitstreamFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.bin")
	w, err := CreateBitstreamFile(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteChunk(ctx, &bitstream.Chunk{Data: []byte{1, 2}}))
	require.NoError(t, w.WriteChunk(ctx, &bitstream.Chunk{Data: []byte{3}}))
	require.NoError(t, w.Close(ctx))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, b)
}
