package sink

import (
	"bytes"
	"context"
	"io"

	"github.com/xaionaro-go/avsession/bitstream"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/xsync"
)

// BitstreamWriter writes chunks one after another, producing an
// elementary stream.
type BitstreamWriter struct {
	*writer
}

var _ Bitstream = (*BitstreamWriter)(nil)

func NewBitstreamWriter(w io.Writer) *BitstreamWriter {
	return &BitstreamWriter{
		writer: newWriter(w),
	}
}

func CreateBitstreamFile(path string) (*BitstreamWriter, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}
	return NewBitstreamWriter(f), nil
}

func NewBitstreamWriterToMemory() (*BitstreamWriter, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewBitstreamWriter(&buf), &buf
}

func (w *BitstreamWriter) WriteChunk(
	ctx context.Context,
	c *bitstream.Chunk,
) (_err error) {
	logger.Tracef(ctx, "WriteChunk: %s", c)
	defer func() { logger.Tracef(ctx, "/WriteChunk: %s: %v", c, _err) }()
	return xsync.DoR1(ctx, &w.locker, func() error {
		return w.writeLocked("write chunk", c.Data)
	})
}
