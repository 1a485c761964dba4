package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
)

// BitstreamReader reads a container-less elementary stream.
type BitstreamReader struct {
	reader io.Reader
	closer io.Closer
	total  uint64
}

var _ Bitstream = (*BitstreamReader)(nil)

func NewBitstreamReader(r io.Reader) *BitstreamReader {
	result := &BitstreamReader{
		reader: r,
	}
	if c, ok := r.(io.Closer); ok {
		result.closer = c
	}
	return result
}

func OpenBitstreamFile(path string) (*BitstreamReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.ErrIO{Op: fmt.Sprintf("open '%s'", path), Err: err}
	}
	return NewBitstreamReader(f), nil
}

func NewBitstreamReaderFromBytes(b []byte) *BitstreamReader {
	return NewBitstreamReader(bytes.NewReader(b))
}

func (r *BitstreamReader) ReadBitstream(
	ctx context.Context,
	buf []byte,
) (_n int, _err error) {
	logger.Tracef(ctx, "ReadBitstream(%d)", len(buf))
	defer func() { logger.Tracef(ctx, "/ReadBitstream(%d): %d %v", len(buf), _n, _err) }()
	if err := ctx.Err(); err != nil {
		return 0, types.ErrCancelled{Err: err}
	}
	n, err := r.reader.Read(buf)
	r.total += uint64(max(n, 0))
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		if n > 0 {
			return n, nil
		}
		return 0, types.ErrEndOfStream
	default:
		return n, types.ErrIO{Op: "read bitstream", Err: err}
	}
}

// BytesRead returns the amount of bytes read so far.
func (r *BitstreamReader) BytesRead() uint64 {
	return r.total
}

func (r *BitstreamReader) Close() error {
	if r.closer == nil {
		return nil
	}
	c := r.closer
	r.closer = nil
	return c.Close()
}
