package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
)

// RawFrameReader reads headerless raw frames: the visible parts of the
// planes concatenated, one frame after another.
type RawFrameReader struct {
	reader    io.Reader
	closer    io.Closer
	info      types.FrameInfo
	layout    frame.Layout
	buf       []byte
	nextOrder uint64

	// buf holds a frame that is read already but is not delivered yet
	// (the acquiring of a frame was cancelled)
	isPending bool
}

var _ Frames = (*RawFrameReader)(nil)

func NewRawFrameReader(
	r io.Reader,
	info types.FrameInfo,
) (*RawFrameReader, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	layout, err := frame.NewLayout(info)
	if err != nil {
		return nil, err
	}
	result := &RawFrameReader{
		reader: r,
		info:   info,
		layout: layout,
		buf:    make([]byte, layout.VisibleSize()),
	}
	if c, ok := r.(io.Closer); ok {
		result.closer = c
	}
	return result, nil
}

func OpenRawFrameFile(
	path string,
	info types.FrameInfo,
) (*RawFrameReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.ErrIO{Op: fmt.Sprintf("open '%s'", path), Err: err}
	}
	r, err := NewRawFrameReader(bufio.NewReaderSize(f, 1<<20), info)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

func NewRawFrameReaderFromBytes(
	b []byte,
	info types.FrameInfo,
) (*RawFrameReader, error) {
	return NewRawFrameReader(bytes.NewReader(b), info)
}

func (r *RawFrameReader) String() string {
	return fmt.Sprintf("RawFrameReader(%s)", r.info)
}

func (r *RawFrameReader) Info() types.FrameInfo {
	return r.info
}

// FrameSize is the amount of bytes one frame takes in the stream.
func (r *RawFrameReader) FrameSize() int {
	return len(r.buf)
}

func (r *RawFrameReader) ReadFrame(
	ctx context.Context,
	alloc frame.Allocator,
) (_ret *frame.Frame, _err error) {
	logger.Tracef(ctx, "ReadFrame")
	defer func() { logger.Tracef(ctx, "/ReadFrame: %v %v", _ret, _err) }()
	if err := ctx.Err(); err != nil {
		return nil, types.ErrCancelled{Err: err}
	}

	if alloc != nil {
		if err := r.checkAllocator(alloc); err != nil {
			return nil, err
		}
	}

	if !r.isPending {
		n, err := io.ReadFull(r.reader, r.buf)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF) && n == 0:
			return nil, types.ErrEndOfStream
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, types.ErrIO{Op: "read raw frame", Err: fmt.Errorf("truncated frame: got %d bytes out of %d", n, len(r.buf))}
		default:
			return nil, types.ErrIO{Op: "read raw frame", Err: err}
		}
		r.isPending = true
	}

	var (
		f   *frame.Frame
		err error
	)
	if alloc != nil {
		f, err = alloc.Acquire(ctx)
	} else {
		f, err = frame.New(r.info)
	}
	if err != nil {
		return nil, err
	}

	err = frame.WithMapped(ctx, f, types.MemoryAccessWrite, func(m *frame.Mapping) error {
		_, err := m.FillVisible(r.buf)
		return err
	})
	if err != nil {
		if releaseErr := f.Release(ctx); releaseErr != nil {
			logger.Errorf(ctx, "unable to release the frame: %v", releaseErr)
		}
		return nil, fmt.Errorf("unable to fill the frame: %w", err)
	}
	r.isPending = false
	f.Order = r.nextOrder
	f.PTS = types.PTSForOrder(f.Order, r.info.FrameRate)
	r.nextOrder++
	return f, nil
}

func (r *RawFrameReader) checkAllocator(alloc frame.Allocator) error {
	allocInfo := alloc.Info()
	if allocInfo.FourCC != r.info.FourCC || allocInfo.Visible() != r.info.Visible() {
		return types.ErrUnsupportedParameter{
			Param:  "FrameInfo",
			Reason: fmt.Sprintf("the source provides %s, but the frames are allocated as %s", r.info, allocInfo),
		}
	}
	return nil
}

func (r *RawFrameReader) Close() error {
	if r.closer == nil {
		return nil
	}
	c := r.closer
	r.closer = nil
	return c.Close()
}
