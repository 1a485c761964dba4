package sink

import (
	"bytes"
	"context"
	"io"

	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/xsync"
)

// RawFrameWriter writes the visible (ROI-cropped) planes of each frame
// concatenated, which is the format RawFrameReader reads.
type RawFrameWriter struct {
	*writer
	buf []byte
}

var _ Frames = (*RawFrameWriter)(nil)

func NewRawFrameWriter(w io.Writer) *RawFrameWriter {
	return &RawFrameWriter{
		writer: newWriter(w),
	}
}

func CreateRawFrameFile(path string) (*RawFrameWriter, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}
	return NewRawFrameWriter(f), nil
}

// NewRawFrameWriterToMemory returns a writer accumulating the output in
// the returned buffer (complete after Flush or Close).
func NewRawFrameWriterToMemory() (*RawFrameWriter, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewRawFrameWriter(&buf), &buf
}

func (w *RawFrameWriter) WriteFrame(
	ctx context.Context,
	f *frame.Frame,
) (_err error) {
	logger.Tracef(ctx, "WriteFrame: %s", f)
	defer func() { logger.Tracef(ctx, "/WriteFrame: %s: %v", f, _err) }()
	return xsync.DoR1(ctx, &w.locker, func() error {
		return frame.WithMapped(ctx, f, types.MemoryAccessRead, func(m *frame.Mapping) error {
			var err error
			w.buf, err = m.AppendVisible(w.buf[:0])
			if err != nil {
				return err
			}
			return w.writeLocked("write raw frame", w.buf)
		})
	})
}
