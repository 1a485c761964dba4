// Package sink provides the outputs of sessions: raw frame files and
// elementary streams.
package sink

import (
	"context"

	"github.com/xaionaro-go/avsession/bitstream"
	"github.com/xaionaro-go/avsession/frame"
)

// Frames consumes raw pictures. WriteFrame does not take the ownership of
// the frame: the caller still has to release it.
type Frames interface {
	WriteFrame(ctx context.Context, f *frame.Frame) error
	Close(ctx context.Context) error
}

// Bitstream consumes encoder output.
type Bitstream interface {
	WriteChunk(ctx context.Context, c *bitstream.Chunk) error
	Close(ctx context.Context) error
}
