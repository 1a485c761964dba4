// Package source provides the inputs sessions pull from: raw frames and
// compressed elementary streams.
package source

import (
	"context"

	"github.com/xaionaro-go/avsession/frame"
)

// Frames is a source of raw pictures.
//
// ReadFrame returns the next frame in display order or
// types.ErrEndOfStream. If alloc is not nil, the frame is acquired from
// it; sources that already own their frames (e.g. Chan) ignore alloc.
type Frames interface {
	ReadFrame(ctx context.Context, alloc frame.Allocator) (*frame.Frame, error)
}

// Bitstream is a source of compressed data. It has the io.Reader
// semantics, except the end is reported as types.ErrEndOfStream and
// failures as types.ErrIO.
type Bitstream interface {
	ReadBitstream(ctx context.Context, buf []byte) (int, error)
}
