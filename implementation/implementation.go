// Package implementation defines what a media implementation (a set of
// decoders, encoders and video processors) provides, and how one is
// selected for a session.
package implementation

import (
	"context"
	"errors"

	"github.com/xaionaro-go/avsession/bitstream"
	"github.com/xaionaro-go/avsession/device"
	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/types"
)

// ErrNeedMoreInput is returned by Receive* methods when the processor
// cannot produce anything until more input is sent.
var ErrNeedMoreInput = errors.New("need more input")

type Implementation interface {
	Description() Description

	// OpenDevice opens the device context the processors run on.
	OpenDevice(
		ctx context.Context,
		deviceType types.HardwareDeviceType,
		deviceName types.HardwareDeviceName,
	) (device.Context, error)

	// DecodeHeader parses the stream headers in data and returns the
	// parameters of the stream; returns ErrNeedMoreInput if data has no
	// complete sequence header yet.
	DecodeHeader(
		ctx context.Context,
		codecID types.CodecID,
		data []byte,
		isLast bool,
	) (*VideoParam, error)

	NewDecoder(ctx context.Context, dev device.Context, params VideoParam) (Decoder, error)
	NewEncoder(ctx context.Context, dev device.Context, params VideoParam) (Encoder, error)
	NewVPP(ctx context.Context, dev device.Context, params VideoParam) (VPP, error)
}

// Decoder follows the send/receive model: compressed data goes in through
// SendData, pictures in display order come out of ReceiveFrame.
type Decoder interface {
	types.Closer
	SendData(ctx context.Context, data []byte) error
	SendEndOfStream(ctx context.Context) error

	// ReceiveFrame returns the next decoded picture, ErrNeedMoreInput or
	// types.ErrEndOfStream after SendEndOfStream once everything is
	// drained.
	ReceiveFrame(ctx context.Context, alloc frame.Allocator) (*frame.Frame, error)

	// ReorderDepth is the maximal amount of pictures the decoder holds
	// back to output them in display order.
	ReorderDepth() int
}

// Encoder consumes frames in display order and outputs chunks in decoding
// order.
type Encoder interface {
	types.Closer

	// SendFrame takes the ownership of the frame (the handle is no longer
	// valid afterwards).
	SendFrame(ctx context.Context, f *frame.Frame) error
	SendEndOfStream(ctx context.Context) error

	// ReceiveChunk returns the next chunk, ErrNeedMoreInput or
	// types.ErrEndOfStream after SendEndOfStream once everything is
	// drained.
	ReceiveChunk(ctx context.Context) (*bitstream.Chunk, error)

	ReorderDepth() int
}

// VPP converts frames (scaling, color conversion, frame rate conversion).
type VPP interface {
	types.Closer

	// SendFrame takes the ownership of the frame.
	SendFrame(ctx context.Context, f *frame.Frame) error
	SendEndOfStream(ctx context.Context) error
	ReceiveFrame(ctx context.Context, alloc frame.Allocator) (*frame.Frame, error)
}
