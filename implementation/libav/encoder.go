package libav

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avsession/bitstream"
	"github.com/xaionaro-go/avsession/device"
	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/xsync"
)

type encoder struct {
	locker   xsync.Mutex
	params   implementation.VideoParam
	codec    *codecContext
	packet   *astiav.Packet
	avFrame  *astiav.Frame
	output   []*bitstream.Chunk
	maxPTS   int64
	isEOS    bool
	isClosed bool
}

var _ implementation.Encoder = (*encoder)(nil)

func newEncoder(
	ctx context.Context,
	dev device.Context,
	params implementation.VideoParam,
) (*encoder, error) {
	c, err := newCodecContext(ctx, true, params, dev)
	if err != nil {
		return nil, err
	}
	avFrame, err := newAVFrame(params.FrameInfo)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	e := &encoder{
		params:  params,
		codec:   c,
		packet:  astiav.AllocPacket(),
		avFrame: avFrame,
		maxPTS:  astiav.NoPtsValue,
	}
	c.closer.Add(e.packet.Free)
	c.closer.Add(avFrame.Free)
	return e, nil
}

func (e *encoder) String() string {
	return fmt.Sprintf("Encoder(%s)", e.codec.codec.Name())
}

func (e *encoder) ReorderDepth() int {
	return int(e.params.GOP.BFrames)
}

func (e *encoder) SendFrame(
	ctx context.Context,
	f *frame.Frame,
) error {
	return xsync.DoA2R1(ctx, &e.locker, e.sendFrameLocked, ctx, f)
}

func (e *encoder) sendFrameLocked(
	ctx context.Context,
	f *frame.Frame,
) (_err error) {
	logger.Tracef(ctx, "sendFrameLocked: %s", f)
	defer func() { logger.Tracef(ctx, "/sendFrameLocked: %v", _err) }()
	if e.isClosed || e.isEOS {
		return fmt.Errorf("the encoder does not accept frames anymore")
	}
	pts := f.PTS
	return f.Consume(ctx, func(ctx context.Context, s frame.Surface) error {
		info := s.Layout().Info
		if info.FourCC != e.params.FrameInfo.FourCC || info.Visible() != e.params.FrameInfo.Visible() {
			return types.ErrUnsupportedParameter{
				Param:  "FrameInfo",
				Reason: fmt.Sprintf("got a frame %s while encoding %s", info, e.params.FrameInfo),
			}
		}
		if hw, ok := s.(*hwSurface); ok && e.codec.hardwareFramesContext != nil {
			return e.sendAVFrame(ctx, hw.HardwareFrame(), pts)
		}
		if err := copySurfaceToAVFrame(ctx, s, e.avFrame); err != nil {
			return err
		}
		if e.codec.hardwareFramesContext == nil {
			return e.sendAVFrame(ctx, e.avFrame, pts)
		}

		hwFrame := astiav.AllocFrame()
		defer hwFrame.Free()
		if err := hwFrame.AllocHardwareBuffer(e.codec.hardwareFramesContext); err != nil {
			return types.ErrAllocationFailed{Resource: "hardware frame", Err: err}
		}
		if err := e.avFrame.TransferHardwareData(hwFrame); err != nil {
			return types.ErrIO{Op: "upload", Err: err}
		}
		return e.sendAVFrame(ctx, hwFrame, pts)
	})
}

func (e *encoder) sendAVFrame(
	ctx context.Context,
	f *astiav.Frame,
	pts int64,
) error {
	f.SetPts(pts)
	err := e.codec.codecContext.SendFrame(f)
	if errors.Is(err, astiav.ErrEagain) {
		if err := e.drain(ctx); err != nil {
			return err
		}
		err = e.codec.codecContext.SendFrame(f)
	}
	if err != nil {
		return types.ErrIO{Op: "send frame", Err: err}
	}
	return e.drain(ctx)
}

// drain moves everything the codec has ready into the output queue.
func (e *encoder) drain(ctx context.Context) error {
	for {
		err := e.codec.codecContext.ReceivePacket(e.packet)
		switch {
		case err == nil:
		case errors.Is(err, astiav.ErrEagain), errors.Is(err, astiav.ErrEof):
			return nil
		default:
			return types.ErrIO{Op: "receive packet", Err: err}
		}
		chunk := &bitstream.Chunk{
			Data:     slices.Clone(e.packet.Data()),
			PTS:      e.packet.Pts(),
			DTS:      e.packet.Dts(),
			Keyframe: e.packet.Flags().Has(astiav.PacketFlagKey),
		}
		switch {
		case chunk.Keyframe:
			chunk.FrameType = bitstream.FrameTypeIDR
		case e.maxPTS != astiav.NoPtsValue && chunk.PTS < e.maxPTS:
			chunk.FrameType = bitstream.FrameTypeB
		default:
			chunk.FrameType = bitstream.FrameTypeP
		}
		if e.maxPTS == astiav.NoPtsValue || chunk.PTS > e.maxPTS {
			e.maxPTS = chunk.PTS
		}
		e.packet.Unref()
		logger.Tracef(ctx, "encoded %s", chunk)
		e.output = append(e.output, chunk)
	}
}

func (e *encoder) SendEndOfStream(ctx context.Context) error {
	return xsync.DoR1(ctx, &e.locker, func() error {
		if e.isEOS || e.isClosed {
			return nil
		}
		e.isEOS = true
		if err := e.codec.codecContext.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
			return types.ErrIO{Op: "flush", Err: err}
		}
		return e.drain(ctx)
	})
}

func (e *encoder) ReceiveChunk(ctx context.Context) (*bitstream.Chunk, error) {
	return xsync.DoR2(ctx, &e.locker, func() (*bitstream.Chunk, error) {
		if len(e.output) > 0 {
			chunk := e.output[0]
			e.output = e.output[1:]
			return chunk, nil
		}
		if e.isEOS {
			return nil, types.ErrEndOfStream
		}
		return nil, implementation.ErrNeedMoreInput
	})
}

func (e *encoder) Close(ctx context.Context) error {
	return xsync.DoR1(ctx, &e.locker, func() error {
		if e.isClosed {
			return nil
		}
		e.isClosed = true
		e.output = nil
		return e.codec.Close(ctx)
	})
}
