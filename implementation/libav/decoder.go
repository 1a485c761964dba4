package libav

import (
	"context"
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avsession/bitstream"
	"github.com/xaionaro-go/avsession/device"
	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/xsync"
)

const defaultReorderDepth = 16

type decoder struct {
	locker      xsync.Mutex
	params      implementation.VideoParam
	codec       *codecContext
	packet      *astiav.Packet
	avFrame     *astiav.Frame
	swFrame     *astiav.Frame
	converted   *astiav.Frame
	scaler      *swsScaler
	buffer      *bitstream.Buffer
	isFlushSent bool
	order       uint64
	isClosed    bool
}

var _ implementation.Decoder = (*decoder)(nil)

func newDecoder(
	ctx context.Context,
	dev device.Context,
	params implementation.VideoParam,
) (*decoder, error) {
	c, err := newCodecContext(ctx, false, params, dev)
	if err != nil {
		return nil, err
	}
	d := &decoder{
		params:  params,
		codec:   c,
		packet:  astiav.AllocPacket(),
		avFrame: astiav.AllocFrame(),
		swFrame: astiav.AllocFrame(),
		buffer:  bitstream.NewBuffer(1 << 16),
	}
	c.closer.Add(d.packet.Free)
	c.closer.Add(d.avFrame.Free)
	c.closer.Add(d.swFrame.Free)
	return d, nil
}

func (d *decoder) String() string {
	return fmt.Sprintf("Decoder(%s)", d.codec.codec.Name())
}

func (d *decoder) ReorderDepth() int {
	if d.codec.codec.Capabilities()&astiav.CodecCapabilityDelay == 0 {
		return 0
	}
	return defaultReorderDepth
}

func (d *decoder) SendData(ctx context.Context, data []byte) error {
	return xsync.DoR1(ctx, &d.locker, func() error {
		if d.isClosed || d.buffer.IsEndOfStream() {
			return fmt.Errorf("the decoder does not accept data anymore")
		}
		d.buffer.Append(data)
		return nil
	})
}

func (d *decoder) SendEndOfStream(ctx context.Context) error {
	return xsync.DoR1(ctx, &d.locker, func() error {
		d.buffer.SetEndOfStream()
		return nil
	})
}

func (d *decoder) ReceiveFrame(
	ctx context.Context,
	alloc frame.Allocator,
) (*frame.Frame, error) {
	return xsync.DoA2R2(ctx, &d.locker, d.receiveFrameLocked, ctx, alloc)
}

func (d *decoder) receiveFrameLocked(
	ctx context.Context,
	alloc frame.Allocator,
) (_ret *frame.Frame, _err error) {
	logger.Tracef(ctx, "receiveFrameLocked")
	defer func() { logger.Tracef(ctx, "/receiveFrameLocked: %v %v", _ret, _err) }()
	if d.isClosed {
		return nil, fmt.Errorf("the decoder is closed")
	}
	for {
		err := d.codec.codecContext.ReceiveFrame(d.avFrame)
		switch {
		case err == nil:
			return d.output(ctx, alloc)
		case errors.Is(err, astiav.ErrEof):
			return nil, types.ErrEndOfStream
		case errors.Is(err, astiav.ErrEagain):
		default:
			return nil, types.ErrIO{Op: "receive frame", Err: err}
		}
		if err := d.feed(ctx); err != nil {
			return nil, err
		}
	}
}

// feed sends the next unit of the buffered stream to the codec.
func (d *decoder) feed(ctx context.Context) error {
	raw, consumed, ok := bitstream.NextRawUnit(d.buffer.Bytes(), d.buffer.IsEndOfStream())
	if !ok {
		d.buffer.Consume(consumed)
		if !d.buffer.IsEndOfStream() || d.buffer.Len() > 0 {
			if consumed > 0 {
				return nil
			}
			return implementation.ErrNeedMoreInput
		}
		if d.isFlushSent {
			return types.ErrEndOfStream
		}
		logger.Tracef(ctx, "sending the flush request pseudo-packet")
		d.isFlushSent = true
		if err := d.codec.codecContext.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
			return types.ErrIO{Op: "flush", Err: err}
		}
		return nil
	}

	if err := d.packet.FromData(raw); err != nil {
		return types.ErrAllocationFailed{Resource: "packet", Err: err}
	}
	err := d.codec.codecContext.SendPacket(d.packet)
	d.packet.Unref()
	switch {
	case err == nil:
	case errors.Is(err, astiav.ErrEagain):
		// the unit is sent again once a frame is received
		return nil
	case errors.Is(err, astiav.ErrEinval), errors.Is(err, astiav.ErrEio):
		return types.ErrIO{Op: "send packet", Err: err}
	default:
		logger.Warnf(ctx, "unable to decode a unit of %d bytes, skipping it: %v", len(raw), err)
	}
	d.buffer.Consume(consumed)
	return nil
}

func (d *decoder) output(
	ctx context.Context,
	alloc frame.Allocator,
) (_ret *frame.Frame, _err error) {
	defer d.avFrame.Unref()
	fi := d.params.FrameInfo
	src := d.avFrame

	if d.codec.hardwarePixelFormat != astiav.PixelFormatNone && src.PixelFormat() == d.codec.hardwarePixelFormat {
		if d.params.IOPattern.Out() == types.MemoryTypeVideo {
			return d.outputHardware(ctx, alloc)
		}
		d.swFrame.Unref()
		if err := src.TransferHardwareData(d.swFrame); err != nil {
			return nil, types.ErrIO{Op: "download", Err: err}
		}
		defer d.swFrame.Unref()
		src = d.swFrame
	}

	src, err := d.convert(ctx, src)
	if err != nil {
		return nil, err
	}

	f, err := alloc.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	err = frame.WithMapped(ctx, f, types.MemoryAccessWrite, func(m *frame.Mapping) error {
		return copyAVFrameToMapping(src, m)
	})
	if err != nil {
		if releaseErr := f.Release(ctx); releaseErr != nil {
			logger.Errorf(ctx, "unable to release the frame: %v", releaseErr)
		}
		return nil, err
	}
	f.PTS = types.PTSForOrder(d.order, fi.FrameRate)
	f.Order = d.order
	d.order++
	return f, nil
}

func (d *decoder) outputHardware(
	ctx context.Context,
	alloc frame.Allocator,
) (*frame.Frame, error) {
	hwFrame := astiav.AllocFrame()
	if err := hwFrame.Ref(d.avFrame); err != nil {
		hwFrame.Free()
		return nil, types.ErrAllocationFailed{Resource: "frame reference", Err: err}
	}
	s, err := newHWSurface(ctx, d.params.FrameInfo, hwFrame)
	if err != nil {
		hwFrame.Free()
		return nil, err
	}
	f, err := alloc.Wrap(ctx, s)
	if err != nil {
		s.Free(ctx)
		return nil, err
	}
	f.PTS = types.PTSForOrder(d.order, d.params.FrameInfo.FrameRate)
	f.Order = d.order
	d.order++
	return f, nil
}

// convert brings the decoded picture to the layout and the geometry of the
// session.
func (d *decoder) convert(
	ctx context.Context,
	src *astiav.Frame,
) (*astiav.Frame, error) {
	fi := d.params.FrameInfo
	w, h := int(fi.ROI.W), int(fi.ROI.H)
	fourCC, ok := fourCCFromPixelFormat(src.PixelFormat())
	if ok && fourCC == fi.FourCC && src.Width() == w && src.Height() == h {
		return src, nil
	}
	dstPixFmt, _ := pixelFormatFromFourCC(fi.FourCC)
	if d.scaler == nil || !d.scaler.Matches(src, w, h, dstPixFmt) {
		if d.scaler != nil {
			_ = d.scaler.Close(ctx)
		}
		s, err := newSWSScaler(ctx, src.Width(), src.Height(), src.PixelFormat(), w, h, dstPixFmt, scaleFlags(d.params.ScalingMode)...)
		if err != nil {
			return nil, err
		}
		logger.Debugf(ctx, "converting the decoded pictures with %s", s)
		d.scaler = s
	}
	if d.converted == nil {
		converted, err := newAVFrame(fi)
		if err != nil {
			return nil, err
		}
		d.converted = converted
		d.codec.closer.Add(converted.Free)
	}
	if err := d.scaler.ScaleFrame(ctx, src, d.converted); err != nil {
		return nil, err
	}
	return d.converted, nil
}

func (d *decoder) Close(ctx context.Context) error {
	return xsync.DoR1(ctx, &d.locker, func() error {
		if d.isClosed {
			return nil
		}
		d.isClosed = true
		d.buffer.Reset()
		if d.scaler != nil {
			_ = d.scaler.Close(ctx)
		}
		return d.codec.Close(ctx)
	})
}
