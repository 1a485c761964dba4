package soft

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ng/container/heap"
	"github.com/klauspost/compress/zstd"
	"github.com/xaionaro-go/avsession/bitstream"
	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/xsync"
)

const maxAnchors = 2

type decodedPicture struct {
	POC     uint32
	PTS     int64
	Samples []byte
}

// reorderQueue is a min-heap of decoded pictures by POC.
type reorderQueue []*decodedPicture

func (q reorderQueue) Len() int {
	return len(q)
}

func (q reorderQueue) Less(i, j int) bool {
	return q[i].POC < q[j].POC
}

func (q reorderQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
}

func (q *reorderQueue) Push(p *decodedPicture) {
	*q = append(*q, p)
}

func (q *reorderQueue) Pop() *decodedPicture {
	old := *q
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return p
}

type decoder struct {
	locker       xsync.Mutex
	params       implementation.VideoParam
	layout       frame.Layout
	zstd         *zstd.Decoder
	buffer       *bitstream.Buffer
	header       *sequenceHeader
	anchors      []anchor
	queue        reorderQueue
	nextPOC      uint32
	reorderDepth int
	isFlushing   bool
	// a new sequence header arrived: the pictures of the previous
	// sequence are output before anything of the new one is decoded
	isNewSequence bool
	isClosed      bool
}

var _ implementation.Decoder = (*decoder)(nil)

func newDecoder(
	ctx context.Context,
	params implementation.VideoParam,
) (*decoder, error) {
	layout, err := frame.NewLayout(params.FrameInfo)
	if err != nil {
		return nil, err
	}
	zstdDecoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, types.ErrAllocationFailed{Resource: "zstd decoder", Err: err}
	}
	return &decoder{
		params:       params,
		layout:       layout,
		zstd:         zstdDecoder,
		buffer:       bitstream.NewBuffer(1 << 16),
		reorderDepth: int(params.GOP.BFrames),
	}, nil
}

func (d *decoder) ReorderDepth() int {
	return xsync.DoR1(context.Background(), &d.locker, func() int {
		return d.reorderDepth
	})
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
		if pic := d.popReady(); pic != nil {
			return d.output(ctx, pic, alloc)
		}

		unit, ok, err := d.buffer.NextUnit()
		switch {
		case errors.Is(err, types.ErrEndOfStream):
			if d.queue.Len() == 0 {
				return nil, types.ErrEndOfStream
			}
			d.isFlushing = true
			continue
		case err != nil:
			return nil, types.ErrIO{Op: "parse", Err: err}
		case !ok:
			return nil, implementation.ErrNeedMoreInput
		}

		if err := d.processUnit(ctx, unit); err != nil {
			return nil, err
		}
	}
}

func (d *decoder) popReady() *decodedPicture {
	if d.queue.Len() == 0 {
		if d.isNewSequence {
			d.isNewSequence = false
			d.nextPOC = 0
			d.anchors = nil
		}
		return nil
	}
	if d.queue[0].POC != d.nextPOC && d.queue.Len() <= d.reorderDepth && !d.isFlushing && !d.isNewSequence {
		return nil
	}
	pic := heap.Pop(&d.queue)
	d.nextPOC = pic.POC + 1
	return pic
}

func (d *decoder) output(
	ctx context.Context,
	pic *decodedPicture,
	alloc frame.Allocator,
) (*frame.Frame, error) {
	f, err := alloc.Acquire(ctx)
	if err != nil {
		// keep the picture for the next attempt
		heap.Push(&d.queue, pic)
		d.nextPOC = pic.POC
		return nil, err
	}
	err = frame.WithMapped(ctx, f, types.MemoryAccessWrite, func(m *frame.Mapping) error {
		_, err := m.FillVisible(pic.Samples)
		return err
	})
	if err != nil {
		if releaseErr := f.Release(ctx); releaseErr != nil {
			logger.Errorf(ctx, "unable to release the frame: %v", releaseErr)
		}
		return nil, fmt.Errorf("unable to fill the frame: %w", err)
	}
	f.PTS = pic.PTS
	f.Order = uint64(pic.POC)
	return f, nil
}

func (d *decoder) processUnit(
	ctx context.Context,
	unit bitstream.Unit,
) error {
	switch unitType(unit.Type) {
	case unitTypeSequenceHeader:
		h, err := parseSequenceHeader(unit.Payload)
		if err != nil {
			return types.ErrIO{Op: "parse sequence header", Err: err}
		}
		if err := d.checkHeader(h); err != nil {
			return err
		}
		if d.header != nil {
			d.isNewSequence = true
		}
		d.header = &h
		d.reorderDepth = max(d.reorderDepth, int(h.BFrames))
		return nil
	case unitTypePicture:
		if d.header == nil {
			logger.Debugf(ctx, "skipping a picture before the first sequence header")
			return nil
		}
		return d.decodePicture(ctx, unit.Payload)
	default:
		logger.Debugf(ctx, "skipping unknown %s", unit)
		return nil
	}
}

func (d *decoder) checkHeader(h sequenceHeader) error {
	if h.CodecID != d.params.CodecID {
		return types.ErrUnsupportedParameter{Param: "CodecID", Reason: fmt.Sprintf("the stream is %s, not %s", h.CodecID, d.params.CodecID)}
	}
	fi := d.params.FrameInfo
	if h.FourCC != fi.FourCC || h.Width != fi.ROI.W || h.Height != fi.ROI.H {
		return types.ErrUnsupportedParameter{
			Param:  "FrameInfo",
			Reason: fmt.Sprintf("the stream is %s %dx%d, but the session is initialized for %s", h.FourCC, h.Width, h.Height, fi),
		}
	}
	return nil
}

func (d *decoder) decodePicture(
	ctx context.Context,
	payload []byte,
) error {
	h, compressed, err := parsePictureHeader(payload)
	if err != nil {
		return types.ErrIO{Op: "parse picture header", Err: err}
	}
	coded, err := d.zstd.DecodeAll(compressed, nil)
	if err != nil {
		return types.ErrIO{Op: "decompress picture", Err: err}
	}

	step := quantizerStep(h.QP)
	recon := make([]byte, d.layout.VisibleSize())
	if h.IsIntra() {
		err = reconstructIntra(coded, step, recon)
	} else {
		ref := d.findAnchor(h.RefPOC)
		if ref == nil {
			return types.ErrIO{Op: "decode picture", Err: fmt.Errorf("reference picture %d of picture %d is missing", h.RefPOC, h.POC)}
		}
		err = reconstructInter(coded, ref.Recon, step, recon)
	}
	if err != nil {
		return types.ErrIO{Op: "decode picture", Err: err}
	}
	logger.Tracef(ctx, "decoded %s picture (poc:%d, ref:%d)", h.FrameType, h.POC, h.RefPOC)

	if h.FrameType != bitstream.FrameTypeB {
		d.anchors = append(d.anchors, anchor{POC: h.POC, Recon: recon})
		if len(d.anchors) > maxAnchors {
			d.anchors = d.anchors[len(d.anchors)-maxAnchors:]
		}
	}
	heap.Push(&d.queue, &decodedPicture{
		POC:     h.POC,
		PTS:     h.PTS,
		Samples: recon,
	})
	return nil
}

func (d *decoder) findAnchor(poc uint32) *anchor {
	for idx := range d.anchors {
		if d.anchors[idx].POC == poc {
			return &d.anchors[idx]
		}
	}
	return nil
}

func (d *decoder) Close(ctx context.Context) error {
	return xsync.DoR1(ctx, &d.locker, func() error {
		if d.isClosed {
			return nil
		}
		d.isClosed = true
		d.queue = nil
		d.anchors = nil
		d.buffer.Reset()
		d.zstd.Close()
		return nil
	})
}
