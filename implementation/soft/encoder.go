package soft

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/xaionaro-go/avsession/bitstream"
	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/xsync"
)

type rawPicture struct {
	POC     uint32
	PTS     int64
	Samples []byte
}

type anchor struct {
	POC   uint32
	Recon []byte
}

type encoder struct {
	locker      xsync.Mutex
	params      implementation.VideoParam
	header      sequenceHeader
	layout      frame.Layout
	zstd        *zstd.Encoder
	rc          *rateController
	pending     []*rawPicture
	output      []*bitstream.Chunk
	lastAnchor  *anchor
	headerSent  bool
	nextPOC     uint32
	intraCount  uint64
	decodeIndex uint64
	isEOS       bool
	isClosed    bool
}

var _ implementation.Encoder = (*encoder)(nil)

func newEncoder(
	ctx context.Context,
	params implementation.VideoParam,
) (*encoder, error) {
	layout, err := frame.NewLayout(params.FrameInfo)
	if err != nil {
		return nil, err
	}
	zstdEncoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, types.ErrAllocationFailed{Resource: "zstd encoder", Err: err}
	}
	fi := params.FrameInfo
	return &encoder{
		params: params,
		header: sequenceHeader{
			CodecID:   params.CodecID,
			FourCC:    fi.FourCC,
			Width:     fi.ROI.W,
			Height:    fi.ROI.H,
			FrameRate: fi.FrameRate,
			BFrames:   uint8(params.GOP.BFrames),
			PicStruct: fi.PicStruct,
		},
		layout: layout,
		zstd:   zstdEncoder,
		rc:     newRateController(params.RateControl, fi.FrameRate),
	}, nil
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

	pic := &rawPicture{
		POC: e.nextPOC,
		PTS: f.PTS,
	}
	err := f.Consume(ctx, func(ctx context.Context, s frame.Surface) error {
		info := s.Layout().Info
		if info.FourCC != e.params.FrameInfo.FourCC || info.Visible() != e.params.FrameInfo.Visible() {
			return types.ErrUnsupportedParameter{
				Param:  "FrameInfo",
				Reason: fmt.Sprintf("got a frame %s while encoding %s", info, e.params.FrameInfo),
			}
		}
		data, err := s.Lock(ctx, types.MemoryAccessRead)
		if err != nil {
			return err
		}
		pic.Samples = s.Layout().ReadVisible(make([]byte, 0, e.layout.VisibleSize()), data)
		return s.Unlock(ctx, types.MemoryAccessRead)
	})
	if err != nil {
		return err
	}
	e.nextPOC++

	e.pending = append(e.pending, pic)
	if e.isIntraPOC(pic.POC) || len(e.pending) > int(e.params.GOP.BFrames) {
		return e.encodeGroup(ctx)
	}
	return nil
}

func (e *encoder) isIntraPOC(poc uint32) bool {
	if poc == 0 {
		return true
	}
	gopSize := e.params.GOP.Size
	return gopSize > 0 && poc%gopSize == 0
}

// encodeGroup codes the last pending picture as an anchor and the rest
// of them as B-pictures referencing the previous anchor.
func (e *encoder) encodeGroup(ctx context.Context) error {
	if len(e.pending) == 0 {
		return nil
	}
	anchorPic := e.pending[len(e.pending)-1]
	bPics := e.pending[:len(e.pending)-1]
	e.pending = nil

	ref := e.lastAnchor
	frameType := bitstream.FrameTypeP
	if ref == nil || e.isIntraPOC(anchorPic.POC) {
		frameType = bitstream.FrameTypeI
		if e.params.GOP.IDRInterval == 0 || e.intraCount%uint64(e.params.GOP.IDRInterval) == 0 {
			frameType = bitstream.FrameTypeIDR
		}
		e.intraCount++
		ref = nil
	}
	newAnchor, err := e.encodePicture(ctx, anchorPic, frameType, ref)
	if err != nil {
		return err
	}

	bRef := e.lastAnchor
	for _, pic := range bPics {
		frameType := bitstream.FrameTypeB
		if bRef == nil {
			frameType = bitstream.FrameTypeI
		}
		if _, err := e.encodePicture(ctx, pic, frameType, bRef); err != nil {
			return err
		}
	}
	e.lastAnchor = newAnchor
	return nil
}

func (e *encoder) encodePicture(
	ctx context.Context,
	pic *rawPicture,
	frameType bitstream.FrameType,
	ref *anchor,
) (*anchor, error) {
	qp := e.rc.QP()
	step := quantizerStep(qp)
	recon := make([]byte, len(pic.Samples))
	h := pictureHeader{
		FrameType: frameType,
		POC:       pic.POC,
		RefPOC:    noReference,
		QP:        qp,
		PTS:       pic.PTS,
	}

	var coded []byte
	if ref == nil {
		coded = quantizeIntra(pic.Samples, step, recon)
	} else {
		h.RefPOC = ref.POC
		coded = quantizeInter(pic.Samples, ref.Recon, step, recon)
	}

	payload := h.Marshal(make([]byte, 0, pictureHeaderSize+len(coded)/2))
	payload = e.zstd.EncodeAll(coded, payload)

	var data []byte
	if !e.headerSent {
		data = bitstream.AppendUnit(data, byte(unitTypeSequenceHeader), e.header.Marshal())
		e.headerSent = true
	}
	data = bitstream.AppendUnit(data, byte(unitTypePicture), payload)
	e.rc.Update(len(data))

	fi := e.params.FrameInfo
	chunk := &bitstream.Chunk{
		Data:      data,
		PTS:       pic.PTS,
		DTS:       types.PTSForOrder(e.decodeIndex, fi.FrameRate) - int64(e.params.GOP.BFrames)*types.FrameDuration(fi.FrameRate),
		FrameType: frameType,
		Keyframe:  frameType == bitstream.FrameTypeIDR,
	}
	e.decodeIndex++
	e.output = append(e.output, chunk)
	logger.Tracef(ctx, "encoded %s (poc:%d, ref:%d, qp:%d)", chunk, h.POC, h.RefPOC, qp)
	return &anchor{POC: pic.POC, Recon: recon}, nil
}

func (e *encoder) SendEndOfStream(ctx context.Context) error {
	return xsync.DoR1(ctx, &e.locker, func() error {
		if e.isEOS {
			return nil
		}
		e.isEOS = true
		return e.encodeGroup(ctx)
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
		e.pending = nil
		e.output = nil
		return e.zstd.Close()
	})
}
