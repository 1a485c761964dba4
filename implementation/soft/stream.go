// stream.go defines the elementary stream format of the soft codec.
//
// The stream is a sequence of start-code delimited units (see package
// bitstream). A sequence header describes the geometry, picture units
// carry zstd-compressed quantized samples (intra) or quantized residuals
// against a reference picture (inter).

package soft

import (
	"encoding/binary"
	"fmt"

	"github.com/xaionaro-go/avsession/bitstream"
	"github.com/xaionaro-go/avsession/types"
)

type unitType byte

const (
	unitTypeSequenceHeader = unitType(0x40)
	unitTypePicture        = unitType(0x41)
)

const (
	streamVersion         = 1
	sequenceHeaderSize    = 24
	pictureHeaderSize     = 18
	noReference           = ^uint32(0)
	maxQP                 = 51
	maxReorderDepth       = 7
	defaultMaxResolutionW = 8192
	defaultMaxResolutionH = 8192
)

type sequenceHeader struct {
	CodecID   types.CodecID
	FourCC    types.FourCC
	Width     uint32
	Height    uint32
	FrameRate types.Rational
	BFrames   uint8
	PicStruct types.PicStruct
}

func (h sequenceHeader) FrameInfo() types.FrameInfo {
	fi := types.NewFrameInfo(h.FourCC, h.Width, h.Height, h.FrameRate)
	fi.PicStruct = h.PicStruct
	return fi
}

func (h sequenceHeader) Marshal() []byte {
	b := make([]byte, 0, sequenceHeaderSize)
	b = append(b, streamVersion, byte(h.CodecID))
	b = binary.BigEndian.AppendUint32(b, uint32(h.FourCC))
	b = binary.BigEndian.AppendUint32(b, h.Width)
	b = binary.BigEndian.AppendUint32(b, h.Height)
	b = binary.BigEndian.AppendUint32(b, uint32(h.FrameRate.Num))
	b = binary.BigEndian.AppendUint32(b, uint32(h.FrameRate.Den))
	b = append(b, h.BFrames, byte(h.PicStruct))
	return b
}

func parseSequenceHeader(b []byte) (sequenceHeader, error) {
	if len(b) < sequenceHeaderSize {
		return sequenceHeader{}, fmt.Errorf("sequence header is too short: %d < %d", len(b), sequenceHeaderSize)
	}
	if b[0] != streamVersion {
		return sequenceHeader{}, fmt.Errorf("unsupported stream version %d", b[0])
	}
	h := sequenceHeader{
		CodecID: types.CodecID(b[1]),
		FourCC:  types.FourCC(binary.BigEndian.Uint32(b[2:])),
		Width:   binary.BigEndian.Uint32(b[6:]),
		Height:  binary.BigEndian.Uint32(b[10:]),
		FrameRate: types.Rational{
			Num: int(binary.BigEndian.Uint32(b[14:])),
			Den: int(binary.BigEndian.Uint32(b[18:])),
		},
		BFrames:   b[22],
		PicStruct: types.PicStruct(b[23]),
	}
	if !h.CodecID.IsValid() {
		return sequenceHeader{}, fmt.Errorf("invalid codec %s", h.CodecID)
	}
	if err := h.FrameInfo().Validate(); err != nil {
		return sequenceHeader{}, fmt.Errorf("invalid geometry: %w", err)
	}
	if h.BFrames > maxReorderDepth {
		return sequenceHeader{}, fmt.Errorf("invalid amount of B-frames: %d", h.BFrames)
	}
	return h, nil
}

type pictureHeader struct {
	FrameType bitstream.FrameType
	POC       uint32
	RefPOC    uint32
	QP        uint8
	PTS       int64
}

func (h pictureHeader) IsIntra() bool {
	return h.RefPOC == noReference
}

func (h pictureHeader) Marshal(dst []byte) []byte {
	dst = append(dst, byte(h.FrameType))
	dst = binary.BigEndian.AppendUint32(dst, h.POC)
	dst = binary.BigEndian.AppendUint32(dst, h.RefPOC)
	dst = append(dst, h.QP)
	dst = binary.BigEndian.AppendUint64(dst, uint64(h.PTS))
	return dst
}

func parsePictureHeader(b []byte) (pictureHeader, []byte, error) {
	if len(b) < pictureHeaderSize {
		return pictureHeader{}, nil, fmt.Errorf("picture header is too short: %d < %d", len(b), pictureHeaderSize)
	}
	h := pictureHeader{
		FrameType: bitstream.FrameType(b[0]),
		POC:       binary.BigEndian.Uint32(b[1:]),
		RefPOC:    binary.BigEndian.Uint32(b[5:]),
		QP:        b[9],
		PTS:       int64(binary.BigEndian.Uint64(b[10:])),
	}
	if h.FrameType <= bitstream.FrameTypeUnknown || h.FrameType >= bitstream.EndOfFrameType {
		return pictureHeader{}, nil, fmt.Errorf("invalid frame type %d", b[0])
	}
	if h.FrameType.IsIntra() != h.IsIntra() {
		return pictureHeader{}, nil, fmt.Errorf("%s picture with reference %d", h.FrameType, h.RefPOC)
	}
	if h.QP > maxQP {
		return pictureHeader{}, nil, fmt.Errorf("invalid QP %d", h.QP)
	}
	return h, b[pictureHeaderSize:], nil
}

// findSequenceHeader scans data for the first sequence header.
func findSequenceHeader(data []byte, isLast bool) (*sequenceHeader, error) {
	for len(data) > 0 {
		unit, consumed, ok := bitstream.NextUnit(data, isLast)
		data = data[consumed:]
		if !ok {
			if consumed == 0 {
				break
			}
			continue
		}
		if unitType(unit.Type) != unitTypeSequenceHeader {
			continue
		}
		h, err := parseSequenceHeader(unit.Payload)
		if err != nil {
			return nil, err
		}
		return &h, nil
	}
	return nil, nil
}
