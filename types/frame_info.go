package types

import (
	"fmt"
)

// FrameInfo describes the geometry and layout of a picture.
type FrameInfo struct {
	FourCC       FourCC
	ChromaFormat ChromaFormat
	PicStruct    PicStruct

	// Size is the allocated surface size, padded to SurfaceAlignment.
	Size Resolution

	// ROI is the visible part of the surface.
	ROI Rect

	FrameRate Rational
	BitDepth  uint8
}

// NewFrameInfo builds a progressive FrameInfo with a visible area of
// width x height and the surface size padded accordingly.
func NewFrameInfo(
	fourCC FourCC,
	width, height uint32,
	frameRate Rational,
) FrameInfo {
	visible := Resolution{Width: width, Height: height}
	return FrameInfo{
		FourCC:       fourCC,
		ChromaFormat: fourCC.ChromaFormat(),
		PicStruct:    PicStructProgressive,
		Size:         visible.Aligned(),
		ROI:          RectFromResolution(visible),
		FrameRate:    frameRate,
		BitDepth:     fourCC.BitDepth(),
	}
}

func (fi FrameInfo) String() string {
	return fmt.Sprintf("%s %s roi:%s @%s", fi.FourCC, fi.Size, fi.ROI, fi.FrameRate)
}

// Visible returns the size of the region of interest.
func (fi FrameInfo) Visible() Resolution {
	return fi.ROI.Size()
}

// WithVisible returns a copy with the visible area (and the padded size)
// replaced.
func (fi FrameInfo) WithVisible(width, height uint32) FrameInfo {
	fi.ROI = Rect{W: width, H: height}
	fi.Size = fi.ROI.Size().Aligned()
	return fi
}

// WithFourCC returns a copy with the layout replaced; the chroma format and
// the bit depth follow the layout.
func (fi FrameInfo) WithFourCC(fourCC FourCC) FrameInfo {
	fi.FourCC = fourCC
	fi.ChromaFormat = fourCC.ChromaFormat()
	fi.BitDepth = fourCC.BitDepth()
	return fi
}

func (fi FrameInfo) Validate() error {
	if !fi.FourCC.IsKnown() {
		return ErrUnsupportedParameter{Param: "FrameInfo.FourCC", Reason: fmt.Sprintf("unknown fourcc 0x%08X", uint32(fi.FourCC))}
	}
	if fi.ChromaFormat != fi.FourCC.ChromaFormat() {
		return ErrUnsupportedParameter{Param: "FrameInfo.ChromaFormat", Reason: fmt.Sprintf("%s does not match fourcc %s", fi.ChromaFormat, fi.FourCC)}
	}
	if fi.PicStruct >= EndOfPicStruct || fi.PicStruct < 0 {
		return ErrUnsupportedParameter{Param: "FrameInfo.PicStruct", Reason: fi.PicStruct.String()}
	}
	if fi.Size.IsZero() {
		return ErrUnsupportedParameter{Param: "FrameInfo.Size", Reason: "empty"}
	}
	if fi.Size.Width%SurfaceAlignment != 0 || fi.Size.Height%SurfaceAlignment != 0 {
		return ErrUnsupportedParameter{Param: "FrameInfo.Size", Reason: fmt.Sprintf("%s is not aligned to %d", fi.Size, SurfaceAlignment)}
	}
	if fi.ROI.IsEmpty() {
		return ErrUnsupportedParameter{Param: "FrameInfo.ROI", Reason: "empty"}
	}
	if !fi.ROI.Inside(fi.Size) {
		return ErrUnsupportedParameter{Param: "FrameInfo.ROI", Reason: fmt.Sprintf("%s does not fit into %s", fi.ROI, fi.Size)}
	}
	if !fi.FrameRate.IsPositive() {
		return ErrUnsupportedParameter{Param: "FrameInfo.FrameRate", Reason: fmt.Sprintf("%s is not positive", fi.FrameRate)}
	}
	return nil
}
