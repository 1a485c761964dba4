package scaler

import (
	"context"
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/transform"
	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/helpers/closuresignaler"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
	"golang.org/x/image/draw"
)

// Software is a pure-Go scaler and color converter.
type Software struct {
	*closuresignaler.ClosureSignaler
	src     types.FrameInfo
	dst     types.FrameInfo
	quality Quality
}

var _ Scaler = (*Software)(nil)

func NewSoftware(
	ctx context.Context,
	src types.FrameInfo,
	dst types.FrameInfo,
	quality Quality,
) (*Software, error) {
	for _, fi := range []types.FrameInfo{src, dst} {
		if _, err := frame.NewLayout(fi); err != nil {
			return nil, fmt.Errorf("unable to create a software scaler: %w", err)
		}
	}
	return &Software{
		ClosureSignaler: closuresignaler.New(),
		src:             src,
		dst:             dst,
		quality:         quality,
	}, nil
}

func (s *Software) String() string {
	return fmt.Sprintf(
		"SoftwareScaler(%s:%s -> %s:%s)",
		s.src.Visible(), s.src.FourCC,
		s.dst.Visible(), s.dst.FourCC,
	)
}

func (s *Software) Close(ctx context.Context) error {
	logger.Tracef(ctx, "Close")
	defer logger.Tracef(ctx, "/Close")
	s.ClosureSignaler.Close(ctx)
	return nil
}

func (s *Software) SourceInfo() types.FrameInfo {
	return s.src
}

func (s *Software) DestinationInfo() types.FrameInfo {
	return s.dst
}

func (s *Software) interpolator() draw.Interpolator {
	switch s.quality {
	case QualityFast:
		return draw.NearestNeighbor
	case QualityBest:
		return draw.CatmullRom
	default:
		return draw.BiLinear
	}
}

func (s *Software) resampleFilter() transform.ResampleFilter {
	switch s.quality {
	case QualityFast:
		return transform.NearestNeighbor
	case QualityBest:
		return transform.CatmullRom
	default:
		return transform.Linear
	}
}

func (s *Software) ScaleFrame(
	ctx context.Context,
	src *frame.Frame,
	dst *frame.Frame,
) (_err error) {
	logger.Tracef(ctx, "ScaleFrame")
	defer func() { logger.Tracef(ctx, "/ScaleFrame: %v", _err) }()
	if s.IsClosed() {
		return fmt.Errorf("scaler is closed")
	}
	return frame.WithMapped(ctx, src, types.MemoryAccessRead, func(srcMap *frame.Mapping) error {
		return frame.WithMapped(ctx, dst, types.MemoryAccessWrite, func(dstMap *frame.Mapping) error {
			return s.Scale(srcMap, dstMap)
		})
	})
}

// Scale converts the visible part of src into the visible part of dst.
func (s *Software) Scale(src, dst *frame.Mapping) error {
	in, err := readPicture(src)
	if err != nil {
		return fmt.Errorf("unable to read the source: %w", err)
	}
	dstInfo := dst.Info()
	w, h := int(dstInfo.ROI.W), int(dstInfo.ROI.H)

	var out *picture
	if dstInfo.FourCC == types.FourCCRGB4 {
		if in.IsRGB() {
			out = &picture{Width: w, Height: h, RGBA: s.resizeRGBA(in.RGBA, w, h)}
		} else {
			full := s.resizeYCbCr(in, w, h, w, h)
			out = &picture{Width: w, Height: h, RGBA: toRGBA(full)}
		}
	} else {
		if in.IsRGB() {
			in = toYCbCr444(in)
		}
		cw, ch := chromaSize(dstInfo.FourCC, w, h)
		out = s.resizeYCbCr(in, w, h, cw, ch)
	}

	if err := writePicture(dst, out); err != nil {
		return fmt.Errorf("unable to write the destination: %w", err)
	}
	return nil
}

func (s *Software) resizeRGBA(img *image.RGBA, w, h int) *image.RGBA {
	if img.Rect.Dx() == w && img.Rect.Dy() == h {
		return img
	}
	return transform.Resize(img, w, h, s.resampleFilter())
}

func (s *Software) resizeYCbCr(p *picture, w, h, cw, ch int) *picture {
	return &picture{
		Width:  w,
		Height: h,
		Y:      s.resizeGray(p.Y, w, h),
		Cb:     s.resizeGray(p.Cb, cw, ch),
		Cr:     s.resizeGray(p.Cr, cw, ch),
	}
}

func (s *Software) resizeGray(img *image.Gray, w, h int) *image.Gray {
	if img.Rect.Dx() == w && img.Rect.Dy() == h {
		return img
	}
	result := image.NewGray(image.Rect(0, 0, w, h))
	s.interpolator().Scale(result, result.Rect, img, img.Rect, draw.Src, nil)
	return result
}
