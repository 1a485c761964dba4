// planes.go converts mapped frames from/to Go images.

package scaler

import (
	"fmt"
	"image"
	"image/color"

	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/types"
)

// picture is the visible part of a frame as Go images: either three
// (possibly subsampled) YCbCr planes or a single RGBA image.
type picture struct {
	Width  int
	Height int
	Y      *image.Gray
	Cb     *image.Gray
	Cr     *image.Gray
	RGBA   *image.RGBA
}

func (p *picture) IsRGB() bool {
	return p.RGBA != nil
}

func chromaSize(fourCC types.FourCC, w, h int) (int, int) {
	switch fourCC.ChromaFormat() {
	case types.ChromaFormatYUV420:
		return (w + 1) / 2, (h + 1) / 2
	case types.ChromaFormatYUV422:
		return (w + 1) / 2, h
	default:
		return w, h
	}
}

func grayView(plane []byte, stride, x, y, w, h int) *image.Gray {
	return &image.Gray{
		Pix:    plane[y*stride+x:],
		Stride: stride,
		Rect:   image.Rect(0, 0, w, h),
	}
}

// readPicture returns the visible part of the mapped frame. The planes of
// I420/YV12 refer to the mapped memory directly.
func readPicture(m *frame.Mapping) (*picture, error) {
	info := m.Info()
	roi := info.ROI
	x, y, w, h := int(roi.X), int(roi.Y), int(roi.W), int(roi.H)
	cw, ch := chromaSize(info.FourCC, w, h)
	strides := m.Strides()
	p := &picture{Width: w, Height: h}

	switch info.FourCC {
	case types.FourCCI420, types.FourCCYV12:
		p.Y = grayView(m.Plane(0), strides[0], x, y, w, h)
		cbIdx, crIdx := 1, 2
		if info.FourCC == types.FourCCYV12 {
			cbIdx, crIdx = 2, 1
		}
		p.Cb = grayView(m.Plane(cbIdx), strides[cbIdx], x/2, y/2, cw, ch)
		p.Cr = grayView(m.Plane(crIdx), strides[crIdx], x/2, y/2, cw, ch)
	case types.FourCCNV12, types.FourCCP010:
		bps := 1
		if info.FourCC == types.FourCCP010 {
			bps = 2
		}
		luma, chroma := m.Plane(0), m.Plane(1)
		p.Y = image.NewGray(image.Rect(0, 0, w, h))
		for row := 0; row < h; row++ {
			src := luma[(y+row)*strides[0]+x*bps:]
			dst := p.Y.Pix[row*p.Y.Stride:]
			for col := 0; col < w; col++ {
				// 16-bit little-endian samples keep the significant bits in the high byte
				dst[col] = src[col*bps+bps-1]
			}
		}
		p.Cb = image.NewGray(image.Rect(0, 0, cw, ch))
		p.Cr = image.NewGray(image.Rect(0, 0, cw, ch))
		for row := 0; row < ch; row++ {
			src := chroma[(y/2+row)*strides[1]+(x/2)*2*bps:]
			for col := 0; col < cw; col++ {
				p.Cb.Pix[row*p.Cb.Stride+col] = src[col*2*bps+bps-1]
				p.Cr.Pix[row*p.Cr.Stride+col] = src[col*2*bps+2*bps-1]
			}
		}
	case types.FourCCYUY2:
		packed := m.Plane(0)
		p.Y = image.NewGray(image.Rect(0, 0, w, h))
		p.Cb = image.NewGray(image.Rect(0, 0, cw, ch))
		p.Cr = image.NewGray(image.Rect(0, 0, cw, ch))
		for row := 0; row < h; row++ {
			src := packed[(y+row)*strides[0]+(x/2)*4:]
			for col := 0; col < cw; col++ {
				p.Y.Pix[row*p.Y.Stride+col*2] = src[col*4]
				if col*2+1 < w {
					p.Y.Pix[row*p.Y.Stride+col*2+1] = src[col*4+2]
				}
				p.Cb.Pix[row*p.Cb.Stride+col] = src[col*4+1]
				p.Cr.Pix[row*p.Cr.Stride+col] = src[col*4+3]
			}
		}
	case types.FourCCRGB4:
		packed := m.Plane(0)
		p.RGBA = image.NewRGBA(image.Rect(0, 0, w, h))
		for row := 0; row < h; row++ {
			src := packed[(y+row)*strides[0]+x*4:]
			dst := p.RGBA.Pix[row*p.RGBA.Stride:]
			for col := 0; col < w; col++ {
				// BGRA in memory
				dst[col*4+0] = src[col*4+2]
				dst[col*4+1] = src[col*4+1]
				dst[col*4+2] = src[col*4+0]
				dst[col*4+3] = src[col*4+3]
			}
		}
	default:
		return nil, types.ErrUnsupportedParameter{Param: "FourCC", Reason: fmt.Sprintf("cannot read %s", info.FourCC)}
	}
	return p, nil
}

func copyGray(dst []byte, dstStride int, src *image.Gray, w, h int) {
	for row := 0; row < h; row++ {
		copy(dst[row*dstStride:row*dstStride+w], src.Pix[row*src.Stride:row*src.Stride+w])
	}
}

// writePicture stores the picture into the visible part of the mapped
// frame; the picture must already have the geometry of the destination.
func writePicture(m *frame.Mapping, p *picture) error {
	info := m.Info()
	roi := info.ROI
	x, y, w, h := int(roi.X), int(roi.Y), int(roi.W), int(roi.H)
	if p.Width != w || p.Height != h {
		return fmt.Errorf("internal error: picture %dx%d does not match the destination %dx%d", p.Width, p.Height, w, h)
	}
	cw, ch := chromaSize(info.FourCC, w, h)
	strides := m.Strides()
	planes := make([][]byte, m.NumPlanes())
	for idx := range planes {
		var err error
		planes[idx], err = m.WritablePlane(idx)
		if err != nil {
			return err
		}
	}

	switch info.FourCC {
	case types.FourCCI420, types.FourCCYV12:
		cbIdx, crIdx := 1, 2
		if info.FourCC == types.FourCCYV12 {
			cbIdx, crIdx = 2, 1
		}
		copyGray(planes[0][y*strides[0]+x:], strides[0], p.Y, w, h)
		copyGray(planes[cbIdx][(y/2)*strides[cbIdx]+x/2:], strides[cbIdx], p.Cb, cw, ch)
		copyGray(planes[crIdx][(y/2)*strides[crIdx]+x/2:], strides[crIdx], p.Cr, cw, ch)
	case types.FourCCNV12, types.FourCCP010:
		bps := 1
		if info.FourCC == types.FourCCP010 {
			bps = 2
		}
		for row := 0; row < h; row++ {
			dst := planes[0][(y+row)*strides[0]+x*bps:]
			src := p.Y.Pix[row*p.Y.Stride:]
			for col := 0; col < w; col++ {
				if bps == 2 {
					dst[col*2] = 0
				}
				dst[col*bps+bps-1] = src[col]
			}
		}
		for row := 0; row < ch; row++ {
			dst := planes[1][(y/2+row)*strides[1]+(x/2)*2*bps:]
			for col := 0; col < cw; col++ {
				if bps == 2 {
					dst[col*4] = 0
					dst[col*4+2] = 0
				}
				dst[col*2*bps+bps-1] = p.Cb.Pix[row*p.Cb.Stride+col]
				dst[col*2*bps+2*bps-1] = p.Cr.Pix[row*p.Cr.Stride+col]
			}
		}
	case types.FourCCYUY2:
		for row := 0; row < h; row++ {
			dst := planes[0][(y+row)*strides[0]+(x/2)*4:]
			for col := 0; col < cw; col++ {
				y0 := p.Y.Pix[row*p.Y.Stride+col*2]
				y1 := y0
				if col*2+1 < w {
					y1 = p.Y.Pix[row*p.Y.Stride+col*2+1]
				}
				dst[col*4+0] = y0
				dst[col*4+1] = p.Cb.Pix[row*p.Cb.Stride+col]
				dst[col*4+2] = y1
				dst[col*4+3] = p.Cr.Pix[row*p.Cr.Stride+col]
			}
		}
	case types.FourCCRGB4:
		for row := 0; row < h; row++ {
			dst := planes[0][(y+row)*strides[0]+x*4:]
			src := p.RGBA.Pix[row*p.RGBA.Stride:]
			for col := 0; col < w; col++ {
				dst[col*4+0] = src[col*4+2]
				dst[col*4+1] = src[col*4+1]
				dst[col*4+2] = src[col*4+0]
				dst[col*4+3] = src[col*4+3]
			}
		}
	default:
		return types.ErrUnsupportedParameter{Param: "FourCC", Reason: fmt.Sprintf("cannot write %s", info.FourCC)}
	}
	return nil
}

// toRGBA converts a YCbCr picture with full-resolution chroma to RGBA.
func toRGBA(p *picture) *image.RGBA {
	result := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	for row := 0; row < p.Height; row++ {
		for col := 0; col < p.Width; col++ {
			r, g, b := color.YCbCrToRGB(
				p.Y.Pix[row*p.Y.Stride+col],
				p.Cb.Pix[row*p.Cb.Stride+col],
				p.Cr.Pix[row*p.Cr.Stride+col],
			)
			off := row*result.Stride + col*4
			result.Pix[off+0] = r
			result.Pix[off+1] = g
			result.Pix[off+2] = b
			result.Pix[off+3] = 0xff
		}
	}
	return result
}

// toYCbCr444 converts an RGBA picture to YCbCr planes with full-resolution
// chroma.
func toYCbCr444(p *picture) *picture {
	w, h := p.Width, p.Height
	result := &picture{
		Width:  w,
		Height: h,
		Y:      image.NewGray(image.Rect(0, 0, w, h)),
		Cb:     image.NewGray(image.Rect(0, 0, w, h)),
		Cr:     image.NewGray(image.Rect(0, 0, w, h)),
	}
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			off := row*p.RGBA.Stride + col*4
			yy, cb, cr := color.RGBToYCbCr(p.RGBA.Pix[off], p.RGBA.Pix[off+1], p.RGBA.Pix[off+2])
			result.Y.Pix[row*result.Y.Stride+col] = yy
			result.Cb.Pix[row*result.Cb.Stride+col] = cb
			result.Cr.Pix[row*result.Cr.Stride+col] = cr
		}
	}
	return result
}
