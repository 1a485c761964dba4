// layout.go describes how the planes of each fourcc are placed in a surface.

package frame

import (
	"fmt"

	"github.com/xaionaro-go/avsession/types"
)

// PlaneLayout is the placement of one plane inside a surface buffer.
type PlaneLayout struct {
	Offset int
	Stride int
	Rows   int

	// XShift and YShift are the log2 subsampling factors of the plane
	// relative to the luma grid.
	XShift uint
	YShift uint

	// BytesPerUnit is the amount of bytes one subsampled position takes
	// (e.g. 2 for the interleaved UV plane of NV12).
	BytesPerUnit int
}

// Size is the amount of bytes the plane takes in the buffer.
func (p PlaneLayout) Size() int {
	return p.Stride * p.Rows
}

func (p PlaneLayout) visibleColumns(roi types.Rect) (start, length int) {
	x0 := int(roi.X) >> p.XShift
	x1 := (int(roi.X+roi.W) + (1 << p.XShift) - 1) >> p.XShift
	return x0 * p.BytesPerUnit, (x1 - x0) * p.BytesPerUnit
}

func (p PlaneLayout) visibleRows(roi types.Rect) (start, length int) {
	y0 := int(roi.Y) >> p.YShift
	y1 := (int(roi.Y+roi.H) + (1 << p.YShift) - 1) >> p.YShift
	return y0, y1 - y0
}

// Layout is the plane placement for a given FrameInfo.
type Layout struct {
	Info   types.FrameInfo
	Planes []PlaneLayout
	Size   int
}

func NewLayout(info types.FrameInfo) (Layout, error) {
	w, h := int(info.Size.Width), int(info.Size.Height)
	if w <= 0 || h <= 0 {
		return Layout{}, types.ErrUnsupportedParameter{Param: "FrameInfo.Size", Reason: "empty"}
	}

	var planes []PlaneLayout
	switch info.FourCC {
	case types.FourCCI420, types.FourCCYV12:
		// YV12 only swaps the order of the chroma planes
		planes = []PlaneLayout{
			{Stride: w, Rows: h, BytesPerUnit: 1},
			{Stride: w / 2, Rows: h / 2, XShift: 1, YShift: 1, BytesPerUnit: 1},
			{Stride: w / 2, Rows: h / 2, XShift: 1, YShift: 1, BytesPerUnit: 1},
		}
	case types.FourCCNV12:
		planes = []PlaneLayout{
			{Stride: w, Rows: h, BytesPerUnit: 1},
			{Stride: w, Rows: h / 2, XShift: 1, YShift: 1, BytesPerUnit: 2},
		}
	case types.FourCCP010:
		planes = []PlaneLayout{
			{Stride: w * 2, Rows: h, BytesPerUnit: 2},
			{Stride: w * 2, Rows: h / 2, XShift: 1, YShift: 1, BytesPerUnit: 4},
		}
	case types.FourCCYUY2:
		planes = []PlaneLayout{
			{Stride: w * 2, Rows: h, XShift: 1, BytesPerUnit: 4},
		}
	case types.FourCCRGB4:
		planes = []PlaneLayout{
			{Stride: w * 4, Rows: h, BytesPerUnit: 4},
		}
	default:
		return Layout{}, types.ErrUnsupportedParameter{
			Param:  "FrameInfo.FourCC",
			Reason: fmt.Sprintf("no plane layout for %s", info.FourCC),
		}
	}

	offset := 0
	for idx := range planes {
		planes[idx].Offset = offset
		offset += planes[idx].Size()
	}
	return Layout{
		Info:   info,
		Planes: planes,
		Size:   offset,
	}, nil
}

// Strides returns the stride of every plane.
func (l Layout) Strides() []int {
	result := make([]int, len(l.Planes))
	for idx, p := range l.Planes {
		result[idx] = p.Stride
	}
	return result
}

// VisibleSize is the amount of bytes of the ROI-cropped planes when
// concatenated.
func (l Layout) VisibleSize() int {
	total := 0
	for _, p := range l.Planes {
		_, cols := p.visibleColumns(l.Info.ROI)
		_, rows := p.visibleRows(l.Info.ROI)
		total += cols * rows
	}
	return total
}

// ReadVisible copies the ROI-cropped planes out of the buffer and
// appends them to dst.
func (l Layout) ReadVisible(dst []byte, buf []byte) []byte {
	for _, p := range l.Planes {
		x0, cols := p.visibleColumns(l.Info.ROI)
		y0, rows := p.visibleRows(l.Info.ROI)
		for y := y0; y < y0+rows; y++ {
			start := p.Offset + y*p.Stride + x0
			dst = append(dst, buf[start:start+cols]...)
		}
	}
	return dst
}

// WriteVisible fills the ROI of the buffer from concatenated visible
// planes (the inverse of ReadVisible) and returns the amount of consumed
// bytes.
func (l Layout) WriteVisible(buf []byte, src []byte) (int, error) {
	if len(src) < l.VisibleSize() {
		return 0, fmt.Errorf("not enough data: %d < %d", len(src), l.VisibleSize())
	}
	pos := 0
	for _, p := range l.Planes {
		x0, cols := p.visibleColumns(l.Info.ROI)
		y0, rows := p.visibleRows(l.Info.ROI)
		for y := y0; y < y0+rows; y++ {
			start := p.Offset + y*p.Stride + x0
			copy(buf[start:start+cols], src[pos:pos+cols])
			pos += cols
		}
	}
	return pos, nil
}
