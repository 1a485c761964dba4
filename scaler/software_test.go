package scaler

import (
	"context"
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/types"
)

func fillConstant(t *testing.T, f *frame.Frame, yy, cb, cr uint8) {
	ctx := context.Background()
	require.NoError(t, frame.WithMapped(ctx, f, types.MemoryAccessWrite, func(m *frame.Mapping) error {
		info := m.Info()
		w, h := int(info.ROI.W), int(info.ROI.H)
		p := &picture{Width: w, Height: h}
		if info.FourCC == types.FourCCRGB4 {
			full := solidYCbCr(w, h, w, h, yy, cb, cr)
			p.RGBA = toRGBA(full)
		} else {
			cw, ch := chromaSize(info.FourCC, w, h)
			p = solidYCbCr(w, h, cw, ch, yy, cb, cr)
		}
		return writePicture(m, p)
	}))
}

func solidYCbCr(w, h, cw, ch int, yy, cb, cr uint8) *picture {
	p := &picture{Width: w, Height: h}
	p.Y = newSolidGray(w, h, yy)
	p.Cb = newSolidGray(cw, ch, cb)
	p.Cr = newSolidGray(cw, ch, cr)
	return p
}

func assertConstant(t *testing.T, f *frame.Frame, yy, cb, cr uint8) {
	ctx := context.Background()
	require.NoError(t, frame.WithMapped(ctx, f, types.MemoryAccessRead, func(m *frame.Mapping) error {
		p, err := readPicture(m)
		require.NoError(t, err)
		if p.IsRGB() {
			p = toYCbCr444(p)
		}
		for _, item := range []struct {
			Name  string
			Pix   []byte
			Value uint8
		}{
			{"Y", p.Y.Pix, yy},
			{"Cb", p.Cb.Pix, cb},
			{"Cr", p.Cr.Pix, cr},
		} {
			v := int(item.Pix[0])
			require.InDelta(t, int(item.Value), v, 3, item.Name)
		}
		return nil
	}))
}

func TestSoftwareScale(t *testing.T) {
	ctx := context.Background()
	rate := types.Rational{Num: 30, Den: 1}
	for _, srcFourCC := range types.FourCCs() {
		for _, dstFourCC := range types.FourCCs() {
			for _, size := range [][2]uint32{{32, 24}, {100, 90}, {64, 48}} {
				name := fmt.Sprintf("%s-%s-%dx%d", srcFourCC, dstFourCC, size[0], size[1])
				t.Run(name, func(t *testing.T) {
					srcInfo := types.NewFrameInfo(srcFourCC, 64, 48, rate)
					dstInfo := types.NewFrameInfo(dstFourCC, size[0], size[1], rate)

					src, err := frame.New(srcInfo)
					require.NoError(t, err)
					defer src.Release(ctx)
					dst, err := frame.New(dstInfo)
					require.NoError(t, err)
					defer dst.Release(ctx)

					fillConstant(t, src, 100, 120, 140)
					s, err := NewSoftware(ctx, srcInfo, dstInfo, QualityDefault)
					require.NoError(t, err)
					defer s.Close(ctx)

					require.NoError(t, s.ScaleFrame(ctx, src, dst))
					assertConstant(t, dst, 100, 120, 140)
				})
			}
		}
	}
}

func TestSoftwareScaleClosed(t *testing.T) {
	ctx := context.Background()
	info := types.NewFrameInfo(types.FourCCI420, 16, 16, types.Rational{Num: 30, Den: 1})
	s, err := NewSoftware(ctx, info, info, QualityFast)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	src, err := frame.New(info)
	require.NoError(t, err)
	require.Error(t, s.ScaleFrame(ctx, src, src))
}

func newSolidGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}
