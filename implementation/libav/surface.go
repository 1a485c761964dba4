package libav

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/internal"
	"github.com/xaionaro-go/avsession/pool"
	"github.com/xaionaro-go/avsession/types"
)

// newAVFrame allocates a software frame of the visible geometry of info.
func newAVFrame(info types.FrameInfo) (*astiav.Frame, error) {
	pf, ok := pixelFormatFromFourCC(info.FourCC)
	if !ok {
		return nil, types.ErrUnsupportedParameter{Param: "FrameInfo.FourCC", Reason: fmt.Sprintf("%s has no libav counterpart", info.FourCC)}
	}
	f := astiav.AllocFrame()
	f.SetWidth(int(info.ROI.W))
	f.SetHeight(int(info.ROI.H))
	f.SetPixelFormat(pf)
	if err := f.AllocBuffer(0); err != nil {
		f.Free()
		return nil, types.ErrAllocationFailed{Resource: "frame buffer", Err: err}
	}
	return f, nil
}

// copySurfaceToAVFrame copies the visible samples of s into dst.
func copySurfaceToAVFrame(
	ctx context.Context,
	s frame.Surface,
	dst *astiav.Frame,
) (_err error) {
	data, err := s.Lock(ctx, types.MemoryAccessRead)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Unlock(ctx, types.MemoryAccessRead); err != nil && _err == nil {
			_err = err
		}
	}()
	layout := s.Layout()
	packed := layout.ReadVisible(pool.DefaultBuffers.Get(layout.VisibleSize())[:0], data)
	defer pool.DefaultBuffers.Put(packed)
	if err := dst.MakeWritable(); err != nil {
		return fmt.Errorf("unable to make the frame writable: %w", err)
	}
	if err := dst.Data().SetBytes(packed, 1); err != nil {
		return fmt.Errorf("unable to copy the samples: %w", err)
	}
	return nil
}

// copyAVFrameToMapping copies a software frame into a mapped frame of the
// same geometry.
func copyAVFrameToMapping(src *astiav.Frame, m *frame.Mapping) error {
	fourCC, ok := fourCCFromPixelFormat(src.PixelFormat())
	if !ok || fourCC != m.Info().FourCC {
		return types.ErrUnsupportedParameter{Param: "FrameInfo.FourCC", Reason: fmt.Sprintf("got %s instead of %s", src.PixelFormat(), m.Info().FourCC)}
	}
	b, err := src.Data().Bytes(1)
	if err != nil {
		return fmt.Errorf("unable to get the samples: %w", err)
	}
	if _, err := m.FillVisible(b); err != nil {
		return err
	}
	return nil
}

// hwSurface is a surface in device memory; locking it downloads the
// picture, unlocking a writable lock uploads it back.
type hwSurface struct {
	layout  frame.Layout
	hwFrame *astiav.Frame
	buf     []byte
}

var _ frame.Surface = (*hwSurface)(nil)

// newHWSurface takes the ownership of hwFrame: Free drops the reference to
// the device buffer, the frame itself is freed with the surface.
func newHWSurface(
	ctx context.Context,
	info types.FrameInfo,
	hwFrame *astiav.Frame,
) (*hwSurface, error) {
	layout, err := frame.NewLayout(info)
	if err != nil {
		return nil, err
	}
	internal.SetFinalizerFree(ctx, hwFrame)
	return &hwSurface{
		layout:  layout,
		hwFrame: hwFrame,
	}, nil
}

func (s *hwSurface) Layout() frame.Layout {
	return s.layout
}

func (s *hwSurface) MemoryType() types.MemoryType {
	return types.MemoryTypeVideo
}

// HardwareFrame returns the underlying libav frame.
func (s *hwSurface) HardwareFrame() *astiav.Frame {
	return s.hwFrame
}

func (s *hwSurface) Lock(ctx context.Context, access types.MemoryAccess) ([]byte, error) {
	if s.hwFrame == nil {
		return nil, types.ErrInvalidAccess{Reason: "the surface is freed"}
	}
	if s.buf != nil {
		return nil, types.ErrInvalidAccess{Reason: "the surface is already locked"}
	}
	s.buf = pool.DefaultBuffers.Get(s.layout.Size)
	if !access.CanRead() {
		return s.buf, nil
	}

	swFrame := astiav.AllocFrame()
	defer swFrame.Free()
	if err := s.hwFrame.TransferHardwareData(swFrame); err != nil {
		s.release()
		return nil, types.ErrIO{Op: "download", Err: err}
	}
	b, err := swFrame.Data().Bytes(1)
	if err != nil {
		s.release()
		return nil, types.ErrIO{Op: "download", Err: err}
	}
	if _, err := s.layout.WriteVisible(s.buf, b); err != nil {
		s.release()
		return nil, err
	}
	return s.buf, nil
}

func (s *hwSurface) Unlock(ctx context.Context, access types.MemoryAccess) error {
	if s.buf == nil {
		return types.ErrInvalidAccess{Reason: "the surface is not locked"}
	}
	defer s.release()
	if !access.CanWrite() {
		return nil
	}

	swFrame, err := newAVFrame(s.layout.Info)
	if err != nil {
		return err
	}
	defer swFrame.Free()
	packed := s.layout.ReadVisible(nil, s.buf)
	if err := swFrame.Data().SetBytes(packed, 1); err != nil {
		return types.ErrIO{Op: "upload", Err: err}
	}
	if err := swFrame.TransferHardwareData(s.hwFrame); err != nil {
		return types.ErrIO{Op: "upload", Err: err}
	}
	return nil
}

func (s *hwSurface) release() {
	pool.DefaultBuffers.Put(s.buf)
	s.buf = nil
}

func (s *hwSurface) Free(context.Context) {
	if s.hwFrame == nil {
		return
	}
	if s.buf != nil {
		s.release()
	}
	s.hwFrame.Unref()
	s.hwFrame = nil
}
