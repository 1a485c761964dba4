package frame

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/xaionaro-go/avsession/types"
	"lukechampine.com/blake3"
)

// Mapping is a view over the planes of a mapped Frame. It is valid until
// Unmap is called.
type Mapping struct {
	frame  *Frame
	access types.MemoryAccess
	data   []byte
	layout Layout
	digest *[32]byte
	closed atomic.Bool
}

func newMapping(
	f *Frame,
	access types.MemoryAccess,
	data []byte,
) *Mapping {
	m := &Mapping{
		frame:  f,
		access: access,
		data:   data,
		layout: f.surface.Layout(),
	}
	if !access.CanWrite() {
		digest := blake3.Sum256(data[:m.layout.Size])
		m.digest = &digest
	}
	return m
}

func (m *Mapping) invalidate() {
	m.closed.Store(true)
}

func (m *Mapping) wasModified() bool {
	if m.digest == nil {
		return false
	}
	return blake3.Sum256(m.data[:m.layout.Size]) != *m.digest
}

func (m *Mapping) Info() types.FrameInfo {
	return m.layout.Info
}

func (m *Mapping) Access() types.MemoryAccess {
	return m.access
}

func (m *Mapping) Layout() Layout {
	return m.layout
}

func (m *Mapping) NumPlanes() int {
	return len(m.layout.Planes)
}

func (m *Mapping) Strides() []int {
	return m.layout.Strides()
}

func (m *Mapping) plane(idx int) ([]byte, error) {
	if m.closed.Load() {
		return nil, types.ErrInvalidAccess{Reason: "the mapping is already unmapped"}
	}
	if idx < 0 || idx >= len(m.layout.Planes) {
		return nil, types.ErrInvalidAccess{Reason: fmt.Sprintf("plane %d is out of range [0, %d)", idx, len(m.layout.Planes))}
	}
	p := m.layout.Planes[idx]
	return m.data[p.Offset : p.Offset+p.Size() : p.Offset+p.Size()], nil
}

// Plane returns the content of the plane (including the padding, rows are
// Strides()[idx] bytes apart). The slice must not be written to unless the
// mapping was made with write access; writes through a read-only mapping
// are reported by Unmap. Returns nil if the mapping is no longer valid.
func (m *Mapping) Plane(idx int) []byte {
	b, err := m.plane(idx)
	if err != nil {
		return nil
	}
	return b
}

// WritablePlane is the same as Plane, but refuses to give the plane out
// unless the mapping allows writing.
func (m *Mapping) WritablePlane(idx int) ([]byte, error) {
	if !m.access.CanWrite() {
		return nil, types.ErrInvalidAccess{Reason: fmt.Sprintf("the frame is mapped for %s", m.access)}
	}
	return m.plane(idx)
}

// VisiblePlanes returns copies of the ROI-cropped planes.
func (m *Mapping) VisiblePlanes() ([][]byte, error) {
	if m.closed.Load() {
		return nil, types.ErrInvalidAccess{Reason: "the mapping is already unmapped"}
	}
	result := make([][]byte, 0, len(m.layout.Planes))
	for idx := range m.layout.Planes {
		single := Layout{
			Info:   m.layout.Info,
			Planes: m.layout.Planes[idx : idx+1],
		}
		result = append(result, single.ReadVisible(nil, m.data))
	}
	return result, nil
}

// AppendVisible appends the ROI-cropped planes concatenated.
func (m *Mapping) AppendVisible(dst []byte) ([]byte, error) {
	if m.closed.Load() {
		return nil, types.ErrInvalidAccess{Reason: "the mapping is already unmapped"}
	}
	return m.layout.ReadVisible(dst, m.data), nil
}

// FillVisible writes concatenated ROI-cropped planes into the frame.
func (m *Mapping) FillVisible(src []byte) (int, error) {
	if !m.access.CanWrite() {
		return 0, types.ErrInvalidAccess{Reason: fmt.Sprintf("the frame is mapped for %s", m.access)}
	}
	if m.closed.Load() {
		return 0, types.ErrInvalidAccess{Reason: "the mapping is already unmapped"}
	}
	return m.layout.WriteVisible(m.data, src)
}

func (m *Mapping) Unmap(ctx context.Context) error {
	return m.frame.Unmap(ctx)
}
