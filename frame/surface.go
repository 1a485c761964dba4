// surface.go defines the memory a frame is backed by.

package frame

import (
	"context"

	"github.com/xaionaro-go/avsession/pool"
	"github.com/xaionaro-go/avsession/types"
)

// Surface is the storage behind a Frame.
//
// Lock makes the content available in system memory laid out according to
// Layout(); Unlock ends the access (uploading the content back if the
// surface lives in device memory and the access included writing).
type Surface interface {
	Layout() Layout
	MemoryType() types.MemoryType
	Lock(ctx context.Context, access types.MemoryAccess) ([]byte, error)
	Unlock(ctx context.Context, access types.MemoryAccess) error
	Free(ctx context.Context)
}

// SystemSurface is a surface in system memory.
type SystemSurface struct {
	layout Layout
	data   []byte
}

var _ Surface = (*SystemSurface)(nil)

func NewSystemSurface(info types.FrameInfo) (*SystemSurface, error) {
	layout, err := NewLayout(info)
	if err != nil {
		return nil, err
	}
	return &SystemSurface{
		layout: layout,
		data:   pool.DefaultBuffers.Get(layout.Size),
	}, nil
}

func (s *SystemSurface) Layout() Layout {
	return s.layout
}

func (s *SystemSurface) MemoryType() types.MemoryType {
	return types.MemoryTypeSystem
}

func (s *SystemSurface) Lock(context.Context, types.MemoryAccess) ([]byte, error) {
	if s.data == nil {
		return nil, types.ErrInvalidAccess{Reason: "the surface is freed"}
	}
	return s.data, nil
}

func (s *SystemSurface) Unlock(context.Context, types.MemoryAccess) error {
	return nil
}

func (s *SystemSurface) Free(context.Context) {
	if s.data == nil {
		return
	}
	pool.DefaultBuffers.Put(s.data)
	s.data = nil
}
