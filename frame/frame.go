// frame.go defines Frame: a handle to a surface with an explicit
// map/unmap lifecycle.

// Package frame provides frames backed by system- or device-memory
// surfaces, their mapping discipline and a bounded surface pool.
package frame

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/xsync"
)

type handleState int

const (
	handleStateValid = handleState(iota)
	handleStateReleased
	handleStateConsumed
)

func (s handleState) String() string {
	switch s {
	case handleStateValid:
		return "valid"
	case handleStateReleased:
		return "released"
	case handleStateConsumed:
		return "consumed"
	}
	return fmt.Sprintf("unknown_%d", int(s))
}

var nextFrameID atomic.Uint64

// Frame is a decoded picture. A Frame is produced by a session or a
// source, may be mapped to access its planes, and must be released (or
// handed over to an encoder) once not needed anymore.
type Frame struct {
	// PTS is the presentation timestamp in types.ClockRate units.
	PTS int64

	// Order is the position of the frame in display order.
	Order uint64

	id          uint64
	locker      xsync.Mutex
	surface     Surface
	state       handleState
	mapping     *Mapping
	releaseFunc func(ctx context.Context, s Surface)
}

func newFrame(
	surface Surface,
	releaseFunc func(ctx context.Context, s Surface),
) *Frame {
	return &Frame{
		id:          nextFrameID.Add(1),
		surface:     surface,
		releaseFunc: releaseFunc,
	}
}

// New allocates a standalone system-memory frame not bound to any pool.
func New(info types.FrameInfo) (*Frame, error) {
	s, err := NewSystemSurface(info)
	if err != nil {
		return nil, err
	}
	return newFrame(s, func(ctx context.Context, s Surface) { s.Free(ctx) }), nil
}

// NewFromSurface wraps an already allocated surface; the surface is freed
// when the frame is released.
func NewFromSurface(s Surface) *Frame {
	return newFrame(s, func(ctx context.Context, s Surface) { s.Free(ctx) })
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame(#%d, order:%d, pts:%d, %s)", f.id, f.Order, f.PTS, f.surface.Layout().Info)
}

// Info returns the geometry of the frame. It is valid to call on
// released frames.
func (f *Frame) Info() types.FrameInfo {
	return f.surface.Layout().Info
}

func (f *Frame) MemoryType() types.MemoryType {
	return f.surface.MemoryType()
}

// IsValid returns false once the frame is released or consumed.
func (f *Frame) IsValid(ctx context.Context) bool {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &f.locker, func() bool {
		return f.state == handleStateValid
	})
}

func (f *Frame) IsMapped(ctx context.Context) bool {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &f.locker, func() bool {
		return f.mapping != nil
	})
}

func (f *Frame) checkValidLocked() error {
	if f.state != handleStateValid {
		return types.ErrInvalidAccess{Reason: fmt.Sprintf("the frame handle is %s", f.state)}
	}
	return nil
}

// Map makes the planes accessible. A frame may be mapped only once at a
// time; Unmap must be called before mapping it again.
func (f *Frame) Map(
	ctx context.Context,
	access types.MemoryAccess,
) (*Mapping, error) {
	return xsync.DoA2R2(ctx, &f.locker, f.mapLocked, ctx, access)
}

func (f *Frame) mapLocked(
	ctx context.Context,
	access types.MemoryAccess,
) (_ret *Mapping, _err error) {
	logger.Tracef(ctx, "Map(%s): %s", access, f)
	defer func() { logger.Tracef(ctx, "/Map(%s): %s: %v", access, f, _err) }()
	if err := f.checkValidLocked(); err != nil {
		return nil, err
	}
	if !access.IsValid() {
		return nil, types.ErrInvalidAccess{Reason: fmt.Sprintf("invalid access mode %s", access)}
	}
	if f.mapping != nil {
		return nil, types.ErrInvalidAccess{Reason: fmt.Sprintf("the frame is already mapped for %s", f.mapping.access)}
	}
	data, err := f.surface.Lock(ctx, access)
	if err != nil {
		return nil, fmt.Errorf("unable to lock the surface: %w", err)
	}
	f.mapping = newMapping(f, access, data)
	return f.mapping, nil
}

// Unmap ends the current mapping. It is an error to call it on a frame
// that is not mapped.
func (f *Frame) Unmap(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &f.locker, f.unmapLocked, ctx)
}

func (f *Frame) unmapLocked(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Unmap: %s", f)
	defer func() { logger.Tracef(ctx, "/Unmap: %s: %v", f, _err) }()
	if err := f.checkValidLocked(); err != nil {
		return err
	}
	m := f.mapping
	if m == nil {
		return types.ErrInvalidAccess{Reason: "the frame is not mapped"}
	}
	f.mapping = nil
	m.invalidate()

	modified := m.wasModified()
	if err := f.surface.Unlock(ctx, m.access); err != nil {
		return fmt.Errorf("unable to unlock the surface: %w", err)
	}
	if modified {
		return types.ErrInvalidAccess{Reason: "the data was modified through a read-only mapping"}
	}
	return nil
}

// Release gives the frame back to its owner (a pool). The handle is
// invalid afterwards.
func (f *Frame) Release(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &f.locker, f.releaseLocked, ctx)
}

func (f *Frame) releaseLocked(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "Release: %s", f)
	defer func() { logger.Tracef(ctx, "/Release: %s: %v", f, _err) }()
	if err := f.checkValidLocked(); err != nil {
		return err
	}
	if f.mapping != nil {
		return types.ErrInvalidAccess{Reason: "the frame is mapped, unmap it before releasing"}
	}
	f.state = handleStateReleased
	f.releaseFunc(ctx, f.surface)
	return nil
}

// Consume transfers the ownership of the frame to the callback: the handle
// becomes invalid immediately, fn gets the surface (already unmapped) and
// the surface goes back to its owner when fn returns.
func (f *Frame) Consume(
	ctx context.Context,
	fn func(ctx context.Context, s Surface) error,
) (_err error) {
	logger.Tracef(ctx, "Consume: %s", f)
	defer func() { logger.Tracef(ctx, "/Consume: %s: %v", f, _err) }()
	var (
		s           Surface
		releaseFunc func(context.Context, Surface)
		err         error
	)
	f.locker.Do(ctx, func() {
		if err = f.checkValidLocked(); err != nil {
			return
		}
		if f.mapping != nil {
			err = types.ErrInvalidAccess{Reason: "the frame is mapped, unmap it before submitting"}
			return
		}
		f.state = handleStateConsumed
		s, releaseFunc = f.surface, f.releaseFunc
	})
	if err != nil {
		return err
	}
	defer releaseFunc(ctx, s)
	return fn(ctx, s)
}

// WithMapped maps the frame, calls fn and unmaps the frame on every exit
// path, including panics.
func WithMapped(
	ctx context.Context,
	f *Frame,
	access types.MemoryAccess,
	fn func(m *Mapping) error,
) (_err error) {
	m, err := f.Map(ctx, access)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Unmap(ctx); err != nil && _err == nil {
			_err = err
		}
	}()
	return fn(m)
}
