// surface_pool.go implements the bounded pool of surfaces frames are
// allocated from.

package frame

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avsession/internal"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/xsync"
	"golang.org/x/sync/semaphore"
)

// Allocator is anything frames could be acquired from.
type Allocator interface {
	Info() types.FrameInfo
	Acquire(ctx context.Context) (*Frame, error)
	Wrap(ctx context.Context, s Surface) (*Frame, error)
}

// SurfaceFactory allocates a new surface for a pool.
type SurfaceFactory func(ctx context.Context, info types.FrameInfo) (Surface, error)

// SystemSurfaceFactory is the SurfaceFactory of system-memory surfaces.
func SystemSurfaceFactory(_ context.Context, info types.FrameInfo) (Surface, error) {
	return NewSystemSurface(info)
}

// SurfacePool hands out at most Size() frames at a time: Acquire blocks
// until a previously acquired frame is released (backpressure).
type SurfacePool struct {
	info      types.FrameInfo
	size      int
	factory   SurfaceFactory
	semaphore *semaphore.Weighted
	locker    xsync.Mutex
	free      []Surface
	inUse     int
	isClosed  bool
}

var _ Allocator = (*SurfacePool)(nil)

func NewSurfacePool(
	info types.FrameInfo,
	size int,
	factory SurfaceFactory,
) (*SurfacePool, error) {
	if size <= 0 {
		return nil, types.ErrUnsupportedParameter{Param: "SurfacePool.Size", Reason: fmt.Sprintf("%d is not positive", size)}
	}
	if _, err := NewLayout(info); err != nil {
		return nil, err
	}
	if factory == nil {
		factory = SystemSurfaceFactory
	}
	return &SurfacePool{
		info:      info,
		size:      size,
		factory:   factory,
		semaphore: semaphore.NewWeighted(int64(size)),
	}, nil
}

func (p *SurfacePool) String() string {
	return fmt.Sprintf("SurfacePool(%s, size:%d)", p.info, p.size)
}

func (p *SurfacePool) Info() types.FrameInfo {
	return p.info
}

func (p *SurfacePool) Size() int {
	return p.size
}

// InUse returns the amount of frames acquired and not yet released.
func (p *SurfacePool) InUse(ctx context.Context) int {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &p.locker, func() int {
		return p.inUse
	})
}

// Acquire returns a frame backed by a pooled surface, waiting for a free
// slot if all of them are in use.
func (p *SurfacePool) Acquire(ctx context.Context) (_ret *Frame, _err error) {
	logger.Tracef(ctx, "Acquire")
	defer func() { logger.Tracef(ctx, "/Acquire: %v", _err) }()
	if err := p.acquireSlot(ctx); err != nil {
		return nil, err
	}

	s, err := xsync.DoA1R2(ctx, &p.locker, p.takeSurfaceLocked, ctx)
	if err != nil {
		p.semaphore.Release(1)
		return nil, err
	}
	return newFrame(s, p.putSurface), nil
}

// Wrap binds an externally allocated surface to a slot of the pool: it
// counts against the bound and is freed (not pooled) on release.
func (p *SurfacePool) Wrap(ctx context.Context, s Surface) (*Frame, error) {
	if err := p.acquireSlot(ctx); err != nil {
		return nil, err
	}
	p.locker.Do(ctx, func() {
		p.inUse++
	})
	return newFrame(s, func(ctx context.Context, s Surface) {
		s.Free(ctx)
		p.locker.Do(ctx, func() {
			p.inUse--
		})
		p.semaphore.Release(1)
	}), nil
}

func (p *SurfacePool) acquireSlot(ctx context.Context) error {
	if err := p.semaphore.Acquire(ctx, 1); err != nil {
		return types.ErrCancelled{Err: err}
	}
	return nil
}

func (p *SurfacePool) takeSurfaceLocked(ctx context.Context) (Surface, error) {
	if p.isClosed {
		return nil, types.ErrCancelled{Err: fmt.Errorf("the surface pool is closed")}
	}
	p.inUse++
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		return s, nil
	}
	s, err := p.factory(ctx, p.info)
	if err != nil {
		p.inUse--
		return nil, types.ErrAllocationFailed{Resource: "surface", Err: err}
	}
	return s, nil
}

func (p *SurfacePool) putSurface(ctx context.Context, s Surface) {
	p.locker.Do(ctx, func() {
		internal.Assert(ctx, p.inUse > 0, "a surface is returned to", p, "while none is in use")
		p.inUse--
		if p.isClosed {
			s.Free(ctx)
			return
		}
		p.free = append(p.free, s)
	})
	p.semaphore.Release(1)
}

// Close frees the idle surfaces; surfaces still in use are freed when
// their frames are released.
func (p *SurfacePool) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close: %s", p)
	defer func() { logger.Debugf(ctx, "/Close: %s", p) }()
	p.locker.Do(ctx, func() {
		if p.isClosed {
			return
		}
		p.isClosed = true
		for _, s := range p.free {
			s.Free(ctx)
		}
		p.free = nil
	})
	return nil
}
