// Package session provides decode, encode and video processing sessions.
//
// A session binds one implementation (see implementation.Select) to one
// configuration and one source, and goes through the states
// Uninitialized -> Initialized -> Streaming -> Closed. Results are pulled
// with Next (or ranged over with All); each returned frame must be
// released by the caller.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/avsession/device"
	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/helpers/closuresignaler"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
)

// ErrClosed is the reason sessions closed with Close are cancelled with.
var ErrClosed = errors.New("the session is closed")

type base struct {
	locker   xsync.Mutex
	kind     Kind
	selector implementation.Selector
	config   config
	closer   *closuresignaler.ClosureSignaler
	stats    *types.Counters

	state     State
	isEOS     bool
	params    implementation.VideoParam
	lease     *device.Lease
	pool      *frame.SurfacePool
	pacer     pacer
	numOutput uint64

	// closeProcessor releases the implementation context of the concrete
	// session; called with the locker held.
	closeProcessor func(ctx context.Context) error
}

func newBase(
	ctx context.Context,
	kind Kind,
	selector implementation.Selector,
	opts ...Option,
) (*base, error) {
	if !selector.IsValid() {
		return nil, fmt.Errorf("%w: unable to create a %s session: the implementation selector is not valid", types.ErrConfiguration, kind)
	}
	cfg := Options(opts).config()
	if cfg.MaxFPS < 0 {
		return nil, fmt.Errorf("%w: negative max FPS: %v", types.ErrConfiguration, cfg.MaxFPS)
	}
	s := &base{
		kind:     kind,
		selector: selector,
		config:   cfg,
		closer:   closuresignaler.New(),
		stats:    types.NewCounters(),
		pacer:    newPacer(cfg.MaxFPS),
	}
	logger.Debugf(ctx, "created a %s session on %s", kind, selector)
	return s, nil
}

func (s *base) String() string {
	return fmt.Sprintf("%sSession(%s)", s.kind, s.selector.Description().Name)
}

func (s *base) Kind() Kind {
	return s.kind
}

// Version returns the API version of the implementation the session runs
// on.
func (s *base) Version() types.APIVersion {
	return s.selector.Description().APIVersion
}

func (s *base) Selector() implementation.Selector {
	return s.selector
}

func (s *base) State(ctx context.Context) State {
	return xsync.DoR1(ctx, &s.locker, func() State {
		return s.state
	})
}

// Params returns a copy of the parameters the session was initialized
// with.
func (s *base) Params(ctx context.Context) implementation.VideoParam {
	return xsync.DoR1(ctx, &s.locker, func() implementation.VideoParam {
		return s.params
	})
}

func (s *base) Stats() types.Statistics {
	return s.stats.ToStats()
}

// withCancelOnClose returns a context cancelled when either the parent is
// cancelled or the session is closed; it is how Close unblocks a Next
// waiting for input or for a free surface.
func (s *base) withCancelOnClose(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancelFn := context.WithCancel(ctx)
	observability.Go(ctx, func(ctx context.Context) {
		select {
		case <-ctx.Done():
		case <-s.closer.CloseChan():
			cancelFn()
		}
	})
	return ctx, cancelFn
}

func (s *base) checkUninitializedLocked() error {
	if s.state != StateUninitialized {
		return fmt.Errorf("%w: the %s session is already %s", types.ErrConfiguration, s.kind, s.state)
	}
	return nil
}

// checkStreamingLocked returns nil if Next may proceed.
func (s *base) checkStreamingLocked() error {
	switch {
	case s.isEOS:
		return types.ErrEndOfStream
	case s.state == StateUninitialized:
		return fmt.Errorf("%w: the %s session is not initialized", types.ErrConfiguration, s.kind)
	case s.state == StateClosed:
		return types.ErrCancelled{Err: s.closer.Reason()}
	}
	return nil
}

// prepareLocked validates the parameters and allocates what every kind of
// session needs: the device lease and the surface pool.
func (s *base) prepareLocked(
	ctx context.Context,
	params implementation.VideoParam,
	validate func(implementation.VideoParam) error,
	check func(implementation.Description, implementation.VideoParam) error,
) (_ret implementation.VideoParam, _err error) {
	logger.Debugf(ctx, "prepareLocked")
	defer func() { logger.Debugf(ctx, "/prepareLocked: %v", _err) }()
	if logger.IsTraceEnabled(ctx) {
		logger.Tracef(ctx, "params: %s", spew.Sdump(params))
	}

	if err := validate(params); err != nil {
		return params, err
	}
	desc := s.selector.Description()
	if err := check(desc, params); err != nil {
		return params, err
	}

	params.AsyncDepth = params.EffectiveAsyncDepth()
	if desc.Type == types.ImplementationTypeSoftware {
		// nothing runs asynchronously on the CPU
		params.AsyncDepth = 1
	}

	impl := s.selector.Implementation()
	lease, err := s.config.DeviceManager.Lease(
		ctx,
		desc.Name,
		s.selector.DeviceType(),
		s.selector.DeviceName(),
		desc.DeviceSharing,
		impl.OpenDevice,
	)
	if err != nil {
		return params, err
	}
	s.lease = lease
	return params, nil
}

// newPoolLocked allocates the pool output frames are acquired from.
func (s *base) newPoolLocked(
	ctx context.Context,
	info types.FrameInfo,
	reorderDepth int,
) error {
	size := s.params.AsyncDepth + max(reorderDepth, 0) + int(s.config.ExtraSurfaces)
	pool, err := frame.NewSurfacePool(info, size, nil)
	if err != nil {
		return types.ErrAllocationFailed{Resource: "surface pool", Err: err}
	}
	logger.Debugf(ctx, "allocated %s", pool)
	s.pool = pool
	return nil
}

// failLocked moves the session to Closed because of err and releases
// everything; returns err.
func (s *base) failLocked(ctx context.Context, err error) error {
	ctx = xcontext.DetachDone(ctx)
	logger.Errorf(ctx, "%s failed: %v", s, err)
	s.closer.CloseWithReason(ctx, err)
	if releaseErr := s.releaseLocked(ctx); releaseErr != nil {
		logger.Errorf(ctx, "unable to release %s: %v", s, releaseErr)
	}
	return err
}

// finishLocked handles the end of the stream: the implementation context
// is released, the session becomes Closed and Next keeps returning
// types.ErrEndOfStream.
func (s *base) finishLocked(ctx context.Context) error {
	ctx = xcontext.DetachDone(ctx)
	logger.Debugf(ctx, "%s reached the end of the stream: %#+v", s, s.stats.ToStats())
	s.isEOS = true
	if err := s.releaseLocked(ctx); err != nil {
		logger.Errorf(ctx, "unable to release %s: %v", s, err)
	}
	return types.ErrEndOfStream
}

func (s *base) outputLocked(size uint64) {
	s.numOutput++
	s.stats.IncrementOut(size)
}

// frameSize returns the amount of visible bytes in the frame.
func frameSize(f *frame.Frame) uint64 {
	layout, err := frame.NewLayout(f.Info())
	if err != nil {
		return 0
	}
	return uint64(layout.VisibleSize())
}

func (s *base) isOutputLimitReachedLocked() bool {
	return s.params.NumFrames > 0 && s.numOutput >= s.params.NumFrames
}

// handleErrorLocked classifies an error returned while streaming: a
// cancellation leaves the session usable (unless it was closed), anything
// else is fatal.
func (s *base) handleErrorLocked(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, types.ErrEndOfStream):
		return s.finishLocked(ctx)
	case s.closer.IsClosed():
		return types.ErrCancelled{Err: s.closer.Reason()}
	case ctx.Err() != nil:
		if types.IsCancelled(err) {
			return err
		}
		return types.ErrCancelled{Err: err}
	}
	return s.failLocked(ctx, err)
}

func (s *base) releaseLocked(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "releaseLocked: %s", s)
	defer func() { logger.Debugf(ctx, "/releaseLocked: %s: %v", s, _err) }()
	var errs []error
	if s.closeProcessor != nil {
		if err := s.closeProcessor(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close the %s processor: %w", s.kind, err))
		}
		s.closeProcessor = nil
	}
	if s.pool != nil {
		if err := s.pool.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close the surface pool: %w", err))
		}
		s.pool = nil
	}
	if s.lease != nil {
		if err := s.lease.Release(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to release the device: %w", err))
		}
		s.lease = nil
	}
	s.state = StateClosed
	return errors.Join(errs...)
}

// Close releases everything the session holds. It could be called from
// another goroutine to interrupt a blocked Next (which then returns
// types.ErrCancelled). It is idempotent.
func (s *base) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close: %s", s)
	defer func() { logger.Debugf(ctx, "/Close: %s: %v", s, _err) }()
	s.closer.CloseWithReason(ctx, ErrClosed)
	defer belt.Flush(ctx)
	return xsync.DoA1R1(ctx, &s.locker, s.releaseLocked, ctx)
}

// pacer delays outputs so that they do not come faster than the given
// rate.
type pacer struct {
	interval time.Duration
	next     time.Time
}

func newPacer(maxFPS float64) pacer {
	if maxFPS <= 0 {
		return pacer{}
	}
	return pacer{interval: time.Duration(float64(time.Second) / maxFPS)}
}

func (p *pacer) Wait(ctx context.Context) error {
	if p.interval == 0 {
		return nil
	}
	now := time.Now()
	if p.next.IsZero() || !now.Before(p.next) {
		p.next = now.Add(p.interval)
		return nil
	}
	t := time.NewTimer(p.next.Sub(now))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return types.ErrCancelled{Err: ctx.Err()}
	case <-t.C:
	}
	p.next = p.next.Add(p.interval)
	return nil
}
