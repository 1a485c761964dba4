package source

import (
	"context"
	"sync"

	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
)

// Chan is a bounded hand-off of frames between two sessions running on
// different goroutines. The producer owns a frame until Send succeeds; the
// consumer owns it after ReadFrame returns it.
type Chan struct {
	ch        chan *frame.Frame
	closeOnce sync.Once
}

var _ Frames = (*Chan)(nil)

func NewChan(depth int) *Chan {
	return &Chan{
		ch: make(chan *frame.Frame, max(depth, 0)),
	}
}

// Send blocks until the consumer has room for the frame.
func (c *Chan) Send(ctx context.Context, f *frame.Frame) error {
	select {
	case <-ctx.Done():
		return types.ErrCancelled{Err: ctx.Err()}
	case c.ch <- f:
		return nil
	}
}

// CloseSend marks the end of the stream; must be called by the producer
// only, and only once it finished sending.
func (c *Chan) CloseSend() {
	c.closeOnce.Do(func() {
		close(c.ch)
	})
}

func (c *Chan) ReadFrame(
	ctx context.Context,
	_ frame.Allocator,
) (*frame.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, types.ErrCancelled{Err: ctx.Err()}
	case f, ok := <-c.ch:
		if !ok {
			return nil, types.ErrEndOfStream
		}
		return f, nil
	}
}

// Drain releases the frames that were sent but never read. It returns
// once the producer closed the channel.
func (c *Chan) Drain(ctx context.Context) {
	for f := range c.ch {
		if err := f.Release(ctx); err != nil {
			logger.Errorf(ctx, "unable to release a frame: %v", err)
		}
	}
}
