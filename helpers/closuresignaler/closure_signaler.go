// closure_signaler.go provides a utility for signaling the closure of a resource.

// Package closuresignaler provides a utility for signaling the closure of a resource.
package closuresignaler

import (
	"context"
	"sync"

	"github.com/xaionaro-go/avsession/logger"
)

type ClosureSignaler struct {
	closeOnce sync.Once
	c         chan struct{}
	reason    error
}

func New() *ClosureSignaler {
	return &ClosureSignaler{
		c: make(chan struct{}),
	}
}

func (c *ClosureSignaler) CloseChan() <-chan struct{} {
	return c.c
}

func (c *ClosureSignaler) Close(ctx context.Context) {
	c.CloseWithReason(ctx, nil)
}

// CloseWithReason closes the signaler and remembers why; only the first
// call has any effect.
func (c *ClosureSignaler) CloseWithReason(ctx context.Context, reason error) {
	logger.Debugf(ctx, "Close: %v", reason)
	defer func() { logger.Debugf(ctx, "/Close") }()
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.c)
	})
}

// Reason returns the error passed to CloseWithReason, or nil if the
// signaler is not closed (or was closed without a reason).
func (c *ClosureSignaler) Reason() error {
	if !c.IsClosed() {
		return nil
	}
	return c.reason
}

func (c *ClosureSignaler) IsClosed() bool {
	select {
	case <-c.c:
		return true
	default:
		return false
	}
}
