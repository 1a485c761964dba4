// Package pool recycles memory: a typed wrapper around sync.Pool and a
// byte-slice pool used for surfaces and bitstream chunks.
package pool

import (
	"sync"

	"go.uber.org/atomic"
)

// ReuseMemory may be disabled to make every Get allocate, which makes
// use-after-release bugs easier to reproduce.
var ReuseMemory = true

type Pool[T any] struct {
	pool      sync.Pool
	resetFunc func(*T)
	allocated atomic.Uint64
}

// NewPool returns a pool allocating items with allocFunc; resetFunc (if
// not nil) is applied to every item put back.
func NewPool[T any](
	allocFunc func() *T,
	resetFunc func(*T),
) *Pool[T] {
	p := &Pool[T]{
		resetFunc: resetFunc,
	}
	p.pool.New = func() any {
		p.allocated.Inc()
		return allocFunc()
	}
	return p
}

func (p *Pool[T]) Get() *T {
	if !ReuseMemory {
		return p.pool.New().(*T)
	}
	return p.pool.Get().(*T)
}

func (p *Pool[T]) Put(items ...*T) {
	if !ReuseMemory {
		return
	}
	for _, item := range items {
		if p.resetFunc != nil {
			p.resetFunc(item)
		}
		p.pool.Put(item)
	}
}

// Allocated returns the amount of items allocated by the pool so far.
func (p *Pool[T]) Allocated() uint64 {
	return p.allocated.Load()
}
