package types

import (
	"go.uber.org/atomic"
)

type Statistics struct {
	FramesIn  uint64 `json:",omitempty"`
	FramesOut uint64 `json:",omitempty"`
	BytesIn   uint64 `json:",omitempty"`
	BytesOut  uint64 `json:",omitempty"`
}

type Counters struct {
	FramesIn  atomic.Uint64
	FramesOut atomic.Uint64
	BytesIn   atomic.Uint64
	BytesOut  atomic.Uint64
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) IncrementIn(size uint64) {
	c.FramesIn.Inc()
	c.BytesIn.Add(size)
}

func (c *Counters) IncrementOut(size uint64) {
	c.FramesOut.Inc()
	c.BytesOut.Add(size)
}

func (c *Counters) ToStats() Statistics {
	return Statistics{
		FramesIn:  c.FramesIn.Load(),
		FramesOut: c.FramesOut.Load(),
		BytesIn:   c.BytesIn.Load(),
		BytesOut:  c.BytesOut.Load(),
	}
}
