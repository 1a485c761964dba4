// Package bitstream contains compressed-data primitives: chunks produced
// by encoders, the input buffer decoders consume and Annex-B style unit
// framing.
package bitstream

import (
	"fmt"
)

type FrameType int

const (
	FrameTypeUnknown = FrameType(iota)
	FrameTypeIDR
	FrameTypeI
	FrameTypeP
	FrameTypeB
	EndOfFrameType
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeUnknown:
		return "unknown"
	case FrameTypeIDR:
		return "IDR"
	case FrameTypeI:
		return "I"
	case FrameTypeP:
		return "P"
	case FrameTypeB:
		return "B"
	}
	return fmt.Sprintf("unknown_frame_type_%d", int(t))
}

// IsIntra returns true if the picture does not reference other pictures.
func (t FrameType) IsIntra() bool {
	return t == FrameTypeIDR || t == FrameTypeI
}

// Chunk is a unit of encoder output: one or more complete compressed
// units belonging to one picture (plus possibly stream headers).
type Chunk struct {
	Data      []byte
	PTS       int64
	DTS       int64
	FrameType FrameType
	Keyframe  bool
}

func (c *Chunk) String() string {
	return fmt.Sprintf("Chunk(%s, pts:%d, dts:%d, size:%d)", c.FrameType, c.PTS, c.DTS, len(c.Data))
}

func (c *Chunk) Size() int {
	return len(c.Data)
}
