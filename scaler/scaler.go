// Package scaler converts pictures between geometries and layouts.
package scaler

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avsession/frame"
	"github.com/xaionaro-go/avsession/types"
)

type Scaler interface {
	fmt.Stringer
	Close(context.Context) error
	ScaleFrame(ctx context.Context, src *frame.Frame, dst *frame.Frame) error
	SourceInfo() types.FrameInfo
	DestinationInfo() types.FrameInfo
}

// Quality selects the resampling kernel.
type Quality int

const (
	QualityDefault = Quality(iota)
	QualityFast
	QualityBest
)

func (q Quality) String() string {
	switch q {
	case QualityDefault:
		return "default"
	case QualityFast:
		return "fast"
	case QualityBest:
		return "best"
	}
	return fmt.Sprintf("unknown_quality_%d", int(q))
}
