package types

import (
	"golang.org/x/exp/constraints"
)

// SurfaceAlignment is the granularity frame sizes are padded to.
const SurfaceAlignment = 16

// AlignUp rounds v up to the next multiple of a.
func AlignUp[T constraints.Integer](v, a T) T {
	if a == 0 {
		return v
	}
	return (v + a - 1) / a * a
}

func Clamp[T constraints.Ordered](v, min, max T) T {
	switch {
	case v < min:
		return min
	case v > max:
		return max
	default:
		return v
	}
}
