package types

import (
	"time"
)

// ClockRate is the rate of the clock frame and chunk timestamps are
// expressed in.
const ClockRate = 90000

// FrameDuration returns the duration of one frame in ClockRate units.
func FrameDuration(frameRate Rational) int64 {
	if !frameRate.IsPositive() {
		return 0
	}
	return int64(ClockRate) * int64(frameRate.Den) / int64(frameRate.Num)
}

// PTSForOrder returns the timestamp of the frame with the given display
// order index.
func PTSForOrder(order uint64, frameRate Rational) int64 {
	if !frameRate.IsPositive() {
		return 0
	}
	return int64(order) * int64(ClockRate) * int64(frameRate.Den) / int64(frameRate.Num)
}

func PTSToDuration(pts int64) time.Duration {
	return time.Duration(pts) * time.Second / ClockRate
}
