// option.go defines functional options for configuring sessions.

package session

import (
	"github.com/xaionaro-go/avsession/device"
)

const (
	defaultExtraSurfaces = 1
	defaultReadSize      = 64 * 1024
)

type config struct {
	MaxFPS        float64
	DeviceManager *device.Manager
	ExtraSurfaces uint
	ReadSize      uint
}

func defaultConfig() config {
	return config{
		DeviceManager: device.DefaultManager,
		ExtraSurfaces: defaultExtraSurfaces,
		ReadSize:      defaultReadSize,
	}
}

type Option interface {
	apply(*config)
}

type Options []Option

func (s Options) apply(cfg *config) {
	for _, opt := range s {
		opt.apply(cfg)
	}
}

func (s Options) config() config {
	cfg := defaultConfig()
	s.apply(&cfg)
	return cfg
}

// OptionMaxFPS limits the rate frames (or chunks) are returned by Next;
// zero means no limit.
type OptionMaxFPS float64

func (opt OptionMaxFPS) apply(cfg *config) {
	cfg.MaxFPS = float64(opt)
}

type OptionDeviceManager struct {
	*device.Manager
}

func (opt OptionDeviceManager) apply(cfg *config) {
	if opt.Manager != nil {
		cfg.DeviceManager = opt.Manager
	}
}

// OptionExtraSurfaces is the amount of surfaces allocated on top of the
// async depth and the reorder depth, e.g. the frames held by the next
// stage of a pipeline.
type OptionExtraSurfaces uint

func (opt OptionExtraSurfaces) apply(cfg *config) {
	cfg.ExtraSurfaces = uint(opt)
}

// OptionReadSize is the size of the reads from a bitstream source.
type OptionReadSize uint

func (opt OptionReadSize) apply(cfg *config) {
	if opt > 0 {
		cfg.ReadSize = uint(opt)
	}
}
