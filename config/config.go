// Package config loads the YAML configuration of the command line tool:
// the implementation request, the decoding/encoding parameters, the
// requested output and the session options. Unknown keys are errors.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/pipeline"
	"github.com/xaionaro-go/avsession/session"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/typing"
)

type Config struct {
	Implementation Implementation `yaml:"implementation"`
	Decode         Decode         `yaml:"decode"`
	Output         Output         `yaml:"output"`
	Encode         Encode         `yaml:"encode"`
	Session        Session        `yaml:"session"`
}

type Implementation struct {
	Type          types.ImplementationType   `yaml:"type"`
	Name          string                     `yaml:"name"`
	MinAPIVersion types.APIVersion           `yaml:"min_api_version"`
	DeviceType    types.HardwareDeviceType   `yaml:"device_type"`
	DeviceName    types.HardwareDeviceName   `yaml:"device_name"`
	Preference    []types.ImplementationType `yaml:"preference"`
}

type Decode struct {
	Codec      types.CodecID `yaml:"codec"`
	AsyncDepth int           `yaml:"async_depth"`
	NumFrames  uint64        `yaml:"num_frames"`
}

type Output struct {
	FourCC      types.FourCC   `yaml:"fourcc"`
	Width       uint32         `yaml:"width"`
	Height      uint32         `yaml:"height"`
	FrameRate   types.Rational `yaml:"frame_rate"`
	ScalingMode string         `yaml:"scaling_mode"`
}

type Encode struct {
	Codec       types.CodecID           `yaml:"codec"`
	RateControl types.RateControlMethod `yaml:"rate_control"`
	QP          *uint8                  `yaml:"qp"`
	TargetKbps  *uint32                 `yaml:"target_kbps"`
	MaxKbps     *uint32                 `yaml:"max_kbps"`
	GOPSize     *uint32                 `yaml:"gop_size"`
	BFrames     uint32                  `yaml:"b_frames"`
	IDRInterval uint32                  `yaml:"idr_interval"`
	AsyncDepth  int                     `yaml:"async_depth"`
}

type Session struct {
	MaxFPS        float64 `yaml:"max_fps"`
	ExtraSurfaces *uint   `yaml:"extra_surfaces"`
	ReadSize      uint    `yaml:"read_size"`
}

// Parse decodes a configuration; an empty document is the default
// configuration. Unknown keys and invalid values are reported as
// types.ErrConfiguration.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b), yaml.Strict())
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unable to parse the config: %v", types.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses the configuration file at the given path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read the config file '%s': %w", path, err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("unable to load '%s': %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if err := cfg.Properties().Validate(); err != nil {
		return err
	}
	if _, err := cfg.Output.scalingMode(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	if cfg.Encode.QP != nil && cfg.Encode.RateControl.UsesBitrate() {
		return fmt.Errorf("%w: qp is set for the bitrate driven rate control %s", types.ErrConfiguration, cfg.Encode.RateControl)
	}
	if cfg.Session.MaxFPS < 0 {
		return fmt.Errorf("%w: max_fps is negative", types.ErrConfiguration)
	}
	return nil
}

// Properties returns the implementation request; the codecs are set by
// the caller.
func (cfg *Config) Properties() implementation.Properties {
	return implementation.Properties{
		Implementation:     cfg.Implementation.Type,
		ImplementationName: cfg.Implementation.Name,
		MinAPIVersion:      cfg.Implementation.MinAPIVersion,
		HardwareDeviceType: cfg.Implementation.DeviceType,
		HardwareDeviceName: cfg.Implementation.DeviceName,
		Preference:         cfg.Implementation.Preference,
	}
}

// DecodeParam applies the decoding section on top of params.
func (cfg *Config) DecodeParam(params implementation.VideoParam) implementation.VideoParam {
	if cfg.Decode.Codec != types.CodecIDUndefined {
		params.CodecID = cfg.Decode.Codec
	}
	if cfg.Decode.AsyncDepth != 0 {
		params.AsyncDepth = cfg.Decode.AsyncDepth
	}
	if cfg.Decode.NumFrames != 0 {
		params.NumFrames = cfg.Decode.NumFrames
	}
	return params
}

// EncodeParam applies the encoding section on top of params.
func (cfg *Config) EncodeParam(params implementation.VideoParam) implementation.VideoParam {
	e := cfg.Encode
	if e.Codec != types.CodecIDUndefined {
		params.CodecID = e.Codec
	}
	if e.RateControl != types.RateControlMethodUndefined {
		params.RateControl.Method = e.RateControl
		if e.RateControl.UsesBitrate() {
			params.RateControl.QP.Unset()
		}
	}
	if e.QP != nil {
		params.RateControl.QP = typing.Opt(*e.QP)
	}
	if e.TargetKbps != nil {
		params.RateControl.TargetKbps = typing.Opt(*e.TargetKbps)
	}
	if e.MaxKbps != nil {
		params.RateControl.MaxKbps = typing.Opt(*e.MaxKbps)
	}
	if e.GOPSize != nil {
		params.GOP.Size = *e.GOPSize
	}
	if e.BFrames != 0 {
		params.GOP.BFrames = e.BFrames
	}
	if e.IDRInterval != 0 {
		params.GOP.IDRInterval = e.IDRInterval
	}
	if e.AsyncDepth != 0 {
		params.AsyncDepth = e.AsyncDepth
	}
	return params
}

func (o Output) scalingMode() (implementation.ScalingMode, error) {
	if o.ScalingMode == "" {
		return implementation.ScalingModeDefault, nil
	}
	return implementation.ParseScalingMode(o.ScalingMode)
}

// PipelineOutput returns the requested output; Validate guarantees the
// scaling mode is known.
func (cfg *Config) PipelineOutput() pipeline.Output {
	scalingMode, _ := cfg.Output.scalingMode()
	return pipeline.Output{
		FourCC:      cfg.Output.FourCC,
		Width:       cfg.Output.Width,
		Height:      cfg.Output.Height,
		FrameRate:   cfg.Output.FrameRate,
		ScalingMode: scalingMode,
	}
}

func (cfg *Config) SessionOptions() session.Options {
	var opts session.Options
	if cfg.Session.MaxFPS > 0 {
		opts = append(opts, session.OptionMaxFPS(cfg.Session.MaxFPS))
	}
	if cfg.Session.ExtraSurfaces != nil {
		opts = append(opts, session.OptionExtraSurfaces(*cfg.Session.ExtraSurfaces))
	}
	if cfg.Session.ReadSize != 0 {
		opts = append(opts, session.OptionReadSize(cfg.Session.ReadSize))
	}
	return opts
}
