package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/avsession/config"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/implementation/libav"
	_ "github.com/xaionaro-go/avsession/implementation/soft"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/pipeline"
	"github.com/xaionaro-go/avsession/types"
)

var errUsage = errors.New("invalid usage")

type commonFlags struct {
	LogLevel   logger.Level
	ConfigPath string
	Input      string
	Output     string
	Software   bool
	Hardware   bool
	HWType     string
	Device     string
	AsyncDepth int
	NumFrames  uint64
	Timeout    time.Duration
}

func newFlagSet(name, syntax string) (*pflag.FlagSet, *commonFlags) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s %s %s\n", os.Args[0], name, syntax)
		flags.PrintDefaults()
	}
	c := &commonFlags{LogLevel: logger.LevelWarning}
	flags.Var(&c.LogLevel, "log-level", "Log level")
	flags.StringVar(&c.ConfigPath, "config", "", "YAML configuration file; flags override it")
	flags.StringVarP(&c.Input, "input", "i", "", "input file")
	flags.StringVarP(&c.Output, "output", "o", "", "output file")
	flags.BoolVar(&c.Software, "sw", false, "use a software implementation")
	flags.BoolVar(&c.Hardware, "hw", false, "use a hardware implementation")
	flags.StringVar(&c.HWType, "hw-type", "vaapi", "accelerator used with --hw")
	flags.StringVar(&c.Device, "device", "", "hardware device path; implies --hw")
	flags.IntVar(&c.AsyncDepth, "async", 0, "amount of frames in flight (default 4; always 1 for software)")
	flags.Uint64VarP(&c.NumFrames, "frames", "n", 0, "process at most N frames")
	flags.DurationVar(&c.Timeout, "timeout", 0, "stop the processing after this amount of time (0 means no limit)")
	return flags, c
}

func (c *commonFlags) checkFiles(flags *pflag.FlagSet) error {
	if c.Input == "" || c.Output == "" {
		flags.Usage()
		return errUsage
	}
	return nil
}

// setup builds the logger and the configuration: the config file first,
// the flags on top of it.
func (c *commonFlags) setup() (context.Context, context.CancelFunc, *config.Config, error) {
	ctx := logger.CtxWithLogrus(context.Background(), c.LogLevel)
	ctx, cancelFn := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	if c.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, c.Timeout)
		stopSignals := cancelFn
		cancelFn = func() {
			cancelTimeout()
			stopSignals()
		}
	}
	libav.SetupLogging(ctx)

	cfg := &config.Config{}
	if c.ConfigPath != "" {
		var err error
		cfg, err = config.Load(c.ConfigPath)
		if err != nil {
			return ctx, cancelFn, nil, err
		}
	}

	if c.Software && (c.Hardware || c.Device != "") {
		return ctx, cancelFn, nil, fmt.Errorf("%w: --sw conflicts with --hw/--device", types.ErrConfiguration)
	}
	if c.Software {
		cfg.Implementation.Type = types.ImplementationTypeSoftware
		cfg.Implementation.DeviceType = types.HardwareDeviceTypeNone
		cfg.Implementation.DeviceName = ""
	}
	if c.Hardware || c.Device != "" {
		deviceType, err := types.ParseHardwareDeviceType(c.HWType)
		if err != nil {
			return ctx, cancelFn, nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
		}
		cfg.Implementation.Type = types.ImplementationTypeHardware
		cfg.Implementation.DeviceType = deviceType
		cfg.Implementation.DeviceName = types.HardwareDeviceName(c.Device)
	}
	if c.AsyncDepth != 0 {
		cfg.Decode.AsyncDepth = c.AsyncDepth
		cfg.Encode.AsyncDepth = c.AsyncDepth
	}
	if c.NumFrames != 0 {
		cfg.Decode.NumFrames = c.NumFrames
	}
	if err := cfg.Validate(); err != nil {
		return ctx, cancelFn, nil, err
	}

	if deviceType := cfg.Implementation.DeviceType; deviceType.IsHardware() {
		if err := libav.RegisterHardware(ctx, implementation.Default, deviceType); err != nil {
			return ctx, cancelFn, nil, fmt.Errorf("unable to initialize %s: %w", deviceType, err)
		}
	}
	return ctx, cancelFn, cfg, nil
}

func selectImplementation(
	ctx context.Context,
	cfg *config.Config,
	modify func(*implementation.Properties),
) (implementation.Selector, error) {
	props := cfg.Properties()
	modify(&props)
	if logger.IsTraceEnabled(ctx) {
		logger.Tracef(ctx, "properties: %s", spew.Sdump(props))
	}
	selector, err := implementation.Select(ctx, props)
	if err != nil {
		return implementation.Selector{}, err
	}
	logger.Debugf(ctx, "selected %s", selector.Description().Name)
	return selector, nil
}

type outputFlags struct {
	Width       uint32
	Height      uint32
	I420        bool
	NV12        bool
	RGB4        bool
	FrameRate   string
	ScalingMode string
}

func addOutputFlags(flags *pflag.FlagSet) *outputFlags {
	o := &outputFlags{}
	flags.Uint32VarP(&o.Width, "out-width", "w", 0, "output width (default: as the input)")
	flags.Uint32VarP(&o.Height, "out-height", "h", 0, "output height (default: as the input)")
	flags.BoolVar(&o.I420, "i420", false, "output I420 frames")
	flags.BoolVar(&o.NV12, "nv12", false, "output NV12 frames")
	flags.BoolVar(&o.RGB4, "rgb4", false, "output RGB4 frames")
	flags.StringVar(&o.FrameRate, "out-fps", "", "output frame rate, e.g. 30/1 (default: as the input)")
	flags.StringVar(&o.ScalingMode, "scaling-mode", "", "scaling mode: lowpower or quality")
	return o
}

// Apply puts the flags on top of the configured output.
func (o *outputFlags) Apply(out pipeline.Output) (pipeline.Output, error) {
	var fourCCs []types.FourCC
	if o.I420 {
		fourCCs = append(fourCCs, types.FourCCI420)
	}
	if o.NV12 {
		fourCCs = append(fourCCs, types.FourCCNV12)
	}
	if o.RGB4 {
		fourCCs = append(fourCCs, types.FourCCRGB4)
	}
	switch len(fourCCs) {
	case 0:
	case 1:
		out.FourCC = fourCCs[0]
	default:
		return out, fmt.Errorf("%w: only one of --i420, --nv12 and --rgb4 may be given", types.ErrConfiguration)
	}
	if o.Width != 0 {
		out.Width = o.Width
	}
	if o.Height != 0 {
		out.Height = o.Height
	}
	if o.FrameRate != "" {
		frameRate, err := types.RationalFromString(o.FrameRate)
		if err != nil {
			return out, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
		}
		out.FrameRate = *frameRate
	}
	if o.ScalingMode != "" {
		scalingMode, err := implementation.ParseScalingMode(o.ScalingMode)
		if err != nil {
			return out, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
		}
		out.ScalingMode = scalingMode
	}
	return out, nil
}

// rawInputFlags describe a headerless raw frame file.
type rawInputFlags struct {
	Width     uint32
	Height    uint32
	FourCC    string
	FrameRate string
}

func addRawInputFlags(flags *pflag.FlagSet) *rawInputFlags {
	r := &rawInputFlags{}
	flags.Uint32Var(&r.Width, "width", 0, "input width")
	flags.Uint32Var(&r.Height, "height", 0, "input height")
	flags.StringVar(&r.FourCC, "fourcc", "i420", "input fourcc")
	flags.StringVar(&r.FrameRate, "fps", "30/1", "input frame rate")
	return r
}

func (r *rawInputFlags) FrameInfo() (types.FrameInfo, error) {
	if r.Width == 0 || r.Height == 0 {
		return types.FrameInfo{}, fmt.Errorf("%w: --width and --height are required", types.ErrConfiguration)
	}
	fourCC, err := types.ParseFourCC(r.FourCC)
	if err != nil {
		return types.FrameInfo{}, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	frameRate, err := types.RationalFromString(r.FrameRate)
	if err != nil {
		return types.FrameInfo{}, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	fi := types.NewFrameInfo(fourCC, r.Width, r.Height, *frameRate)
	return fi, fi.Validate()
}

func printStats(name string, stats types.Statistics) {
	fmt.Fprintf(os.Stderr, "%-9s in: %d frames, %s; out: %d frames, %s\n",
		name,
		stats.FramesIn, humanize.IBytes(stats.BytesIn),
		stats.FramesOut, humanize.IBytes(stats.BytesOut),
	)
}

func parseCodec(flags *pflag.FlagSet, arg string) (types.CodecID, error) {
	codecID, err := types.ParseCodecID(arg)
	if err != nil {
		flags.Usage()
		return types.CodecIDUndefined, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	return codecID, nil
}
