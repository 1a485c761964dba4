package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/session"
	"github.com/xaionaro-go/avsession/sink"
	"github.com/xaionaro-go/avsession/source"
)

func runVPP(args []string) (_err error) {
	flags, common := newFlagSet("vpp", "-i <in.yuv> -o <out.yuv> --width W --height H -w W -h H")
	rawInput := addRawInputFlags(flags)
	output := addOutputFlags(flags)
	maxFPS := flags.Float64("max-fps", 0, "limit the processing rate (frames per second)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 0 {
		flags.Usage()
		return errUsage
	}
	if err := common.checkFiles(flags); err != nil {
		return err
	}
	inInfo, err := rawInput.FrameInfo()
	if err != nil {
		return err
	}

	ctx, cancelFn, cfg, err := common.setup()
	defer cancelFn()
	defer belt.Flush(ctx)
	if err != nil {
		return err
	}
	logger.Debugf(ctx, "runVPP: '%s' -> '%s'", common.Input, common.Output)
	defer func() { logger.Debugf(ctx, "/runVPP: %v", _err) }()

	out, err := output.Apply(cfg.PipelineOutput())
	if err != nil {
		return err
	}
	params := implementation.DefaultVPPParam(inInfo, out.Apply(inInfo))
	params.ScalingMode = out.ScalingMode
	params.NumFrames = common.NumFrames
	if cfg.Decode.AsyncDepth != 0 {
		params.AsyncDepth = cfg.Decode.AsyncDepth
	}
	fmt.Fprintf(os.Stderr, "%s -> %s\n", params.InFrameInfo, params.OutFrameInfo)

	selector, err := selectImplementation(ctx, cfg, func(props *implementation.Properties) {
		props.RequireVPP = true
	})
	if err != nil {
		return err
	}

	in, err := source.OpenRawFrameFile(common.Input, inInfo)
	if err != nil {
		return err
	}
	defer in.Close()
	frames, err := sink.CreateRawFrameFile(common.Output)
	if err != nil {
		return err
	}
	defer func() { _err = errors.Join(_err, frames.Close(ctx)) }()

	opts := cfg.SessionOptions()
	if *maxFPS > 0 {
		opts = append(opts, session.OptionMaxFPS(*maxFPS))
	}
	vpp, err := session.NewVPP(ctx, selector, in, opts...)
	if err != nil {
		return err
	}
	defer vpp.Close(ctx)
	if err := vpp.Init(ctx, params); err != nil {
		return err
	}
	for f, err := range vpp.All(ctx) {
		if err != nil {
			return err
		}
		err = frames.WriteFrame(ctx, f)
		if releaseErr := f.Release(ctx); releaseErr != nil && err == nil {
			err = releaseErr
		}
		if err != nil {
			return err
		}
	}
	printStats("vpp", vpp.Stats())
	return nil
}
