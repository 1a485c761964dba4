package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/pipeline"
	"github.com/xaionaro-go/avsession/session"
	"github.com/xaionaro-go/avsession/sink"
	"github.com/xaionaro-go/avsession/source"
	"github.com/xaionaro-go/avsession/types"
)

func runDecode(args []string) (_err error) {
	flags, common := newFlagSet("decode", "<codec> -i <in> -o <out.yuv>")
	output := addOutputFlags(flags)
	maxFPS := flags.Float64("fps", 0, "limit the decoding rate (frames per second)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return errUsage
	}
	if err := common.checkFiles(flags); err != nil {
		return err
	}
	codecID, err := parseCodec(flags, flags.Arg(0))
	if err != nil {
		return err
	}

	ctx, cancelFn, cfg, err := common.setup()
	defer cancelFn()
	defer belt.Flush(ctx)
	if err != nil {
		return err
	}
	logger.Debugf(ctx, "runDecode: %s '%s' -> '%s'", codecID, common.Input, common.Output)
	defer func() { logger.Debugf(ctx, "/runDecode: %v", _err) }()

	out, err := output.Apply(cfg.PipelineOutput())
	if err != nil {
		return err
	}
	selector, err := selectImplementation(ctx, cfg, func(props *implementation.Properties) {
		props.DecoderCodecs = []types.CodecID{codecID}
		props.RequireVPP = out != (pipeline.Output{})
	})
	if err != nil {
		return err
	}

	in, err := source.OpenBitstreamFile(common.Input)
	if err != nil {
		return err
	}
	defer in.Close()
	frames, err := sink.CreateRawFrameFile(common.Output)
	if err != nil {
		return err
	}

	opts := cfg.SessionOptions()
	if *maxFPS > 0 {
		opts = append(opts, session.OptionMaxFPS(*maxFPS))
	}
	params := cfg.DecodeParam(implementation.DefaultDecodeParam(codecID))
	params.CodecID = codecID
	result, err := pipeline.Run(ctx, pipeline.Config{
		Decoder:        selector,
		DecodeParams:   params,
		Output:         out,
		SessionOptions: opts,
	}, in, frames, nil)
	err = errors.Join(err, frames.Close(ctx))
	if result != nil {
		fmt.Fprintf(os.Stderr, "output: %s\n", result.OutputInfo)
		printStats("decode", result.Decode)
		if result.VPP != nil {
			printStats("vpp", *result.VPP)
		}
		printStats("written", frames.Stats())
	}
	return err
}
