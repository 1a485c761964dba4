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

func runTranscode(args []string) (_err error) {
	flags, common := newFlagSet("transcode", "<in-codec> <out-codec> -i <in> -o <out>")
	output := addOutputFlags(flags)
	maxFPS := flags.Float64("fps", 0, "limit the transcoding rate (frames per second)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 2 {
		flags.Usage()
		return errUsage
	}
	if err := common.checkFiles(flags); err != nil {
		return err
	}
	inCodecID, err := parseCodec(flags, flags.Arg(0))
	if err != nil {
		return err
	}
	outCodecID, err := parseCodec(flags, flags.Arg(1))
	if err != nil {
		return err
	}

	ctx, cancelFn, cfg, err := common.setup()
	defer cancelFn()
	defer belt.Flush(ctx)
	if err != nil {
		return err
	}
	logger.Debugf(ctx, "runTranscode: %s '%s' -> %s '%s'", inCodecID, common.Input, outCodecID, common.Output)
	defer func() { logger.Debugf(ctx, "/runTranscode: %v", _err) }()

	out, err := output.Apply(cfg.PipelineOutput())
	if err != nil {
		return err
	}
	decoder, err := selectImplementation(ctx, cfg, func(props *implementation.Properties) {
		props.DecoderCodecs = []types.CodecID{inCodecID}
		props.RequireVPP = out != (pipeline.Output{})
	})
	if err != nil {
		return fmt.Errorf("unable to select the decoder: %w", err)
	}
	encoder, err := selectImplementation(ctx, cfg, func(props *implementation.Properties) {
		props.EncoderCodecs = []types.CodecID{outCodecID}
	})
	if err != nil {
		return fmt.Errorf("unable to select the encoder: %w", err)
	}

	in, err := source.OpenBitstreamFile(common.Input)
	if err != nil {
		return err
	}
	defer in.Close()
	chunks, err := sink.CreateBitstreamFile(common.Output)
	if err != nil {
		return err
	}

	opts := cfg.SessionOptions()
	if *maxFPS > 0 {
		opts = append(opts, session.OptionMaxFPS(*maxFPS))
	}
	decodeParams := cfg.DecodeParam(implementation.DefaultDecodeParam(inCodecID))
	decodeParams.CodecID = inCodecID
	encodeParams := cfg.EncodeParam(implementation.DefaultEncodeParam(outCodecID, types.FrameInfo{}))
	encodeParams.CodecID = outCodecID
	result, err := pipeline.Run(ctx, pipeline.Config{
		Decoder:        decoder,
		DecodeParams:   decodeParams,
		Output:         out,
		Encoder:        encoder,
		EncodeParams:   encodeParams,
		SessionOptions: opts,
	}, in, nil, chunks)
	err = errors.Join(err, chunks.Close(ctx))
	if result != nil {
		fmt.Fprintf(os.Stderr, "encoded: %s\n", result.OutputInfo)
		printStats("decode", result.Decode)
		if result.VPP != nil {
			printStats("vpp", *result.VPP)
		}
		if result.Encode != nil {
			printStats("encode", *result.Encode)
		}
	}
	return err
}
