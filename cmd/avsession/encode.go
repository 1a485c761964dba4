package main

import (
	"errors"

	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/session"
	"github.com/xaionaro-go/avsession/sink"
	"github.com/xaionaro-go/avsession/source"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/typing"
)

func runEncode(args []string) (_err error) {
	flags, common := newFlagSet("encode", "<codec> -i <in.yuv> -o <out> --width W --height H")
	rawInput := addRawInputFlags(flags)
	qp := flags.Uint8("qp", 0, "constant quantizer (selects CQP)")
	bitrate := flags.Uint32("bitrate", 0, "target bitrate in kbps (selects CBR unless --rc is given)")
	rateControl := flags.String("rc", "", "rate control: cbr, vbr, cqp, avbr, icq")
	bFrames := flags.Uint32("bframes", 0, "amount of B-frames between anchors")
	gopSize := flags.Uint32("gop", 0, "distance between intra pictures")
	maxFPS := flags.Float64("max-fps", 0, "limit the encoding rate (frames per second)")
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
	info, err := rawInput.FrameInfo()
	if err != nil {
		return err
	}

	ctx, cancelFn, cfg, err := common.setup()
	defer cancelFn()
	defer belt.Flush(ctx)
	if err != nil {
		return err
	}
	logger.Debugf(ctx, "runEncode: %s '%s' -> '%s'", codecID, common.Input, common.Output)
	defer func() { logger.Debugf(ctx, "/runEncode: %v", _err) }()

	params := cfg.EncodeParam(implementation.DefaultEncodeParam(codecID, info))
	params.CodecID = codecID
	params.FrameInfo = info
	params.NumFrames = common.NumFrames
	switch {
	case *rateControl != "":
		method, err := types.ParseRateControlMethod(*rateControl)
		if err != nil {
			return types.ErrUnsupportedParameter{Param: "rc", Reason: err.Error()}
		}
		params.RateControl.Method = method
	case *bitrate != 0:
		params.RateControl.Method = types.RateControlMethodCBR
	case flags.Changed("qp"):
		params.RateControl.Method = types.RateControlMethodCQP
	}
	if params.RateControl.Method.UsesBitrate() {
		params.RateControl.QP.Unset()
	}
	if flags.Changed("qp") {
		params.RateControl.QP = typing.Opt(*qp)
	}
	if *bitrate != 0 {
		params.RateControl.TargetKbps = typing.Opt(*bitrate)
	}
	if flags.Changed("bframes") {
		params.GOP.BFrames = *bFrames
	}
	if flags.Changed("gop") {
		params.GOP.Size = *gopSize
	}

	selector, err := selectImplementation(ctx, cfg, func(props *implementation.Properties) {
		props.EncoderCodecs = []types.CodecID{codecID}
	})
	if err != nil {
		return err
	}

	in, err := source.OpenRawFrameFile(common.Input, info)
	if err != nil {
		return err
	}
	defer in.Close()
	chunks, err := sink.CreateBitstreamFile(common.Output)
	if err != nil {
		return err
	}
	defer func() { _err = errors.Join(_err, chunks.Close(ctx)) }()

	opts := cfg.SessionOptions()
	if *maxFPS > 0 {
		opts = append(opts, session.OptionMaxFPS(*maxFPS))
	}
	enc, err := session.NewEncode(ctx, selector, in, opts...)
	if err != nil {
		return err
	}
	defer enc.Close(ctx)
	if err := enc.Init(ctx, params); err != nil {
		return err
	}
	for chunk, err := range enc.All(ctx) {
		if err != nil {
			return err
		}
		if err := chunks.WriteChunk(ctx, chunk); err != nil {
			return err
		}
	}
	printStats("encode", enc.Stats())
	return nil
}
