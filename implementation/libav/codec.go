package libav

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/avsession/device"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
)

const hardwareFramesPoolSize = 20

type codecContext struct {
	IsEncoder             bool
	codec                 *astiav.Codec
	codecContext          *astiav.CodecContext
	hardwarePixelFormat   astiav.PixelFormat
	hardwareFramesContext *astiav.HardwareFramesContext
	closer                *astikit.Closer
}

func findCodec(
	ctx context.Context,
	isEncoder bool,
	codecID types.CodecID,
	deviceType types.HardwareDeviceType,
) (_ret *astiav.Codec, _isHW bool) {
	logger.Tracef(ctx, "findCodec(ctx, %t, %s, %s)", isEncoder, codecID, deviceType)
	defer func() { logger.Tracef(ctx, "/findCodec(ctx, %t, %s, %s): %v %t", isEncoder, codecID, deviceType, _ret, _isHW) }()
	avCodecID := codecIDToAstiav(codecID)
	if avCodecID == astiav.CodecIDNone {
		return nil, false
	}
	find, findByName := astiav.FindDecoder, astiav.FindDecoderByName
	if isEncoder {
		find, findByName = astiav.FindEncoder, astiav.FindEncoderByName
	}
	c := find(avCodecID)
	if c == nil {
		return nil, false
	}
	if !deviceType.IsHardware() {
		return c, false
	}
	if hw := findByName(hwCodecName(avCodecID.Name(), isEncoder, deviceType)); hw != nil {
		return hw, true
	}
	return c, false
}

// hardwareConfig returns the hardware pixel format of the codec on the
// given device type and whether it needs a frames context.
func hardwareConfig(
	c *astiav.Codec,
	deviceType types.HardwareDeviceType,
) (astiav.PixelFormat, bool, bool) {
	for _, cfg := range c.HardwareConfigs() {
		if cfg.HardwareDeviceType() != astiav.HardwareDeviceType(deviceType) {
			continue
		}
		switch {
		case cfg.MethodFlags().Has(astiav.CodecHardwareConfigMethodFlagHwDeviceCtx):
			return cfg.PixelFormat(), false, true
		case cfg.MethodFlags().Has(astiav.CodecHardwareConfigMethodFlagHwFramesCtx):
			return cfg.PixelFormat(), true, true
		}
	}
	return astiav.PixelFormatNone, false, false
}

func newCodecContext(
	ctx context.Context,
	isEncoder bool,
	params implementation.VideoParam,
	dev device.Context,
) (_ret *codecContext, _err error) {
	deviceType := types.HardwareDeviceTypeNone
	if dev != nil {
		deviceType = dev.Type()
	}
	ctx = belt.WithField(ctx, "is_encoder", isEncoder)
	ctx = belt.WithField(ctx, "codec_id", params.CodecID)
	ctx = belt.WithField(ctx, "hw_dev_type", deviceType)
	logger.Tracef(ctx, "newCodecContext(ctx, %t, %s)", isEncoder, params.FrameInfo)
	defer func() { logger.Tracef(ctx, "/newCodecContext(ctx, %t, %s): %v", isEncoder, params.FrameInfo, _err) }()

	c := &codecContext{
		IsEncoder: isEncoder,
		closer:    astikit.NewCloser(),
	}
	defer func() {
		if _err != nil {
			logger.Debugf(ctx, "got an error, closing the codec: %v", _err)
			_ = c.Close(ctx)
		}
	}()

	var isHW bool
	c.codec, isHW = findCodec(ctx, isEncoder, params.CodecID, deviceType)
	if c.codec == nil {
		return nil, types.ErrUnsupportedParameter{Param: "CodecID", Reason: fmt.Sprintf("libav has no codec for %s", params.CodecID)}
	}
	logger.Debugf(ctx, "codec name: '%s'", c.codec.Name())

	c.codecContext = astiav.AllocCodecContext(c.codec)
	if c.codecContext == nil {
		return nil, types.ErrAllocationFailed{Resource: "codec context", Err: fmt.Errorf("AllocCodecContext returned nil")}
	}
	c.closer.Add(c.codecContext.Free)

	fi := params.FrameInfo
	pixFmt, ok := pixelFormatFromFourCC(fi.FourCC)
	if !ok {
		return nil, types.ErrUnsupportedParameter{Param: "FrameInfo.FourCC", Reason: fmt.Sprintf("%s has no libav counterpart", fi.FourCC)}
	}
	c.codecContext.SetWidth(int(fi.ROI.W))
	c.codecContext.SetHeight(int(fi.ROI.H))
	c.codecContext.SetTimeBase(timeBase)
	if fi.FrameRate.IsPositive() {
		c.codecContext.SetFramerate(rationalToAstiav(fi.FrameRate))
	}
	c.codecContext.SetPixelFormat(pixFmt)

	if hwCtx := hardwareDeviceContext(dev); hwCtx != nil {
		if err := c.initHardware(ctx, hwCtx, deviceType, isHW, fi, pixFmt); err != nil {
			return nil, err
		}
	}

	options := astiav.NewDictionary()
	c.closer.Add(options.Free)
	if isEncoder {
		c.setEncoderParams(ctx, params, options)
		c.codecContext.SetFlags(astiav.CodecContextFlags(astiav.CodecContextFlagClosedGop))
	} else {
		c.codecContext.SetFlags(astiav.CodecContextFlags(astiav.CodecContextFlagLowDelay))
		// the decoder is fed unit by unit, not frame by frame
		c.codecContext.SetFlags2(astiav.CodecContextFlags2(astiav.CodecFlag2Chunks))
	}

	if err := c.codecContext.Open(c.codec, options); err != nil {
		return nil, types.ErrIO{Op: "open codec", Err: err}
	}
	return c, nil
}

func (c *codecContext) initHardware(
	ctx context.Context,
	hwCtx *astiav.HardwareDeviceContext,
	deviceType types.HardwareDeviceType,
	isHWCodec bool,
	fi types.FrameInfo,
	swPixFmt astiav.PixelFormat,
) (_err error) {
	logger.Tracef(ctx, "initHardware(%s)", deviceType)
	defer func() { logger.Tracef(ctx, "/initHardware(%s): %v %v", deviceType, c.hardwarePixelFormat, _err) }()

	hwPixFmt, needsFrames, found := hardwareConfig(c.codec, deviceType)
	if !found {
		if !isHWCodec {
			return types.ErrUnsupportedParameter{Param: "HardwareDeviceType", Reason: fmt.Sprintf("codec '%s' cannot run on %s", c.codec.Name(), deviceType)}
		}
		// a dedicated hardware codec may accept system memory frames
		c.codecContext.SetHardwareDeviceContext(hwCtx)
		return nil
	}
	c.hardwarePixelFormat = hwPixFmt

	if !c.IsEncoder {
		c.codecContext.SetHardwareDeviceContext(hwCtx)
		c.codecContext.SetPixelFormatCallback(func(pfs []astiav.PixelFormat) astiav.PixelFormat {
			for _, pf := range pfs {
				if pf == hwPixFmt {
					return pf
				}
			}
			logger.Errorf(ctx, "unable to find appropriate pixel format, falling back to %s", pfs[0])
			return pfs[0]
		})
		return nil
	}

	if !needsFrames {
		c.codecContext.SetHardwareDeviceContext(hwCtx)
		return nil
	}
	if hwPixFmt == astiav.PixelFormatNone {
		hwPixFmt = astiav.FindPixelFormatByName(hwPixelFormatName(deviceType))
		c.hardwarePixelFormat = hwPixFmt
	}
	framesCtx := astiav.AllocHardwareFramesContext(hwCtx)
	if framesCtx == nil {
		return types.ErrAllocationFailed{Resource: "hardware frames context", Err: fmt.Errorf("AllocHardwareFramesContext returned nil")}
	}
	c.closer.Add(framesCtx.Free)
	framesCtx.SetHardwarePixelFormat(hwPixFmt)
	framesCtx.SetSoftwarePixelFormat(swPixFmt)
	framesCtx.SetWidth(int(fi.ROI.W))
	framesCtx.SetHeight(int(fi.ROI.H))
	framesCtx.SetInitialPoolSize(hardwareFramesPoolSize)
	if err := framesCtx.Initialize(); err != nil {
		return types.ErrAllocationFailed{Resource: "hardware frames context", Err: err}
	}
	c.hardwareFramesContext = framesCtx
	c.codecContext.SetHardwareFramesContext(framesCtx)
	c.codecContext.SetPixelFormat(hwPixFmt)
	return nil
}

func (c *codecContext) setEncoderParams(
	ctx context.Context,
	params implementation.VideoParam,
	options *astiav.Dictionary,
) {
	logIfError := func(err error) {
		if err != nil {
			logger.Errorf(ctx, "got an error: %v", err)
		}
	}

	c.codecContext.SetGopSize(int(params.GOP.Size))
	c.codecContext.SetMaxBFrames(int(params.GOP.BFrames))
	logIfError(options.Set("bf", fmt.Sprintf("%d", params.GOP.BFrames), 0))
	logIfError(options.Set("forced-idr", "1", 0))

	rc := params.RateControl
	switch rc.Method {
	case types.RateControlMethodCQP, types.RateControlMethodICQ:
		qp := 26
		if rc.QP.IsSet() {
			qp = int(rc.QP.Get())
		}
		logIfError(options.Set("qp", fmt.Sprintf("%d", qp), 0))
		c.codecContext.SetFlags(c.codecContext.Flags() | astiav.CodecContextFlags(astiav.CodecContextFlagQscale))
	case types.RateControlMethodCBR:
		bitRate := int64(rc.TargetKbps.Get()) * 1000
		c.codecContext.SetBitRate(bitRate)
		c.codecContext.SetRateControlMinRate(bitRate)
		c.codecContext.SetRateControlMaxRate(bitRate)
		c.codecContext.SetRateControlBufferSize(int(bitRate * 2))
		logIfError(options.Set("rc", "cbr", 0))
	default:
		bitRate := int64(rc.TargetKbps.Get()) * 1000
		c.codecContext.SetBitRate(bitRate)
		if rc.MaxKbps.IsSet() {
			maxBitRate := int64(rc.MaxKbps.Get()) * 1000
			c.codecContext.SetRateControlMaxRate(maxBitRate)
			c.codecContext.SetRateControlBufferSize(int(maxBitRate * 2))
		}
	}
}

func (c *codecContext) Close(ctx context.Context) error {
	if c.closer == nil {
		return nil
	}
	logger.Debugf(ctx, "closing the codec internals")
	belt.Flush(ctx)
	err := c.closer.Close()
	c.closer = nil
	c.codecContext = nil
	c.hardwareFramesContext = nil
	return err
}
