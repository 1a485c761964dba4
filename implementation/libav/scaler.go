package libav

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avsession/helpers/closuresignaler"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/logger"
)

// swsScaler converts libav frames with libswscale.
type swsScaler struct {
	*astiav.SoftwareScaleContext
	*closuresignaler.ClosureSignaler
}

func scaleFlags(mode implementation.ScalingMode) []astiav.SoftwareScaleContextFlag {
	switch mode {
	case implementation.ScalingModeLowPower:
		return []astiav.SoftwareScaleContextFlag{astiav.SoftwareScaleContextFlagFastBilinear}
	case implementation.ScalingModeQuality:
		return []astiav.SoftwareScaleContextFlag{astiav.SoftwareScaleContextFlagLanczos}
	default:
		return []astiav.SoftwareScaleContextFlag{astiav.SoftwareScaleContextFlagBilinear}
	}
}

func newSWSScaler(
	ctx context.Context,
	srcWidth, srcHeight int,
	srcPixFmt astiav.PixelFormat,
	dstWidth, dstHeight int,
	dstPixFmt astiav.PixelFormat,
	opts ...astiav.SoftwareScaleContextFlag,
) (*swsScaler, error) {
	swsCtx, err := astiav.CreateSoftwareScaleContext(
		srcWidth,
		srcHeight,
		srcPixFmt,
		dstWidth,
		dstHeight,
		dstPixFmt,
		astiav.NewSoftwareScaleContextFlags(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create a software scale context: %w", err)
	}
	return &swsScaler{
		SoftwareScaleContext: swsCtx,
		ClosureSignaler:      closuresignaler.New(),
	}, nil
}

func (s *swsScaler) String() string {
	return fmt.Sprintf(
		"SWSScaler(%dx%d:%s -> %dx%d:%s)",
		s.SoftwareScaleContext.SourceWidth(),
		s.SoftwareScaleContext.SourceHeight(),
		s.SoftwareScaleContext.SourcePixelFormat(),
		s.SoftwareScaleContext.DestinationWidth(),
		s.SoftwareScaleContext.DestinationHeight(),
		s.SoftwareScaleContext.DestinationPixelFormat(),
	)
}

// Matches returns true if the scaler converts frames like src into
// frames of the given geometry.
func (s *swsScaler) Matches(src *astiav.Frame, dstWidth, dstHeight int, dstPixFmt astiav.PixelFormat) bool {
	return s.SoftwareScaleContext.SourceWidth() == src.Width() &&
		s.SoftwareScaleContext.SourceHeight() == src.Height() &&
		s.SoftwareScaleContext.SourcePixelFormat() == src.PixelFormat() &&
		s.SoftwareScaleContext.DestinationWidth() == dstWidth &&
		s.SoftwareScaleContext.DestinationHeight() == dstHeight &&
		s.SoftwareScaleContext.DestinationPixelFormat() == dstPixFmt
}

func (s *swsScaler) Close(ctx context.Context) error {
	logger.Tracef(ctx, "Close")
	defer logger.Tracef(ctx, "/Close")
	if s.IsClosed() {
		return nil
	}
	s.ClosureSignaler.Close(ctx)
	s.SoftwareScaleContext.Free()
	return nil
}

func (s *swsScaler) ScaleFrame(
	ctx context.Context,
	src *astiav.Frame,
	dst *astiav.Frame,
) (_err error) {
	logger.Tracef(ctx, "ScaleFrame")
	defer func() { logger.Tracef(ctx, "/ScaleFrame: %v", _err) }()
	if s.IsClosed() {
		return fmt.Errorf("scaler is closed")
	}
	if err := s.SoftwareScaleContext.ScaleFrame(src, dst); err != nil {
		return fmt.Errorf("unable to scale a frame: %w", err)
	}
	return nil
}
