package libav

import (
	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
)

var timeBase = astiav.NewRational(1, types.ClockRate)

func rationalToAstiav(r types.Rational) astiav.Rational {
	return astiav.NewRational(r.Num, r.Den)
}

func rationalFromAstiav(r astiav.Rational) types.Rational {
	return types.Rational{Num: r.Num(), Den: r.Den()}
}

// pixelFormats lists the layouts whose memory representation is the same
// in both worlds. YV12 has no libav counterpart (its chroma planes are
// swapped).
var pixelFormats = map[types.FourCC]astiav.PixelFormat{
	types.FourCCI420: astiav.PixelFormatYuv420P,
	types.FourCCNV12: astiav.PixelFormatNv12,
	types.FourCCP010: astiav.PixelFormatP010Le,
	types.FourCCYUY2: astiav.PixelFormatYuyv422,
	types.FourCCRGB4: astiav.PixelFormatBgra,
}

func pixelFormatFromFourCC(fourCC types.FourCC) (astiav.PixelFormat, bool) {
	pf, ok := pixelFormats[fourCC]
	return pf, ok
}

func fourCCFromPixelFormat(pf astiav.PixelFormat) (types.FourCC, bool) {
	for fourCC, candidate := range pixelFormats {
		if candidate == pf {
			return fourCC, true
		}
	}
	return types.FourCCUndefined, false
}

func supportedFourCCs() []types.FourCC {
	var result []types.FourCC
	for _, fourCC := range types.FourCCs() {
		if _, ok := pixelFormats[fourCC]; ok {
			result = append(result, fourCC)
		}
	}
	return result
}

func codecIDToAstiav(codecID types.CodecID) astiav.CodecID {
	switch codecID {
	case types.CodecIDAVC:
		return astiav.CodecIDH264
	case types.CodecIDHEVC:
		return astiav.CodecIDHevc
	case types.CodecIDMPEG2:
		return astiav.CodecIDMpeg2Video
	case types.CodecIDVP9:
		return astiav.CodecIDVp9
	case types.CodecIDAV1:
		return astiav.CodecIDAv1
	case types.CodecIDJPEG:
		return astiav.CodecIDMjpeg
	}
	return astiav.CodecIDNone
}

// hwCodecName returns the name of the accelerated codec, following the
// libav naming conventions ("h264_vaapi", "hevc_nvenc", ...).
func hwCodecName(
	codecName string,
	isEncoder bool,
	deviceType types.HardwareDeviceType,
) string {
	switch deviceType {
	case types.HardwareDeviceTypeCUDA:
		if isEncoder {
			return codecName + "_nvenc"
		}
		return codecName + "_cuvid"
	default:
		return codecName + "_" + deviceType.String()
	}
}

func hwPixelFormatName(deviceType types.HardwareDeviceType) string {
	switch deviceType {
	case types.HardwareDeviceTypeD3D11VA:
		return "d3d11"
	case types.HardwareDeviceTypeDRM:
		return "drm_prime"
	case types.HardwareDeviceTypeDXVA2:
		return "dxva2_vld"
	default:
		return deviceType.String()
	}
}

func LogLevelToAstiav(level logger.Level) astiav.LogLevel {
	switch level {
	case logger.LevelUndefined:
		return astiav.LogLevelQuiet
	case logger.LevelPanic:
		return astiav.LogLevelPanic
	case logger.LevelFatal:
		return astiav.LogLevelFatal
	case logger.LevelError:
		return astiav.LogLevelError
	case logger.LevelWarning:
		return astiav.LogLevelWarning
	case logger.LevelInfo:
		return astiav.LogLevelInfo
	case logger.LevelDebug:
		return astiav.LogLevelVerbose
	case logger.LevelTrace:
		return astiav.LogLevelTrace
	}
	return astiav.LogLevelWarning
}

func LogLevelFromAstiav(level astiav.LogLevel) logger.Level {
	switch {
	case level <= astiav.LogLevelQuiet:
		return logger.LevelUndefined
	case level <= astiav.LogLevelPanic:
		return logger.LevelPanic
	case level <= astiav.LogLevelFatal:
		return logger.LevelFatal
	case level <= astiav.LogLevelError:
		return logger.LevelError
	case level <= astiav.LogLevelWarning:
		return logger.LevelWarning
	case level <= astiav.LogLevelInfo:
		return logger.LevelInfo
	case level <= astiav.LogLevelDebug:
		return logger.LevelDebug
	}
	return logger.LevelTrace
}
