package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/types"
)

const sampleConfig = `
implementation:
  type: hardware
  name: libav
  min_api_version: "2.0"
  device_type: vaapi
  device_name: /dev/dri/renderD128
  preference: [hardware, software]
decode:
  codec: hevc
  async_depth: 2
  num_frames: 100
output:
  fourcc: i420
  width: 640
  height: 360
  frame_rate: 25/1
  scaling_mode: quality
encode:
  codec: avc
  rate_control: cbr
  target_kbps: 2000
  max_kbps: 2500
  gop_size: 60
  b_frames: 2
session:
  max_fps: 30
  extra_surfaces: 3
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	props := cfg.Properties()
	require.Equal(t, types.ImplementationTypeHardware, props.Implementation)
	require.Equal(t, "libav", props.ImplementationName)
	require.Equal(t, types.APIVersion{Major: 2}, props.MinAPIVersion)
	require.Equal(t, types.HardwareDeviceTypeVAAPI, props.HardwareDeviceType)
	require.Equal(t, types.HardwareDeviceName("/dev/dri/renderD128"), props.HardwareDeviceName)
	require.Equal(t, []types.ImplementationType{types.ImplementationTypeHardware, types.ImplementationTypeSoftware}, props.Preference)

	decodeParams := cfg.DecodeParam(implementation.DefaultDecodeParam(types.CodecIDAVC))
	require.Equal(t, types.CodecIDHEVC, decodeParams.CodecID)
	require.Equal(t, 2, decodeParams.AsyncDepth)
	require.Equal(t, uint64(100), decodeParams.NumFrames)

	out := cfg.PipelineOutput()
	require.Equal(t, types.FourCCI420, out.FourCC)
	require.Equal(t, uint32(640), out.Width)
	require.Equal(t, uint32(360), out.Height)
	require.Equal(t, types.Rational{Num: 25, Den: 1}, out.FrameRate)
	require.Equal(t, implementation.ScalingModeQuality, out.ScalingMode)

	encodeParams := cfg.EncodeParam(implementation.DefaultEncodeParam(types.CodecIDHEVC, types.FrameInfo{}))
	require.Equal(t, types.CodecIDAVC, encodeParams.CodecID)
	require.Equal(t, types.RateControlMethodCBR, encodeParams.RateControl.Method)
	require.False(t, encodeParams.RateControl.QP.IsSet())
	require.Equal(t, uint32(2000), encodeParams.RateControl.TargetKbps.Get())
	require.Equal(t, uint32(2500), encodeParams.RateControl.MaxKbps.Get())
	require.Equal(t, uint32(60), encodeParams.GOP.Size)
	require.Equal(t, uint32(2), encodeParams.GOP.BFrames)

	require.Len(t, cfg.SessionOptions(), 2)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, types.ImplementationTypeAny, cfg.Properties().Implementation)
	require.Empty(t, cfg.SessionOptions())

	defaults := implementation.DefaultEncodeParam(types.CodecIDHEVC, types.FrameInfo{})
	require.Equal(t, defaults, cfg.EncodeParam(defaults))
}

func TestParseCodecNames(t *testing.T) {
	for name, codecID := range map[string]types.CodecID{
		"avc":  types.CodecIDAVC,
		"h265": types.CodecIDHEVC,
		"vp9":  types.CodecIDVP9,
		"av1":  types.CodecIDAV1,
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Parse([]byte("decode:\n  codec: " + name + "\nencode:\n  codec: " + name + "\n"))
			require.NoError(t, err)
			require.Equal(t, codecID, cfg.Decode.Codec)
			require.Equal(t, codecID, cfg.Encode.Codec)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown-key":           "decode:\n  codec: hevc\n  colour: red\n",
		"unknown-section":       "decoder:\n  codec: hevc\n",
		"unknown-codec":         "decode:\n  codec: theora\n",
		"unknown-fourcc":        "output:\n  fourcc: rgb24\n",
		"unknown-scaling-mode":  "output:\n  scaling_mode: best\n",
		"qp-with-bitrate":       "encode:\n  rate_control: vbr\n  qp: 20\n",
		"software-with-device":  "implementation:\n  type: software\n  device_type: cuda\n",
		"negative-max-fps":      "session:\n  max_fps: -1\n",
		"duplicated-preference": "implementation:\n  preference: [software, software]\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, types.ErrConfiguration)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avsession.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, types.CodecIDHEVC, cfg.Decode.Codec)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
