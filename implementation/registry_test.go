package implementation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avsession/device"
	"github.com/xaionaro-go/avsession/types"
)

type dummyImplementation struct {
	desc Description
}

func (d dummyImplementation) Description() Description {
	return d.desc
}

func (d dummyImplementation) OpenDevice(
	context.Context,
	types.HardwareDeviceType,
	types.HardwareDeviceName,
) (device.Context, error) {
	return device.NewSoftware(""), nil
}

func (d dummyImplementation) DecodeHeader(context.Context, types.CodecID, []byte, bool) (*VideoParam, error) {
	return nil, ErrNeedMoreInput
}

func (d dummyImplementation) NewDecoder(context.Context, device.Context, VideoParam) (Decoder, error) {
	return nil, errors.New("not implemented")
}

func (d dummyImplementation) NewEncoder(context.Context, device.Context, VideoParam) (Encoder, error) {
	return nil, errors.New("not implemented")
}

func (d dummyImplementation) NewVPP(context.Context, device.Context, VideoParam) (VPP, error) {
	return nil, errors.New("not implemented")
}

func newDummy(
	name string,
	implType types.ImplementationType,
	codecs ...types.CodecID,
) dummyImplementation {
	desc := Description{
		Name:        name,
		Type:        implType,
		APIVersion:  types.APIVersion{Major: 2, Minor: 9},
		MemoryTypes: []types.MemoryType{types.MemoryTypeSystem},
		DeviceTypes: []types.HardwareDeviceType{types.HardwareDeviceTypeNone},
	}
	if implType == types.ImplementationTypeHardware {
		desc.DeviceTypes = []types.HardwareDeviceType{types.HardwareDeviceTypeVAAPI}
	}
	for _, codecID := range codecs {
		caps := CodecCaps{
			CodecID:     codecID,
			FourCCs:     []types.FourCC{types.FourCCI420},
			RateControl: []types.RateControlMethod{types.RateControlMethodCQP},
		}
		desc.Decoders = append(desc.Decoders, caps)
		desc.Encoders = append(desc.Encoders, caps)
	}
	return dummyImplementation{desc: desc}
}

func newTestRegistry(t *testing.T) *Registry {
	ctx := context.Background()
	r := NewRegistry()
	require.NoError(t, r.Register(ctx, newDummy("sw0", types.ImplementationTypeSoftware, types.CodecIDHEVC)))
	require.NoError(t, r.Register(ctx, newDummy("sw1", types.ImplementationTypeSoftware, types.CodecIDHEVC, types.CodecIDAVC)))
	require.NoError(t, r.Register(ctx, newDummy("hw0", types.ImplementationTypeHardware, types.CodecIDAVC)))
	require.Error(t, r.Register(ctx, newDummy("sw0", types.ImplementationTypeSoftware)))
	return r
}

func TestSelect(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	for _, tc := range []struct {
		Name     string
		Props    Properties
		Expected string
	}{
		{"any/hevc", Properties{DecoderCodecs: []types.CodecID{types.CodecIDHEVC}}, "sw0"},
		{"any/avc prefers hardware", Properties{DecoderCodecs: []types.CodecID{types.CodecIDAVC}}, "hw0"},
		{"software/avc", Properties{Implementation: types.ImplementationTypeSoftware, EncoderCodecs: []types.CodecID{types.CodecIDAVC}}, "sw1"},
		{"preference", Properties{DecoderCodecs: []types.CodecID{types.CodecIDAVC}, Preference: []types.ImplementationType{types.ImplementationTypeSoftware}}, "sw1"},
		{"by name", Properties{ImplementationName: "sw1"}, "sw1"},
		{"device type", Properties{HardwareDeviceType: types.HardwareDeviceTypeVAAPI}, "hw0"},
		{"no constraints", Properties{}, "hw0"},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			for range 3 {
				s, err := r.Select(ctx, tc.Props)
				require.NoError(t, err)
				require.True(t, s.IsValid())
				require.Equal(t, tc.Expected, s.Description().Name)
			}
		})
	}
}

func TestSelectNoMatch(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	for _, props := range []Properties{
		{DecoderCodecs: []types.CodecID{types.CodecIDAV1}},
		{Implementation: types.ImplementationTypeHardware, DecoderCodecs: []types.CodecID{types.CodecIDHEVC}},
		{MinAPIVersion: types.APIVersion{Major: 3}},
		{RequireVPP: true},
		{ImplementationName: "nonexistent"},
		{HardwareDeviceType: types.HardwareDeviceTypeCUDA},
	} {
		s, err := r.Select(ctx, props)
		require.ErrorIs(t, err, types.ErrNoMatchingImplementation, "%+v", props)
		require.ErrorIs(t, err, types.ErrConfiguration)
		require.False(t, s.IsValid())
	}
}

func TestPropertiesValidate(t *testing.T) {
	for name, props := range map[string]Properties{
		"unknown type":           {Implementation: types.ImplementationType(42)},
		"unknown codec":          {DecoderCodecs: []types.CodecID{types.CodecID(100)}},
		"unknown device":         {HardwareDeviceType: types.HardwareDeviceType(0x42)},
		"software with hardware": {Implementation: types.ImplementationTypeSoftware, HardwareDeviceType: types.HardwareDeviceTypeQSV},
		"device name only":       {HardwareDeviceName: "/dev/dri/renderD128"},
		"duplicate preference":   {Preference: []types.ImplementationType{types.ImplementationTypeSoftware, types.ImplementationTypeSoftware}},
		"any in preference":      {Preference: []types.ImplementationType{types.ImplementationTypeAny}},
	} {
		t.Run(name, func(t *testing.T) {
			err := props.Validate()
			require.ErrorIs(t, err, types.ErrConfiguration)
			require.NotErrorIs(t, err, types.ErrNoMatchingImplementation)
		})
	}
	require.NoError(t, Properties{
		Implementation:     types.ImplementationTypeHardware,
		HardwareDeviceType: types.HardwareDeviceTypeVAAPI,
		HardwareDeviceName: "/dev/dri/renderD128",
	}.Validate())
}

func TestSelectorCopiesProperties(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	props := Properties{DecoderCodecs: []types.CodecID{types.CodecIDHEVC}}
	s, err := r.Select(ctx, props)
	require.NoError(t, err)
	props.DecoderCodecs[0] = types.CodecIDAV1
	require.Equal(t, types.CodecIDHEVC, s.Properties().DecoderCodecs[0])

	var zero Selector
	require.False(t, zero.IsValid())
}

func TestDescriptionChecks(t *testing.T) {
	desc := newDummy("sw", types.ImplementationTypeSoftware, types.CodecIDHEVC).desc
	fi := types.NewFrameInfo(types.FourCCI420, 320, 240, types.Rational{Num: 30, Den: 1})

	params := DefaultEncodeParam(types.CodecIDHEVC, fi)
	require.NoError(t, params.ValidateEncode())
	require.NoError(t, desc.CheckEncode(params))

	params.CodecID = types.CodecIDAVC
	var unsupported types.ErrUnsupportedParameter
	require.ErrorAs(t, desc.CheckEncode(params), &unsupported)
	require.Equal(t, "CodecID", unsupported.Param)

	params = DefaultEncodeParam(types.CodecIDHEVC, fi.WithFourCC(types.FourCCNV12))
	require.ErrorAs(t, desc.CheckEncode(params), &unsupported)
	require.Equal(t, "FrameInfo.FourCC", unsupported.Param)

	params = DefaultEncodeParam(types.CodecIDHEVC, fi)
	params.IOPattern = types.IOPatternInVideoMemory
	require.ErrorAs(t, desc.CheckEncode(params), &unsupported)
	require.Equal(t, "IOPattern", unsupported.Param)

	params = DefaultEncodeParam(types.CodecIDHEVC, fi)
	params.RateControl.QP.Unset()
	require.ErrorAs(t, params.ValidateEncode(), &unsupported)
	require.Equal(t, "RateControl.QP", unsupported.Param)

	vppParams := DefaultVPPParam(fi, fi)
	require.NoError(t, vppParams.ValidateVPP())
	require.ErrorAs(t, desc.CheckVPP(vppParams), &unsupported)
	require.Equal(t, "VPP", unsupported.Param)
}
