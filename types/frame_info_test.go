package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameInfoValidate(t *testing.T) {
	valid := NewFrameInfo(FourCCI420, 320, 240, Rational{Num: 30, Den: 1})
	require.NoError(t, valid.Validate())
	require.Equal(t, Resolution{Width: 320, Height: 240}, valid.Size)
	require.Equal(t, ChromaFormatYUV420, valid.ChromaFormat)

	odd := NewFrameInfo(FourCCNV12, 1918, 1080, Rational{Num: 30000, Den: 1001})
	require.NoError(t, odd.Validate())
	require.Equal(t, Resolution{Width: 1920, Height: 1088}, odd.Size)
	require.Equal(t, Resolution{Width: 1918, Height: 1080}, odd.Visible())

	for name, mutate := range map[string]func(*FrameInfo){
		"FrameInfo.FourCC":       func(fi *FrameInfo) { fi.FourCC = MakeFourCC('A', 'B', 'C', 'D') },
		"FrameInfo.ChromaFormat": func(fi *FrameInfo) { fi.ChromaFormat = ChromaFormatYUV444 },
		"FrameInfo.Size":         func(fi *FrameInfo) { fi.Size.Width = 330 },
		"FrameInfo.ROI":          func(fi *FrameInfo) { fi.ROI.X = 16 },
		"FrameInfo.FrameRate":    func(fi *FrameInfo) { fi.FrameRate = Rational{} },
	} {
		t.Run(name, func(t *testing.T) {
			fi := valid
			mutate(&fi)
			err := fi.Validate()
			var unsupported ErrUnsupportedParameter
			require.True(t, errors.As(err, &unsupported), "%v", err)
			require.Equal(t, name, unsupported.Param)
		})
	}
}

func TestFourCC(t *testing.T) {
	for _, fourCC := range FourCCs() {
		parsed, err := ParseFourCC(fourCC.String())
		require.NoError(t, err)
		require.Equal(t, fourCC, parsed)
	}
	require.Equal(t, "NV12", FourCCNV12.String())
	require.Equal(t, uint8(10), FourCCP010.BitDepth())
	require.Equal(t, ChromaFormatYUV422, FourCCYUY2.ChromaFormat())

	var f FourCC
	require.NoError(t, f.UnmarshalYAML([]byte(`"i420"`)))
	require.Equal(t, FourCCI420, f)
	require.Error(t, f.UnmarshalYAML([]byte(`rgb24`)))
}

func TestIOPattern(t *testing.T) {
	p, err := ParseIOPattern("in_system|out_video")
	require.NoError(t, err)
	require.Equal(t, MemoryTypeSystem, p.In())
	require.Equal(t, MemoryTypeVideo, p.Out())
	require.Equal(t, "in_system|out_video", p.String())

	_, err = ParseIOPattern("in_system|in_video")
	require.Error(t, err)
	_, err = ParseIOPattern("sideways")
	require.Error(t, err)
}

func TestErrors(t *testing.T) {
	require.ErrorIs(t, ErrNoMatchingImplementation, ErrConfiguration)
	require.ErrorIs(t, ErrIO{Op: "read", Err: ErrEndOfStream}, ErrEndOfStream)
	require.True(t, IsInvalidAccess(errors.Join(errors.New("x"), ErrInvalidAccess{Reason: "y"})))
	require.True(t, IsCancelled(ErrCancelled{}))
	require.False(t, IsCancelled(ErrEndOfStream))
}

func TestAPIVersion(t *testing.T) {
	v, err := ParseAPIVersion("2.9")
	require.NoError(t, err)
	require.True(t, v.AtLeast(APIVersion{Major: 2, Minor: 5}))
	require.False(t, v.AtLeast(APIVersion{Major: 3}))
}
