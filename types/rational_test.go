package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRationalFromString(t *testing.T) {
	for _, tc := range []struct {
		Input   string
		Result  Rational
		IsError bool
	}{
		{Input: "30", Result: Rational{30, 1}},
		{Input: "30/1", Result: Rational{30, 1}},
		{Input: "30000/1001", Result: Rational{30000, 1001}},
		{Input: "~23.976", Result: Rational{24000, 1001}},
		{Input: "~29.97", Result: Rational{30000, 1001}},
		{Input: "~25", Result: Rational{25, 1}},
		{Input: "~59.94", Result: Rational{60000, 1001}},
		{Input: "0.33333", Result: Rational{33333, 100000}},
		{Input: "12.5", Result: Rational{25, 2}},
		{Input: "0/1", Result: Rational{0, 1}},
		{Input: "1/0", IsError: true},
		{Input: "", IsError: true},
		{Input: "invalid", IsError: true},
		{Input: "10/invalid", IsError: true},
	} {
		t.Run(tc.Input, func(t *testing.T) {
			r, err := RationalFromString(tc.Input)
			if tc.IsError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.Result, *r)
		})
	}
}

func TestRationalYAML(t *testing.T) {
	var r Rational
	require.NoError(t, r.UnmarshalYAML([]byte(`"30/1"`)))
	require.Equal(t, Rational{Num: 30, Den: 1}, r)
	require.NoError(t, r.UnmarshalYAML([]byte(`25`)))
	require.Equal(t, Rational{Num: 25, Den: 1}, r)
	require.Error(t, r.UnmarshalYAML([]byte(`x/y`)))
	require.True(t, r.IsPositive())
	require.Equal(t, 25.0, r.Float64())

	b, err := Rational{Num: 30000, Den: 1001}.MarshalYAML()
	require.NoError(t, err)
	require.Equal(t, `"30000/1001"`, string(b))
}

func TestFrameTimestamps(t *testing.T) {
	ntsc := Rational{Num: 30000, Den: 1001}
	require.Equal(t, int64(3003), FrameDuration(ntsc))
	require.Equal(t, int64(30030), PTSForOrder(10, ntsc))
	require.Zero(t, PTSForOrder(10, Rational{}))
	require.Equal(t, int64(ClockRate), PTSForOrder(25, Rational{Num: 25, Den: 1}))
}
