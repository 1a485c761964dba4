package bitstream

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avsession/types"
)

func TestEmulationPrevention(t *testing.T) {
	for _, tc := range []struct {
		in  []byte
		out []byte
	}{
		{[]byte{0, 0, 0}, []byte{0, 0, 3, 0}},
		{[]byte{0, 0, 1}, []byte{0, 0, 3, 1}},
		{[]byte{0, 0, 4}, []byte{0, 0, 4}},
		{[]byte{0, 0, 3, 0, 0, 2}, []byte{0, 0, 3, 3, 0, 0, 3, 2}},
	} {
		escaped := AddEmulationPrevention(nil, tc.in)
		require.Equal(t, tc.out, escaped)
		require.Equal(t, tc.in, RemoveEmulationPrevention(nil, escaped))
		require.Equal(t, -1, FindStartCode(escaped, 0))
	}
}

func TestUnitsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var (
		stream   []byte
		expected []Unit
	)
	for i := range 50 {
		payload := make([]byte, rng.Intn(300))
		for j := range payload {
			// lots of zeros to stress the escaping
			if rng.Intn(3) == 0 {
				payload[j] = byte(rng.Intn(256))
			}
		}
		u := Unit{Type: byte(i % 4), Payload: payload}
		expected = append(expected, u)
		stream = AppendUnit(stream, u.Type, u.Payload)
	}

	// feed in odd-sized pieces
	buf := NewBuffer(0)
	var got []Unit
	for pos := 0; pos < len(stream); {
		n := min(rng.Intn(97)+1, len(stream)-pos)
		buf.Append(stream[pos : pos+n])
		pos += n
		for {
			u, ok, err := buf.NextUnit()
			require.NoError(t, err)
			if !ok {
				break
			}
			got = append(got, u)
		}
	}
	buf.SetEndOfStream()
	for {
		u, ok, err := buf.NextUnit()
		if errors.Is(err, types.ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		require.True(t, ok)
		got = append(got, u)
	}

	require.Len(t, got, len(expected))
	for i := range expected {
		require.Equal(t, expected[i].Type, got[i].Type, "unit %d", i)
		require.True(t, bytes.Equal(expected[i].Payload, got[i].Payload), "unit %d", i)
	}
}

func TestNextUnitSkipsGarbage(t *testing.T) {
	stream := append([]byte{0xff, 0xfe}, AppendUnit(nil, 7, []byte{1, 2, 3})...)
	stream = append([]byte{0, 0, 0}, stream...)

	u, consumed, ok := NextUnit(stream, true)
	require.True(t, ok)
	require.Equal(t, len(stream), consumed)
	require.Equal(t, byte(7), u.Type)
	require.Equal(t, []byte{1, 2, 3}, u.Payload)

	_, _, ok = NextUnit(stream[:len(stream)-2], false)
	require.False(t, ok)
}

func TestBufferReadFrom(t *testing.T) {
	src := bytes.NewReader(AppendUnit(nil, 1, []byte("hello")))
	buf := NewBuffer(4)
	for {
		_, err := buf.ReadFrom(3, src.Read)
		if err != nil {
			break
		}
	}
	buf.SetEndOfStream()
	u, ok, err := buf.NextUnit()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(u.Payload))

	_, _, err = buf.NextUnit()
	require.ErrorIs(t, err, types.ErrEndOfStream)
}

func TestNextRawUnit(t *testing.T) {
	stream := []byte{0xff, 0, 0, 0, 1, 0x67, 1, 2, 0, 0, 1, 0x68, 3, 0, 0, 0, 1, 0x65, 4}

	raw, consumed, ok := NextRawUnit(stream, false)
	require.True(t, ok)
	require.Equal(t, []byte{0, 0, 1, 0x67, 1, 2}, raw)
	stream = stream[consumed:]

	raw, consumed, ok = NextRawUnit(stream, false)
	require.True(t, ok)
	require.Equal(t, []byte{0, 0, 1, 0x68, 3}, raw)
	stream = stream[consumed:]

	// the last unit is incomplete until the end of the stream
	_, consumed, ok = NextRawUnit(stream, false)
	require.False(t, ok)
	require.Equal(t, 1, consumed)
	stream = stream[consumed:]

	raw, _, ok = NextRawUnit(stream, true)
	require.True(t, ok)
	require.Equal(t, []byte{0, 0, 1, 0x65, 4}, raw)
}
