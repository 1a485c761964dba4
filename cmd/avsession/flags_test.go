package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avsession/types"
)

func TestSetupTimeout(t *testing.T) {
	flags, common := newFlagSet("decode", "")
	require.NoError(t, flags.Parse([]string{"--sw", "--timeout", "20ms", "-n", "7"}))
	require.Equal(t, 20*time.Millisecond, common.Timeout)

	ctx, cancelFn, cfg, err := common.setup()
	require.NoError(t, err)
	defer cancelFn()
	require.Equal(t, types.ImplementationTypeSoftware, cfg.Implementation.Type)
	require.Equal(t, uint64(7), cfg.Decode.NumFrames)

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(20*time.Millisecond), deadline, time.Second)
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("the context is not cancelled after the timeout")
	}
}

func TestSetupNoTimeout(t *testing.T) {
	flags, common := newFlagSet("decode", "")
	require.NoError(t, flags.Parse([]string{"--sw"}))
	ctx, cancelFn, _, err := common.setup()
	require.NoError(t, err)
	_, ok := ctx.Deadline()
	require.False(t, ok)
	cancelFn()
	require.Error(t, ctx.Err())
}

func TestSetupConflictingImplementation(t *testing.T) {
	flags, common := newFlagSet("decode", "")
	require.NoError(t, flags.Parse([]string{"--sw", "--hw"}))
	_, cancelFn, _, err := common.setup()
	defer cancelFn()
	require.ErrorIs(t, err, types.ErrConfiguration)
}
