package device

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avsession/types"
)

type dummyContext struct {
	*Software
	closeCount *int
}

func (d dummyContext) Close(context.Context) error {
	*d.closeCount++
	return nil
}

func TestManagerExclusive(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	closeCount := 0
	openCount := 0
	open := func(context.Context, types.HardwareDeviceType, types.HardwareDeviceName) (Context, error) {
		openCount++
		return dummyContext{Software: NewSoftware("x"), closeCount: &closeCount}, nil
	}

	l0, err := m.Lease(ctx, "impl", types.HardwareDeviceTypeVAAPI, "/dev/dri/renderD128", false, open)
	require.NoError(t, err)

	_, err = m.Lease(ctx, "impl", types.HardwareDeviceTypeVAAPI, "/dev/dri/renderD128", false, open)
	var allocErr types.ErrAllocationFailed
	require.ErrorAs(t, err, &allocErr)
	require.ErrorIs(t, err, ErrBusy)

	// another device is fine
	l1, err := m.Lease(ctx, "impl", types.HardwareDeviceTypeVAAPI, "/dev/dri/renderD129", false, open)
	require.NoError(t, err)
	require.Equal(t, 2, m.NumOpened(ctx))

	require.NoError(t, l0.Release(ctx))
	require.NoError(t, l0.Release(ctx))
	require.NoError(t, l1.Release(ctx))
	require.Equal(t, 2, closeCount)
	require.Equal(t, 0, m.NumOpened(ctx))

	l2, err := m.Lease(ctx, "impl", types.HardwareDeviceTypeVAAPI, "/dev/dri/renderD128", false, open)
	require.NoError(t, err)
	require.NoError(t, l2.Release(ctx))
	require.Equal(t, 3, openCount)
}

func TestManagerShared(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	closeCount := 0
	open := func(context.Context, types.HardwareDeviceType, types.HardwareDeviceName) (Context, error) {
		return dummyContext{Software: NewSoftware(""), closeCount: &closeCount}, nil
	}

	l0, err := m.Lease(ctx, "soft", types.HardwareDeviceTypeNone, "", true, open)
	require.NoError(t, err)
	l1, err := m.Lease(ctx, "soft", types.HardwareDeviceTypeNone, "", true, open)
	require.NoError(t, err)
	require.Equal(t, 1, m.NumOpened(ctx))

	require.NoError(t, l0.Release(ctx))
	require.Equal(t, 0, closeCount)
	require.NoError(t, l1.Release(ctx))
	require.Equal(t, 1, closeCount)
}

func TestManagerOpenFailure(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	errNoDevice := errors.New("no such device")
	_, err := m.Lease(ctx, "impl", types.HardwareDeviceTypeCUDA, "0", false, func(context.Context, types.HardwareDeviceType, types.HardwareDeviceName) (Context, error) {
		return nil, errNoDevice
	})
	require.ErrorIs(t, err, errNoDevice)
	require.Equal(t, 0, m.NumOpened(ctx))
}
