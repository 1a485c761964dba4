package closuresignaler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClosureSignaler(t *testing.T) {
	ctx := context.Background()
	c := New()
	require.False(t, c.IsClosed())
	require.Nil(t, c.Reason())

	errFirst := errors.New("first")
	c.CloseWithReason(ctx, errFirst)
	c.CloseWithReason(ctx, errors.New("second"))
	c.Close(ctx)

	require.True(t, c.IsClosed())
	require.Equal(t, errFirst, c.Reason())
	<-c.CloseChan()
}
