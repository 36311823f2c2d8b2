package reqid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx, id := NewContext(context.Background())
	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, id, got)

	_, ok = FromContext(context.Background())
	require.False(t, ok, "unexpected id in empty context")
}

func TestWithID(t *testing.T) {
	got, ok := FromContext(WithID(context.Background(), 42))
	require.True(t, ok)
	require.Equal(t, int64(42), got)
}
