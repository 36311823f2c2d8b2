package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type ping struct{ N int }
type pong struct{}

func TestPublishSubscribe(t *testing.T) {
	Use(New())
	t.Cleanup(func() { Use(nil) })

	var first, second []int
	unsubFirst := Subscribe(func(_ context.Context, e ping) { first = append(first, e.N) })
	unsubSecond := Subscribe(func(_ context.Context, e ping) { second = append(second, e.N) })
	defer unsubSecond()

	Publish(context.Background(), ping{N: 1})
	Publish(context.Background(), pong{})
	unsubFirst()
	unsubFirst()
	Publish(context.Background(), ping{N: 2})

	require.Equal(t, []int{1}, first)
	require.Equal(t, []int{1, 2}, second)
}

func TestPublishWithoutBus(t *testing.T) {
	Use(nil)
	called := false
	unsub := Subscribe(func(context.Context, ping) { called = true })
	Publish(context.Background(), ping{})
	unsub()
	require.False(t, called)
}
