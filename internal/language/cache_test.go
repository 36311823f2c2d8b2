package language

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParser_CachesByNormalizedText(t *testing.T) {
	store := NewBoundedStore(10)
	p := NewParser(store)

	r1 := p.Parse("a( b )")
	r2 := p.Parse("a(b) # same query")
	require.NoError(t, r1.Err)
	require.Same(t, r1.Root, r2.Root)
	require.Equal(t, 1, store.Len())
}

func TestParser_CachesFailures(t *testing.T) {
	store := NewBoundedStore(10)
	p := NewParser(store)

	r1 := p.Parse("_bad")
	r2 := p.Parse("_bad")
	require.Error(t, r1.Err)
	require.Equal(t, r1.Err, r2.Err)
	require.Equal(t, 1, store.Len())
}

func TestBoundedStore_FirstSeenWins(t *testing.T) {
	store := NewBoundedStore(2)
	p := NewParser(store)
	p.Parse("a")
	p.Parse("b")
	p.Parse("c")

	_, ok := store.Load("a")
	require.True(t, ok)
	_, ok = store.Load("b")
	require.True(t, ok)
	_, ok = store.Load("c")
	require.False(t, ok)
	require.Equal(t, 2, store.Len())
}

func TestLRUStore_EvictsLeastRecentlyUsed(t *testing.T) {
	store := NewLRUStore(2)
	p := NewParser(store)
	p.Parse("a")
	p.Parse("b")
	p.Parse("a")
	p.Parse("c")

	_, ok := store.Load("a")
	require.True(t, ok)
	_, ok = store.Load("b")
	require.False(t, ok)
	_, ok = store.Load("c")
	require.True(t, ok)
}

func TestParser_NoStore(t *testing.T) {
	p := NewParser(nil)
	r1 := p.Parse("a(b)")
	r2 := p.Parse("a(b)")
	require.NotSame(t, r1.Root, r2.Root)
	require.Equal(t, r1.Root, r2.Root)
}

func TestParser_ConcurrentParsesShareResult(t *testing.T) {
	p := NewParser(NewBoundedStore(0))
	var wg sync.WaitGroup
	roots := make([]*Field, 16)
	for i := range roots {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			roots[i] = p.Parse("x(y(z))").Root
		}(i)
	}
	wg.Wait()
	for _, r := range roots[1:] {
		require.Same(t, roots[0], r)
	}
}
