package cancel

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_CancelSignalsAndRemoves(t *testing.T) {
	r := NewRegistry(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Register("op-1", "U1", cancel))

	op, ok := r.Lookup("op-1")
	require.True(t, ok)
	require.Equal(t, "U1", op.OwnerID)

	require.True(t, r.Cancel("op-1"))
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	_, ok = r.Lookup("op-1")
	require.False(t, ok)
	require.False(t, r.Cancel("op-1"))
}

func TestRegistry_CancelAfterCompletion(t *testing.T) {
	r := NewRegistry(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Register("op-1", "U1", cancel))
	r.Unregister("op-1")

	require.False(t, r.Cancel("op-1"))
	require.NoError(t, ctx.Err())
}

func TestRegistry_UnknownID(t *testing.T) {
	r := NewRegistry(0)
	require.False(t, r.Cancel("nope"))
	r.Unregister("nope")
	require.Equal(t, 0, r.Len())
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := NewRegistry(2)
	noop := func() {}

	require.Error(t, r.Register("", "U1", noop))
	require.Error(t, r.Register("op-1", "U1", nil))

	require.NoError(t, r.Register("op-1", "U1", noop))
	require.Error(t, r.Register("op-1", "U1", noop))

	require.NoError(t, r.Register("op-2", "U1", noop))
	require.ErrorIs(t, r.Register("op-3", "U1", noop), ErrRegistryFull)

	r.Unregister("op-1")
	require.NoError(t, r.Register("op-3", "U1", noop))
}

func TestRegistry_ConcurrentCancelSignalsOnce(t *testing.T) {
	r := NewRegistry(0)
	var calls int
	var mu sync.Mutex
	require.NoError(t, r.Register("op-1", "U1", func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	results := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.Cancel("op-1")
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, calls)
}

func TestRegistry_ManyOperations(t *testing.T) {
	r := NewRegistry(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, r.Register(fmt.Sprintf("op-%d", i), "U1", func() {}))
	}
	require.Equal(t, 100, r.Len())
}
