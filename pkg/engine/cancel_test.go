package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCancellationController_InvokesOnce(t *testing.T) {
	var c CancellationController
	calls := 0
	c.StartSession(func() { calls++ })
	require.True(t, c.Active())

	require.True(t, c.CancelActive())
	require.False(t, c.CancelActive())
	require.Equal(t, 1, calls)
	require.False(t, c.Active())
}

func TestCancellationController_NoopWhenEmpty(t *testing.T) {
	var c CancellationController
	require.False(t, c.CancelActive())
}

func TestCancellationController_StartOverwrites(t *testing.T) {
	var c CancellationController
	first, second := 0, 0
	c.StartSession(func() { first++ })
	c.StartSession(func() { second++ })

	require.True(t, c.CancelActive())
	require.Equal(t, 0, first)
	require.Equal(t, 1, second)
}

func TestCancellationController_ReleaseIsScopedToToken(t *testing.T) {
	var c CancellationController
	old := c.StartSession(func() {})
	calls := 0
	c.StartSession(func() { calls++ })

	c.Release(old)
	require.True(t, c.Active())
	require.True(t, c.CancelActive())
	require.Equal(t, 1, calls)
}

func TestCancellationController_ConcurrentCancel(t *testing.T) {
	var c CancellationController
	var mu sync.Mutex
	calls := 0
	c.StartSession(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.CancelActive()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, calls)
}

func TestState_Predicates(t *testing.T) {
	require.True(t, StatePending.Active())
	require.True(t, StateStreaming.Active())
	require.False(t, StateIdle.Active())
	require.True(t, StateStopped.Terminal())
	require.True(t, StateFailed.Terminal())
	require.False(t, StateStreaming.Terminal())
	require.Equal(t, "streaming", StateStreaming.String())
}
