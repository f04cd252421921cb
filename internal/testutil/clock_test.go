package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	c := NewFakeClock(time.Time{})
	assert.Equal(t, Epoch, c.Now())
	assert.Zero(t, c.Elapsed())
}

func TestFakeClock_SleepAdvances(t *testing.T) {
	c := NewFakeClock(time.Time{})
	ctx := context.Background()

	require.NoError(t, c.Sleep(ctx, 2*time.Second))
	require.NoError(t, c.Sleep(ctx, 500*time.Millisecond))

	assert.Equal(t, 2500*time.Millisecond, c.Elapsed())
	assert.Equal(t, []time.Duration{2 * time.Second, 500 * time.Millisecond}, c.Sleeps())
}

func TestFakeClock_SleepHonoursCancelledContext(t *testing.T) {
	c := NewFakeClock(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, c.Sleep(ctx, time.Second), context.Canceled)
	assert.Zero(t, c.Elapsed())
}

func TestFakeClock_HooksFireOnceInOrder(t *testing.T) {
	c := NewFakeClock(time.Time{})
	var fired []string
	c.At(3*time.Second, func() { fired = append(fired, "three") })
	c.At(1*time.Second, func() { fired = append(fired, "one") })

	ctx := context.Background()
	require.NoError(t, c.Sleep(ctx, time.Second))
	assert.Equal(t, []string{"one"}, fired)

	require.NoError(t, c.Sleep(ctx, 5*time.Second))
	require.NoError(t, c.Sleep(ctx, 5*time.Second))
	assert.Equal(t, []string{"one", "three"}, fired)
}

func TestFakeClock_HookAlreadyDueFiresImmediately(t *testing.T) {
	c := NewFakeClock(time.Time{})
	c.Advance(10 * time.Second)

	fired := false
	c.At(time.Second, func() { fired = true })
	assert.True(t, fired)
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	c := NewFakeClock(time.Time{})
	const workers = 50

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = c.Sleep(context.Background(), time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*time.Millisecond, c.Elapsed())
	assert.Len(t, c.Sleeps(), workers)
}
