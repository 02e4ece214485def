package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/stagegraph/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
}

func TestNewPool(t *testing.T) {
	processor := func(_ context.Context, _ testWork) error { return nil }

	pool := NewPool(5, 100, processor)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool = NewPool(0, 0, processor)
	assert.Equal(t, 10, pool.workers)
	assert.Equal(t, 1000, pool.queueSize)

	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[testWork](5, 100, nil)
	})
}

func TestPool_SentinelErrors(t *testing.T) {
	processor := func(_ context.Context, _ testWork) error { return nil }

	t.Run("submit before start", func(t *testing.T) {
		pool := NewPool(2, 10, processor)
		assert.ErrorIs(t, pool.Submit(testWork{id: 1}), ErrPoolNotStarted)
		assert.ErrorIs(t, pool.SubmitWait(context.Background(), testWork{id: 1}), ErrPoolNotStarted)
	})

	t.Run("start twice", func(t *testing.T) {
		pool := NewPool(2, 10, processor)
		require.NoError(t, pool.Start(context.Background()))
		defer pool.Stop(time.Second)
		assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)
	})

	t.Run("submit after stop", func(t *testing.T) {
		pool := NewPool(2, 10, processor)
		require.NoError(t, pool.Start(context.Background()))
		require.NoError(t, pool.Stop(time.Second))
		assert.ErrorIs(t, pool.Submit(testWork{id: 1}), ErrPoolStopped)
		assert.ErrorIs(t, pool.SubmitWait(context.Background(), testWork{id: 1}), ErrPoolStopped)
	})
}

func TestPool_ProcessesAllWork(t *testing.T) {
	var processed atomic.Int64
	pool := NewPool(3, 10, func(_ context.Context, _ testWork) error {
		processed.Add(1)
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 20; i++ {
		require.NoError(t, pool.SubmitWait(context.Background(), testWork{id: i}))
	}

	require.NoError(t, pool.Stop(5*time.Second))
	assert.Equal(t, int64(20), processed.Load())
	assert.Equal(t, int64(20), pool.Stats().Submitted)
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(release)
		_ = pool.Stop(time.Second)
	}()

	dropped := 0
	for i := 0; i < 5; i++ {
		if errors.Is(pool.Submit(testWork{id: i}), ErrQueueFull) {
			dropped++
		}
	}

	assert.GreaterOrEqual(t, dropped, 3)
	assert.Equal(t, int64(dropped), pool.Stats().Dropped)
}

func TestPool_SubmitWaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(release)
		_ = pool.Stop(time.Second)
	}()

	// One item in flight, one queued; the next submit has to wait.
	require.NoError(t, pool.SubmitWait(context.Background(), testWork{id: 1}))
	require.Eventually(t, func() bool { return pool.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.SubmitWait(context.Background(), testWork{id: 2}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.SubmitWait(ctx, testWork{id: 3})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_ProcessingErrorsAndPanics(t *testing.T) {
	pool := NewPool(2, 10, func(_ context.Context, work testWork) error {
		if work.fail {
			return errors.New("simulated error")
		}
		if work.id < 0 {
			panic("boom")
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.SubmitWait(context.Background(), testWork{id: i, fail: i%2 == 0}))
	}
	require.NoError(t, pool.SubmitWait(context.Background(), testWork{id: -1}))

	require.NoError(t, pool.Stop(5*time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(11), stats.Processed)
	assert.Equal(t, int64(6), stats.Failed)
}

func TestTaskPool(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewTaskPool(2, 4, WithMetricsRegistry[Task](registry, "test_tasks"))
	require.NoError(t, pool.Start(context.Background()))

	var wg sync.WaitGroup
	var ran atomic.Int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, pool.SubmitWait(context.Background(), func(context.Context) error {
			defer wg.Done()
			ran.Add(1)
			return nil
		}))
	}
	wg.Wait()
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, int64(8), ran.Load())

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["test_tasks_submitted_total"])
	assert.True(t, names["test_tasks_processed_total"])
}
