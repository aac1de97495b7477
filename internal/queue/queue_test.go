package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool(t *testing.T) {
	logger := logrus.New()
	p := NewPool(context.Background(), 3, logger)
	assert.NotNil(t, p)
	assert.Equal(t, 3, p.Concurrency())
	assert.False(t, p.IsClosed())

	p = NewPool(context.Background(), 0, logger)
	assert.Greater(t, p.Concurrency(), 0)
}

func TestPool_RunsAllTasks(t *testing.T) {
	p := NewPool(context.Background(), 4, logrus.New())

	var done atomic.Int64
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(func(ctx context.Context) error {
			done.Add(1)
			return nil
		}))
	}

	require.NoError(t, p.Drain())
	assert.Equal(t, int64(50), done.Load())
	assert.Equal(t, 50, p.Submitted())
	assert.Equal(t, 0, p.Len())
}

func TestPool_Backpressure(t *testing.T) {
	const concurrency = 3
	p := NewPool(context.Background(), concurrency, logrus.New())

	var running, maxRunning atomic.Int64
	for i := 0; i < 30; i++ {
		err := p.Submit(func(ctx context.Context) error {
			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
			return nil
		})
		require.NoError(t, err)
		assert.LessOrEqual(t, p.Len(), concurrency)
	}

	require.NoError(t, p.Drain())
	assert.LessOrEqual(t, maxRunning.Load(), int64(concurrency))
}

func TestPool_SubmitBlocksAtCapacity(t *testing.T) {
	p := NewPool(context.Background(), 1, logrus.New())
	release := make(chan struct{})

	require.NoError(t, p.Submit(func(ctx context.Context) error {
		<-release
		return nil
	}))

	submitted := make(chan struct{})
	go func() {
		_ = p.Submit(func(ctx context.Context) error { return nil })
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("Submit returned while the pool was full")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Submit did not resume after a slot freed up")
	}
	require.NoError(t, p.Drain())
}

func TestPool_FirstErrorWins(t *testing.T) {
	p := NewPool(context.Background(), 2, logrus.New())
	boom := errors.New("write failed")

	require.NoError(t, p.Submit(func(ctx context.Context) error { return boom }))

	// The failure cancels the pool context.
	select {
	case <-p.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("pool context was not cancelled")
	}
	assert.Error(t, p.Submit(func(ctx context.Context) error { return nil }))

	assert.ErrorIs(t, p.Drain(), boom)
}

func TestPool_Closed(t *testing.T) {
	p := NewPool(context.Background(), 2, logrus.New())
	require.NoError(t, p.Drain())
	assert.True(t, p.IsClosed())
	assert.Equal(t, ErrQueueClosed, p.Submit(func(ctx context.Context) error { return nil }))
}

func TestPool_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(ctx, 2, logrus.New())
	cancel()

	assert.ErrorIs(t, p.Submit(func(ctx context.Context) error { return nil }), context.Canceled)
	assert.NoError(t, p.Drain())
}

func TestPool_TasksSeeCancellation(t *testing.T) {
	p := NewPool(context.Background(), 2, logrus.New())
	boom := errors.New("boom")

	var wg sync.WaitGroup
	wg.Add(1)
	var sawCancel atomic.Bool
	require.NoError(t, p.Submit(func(ctx context.Context) error {
		defer wg.Done()
		select {
		case <-ctx.Done():
			sawCancel.Store(true)
		case <-time.After(time.Second):
		}
		return nil
	}))
	require.NoError(t, p.Submit(func(ctx context.Context) error { return boom }))

	wg.Wait()
	assert.True(t, sawCancel.Load())
	assert.ErrorIs(t, p.Drain(), boom)
}
