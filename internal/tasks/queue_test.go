package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestQueue_RunsAllAndDrains(t *testing.T) {
	q := New(2, time.Second, nil)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Submit("count", func(ctx context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	require.NoError(t, q.Close(context.Background()))
	assert.EqualValues(t, 10, n.Load())
}

func TestQueue_BoundsConcurrency(t *testing.T) {
	q := New(3, time.Second, nil)
	var running, peak atomic.Int32
	var mu sync.Mutex
	for i := 0; i < 12; i++ {
		q.Submit("busy", func(ctx context.Context) error {
			cur := running.Add(1)
			mu.Lock()
			if cur > peak.Load() {
				peak.Store(cur)
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}
	require.NoError(t, q.Close(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestQueue_LogsAndSwallowsFailures(t *testing.T) {
	log, logs := observed()
	q := New(1, time.Second, log)
	q.Submit("fails", func(ctx context.Context) error { return errors.New("boom") })
	q.Submit("panics", func(ctx context.Context) error { panic("kaboom") })
	var ran atomic.Bool
	q.Submit("after", func(ctx context.Context) error { ran.Store(true); return nil })
	require.NoError(t, q.Close(context.Background()))

	assert.True(t, ran.Load(), "queue must keep working after failures")
	assert.Equal(t, 1, logs.FilterMessage("task failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("task panicked").Len())
}

func TestQueue_TaskTimeout(t *testing.T) {
	q := New(1, 10*time.Millisecond, nil)
	errc := make(chan error, 1)
	q.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		errc <- ctx.Err()
		return ctx.Err()
	})
	require.NoError(t, q.Close(context.Background()))
	assert.ErrorIs(t, <-errc, context.DeadlineExceeded)
}

func TestQueue_SubmitAfterClose(t *testing.T) {
	q := New(1, 0, nil)
	require.NoError(t, q.Close(context.Background()))
	err := q.Submit("late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_CloseDeadlineCancelsOutstanding(t *testing.T) {
	q := New(1, 0, nil)
	started := make(chan struct{})
	q.Submit("stuck", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := q.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
