package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyInserter struct {
	callCount int
	failUntil int   // Insert fails until callCount reaches this; then succeeds.
	err       error // returned while failing; defaults to a transient error
}

func (f *flakyInserter) Insert(context.Context, river.JobArgs, *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	f.callCount++
	if f.callCount < f.failUntil {
		if f.err != nil {
			return nil, f.err
		}

		return nil, errors.New("connection refused")
	}

	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: int64(f.callCount)}}, nil
}

func TestRetryingForwardJobInserter(t *testing.T) {
	ctx := context.Background()
	args := ForwardArgs{MessageID: "m-1"}

	t.Run("succeeds after retries", func(t *testing.T) {
		inner := &flakyInserter{failUntil: 3}
		metrics := &mockMetrics{}
		r := NewRetryingForwardJobInserter(inner, RetryingForwardJobInserterConfig{
			MaxRetries:     5,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     10 * time.Millisecond,
			Metrics:        metrics,
		})

		res, err := r.Insert(ctx, args, nil)

		require.NoError(t, err)
		assert.Equal(t, int64(3), res.Job.ID)
		assert.Equal(t, 3, inner.callCount, "2 failures + 1 success")
		assert.Equal(t, []string{"enqueue_retry", "enqueue_retry"}, metrics.jobs)
	})

	t.Run("returns last error when retries are exhausted", func(t *testing.T) {
		inner := &flakyInserter{failUntil: 99}
		r := NewRetryingForwardJobInserter(inner, RetryingForwardJobInserterConfig{
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		})

		_, err := r.Insert(ctx, args, nil)

		require.Error(t, err)
		assert.Equal(t, 3, inner.callCount, "1 initial + 2 retries")
	})

	t.Run("zero retries calls once", func(t *testing.T) {
		inner := &flakyInserter{failUntil: 2}
		r := NewRetryingForwardJobInserter(inner, RetryingForwardJobInserterConfig{InitialBackoff: time.Hour})

		_, err := r.Insert(ctx, args, nil)

		require.Error(t, err)
		assert.Equal(t, 1, inner.callCount)
	})

	t.Run("context cancel during backoff", func(t *testing.T) {
		inner := &flakyInserter{failUntil: 99}
		r := NewRetryingForwardJobInserter(inner, RetryingForwardJobInserterConfig{
			MaxRetries:     5,
			InitialBackoff: time.Hour,
			MaxBackoff:     time.Hour,
		})

		cancelCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		_, err := r.Insert(cancelCtx, args, nil)

		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, inner.callCount)
	})

	t.Run("context errors from the insert are not retried", func(t *testing.T) {
		inner := &flakyInserter{failUntil: 99, err: fmt.Errorf("insert: %w", context.DeadlineExceeded)}
		metrics := &mockMetrics{}
		r := NewRetryingForwardJobInserter(inner, RetryingForwardJobInserterConfig{
			MaxRetries:     3,
			InitialBackoff: time.Millisecond,
			Metrics:        metrics,
		})

		_, err := r.Insert(ctx, args, nil)

		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, inner.callCount)
		assert.Empty(t, metrics.jobs)
	})
}

func TestEnqueueBackoff_delay(t *testing.T) {
	b := enqueueBackoff{retries: 5, initial: 200 * time.Millisecond, maxWait: time.Second}

	tests := []struct {
		retry int
		ceil  time.Duration
	}{
		{retry: 1, ceil: 200 * time.Millisecond},
		{retry: 2, ceil: 400 * time.Millisecond},
		{retry: 3, ceil: 800 * time.Millisecond},
		{retry: 4, ceil: time.Second},
		{retry: 5, ceil: time.Second},
	}

	for _, tt := range tests {
		d := b.delay(tt.retry)
		assert.GreaterOrEqual(t, d, tt.ceil/2, "retry %d", tt.retry)
		assert.Less(t, d, tt.ceil, "retry %d", tt.retry)
	}
}

func TestJitter(t *testing.T) {
	for range 50 {
		d := jitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.Less(t, d, 100*time.Millisecond)
	}

	assert.Equal(t, time.Duration(1), jitter(1))
}
