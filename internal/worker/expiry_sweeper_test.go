package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockDeleter struct {
	calls atomic.Int32
	err   error
}

func (m *mockDeleter) DeleteExpired(context.Context) (int64, error) {
	m.calls.Add(1)

	return 3, m.err
}

func TestExpirySweeper_Start(t *testing.T) {
	t.Run("sweeps on startup and on every tick until cancelled", func(t *testing.T) {
		repo := &mockDeleter{}
		sweeper := NewExpirySweeper(repo, 5*time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		go func() {
			sweeper.Start(ctx)
			close(done)
		}()

		assert.Eventually(t, func() bool { return repo.calls.Load() >= 3 }, time.Second, time.Millisecond)

		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Start() did not return after cancel")
		}
	})

	t.Run("keeps running after a failed sweep", func(t *testing.T) {
		repo := &mockDeleter{err: errors.New("connection refused")}
		sweeper := NewExpirySweeper(repo, 5*time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go sweeper.Start(ctx)

		assert.Eventually(t, func() bool { return repo.calls.Load() >= 2 }, time.Second, time.Millisecond)
	})
}

func TestNewExpirySweeper_defaultInterval(t *testing.T) {
	sweeper := NewExpirySweeper(&mockDeleter{}, 0)

	assert.Equal(t, 10*time.Minute, sweeper.pollInterval)
}
