package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/eon/kore-relay/internal/observability"
)

const defaultEnqueueBackoff = 200 * time.Millisecond

// RetryingForwardJobInserter repeats forward job inserts that fail while Postgres is briefly
// unavailable (failover, exhausted pool). Errors caused by the caller's context are returned at once.
type RetryingForwardJobInserter struct {
	inner   ForwardJobInserter
	backoff enqueueBackoff
	metrics observability.RelayMetrics
}

// RetryingForwardJobInserterConfig holds configuration for the retrying inserter.
type RetryingForwardJobInserterConfig struct {
	// MaxRetries is how many times a failed insert is repeated; 0 inserts once.
	MaxRetries int
	// InitialBackoff is the wait before the first retry (default 200ms). It doubles per retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration
	// Metrics may be nil.
	Metrics observability.RelayMetrics
}

// enqueueBackoff is a doubling schedule capped at maxWait, jittered into [d/2, d).
type enqueueBackoff struct {
	retries int
	initial time.Duration
	maxWait time.Duration
}

// delay returns the wait before retry n (1-based).
func (b enqueueBackoff) delay(n int) time.Duration {
	d := b.initial
	for i := 1; i < n && d < b.maxWait; i++ {
		d *= 2
	}

	return jitter(min(d, b.maxWait))
}

// NewRetryingForwardJobInserter wraps inner with retries.
func NewRetryingForwardJobInserter(inner ForwardJobInserter, cfg RetryingForwardJobInserterConfig) *RetryingForwardJobInserter {
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = defaultEnqueueBackoff
	}

	return &RetryingForwardJobInserter{
		inner: inner,
		backoff: enqueueBackoff{
			retries: max(cfg.MaxRetries, 0),
			initial: initial,
			maxWait: max(cfg.MaxBackoff, initial),
		},
		metrics: cfg.Metrics,
	}
}

// Insert inserts the job, retrying failed inserts per the backoff schedule.
func (r *RetryingForwardJobInserter) Insert(
	ctx context.Context, args river.JobArgs, opts *river.InsertOpts,
) (*rivertype.JobInsertResult, error) {
	res, err := r.inner.Insert(ctx, args, opts)

	for retry := 1; err != nil && retry <= r.backoff.retries; retry++ {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}

		wait := r.backoff.delay(retry)

		if r.metrics != nil {
			r.metrics.RecordForwardJob(ctx, "enqueue_retry")
		}

		slog.WarnContext(ctx, "forward job insert failed, retrying",
			"message_id", forwardMessageID(args),
			"retry", retry,
			"max_retries", r.backoff.retries,
			"wait", wait,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("forward job insert abandoned: %w", ctx.Err())
		case <-time.After(wait):
		}

		res, err = r.inner.Insert(ctx, args, opts)
	}

	if err != nil {
		return nil, err
	}

	return res, nil
}

func forwardMessageID(args river.JobArgs) string {
	if fa, ok := args.(ForwardArgs); ok {
		return fa.MessageID
	}

	return ""
}

// jitter returns a duration in [d/2, d).
func jitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}

	return half + rand.N(half)
}

var _ ForwardJobInserter = (*RetryingForwardJobInserter)(nil)
