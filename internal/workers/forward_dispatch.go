// Package workers provides River job workers (certificate token forwarding).
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/eon/kore-relay/internal/observability"
	"github.com/eon/kore-relay/internal/service"
)

// ForwardWorker delivers one certificate token to the digital certificate app.
type ForwardWorker struct {
	river.WorkerDefaults[service.ForwardArgs]

	sender  service.ProcessMessageSender
	metrics observability.RelayMetrics
}

// NewForwardWorker creates a worker that uses the given sender.
// metrics may be nil when metrics are disabled.
func NewForwardWorker(sender service.ProcessMessageSender, metrics observability.RelayMetrics) *ForwardWorker {
	return &ForwardWorker{sender: sender, metrics: metrics}
}

// Timeout limits how long a single forward attempt can run.
func (w *ForwardWorker) Timeout(*river.Job[service.ForwardArgs]) time.Duration {
	return service.ForwardJobTimeout
}

// Work POSTs the certificate token once. A failed attempt is returned so River retries it;
// a 4xx other than 408/429 cancels the job since repeating it cannot succeed.
func (w *ForwardWorker) Work(ctx context.Context, job *river.Job[service.ForwardArgs]) error {
	args := job.Args
	ctx = observability.WithMessageID(ctx, args.MessageID)

	err := w.sender.ProcessMessage(ctx, args.Request())
	if err == nil {
		w.record(ctx, "success")

		slog.InfoContext(ctx, "forward job: certificate token delivered",
			"transfer_hash", args.TransferHash,
			"attempt", job.Attempt,
		)

		return nil
	}

	var statusErr *service.StatusError
	if errors.As(err, &statusErr) && !statusErr.Retryable() {
		w.record(ctx, "failed_final")

		slog.ErrorContext(ctx, "forward job: rejected by digital certificate app, cancelling",
			"transfer_hash", args.TransferHash,
			"status_code", statusErr.StatusCode,
			"error", err,
		)

		return river.JobCancel(fmt.Errorf("forward certificate token: %w", err))
	}

	if job.Attempt >= job.MaxAttempts {
		w.record(ctx, "failed_final")

		slog.ErrorContext(ctx, "forward job: failed after max attempts",
			"transfer_hash", args.TransferHash,
			"attempt", job.Attempt,
			"error", err,
		)

		return fmt.Errorf("forward certificate token (final attempt): %w", err)
	}

	w.record(ctx, "retry")

	slog.WarnContext(ctx, "forward job: delivery failed, will retry",
		"transfer_hash", args.TransferHash,
		"attempt", job.Attempt,
		"max_attempts", job.MaxAttempts,
		"error", err,
	)

	return fmt.Errorf("forward certificate token: %w", err)
}

func (w *ForwardWorker) record(ctx context.Context, status string) {
	if w.metrics != nil {
		w.metrics.RecordForwardJob(ctx, status)
	}
}
