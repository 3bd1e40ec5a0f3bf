package workers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/eon/kore-relay/internal/observability"
	"github.com/eon/kore-relay/internal/service"
)

// ErrorHandler logs job errors and panics with the certificate message they belong to.
type ErrorHandler struct {
	// Metrics may be nil.
	Metrics observability.RelayMetrics
}

var _ river.ErrorHandler = (*ErrorHandler)(nil)

// HandleError is called when a job returns an error.
func (h *ErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	ctx = jobContext(ctx, job)

	slog.DebugContext(ctx, "job failed",
		"job_kind", job.Kind,
		"job_id", job.ID,
		"attempt", job.Attempt,
		"max_attempts", job.MaxAttempts,
		"error", err,
	)

	// Return nil to use default retry behavior
	return nil
}

// HandlePanic is called when a job panics. The attempt counts as failed and is retried.
func (h *ErrorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	ctx = jobContext(ctx, job)

	slog.ErrorContext(ctx, "job panicked",
		"job_kind", job.Kind,
		"job_id", job.ID,
		"attempt", job.Attempt,
		"panic_value", panicVal,
		"stack_trace", trace,
	)

	if h.Metrics != nil && job.Kind == (service.ForwardArgs{}).Kind() {
		status := "retry"
		if job.Attempt >= job.MaxAttempts {
			status = "failed_final"
		}

		h.Metrics.RecordForwardJob(ctx, status)
	}

	return nil
}

// jobContext adds the certificate msgId of a forward job to ctx for log correlation.
func jobContext(ctx context.Context, job *rivertype.JobRow) context.Context {
	if job.Kind != (service.ForwardArgs{}).Kind() {
		return ctx
	}

	var args service.ForwardArgs
	if err := json.Unmarshal(job.EncodedArgs, &args); err != nil || args.MessageID == "" {
		return ctx
	}

	return observability.WithMessageID(ctx, args.MessageID)
}
