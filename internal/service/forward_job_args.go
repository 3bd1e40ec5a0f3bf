package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/eon/kore-relay/internal/models"
	"github.com/eon/kore-relay/internal/observability"
)

const certificateForwardKind = "certificate_forward"

// ForwardQueueName is the River queue forward jobs run on.
const ForwardQueueName = "certificate_forward"

// ForwardArgs is the job payload for one certificate token delivery.
// Only message_id and transaction_hash are used for River uniqueness (river:"unique")
// so a redelivered message does not enqueue a second forward inside the unique period.
type ForwardArgs struct {
	MessageID        string `json:"message_id"        river:"unique"`
	TransferHash     string `json:"transfer_hash"`
	TransactionHash  string `json:"transaction_hash"  river:"unique"`
	CertificateToken string `json:"certificate_token"`
}

// Kind returns the River job kind.
func (ForwardArgs) Kind() string { return certificateForwardKind }

// Request returns the downstream body for the job.
func (a ForwardArgs) Request() models.ProcessMessageRequest {
	return models.ProcessMessageRequest{TransactionHash: a.TransactionHash, CT: a.CertificateToken}
}

var _ river.JobArgs = ForwardArgs{}

// ForwardJobInserter inserts forward jobs (e.g. River client).
type ForwardJobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// QueueForwarder implements Forwarder by enqueueing one River job per forward; the
// forward worker delivers it and River retries failed attempts.
type QueueForwarder struct {
	inserter    ForwardJobInserter
	maxAttempts int
	metrics     observability.RelayMetrics
}

// NewQueueForwarder creates a forwarder that enqueues jobs with maxAttempts.
// metrics may be nil when metrics are disabled.
func NewQueueForwarder(inserter ForwardJobInserter, maxAttempts int, metrics observability.RelayMetrics) *QueueForwarder {
	return &QueueForwarder{inserter: inserter, maxAttempts: maxAttempts, metrics: metrics}
}

// uniqueByPeriod matches the transaction TTL: after it the transaction is gone anyway.
const uniqueByPeriod = models.TransactionTTL

// Forward enqueues a forward job and reports ForwardEnqueued.
func (f *QueueForwarder) Forward(ctx context.Context, req ForwardRequest) (ForwardResult, error) {
	args := ForwardArgs{
		MessageID:        req.MessageID,
		TransferHash:     req.TransferHash,
		TransactionHash:  req.Body.TransactionHash,
		CertificateToken: req.Body.CT,
	}

	res, err := f.inserter.Insert(ctx, args, &river.InsertOpts{
		Queue:       ForwardQueueName,
		MaxAttempts: f.maxAttempts,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: uniqueByPeriod,
		},
	})
	if err != nil {
		if f.metrics != nil {
			f.metrics.RecordForwardJob(ctx, "enqueue_failed")
		}

		return ForwardEnqueued, fmt.Errorf("enqueue forward job: %w", err)
	}

	if f.metrics != nil {
		f.metrics.RecordForwardJob(ctx, "enqueued")
	}

	if res != nil && res.UniqueSkippedAsDuplicate && res.Job != nil {
		slog.DebugContext(ctx, "forward job already enqueued",
			"transfer_hash", req.TransferHash,
			"job_id", res.Job.ID,
		)
	}

	return ForwardEnqueued, nil
}

// ForwardJobTimeout is the max duration for a single forward attempt run by a worker.
const ForwardJobTimeout = 30 * time.Second
