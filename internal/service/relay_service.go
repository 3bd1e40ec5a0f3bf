package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eon/kore-relay/internal/envelope"
	"github.com/eon/kore-relay/internal/models"
	"github.com/eon/kore-relay/internal/observability"
	"github.com/eon/kore-relay/internal/relayerrors"
)

// Outcome is what happened to one inbound certificate message.
type Outcome string

// Outcomes; the string values are metric labels.
const (
	OutcomeForwarded          Outcome = "forwarded"
	OutcomeEnqueued           Outcome = "enqueued"
	OutcomeIgnored            Outcome = "ignored"
	OutcomeDuplicate          Outcome = "duplicate"
	OutcomeMalformed          Outcome = "malformed"
	OutcomeTransactionMissing Outcome = "transaction_missing"
	OutcomeLookupFailed       Outcome = "lookup_failed"
	OutcomeForwardFailed      Outcome = "forward_failed"
)

// String returns the outcome label.
func (o Outcome) String() string { return string(o) }

// Dropped reports whether the message was a SUCCESS that could not be forwarded.
func (o Outcome) Dropped() bool {
	switch o {
	case OutcomeTransactionMissing, OutcomeLookupFailed, OutcomeForwardFailed:
		return true
	default:
		return false
	}
}

// RelayServiceParams holds dependencies for the relay.
type RelayServiceParams struct {
	Transactions TransactionReader
	Forwarder    Forwarder
	// Deduper may be nil (no duplicate suppression).
	Deduper *MessageDeduper
	// Metrics may be nil.
	Metrics observability.RelayMetrics
}

// RelayService turns certificate status messages into digital certificate app calls.
// It holds no per-message state, so Handle is safe for concurrent use.
type RelayService struct {
	transactions TransactionReader
	forwarder    Forwarder
	deduper      *MessageDeduper
	metrics      observability.RelayMetrics
	tracer       trace.Tracer
}

// NewRelayService creates a relay from params.
func NewRelayService(params RelayServiceParams) *RelayService {
	return &RelayService{
		transactions: params.Transactions,
		forwarder:    params.Forwarder,
		deduper:      params.Deduper,
		metrics:      params.Metrics,
		tracer:       otel.Tracer(observability.TracerName),
	}
}

// Handle processes one message body. Only a body that cannot be decoded returns an error
// (a relayerrors.MalformedMessageError);
// lookup and forward failures are logged and reported through the outcome.
func (s *RelayService) Handle(ctx context.Context, body []byte) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "relay.handle", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	slog.DebugContext(ctx, "received certificate message", "body", string(body))

	msg, format, err := envelope.Decode(body)
	if err != nil {
		s.finish(ctx, span, format, OutcomeMalformed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed message")

		return OutcomeMalformed, fmt.Errorf("decode certificate message: %w", err)
	}

	if msg.MsgID != "" {
		ctx = observability.WithMessageID(ctx, msg.MsgID)
	}

	span.SetAttributes(
		attribute.String("relay.message.format", format.String()),
		attribute.String("relay.message.status", msg.Status),
		attribute.String("relay.transfer_hash", msg.TransferHash),
	)

	if !msg.IsSuccess() {
		s.finish(ctx, span, format, OutcomeIgnored)

		return OutcomeIgnored, nil
	}

	if s.deduper != nil && s.deduper.Seen(msg.MsgID) {
		slog.InfoContext(ctx, "certificate message already forwarded, skipping",
			"transfer_hash", msg.TransferHash,
		)
		s.finish(ctx, span, format, OutcomeDuplicate)

		return OutcomeDuplicate, nil
	}

	outcome := s.relay(ctx, msg)
	if outcome.Dropped() {
		span.SetStatus(codes.Error, outcome.String())
	}

	s.finish(ctx, span, format, outcome)

	return outcome, nil
}

// relay reads the transaction for a SUCCESS message and forwards its certificate token.
func (s *RelayService) relay(ctx context.Context, msg *models.CertificateMessage) Outcome {
	slog.InfoContext(ctx, "reading transaction",
		"transfer_hash", msg.TransferHash,
		"brand", msg.Brand,
		"equipment_number", msg.EquipmentNumber,
		"type", msg.Type,
	)

	tx, err := s.lookup(ctx, msg.TransferHash)
	if err != nil {
		var notFound *relayerrors.TransactionNotFoundError
		if errors.As(err, &notFound) {
			// Never written, or removed by the 24h expiry.
			slog.ErrorContext(ctx, "transaction not found or expired",
				"transfer_hash", msg.TransferHash,
				"reason", notFound.Reason,
			)

			return OutcomeTransactionMissing
		}

		slog.ErrorContext(ctx, "failed to read transaction",
			"transfer_hash", msg.TransferHash,
			"error", err,
		)

		return OutcomeLookupFailed
	}

	slog.InfoContext(ctx, "sending certificate token to digital certificate app",
		"transfer_hash", msg.TransferHash,
		"transaction_hash", tx.ID,
	)

	result, err := s.forwarder.Forward(ctx, ForwardRequest{
		MessageID:    msg.MsgID,
		TransferHash: msg.TransferHash,
		Body:         models.NewProcessMessageRequest(tx),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to send certificate token to digital certificate app",
			"transfer_hash", msg.TransferHash,
			"transaction_hash", tx.ID,
			"error", err,
		)

		return OutcomeForwardFailed
	}

	if s.deduper != nil {
		s.deduper.Remember(msg.MsgID)
	}

	if result == ForwardEnqueued {
		return OutcomeEnqueued
	}

	return OutcomeForwarded
}

func (s *RelayService) lookup(ctx context.Context, transferHash string) (*models.Transaction, error) {
	start := time.Now()

	tx, err := s.transactions.GetByTransferHash(ctx, transferHash)

	if s.metrics != nil {
		result := "found"
		switch {
		case errors.Is(err, relayerrors.ErrTransactionNotFound):
			result = "not_found"
		case err != nil:
			result = "error"
		}

		s.metrics.RecordLookup(ctx, result, time.Since(start))
	}

	if err != nil {
		return nil, err
	}

	if tx == nil {
		return nil, relayerrors.NewTransactionNotFoundError(transferHash, relayerrors.ReasonMissing)
	}

	return tx, nil
}

func (s *RelayService) finish(ctx context.Context, span trace.Span, format envelope.Format, outcome Outcome) {
	span.SetAttributes(attribute.String("relay.outcome", outcome.String()))

	if s.metrics != nil {
		s.metrics.RecordMessage(ctx, format.String(), outcome.String())
	}
}
