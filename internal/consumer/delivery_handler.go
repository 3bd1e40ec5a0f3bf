// Package consumer reads certificate messages from RabbitMQ and settles each delivery
// according to the relay outcome.
package consumer

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/eon/kore-relay/internal/observability"
	"github.com/eon/kore-relay/internal/service"
)

// MessageRelay handles one message body (e.g. service.RelayService).
type MessageRelay interface {
	Handle(ctx context.Context, body []byte) (service.Outcome, error)
}

// DeliveryHandler runs the relay for a delivery and acks, rejects or nacks it.
// A relay error means the message could not be decoded: it is rejected without requeue.
// Dropped SUCCESS messages are acked, or nacked without requeue when deadLetterFailures is set
// so a queue-level dead letter exchange can keep them.
type DeliveryHandler struct {
	relay              MessageRelay
	deadLetterFailures bool
	metrics            observability.RelayMetrics
}

// NewDeliveryHandler creates a handler. metrics may be nil.
func NewDeliveryHandler(relay MessageRelay, deadLetterFailures bool, metrics observability.RelayMetrics) *DeliveryHandler {
	return &DeliveryHandler{relay: relay, deadLetterFailures: deadLetterFailures, metrics: metrics}
}

// HandleDelivery processes d and settles it exactly once.
func (h *DeliveryHandler) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	deliveryID := d.MessageId
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	// The relay replaces this with msgId once the body is decoded.
	ctx = observability.WithMessageID(ctx, deliveryID)

	outcome, err := h.relay.Handle(ctx, d.Body)

	switch {
	case err != nil:
		slog.ErrorContext(ctx, "rejecting malformed certificate message",
			"delivery_tag", d.DeliveryTag,
			"redelivered", d.Redelivered,
			"error", err,
		)
		h.settle(ctx, "malformed", d.Reject(false))
	case outcome.Dropped() && h.deadLetterFailures:
		slog.WarnContext(ctx, "dead-lettering certificate message",
			"delivery_tag", d.DeliveryTag,
			"outcome", outcome.String(),
		)
		h.settle(ctx, "dead_letter", d.Nack(false, false))
	default:
		h.settle(ctx, "", d.Ack(false))
	}
}

// settle records the result of an ack (reason == "") or a reject/nack.
func (h *DeliveryHandler) settle(ctx context.Context, reason string, err error) {
	if err != nil {
		slog.ErrorContext(ctx, "failed to settle delivery", "reason", reason, "error", err)

		if h.metrics != nil {
			h.metrics.RecordDeliveryAckError(ctx)
		}

		return
	}

	if h.metrics == nil {
		return
	}

	if reason == "" {
		h.metrics.RecordDeliveryAcked(ctx)
	} else {
		h.metrics.RecordDeliveryRejected(ctx, reason)
	}
}
