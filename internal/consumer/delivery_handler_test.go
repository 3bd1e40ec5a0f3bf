package consumer

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"github.com/eon/kore-relay/internal/observability"
	"github.com/eon/kore-relay/internal/service"
)

type fakeAcknowledger struct {
	acks    int
	nacks   int
	rejects int
	requeue bool
	err     error
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.acks++

	return f.err
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacks++
	f.requeue = requeue

	return f.err
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.rejects++
	f.requeue = requeue

	return f.err
}

type stubRelay struct {
	outcome   service.Outcome
	err       error
	body      []byte
	messageID string
}

func (s *stubRelay) Handle(ctx context.Context, body []byte) (service.Outcome, error) {
	s.body = body
	s.messageID, _ = observability.MessageIDFromContext(ctx)

	return s.outcome, s.err
}

// settleMetrics only implements the delivery methods; the handler calls nothing else.
type settleMetrics struct {
	observability.RelayMetrics

	acked     int
	rejected  []string
	ackErrors int
}

func (m *settleMetrics) RecordDeliveryAcked(context.Context) { m.acked++ }

func (m *settleMetrics) RecordDeliveryRejected(_ context.Context, reason string) {
	m.rejected = append(m.rejected, reason)
}

func (m *settleMetrics) RecordDeliveryAckError(context.Context) { m.ackErrors++ }

func TestDeliveryHandler_HandleDelivery(t *testing.T) {
	tests := []struct {
		name               string
		outcome            service.Outcome
		err                error
		deadLetterFailures bool
		wantAcks           int
		wantNacks          int
		wantRejects        int
		wantRejected       []string
	}{
		{name: "forwarded is acked", outcome: service.OutcomeForwarded, wantAcks: 1},
		{name: "enqueued is acked", outcome: service.OutcomeEnqueued, wantAcks: 1},
		{name: "ignored is acked", outcome: service.OutcomeIgnored, wantAcks: 1},
		{name: "duplicate is acked", outcome: service.OutcomeDuplicate, wantAcks: 1},
		{name: "missing transaction is acked by default", outcome: service.OutcomeTransactionMissing, wantAcks: 1},
		{name: "forward failure is acked by default", outcome: service.OutcomeForwardFailed, wantAcks: 1},
		{
			name:        "malformed is rejected without requeue",
			outcome:     service.OutcomeMalformed,
			err:         errors.New("decode certificate message: invalid json"),
			wantRejects: 1, wantRejected: []string{"malformed"},
		},
		{
			name:               "lookup failure is nacked when dead lettering",
			outcome:            service.OutcomeLookupFailed,
			deadLetterFailures: true,
			wantNacks:          1, wantRejected: []string{"dead_letter"},
		},
		{
			name:               "ignored is still acked when dead lettering",
			outcome:            service.OutcomeIgnored,
			deadLetterFailures: true,
			wantAcks:           1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAcknowledger{}
			metrics := &settleMetrics{}
			handler := NewDeliveryHandler(&stubRelay{outcome: tt.outcome, err: tt.err}, tt.deadLetterFailures, metrics)

			handler.HandleDelivery(context.Background(), amqp.Delivery{
				Acknowledger: ack,
				DeliveryTag:  7,
				Body:         []byte(`{}`),
			})

			assert.Equal(t, tt.wantAcks, ack.acks, "acks")
			assert.Equal(t, tt.wantNacks, ack.nacks, "nacks")
			assert.Equal(t, tt.wantRejects, ack.rejects, "rejects")
			assert.False(t, ack.requeue, "never requeued")
			assert.Equal(t, tt.wantAcks, metrics.acked)
			assert.Equal(t, tt.wantRejected, metrics.rejected)
		})
	}
}

func TestDeliveryHandler_HandleDelivery_passesBodyAndCorrelationID(t *testing.T) {
	relay := &stubRelay{outcome: service.OutcomeForwarded}
	handler := NewDeliveryHandler(relay, false, nil)

	handler.HandleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: &fakeAcknowledger{},
		MessageId:    "ID:broker-1",
		Body:         []byte("RMQTextMessage{}"),
	})

	assert.Equal(t, []byte("RMQTextMessage{}"), relay.body)
	assert.Equal(t, "ID:broker-1", relay.messageID)

	handler.HandleDelivery(context.Background(), amqp.Delivery{Acknowledger: &fakeAcknowledger{}})
	assert.NotEmpty(t, relay.messageID, "a correlation id is generated when the delivery has none")
	assert.NotEqual(t, "ID:broker-1", relay.messageID)
}

func TestDeliveryHandler_HandleDelivery_ackError(t *testing.T) {
	metrics := &settleMetrics{}
	handler := NewDeliveryHandler(&stubRelay{outcome: service.OutcomeForwarded}, false, metrics)

	handler.HandleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: &fakeAcknowledger{err: amqp.ErrClosed},
	})

	assert.Equal(t, 1, metrics.ackErrors)
	assert.Equal(t, 0, metrics.acked)
}
