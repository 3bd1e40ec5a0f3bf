package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/eon/kore-relay/internal/observability"
)

// Options configures a Consumer.
type Options struct {
	URL         string
	Queue       string
	ConsumerTag string
	// Prefetch is the channel QoS prefetch count; 0 means unlimited.
	Prefetch int
	// Concurrency is the number of deliveries processed at once (default: 1).
	Concurrency int
	// DeclareQueue declares Queue as durable before consuming.
	DeclareQueue bool
	// DeadLetterExchange sets x-dead-letter-exchange when the queue is declared.
	DeadLetterExchange string
	// ReconnectDelay is the wait between connection attempts (default: 5 seconds).
	ReconnectDelay time.Duration
	// Metrics may be nil.
	Metrics observability.RelayMetrics
}

// Consumer reads deliveries from one queue with manual acknowledgement and
// reconnects after the broker connection is lost.
type Consumer struct {
	opts      Options
	handler   *DeliveryHandler
	connected atomic.Bool
}

// New creates a consumer that hands each delivery to handler.
func New(opts Options, handler *DeliveryHandler) *Consumer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}

	return &Consumer{opts: opts, handler: handler}
}

// Connected reports whether the consumer currently holds a consuming channel.
func (c *Consumer) Connected() bool {
	return c.connected.Load()
}

// Ready returns an error when the consumer is not connected. Used by the readiness check.
func (c *Consumer) Ready(context.Context) error {
	if !c.Connected() {
		return errors.New("rabbitmq consumer not connected")
	}

	return nil
}

// Run consumes until ctx is cancelled. In-flight deliveries are finished and settled
// before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("rabbitmq consumer starting",
		"queue", c.opts.Queue,
		"concurrency", c.opts.Concurrency,
		"prefetch", c.opts.Prefetch,
	)

	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			slog.Info("rabbitmq consumer stopped")

			return nil
		}

		slog.Error("rabbitmq connection lost, reconnecting",
			"error", err,
			"delay", c.opts.ReconnectDelay,
		)

		if c.opts.Metrics != nil {
			c.opts.Metrics.RecordConsumerReconnect(ctx)
		}

		select {
		case <-ctx.Done():
			slog.Info("rabbitmq consumer stopped")

			return nil
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

// consume runs one connection lifetime.
func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.DialConfig(c.opts.URL, amqp.Config{
		Properties: amqp.Table{"connection_name": c.opts.ConsumerTag},
	})
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && !errors.Is(closeErr, amqp.ErrClosed) {
			slog.Warn("failed to close rabbitmq connection", "error", closeErr)
		}
	}()

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	if c.opts.DeclareQueue {
		if err := c.declare(ch); err != nil {
			return err
		}
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.opts.Queue, c.opts.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", c.opts.Queue, err)
	}

	c.connected.Store(true)
	defer c.connected.Store(false)

	slog.Info("rabbitmq consumer connected", "queue", c.opts.Queue)

	// In-flight deliveries finish even when ctx is cancelled; the channel stays open until they are settled.
	workCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for range c.opts.Concurrency {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for d := range deliveries {
				c.handler.HandleDelivery(workCtx, d)
			}
		}()
	}

	wg.Wait()

	select {
	case amqpErr, ok := <-connClosed:
		if ok && amqpErr != nil {
			return amqpErr
		}
	default:
	}

	return errors.New("delivery channel closed")
}

func (c *Consumer) declare(ch *amqp.Channel) error {
	var args amqp.Table
	if c.opts.DeadLetterExchange != "" {
		args = amqp.Table{"x-dead-letter-exchange": c.opts.DeadLetterExchange}
	}

	if _, err := ch.QueueDeclare(c.opts.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.opts.Queue, err)
	}

	return nil
}
