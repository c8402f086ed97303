package platforms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloudcode/config"
	"cloudcode/handler"
	"cloudcode/observability"
	"cloudcode/observability/types"

	"github.com/rabbitmq/amqp091-go"
)

// publisher is the part of *amqp091.Channel used to send replies.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// RabbitMQRuntime consumes envelopes from a queue and, RPC style, publishes
// each reply to the delivery's ReplyTo queue with its CorrelationId.
//
// Dispatch failures are replies like any other and the delivery is acked.
// Only a failed reply publish nacks the delivery, requeueing it once.
type RabbitMQRuntime struct {
	processor handler.Processor
	logger    observability.Logger
	metrics   observability.Metrics
	config    *config.RabbitMQConfig

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	cancel  context.CancelFunc
}

// NewRabbitMQRuntime creates the RabbitMQ transport. Nothing is dialled
// until Start.
func NewRabbitMQRuntime(cfg *config.RabbitMQConfig, processor handler.Processor, provider observability.Provider) *RabbitMQRuntime {
	return &RabbitMQRuntime{
		processor: processor,
		logger:    provider.Logger("transport.rabbitmq"),
		metrics:   provider.Metrics("transport.rabbitmq"),
		config:    cfg,
	}
}

// Name implements Runtime.
func (rt *RabbitMQRuntime) Name() string { return config.TransportRabbitMQ }

// Start connects, declares the queue and consumes until ctx is done, Stop is
// called or the broker closes the channel.
func (rt *RabbitMQRuntime) Start(ctx context.Context) error {
	conn, err := amqp091.Dial(rt.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if rt.config.PrefetchCount > 0 {
		if err := ch.Qos(rt.config.PrefetchCount, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	q, err := ch.QueueDeclare(
		rt.config.Queue, // name
		true,            // durable
		false,           // delete when unused
		false,           // exclusive
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name, // queue
		"",     // consumer tag (auto-generated)
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to consume: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt.mu.Lock()
	rt.conn = conn
	rt.channel = ch
	rt.cancel = cancel
	rt.mu.Unlock()

	rt.logger.Info(ctx, "RabbitMQ consumer started", types.Fields{
		"queue":    q.Name,
		"prefetch": rt.config.PrefetchCount,
	})

	return rt.consume(ctx, msgs, ch)
}

func (rt *RabbitMQRuntime) consume(ctx context.Context, msgs <-chan amqp091.Delivery, pub publisher) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("rabbitmq delivery channel closed")
			}
			rt.processDelivery(ctx, msg, pub)
		}
	}
}

// processDelivery handles a single delivery
func (rt *RabbitMQRuntime) processDelivery(ctx context.Context, msg amqp091.Delivery, pub publisher) {
	start := time.Now()

	ctx = context.WithValue(ctx, types.TransportKey, config.TransportRabbitMQ)
	if rt.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.config.Timeout)
		defer cancel()
	}

	fields := types.Fields{
		"message_id":     msg.MessageId,
		"correlation_id": msg.CorrelationId,
		"reply_to":       msg.ReplyTo,
		"redelivered":    msg.Redelivered,
	}

	reply, err := rt.processor.Process(ctx, msg.Body)
	if err != nil {
		rt.metrics.RecordError("delivery", handler.ErrorName(err))
	} else {
		rt.metrics.RecordSuccess("delivery")
	}

	if msg.ReplyTo != "" {
		pubErr := pub.PublishWithContext(ctx,
			"",          // default exchange
			msg.ReplyTo, // routing key (reply queue)
			false,       // mandatory
			false,       // immediate
			amqp091.Publishing{
				ContentType:   "application/json",
				CorrelationId: msg.CorrelationId,
				Body:          reply,
				Timestamp:     time.Now(),
			},
		)
		if pubErr != nil {
			requeue := !msg.Redelivered
			rt.logger.Error(ctx, "Failed to publish reply", pubErr, fields)
			rt.metrics.RecordError("reply", "PublishFailed")
			if nErr := msg.Nack(false, requeue); nErr != nil {
				rt.logger.Error(ctx, "Failed to nack delivery", nErr, fields)
			}
			return
		}
	} else {
		rt.logger.Debug(ctx, "Delivery has no reply queue; reply dropped", fields)
	}

	if aErr := msg.Ack(false); aErr != nil {
		rt.logger.Error(ctx, "Failed to ack delivery", aErr, fields)
	}

	rt.metrics.RecordDuration("delivery", time.Since(start).Seconds())
}

// Stop gracefully shuts down the consumer
func (rt *RabbitMQRuntime) Stop(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.cancel != nil {
		rt.cancel()
	}
	if rt.channel != nil {
		rt.channel.Close()
	}
	if rt.conn != nil {
		rt.conn.Close()
	}

	rt.logger.Info(ctx, "RabbitMQ consumer stopped", nil)
	return nil
}
