package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"tasksync/pkg/trace"
)

// MessageHandler processes one delivery body. routingKey is the key the
// message was published with.
type MessageHandler func(ctx context.Context, routingKey string, data json.RawMessage) error

// ConsumerOptions control queue declaration.
type ConsumerOptions struct {
	// Exclusive declares a server-named, exclusive, auto-delete queue. Used by
	// clients that only care about events while they are connected.
	Exclusive bool
	// Requeue failed deliveries instead of dropping them.
	Requeue bool
}

type Consumer struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	tag        string
	opts       ConsumerOptions
	handler    MessageHandler
	logger     *zap.Logger
}

// NewConsumer creates a consumer bound to routingKey on the events exchange.
// An empty queueName requires opts.Exclusive.
func NewConsumer(url, queueName, routingKey string, opts ConsumerOptions, logger *zap.Logger) (*Consumer, error) {
	if queueName == "" && !opts.Exclusive {
		return nil, fmt.Errorf("queue name required for shared consumers")
	}

	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	durable := !opts.Exclusive
	q, err := ch.QueueDeclare(
		queueName,
		durable,
		opts.Exclusive, // auto-delete
		opts.Exclusive, // exclusive
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, ExchangeName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", q.Name),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		tag:        "consumer-" + uuid.NewString(),
		opts:       opts,
		logger:     logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// Stop cancels the delivery stream; StartConsuming then returns.
func (c *Consumer) Stop() {
	if c.channel != nil {
		_ = c.channel.Cancel(c.tag, false)
	}
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming blocks until ctx is done or the delivery channel closes.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		c.tag,
		false, // manual ack
		c.opts.Exclusive,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handleDelivery(ctx, msg)
		}
	}
}

// handleDelivery guarantees every delivery is acked or nacked, even when the handler panics.
func (c *Consumer) handleDelivery(ctx context.Context, msg amqp091.Delivery) {
	if traceID, ok := msg.Headers[trace.HeaderName].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered",
				zap.String("routing_key", msg.RoutingKey),
				zap.String("queue", c.queue.Name),
				zap.Any("panic", r),
			)
			if err := msg.Nack(false, c.opts.Requeue); err != nil {
				c.logger.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
	}()

	if err := c.handler(ctx, msg.RoutingKey, msg.Body); err != nil {
		c.logger.Error("Handler error",
			zap.String("routing_key", msg.RoutingKey),
			zap.String("queue", c.queue.Name),
			zap.Error(err),
		)
		if err := msg.Nack(false, c.opts.Requeue); err != nil {
			c.logger.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to ack message",
			zap.String("routing_key", msg.RoutingKey),
			zap.Error(err),
		)
	}
}
