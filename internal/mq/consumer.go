package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// Handler обрабатывает одно сообщение.
//
// nil — ack. Ошибка, обёрнутая Permanent, — nack без requeue (уходит
// в DLQ). Любая другая ошибка — nack с requeue.
type Handler func(ctx context.Context, msg *Message) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent проверяет, помечена ли ошибка Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Consumer читает сообщения из очереди и вызывает Handler.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    Queue
	handler  Handler
	prefetch int
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	Queue    Queue
	Handler  Handler
	Prefetch int // сообщений в обработке одновременно (default: 1)
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		conn:     conn,
		logger:   logger,
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start блокируется до отмены ctx, переподписываясь после reconnect.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to setup consume", "queue", c.queue, "error", err)
		} else {
			c.logger.Info("consumer started", "queue", c.queue, "prefetch", c.prefetch)
			if err := c.drain(ctx, deliveries); ctx.Err() != nil {
				return ctx.Err()
			} else if err != nil {
				c.logger.Warn("deliveries channel closed, waiting for reconnect", "queue", c.queue)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(string(c.queue), "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return deliveries, nil
}

// drain обрабатывает до prefetch сообщений одновременно и перед выходом
// дожидается уже начатых.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	var g errgroup.Group
	g.SetLimit(c.prefetch)
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			g.Go(func() error {
				c.handle(ctx, raw)
				return nil
			})
		}
	}
}

func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message", "queue", c.queue, "error", err)
		c.settle(raw, raw.Nack(false, false))
		return
	}

	c.logger.Debug("received message",
		"queue", c.queue,
		"message_id", msg.ID,
		"type", msg.Type,
		"redelivered", raw.Redelivered,
	)

	err := c.handler(ctx, &msg)
	switch {
	case err == nil:
		c.settle(raw, raw.Ack(false))
	case IsPermanent(err):
		c.logger.Error("message rejected",
			"queue", c.queue,
			"message_id", msg.ID,
			"error", err,
		)
		c.settle(raw, raw.Nack(false, false))
	default:
		c.logger.Warn("handler failed, requeueing",
			"queue", c.queue,
			"message_id", msg.ID,
			"error", err,
		)
		c.settle(raw, raw.Nack(false, true))
	}
}

func (c *Consumer) settle(raw amqp.Delivery, err error) {
	if err != nil {
		c.logger.Warn("failed to settle delivery",
			"queue", c.queue,
			"delivery_tag", raw.DeliveryTag,
			"error", err,
		)
	}
}

// DecodePayload разбирает payload сообщения в T.
func DecodePayload[T any](msg *Message) (T, error) {
	var out T
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		return out, fmt.Errorf("unmarshal %s payload: %w", msg.Type, err)
	}
	return out, nil
}
