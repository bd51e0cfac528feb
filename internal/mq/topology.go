package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeActions Exchange = "actionflow.actions"
	ExchangeDLQ     Exchange = "actionflow.dlq"
)

const (
	// QueueActionsDispatch — work items для воркеров.
	QueueActionsDispatch Queue = "actions.dispatch"

	// QueueDLQActions — сообщения, отклонённые без requeue.
	QueueDLQActions Queue = "dlq.actions"
)

const (
	RoutingKeyDispatch   RoutingKey = "dispatch"
	RoutingKeyDLQActions RoutingKey = "actions"
)

type binding struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
	args       amqp.Table
}

var topology = []binding{
	{
		queue:      QueueActionsDispatch,
		routingKey: RoutingKeyDispatch,
		exchange:   ExchangeActions,
		args: amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQActions),
		},
	},
	{
		queue:      QueueDLQActions,
		routingKey: RoutingKeyDLQActions,
		exchange:   ExchangeDLQ,
	},
}

// SetupTopology объявляет обменники, очереди и привязки. Идемпотентна.
//
//	actionflow.actions (direct)
//	└── actions.dispatch [dispatch] → worker, DLQ: dlq.actions
//	actionflow.dlq (direct)
//	└── dlq.actions [actions] → ручной разбор
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeActions, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), "direct", true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, b := range topology {
			if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, b.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}
