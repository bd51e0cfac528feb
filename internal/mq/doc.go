// Package mq — очередь work items на RabbitMQ.
//
// Структура:
//   - connection.go — соединение с переподключением
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация action.dispatch
//   - consumer.go   — потребление и ack/nack по результату Handler
//
// Dispatcher публикует {action_path, token} в actionflow.actions,
// воркер читает actions.dispatch и вызывает executor. Доставка
// at-least-once, поэтому executor идемпотентен по action.
package mq
