package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "actionflow"

// Метрики компонентов. Регистрируются в default registry
// и отдаются через promhttp.Handler() на /metrics.
var (
	// TickDuration — длительность одного тика по компонентам.
	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Duration of a single polling tick.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"component"})

	// TickItems — сколько записей обработано за тики, по исходу.
	TickItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tick_items_total",
		Help:      "Records processed by polling ticks.",
	}, []string{"component", "result"})

	// TasksCreated — tasks, созданные scheduler'ом.
	TasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_created_total",
		Help:      "Tasks materialized from due workflows.",
	})

	// ActionsDispatched — actions, отправленные в очередь.
	ActionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_dispatched_total",
		Help:      "Actions materialized and enqueued by the dispatcher.",
	}, []string{"command"})

	// ActionsExecuted — исходы выполнения actions.
	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_executed_total",
		Help:      "Action executions by command and outcome.",
	}, []string{"command", "outcome"})

	// ActionDuration — время выполнения доменного обработчика.
	ActionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "action_duration_seconds",
		Help:      "Duration of domain command handlers.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"command"})

	// UsageDenied — отказы ledger'а.
	UsageDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "usage_denied_total",
		Help:      "Admission denials by the usage ledger.",
	}, []string{"reason"})

	// UsageSettled — суммарная списанная стоимость.
	UsageSettled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "usage_settled_total",
		Help:      "Total cost settled into the usage ledger.",
	})

	// TasksReaped — зависшие tasks, принудительно переведённые в failed.
	TasksReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_reaped_total",
		Help:      "Stale running tasks force-failed by the reaper.",
	})
)
