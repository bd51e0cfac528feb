// Package trigger запускает тики компонентов по cron-расписанию.
//
// Все компоненты stateless: trigger только задаёт ритм. Несколько
// экземпляров могут тикать одновременно, корректность обеспечивают
// CAS-записи в хранилище.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job — периодическая работа, например Scheduler.Tick.
type Job struct {
	Name string
	Spec string // cron-выражение или дескриптор: "@every 1m", "*/5 * * * *"
	Run  func(ctx context.Context, now time.Time) error
}

// Runner — набор Job на общем cron.
type Runner struct {
	logger *slog.Logger
	parser cron.Parser
	jobs   []Job
}

// New создаёт пустой Runner.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger: logger.With("component", "trigger"),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Add регистрирует job. Ошибка — некорректное расписание.
func (r *Runner) Add(job Job) error {
	if _, err := r.parser.Parse(job.Spec); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Spec, err)
	}
	r.jobs = append(r.jobs, job)
	return nil
}

// Start выполняет каждый job один раз сразу, затем по расписанию, и
// блокируется до отмены ctx. Перекрывающиеся запуски одного job
// пропускаются. После отмены ждёт завершения текущих запусков.
func (r *Runner) Start(ctx context.Context) error {
	logger := cronLogger{r.logger}
	c := cron.New(cron.WithParser(r.parser), cron.WithLogger(logger))

	// Первые запуски идут мимо cron, c.Stop() их не ждёт
	var first sync.WaitGroup
	defer first.Wait()

	for _, job := range r.jobs {
		schedule, err := r.parser.Parse(job.Spec)
		if err != nil {
			return fmt.Errorf("schedule job %s: %w", job.Name, err)
		}
		// Первый запуск и запуски по расписанию делят одну блокировку
		wrapped := cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).
			Then(cron.FuncJob(r.wrap(ctx, job)))
		c.Schedule(schedule, wrapped)
		first.Add(1)
		go func() {
			defer first.Done()
			wrapped.Run()
		}()
	}

	c.Start()
	r.logger.Info("trigger started", "jobs", len(r.jobs))

	<-ctx.Done()
	<-c.Stop().Done()
	first.Wait()
	r.logger.Info("trigger stopped")
	return nil
}

func (r *Runner) wrap(ctx context.Context, job Job) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := job.Run(ctx, start); err != nil {
			r.logger.Error("job failed",
				"job", job.Name,
				"duration", time.Since(start),
				"error", err,
			)
			return
		}
		r.logger.Debug("job completed", "job", job.Name, "duration", time.Since(start))
	}
}

// cronLogger — cron.Logger поверх slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
