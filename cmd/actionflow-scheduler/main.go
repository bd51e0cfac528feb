// actionflow-scheduler — создаёт tasks по расписанию workflows и
// подбирает зависшие tasks.
//
// Scheduler:
//   - Раз в scheduler.schedule находит due workflows и создаёт tasks
//   - Сдвигает next_run_at по политике repeat
//   - Раз в reaper.schedule фейлит tasks, зависшие в running
//
// Экземпляров может быть несколько: task защищён ключом
// идемпотентности, reaper пишет условно по статусу.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/actionflow/internal/config"
	"github.com/shaiso/actionflow/internal/reaper"
	"github.com/shaiso/actionflow/internal/repo"
	"github.com/shaiso/actionflow/internal/scheduler"
	"github.com/shaiso/actionflow/internal/telemetry"
	"github.com/shaiso/actionflow/internal/trigger"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		telemetry.SetupLogger(telemetry.LogConfig{}).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log)
	logger.Info("starting actionflow-scheduler")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, repo.PoolConfig{URL: cfg.DB.URL, MaxConns: cfg.DB.MaxConns})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	taskRepo := repo.NewTaskRepo(pool)

	sched := scheduler.New(scheduler.Config{
		Workflows:   repo.NewWorkflowRepo(pool),
		Tasks:       taskRepo,
		Logger:      logger,
		BatchSize:   cfg.Scheduler.BatchSize,
		Parallelism: cfg.Scheduler.Parallelism,
	})
	reap := reaper.New(reaper.Config{
		Tasks:       taskRepo,
		Actions:     repo.NewActionRepo(pool),
		Logger:      logger,
		StaleAfter:  cfg.Reaper.StaleAfter,
		BatchSize:   cfg.Reaper.BatchSize,
		Parallelism: cfg.Reaper.Parallelism,
	})

	runner := trigger.New(logger)
	if err := runner.Add(trigger.Job{Name: "scheduler", Spec: cfg.Scheduler.Schedule, Run: sched.Tick}); err != nil {
		logger.Error("invalid scheduler schedule", "error", err)
		os.Exit(1)
	}
	if err := runner.Add(trigger.Job{Name: "reaper", Spec: cfg.Reaper.Schedule, Run: reap.Tick}); err != nil {
		logger.Error("invalid reaper schedule", "error", err)
		os.Exit(1)
	}

	// служебный HTTP и основной цикл живут до сигнала; падение одного
	// останавливает оба
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return telemetry.ServeOps(gctx, ":"+strconv.Itoa(cfg.HTTP.SchedulerPort), logger, nil)
	})
	g.Go(func() error {
		return runner.Start(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("actionflow-scheduler failed", "error", err)
		os.Exit(1)
	}
	logger.Info("actionflow-scheduler stopped")
}
