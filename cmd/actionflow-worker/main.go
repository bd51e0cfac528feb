// actionflow-worker — выполняет actions.
//
// Worker:
//   - Получает work items из RabbitMQ (actions.dispatch)
//   - Проверяет токен и лимит организации
//   - Выполняет команду (http, delay, transform)
//   - Записывает результат в action и продвигает task
//
// Workers масштабируются горизонтально: повторная доставка одного
// work item безопасна.
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

	"github.com/shaiso/actionflow/internal/actions"
	"github.com/shaiso/actionflow/internal/config"
	"github.com/shaiso/actionflow/internal/executor"
	"github.com/shaiso/actionflow/internal/mq"
	"github.com/shaiso/actionflow/internal/repo"
	"github.com/shaiso/actionflow/internal/telemetry"
	"github.com/shaiso/actionflow/internal/usage"
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
	logger.Info("starting actionflow-worker")

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

	mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, "actionflow-worker", logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	ledger := usage.NewLedger(usage.Config{
		Store:    repo.NewUsageRepo(pool),
		Billing:  repo.NewOrganizationRepo(pool),
		Defaults: cfg.Usage,
		Logger:   logger,
	})

	registry := actions.NewRegistry()
	exec := executor.New(executor.Config{
		Actions:  repo.NewActionRepo(pool),
		Tasks:    repo.NewTaskRepo(pool),
		Ledger:   ledger,
		Commands: registry,
		Pricing:  cfg.Pricing,
		Timeout:  cfg.Executor.Timeout,
		Logger:   logger,
	})
	logger.Info("commands registered", "commands", registry.Commands())

	consumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
		Queue:    mq.QueueActionsDispatch,
		Handler:  executor.Handler(exec),
		Prefetch: cfg.RabbitMQ.Prefetch,
	})

	// служебный HTTP и основной цикл живут до сигнала; падение одного
	// останавливает оба
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return telemetry.ServeOps(gctx, ":"+strconv.Itoa(cfg.HTTP.WorkerPort), logger, func() error {
			if !mqConn.IsConnected() {
				return errors.New("rabbitmq disconnected")
			}
			return nil
		})
	})
	g.Go(func() error {
		return consumer.Start(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("actionflow-worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("actionflow-worker stopped")
}
