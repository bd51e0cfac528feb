// actionflow-dispatcher — материализует следующий шаг waiting tasks.
//
// Dispatcher:
//   - Раз в dispatcher.schedule выбирает waiting tasks
//   - Рендерит payload шага и создаёт action с одноразовым токеном
//   - Переводит task в running и публикует work item в RabbitMQ
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
	"github.com/shaiso/actionflow/internal/dispatcher"
	"github.com/shaiso/actionflow/internal/mq"
	"github.com/shaiso/actionflow/internal/repo"
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
	logger.Info("starting actionflow-dispatcher")

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

	// без очереди dispatcher бесполезен: work items некуда отправить
	mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, "actionflow-dispatcher", logger)
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

	disp := dispatcher.New(dispatcher.Config{
		Tasks:       repo.NewTaskRepo(pool),
		Actions:     repo.NewActionRepo(pool),
		Queue:       mq.NewPublisher(mqConn, logger),
		Logger:      logger,
		BatchSize:   cfg.Dispatcher.BatchSize,
		Parallelism: cfg.Dispatcher.Parallelism,
		TokenTTL:    cfg.Dispatcher.TokenTTL,
	})

	runner := trigger.New(logger)
	if err := runner.Add(trigger.Job{Name: "dispatcher", Spec: cfg.Dispatcher.Schedule, Run: disp.Tick}); err != nil {
		logger.Error("invalid dispatcher schedule", "error", err)
		os.Exit(1)
	}

	// служебный HTTP и основной цикл живут до сигнала; падение одного
	// останавливает оба
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return telemetry.ServeOps(gctx, ":"+strconv.Itoa(cfg.HTTP.DispatcherPort), logger, func() error {
			if !mqConn.IsConnected() {
				return errors.New("rabbitmq disconnected")
			}
			return nil
		})
	})
	g.Go(func() error {
		return runner.Start(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("actionflow-dispatcher failed", "error", err)
		os.Exit(1)
	}
	logger.Info("actionflow-dispatcher stopped")
}
