package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"PricePulse/internal/predict"
	"PricePulse/pkg/config"
	xhttp "PricePulse/pkg/http"
	pkgkafka "PricePulse/pkg/kafka"
	applogger "PricePulse/pkg/logger"
	pkgqueue "PricePulse/pkg/queue"
)

type namedCloser struct {
	name  string
	close func() error
}

// App owns the process lifecycle: background consumers, the retrain queue,
// the HTTP server, and orderly shutdown of all of them.
type App struct {
	cfg         *config.Config
	logger      *applogger.Logger
	httpHandler xhttp.Handler
	httpServer  *xhttp.Server
	consumer    *pkgkafka.Consumer
	kh          pkgkafka.MessageHandler
	queue       *pkgqueue.RedisQueue
	scheduler   *predict.Scheduler
	closers     []namedCloser
}

// New creates the application. Nil components are simply not started:
// a direct-backend deployment has no Kafka consumer, a redis-less one has
// no retrain queue.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	httpHandler xhttp.Handler,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	queue *pkgqueue.RedisQueue,
	scheduler *predict.Scheduler,
) *App {
	return &App{
		cfg:         cfg,
		logger:      logger,
		httpHandler: httpHandler,
		consumer:    consumer,
		kh:          kh,
		queue:       queue,
		scheduler:   scheduler,
	}
}

// AddCloser registers an infrastructure client to close on shutdown, in
// reverse registration order.
func (a *App) AddCloser(name string, close func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: close})
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return err
		}
		a.queue.StartRetryProcessor()
		a.logger.Info("retrain queue started")
	}

	if a.scheduler != nil {
		go a.scheduler.Run(ctx, a.cfg.Predict.RetrainInterval)
		a.logger.Info("retrain scheduler started",
			applogger.Duration("interval", a.cfg.Predict.RetrainInterval))
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.logger.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.logger.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		return err
	}
	a.logger.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

// shutdown stops ingress first, then workers, then closes clients.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.logger.Warn("retrain queue stop error", applogger.Error(err))
		}
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close error",
				applogger.String("component", c.name),
				applogger.Error(err),
			)
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}
