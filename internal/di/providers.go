package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"PricePulse/internal/compare"
	"PricePulse/internal/domain/repository"
	"PricePulse/internal/handler/api"
	"PricePulse/internal/normalize"
	"PricePulse/internal/predict"
	internalrepo "PricePulse/internal/repository"
	"PricePulse/internal/resolver"
	"PricePulse/internal/service/ratelimit"
	"PricePulse/internal/source"
	"PricePulse/internal/usecase"
	pkgcache "PricePulse/pkg/cache"
	pkgch "PricePulse/pkg/clickhouse"
	"PricePulse/pkg/config"
	xhttp "PricePulse/pkg/http"
	pkgkafka "PricePulse/pkg/kafka"
	applogger "PricePulse/pkg/logger"
	"PricePulse/pkg/metrics"
	pkgpg "PricePulse/pkg/postgres"
	pkgqueue "PricePulse/pkg/queue"
	"PricePulse/pkg/server"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client and applies the
// observation schema. Nil when the memory store is configured.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Storage.Type != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.ObservationSchema); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvidePostgresClient creates the catalog database client and runs
// migrations. Nil when the memory store is configured.
func ProvidePostgresClient(cfg *config.Config) (*pkgpg.Client, error) {
	if cfg.Storage.Type != "clickhouse" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pkgpg.New(ctx, pkgpg.ClientConfig{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.MaxConns,
		MinConns: cfg.Postgres.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres client: %w", err)
	}
	if err := client.RunMigrations(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("postgres migrations: %w", err)
	}
	return client, nil
}

// ProvidePriceStore selects the observation store implementation.
func ProvidePriceStore(ch *pkgch.Client, logger *applogger.Logger) repository.PriceStore {
	if ch == nil {
		return internalrepo.NewMemoryPriceStore()
	}
	store := internalrepo.NewCHPriceStore(ch)
	store.SetLogger(logger)
	return store
}

// ProvideCatalog selects the product catalog implementation.
func ProvideCatalog(pg *pkgpg.Client) repository.ProductCatalog {
	if pg == nil {
		return internalrepo.NewMemoryCatalog()
	}
	return internalrepo.NewPGCatalog(pg)
}

// ProvideForecastStore selects the forecast store implementation.
func ProvideForecastStore(pg *pkgpg.Client) repository.ForecastStore {
	if pg == nil {
		return internalrepo.NewMemoryForecastStore()
	}
	return internalrepo.NewPGForecastStore(pg)
}

// ProvideCache builds the compare cache: redis-backed layered cache when
// redis is enabled, in-process LRU otherwise.
func ProvideCache(cfg *config.Config) (pkgcache.Service, error) {
	if !cfg.Redis.Enabled {
		return pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.Compare.CacheMaxSize)), nil
	}
	host, port, err := splitAddr(cfg.Redis.Addr)
	if err != nil {
		return nil, fmt.Errorf("redis addr: %w", err)
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(host),
		pkgcache.WithRedisPort(port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return pkgcache.NewLayeredCache(rc, pkgcache.WithLayeredMemorySize(cfg.Compare.CacheMaxSize)), nil
}

// ProvideKafkaProducer creates a Kafka producer. Nil with the direct backend.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Backend.Type != "kafka" {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideListingPublisher publishes observations to the ingest topic.
func ProvideListingPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.ListingPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaListingPublisher(producer, cfg.Kafka.Topic)
}

// ProvideKafkaConsumer creates the observations consumer. Nil with the
// direct backend. A hook chain measures end-to-end consume latency and logs
// handler failures with the message trace id.
func ProvideKafkaConsumer(cfg *config.Config, logger *applogger.Logger, m repository.Metrics) (*pkgkafka.Consumer, error) {
	if cfg.Backend.Type != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.HookFuncs{
		Before: func(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			ctx = pkgkafka.WithStartTime(ctx, time.Now())
			ctx = pkgkafka.WithTraceID(ctx, pkgkafka.ExtractTraceID(km))
			return ctx, km, data, nil
		},
		After: func(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
			if start, ok := ctx.Value(pkgkafka.CtxStartTime).(time.Time); ok {
				m.RecordLatency("kafka_consume_seconds", time.Since(start).Seconds())
			}
		},
		Err: func(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
			trace, _ := ctx.Value(pkgkafka.CtxTraceID).(string)
			logger.Warn("kafka message failed",
				applogger.String("topic", topic),
				applogger.String("trace_id", trace),
				applogger.Error(err),
			)
		},
	}))
	return consumer, nil
}

// ProvideObservationsHandler consumes published observations into the store.
func ProvideObservationsHandler(cfg *config.Config, prices repository.PriceStore, m repository.Metrics) pkgkafka.MessageHandler {
	if cfg.Backend.Type != "kafka" {
		return nil
	}
	return usecase.NewKafkaObservationsHandler(cfg.Kafka.Topic, prices, m)
}

// ProvideResolver creates the product resolver.
func ProvideResolver(
	catalog repository.ProductCatalog,
	prices repository.PriceStore,
	m repository.Metrics,
	logger *applogger.Logger,
	cfg *config.Config,
) *resolver.Resolver {
	return resolver.New(catalog, prices, m, logger, resolver.Config{
		MatchThreshold:  cfg.Resolver.MatchThreshold,
		AmbiguityMargin: cfg.Resolver.AmbiguityMargin,
		LockStripes:     cfg.Resolver.LockStripes,
	})
}

// ProvideNormalizer creates the listing normalizer.
func ProvideNormalizer(logger *applogger.Logger) *normalize.Normalizer {
	return normalize.New(logger, "USD")
}

// ProvideSink routes resolved observations to the configured backend.
func ProvideSink(
	pub repository.ListingPublisher,
	prices repository.PriceStore,
	m repository.Metrics,
	cfg *config.Config,
) *usecase.ObservationSink {
	return usecase.NewObservationSink(pub, prices, m, cfg.Backend.Type)
}

// ProvideAdapters builds one source adapter per configured store.
func ProvideAdapters(cfg *config.Config, logger *applogger.Logger) (map[string]source.Adapter, error) {
	adapters := make(map[string]source.Adapter, len(cfg.Stores))
	for _, store := range cfg.Stores {
		a, err := source.New(store, logger)
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", store.ID, err)
		}
		adapters[store.ID] = a
	}
	return adapters, nil
}

// ProvideOrchestrator creates the ingest sweep runner.
func ProvideOrchestrator(
	cfg *config.Config,
	adapters map[string]source.Adapter,
	normalizer *normalize.Normalizer,
	res *resolver.Resolver,
	sink *usecase.ObservationSink,
	m repository.Metrics,
	logger *applogger.Logger,
) *usecase.IngestOrchestrator {
	return usecase.NewIngestOrchestrator(
		cfg.Stores,
		adapters,
		normalizer,
		res,
		sink,
		ratelimit.New(),
		m,
		logger,
		usecase.IngestConfig{
			Workers:      cfg.Ingest.Workers,
			MaxAttempts:  cfg.Ingest.MaxAttempts,
			BackoffMin:   cfg.Ingest.BackoffMin,
			BackoffMax:   cfg.Ingest.BackoffMax,
			StoreTimeout: cfg.Ingest.StoreTimeout,
			BatchSize:    cfg.Ingest.BatchSize,
		},
	)
}

// ProvideTrainer creates the forecast trainer.
func ProvideTrainer(
	prices repository.PriceStore,
	forecasts repository.ForecastStore,
	m repository.Metrics,
	logger *applogger.Logger,
	cfg *config.Config,
) *predict.Trainer {
	return predict.NewTrainer(prices, forecasts, m, logger, predict.Config{
		MinObservations: cfg.Predict.MinObservations,
		HorizonDays:     cfg.Predict.HorizonDays,
		RetrainAfter:    cfg.Predict.RetrainAfter,
		FitTimeout:      cfg.Predict.FitTimeout,
	})
}

// ProvideRetrainQueue creates the redis-backed retrain queue with the
// retrain job registered. Nil when redis is disabled; fits then only happen
// through direct Train calls.
func ProvideRetrainQueue(cfg *config.Config, logger *applogger.Logger, trainer *predict.Trainer) (*pkgqueue.RedisQueue, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	q := pkgqueue.NewRedisQueue(logger, &pkgqueue.QueueConfig{
		Workers:    cfg.Predict.QueueWorkers,
		QueueSize:  1024,
		RetryLimit: 3,
		RetryDelay: 30 * time.Second,
	}, client, pkgqueue.ModeProducerConsumer)
	q.RegisterJob(predict.NewRetrainJob(trainer, logger))
	return q, nil
}

// ProvideScheduler creates the retrain scheduler. Nil without a queue.
func ProvideScheduler(q *pkgqueue.RedisQueue, trainer *predict.Trainer, logger *applogger.Logger) *predict.Scheduler {
	if q == nil {
		return nil
	}
	return predict.NewScheduler(q, trainer, logger)
}

// ProvideEngine creates the comparison engine.
func ProvideEngine(
	res *resolver.Resolver,
	prices repository.PriceStore,
	forecasts repository.ForecastStore,
	cacheSvc pkgcache.Service,
	m repository.Metrics,
	logger *applogger.Logger,
	cfg *config.Config,
) *compare.Engine {
	return compare.New(res, prices, forecasts, cacheSvc, m, logger, compare.Config{
		FreshnessWindow: cfg.Compare.FreshnessWindow,
		CacheTTL:        cfg.Compare.CacheTTL,
		DefaultLimit:    cfg.Compare.DefaultLimit,
		HorizonDays:     cfg.Predict.HorizonDays,
	})
}

// ProvideHandler creates the HTTP handler with dependency health probes.
func ProvideHandler(
	logger *applogger.Logger,
	engine *compare.Engine,
	trainer *predict.Trainer,
	res *resolver.Resolver,
	orchestrator *usecase.IngestOrchestrator,
	cfg *config.Config,
	ch *pkgch.Client,
	pg *pkgpg.Client,
) xhttp.Handler {
	h := api.NewPricesEchoHandler(logger, engine, trainer, res, orchestrator, cfg.Stores)
	if ch != nil {
		h.AddHealthCheck("clickhouse", ch.Health)
	}
	if pg != nil {
		h.AddHealthCheck("postgres", pg.Health)
	}
	return h
}

// postWriteFanout reacts to fresh observation writes: drop the product's
// cached comparison and queue a retrain.
type postWriteFanout struct {
	engine    *compare.Engine
	scheduler *predict.Scheduler
}

func (f postWriteFanout) Invalidate(ctx context.Context, productIDs ...string) {
	f.engine.Invalidate(ctx, productIDs...)
	if f.scheduler != nil {
		f.scheduler.Schedule(ctx, productIDs...)
	}
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	logger *applogger.Logger,
	handler xhttp.Handler,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	queue *pkgqueue.RedisQueue,
	scheduler *predict.Scheduler,
	engine *compare.Engine,
	sink *usecase.ObservationSink,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	pg *pkgpg.Client,
) *server.App {
	fanout := postWriteFanout{engine: engine, scheduler: scheduler}
	sink.SetInvalidator(fanout)
	// In kafka mode the consumer handler owns the fanout: only its write
	// makes the new observation visible to readers and the retrain counter.
	if okh, ok := kh.(*usecase.KafkaObservationsHandler); ok {
		okh.SetInvalidator(fanout)
	}

	app := server.New(cfg, logger, handler, consumer, kh, queue, scheduler)
	if producer != nil {
		app.AddCloser("kafka producer", producer.Close)
	}
	if ch != nil {
		app.AddCloser("clickhouse", ch.Close)
	}
	if pg != nil {
		app.AddCloser("postgres", func() error { pg.Close(); return nil })
	}
	return app
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
