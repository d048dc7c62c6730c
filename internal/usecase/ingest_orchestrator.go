package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	"PricePulse/internal/normalize"
	"PricePulse/internal/resolver"
	"PricePulse/internal/service/ratelimit"
	"PricePulse/internal/source"
	"PricePulse/pkg/config"
	applogger "PricePulse/pkg/logger"
)

// IngestConfig tunes one orchestrator sweep.
type IngestConfig struct {
	Workers      int
	MaxAttempts  int
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	StoreTimeout time.Duration
	BatchSize    int
}

// IngestOrchestrator runs one full sweep across all configured stores:
// fetch, normalize, resolve, sink. Stores run concurrently under a bounded
// worker pool; one store failing never aborts the others.
type IngestOrchestrator struct {
	stores     []config.StoreConfig
	adapters   map[string]source.Adapter
	normalizer *normalize.Normalizer
	resolver   *resolver.Resolver
	sink       *ObservationSink
	limiter    *ratelimit.Limiter
	metrics    domrepo.Metrics
	logger     *applogger.Logger
	cfg        IngestConfig
}

func NewIngestOrchestrator(
	stores []config.StoreConfig,
	adapters map[string]source.Adapter,
	normalizer *normalize.Normalizer,
	res *resolver.Resolver,
	sink *ObservationSink,
	limiter *ratelimit.Limiter,
	metrics domrepo.Metrics,
	logger *applogger.Logger,
	cfg IngestConfig,
) *IngestOrchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &IngestOrchestrator{
		stores:     stores,
		adapters:   adapters,
		normalizer: normalizer,
		resolver:   res,
		sink:       sink,
		limiter:    limiter,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run sweeps every configured store once and returns the per-store report.
// The returned error is non-nil only when the sweep itself could not run;
// individual store failures are reported in the summary.
func (o *IngestOrchestrator) Run(ctx context.Context) (models.RunSummary, error) {
	runID := uuid.NewString()
	started := time.Now().UTC()
	o.logger.Info("ingest run starting",
		applogger.String("run_id", runID),
		applogger.Int("stores", len(o.stores)),
		applogger.Int("workers", o.cfg.Workers),
	)

	var mu sync.Mutex
	reports := make([]models.StoreReport, 0, len(o.stores))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for _, store := range o.stores {
		store := store
		g.Go(func() error {
			report := o.runStore(gctx, store)
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.RunSummary{}, err
	}

	summary := models.RunSummary{
		RunID:     runID,
		StartedAt: started,
		Duration:  time.Since(started),
		Reports:   reports,
	}
	for _, r := range reports {
		summary.TotalItems += r.Resolved
	}
	o.logger.Info("ingest run complete",
		applogger.String("run_id", runID),
		applogger.Int("total_items", summary.TotalItems),
		applogger.Strings("failed_stores", summary.FailedStores()),
		applogger.Duration("duration_ms", summary.Duration),
	)
	o.metrics.RecordLatency("ingest_run", summary.Duration.Seconds())
	return summary, nil
}

// runStore fetches one store with retries. A failed attempt backs off
// exponentially; after MaxAttempts the store is reported failed and the rest
// of the sweep continues.
func (o *IngestOrchestrator) runStore(ctx context.Context, store config.StoreConfig) models.StoreReport {
	report := models.StoreReport{StoreID: store.ID}

	adapter, ok := o.adapters[store.ID]
	if !ok {
		report.Failed = true
		report.Error = "no adapter configured"
		return report
	}

	backoff := o.cfg.BackoffMin
	if backoff <= 0 {
		backoff = time.Second
	}
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		report.Attempts = attempt
		err := o.attemptStore(ctx, store, adapter, &report)
		if err == nil {
			report.Failed = false
			report.Error = ""
			return report
		}

		report.Failed = true
		report.Error = err.Error()
		o.metrics.RecordError("store_fetch")
		o.logger.Warn("store fetch attempt failed",
			applogger.String("store", store.ID),
			applogger.Int("attempt", attempt),
			applogger.Error(err),
		)
		if ctx.Err() != nil || attempt == o.cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return report
		case <-time.After(backoff):
		}
		backoff *= 2
		if o.cfg.BackoffMax > 0 && backoff > o.cfg.BackoffMax {
			backoff = o.cfg.BackoffMax
		}
	}
	return report
}

// attemptStore is one fetch attempt: drain the adapter's channels, normalize
// and resolve each item, and flush observations in batches. A returned error
// means the attempt is retryable; per-item problems only bump Skipped.
func (o *IngestOrchestrator) attemptStore(ctx context.Context, store config.StoreConfig, adapter source.Adapter, report *models.StoreReport) error {
	attemptCtx := ctx
	if o.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, o.cfg.StoreTimeout)
		defer cancel()
	}

	// Reset per-attempt counters so a retry does not double-count.
	report.Fetched, report.Normalized, report.Resolved, report.Skipped = 0, 0, 0, 0

	listings, errs := adapter.Fetch(attemptCtx)
	batch := make([]models.PriceObservation, 0, o.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := o.sink.WriteBatch(attemptCtx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for listings != nil || errs != nil {
		select {
		case raw, ok := <-listings:
			if !ok {
				listings = nil
				continue
			}
			report.Fetched++
			o.metrics.RecordFetched(store.ID, 1)
			o.throttle(attemptCtx, store)

			obs, ok := o.processListing(attemptCtx, store, raw, report)
			if !ok {
				continue
			}
			batch = append(batch, obs)
			if len(batch) >= o.cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return err
			}

		case <-attemptCtx.Done():
			return attemptCtx.Err()
		}
	}
	return flush()
}

func (o *IngestOrchestrator) processListing(ctx context.Context, store config.StoreConfig, raw models.RawListing, report *models.StoreReport) (models.PriceObservation, bool) {
	norm, err := o.normalizer.Normalize(raw, time.Now().UTC())
	if err != nil {
		report.Skipped++
		o.metrics.RecordSkipped(store.ID, 1)
		if !errors.Is(err, models.ErrNormalize) {
			o.metrics.RecordError("normalize")
		}
		return models.PriceObservation{}, false
	}
	report.Normalized++
	o.metrics.RecordNormalized(store.ID, 1)

	res, err := o.resolver.Resolve(ctx, norm)
	if err != nil {
		report.Skipped++
		o.metrics.RecordSkipped(store.ID, 1)
		o.metrics.RecordError("resolve")
		return models.PriceObservation{}, false
	}
	report.Resolved++
	o.metrics.RecordResolved(store.ID, 1)

	return models.PriceObservation{
		ProductID:  res.Product.ID,
		StoreID:    norm.StoreID,
		Price:      norm.Price,
		Currency:   norm.Currency,
		UnitKind:   norm.UnitKind,
		UnitPrice:  norm.UnitPrice,
		ObservedAt: norm.ObservedAt,
		IngestedAt: time.Now().UTC(),
	}, true
}

// throttle blocks until the store's token bucket grants one item.
func (o *IngestOrchestrator) throttle(ctx context.Context, store config.StoreConfig) {
	if o.limiter == nil || store.RateLimit <= 0 {
		return
	}
	for !o.limiter.Allow(store.ID, store.RateLimit, store.RateLimit) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}
