package predict

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	applogger "PricePulse/pkg/logger"
)

// ErrFitInProgress is returned when a product already has a fit running.
var ErrFitInProgress = errors.New("predict: fit already in progress")

// Config tunes the trainer.
type Config struct {
	MinObservations int
	HorizonDays     int
	RetrainAfter    int // new observations since last fit that trigger retrain
	FitTimeout      time.Duration
}

type productState struct {
	state       models.TrainState
	lastFitN    int
	lastFitTime time.Time
}

// Trainer owns the per-product predictor state machine:
// Untrained -> Training -> Trained -> Stale -> Training. Fits never run in
// the read path; they are driven by the retrain queue.
type Trainer struct {
	prices    domrepo.PriceStore
	forecasts domrepo.ForecastStore
	metrics   domrepo.Metrics
	logger    *applogger.Logger
	cfg       Config

	mu     sync.Mutex
	states map[string]*productState
}

func NewTrainer(
	prices domrepo.PriceStore,
	forecasts domrepo.ForecastStore,
	metrics domrepo.Metrics,
	logger *applogger.Logger,
	cfg Config,
) *Trainer {
	if cfg.MinObservations <= 0 {
		cfg.MinObservations = 8
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 7
	}
	if cfg.RetrainAfter <= 0 {
		cfg.RetrainAfter = 10
	}
	return &Trainer{
		prices:    prices,
		forecasts: forecasts,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		states:    make(map[string]*productState),
	}
}

// Train fits the product's model and saves the resulting forecast.
// Below the minimum history it returns ErrInsufficientData, which is a
// legitimate state rather than a failure. A failed or cancelled fit keeps
// the prior forecast active.
func (t *Trainer) Train(ctx context.Context, productID string) (models.Forecast, error) {
	st, err := t.beginFit(productID)
	if err != nil {
		return models.Forecast{}, err
	}

	forecast, err := t.fit(ctx, productID)
	t.endFit(st, err)
	if err != nil {
		return models.Forecast{}, err
	}
	return forecast, nil
}

func (t *Trainer) beginFit(productID string) (*productState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[productID]
	if st == nil {
		st = &productState{state: models.StateUntrained}
		t.states[productID] = st
	}
	if st.state == models.StateTraining {
		return nil, ErrFitInProgress
	}
	st.state = models.StateTraining
	return st, nil
}

func (t *Trainer) endFit(st *productState, fitErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case fitErr == nil:
		st.state = models.StateTrained
		st.lastFitTime = time.Now().UTC()
	case errors.Is(fitErr, models.ErrInsufficientData):
		st.state = models.StateUntrained
	default:
		// fit failed or was cancelled; prior forecast (if any) stays active
		if st.lastFitN > 0 {
			st.state = models.StateTrained
		} else {
			st.state = models.StateUntrained
		}
	}
}

func (t *Trainer) fit(ctx context.Context, productID string) (models.Forecast, error) {
	if t.cfg.FitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.FitTimeout)
		defer cancel()
	}
	start := time.Now()

	history, err := t.prices.History(ctx, productID, "", time.Time{}, 0)
	if err != nil {
		return models.Forecast{}, fmt.Errorf("fit history: %w", err)
	}
	if len(history) < t.cfg.MinObservations {
		return models.Forecast{}, fmt.Errorf("%w: %d observations, need %d",
			models.ErrInsufficientData, len(history), t.cfg.MinObservations)
	}
	if err := ctx.Err(); err != nil {
		return models.Forecast{}, err
	}

	model, err := fitTrend(history)
	if err != nil {
		t.metrics.RecordError("model_fit")
		return models.Forecast{}, err
	}
	forecast := model.forecast(productID, time.Now().UTC(), t.cfg.HorizonDays)

	if err := t.forecasts.Save(ctx, forecast); err != nil {
		return models.Forecast{}, fmt.Errorf("save forecast: %w", err)
	}

	t.mu.Lock()
	if st := t.states[productID]; st != nil {
		st.lastFitN = len(history)
	}
	t.mu.Unlock()

	t.metrics.RecordLatency("model_fit", time.Since(start).Seconds())
	t.logger.Info("model fitted",
		applogger.String("product_id", productID),
		applogger.Int("observations", len(history)),
		applogger.Int64("predicted", forecast.Predicted),
		applogger.Int64("error_bound", forecast.ErrorBound),
	)
	return forecast, nil
}

// Forecast returns the active forecast for a product at the given horizon
// (0 means the configured default). A forecast past its horizon flips the
// product to Stale and is reported as ErrNotFound.
func (t *Trainer) Forecast(ctx context.Context, productID string, horizonDays int) (models.Forecast, error) {
	if horizonDays <= 0 {
		horizonDays = t.cfg.HorizonDays
	}
	f, err := t.forecasts.Active(ctx, productID, horizonDays)
	if err != nil {
		return models.Forecast{}, err
	}
	if f.Expired(time.Now().UTC()) {
		t.markStale(productID)
		return models.Forecast{}, fmt.Errorf("forecast expired: %w", models.ErrNotFound)
	}
	return f, nil
}

// State reports the product's current predictor state, refreshing staleness
// against the active forecast.
func (t *Trainer) State(ctx context.Context, productID string) models.TrainState {
	t.mu.Lock()
	st := t.states[productID]
	var current models.TrainState
	if st == nil {
		current = models.StateUntrained
	} else {
		current = st.state
	}
	t.mu.Unlock()

	if current != models.StateTrained {
		return current
	}
	f, err := t.forecasts.Active(ctx, productID, t.cfg.HorizonDays)
	if err == nil && f.Expired(time.Now().UTC()) {
		t.markStale(productID)
		return models.StateStale
	}
	return current
}

func (t *Trainer) markStale(productID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st := t.states[productID]; st != nil && st.state == models.StateTrained {
		st.state = models.StateStale
	}
}

// HasMinimumHistory reports whether the product has enough observations for
// a fit at all.
func (t *Trainer) HasMinimumHistory(ctx context.Context, productID string) bool {
	n, err := t.prices.Count(ctx, productID)
	return err == nil && n >= t.cfg.MinObservations
}

// TrackedProducts lists products the trainer has seen, for the periodic
// retrain sweep.
func (t *Trainer) TrackedProducts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.states))
	for id := range t.states {
		out = append(out, id)
	}
	return out
}

// NeedsRetrain reports whether enough new observations arrived since the
// last fit, or the product was never fitted but has enough history.
func (t *Trainer) NeedsRetrain(ctx context.Context, productID string) bool {
	n, err := t.prices.Count(ctx, productID)
	if err != nil || n < t.cfg.MinObservations {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[productID]
	if st == nil || st.lastFitN == 0 {
		return true
	}
	if st.state == models.StateStale {
		return true
	}
	return n-st.lastFitN >= t.cfg.RetrainAfter
}
