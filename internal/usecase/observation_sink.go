package usecase

import (
	"context"
	"fmt"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
)

// CompareInvalidator drops cached comparison entries for products whose
// prices just changed.
type CompareInvalidator interface {
	Invalidate(ctx context.Context, productIDs ...string)
}

// ObservationSink routes resolved observations to the configured backend:
// "direct" writes straight to the price store, "kafka" publishes and lets the
// consumer side do the write.
type ObservationSink struct {
	pub     domrepo.ListingPublisher
	store   domrepo.PriceStore
	metrics domrepo.Metrics
	backend string
	inv     CompareInvalidator
}

// SetInvalidator attaches the compare-cache invalidator. Optional; set after
// construction because the compare engine is built later in wiring.
func (s *ObservationSink) SetInvalidator(inv CompareInvalidator) { s.inv = inv }

func NewObservationSink(
	pub domrepo.ListingPublisher,
	store domrepo.PriceStore,
	metrics domrepo.Metrics,
	backend string,
) *ObservationSink {
	return &ObservationSink{
		pub:     pub,
		store:   store,
		metrics: metrics,
		backend: backend,
	}
}

// Write persists a single observation via the configured backend.
func (s *ObservationSink) Write(ctx context.Context, obs models.PriceObservation) error {
	return s.WriteBatch(ctx, []models.PriceObservation{obs})
}

// WriteBatch persists a batch of observations via the configured backend.
func (s *ObservationSink) WriteBatch(ctx context.Context, obs []models.PriceObservation) error {
	if len(obs) == 0 {
		return nil
	}

	start := time.Now()
	var err error
	switch s.backend {
	case "kafka":
		err = s.pub.PublishBatch(ctx, obs)
	case "direct":
		err = s.store.RecordBatch(ctx, obs)
	default:
		err = fmt.Errorf("unknown backend: %s", s.backend)
	}
	if err != nil {
		s.metrics.RecordError("sink_write")
		return fmt.Errorf("write observations: %w", err)
	}

	// Publishing alone changes nothing a reader can see; in kafka mode the
	// consumer fans out once the store write lands.
	if s.backend == "direct" {
		touched := make(map[string]struct{}, len(obs))
		for _, o := range obs {
			s.metrics.RecordLastPrice(o.ProductID, o.StoreID, o.Price)
			touched[o.ProductID] = struct{}{}
		}
		if s.inv != nil {
			ids := make([]string, 0, len(touched))
			for id := range touched {
				ids = append(ids, id)
			}
			s.inv.Invalidate(ctx, ids...)
		}
	}
	s.metrics.RecordLatency("sink_write", time.Since(start).Seconds())
	return nil
}

// Close closes underlying resources if available.
func (s *ObservationSink) Close() {
	if s.pub != nil {
		_ = s.pub.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}
