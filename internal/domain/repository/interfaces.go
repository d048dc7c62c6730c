package repository

import (
	"context"
	"time"

	"PricePulse/internal/domain/models"
)

// PriceStore is the append-only time-series store of price observations.
// Record never overwrites; corrections are new observations. History is
// re-queryable and always time-ordered ascending.
type PriceStore interface {
	Record(ctx context.Context, obs models.PriceObservation) error
	RecordBatch(ctx context.Context, obs []models.PriceObservation) error
	// History returns observations for a product, optionally filtered by
	// store and lower time bound, in non-decreasing observed-at order.
	History(ctx context.Context, productID, storeID string, since time.Time, limit int) ([]models.PriceObservation, error)
	// Latest returns the most recent observation per store for a product.
	Latest(ctx context.Context, productID string) ([]models.PriceObservation, error)
	// Count returns the observation count for a product (retrain trigger).
	Count(ctx context.Context, productID string) (int, error)
	// Reassign moves all observations from one product to another. Only the
	// merge path calls this; appends stay immutable.
	Reassign(ctx context.Context, fromProductID, toProductID string) error
	Health(ctx context.Context) error
	Close() error
}

// ProductCatalog owns products, their aliases, and the merge audit trail.
// Tokens are the resolver's blocking keys for an alias; Candidates returns
// only products sharing at least one token, keeping resolution sub-O(n²).
type ProductCatalog interface {
	Get(ctx context.Context, id string) (models.Product, error)
	Insert(ctx context.Context, p models.Product, tokens []string) error
	AppendAlias(ctx context.Context, productID, alias string, tokens []string) error
	Candidates(ctx context.Context, tokens []string) ([]models.Product, error)
	// Merge moves mergedID's aliases under survivorID and records the audit
	// row. Observation reassignment is the caller's job via PriceStore.
	Merge(ctx context.Context, survivorID, mergedID, reason string) error
	Merges(ctx context.Context, productID string) ([]models.ProductMerge, error)
	Health(ctx context.Context) error
	Close() error
}

// ForecastStore owns forecast records. One active forecast per
// (product, horizon); Save supersedes the previous one without deleting it.
type ForecastStore interface {
	Active(ctx context.Context, productID string, horizonDays int) (models.Forecast, error)
	Save(ctx context.Context, f models.Forecast) error
	Close() error
}

// ListingPublisher ships resolved observations to the transport backend
// (Kafka) for asynchronous storage.
type ListingPublisher interface {
	Publish(ctx context.Context, obs models.PriceObservation) error
	PublishBatch(ctx context.Context, obs []models.PriceObservation) error
	Close() error
}

// Metrics records pipeline and query instrumentation.
type Metrics interface {
	RecordFetched(storeID string, n int)
	RecordNormalized(storeID string, n int)
	RecordResolved(storeID string, n int)
	RecordSkipped(storeID string, n int)
	RecordError(kind string)
	RecordResolution(decision string, confidence float64)
	RecordLatency(op string, seconds float64)
	RecordLastPrice(productID, storeID string, price int64)
}
