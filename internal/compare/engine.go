// Package compare ranks current store prices for a product and enriches the
// result with the active forecast.
package compare

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	"PricePulse/internal/resolver"
	"PricePulse/pkg/cache"
	applogger "PricePulse/pkg/logger"
)

// Config tunes the comparison engine.
type Config struct {
	FreshnessWindow time.Duration // observations older than this are flagged stale
	CacheTTL        time.Duration
	DefaultLimit    int
	HorizonDays     int // forecast horizon used for enrichment lookups
}

// Engine answers "who sells this cheapest right now". Reads only; it never
// triggers fits or ingestion.
type Engine struct {
	resolver  *resolver.Resolver
	prices    domrepo.PriceStore
	forecasts domrepo.ForecastStore
	cache     cache.Service // nil disables caching
	metrics   domrepo.Metrics
	logger    *applogger.Logger
	cfg       Config
}

func New(
	res *resolver.Resolver,
	prices domrepo.PriceStore,
	forecasts domrepo.ForecastStore,
	cacheSvc cache.Service,
	metrics domrepo.Metrics,
	logger *applogger.Logger,
	cfg Config,
) *Engine {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 5
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = 48 * time.Hour
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 7
	}
	return &Engine{
		resolver:  res,
		prices:    prices,
		forecasts: forecasts,
		cache:     cacheSvc,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// CompareByName fuzzy-matches query against the catalog and returns one
// ranked store/price list per candidate product, best match first.
func (e *Engine) CompareByName(ctx context.Context, query string, limit int) ([]models.Comparison, error) {
	start := time.Now()
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}

	matches, err := e.resolver.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("compare search: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no product matches %q: %w", query, models.ErrNotFound)
	}

	now := time.Now().UTC()
	out := make([]models.Comparison, 0, len(matches))
	for _, m := range matches {
		cmp, err := e.compareProduct(ctx, m.Product, m.Confidence, now)
		if err != nil {
			e.logger.Warn("compare product failed",
				applogger.String("product_id", m.Product.ID),
				applogger.Error(err),
			)
			continue
		}
		out = append(out, cmp)
	}
	e.metrics.RecordLatency("compare", time.Since(start).Seconds())
	return out, nil
}

// CompareByID builds the ranked price list for one known product.
func (e *Engine) CompareByID(ctx context.Context, productID string) (models.Comparison, error) {
	p, err := e.resolver.Product(ctx, productID)
	if err != nil {
		return models.Comparison{}, err
	}
	return e.compareProduct(ctx, p, 1, time.Now().UTC())
}

func (e *Engine) compareProduct(ctx context.Context, p models.Product, confidence float64, now time.Time) (models.Comparison, error) {
	prices, err := e.cachedPrices(ctx, p.ID, now)
	if err != nil {
		return models.Comparison{}, err
	}

	cmp := models.Comparison{
		Product:    p,
		Confidence: confidence,
		Prices:     prices,
	}
	if f, err := e.activeForecast(ctx, p.ID, now); err == nil {
		cmp.Forecast = f
	}
	return cmp, nil
}

// cachedPrices returns the ranked latest-per-store list, consulting the
// cache first. Staleness is recomputed on every read so a cached entry can
// cross the freshness boundary without a write.
func (e *Engine) cachedPrices(ctx context.Context, productID string, now time.Time) ([]models.StorePrice, error) {
	key := cacheKey(productID)
	if e.cache != nil {
		var cached []models.StorePrice
		if err := e.cache.Get(ctx, key, &cached); err == nil {
			e.metrics.RecordLatency("compare_cache_hit", 0)
			flagStale(cached, now, e.cfg.FreshnessWindow)
			return cached, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			e.logger.Warn("compare cache read failed", applogger.Error(err))
		}
	}

	latest, err := e.prices.Latest(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("latest prices: %w", err)
	}

	out := make([]models.StorePrice, 0, len(latest))
	for _, o := range latest {
		out = append(out, models.StorePrice{
			StoreID:    o.StoreID,
			Price:      o.Price,
			Currency:   o.Currency,
			UnitKind:   o.UnitKind,
			UnitPrice:  o.UnitPrice,
			ObservedAt: o.ObservedAt,
		})
	}
	rank(out)
	flagStale(out, now, e.cfg.FreshnessWindow)

	if e.cache != nil && len(out) > 0 {
		if err := e.cache.Set(ctx, key, out, e.cfg.CacheTTL); err != nil {
			e.logger.Warn("compare cache write failed", applogger.Error(err))
		}
	}
	return out, nil
}

// History returns raw observations for a known product, oldest first. The
// product is looked up first so an unknown id reads as not found rather than
// an empty series.
func (e *Engine) History(ctx context.Context, productID, storeID string, since time.Time, limit int) ([]models.PriceObservation, error) {
	if _, err := e.resolver.Product(ctx, productID); err != nil {
		return nil, err
	}
	obs, err := e.prices.History(ctx, productID, storeID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("price history: %w", err)
	}
	return obs, nil
}

// Invalidate drops cached comparisons for the given products. The ingest
// path calls this after successful writes.
func (e *Engine) Invalidate(ctx context.Context, productIDs ...string) {
	if e.cache == nil || len(productIDs) == 0 {
		return
	}
	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = cacheKey(id)
	}
	if err := e.cache.Delete(ctx, keys...); err != nil {
		e.logger.Warn("compare cache invalidation failed", applogger.Error(err))
	}
}

func (e *Engine) activeForecast(ctx context.Context, productID string, now time.Time) (*models.Forecast, error) {
	if e.forecasts == nil {
		return nil, models.ErrNotFound
	}
	f, err := e.forecasts.Active(ctx, productID, e.cfg.HorizonDays)
	if err != nil {
		return nil, err
	}
	if f.Expired(now) {
		return nil, models.ErrNotFound
	}
	return &f, nil
}

func cacheKey(productID string) string { return "compare:" + productID }

// rank sorts unit-priced rows first, ascending by unit price, then rows
// without one ascending by raw price. Partitioning keeps the order total
// when the two kinds mix; ties break by store id.
func rank(prices []models.StorePrice) {
	sort.Slice(prices, func(i, j int) bool {
		a, b := prices[i], prices[j]
		aUnit, bUnit := a.UnitPrice > 0, b.UnitPrice > 0
		if aUnit != bUnit {
			return aUnit
		}
		if aUnit {
			if a.UnitPrice != b.UnitPrice {
				return a.UnitPrice < b.UnitPrice
			}
		} else if a.Price != b.Price {
			return a.Price < b.Price
		}
		return a.StoreID < b.StoreID
	})
}

func flagStale(prices []models.StorePrice, now time.Time, window time.Duration) {
	for i := range prices {
		prices[i].Stale = now.Sub(prices[i].ObservedAt) > window
	}
}
