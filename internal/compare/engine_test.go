package compare

import (
	"context"
	"testing"
	"time"

	"PricePulse/internal/domain/models"
	"PricePulse/internal/repository"
	"PricePulse/internal/resolver"
	"PricePulse/pkg/cache"
	applogger "PricePulse/pkg/logger"
)

func testEngine(t *testing.T, cacheSvc cache.Service) (*Engine, *repository.MemoryPriceStore, *repository.MemoryForecastStore, *resolver.Resolver) {
	t.Helper()
	catalog := repository.NewMemoryCatalog()
	prices := repository.NewMemoryPriceStore()
	forecasts := repository.NewMemoryForecastStore()
	res := resolver.New(catalog, prices, nil, applogger.Nop(), resolver.Config{
		MatchThreshold:  0.62,
		AmbiguityMargin: 0.08,
		LockStripes:     8,
	})
	e := New(res, prices, forecasts, cacheSvc, noopMetrics{}, applogger.Nop(), Config{
		FreshnessWindow: 48 * time.Hour,
		CacheTTL:        30 * time.Second,
		DefaultLimit:    5,
		HorizonDays:     7,
	})
	return e, prices, forecasts, res
}

type noopMetrics struct{}

func (noopMetrics) RecordFetched(string, int)             {}
func (noopMetrics) RecordNormalized(string, int)          {}
func (noopMetrics) RecordResolved(string, int)            {}
func (noopMetrics) RecordSkipped(string, int)             {}
func (noopMetrics) RecordError(string)                    {}
func (noopMetrics) RecordResolution(string, float64)      {}
func (noopMetrics) RecordLatency(string, float64)         {}
func (noopMetrics) RecordLastPrice(string, string, int64) {}

func seedProduct(t *testing.T, res *resolver.Resolver, prices *repository.MemoryPriceStore, name string, storePrices map[string]int64) string {
	t.Helper()
	ctx := context.Background()
	r, err := res.Resolve(ctx, models.NormalizedListing{
		StoreID:    "seed",
		Name:       name,
		Price:      1,
		Currency:   "USD",
		ObservedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed resolve: %v", err)
	}
	for store, p := range storePrices {
		if err := prices.Record(ctx, models.PriceObservation{
			ProductID:  r.Product.ID,
			StoreID:    store,
			Price:      p,
			Currency:   "USD",
			ObservedAt: time.Now().Add(-time.Hour),
		}); err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}
	return r.Product.ID
}

func TestCompareRanksByPrice(t *testing.T) {
	e, prices, _, res := testEngine(t, nil)
	seedProduct(t, res, prices, "Whole Milk 1L", map[string]int64{
		"s1": 229,
		"s2": 199,
		"s3": 249,
	})

	out, err := e.CompareByName(context.Background(), "whole milk", 5)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("comparisons = %d, want 1", len(out))
	}
	got := out[0].Prices
	if len(got) != 3 {
		t.Fatalf("store prices = %d, want 3", len(got))
	}
	if got[0].Price != 199 || got[1].Price != 229 || got[2].Price != 249 {
		t.Fatalf("wrong ranking: %+v", got)
	}
}

func TestCompareTieBreaksByStoreID(t *testing.T) {
	e, prices, _, res := testEngine(t, nil)
	id := seedProduct(t, res, prices, "Organic Bananas", nil)
	ctx := context.Background()
	for _, store := range []string{"zebra", "alpha", "mid"} {
		_ = prices.Record(ctx, models.PriceObservation{
			ProductID: id, StoreID: store, Price: 150, Currency: "USD",
			ObservedAt: time.Now().Add(-time.Minute),
		})
	}

	cmp, err := e.CompareByID(ctx, id)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	var order []string
	for _, p := range cmp.Prices {
		if p.Price == 150 {
			order = append(order, p.StoreID)
		}
	}
	if len(order) != 3 || order[0] != "alpha" || order[1] != "mid" || order[2] != "zebra" {
		t.Fatalf("tie order = %v, want alphabetical store ids", order)
	}
}

func TestCompareUnitPriceBeatsRawPrice(t *testing.T) {
	e, prices, _, res := testEngine(t, nil)
	id := seedProduct(t, res, prices, "Cheddar Block", nil)
	ctx := context.Background()

	// Bigger pack costs more in absolute terms but less per 100 g.
	_ = prices.Record(ctx, models.PriceObservation{
		ProductID: id, StoreID: "bulk", Price: 800, UnitKind: models.UnitWeight, UnitPrice: 160,
		Currency: "USD", ObservedAt: time.Now().Add(-time.Minute),
	})
	_ = prices.Record(ctx, models.PriceObservation{
		ProductID: id, StoreID: "small", Price: 400, UnitKind: models.UnitWeight, UnitPrice: 200,
		Currency: "USD", ObservedAt: time.Now().Add(-time.Minute),
	})

	cmp, err := e.CompareByID(ctx, id)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	var unitRanked []string
	for _, p := range cmp.Prices {
		if p.UnitPrice > 0 {
			unitRanked = append(unitRanked, p.StoreID)
		}
	}
	if len(unitRanked) != 2 || unitRanked[0] != "bulk" {
		t.Fatalf("unit price ranking = %v, want bulk first", unitRanked)
	}
}

func TestRankMixedUnitRowsIsOrderIndependent(t *testing.T) {
	// The pairwise rules alone would cycle here: bulk beats tub on unit
	// price, loose beats bulk on raw price, tub beats loose on raw price.
	rows := []models.StorePrice{
		{StoreID: "bulk", Price: 800, UnitPrice: 160},
		{StoreID: "loose", Price: 400},
		{StoreID: "tub", Price: 300, UnitPrice: 200},
	}
	want := []string{"bulk", "tub", "loose"}

	perms := [][]int{{0, 1, 2}, {2, 0, 1}, {1, 2, 0}, {2, 1, 0}}
	for _, perm := range perms {
		in := make([]models.StorePrice, len(rows))
		for i, p := range perm {
			in[i] = rows[p]
		}
		rank(in)
		for i, id := range want {
			if in[i].StoreID != id {
				t.Fatalf("perm %v: order = %v, want %v", perm, storeIDs(in), want)
			}
		}
	}
}

func storeIDs(prices []models.StorePrice) []string {
	out := make([]string, len(prices))
	for i, p := range prices {
		out[i] = p.StoreID
	}
	return out
}

func TestCompareFlagsStaleNeverDrops(t *testing.T) {
	e, prices, _, res := testEngine(t, nil)
	id := seedProduct(t, res, prices, "Dish Soap", nil)
	ctx := context.Background()

	_ = prices.Record(ctx, models.PriceObservation{
		ProductID: id, StoreID: "fresh", Price: 299, Currency: "USD",
		ObservedAt: time.Now().Add(-time.Hour),
	})
	_ = prices.Record(ctx, models.PriceObservation{
		ProductID: id, StoreID: "old", Price: 279, Currency: "USD",
		ObservedAt: time.Now().Add(-72 * time.Hour),
	})

	cmp, err := e.CompareByID(ctx, id)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	found := map[string]bool{}
	for _, p := range cmp.Prices {
		found[p.StoreID] = p.Stale
	}
	stale, ok := found["old"]
	if !ok {
		t.Fatalf("stale store dropped from comparison")
	}
	if !stale {
		t.Fatalf("72h-old observation not flagged stale")
	}
	if found["fresh"] {
		t.Fatalf("1h-old observation flagged stale")
	}
}

func TestCompareForecastEnrichment(t *testing.T) {
	e, prices, forecasts, res := testEngine(t, nil)
	id := seedProduct(t, res, prices, "Greek Yogurt", map[string]int64{"s1": 349})
	ctx := context.Background()

	if err := forecasts.Save(ctx, models.Forecast{
		ProductID:    id,
		GeneratedAt:  time.Now().UTC(),
		HorizonDays:  7,
		Predicted:    339,
		ErrorBound:   20,
		ModelVersion: "v1",
		Observations: 12,
	}); err != nil {
		t.Fatalf("save forecast: %v", err)
	}

	cmp, err := e.CompareByID(ctx, id)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp.Forecast == nil || cmp.Forecast.Predicted != 339 {
		t.Fatalf("forecast not attached: %+v", cmp.Forecast)
	}
}

func TestCompareExpiredForecastExcluded(t *testing.T) {
	e, prices, forecasts, res := testEngine(t, nil)
	id := seedProduct(t, res, prices, "Cola Zero", map[string]int64{"s1": 179})
	ctx := context.Background()

	_ = forecasts.Save(ctx, models.Forecast{
		ProductID:   id,
		GeneratedAt: time.Now().UTC().AddDate(0, 0, -10),
		HorizonDays: 7,
		Predicted:   169,
	})

	cmp, err := e.CompareByID(ctx, id)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp.Forecast != nil {
		t.Fatalf("expired forecast attached: %+v", cmp.Forecast)
	}
}

func TestCompareCacheHitAndInvalidate(t *testing.T) {
	mem := cache.NewMemoryCache()
	defer mem.Close()
	e, prices, _, res := testEngine(t, mem)
	id := seedProduct(t, res, prices, "Sparkling Water", map[string]int64{"s1": 99})
	ctx := context.Background()

	first, err := e.CompareByID(ctx, id)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}

	// A write the cache has not seen yet: cached result must still serve.
	_ = prices.Record(ctx, models.PriceObservation{
		ProductID: id, StoreID: "s2", Price: 89, Currency: "USD",
		ObservedAt: time.Now(),
	})
	cached, err := e.CompareByID(ctx, id)
	if err != nil {
		t.Fatalf("compare cached: %v", err)
	}
	if len(cached.Prices) != len(first.Prices) {
		t.Fatalf("expected cached result, got %d prices", len(cached.Prices))
	}

	// Invalidation exposes the new store.
	e.Invalidate(ctx, id)
	refreshed, err := e.CompareByID(ctx, id)
	if err != nil {
		t.Fatalf("compare refreshed: %v", err)
	}
	if len(refreshed.Prices) != len(first.Prices)+1 {
		t.Fatalf("invalidation did not refresh: %d prices", len(refreshed.Prices))
	}
}

func TestCompareNoMatches(t *testing.T) {
	e, _, _, _ := testEngine(t, nil)
	_, err := e.CompareByName(context.Background(), "definitely not a product", 5)
	if err == nil {
		t.Fatalf("expected error for empty catalog")
	}
}
