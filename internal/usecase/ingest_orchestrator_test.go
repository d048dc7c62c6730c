package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"PricePulse/internal/domain/models"
	"PricePulse/internal/normalize"
	"PricePulse/internal/repository"
	"PricePulse/internal/resolver"
	"PricePulse/internal/source"
	"PricePulse/pkg/config"
	applogger "PricePulse/pkg/logger"
)

type stubMetrics struct{}

func (stubMetrics) RecordFetched(string, int)             {}
func (stubMetrics) RecordNormalized(string, int)          {}
func (stubMetrics) RecordResolved(string, int)            {}
func (stubMetrics) RecordSkipped(string, int)             {}
func (stubMetrics) RecordError(string)                    {}
func (stubMetrics) RecordResolution(string, float64)      {}
func (stubMetrics) RecordLatency(string, float64)         {}
func (stubMetrics) RecordLastPrice(string, string, int64) {}

// fakeAdapter emits preset listings, failing the first failures attempts.
type fakeAdapter struct {
	storeID  string
	listings []models.RawListing
	failures int

	mu       sync.Mutex
	attempts int
}

func (f *fakeAdapter) Store() string { return f.storeID }

func (f *fakeAdapter) Fetch(ctx context.Context) (<-chan models.RawListing, <-chan error) {
	out := make(chan models.RawListing, len(f.listings))
	errs := make(chan error, 1)

	f.mu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errs)
		if fail {
			errs <- errors.New("connection refused")
			return
		}
		for _, l := range f.listings {
			out <- l
		}
	}()
	return out, errs
}

func raw(store, title, price string) models.RawListing {
	return models.RawListing{
		StoreID:   store,
		Title:     title,
		RawPrice:  price,
		Currency:  "USD",
		ScrapedAt: time.Now(),
	}
}

func testOrchestrator(t *testing.T, adapters map[string]*fakeAdapter) (*IngestOrchestrator, *repository.MemoryPriceStore) {
	t.Helper()
	catalog := repository.NewMemoryCatalog()
	prices := repository.NewMemoryPriceStore()
	res := resolver.New(catalog, prices, nil, applogger.Nop(), resolver.Config{
		MatchThreshold:  0.62,
		AmbiguityMargin: 0.08,
		LockStripes:     8,
	})
	sink := NewObservationSink(nil, prices, stubMetrics{}, "direct")
	norm := normalize.New(applogger.Nop(), "USD")

	stores := make([]config.StoreConfig, 0, len(adapters))
	adapterMap := make(map[string]source.Adapter, len(adapters))
	for id, a := range adapters {
		stores = append(stores, config.StoreConfig{ID: id, Name: id, Adapter: "api", Currency: "USD"})
		adapterMap[id] = a
	}

	o := NewIngestOrchestrator(stores, adapterMap, norm, res, sink, nil, stubMetrics{}, applogger.Nop(), IngestConfig{
		Workers:     2,
		MaxAttempts: 3,
		BackoffMin:  time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
		BatchSize:   10,
	})
	return o, prices
}

func TestRunHappyPath(t *testing.T) {
	adapters := map[string]*fakeAdapter{
		"s1": {storeID: "s1", listings: []models.RawListing{
			raw("s1", "Whole Milk 1L", "$1.99"),
			raw("s1", "Organic Bananas", "$0.69"),
		}},
		"s2": {storeID: "s2", listings: []models.RawListing{
			raw("s2", "Whole Milk, 1 Liter", "$2.09"),
		}},
	}
	o, prices := testOrchestrator(t, adapters)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.TotalItems != 3 {
		t.Fatalf("total items = %d, want 3", summary.TotalItems)
	}
	if len(summary.FailedStores()) != 0 {
		t.Fatalf("unexpected failed stores: %v", summary.FailedStores())
	}
	for _, r := range summary.Reports {
		if r.Attempts != 1 {
			t.Fatalf("store %s attempts = %d, want 1", r.StoreID, r.Attempts)
		}
	}

	for _, r := range summary.Reports {
		if r.StoreID == "s1" && r.Resolved != 2 {
			t.Fatalf("s1 resolved = %d, want 2", r.Resolved)
		}
	}

	// Both milk listings must land on one product observed at two stores,
	// bananas on a second product.
	products := distinctProducts(t, prices)
	if len(products) != 2 {
		t.Fatalf("distinct products = %d, want 2 (milk, bananas)", len(products))
	}
	counts := []int{}
	for _, n := range products {
		counts = append(counts, n)
	}
	sort.Ints(counts)
	if counts[0] != 1 || counts[1] != 2 {
		t.Fatalf("observation counts = %v, want [1 2]", counts)
	}
}

func distinctProducts(t *testing.T, prices *repository.MemoryPriceStore) map[string]int {
	t.Helper()
	out := make(map[string]int)
	for _, id := range prices.ProductIDs() {
		n, err := prices.Count(context.Background(), id)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		out[id] = n
	}
	return out
}

func TestRunStoreFailureIsIsolated(t *testing.T) {
	adapters := map[string]*fakeAdapter{
		"good": {storeID: "good", listings: []models.RawListing{
			raw("good", "Greek Yogurt 500g", "$3.49"),
		}},
		"down": {storeID: "down", failures: 99},
	}
	o, _ := testOrchestrator(t, adapters)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	failed := summary.FailedStores()
	if len(failed) != 1 || failed[0] != "down" {
		t.Fatalf("failed stores = %v, want [down]", failed)
	}
	for _, r := range summary.Reports {
		switch r.StoreID {
		case "down":
			if !r.Failed || r.Attempts != 3 {
				t.Fatalf("down: failed=%v attempts=%d, want failed after 3 attempts", r.Failed, r.Attempts)
			}
			if r.Error == "" {
				t.Fatalf("down: missing error")
			}
		case "good":
			if r.Failed || r.Resolved != 1 {
				t.Fatalf("good: failed=%v resolved=%d", r.Failed, r.Resolved)
			}
		}
	}
	if summary.TotalItems != 1 {
		t.Fatalf("total items = %d, want 1", summary.TotalItems)
	}
}

func TestRunRetrySucceeds(t *testing.T) {
	adapters := map[string]*fakeAdapter{
		"flaky": {storeID: "flaky", failures: 2, listings: []models.RawListing{
			raw("flaky", "Dish Soap 500ml", "$2.99"),
		}},
	}
	o, _ := testOrchestrator(t, adapters)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	r := summary.Reports[0]
	if r.Failed {
		t.Fatalf("flaky store should recover: %+v", r)
	}
	if r.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", r.Attempts)
	}
	if r.Resolved != 1 {
		t.Fatalf("resolved = %d, want 1", r.Resolved)
	}
}

func TestRunSkipsMalformedItems(t *testing.T) {
	adapters := map[string]*fakeAdapter{
		"s1": {storeID: "s1", listings: []models.RawListing{
			raw("s1", "Whole Milk 1L", "$1.99"),
			raw("s1", "Mystery Item", "call for price"),
			raw("s1", "Unpriced Item", ""),
		}},
	}
	o, _ := testOrchestrator(t, adapters)

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	r := summary.Reports[0]
	if r.Fetched != 3 || r.Normalized != 1 || r.Skipped != 2 || r.Resolved != 1 {
		t.Fatalf("report = %+v, want fetched=3 normalized=1 skipped=2 resolved=1", r)
	}
	if r.Failed {
		t.Fatalf("per-item skip must not fail the store")
	}
}
