package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"PricePulse/internal/domain/models"
	"PricePulse/internal/repository"
	applogger "PricePulse/pkg/logger"
)

func testResolver() (*Resolver, *repository.MemoryCatalog, *repository.MemoryPriceStore) {
	catalog := repository.NewMemoryCatalog()
	prices := repository.NewMemoryPriceStore()
	r := New(catalog, prices, nil, applogger.Nop(), Config{
		MatchThreshold:  0.62,
		AmbiguityMargin: 0.08,
		LockStripes:     8,
	})
	return r, catalog, prices
}

func listing(store, name string) models.NormalizedListing {
	return models.NormalizedListing{
		StoreID:    store,
		Name:       name,
		Price:      199,
		Currency:   "USD",
		ObservedAt: time.Now(),
	}
}

func TestCanonicalizeStripsSizesAndNoise(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Whole Milk 1L", "whole milk"},
		{"Whole Milk, 1 Liter", "whole milk"},
		{"The Cheddar with Herbs 500 g", "cheddar herbs"},
		{"Cola 6 x 330ml", "cola"},
	}
	for _, c := range cases {
		if got := Canonicalize(c.in); got != c.want {
			t.Fatalf("Canonicalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestScoreBounds(t *testing.T) {
	if s := Score("whole milk", "whole milk"); s != 1 {
		t.Fatalf("identical score = %v", s)
	}
	if s := Score("whole milk", "dish soap"); s > 0.3 {
		t.Fatalf("unrelated score = %v", s)
	}
	s := Score("whole milk", "whole milk organic")
	if s <= 0 || s >= 1 {
		t.Fatalf("partial score out of range: %v", s)
	}
}

func TestResolveCreatesThenMatches(t *testing.T) {
	r, _, _ := testResolver()
	ctx := context.Background()

	first, err := r.Resolve(ctx, listing("s1", "Whole Milk 1L"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first.Decision != models.DecisionCreated {
		t.Fatalf("expected created, got %s", first.Decision)
	}

	second, err := r.Resolve(ctx, listing("s2", "Whole Milk, 1 Liter"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if second.Decision != models.DecisionMatched {
		t.Fatalf("expected matched, got %s (confidence %v)", second.Decision, second.Confidence)
	}
	if second.Product.ID != first.Product.ID {
		t.Fatalf("expected same product, got %s vs %s", second.Product.ID, first.Product.ID)
	}
	if second.Confidence < 0.62 {
		t.Fatalf("match confidence too low: %v", second.Confidence)
	}
}

func TestResolveIdempotent(t *testing.T) {
	r, _, _ := testResolver()
	ctx := context.Background()

	a, err := r.Resolve(ctx, listing("s1", "Organic Bananas"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	b, err := r.Resolve(ctx, listing("s1", "Organic Bananas"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a.Product.ID != b.Product.ID {
		t.Fatalf("idempotency violated: %s vs %s", a.Product.ID, b.Product.ID)
	}
	if b.Decision != models.DecisionMatched || b.Confidence != 1 {
		t.Fatalf("expected exact re-match, got %s %v", b.Decision, b.Confidence)
	}
}

func TestResolveUnrelatedCreatesSeparate(t *testing.T) {
	r, _, _ := testResolver()
	ctx := context.Background()

	milk, _ := r.Resolve(ctx, listing("s1", "Whole Milk 1L"))
	soap, err := r.Resolve(ctx, listing("s1", "Dish Soap 500ml"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if soap.Product.ID == milk.Product.ID {
		t.Fatalf("unrelated products merged")
	}
	if soap.Decision != models.DecisionCreated {
		t.Fatalf("expected created, got %s", soap.Decision)
	}
}

func TestResolveConcurrentSameItem(t *testing.T) {
	r, _, _ := testResolver()
	ctx := context.Background()

	const n = 16
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			res, err := r.Resolve(ctx, listing("s1", "Greek Yogurt 500g"))
			if err != nil {
				ids <- ""
				return
			}
			ids <- res.Product.ID
		}()
	}
	first := ""
	for i := 0; i < n; i++ {
		id := <-ids
		if id == "" {
			t.Fatalf("resolve failed")
		}
		if first == "" {
			first = id
		} else if id != first {
			t.Fatalf("concurrent resolution created duplicates: %s vs %s", id, first)
		}
	}
}

func TestMergePreservesObservationCount(t *testing.T) {
	r, catalog, prices := testResolver()
	ctx := context.Background()

	a, _ := r.Resolve(ctx, listing("s1", "Cola Zero 1.5L"))
	b, _ := r.Resolve(ctx, listing("s2", "Sparkling Water Lemon"))

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_ = prices.Record(ctx, models.PriceObservation{
			ProductID: a.Product.ID, StoreID: "s1", Price: 100, ObservedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	for i := 0; i < 2; i++ {
		_ = prices.Record(ctx, models.PriceObservation{
			ProductID: b.Product.ID, StoreID: "s2", Price: 90, ObservedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}

	merge, err := r.Merge(ctx, a.Product.ID, b.Product.ID, "same catalog id")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	// a was created first, so it survives
	if merge.SurvivorID != a.Product.ID || merge.MergedID != b.Product.ID {
		t.Fatalf("unexpected merge direction: %+v", merge)
	}

	n, _ := prices.Count(ctx, a.Product.ID)
	if n != 5 {
		t.Fatalf("merge lost observations: got %d, want 5", n)
	}
	m, _ := prices.Count(ctx, b.Product.ID)
	if m != 0 {
		t.Fatalf("merged product still has %d observations", m)
	}

	audit, _ := catalog.Merges(ctx, a.Product.ID)
	if len(audit) != 1 {
		t.Fatalf("expected one audit record, got %d", len(audit))
	}

	survivor, _ := catalog.Get(ctx, a.Product.ID)
	if len(survivor.Aliases) != 2 {
		t.Fatalf("aliases not reassigned: %v", survivor.Aliases)
	}
}

func TestMatchDecisionClassifiesScore(t *testing.T) {
	r, _, _ := testResolver()
	p := &models.Product{ID: "p1", Name: "Whole Milk"}

	if err := r.matchDecision(p, 0.70); err != nil {
		t.Fatalf("score above threshold: %v, want match", err)
	}
	if err := r.matchDecision(p, 0.58); !errors.Is(err, models.ErrResolutionAmbiguous) {
		t.Fatalf("score inside margin: %v, want ErrResolutionAmbiguous", err)
	}
	if err := r.matchDecision(p, 0.40); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("score below floor: %v, want ErrNotFound", err)
	}
	if err := r.matchDecision(nil, 0.99); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("no candidate: %v, want ErrNotFound", err)
	}
}
