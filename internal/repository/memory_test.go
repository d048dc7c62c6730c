package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"PricePulse/internal/domain/models"
)

func obsAt(productID, storeID string, price int64, at time.Time) models.PriceObservation {
	return models.PriceObservation{
		ProductID:  productID,
		StoreID:    storeID,
		Price:      price,
		Currency:   "USD",
		ObservedAt: at,
		IngestedAt: at,
	}
}

func TestHistoryOrderedUnderConcurrentWriters(t *testing.T) {
	store := NewMemoryPriceStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				at := base.Add(time.Duration((i*writers+w)%97) * time.Minute)
				if err := store.Record(context.Background(), obsAt("p1", "s1", 100, at)); err != nil {
					t.Errorf("record: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	hist, err := store.History(context.Background(), "p1", "", time.Time{}, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != writers*perWriter {
		t.Fatalf("history len = %d, want %d", len(hist), writers*perWriter)
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].ObservedAt.Before(hist[i-1].ObservedAt) {
			t.Fatalf("history out of order at %d: %v before %v", i, hist[i].ObservedAt, hist[i-1].ObservedAt)
		}
	}
}

func TestHistoryFilters(t *testing.T) {
	store := NewMemoryPriceStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		sid := "s1"
		if i%2 == 1 {
			sid = "s2"
		}
		if err := store.Record(context.Background(), obsAt("p1", sid, int64(100+i), base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	hist, err := store.History(context.Background(), "p1", "s2", time.Time{}, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 5 {
		t.Fatalf("store filter: got %d rows, want 5", len(hist))
	}
	for _, o := range hist {
		if o.StoreID != "s2" {
			t.Fatalf("store filter leaked %q", o.StoreID)
		}
	}

	since := base.Add(6 * time.Hour)
	hist, err = store.History(context.Background(), "p1", "", since, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("limit: got %d rows, want 2", len(hist))
	}
	if hist[0].ObservedAt.Before(since) {
		t.Fatalf("since filter leaked %v", hist[0].ObservedAt)
	}
}

func TestLatestPicksNewestPerStore(t *testing.T) {
	store := NewMemoryPriceStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	batch := []models.PriceObservation{
		obsAt("p1", "s1", 100, base),
		obsAt("p1", "s1", 120, base.Add(time.Hour)),
		obsAt("p1", "s2", 90, base.Add(30*time.Minute)),
	}
	if err := store.RecordBatch(context.Background(), batch); err != nil {
		t.Fatalf("record batch: %v", err)
	}

	latest, err := store.Latest(context.Background(), "p1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("latest len = %d, want 2", len(latest))
	}
	if latest[0].StoreID != "s1" || latest[0].Price != 120 {
		t.Fatalf("s1 latest = %+v, want price 120", latest[0])
	}
	if latest[1].StoreID != "s2" || latest[1].Price != 90 {
		t.Fatalf("s2 latest = %+v, want price 90", latest[1])
	}
}

func TestReassignMovesAllObservations(t *testing.T) {
	store := NewMemoryPriceStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if err := store.Record(context.Background(), obsAt("old", "s1", 100, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := store.Record(context.Background(), obsAt("new", "s2", 200, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if err := store.Reassign(context.Background(), "old", "new"); err != nil {
		t.Fatalf("reassign: %v", err)
	}

	oldCount, _ := store.Count(context.Background(), "old")
	if oldCount != 0 {
		t.Fatalf("old count = %d after reassign", oldCount)
	}
	newCount, _ := store.Count(context.Background(), "new")
	if newCount != 7 {
		t.Fatalf("new count = %d, want 7", newCount)
	}
	hist, _ := store.History(context.Background(), "new", "", time.Time{}, 0)
	for i := 1; i < len(hist); i++ {
		if hist[i].ObservedAt.Before(hist[i-1].ObservedAt) {
			t.Fatalf("history out of order after reassign at %d", i)
		}
	}
}
