package normalize

import (
	"errors"
	"testing"
	"time"

	"PricePulse/internal/domain/models"
	applogger "PricePulse/pkg/logger"
)

func TestParseMinorUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"$1.99", 199},
		{"1,99 €", 199},
		{"2.49", 249},
		{"1,234.56", 123456},
		{"1.234,56", 123456},
		{"1 234,56", 123456},
		{"12,5", 1250},
		{"3", 300},
		{"£0.89", 89},
		{"1.234", 123400}, // lone dot with 3-digit group reads as thousands
	}
	for _, c := range cases {
		got, err := ParseMinorUnits(c.in)
		if err != nil {
			t.Fatalf("ParseMinorUnits(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseMinorUnits(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseMinorUnitsUnparseable(t *testing.T) {
	for _, in := range []string{"", "free", "call for price"} {
		if _, err := ParseMinorUnits(in); !errors.Is(err, models.ErrNormalize) {
			t.Fatalf("ParseMinorUnits(%q): expected ErrNormalize, got %v", in, err)
		}
	}
}

func TestParseMinorUnitsRoundTrip(t *testing.T) {
	// Re-rendering the minor-units value in either locale must parse back
	// to the same integer.
	for _, v := range []int64{0, 89, 199, 1250, 123456, 999999999} {
		us := RenderMinorUnits(v, '.', ',')
		eu := RenderMinorUnits(v, ',', '.')
		for _, s := range []string{us, eu} {
			got, err := ParseMinorUnits(s)
			if err != nil {
				t.Fatalf("round-trip %d via %q: %v", v, s, err)
			}
			if got != v {
				t.Fatalf("round-trip %d via %q = %d", v, s, got)
			}
		}
	}
}

func TestParsePackage(t *testing.T) {
	cases := []struct {
		in   string
		kind models.UnitKind
		size float64
	}{
		{"Whole Milk 1L", models.UnitVolume, 1000},
		{"Whole Milk, 1 Liter", models.UnitVolume, 1000},
		{"Cheddar 500 g", models.UnitWeight, 500},
		{"Flour 1.5kg", models.UnitWeight, 1500},
		{"Cola 6 x 330ml", models.UnitVolume, 1980},
		{"Eggs 12 pack", models.UnitCount, 12},
		{"Butter 0,25 kg", models.UnitWeight, 250},
	}
	for _, c := range cases {
		kind, size, ok := ParsePackage(c.in)
		if !ok {
			t.Fatalf("ParsePackage(%q): not parsed", c.in)
		}
		if kind != c.kind || size != c.size {
			t.Fatalf("ParsePackage(%q) = (%s, %v), want (%s, %v)", c.in, kind, size, c.kind, c.size)
		}
	}

	if _, _, ok := ParsePackage("Bananas"); ok {
		t.Fatalf("expected no package for plain name")
	}
}

func TestNormalize(t *testing.T) {
	n := New(applogger.Nop(), "USD")
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	out, err := n.Normalize(models.RawListing{
		StoreID:   "s1",
		Title:     "  Whole   Milk 1L ",
		RawPrice:  "$1.99",
		ScrapedAt: now.Add(-time.Hour),
	}, now)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.Name != "Whole Milk 1L" {
		t.Fatalf("unexpected name %q", out.Name)
	}
	if out.Price != 199 || out.Currency != "USD" {
		t.Fatalf("unexpected price %d %s", out.Price, out.Currency)
	}
	if out.UnitKind != models.UnitVolume || out.PackageSize != 1000 {
		t.Fatalf("unexpected unit %s %v", out.UnitKind, out.PackageSize)
	}
	// 199 cents per 1000 ml -> 20 cents per 100 ml (rounded)
	if out.UnitPrice != 20 {
		t.Fatalf("unexpected unit price %d", out.UnitPrice)
	}
}

func TestNormalizeClampsFutureTimestamp(t *testing.T) {
	n := New(applogger.Nop(), "USD")
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	out, err := n.Normalize(models.RawListing{
		StoreID:   "s1",
		Title:     "Bread",
		RawPrice:  "2.10",
		ScrapedAt: now.Add(time.Hour),
	}, now)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !out.ObservedAt.Equal(now) {
		t.Fatalf("expected observed-at clamped to now, got %v", out.ObservedAt)
	}
}

func TestNormalizeRejectsBadPrice(t *testing.T) {
	n := New(applogger.Nop(), "USD")
	_, err := n.Normalize(models.RawListing{StoreID: "s1", Title: "Milk", RawPrice: "n/a"}, time.Now())
	if !errors.Is(err, models.ErrNormalize) {
		t.Fatalf("expected ErrNormalize, got %v", err)
	}
}
