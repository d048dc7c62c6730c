package models

import "time"

// RawListing is the untouched output of a source adapter. It is transient:
// once normalized it is discarded, never persisted.
type RawListing struct {
	StoreID     string
	Title       string
	Description string
	RawPrice    string // e.g. "$1.99", "1.234,56 €", "2,49/kg"
	Currency    string
	ScrapedAt   time.Time
	SourceURL   string
}

// UnitKind classifies the standard unit a listing price can be normalized to.
type UnitKind string

const (
	UnitWeight UnitKind = "weight" // grams, unit price per 100 g
	UnitVolume UnitKind = "volume" // milliliters, unit price per 100 ml
	UnitCount  UnitKind = "count"  // items, unit price per item
	UnitNone   UnitKind = ""       // no parseable package size
)

// NormalizedListing is a cleaned listing ready for resolution and storage.
// Price is in minor currency units (cents); UnitPrice is the price per
// standard unit (per 100 g, per 100 ml, or per item) when PackageSize was
// parseable, 0 otherwise.
type NormalizedListing struct {
	StoreID     string
	Name        string
	Price       int64
	Currency    string
	ObservedAt  time.Time
	UnitKind    UnitKind
	PackageSize float64 // grams, milliliters, or item count depending on UnitKind
	UnitPrice   int64
	SourceURL   string
}

// HasUnitPrice reports whether cross-package comparison by unit is possible.
func (l NormalizedListing) HasUnitPrice() bool {
	return l.UnitKind != UnitNone && l.UnitPrice > 0
}
