package models

import "time"

// PriceObservation is one scrape event. Immutable once written; corrections
// are new observations. Two concurrent scrapes of the same (product, store)
// are both real events and both retained.
type PriceObservation struct {
	ProductID  string    `json:"product_id"`
	StoreID    string    `json:"store_id"`
	Price      int64     `json:"price"` // minor currency units
	Currency   string    `json:"currency"`
	UnitKind   UnitKind  `json:"unit_kind,omitempty"`
	UnitPrice  int64     `json:"unit_price,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	IngestedAt time.Time `json:"ingested_at"`
}

// StorePrice is one row of a comparison result: the latest observation for a
// store, flagged stale when older than the freshness window instead of being
// dropped.
type StorePrice struct {
	StoreID    string    `json:"store_id"`
	Price      int64     `json:"price"`
	Currency   string    `json:"currency"`
	UnitKind   UnitKind  `json:"unit_kind,omitempty"`
	UnitPrice  int64     `json:"unit_price,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	Stale      bool      `json:"stale"`
}

// Comparison is the ranked store/price list for one candidate product.
type Comparison struct {
	Product    Product      `json:"product"`
	Confidence float64      `json:"confidence"`
	Prices     []StorePrice `json:"prices"`
	Forecast   *Forecast    `json:"forecast,omitempty"`
}
