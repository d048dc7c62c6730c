package models

import "time"

// Product is the canonical identity of one grocery item across stores.
// Products are never deleted; duplicates are merged with the older product
// surviving, and every merge leaves an audit record.
type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Aliases   []string  `json:"aliases"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ProductMerge is the audit record of merging src into dst.
type ProductMerge struct {
	SurvivorID string    `json:"survivor_id"`
	MergedID   string    `json:"merged_id"`
	Reason     string    `json:"reason"`
	MergedAt   time.Time `json:"merged_at"`
}

// Store is static reference data for one retail source. Ingestion never
// mutates it.
type Store struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	BaseURL   string  `json:"base_url"`
	Adapter   string  `json:"adapter"`
	RateLimit float64 `json:"rate_limit"`
	Currency  string  `json:"currency"`
}

// ResolutionDecision is the outcome of one resolver call.
type ResolutionDecision string

const (
	DecisionMatched   ResolutionDecision = "matched"
	DecisionCreated   ResolutionDecision = "created"
	DecisionAmbiguous ResolutionDecision = "ambiguous" // near threshold; a new product was created
)

// Resolution pairs a product with the confidence behind the decision, so
// every match is observable and bad merges can be traced.
type Resolution struct {
	Product    Product            `json:"product"`
	Decision   ResolutionDecision `json:"decision"`
	Confidence float64            `json:"confidence"`
}
