package models

import "time"

// StoreReport aggregates per-item outcomes of one store's ingestion run.
// Per-item failures stay inside the stage that produced them; only the
// counts and a terminal error escalate.
type StoreReport struct {
	StoreID    string `json:"store_id"`
	Fetched    int    `json:"fetched"`
	Normalized int    `json:"normalized"`
	Resolved   int    `json:"resolved"`
	Skipped    int    `json:"skipped"` // malformed / unparseable items
	Failed     bool   `json:"failed"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error,omitempty"`
}

// RunSummary is the result of one orchestrator sweep.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ms"`
	Reports    []StoreReport `json:"reports"`
	TotalItems int           `json:"total_items"`
}

// FailedStores lists stores whose run ended in a terminal failure.
func (s RunSummary) FailedStores() []string {
	var out []string
	for _, r := range s.Reports {
		if r.Failed {
			out = append(out, r.StoreID)
		}
	}
	return out
}
