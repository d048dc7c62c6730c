package models

import "time"

// TrainState is the per-product predictor state machine.
type TrainState string

const (
	StateUntrained TrainState = "untrained"
	StateTraining  TrainState = "training"
	StateTrained   TrainState = "trained"
	StateStale     TrainState = "stale"
)

// Forecast is a short-horizon price prediction for one product. One active
// forecast per (product, horizon); retraining supersedes, never deletes.
type Forecast struct {
	ProductID    string    `json:"product_id"`
	GeneratedAt  time.Time `json:"generated_at"`
	HorizonDays  int       `json:"horizon_days"`
	Predicted    int64     `json:"predicted"`   // minor currency units
	ErrorBound   int64     `json:"error_bound"` // +/- minor currency units
	ModelVersion string    `json:"model_version"`
	Observations int       `json:"observations"` // history size at fit time
}

// Expired reports whether this forecast is past its horizon and must not be
// used for comparison enrichment.
func (f Forecast) Expired(now time.Time) bool {
	return now.After(f.GeneratedAt.AddDate(0, 0, f.HorizonDays))
}
