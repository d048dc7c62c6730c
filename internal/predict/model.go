// Package predict fits short-horizon price trend models and manages
// per-product retraining.
package predict

import (
	"math"
	"sort"
	"time"

	"PricePulse/internal/domain/models"
)

// ModelVersion identifies the fitted model family. Bump when the fit
// procedure changes so stored forecasts can be told apart.
const ModelVersion = "lintrend-dow-v1"

// trendModel is a least-squares linear trend on observation time plus
// per-weekday offsets fitted on the residuals.
type trendModel struct {
	intercept float64
	slope     float64 // minor units per day
	dow       [7]float64
	rmse      float64
	origin    time.Time
	n         int
}

// fitTrend fits on the given history. Observations must be non-empty; the
// caller enforces the minimum-count policy. Degenerate inputs (all points at
// one instant) return ErrModelFit.
func fitTrend(obs []models.PriceObservation) (*trendModel, error) {
	if len(obs) == 0 {
		return nil, models.ErrModelFit
	}

	sorted := make([]models.PriceObservation, len(obs))
	copy(sorted, obs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ObservedAt.Before(sorted[j].ObservedAt) })

	// Fit on unit price only when the whole series has one; mixing per-unit
	// and per-package values in one series would skew the trend.
	useUnit := true
	for _, o := range sorted {
		if o.UnitPrice <= 0 {
			useUnit = false
			break
		}
	}

	origin := sorted[0].ObservedAt
	xs := make([]float64, len(sorted))
	ys := make([]float64, len(sorted))
	for i, o := range sorted {
		xs[i] = o.ObservedAt.Sub(origin).Hours() / 24
		if useUnit {
			ys[i] = float64(o.UnitPrice)
		} else {
			ys[i] = float64(o.Price)
		}
	}

	n := float64(len(xs))
	var sumX, sumY, sumXX, sumXY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXX += xs[i] * xs[i]
		sumXY += xs[i] * ys[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		// all observations at the same instant; no trend is fittable
		return nil, models.ErrModelFit
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	// Day-of-week offsets from the linear residuals.
	var dowSum [7]float64
	var dowCount [7]int
	for i, o := range sorted {
		resid := ys[i] - (intercept + slope*xs[i])
		wd := int(o.ObservedAt.Weekday())
		dowSum[wd] += resid
		dowCount[wd]++
	}
	m := &trendModel{
		intercept: intercept,
		slope:     slope,
		origin:    origin,
		n:         len(sorted),
	}
	for i := range dowSum {
		if dowCount[i] > 0 {
			m.dow[i] = dowSum[i] / float64(dowCount[i])
		}
	}

	var sse float64
	for i, o := range sorted {
		pred := m.at(o.ObservedAt)
		diff := ys[i] - pred
		sse += diff * diff
	}
	m.rmse = math.Sqrt(sse / n)
	if math.IsNaN(m.rmse) || math.IsInf(m.rmse, 0) {
		return nil, models.ErrModelFit
	}
	return m, nil
}

// at evaluates the model at t.
func (m *trendModel) at(t time.Time) float64 {
	x := t.Sub(m.origin).Hours() / 24
	return m.intercept + m.slope*x + m.dow[int(t.Weekday())]
}

// forecast produces the point prediction and error bound for now+horizon.
// The bound is the residual RMSE widened with the horizon, so further-out
// predictions carry honestly larger uncertainty.
func (m *trendModel) forecast(productID string, now time.Time, horizonDays int) models.Forecast {
	target := now.AddDate(0, 0, horizonDays)
	predicted := m.at(target)
	if predicted < 0 {
		predicted = 0
	}
	bound := m.rmse * math.Sqrt(float64(horizonDays))
	if bound < m.rmse {
		bound = m.rmse
	}
	return models.Forecast{
		ProductID:    productID,
		GeneratedAt:  now,
		HorizonDays:  horizonDays,
		Predicted:    int64(math.Round(predicted)),
		ErrorBound:   int64(math.Ceil(bound)),
		ModelVersion: ModelVersion,
		Observations: m.n,
	}
}
