package predict

import (
	"context"
	"errors"
	"testing"
	"time"

	"PricePulse/internal/domain/models"
	"PricePulse/internal/repository"
	applogger "PricePulse/pkg/logger"
)

type noopMetrics struct{}

func (noopMetrics) RecordFetched(string, int)             {}
func (noopMetrics) RecordNormalized(string, int)          {}
func (noopMetrics) RecordResolved(string, int)            {}
func (noopMetrics) RecordSkipped(string, int)             {}
func (noopMetrics) RecordError(string)                    {}
func (noopMetrics) RecordResolution(string, float64)      {}
func (noopMetrics) RecordLatency(string, float64)         {}
func (noopMetrics) RecordLastPrice(string, string, int64) {}

// scriptedPrices serves a fixed history so tests can swap what a refit sees.
type scriptedPrices struct {
	history []models.PriceObservation
}

func (s *scriptedPrices) Record(context.Context, models.PriceObservation) error { return nil }
func (s *scriptedPrices) RecordBatch(context.Context, []models.PriceObservation) error {
	return nil
}
func (s *scriptedPrices) History(context.Context, string, string, time.Time, int) ([]models.PriceObservation, error) {
	return s.history, nil
}
func (s *scriptedPrices) Latest(context.Context, string) ([]models.PriceObservation, error) {
	return nil, nil
}
func (s *scriptedPrices) Count(context.Context, string) (int, error) { return len(s.history), nil }
func (s *scriptedPrices) Reassign(context.Context, string, string) error {
	return nil
}
func (s *scriptedPrices) Health(context.Context) error { return nil }
func (s *scriptedPrices) Close() error                 { return nil }

func dailyHistory(productID string, days int, base, step int64) []models.PriceObservation {
	start := time.Now().UTC().AddDate(0, 0, -days)
	obs := make([]models.PriceObservation, 0, days)
	for i := 0; i < days; i++ {
		obs = append(obs, models.PriceObservation{
			ProductID:  productID,
			StoreID:    "freshmart",
			Price:      base + step*int64(i),
			Currency:   "USD",
			ObservedAt: start.AddDate(0, 0, i),
		})
	}
	return obs
}

func newTestTrainer(prices *scriptedPrices) (*Trainer, *repository.MemoryForecastStore) {
	forecasts := repository.NewMemoryForecastStore()
	tr := NewTrainer(prices, forecasts, noopMetrics{}, applogger.Nop(), Config{
		MinObservations: 8,
		HorizonDays:     7,
		RetrainAfter:    10,
	})
	return tr, forecasts
}

func TestFitTrendRecoversRisingTrend(t *testing.T) {
	obs := dailyHistory("p1", 14, 1000, 10)
	m, err := fitTrend(obs)
	if err != nil {
		t.Fatalf("fitTrend: %v", err)
	}
	if m.slope < 9 || m.slope > 11 {
		t.Fatalf("slope = %.3f, want ~10/day", m.slope)
	}

	now := obs[len(obs)-1].ObservedAt
	f := m.forecast("p1", now, 7)
	last := obs[len(obs)-1].Price
	// seven more days of +10/day on top of the last point
	want := last + 70
	if f.Predicted < want-15 || f.Predicted > want+15 {
		t.Fatalf("Predicted = %d, want ~%d", f.Predicted, want)
	}
	if f.ErrorBound < 0 {
		t.Fatalf("ErrorBound = %d, want >= 0", f.ErrorBound)
	}
	if f.ModelVersion != ModelVersion {
		t.Fatalf("ModelVersion = %q", f.ModelVersion)
	}
	if f.Observations != 14 {
		t.Fatalf("Observations = %d, want 14", f.Observations)
	}
}

func TestFitTrendUsesUnitPriceWhenComplete(t *testing.T) {
	obs := dailyHistory("p1", 10, 5000, 0)
	for i := range obs {
		obs[i].UnitKind = models.UnitWeight
		obs[i].UnitPrice = 250 + int64(i)
	}
	m, err := fitTrend(obs)
	if err != nil {
		t.Fatalf("fitTrend: %v", err)
	}
	f := m.forecast("p1", obs[len(obs)-1].ObservedAt, 7)
	// fitted on the unit series, not the flat package price
	if f.Predicted >= 1000 {
		t.Fatalf("Predicted = %d, expected a unit-price scale value", f.Predicted)
	}
	if f.Predicted < 255 {
		t.Fatalf("Predicted = %d, want above the last unit price trend", f.Predicted)
	}
}

func TestFitTrendMixedUnitFallsBackToRawPrice(t *testing.T) {
	obs := dailyHistory("p1", 10, 1000, 5)
	obs[3].UnitPrice = 250 // a single unit price must not switch the series
	m, err := fitTrend(obs)
	if err != nil {
		t.Fatalf("fitTrend: %v", err)
	}
	f := m.forecast("p1", obs[len(obs)-1].ObservedAt, 7)
	if f.Predicted < 900 {
		t.Fatalf("Predicted = %d, expected raw-price scale value", f.Predicted)
	}
}

func TestFitTrendDegenerateInstant(t *testing.T) {
	at := time.Now().UTC()
	obs := make([]models.PriceObservation, 8)
	for i := range obs {
		obs[i] = models.PriceObservation{ProductID: "p1", StoreID: "s", Price: 100, ObservedAt: at}
	}
	if _, err := fitTrend(obs); !errors.Is(err, models.ErrModelFit) {
		t.Fatalf("err = %v, want ErrModelFit", err)
	}
}

func TestTrainInsufficientDataIsAState(t *testing.T) {
	prices := &scriptedPrices{history: dailyHistory("p1", 5, 1000, 10)}
	tr, forecasts := newTestTrainer(prices)

	_, err := tr.Train(context.Background(), "p1")
	if !errors.Is(err, models.ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
	if st := tr.State(context.Background(), "p1"); st != models.StateUntrained {
		t.Fatalf("state = %q, want untrained", st)
	}
	if _, err := forecasts.Active(context.Background(), "p1", 7); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Active err = %v, want ErrNotFound", err)
	}
}

func TestTrainSavesForecastAndTransitions(t *testing.T) {
	prices := &scriptedPrices{history: dailyHistory("p1", 12, 1000, 10)}
	tr, _ := newTestTrainer(prices)

	f, err := tr.Train(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if f.ProductID != "p1" || f.HorizonDays != 7 {
		t.Fatalf("forecast = %+v", f)
	}
	if st := tr.State(context.Background(), "p1"); st != models.StateTrained {
		t.Fatalf("state = %q, want trained", st)
	}

	got, err := tr.Forecast(context.Background(), "p1", 0)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if got.Predicted != f.Predicted {
		t.Fatalf("Forecast Predicted = %d, want %d", got.Predicted, f.Predicted)
	}
}

func TestFailedRefitKeepsPriorForecast(t *testing.T) {
	prices := &scriptedPrices{history: dailyHistory("p1", 12, 1000, 10)}
	tr, _ := newTestTrainer(prices)

	first, err := tr.Train(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	// degenerate history: every point at one instant
	at := time.Now().UTC()
	broken := make([]models.PriceObservation, 10)
	for i := range broken {
		broken[i] = models.PriceObservation{ProductID: "p1", StoreID: "s", Price: 100, ObservedAt: at}
	}
	prices.history = broken

	if _, err := tr.Train(context.Background(), "p1"); !errors.Is(err, models.ErrModelFit) {
		t.Fatalf("refit err = %v, want ErrModelFit", err)
	}
	if st := tr.State(context.Background(), "p1"); st != models.StateTrained {
		t.Fatalf("state after failed refit = %q, want trained", st)
	}
	got, err := tr.Forecast(context.Background(), "p1", 0)
	if err != nil {
		t.Fatalf("Forecast after failed refit: %v", err)
	}
	if got.Predicted != first.Predicted {
		t.Fatalf("prior forecast lost: got %d, want %d", got.Predicted, first.Predicted)
	}
}

func TestTrainRejectsConcurrentFit(t *testing.T) {
	prices := &scriptedPrices{history: dailyHistory("p1", 12, 1000, 10)}
	tr, _ := newTestTrainer(prices)

	st, err := tr.beginFit("p1")
	if err != nil {
		t.Fatalf("beginFit: %v", err)
	}
	if _, err := tr.Train(context.Background(), "p1"); !errors.Is(err, ErrFitInProgress) {
		t.Fatalf("err = %v, want ErrFitInProgress", err)
	}
	tr.endFit(st, nil)

	if _, err := tr.Train(context.Background(), "p1"); err != nil {
		t.Fatalf("Train after release: %v", err)
	}
}

func TestNeedsRetrain(t *testing.T) {
	prices := &scriptedPrices{history: dailyHistory("p1", 12, 1000, 10)}
	tr, _ := newTestTrainer(prices)
	ctx := context.Background()

	// enough history, never fitted
	if !tr.NeedsRetrain(ctx, "p1") {
		t.Fatal("want retrain before first fit")
	}
	if _, err := tr.Train(ctx, "p1"); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if tr.NeedsRetrain(ctx, "p1") {
		t.Fatal("no retrain right after a fit")
	}

	// ten more observations cross the retrain threshold
	prices.history = dailyHistory("p1", 22, 1000, 10)
	if !tr.NeedsRetrain(ctx, "p1") {
		t.Fatal("want retrain after threshold of new observations")
	}

	// below the minimum history there is never a retrain
	prices.history = dailyHistory("p2", 3, 1000, 10)
	if tr.NeedsRetrain(ctx, "p2") {
		t.Fatal("no retrain below minimum history")
	}
}
