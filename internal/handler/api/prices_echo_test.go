package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"PricePulse/internal/compare"
	"PricePulse/internal/domain/models"
	"PricePulse/internal/predict"
	"PricePulse/internal/repository"
	"PricePulse/internal/resolver"
	applogger "PricePulse/pkg/logger"
)

type stubMetrics struct{}

func (stubMetrics) RecordFetched(string, int)             {}
func (stubMetrics) RecordNormalized(string, int)          {}
func (stubMetrics) RecordResolved(string, int)            {}
func (stubMetrics) RecordSkipped(string, int)             {}
func (stubMetrics) RecordError(string)                    {}
func (stubMetrics) RecordResolution(string, float64)      {}
func (stubMetrics) RecordLatency(string, float64)         {}
func (stubMetrics) RecordLastPrice(string, string, int64) {}

// trendFixture builds a handler over memory stores with one product holding
// the given number of daily observations.
func trendFixture(t *testing.T, observations int) (*PricesEchoHandler, *predict.Trainer, string) {
	t.Helper()
	catalog := repository.NewMemoryCatalog()
	prices := repository.NewMemoryPriceStore()
	forecasts := repository.NewMemoryForecastStore()
	res := resolver.New(catalog, prices, nil, applogger.Nop(), resolver.Config{
		MatchThreshold:  0.62,
		AmbiguityMargin: 0.08,
		LockStripes:     8,
	})

	ctx := context.Background()
	r, err := res.Resolve(ctx, models.NormalizedListing{
		StoreID: "s1", Name: "Whole Milk 1L", Price: 199, Currency: "USD", ObservedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	base := time.Now().UTC().AddDate(0, 0, -observations)
	for i := 0; i < observations; i++ {
		if err := prices.Record(ctx, models.PriceObservation{
			ProductID: r.Product.ID, StoreID: "s1", Price: int64(199 + i), Currency: "USD",
			ObservedAt: base.AddDate(0, 0, i),
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	trainer := predict.NewTrainer(prices, forecasts, stubMetrics{}, applogger.Nop(), predict.Config{
		MinObservations: 8,
		HorizonDays:     7,
		RetrainAfter:    10,
	})
	engine := compare.New(res, prices, forecasts, nil, stubMetrics{}, applogger.Nop(), compare.Config{})
	h := NewPricesEchoHandler(applogger.Nop(), engine, trainer, res, nil, nil)
	return h, trainer, r.Product.ID
}

func callTrend(t *testing.T, h *PricesEchoHandler, productID string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/prices/trend/"+productID, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/prices/trend/:product_id")
	c.SetParamNames("product_id")
	c.SetParamValues(productID)
	if err := h.Trend(c); err != nil {
		t.Fatalf("trend: %v", err)
	}
	return rec
}

func TestTrendReportsInsufficientData(t *testing.T) {
	h, _, id := trendFixture(t, 2)

	rec := callTrend(t, h, id)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"reason":"insufficient_data"`) {
		t.Fatalf("missing insufficient_data marker: %s", body)
	}
	if strings.Contains(body, `"forecast"`) {
		t.Fatalf("unexpected forecast with sparse history: %s", body)
	}
}

func TestTrendReturnsForecastOnceTrained(t *testing.T) {
	h, trainer, id := trendFixture(t, 12)
	if _, err := trainer.Train(context.Background(), id); err != nil {
		t.Fatalf("train: %v", err)
	}

	rec := callTrend(t, h, id)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "insufficient_data") {
		t.Fatalf("trained product flagged insufficient: %s", body)
	}
	if !strings.Contains(body, `"forecast"`) {
		t.Fatalf("missing forecast: %s", body)
	}
}
