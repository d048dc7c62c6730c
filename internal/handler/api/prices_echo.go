package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"PricePulse/internal/compare"
	models "PricePulse/internal/domain/models"
	"PricePulse/internal/predict"
	"PricePulse/internal/resolver"
	"PricePulse/internal/service/ratelimit"
	"PricePulse/internal/usecase"
	"PricePulse/pkg/config"
	xhttp "PricePulse/pkg/http"
	xlogger "PricePulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HealthCheck probes one dependency. Registered checks run on /healthz.
type HealthCheck func(ctx context.Context) error

// PricesEchoHandler exposes the price comparison, trend, and catalog API.
type PricesEchoHandler struct {
	logger       *xlogger.Logger
	engine       *compare.Engine
	trainer      *predict.Trainer
	resolver     *resolver.Resolver
	orchestrator *usecase.IngestOrchestrator
	stores       []config.StoreConfig
	rl           *ratelimit.Limiter
	checks       map[string]HealthCheck
}

func NewPricesEchoHandler(
	logger *xlogger.Logger,
	engine *compare.Engine,
	trainer *predict.Trainer,
	res *resolver.Resolver,
	orchestrator *usecase.IngestOrchestrator,
	stores []config.StoreConfig,
) *PricesEchoHandler {
	return &PricesEchoHandler{
		logger:       logger,
		engine:       engine,
		trainer:      trainer,
		resolver:     res,
		orchestrator: orchestrator,
		stores:       stores,
		rl:           ratelimit.New(),
		checks:       make(map[string]HealthCheck),
	}
}

// AddHealthCheck registers a named dependency probe for /healthz.
func (h *PricesEchoHandler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

func (h *PricesEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)

	prices := e.Group("/prices")
	prices.GET("/compare", h.Compare)
	prices.GET("/trend/:product_id", h.Trend)
	prices.GET("/history/:product_id", h.History)

	products := e.Group("/products")
	products.GET("/search", h.SearchProducts)
	products.GET("/:id", h.GetProduct)

	e.GET("/stores", h.Stores)

	internal := e.Group("/internal")
	internal.POST("/ingest/run", h.RunIngest)
}

func (h *PricesEchoHandler) Compare(c echo.Context) error {
	req := &models.CompareRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":compare", 10, 5) {
		return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
	}

	res, err := h.engine.CompareByName(c.Request().Context(), req.Query, req.Limit)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no products match %q", req.Query))
		}
		h.logger.Error("compare error", xlogger.String("query", req.Query), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

// TrendResponse pairs the predictor state with the active forecast, if any.
// Reason carries "insufficient_data" when history is too short to fit.
type TrendResponse struct {
	ProductID string            `json:"product_id"`
	State     models.TrainState `json:"state"`
	Reason    string            `json:"reason,omitempty"`
	Forecast  *models.Forecast  `json:"forecast,omitempty"`
}

func (h *PricesEchoHandler) Trend(c echo.Context) error {
	req := &models.TrendRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	if _, err := h.resolver.Product(ctx, req.ProductID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("product %s not found", req.ProductID))
		}
		h.logger.Error("trend product lookup error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	resp := TrendResponse{
		ProductID: req.ProductID,
		State:     h.trainer.State(ctx, req.ProductID),
	}
	f, err := h.trainer.Forecast(ctx, req.ProductID, req.Horizon)
	switch {
	case err == nil:
		resp.Forecast = &f
	case errors.Is(err, models.ErrNotFound):
		// No active forecast. Say why when too little history is the cause.
		if !h.trainer.HasMinimumHistory(ctx, req.ProductID) {
			resp.Reason = "insufficient_data"
		}
	default:
		h.logger.Error("trend forecast error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, resp)
}

func (h *PricesEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	since := xhttp.ParseTimeDefault(req.Since, time.Time{})

	obs, err := h.engine.History(c.Request().Context(), req.ProductID, req.StoreID, since, req.Limit)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("product %s not found", req.ProductID))
		}
		h.logger.Error("history error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, obs, int64(len(obs)))
}

func (h *PricesEchoHandler) SearchProducts(c echo.Context) error {
	req := &models.ProductSearchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	matches, err := h.resolver.Search(c.Request().Context(), req.Query, req.Limit)
	if err != nil {
		h.logger.Error("product search error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, matches, int64(len(matches)))
}

// ProductResponse is a product with its merge audit trail.
type ProductResponse struct {
	Product models.Product        `json:"product"`
	Merges  []models.ProductMerge `json:"merges,omitempty"`
}

func (h *PricesEchoHandler) GetProduct(c echo.Context) error {
	req := &models.ProductGetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	p, err := h.resolver.Product(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("product %s not found", req.ProductID))
		}
		h.logger.Error("product lookup error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	merges, err := h.resolver.MergeHistory(ctx, req.ProductID)
	if err != nil {
		h.logger.Error("merge history error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, ProductResponse{Product: p, Merges: merges})
}

// StoreInfo is the public view of a configured store.
type StoreInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Adapter  string `json:"adapter"`
	Currency string `json:"currency"`
}

func (h *PricesEchoHandler) Stores(c echo.Context) error {
	out := make([]StoreInfo, 0, len(h.stores))
	for _, s := range h.stores {
		out = append(out, StoreInfo{ID: s.ID, Name: s.Name, Adapter: s.Adapter, Currency: s.Currency})
	}
	return xhttp.ListResponse(c, out, int64(len(out)))
}

func (h *PricesEchoHandler) RunIngest(c echo.Context) error {
	summary, err := h.orchestrator.Run(c.Request().Context())
	if err != nil {
		h.logger.Error("ingest run error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, summary)
}

func (h *PricesEchoHandler) Healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
		} else {
			status[name] = "ok"
		}
	}
	if !healthy {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, status)
	}
	return xhttp.SuccessResponse(c, status)
}
