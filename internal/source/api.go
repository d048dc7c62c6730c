package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PricePulse/internal/domain/models"
	"PricePulse/pkg/config"
	xhttp "PricePulse/pkg/http"
	applogger "PricePulse/pkg/logger"
)

// APIAdapter fetches a store's JSON catalog endpoint. One Fetch call is one
// full catalog snapshot.
type APIAdapter struct {
	store  config.StoreConfig
	client *xhttp.Client
	logger *applogger.Logger
}

func NewAPIAdapter(store config.StoreConfig, logger *applogger.Logger) *APIAdapter {
	return &APIAdapter{
		store:  store,
		client: xhttp.NewClient(xhttp.WithTimeout(30 * time.Second)),
		logger: logger,
	}
}

func (a *APIAdapter) Store() string { return a.store.ID }

// catalog item as exposed by store APIs
type apiItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Currency    string `json:"currency"`
	URL         string `json:"url"`
}

type apiCatalog struct {
	Items []apiItem `json:"items"`
}

func (a *APIAdapter) Fetch(ctx context.Context) (<-chan models.RawListing, <-chan error) {
	out := make(chan models.RawListing, 256)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		var body []byte
		err := a.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method: xhttp.MethodGet,
			URL:    a.store.BaseURL,
		}, &body)
		if err != nil {
			errs <- fmt.Errorf("%w: store %s: %v", models.ErrSourceUnavailable, a.store.ID, err)
			return
		}

		// A reachable endpoint serving a non-catalog body is a parse
		// failure, not an availability one.
		var catalog apiCatalog
		if err := json.Unmarshal(body, &catalog); err != nil {
			errs <- fmt.Errorf("%w: store %s: %v", models.ErrParse, a.store.ID, err)
			return
		}

		now := time.Now().UTC()
		for _, item := range catalog.Items {
			currency := item.Currency
			if currency == "" {
				currency = a.store.Currency
			}
			listing := models.RawListing{
				StoreID:     a.store.ID,
				Title:       item.Title,
				Description: item.Description,
				RawPrice:    item.Price,
				Currency:    currency,
				ScrapedAt:   now,
				SourceURL:   item.URL,
			}
			select {
			case out <- listing:
			case <-ctx.Done():
				return
			}
		}
		a.logger.Debug("api catalog fetched",
			applogger.String("store", a.store.ID),
			applogger.Int("items", len(catalog.Items)),
		)
	}()

	return out, errs
}
