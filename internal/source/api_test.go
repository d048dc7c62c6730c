package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"PricePulse/internal/domain/models"
	"PricePulse/pkg/config"
	applogger "PricePulse/pkg/logger"
)

func drainFetch(t *testing.T, out <-chan models.RawListing, errs <-chan error) ([]models.RawListing, error) {
	t.Helper()
	var listings []models.RawListing
	var err error
	for out != nil || errs != nil {
		select {
		case l, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			listings = append(listings, l)
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if e != nil {
				err = e
			}
		}
	}
	return listings, err
}

func apiAdapterFor(url string) *APIAdapter {
	return NewAPIAdapter(config.StoreConfig{
		ID: "s1", Name: "Store One", Adapter: "api", BaseURL: url, Currency: "USD",
	}, applogger.Nop())
}

func TestAPIFetchBadBodyIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>maintenance</body></html>"))
	}))
	defer srv.Close()

	out, errs := apiAdapterFor(srv.URL).Fetch(context.Background())
	listings, err := drainFetch(t, out, errs)
	if len(listings) != 0 {
		t.Fatalf("listings = %d, want 0", len(listings))
	}
	if !errors.Is(err, models.ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
	if errors.Is(err, models.ErrSourceUnavailable) {
		t.Fatalf("non-catalog body misreported as source unavailable: %v", err)
	}
}

func TestAPIFetchServerErrorIsSourceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	out, errs := apiAdapterFor(srv.URL).Fetch(context.Background())
	_, err := drainFetch(t, out, errs)
	if !errors.Is(err, models.ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestAPIFetchUnreachableIsSourceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	out, errs := apiAdapterFor(srv.URL).Fetch(context.Background())
	_, err := drainFetch(t, out, errs)
	if !errors.Is(err, models.ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestAPIFetchForwardsMalformedItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[
			{"title":"Whole Milk 1L","price":"$1.99"},
			{"title":"Mystery Item","price":""},
			{"title":"","price":"$0.50"}
		]}`))
	}))
	defer srv.Close()

	out, errs := apiAdapterFor(srv.URL).Fetch(context.Background())
	listings, err := drainFetch(t, out, errs)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	// Malformed items are not dropped here; normalization rejects and
	// counts them downstream.
	if len(listings) != 3 {
		t.Fatalf("listings = %d, want 3", len(listings))
	}
	if listings[0].Title != "Whole Milk 1L" || listings[0].RawPrice != "$1.99" {
		t.Fatalf("first listing = %+v", listings[0])
	}
	for _, l := range listings {
		if l.StoreID != "s1" || l.Currency != "USD" {
			t.Fatalf("store defaults not applied: %+v", l)
		}
	}
}
