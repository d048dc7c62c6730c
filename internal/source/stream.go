package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"PricePulse/internal/domain/models"
	"PricePulse/pkg/config"
	applogger "PricePulse/pkg/logger"
)

// StreamAdapter consumes a store's websocket push feed. Unlike the api and
// browser adapters a push feed never "finishes", so Fetch reads until the
// feed signals end-of-snapshot, goes quiet for readWindow, or ctx expires.
type StreamAdapter struct {
	store        config.StoreConfig
	logger       *applogger.Logger
	readWindow   time.Duration
	pingInterval time.Duration
}

func NewStreamAdapter(store config.StoreConfig, logger *applogger.Logger) *StreamAdapter {
	return &StreamAdapter{
		store:        store,
		logger:       logger,
		readWindow:   30 * time.Second,
		pingInterval: 15 * time.Second,
	}
}

func (a *StreamAdapter) Store() string { return a.store.ID }

type streamItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Currency    string `json:"currency"`
	URL         string `json:"url"`
}

type streamFrame struct {
	Type string       `json:"type"` // "listing", "snapshot_end", or control
	Data []streamItem `json:"data"`
}

func (a *StreamAdapter) Fetch(ctx context.Context) (<-chan models.RawListing, <-chan error) {
	out := make(chan models.RawListing, 256)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.store.BaseURL, nil)
		if err != nil {
			errs <- fmt.Errorf("%w: store %s: %v", models.ErrSourceUnavailable, a.store.ID, err)
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(map[string]string{"type": "subscribe", "channel": "catalog"}); err != nil {
			errs <- fmt.Errorf("%w: store %s subscribe: %v", models.ErrSourceUnavailable, a.store.ID, err)
			return
		}

		// ping loop
		pingCtx, cancelPing := context.WithCancel(ctx)
		defer cancelPing()
		go func() {
			ticker := time.NewTicker(a.pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-pingCtx.Done():
					return
				case <-ticker.C:
					_ = conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}()

		deadline := time.Now().Add(a.readWindow)
		received := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_ = conn.SetReadDeadline(deadline)
			_, b, err := conn.ReadMessage()
			if err != nil {
				// Timeout at the window boundary is a normal end of snapshot.
				if received > 0 {
					a.logger.Debug("stream window closed",
						applogger.String("store", a.store.ID),
						applogger.Int("items", received),
					)
					return
				}
				errs <- fmt.Errorf("%w: store %s read: %v", models.ErrSourceUnavailable, a.store.ID, err)
				return
			}

			var frame streamFrame
			if err := json.Unmarshal(b, &frame); err != nil {
				errs <- fmt.Errorf("%w: store %s frame: %v", models.ErrParse, a.store.ID, err)
				return
			}
			if frame.Type == "snapshot_end" {
				a.logger.Debug("stream snapshot complete",
					applogger.String("store", a.store.ID),
					applogger.Int("items", received),
				)
				return
			}
			if frame.Type != "listing" {
				continue
			}

			now := time.Now().UTC()
			for _, item := range frame.Data {
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
					received++
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errs
}
