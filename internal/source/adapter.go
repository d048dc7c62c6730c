// Package source contains the per-store fetch adapters. An adapter performs
// network I/O only and emits raw listings on a channel; normalization,
// resolution, and storage happen downstream.
package source

import (
	"context"
	"fmt"

	"PricePulse/internal/domain/models"
	"PricePulse/pkg/config"
	applogger "PricePulse/pkg/logger"
)

// Adapter fetches raw listings from one retail source. Fetch closes both
// channels when the source is exhausted or ctx is cancelled.
type Adapter interface {
	Store() string
	Fetch(ctx context.Context) (<-chan models.RawListing, <-chan error)
}

// New builds the adapter named by the store's config.
func New(store config.StoreConfig, logger *applogger.Logger) (Adapter, error) {
	switch store.Adapter {
	case "api":
		return NewAPIAdapter(store, logger), nil
	case "stream":
		return NewStreamAdapter(store, logger), nil
	case "browser":
		return NewBrowserAdapter(store, logger), nil
	default:
		return nil, fmt.Errorf("store %s: unknown adapter %q", store.ID, store.Adapter)
	}
}
