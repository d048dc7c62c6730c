package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
)

// MemoryPriceStore is an in-memory PriceStore used for tests and the
// "memory" storage backend. Appends keep per-product slices sorted by
// observed-at so history order holds regardless of write order.
type MemoryPriceStore struct {
	mu  sync.RWMutex
	obs map[string][]models.PriceObservation // by product id
}

func NewMemoryPriceStore() *MemoryPriceStore {
	return &MemoryPriceStore{obs: make(map[string][]models.PriceObservation)}
}

func (s *MemoryPriceStore) Record(_ context.Context, o models.PriceObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(o)
	return nil
}

func (s *MemoryPriceStore) RecordBatch(_ context.Context, batch []models.PriceObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range batch {
		s.insert(o)
	}
	return nil
}

// insert keeps the slice sorted by observed-at; equal timestamps keep both
// entries (concurrent scrapes are distinct events, no last-write-wins).
func (s *MemoryPriceStore) insert(o models.PriceObservation) {
	list := s.obs[o.ProductID]
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].ObservedAt.After(o.ObservedAt)
	})
	list = append(list, models.PriceObservation{})
	copy(list[idx+1:], list[idx:])
	list[idx] = o
	s.obs[o.ProductID] = list
}

func (s *MemoryPriceStore) History(_ context.Context, productID, storeID string, since time.Time, limit int) ([]models.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PriceObservation
	for _, o := range s.obs[productID] {
		if storeID != "" && o.StoreID != storeID {
			continue
		}
		if !since.IsZero() && o.ObservedAt.Before(since) {
			continue
		}
		out = append(out, o)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryPriceStore) Latest(_ context.Context, productID string) ([]models.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[string]models.PriceObservation)
	for _, o := range s.obs[productID] {
		// slice is observed-at ascending; the last write per store wins
		cur, ok := latest[o.StoreID]
		if !ok || !o.ObservedAt.Before(cur.ObservedAt) {
			latest[o.StoreID] = o
		}
	}
	out := make([]models.PriceObservation, 0, len(latest))
	for _, o := range latest {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StoreID < out[j].StoreID })
	return out, nil
}

func (s *MemoryPriceStore) Count(_ context.Context, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.obs[productID]), nil
}

func (s *MemoryPriceStore) Reassign(_ context.Context, fromProductID, toProductID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	moved := s.obs[fromProductID]
	if len(moved) == 0 {
		return nil
	}
	delete(s.obs, fromProductID)
	for _, o := range moved {
		o.ProductID = toProductID
		s.insert(o)
	}
	return nil
}

// ProductIDs lists products with at least one observation, sorted.
func (s *MemoryPriceStore) ProductIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.obs))
	for id := range s.obs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *MemoryPriceStore) Health(context.Context) error { return nil }
func (s *MemoryPriceStore) Close() error                 { return nil }

var _ domrepo.PriceStore = (*MemoryPriceStore)(nil)

// MemoryCatalog is an in-memory ProductCatalog with a token inverted index
// as its blocking structure.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]models.Product
	index    map[string]map[string]struct{} // token -> product ids
	merges   []models.ProductMerge
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		products: make(map[string]models.Product),
		index:    make(map[string]map[string]struct{}),
	}
}

func (c *MemoryCatalog) Get(_ context.Context, id string) (models.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return models.Product{}, models.ErrNotFound
	}
	return clone(p), nil
}

func (c *MemoryCatalog) Insert(_ context.Context, p models.Product, tokens []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = clone(p)
	c.indexTokens(p.ID, tokens)
	return nil
}

func (c *MemoryCatalog) AppendAlias(_ context.Context, productID, alias string, tokens []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return models.ErrNotFound
	}
	for _, a := range p.Aliases {
		if a == alias {
			return nil
		}
	}
	p.Aliases = append(p.Aliases, alias)
	c.products[productID] = p
	c.indexTokens(productID, tokens)
	return nil
}

func (c *MemoryCatalog) Candidates(_ context.Context, tokens []string) ([]models.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []models.Product
	for _, t := range tokens {
		for id := range c.index[t] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if p, ok := c.products[id]; ok {
				out = append(out, clone(p))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *MemoryCatalog) Merge(_ context.Context, survivorID, mergedID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	survivor, ok := c.products[survivorID]
	if !ok {
		return models.ErrNotFound
	}
	merged, ok := c.products[mergedID]
	if !ok {
		return models.ErrNotFound
	}
	for _, a := range merged.Aliases {
		dup := false
		for _, s := range survivor.Aliases {
			if s == a {
				dup = true
				break
			}
		}
		if !dup {
			survivor.Aliases = append(survivor.Aliases, a)
		}
	}
	merged.Aliases = nil
	c.products[survivorID] = survivor
	c.products[mergedID] = merged
	// repoint the index so future resolutions land on the survivor
	for _, ids := range c.index {
		if _, ok := ids[mergedID]; ok {
			delete(ids, mergedID)
			ids[survivorID] = struct{}{}
		}
	}
	c.merges = append(c.merges, models.ProductMerge{
		SurvivorID: survivorID,
		MergedID:   mergedID,
		Reason:     reason,
		MergedAt:   time.Now().UTC(),
	})
	return nil
}

func (c *MemoryCatalog) Merges(_ context.Context, productID string) ([]models.ProductMerge, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.ProductMerge
	for _, m := range c.merges {
		if m.SurvivorID == productID || m.MergedID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *MemoryCatalog) Health(context.Context) error { return nil }
func (c *MemoryCatalog) Close() error                 { return nil }

func (c *MemoryCatalog) indexTokens(id string, tokens []string) {
	for _, t := range tokens {
		ids, ok := c.index[t]
		if !ok {
			ids = make(map[string]struct{})
			c.index[t] = ids
		}
		ids[id] = struct{}{}
	}
}

func clone(p models.Product) models.Product {
	p.Aliases = append([]string(nil), p.Aliases...)
	return p
}

var _ domrepo.ProductCatalog = (*MemoryCatalog)(nil)

// MemoryForecastStore keeps the active forecast per (product, horizon) and
// the superseded history.
type MemoryForecastStore struct {
	mu         sync.RWMutex
	active     map[string]models.Forecast // key productID/horizon
	superseded []models.Forecast
}

func NewMemoryForecastStore() *MemoryForecastStore {
	return &MemoryForecastStore{active: make(map[string]models.Forecast)}
}

func fkey(productID string, horizonDays int) string {
	return productID + "/" + strconv.Itoa(horizonDays)
}

func (s *MemoryForecastStore) Active(_ context.Context, productID string, horizonDays int) (models.Forecast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.active[fkey(productID, horizonDays)]
	if !ok {
		return models.Forecast{}, models.ErrNotFound
	}
	return f, nil
}

func (s *MemoryForecastStore) Save(_ context.Context, f models.Forecast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fkey(f.ProductID, f.HorizonDays)
	if prev, ok := s.active[key]; ok {
		s.superseded = append(s.superseded, prev)
	}
	s.active[key] = f
	return nil
}

func (s *MemoryForecastStore) Close() error { return nil }

var _ domrepo.ForecastStore = (*MemoryForecastStore)(nil)
