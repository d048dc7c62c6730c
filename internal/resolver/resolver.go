package resolver

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	applogger "PricePulse/pkg/logger"
)

// Config carries the named matching thresholds. False merges corrupt price
// history for unrelated products, so the ambiguous band defaults to a new
// product: splits are cheaper to repair than merges.
type Config struct {
	MatchThreshold  float64 // >= attaches the listing as an alias
	AmbiguityMargin float64 // band below the threshold treated as ambiguous
	LockStripes     int
}

// Resolver maps normalized listings to canonical products. Writes are
// serialized per blocking-bucket through striped locks so two concurrent
// listings of the same new item cannot race into duplicate products.
type Resolver struct {
	catalog domrepo.ProductCatalog
	prices  domrepo.PriceStore
	metrics domrepo.Metrics
	logger  *applogger.Logger
	cfg     Config
	stripes []sync.Mutex
}

func New(catalog domrepo.ProductCatalog, prices domrepo.PriceStore, metrics domrepo.Metrics, logger *applogger.Logger, cfg Config) *Resolver {
	if cfg.LockStripes <= 0 {
		cfg.LockStripes = 64
	}
	return &Resolver{
		catalog: catalog,
		prices:  prices,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		stripes: make([]sync.Mutex, cfg.LockStripes),
	}
}

// Resolve attaches the listing to an existing product or creates a new one.
// The returned Resolution always carries the confidence score behind the
// decision.
func (r *Resolver) Resolve(ctx context.Context, listing models.NormalizedListing) (models.Resolution, error) {
	canonical := Canonicalize(listing.Name)
	if canonical == "" {
		canonical = strings.ToLower(strings.TrimSpace(listing.Name))
	}
	if canonical == "" {
		return models.Resolution{}, fmt.Errorf("resolve: empty name")
	}
	tokens := Tokens(canonical)

	stripe := r.stripeFor(tokens)
	stripe.Lock()
	defer stripe.Unlock()

	best, bestScore, err := r.bestCandidate(ctx, canonical, tokens)
	if err != nil {
		return models.Resolution{}, fmt.Errorf("resolve candidates: %w", err)
	}

	switch derr := r.matchDecision(best, bestScore); {
	case derr == nil:
		if !hasAlias(best, listing.Name) {
			if err := r.catalog.AppendAlias(ctx, best.ID, listing.Name, tokens); err != nil {
				return models.Resolution{}, fmt.Errorf("append alias: %w", err)
			}
			best.Aliases = append(best.Aliases, listing.Name)
		}
		r.observe(models.DecisionMatched, bestScore)
		return models.Resolution{Product: *best, Decision: models.DecisionMatched, Confidence: bestScore}, nil

	case errors.Is(derr, models.ErrResolutionAmbiguous):
		// Near the threshold: not confident enough to merge histories.
		p, err := r.create(ctx, listing, tokens)
		if err != nil {
			return models.Resolution{}, err
		}
		if r.logger != nil {
			r.logger.Warn("ambiguous resolution, created new product",
				applogger.String("name", listing.Name),
				applogger.String("nearest", best.Name),
				applogger.Float64("score", bestScore),
			)
		}
		r.observe(models.DecisionAmbiguous, bestScore)
		return models.Resolution{Product: p, Decision: models.DecisionAmbiguous, Confidence: bestScore}, nil

	default:
		p, err := r.create(ctx, listing, tokens)
		if err != nil {
			return models.Resolution{}, err
		}
		r.observe(models.DecisionCreated, bestScore)
		return models.Resolution{Product: p, Decision: models.DecisionCreated, Confidence: bestScore}, nil
	}
}

// Search scores the query against the catalog and returns candidates above
// the ambiguity floor, best first. Read-only; no locks taken.
func (r *Resolver) Search(ctx context.Context, query string, limit int) ([]models.Resolution, error) {
	canonical := Canonicalize(query)
	if canonical == "" {
		canonical = strings.ToLower(strings.TrimSpace(query))
	}
	tokens := Tokens(canonical)

	cands, err := r.catalog.Candidates(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("search candidates: %w", err)
	}

	floor := r.cfg.MatchThreshold - r.cfg.AmbiguityMargin
	out := make([]models.Resolution, 0, len(cands))
	for i := range cands {
		score := r.scoreProduct(canonical, &cands[i])
		if score < floor {
			continue
		}
		out = append(out, models.Resolution{Product: cands[i], Decision: models.DecisionMatched, Confidence: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Product.ID < out[j].Product.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Product looks up one product by id.
func (r *Resolver) Product(ctx context.Context, id string) (models.Product, error) {
	return r.catalog.Get(ctx, id)
}

// MergeHistory returns the merge audit rows touching a product.
func (r *Resolver) MergeHistory(ctx context.Context, productID string) ([]models.ProductMerge, error) {
	return r.catalog.Merges(ctx, productID)
}

// Merge folds two products that a higher-confidence signal (curation, shared
// catalog id) identified as the same item. The older product survives; the
// other's aliases and observations move over, and the audit trail records it.
func (r *Resolver) Merge(ctx context.Context, idA, idB, reason string) (models.ProductMerge, error) {
	a, err := r.catalog.Get(ctx, idA)
	if err != nil {
		return models.ProductMerge{}, fmt.Errorf("merge: %w", err)
	}
	b, err := r.catalog.Get(ctx, idB)
	if err != nil {
		return models.ProductMerge{}, fmt.Errorf("merge: %w", err)
	}
	if a.ID == b.ID {
		return models.ProductMerge{}, fmt.Errorf("merge: identical products")
	}

	survivor, merged := a, b
	if b.CreatedAt.Before(a.CreatedAt) {
		survivor, merged = b, a
	}

	if err := r.catalog.Merge(ctx, survivor.ID, merged.ID, reason); err != nil {
		return models.ProductMerge{}, fmt.Errorf("merge catalog: %w", err)
	}
	if err := r.prices.Reassign(ctx, merged.ID, survivor.ID); err != nil {
		return models.ProductMerge{}, fmt.Errorf("merge reassign observations: %w", err)
	}
	if r.logger != nil {
		r.logger.Info("products merged",
			applogger.String("survivor", survivor.ID),
			applogger.String("merged", merged.ID),
			applogger.String("reason", reason),
		)
	}
	return models.ProductMerge{
		SurvivorID: survivor.ID,
		MergedID:   merged.ID,
		Reason:     reason,
		MergedAt:   time.Now().UTC(),
	}, nil
}

// matchDecision classifies the best score against the configured thresholds:
// nil attaches the listing, ErrResolutionAmbiguous marks a near miss inside
// the margin, ErrNotFound means no usable candidate.
func (r *Resolver) matchDecision(best *models.Product, score float64) error {
	switch {
	case best == nil || score < r.cfg.MatchThreshold-r.cfg.AmbiguityMargin:
		return models.ErrNotFound
	case score < r.cfg.MatchThreshold:
		return models.ErrResolutionAmbiguous
	default:
		return nil
	}
}

func (r *Resolver) bestCandidate(ctx context.Context, canonical string, tokens []string) (*models.Product, float64, error) {
	cands, err := r.catalog.Candidates(ctx, tokens)
	if err != nil {
		return nil, 0, err
	}
	var best *models.Product
	bestScore := 0.0
	for i := range cands {
		score := r.scoreProduct(canonical, &cands[i])
		if score > bestScore || (score == bestScore && best != nil && cands[i].ID < best.ID) {
			best = &cands[i]
			bestScore = score
		}
	}
	return best, bestScore, nil
}

// scoreProduct takes the best score over the product's canonical name and
// every known alias.
func (r *Resolver) scoreProduct(canonical string, p *models.Product) float64 {
	best := Score(canonical, Canonicalize(p.Name))
	for _, alias := range p.Aliases {
		if s := Score(canonical, Canonicalize(alias)); s > best {
			best = s
		}
	}
	return best
}

func (r *Resolver) create(ctx context.Context, listing models.NormalizedListing, tokens []string) (models.Product, error) {
	p := models.Product{
		ID:        uuid.NewString(),
		Name:      listing.Name,
		Aliases:   []string{listing.Name},
		CreatedAt: time.Now().UTC(),
	}
	if err := r.catalog.Insert(ctx, p, tokens); err != nil {
		return models.Product{}, fmt.Errorf("create product: %w", err)
	}
	return p, nil
}

func (r *Resolver) observe(decision models.ResolutionDecision, score float64) {
	if r.metrics != nil {
		r.metrics.RecordResolution(string(decision), score)
	}
}

// stripeFor hashes the sorted token signature so all spellings of one item
// land on the same lock.
func (r *Resolver) stripeFor(tokens []string) *sync.Mutex {
	sorted := append([]string(nil), tokens...)
	sort.Strings(sorted)
	h := fnv.New32a()
	for _, t := range sorted {
		_, _ = h.Write([]byte(t))
	}
	return &r.stripes[int(h.Sum32())%len(r.stripes)]
}

func hasAlias(p *models.Product, alias string) bool {
	for _, a := range p.Aliases {
		if a == alias {
			return true
		}
	}
	return false
}
