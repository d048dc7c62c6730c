package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	pkgpg "PricePulse/pkg/postgres"
)

// PGForecastStore implements ForecastStore backed by PostgreSQL. Save flips
// the previous active row instead of deleting it, so model history stays
// queryable.
type PGForecastStore struct {
	client *pkgpg.Client
}

func NewPGForecastStore(client *pkgpg.Client) *PGForecastStore {
	return &PGForecastStore{client: client}
}

func (s *PGForecastStore) Active(ctx context.Context, productID string, horizonDays int) (models.Forecast, error) {
	const q = `
		SELECT product_id, horizon_days, generated_at, model_version, observations, predicted, error_bound
		FROM forecasts
		WHERE product_id = $1 AND horizon_days = $2 AND active`
	var f models.Forecast
	err := s.client.Pool().QueryRow(ctx, q, productID, horizonDays).Scan(
		&f.ProductID, &f.HorizonDays, &f.GeneratedAt, &f.ModelVersion, &f.Observations, &f.Predicted, &f.ErrorBound,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Forecast{}, fmt.Errorf("forecast %s/%dd: %w", productID, horizonDays, models.ErrNotFound)
	}
	if err != nil {
		return models.Forecast{}, fmt.Errorf("active forecast: %w", err)
	}
	return f, nil
}

func (s *PGForecastStore) Save(ctx context.Context, f models.Forecast) error {
	tx, err := s.client.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("save forecast: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const supersede = `UPDATE forecasts SET active = FALSE WHERE product_id = $1 AND horizon_days = $2 AND active`
	if _, err := tx.Exec(ctx, supersede, f.ProductID, f.HorizonDays); err != nil {
		return fmt.Errorf("supersede forecast: %w", err)
	}
	const insert = `
		INSERT INTO forecasts (product_id, horizon_days, generated_at, model_version, observations, predicted, error_bound, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)`
	if _, err := tx.Exec(ctx, insert,
		f.ProductID, f.HorizonDays, f.GeneratedAt, f.ModelVersion, f.Observations, f.Predicted, f.ErrorBound,
	); err != nil {
		return fmt.Errorf("insert forecast: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PGForecastStore) Close() error {
	return nil // pool managed by pkg/postgres
}

var _ domrepo.ForecastStore = (*PGForecastStore)(nil)
