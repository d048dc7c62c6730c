package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	pkgch "PricePulse/pkg/clickhouse"
	applogger "PricePulse/pkg/logger"
)

const observationsTable = "pricepulse.price_observations"

// ObservationSchema holds the idempotent DDL for the observations table.
// Passed to clickhouse.Client.InitSchema on startup.
var ObservationSchema = []string{
	`CREATE DATABASE IF NOT EXISTS pricepulse`,
	`CREATE TABLE IF NOT EXISTS ` + observationsTable + ` (
        product_id  String,
        store_id    LowCardinality(String),
        price       Int64,
        currency    LowCardinality(String),
        unit_kind   LowCardinality(String),
        unit_price  Int64,
        observed_at DateTime64(3, 'UTC'),
        ingested_at DateTime64(3, 'UTC')
    ) ENGINE = MergeTree
    PARTITION BY toYYYYMM(observed_at)
    ORDER BY (product_id, store_id, observed_at)`,
}

// CHPriceStore implements PriceStore backed by ClickHouse. The table is
// append-only; Reassign is the single mutation path and runs synchronously
// so a follow-up Count sees the moved rows.
type CHPriceStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHPriceStore(ch *pkgch.Client) *CHPriceStore {
	return &CHPriceStore{db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHPriceStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHPriceStore) Record(ctx context.Context, obs models.PriceObservation) error {
	return s.RecordBatch(ctx, []models.PriceObservation{obs})
}

func (s *CHPriceStore) RecordBatch(ctx context.Context, obs []models.PriceObservation) error {
	if len(obs) == 0 {
		return nil
	}
	// Multi-row VALUES to reduce round-trips. Chunk size tuned to 2000 rows.
	const chunkSize = 2000
	for start := 0; start < len(obs); start += chunkSize {
		end := start + chunkSize
		if end > len(obs) {
			end = len(obs)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*8)
		for _, o := range obs[start:end] {
			if o.ProductID == "" || o.StoreID == "" {
				continue
			}
			ingested := o.IngestedAt
			if ingested.IsZero() {
				ingested = time.Now().UTC()
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				o.ProductID,
				o.StoreID,
				o.Price,
				o.Currency,
				string(o.UnitKind),
				o.UnitPrice,
				o.ObservedAt,
				ingested,
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (product_id, store_id, price, currency, unit_kind, unit_price, observed_at, ingested_at) VALUES %s",
			observationsTable, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse record batch error",
					applogger.Int("rows", len(values)),
					applogger.Error(err),
				)
			}
			return fmt.Errorf("record observations: %w", err)
		}
	}
	return nil
}

func (s *CHPriceStore) History(ctx context.Context, productID, storeID string, since time.Time, limit int) ([]models.PriceObservation, error) {
	start := time.Now()
	var sb strings.Builder
	sb.WriteString(`SELECT product_id, store_id, price, currency, unit_kind, unit_price, observed_at, ingested_at FROM `)
	sb.WriteString(observationsTable)
	sb.WriteString(` WHERE product_id = ?`)
	args := []interface{}{productID}
	if storeID != "" {
		sb.WriteString(` AND store_id = ?`)
		args = append(args, storeID)
	}
	if !since.IsZero() {
		sb.WriteString(` AND observed_at >= ?`)
		args = append(args, since)
	}
	sb.WriteString(` ORDER BY observed_at ASC`)
	if limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse history query error",
				applogger.String("product_id", productID),
				applogger.String("store_id", storeID),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	out := make([]models.PriceObservation, 0, 256)
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse history ok",
			applogger.String("product_id", productID),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *CHPriceStore) Latest(ctx context.Context, productID string) ([]models.PriceObservation, error) {
	const q = `
        SELECT product_id, store_id, price, currency, unit_kind, unit_price, observed_at, ingested_at
        FROM ` + observationsTable + `
        WHERE product_id = ?
        ORDER BY observed_at DESC
        LIMIT 1 BY store_id
    `
	rows, err := s.db.QueryContext(ctx, q, productID)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse latest query error",
				applogger.String("product_id", productID),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("latest: %w", err)
	}
	defer rows.Close()

	var out []models.PriceObservation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StoreID < out[j].StoreID })
	return out, nil
}

func (s *CHPriceStore) Count(ctx context.Context, productID string) (int, error) {
	const q = `SELECT count() FROM ` + observationsTable + ` WHERE product_id = ?`
	var n uint64
	if err := s.db.QueryRowContext(ctx, q, productID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return int(n), nil
}

func (s *CHPriceStore) Reassign(ctx context.Context, fromProductID, toProductID string) error {
	start := time.Now()
	const q = `ALTER TABLE ` + observationsTable + ` UPDATE product_id = ? WHERE product_id = ? SETTINGS mutations_sync = 1`
	if _, err := s.db.ExecContext(ctx, q, toProductID, fromProductID); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse reassign error",
				applogger.String("from", fromProductID),
				applogger.String("to", toProductID),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("reassign observations: %w", err)
	}
	if s.l != nil {
		s.l.Info("clickhouse reassign ok",
			applogger.String("from", fromProductID),
			applogger.String("to", toProductID),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

func (s *CHPriceStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHPriceStore) Close() error {
	return nil // pool managed by pkg/clickhouse
}

func scanObservation(rows *sql.Rows) (models.PriceObservation, error) {
	var o models.PriceObservation
	var kind string
	if err := rows.Scan(&o.ProductID, &o.StoreID, &o.Price, &o.Currency, &kind, &o.UnitPrice, &o.ObservedAt, &o.IngestedAt); err != nil {
		return models.PriceObservation{}, err
	}
	o.UnitKind = models.UnitKind(kind)
	return o, nil
}

var _ domrepo.PriceStore = (*CHPriceStore)(nil)
