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

// PGCatalog implements ProductCatalog backed by PostgreSQL. The alias token
// table is the resolver's blocking index; Candidates is one indexed scan per
// lookup regardless of catalog size.
type PGCatalog struct {
	client *pkgpg.Client
}

func NewPGCatalog(client *pkgpg.Client) *PGCatalog {
	return &PGCatalog{client: client}
}

func (c *PGCatalog) Get(ctx context.Context, id string) (models.Product, error) {
	const q = `SELECT id, name, category, created_at FROM products WHERE id = $1`
	var p models.Product
	err := c.client.Pool().QueryRow(ctx, q, id).Scan(&p.ID, &p.Name, &p.Category, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Product{}, fmt.Errorf("product %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Product{}, fmt.Errorf("get product: %w", err)
	}

	const aq = `SELECT alias FROM product_aliases WHERE product_id = $1 ORDER BY created_at`
	rows, err := c.client.Pool().Query(ctx, aq, id)
	if err != nil {
		return models.Product{}, fmt.Errorf("get aliases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return models.Product{}, fmt.Errorf("scan alias: %w", err)
		}
		p.Aliases = append(p.Aliases, alias)
	}
	return p, rows.Err()
}

func (c *PGCatalog) Insert(ctx context.Context, p models.Product, tokens []string) error {
	tx, err := c.client.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("insert product: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const pq = `INSERT INTO products (id, name, category, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, pq, p.ID, p.Name, p.Category, p.CreatedAt); err != nil {
		return fmt.Errorf("insert product %s: %w", p.ID, err)
	}
	for _, alias := range p.Aliases {
		if err := insertAlias(ctx, tx, p.ID, alias, tokens); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (c *PGCatalog) AppendAlias(ctx context.Context, productID, alias string, tokens []string) error {
	tx, err := c.client.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("append alias: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertAlias(ctx, tx, productID, alias, tokens); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertAlias(ctx context.Context, tx pgx.Tx, productID, alias string, tokens []string) error {
	const aq = `INSERT INTO product_aliases (product_id, alias) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := tx.Exec(ctx, aq, productID, alias); err != nil {
		return fmt.Errorf("insert alias: %w", err)
	}
	const tq = `INSERT INTO product_alias_tokens (token, product_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	for _, tok := range tokens {
		if _, err := tx.Exec(ctx, tq, tok, productID); err != nil {
			return fmt.Errorf("insert token %q: %w", tok, err)
		}
	}
	return nil
}

func (c *PGCatalog) Candidates(ctx context.Context, tokens []string) ([]models.Product, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	const q = `
		SELECT DISTINCT p.id, p.name, p.category, p.created_at
		FROM product_alias_tokens t
		JOIN products p ON p.id = t.product_id
		WHERE t.token = ANY($1)`
	rows, err := c.client.Pool().Query(ctx, q, tokens)
	if err != nil {
		return nil, fmt.Errorf("candidates: %w", err)
	}
	defer rows.Close()

	var out []models.Product
	ids := make([]string, 0, 16)
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	// Aliases in one round-trip for the whole candidate set.
	const aq = `SELECT product_id, alias FROM product_aliases WHERE product_id = ANY($1)`
	arows, err := c.client.Pool().Query(ctx, aq, ids)
	if err != nil {
		return nil, fmt.Errorf("candidate aliases: %w", err)
	}
	defer arows.Close()
	byID := make(map[string]*models.Product, len(out))
	for i := range out {
		byID[out[i].ID] = &out[i]
	}
	for arows.Next() {
		var id, alias string
		if err := arows.Scan(&id, &alias); err != nil {
			return nil, fmt.Errorf("scan candidate alias: %w", err)
		}
		if p, ok := byID[id]; ok {
			p.Aliases = append(p.Aliases, alias)
		}
	}
	return out, arows.Err()
}

func (c *PGCatalog) Merge(ctx context.Context, survivorID, mergedID, reason string) error {
	tx, err := c.client.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("merge: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Move aliases and tokens under the survivor, drop duplicates.
	const moveAliases = `
		INSERT INTO product_aliases (product_id, alias)
		SELECT $1, alias FROM product_aliases WHERE product_id = $2
		ON CONFLICT DO NOTHING`
	if _, err := tx.Exec(ctx, moveAliases, survivorID, mergedID); err != nil {
		return fmt.Errorf("merge aliases: %w", err)
	}
	const moveTokens = `
		INSERT INTO product_alias_tokens (token, product_id)
		SELECT token, $1 FROM product_alias_tokens WHERE product_id = $2
		ON CONFLICT DO NOTHING`
	if _, err := tx.Exec(ctx, moveTokens, survivorID, mergedID); err != nil {
		return fmt.Errorf("merge tokens: %w", err)
	}
	const dropOld = `DELETE FROM product_alias_tokens WHERE product_id = $1`
	if _, err := tx.Exec(ctx, dropOld, mergedID); err != nil {
		return fmt.Errorf("merge drop tokens: %w", err)
	}
	const dropAliases = `DELETE FROM product_aliases WHERE product_id = $1`
	if _, err := tx.Exec(ctx, dropAliases, mergedID); err != nil {
		return fmt.Errorf("merge drop aliases: %w", err)
	}
	const audit = `INSERT INTO product_merges (survivor_id, merged_id, reason) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, audit, survivorID, mergedID, reason); err != nil {
		return fmt.Errorf("merge audit: %w", err)
	}
	return tx.Commit(ctx)
}

func (c *PGCatalog) Merges(ctx context.Context, productID string) ([]models.ProductMerge, error) {
	const q = `
		SELECT survivor_id, merged_id, reason, merged_at
		FROM product_merges
		WHERE survivor_id = $1 OR merged_id = $1
		ORDER BY merged_at`
	rows, err := c.client.Pool().Query(ctx, q, productID)
	if err != nil {
		return nil, fmt.Errorf("merges: %w", err)
	}
	defer rows.Close()

	var out []models.ProductMerge
	for rows.Next() {
		var m models.ProductMerge
		if err := rows.Scan(&m.SurvivorID, &m.MergedID, &m.Reason, &m.MergedAt); err != nil {
			return nil, fmt.Errorf("scan merge: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c *PGCatalog) Health(ctx context.Context) error {
	return c.client.Health(ctx)
}

func (c *PGCatalog) Close() error {
	return nil // pool managed by pkg/postgres
}

var _ domrepo.ProductCatalog = (*PGCatalog)(nil)
