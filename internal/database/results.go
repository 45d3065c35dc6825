package database

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/shop-price-scraper/internal/models"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables used by the result sink and the relay.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// ResultRow is one row of price_results.
type ResultRow struct {
	ID          int64     `db:"id" json:"id"`
	RunID       string    `db:"run_id" json:"run_id"`
	URL         string    `db:"url" json:"url"`
	Site        string    `db:"site" json:"site"`
	Origin      string    `db:"origin" json:"origin"`
	Title       *string   `db:"title" json:"title,omitempty"`
	Price       *string   `db:"price" json:"price,omitempty"`
	PriceAmount *int64    `db:"price_amount" json:"price_amount,omitempty"`
	Status      string    `db:"status" json:"status"`
	ErrorKind   *string   `db:"error_kind" json:"error_kind,omitempty"`
	Error       *string   `db:"error" json:"error,omitempty"`
	Strategy    *string   `db:"strategy" json:"strategy,omitempty"`
	DurationMS  int64     `db:"duration_ms" json:"duration_ms"`
	ScrapedAt   time.Time `db:"scraped_at" json:"scraped_at"`
}

func NewResultRow(runID string, r models.ExtractionResult) ResultRow {
	row := ResultRow{
		RunID:      runID,
		URL:        r.Target.URL,
		Site:       r.Target.Site.String(),
		Origin:     string(r.Target.Origin),
		Title:      nullable(r.Title),
		Price:      nullable(r.Price.String()),
		Status:     string(r.Status),
		ErrorKind:  nullable(r.ErrorKind.String()),
		Error:      nullable(r.Error),
		Strategy:   nullable(r.Strategy),
		DurationMS: r.Duration.Milliseconds(),
		ScrapedAt:  r.ScrapedAt,
	}
	if amount, err := r.Price.Value(); err == nil {
		row.PriceAmount = &amount
	}
	return row
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SaveResult inserts row and, when event is set, its outbox event in the
// same transaction.
func (db *DB) SaveResult(ctx context.Context, row *ResultRow, event *OutboxEvent) error {
	outbox := NewOutboxRepository(db)

	return db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := insertResult(ctx, tx, row); err != nil {
			return err
		}
		if event == nil {
			return nil
		}
		return outbox.InsertWithTx(ctx, tx, event)
	})
}

func insertResult(ctx context.Context, tx pgx.Tx, row *ResultRow) error {
	query := `
		INSERT INTO price_results (
			run_id, url, site, origin, title, price, price_amount,
			status, error_kind, error, strategy, duration_ms, scraped_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		RETURNING id`

	err := tx.QueryRow(ctx, query,
		row.RunID, row.URL, row.Site, row.Origin, row.Title, row.Price, row.PriceAmount,
		row.Status, row.ErrorKind, row.Error, row.Strategy, row.DurationMS, row.ScrapedAt,
	).Scan(&row.ID)
	if err != nil {
		return fmt.Errorf("failed to insert price result: %w", err)
	}
	return nil
}

// LatestPrices returns the newest successful row per url, ordered by url.
func (db *DB) LatestPrices(ctx context.Context, limit int) ([]ResultRow, error) {
	query := `
		SELECT DISTINCT ON (url)
			id, run_id::text AS run_id, url, site, origin, title, price, price_amount,
			status, error_kind, error, strategy, duration_ms, scraped_at
		FROM price_results
		WHERE status = $1
		ORDER BY url, scraped_at DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, string(models.StatusSuccess), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest prices: %w", err)
	}

	results, err := pgx.CollectRows(rows, pgx.RowToStructByName[ResultRow])
	if err != nil {
		return nil, fmt.Errorf("failed to scan latest prices: %w", err)
	}
	return results, nil
}
