package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// QuoteStore keeps the latest persisted quote per symbol. The hot path
// reads from Redis; this table is the durable fallback and history anchor.
type QuoteStore struct {
	db *DB
}

// NewQuoteStore creates a quote store.
func NewQuoteStore(db *DB) *QuoteStore {
	return &QuoteStore{db: db}
}

// Upsert stores or refreshes the latest quote for a symbol.
func (s *QuoteStore) Upsert(ctx context.Context, q *Quote) error {
	if q.UpdatedAt.IsZero() {
		q.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO quotes (symbol, bid, ask, mark, high, low, open, volume, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol) DO UPDATE SET
			bid = EXCLUDED.bid,
			ask = EXCLUDED.ask,
			mark = EXCLUDED.mark,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			open = EXCLUDED.open,
			volume = EXCLUDED.volume,
			updated_at = EXCLUDED.updated_at`,
		q.Symbol, q.Bid, q.Ask, q.Mark, q.High, q.Low, q.Open, q.Volume, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert quote: %w", err)
	}
	return nil
}

// Get returns the latest persisted quote for a symbol.
func (s *QuoteStore) Get(ctx context.Context, symbol string) (*Quote, error) {
	var q Quote
	err := s.db.pool.QueryRow(ctx, `
		SELECT symbol, bid, ask, mark, high, low, open, volume, updated_at
		FROM quotes WHERE symbol = $1`, symbol).
		Scan(&q.Symbol, &q.Bid, &q.Ask, &q.Mark, &q.High, &q.Low, &q.Open,
			&q.Volume, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("quote %w: %s", ErrNotFound, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	return &q, nil
}

// List returns quotes for the given symbols; missing symbols are skipped.
func (s *QuoteStore) List(ctx context.Context, symbols []string) ([]*Quote, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT symbol, bid, ask, mark, high, low, open, volume, updated_at
		FROM quotes WHERE symbol = ANY($1) ORDER BY symbol`, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to list quotes: %w", err)
	}
	defer rows.Close()

	var quotes []*Quote
	for rows.Next() {
		var q Quote
		if err := rows.Scan(&q.Symbol, &q.Bid, &q.Ask, &q.Mark, &q.High,
			&q.Low, &q.Open, &q.Volume, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		quotes = append(quotes, &q)
	}
	return quotes, rows.Err()
}
