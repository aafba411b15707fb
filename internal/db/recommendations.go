package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrRecommendationExpired is returned when an approval arrives after the
// recommendation's expiry; the row is marked expired as a side effect.
var ErrRecommendationExpired = errors.New("recommendation has expired")

// ErrNotPending marks approval-gate transitions attempted on a
// recommendation that already left the pending state.
var ErrNotPending = errors.New("recommendation is not pending")

// RecommendationStore persists the human-approval gate for options trades.
type RecommendationStore struct {
	db *DB
}

// NewRecommendationStore creates a recommendation store.
func NewRecommendationStore(db *DB) *RecommendationStore {
	return &RecommendationStore{db: db}
}

const recommendationColumns = `id, regime_type, qqq_price, vix, action, symbol,
	short_strike, long_strike, expiration, contracts, estimated_credit,
	max_risk, max_profit, short_delta, reasoning, risk_assessment, status,
	created_at, expires_at, approved_at, rejected_at, executed_at,
	rejection_reason, order_id, execution_price`

func scanRecommendation(row pgx.Row) (*Recommendation, error) {
	var r Recommendation
	err := row.Scan(&r.ID, &r.RegimeType, &r.QQQPrice, &r.VIX, &r.Action,
		&r.Symbol, &r.ShortStrike, &r.LongStrike, &r.Expiration, &r.Contracts,
		&r.EstimatedCredit, &r.MaxRisk, &r.MaxProfit, &r.ShortDelta,
		&r.Reasoning, &r.RiskAssessment, &r.Status, &r.CreatedAt, &r.ExpiresAt,
		&r.ApprovedAt, &r.RejectedAt, &r.ExecutedAt, &r.RejectionReason,
		&r.OrderID, &r.ExecutionPrice)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Create inserts a pending recommendation. ExpiresAt defaults to four
// hours out when unset.
func (s *RecommendationStore) Create(ctx context.Context, r *Recommendation) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.ExpiresAt.IsZero() {
		r.ExpiresAt = now.Add(4 * time.Hour)
	}
	if r.Status == "" {
		r.Status = RecommendationPending
	}

	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO recommendations (id, regime_type, qqq_price, vix, action,
			symbol, short_strike, long_strike, expiration, contracts,
			estimated_credit, max_risk, max_profit, short_delta, reasoning,
			risk_assessment, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19)`,
		r.ID, r.RegimeType, r.QQQPrice, r.VIX, r.Action, r.Symbol,
		r.ShortStrike, r.LongStrike, r.Expiration, r.Contracts,
		r.EstimatedCredit, r.MaxRisk, r.MaxProfit, r.ShortDelta, r.Reasoning,
		r.RiskAssessment, r.Status, r.CreatedAt, r.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create recommendation: %w", err)
	}
	return nil
}

// Get fetches one recommendation by id.
func (s *RecommendationStore) Get(ctx context.Context, id uuid.UUID) (*Recommendation, error) {
	r, err := scanRecommendation(s.db.pool.QueryRow(ctx,
		`SELECT `+recommendationColumns+` FROM recommendations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("recommendation %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recommendation: %w", err)
	}
	return r, nil
}

// List returns recommendations newest first, optionally filtered by status.
func (s *RecommendationStore) List(ctx context.Context, status RecommendationStatus, limit int) ([]*Recommendation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + recommendationColumns + ` FROM recommendations`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations: %w", err)
	}
	defer rows.Close()

	var recs []*Recommendation
	for rows.Next() {
		r, err := scanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Approve transitions a pending recommendation to approved. Approval of
// a recommendation past its expiry marks it expired instead and returns
// ErrRecommendationExpired.
func (s *RecommendationStore) Approve(ctx context.Context, id uuid.UUID) (*Recommendation, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != RecommendationPending {
		return nil, fmt.Errorf("%w: status is %s, only pending can be approved", ErrNotPending, r.Status)
	}
	now := time.Now().UTC()
	if now.After(r.ExpiresAt) {
		if _, err := s.db.pool.Exec(ctx,
			`UPDATE recommendations SET status = 'expired' WHERE id = $1 AND status = 'pending'`,
			id); err != nil {
			return nil, fmt.Errorf("failed to expire recommendation: %w", err)
		}
		return nil, ErrRecommendationExpired
	}

	tag, err := s.db.pool.Exec(ctx, `
		UPDATE recommendations SET status = 'approved', approved_at = $2
		WHERE id = $1 AND status = 'pending' AND expires_at > $2`, id, now)
	if err != nil {
		return nil, fmt.Errorf("failed to approve recommendation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrRecommendationExpired
	}
	return s.Get(ctx, id)
}

// Reject transitions a pending recommendation to rejected with a reason.
func (s *RecommendationStore) Reject(ctx context.Context, id uuid.UUID, reason string) (*Recommendation, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != RecommendationPending {
		return nil, fmt.Errorf("%w: status is %s, only pending can be rejected", ErrNotPending, r.Status)
	}

	tag, err := s.db.pool.Exec(ctx, `
		UPDATE recommendations
		SET status = 'rejected', rejected_at = NOW(), rejection_reason = $2
		WHERE id = $1 AND status = 'pending'`, id, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to reject recommendation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	return s.Get(ctx, id)
}

// MarkExecuted records the broker outcome on an approved recommendation.
// Simulated actions carry no fill price; a nil executionPrice leaves the
// column NULL.
func (s *RecommendationStore) MarkExecuted(ctx context.Context, id uuid.UUID, orderID string, executionPrice *float64) error {
	tag, err := s.db.pool.Exec(ctx, `
		UPDATE recommendations
		SET status = 'executed', executed_at = NOW(), order_id = $2,
			execution_price = $3
		WHERE id = $1 AND status = 'approved'`, id, orderID, executionPrice)
	if err != nil {
		return fmt.Errorf("failed to mark recommendation executed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("approved recommendation %w: %s", ErrNotFound, id)
	}
	return nil
}

// ExpireStale bulk-expires pending and approved recommendations past
// their expiry and returns how many transitioned.
func (s *RecommendationStore) ExpireStale(ctx context.Context) (int64, error) {
	tag, err := s.db.pool.Exec(ctx, `
		UPDATE recommendations SET status = 'expired'
		WHERE status IN ('pending', 'approved') AND expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to expire recommendations: %w", err)
	}
	return tag.RowsAffected(), nil
}
