// Package usage consumes promotion usage quotas at commit time. Evaluation is
// a read-only preview; this package is the atomic check-and-increment that
// checkout runs inside its own transaction boundary.
package usage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-promo/internal/obs"
)

var (
	// ErrQuotaExhausted means at least one rule line has no remaining usage.
	ErrQuotaExhausted = errors.New("promotion usage quota exhausted")
	// ErrRuleNotFound means a rule line id does not exist.
	ErrRuleNotFound = errors.New("promotion rule not found")
	// ErrNoRules rejects an empty redemption.
	ErrNoRules = errors.New("at least one rule detail id is required")
)

// TxBeginner starts transactions; pgxpool.Pool and pgxmock pools satisfy it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Redemption reports the usage counter of a rule line after increment.
type Redemption struct {
	RuleDetailID      string
	CurrentUsageCount int
	MaxTotalUsage     *int
}

// QuotaError names the rule line that blocked a redemption.
type QuotaError struct {
	RuleDetailID string
	Err          error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleDetailID, e.Err)
}

func (e *QuotaError) Unwrap() error { return e.Err }

// Service increments usage counters.
type Service struct {
	DB     TxBeginner
	Logger zerolog.Logger
}

const incrementSQL = `
UPDATE promotion_rule_lines
SET current_usage_count = current_usage_count + 1, updated_at = now()
WHERE id = $1
  AND (max_total_usage IS NULL OR current_usage_count < max_total_usage)
RETURNING current_usage_count, max_total_usage`

const existsSQL = `SELECT EXISTS (SELECT 1 FROM promotion_rule_lines WHERE id = $1)`

// Redeem consumes one use of every rule line in ruleDetailIDs inside a single
// transaction. Duplicate ids are consumed once. If any line is unknown or has
// no quota left nothing is committed.
func (s *Service) Redeem(ctx context.Context, ruleDetailIDs []string) ([]Redemption, error) {
	ids := normalizeIDs(ruleDetailIDs)
	if len(ids) == 0 {
		return nil, ErrNoRules
	}
	if s.DB == nil {
		return nil, errors.New("usage: database is required")
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("usage: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]Redemption, 0, len(ids))
	for _, id := range ids {
		red := Redemption{RuleDetailID: id}
		err := tx.QueryRow(ctx, incrementSQL, id).Scan(&red.CurrentUsageCount, &red.MaxTotalUsage)
		if errors.Is(err, pgx.ErrNoRows) {
			err = s.missReason(ctx, tx, id)
			s.record(err)
			return nil, err
		}
		if malformedID(err) {
			err = &QuotaError{RuleDetailID: id, Err: ErrRuleNotFound}
			s.record(err)
			return nil, err
		}
		if err != nil {
			s.record(err)
			return nil, fmt.Errorf("usage: increment %s: %w", id, err)
		}
		out = append(out, red)
	}

	if err := tx.Commit(ctx); err != nil {
		s.record(err)
		return nil, fmt.Errorf("usage: commit: %w", err)
	}
	s.record(nil)
	s.Logger.Info().Strs("rule_detail_ids", ids).Msg("promotion_usage_redeemed")
	return out, nil
}

// missReason distinguishes an unknown line from an exhausted one.
func (s *Service) missReason(ctx context.Context, tx pgx.Tx, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, existsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("usage: lookup %s: %w", id, err)
	}
	if !exists {
		return &QuotaError{RuleDetailID: id, Err: ErrRuleNotFound}
	}
	return &QuotaError{RuleDetailID: id, Err: ErrQuotaExhausted}
}

// malformedID reports Postgres rejecting an id that cannot be a rule line key.
func malformedID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.InvalidTextRepresentation
}

func (s *Service) record(err error) {
	if obs.PromotionRedemptionsTotal == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrQuotaExhausted):
		result = "quota_exhausted"
	case errors.Is(err, ErrRuleNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	obs.PromotionRedemptionsTotal.WithLabelValues(result).Inc()
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
