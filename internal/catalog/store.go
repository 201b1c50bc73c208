package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-promo/internal/pricing"
	"github.com/noah-isme/backend-promo/internal/promotion"
	"github.com/noah-isme/backend-promo/internal/resilience"
)

// DBTX is the subset of pgxpool.Pool the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store serves prices, product metadata and promotion rules from PostgreSQL.
// It implements promotion.RuleSource, promotion.PriceSource,
// promotion.BatchPriceSource and promotion.ProductResolver.
type Store struct {
	db      DBTX
	cache   *Cache
	breaker *resilience.Breaker
	now     func() time.Time
	logger  zerolog.Logger
}

// StoreConfig groups Store dependencies. Cache and Breaker are optional.
type StoreConfig struct {
	DB      DBTX
	Cache   *Cache
	Breaker *resilience.Breaker
	Now     func() time.Time
	Logger  *zerolog.Logger
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DB == nil {
		return nil, errors.New("catalog: database is required")
	}
	s := &Store{
		db:      cfg.DB,
		cache:   cfg.Cache,
		breaker: cfg.Breaker,
		now:     cfg.Now,
		logger:  zerolog.Nop(),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if cfg.Logger != nil {
		s.logger = cfg.Logger.With().Str("component", "catalog").Logger()
	}
	return s, nil
}

const currentPriceSQL = `
SELECT pp.price::text
FROM product_prices pp
WHERE pp.product_ref = $1 AND pp.effective_from <= $2
ORDER BY pp.effective_from DESC
LIMIT 1`

// GetCurrentPrice returns the latest effective price of productRef.
func (s *Store) GetCurrentPrice(ctx context.Context, productRef string) (pricing.Money, error) {
	var raw string
	err := s.guard(ctx, func(ctx context.Context) error {
		err := s.db.QueryRow(ctx, currentPriceSQL, productRef, s.now()).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return promotion.ProductNotFound(productRef)
		}
		return err
	})
	if err != nil {
		return pricing.Zero(), fmt.Errorf("catalog: current price: %w", err)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return pricing.Zero(), fmt.Errorf("catalog: parse price of %q: %w", productRef, err)
	}
	return price, nil
}

const currentPricesSQL = `
SELECT DISTINCT ON (pp.product_ref) pp.product_ref, pp.price::text
FROM product_prices pp
WHERE pp.product_ref = ANY($1) AND pp.effective_from <= $2
ORDER BY pp.product_ref, pp.effective_from DESC`

// GetCurrentPrices resolves several prices in one round trip. Unknown refs are
// absent from the result.
func (s *Store) GetCurrentPrices(ctx context.Context, productRefs []string) (map[string]pricing.Money, error) {
	out := make(map[string]pricing.Money, len(productRefs))
	if len(productRefs) == 0 {
		return out, nil
	}
	err := s.guard(ctx, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, currentPricesSQL, productRefs, s.now())
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ref, raw string
			if err := rows.Scan(&ref, &raw); err != nil {
				return fmt.Errorf("scan price row: %w", err)
			}
			price, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("parse price of %q: %w", ref, err)
			}
			out[ref] = price
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: current prices: %w", err)
	}
	return out, nil
}

const productSQL = `SELECT label, unit_label FROM products WHERE ref = $1`

// ResolveProduct returns display metadata, served from Redis when cached.
func (s *Store) ResolveProduct(ctx context.Context, productRef string) (promotion.ProductInfo, error) {
	var info promotion.ProductInfo
	if ok, err := s.cache.GetJSON(ctx, productKey(productRef), &info); err != nil {
		s.logger.Warn().Err(err).Str("product_ref", productRef).Msg("product cache read failed")
	} else if ok {
		return info, nil
	}

	err := s.guard(ctx, func(ctx context.Context) error {
		err := s.db.QueryRow(ctx, productSQL, productRef).Scan(&info.Label, &info.UnitLabel)
		if errors.Is(err, pgx.ErrNoRows) {
			return promotion.ProductNotFound(productRef)
		}
		return err
	})
	if err != nil {
		return promotion.ProductInfo{}, fmt.Errorf("catalog: resolve product: %w", err)
	}
	if err := s.cache.SetJSON(ctx, productKey(productRef), info); err != nil {
		s.logger.Warn().Err(err).Str("product_ref", productRef).Msg("product cache write failed")
	}
	return info, nil
}

const activeRulesSQL = `
SELECT
    l.id::text, l.code, l.description, l.status, l.start_at, l.end_at,
    l.max_total_usage, l.current_usage_count,
    c.id::text, c.code, c.name, c.is_active, c.status, c.start_at, c.end_at,
    l.kind,
    l.buy_product_ref, l.buy_min_quantity, l.gift_product_ref, l.gift_quantity_per_set,
    l.gift_max_sets, l.gift_discount_kind, l.gift_discount_magnitude::text,
    l.apply_scope, l.apply_product_ref, l.discount_kind, l.discount_magnitude::text,
    l.min_quantity, l.min_line_value::text,
    l.max_discount_cap::text, l.min_order_value::text, l.min_order_quantity
FROM promotion_rule_lines l
JOIN promotion_campaigns c ON c.id = l.campaign_id
WHERE l.kind = $1
  AND c.is_active
  AND c.status = 'ACTIVE'
  AND l.status = 'ACTIVE'
  AND (c.start_at IS NULL OR c.start_at <= $2)
  AND (c.end_at IS NULL OR c.end_at >= $2)
  AND (l.start_at IS NULL OR l.start_at <= $2)
  AND (l.end_at IS NULL OR l.end_at >= $2)
  AND (l.max_total_usage IS NULL OR l.current_usage_count < l.max_total_usage)
ORDER BY c.start_at NULLS FIRST, l.id`

// ListActiveRules returns rule lines of kind eligible at asOf, ordered by
// campaign start then rule line id.
func (s *Store) ListActiveRules(ctx context.Context, kind promotion.Kind, asOf time.Time) ([]promotion.Rule, error) {
	var rules []promotion.Rule
	err := s.guard(ctx, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, activeRulesSQL, string(kind), asOf)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row ruleRow
			if err := rows.Scan(row.dest()...); err != nil {
				return fmt.Errorf("scan rule row: %w", err)
			}
			rules = append(rules, row.toRule())
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: list %s rules: %w", strings.ToLower(string(kind)), err)
	}
	return rules, nil
}

// guard routes a call through the breaker. Not-found and caller cancellation
// do not count against the database.
func (s *Store) guard(ctx context.Context, fn func(context.Context) error) error {
	if s.breaker == nil {
		return fn(ctx)
	}
	return s.breaker.Do(ctx, fn, func(err error) bool {
		return !errors.Is(err, promotion.ErrProductNotFound) &&
			!errors.Is(err, context.Canceled)
	})
}

type ruleRow struct {
	id, code, description, status string
	startAt, endAt                *time.Time
	maxTotalUsage                 *int
	currentUsage                  int

	campaignID, campaignCode, campaignName string
	campaignActive                         bool
	campaignStatus                         string
	campaignStart, campaignEnd             *time.Time

	kind string

	buyProductRef, giftProductRef   *string
	buyMinQuantity, giftPerSet      *int
	giftMaxSets                     *int
	giftDiscountKind, giftMagnitude *string
	applyScope, applyProductRef     *string
	discountKind, discountMagnitude *string
	minQuantity                     *int
	minLineValue                    *string
	maxDiscountCap, minOrderValue   *string
	minOrderQuantity                *int
}

func (r *ruleRow) dest() []any {
	return []any{
		&r.id, &r.code, &r.description, &r.status, &r.startAt, &r.endAt,
		&r.maxTotalUsage, &r.currentUsage,
		&r.campaignID, &r.campaignCode, &r.campaignName, &r.campaignActive, &r.campaignStatus, &r.campaignStart, &r.campaignEnd,
		&r.kind,
		&r.buyProductRef, &r.buyMinQuantity, &r.giftProductRef, &r.giftPerSet,
		&r.giftMaxSets, &r.giftDiscountKind, &r.giftMagnitude,
		&r.applyScope, &r.applyProductRef, &r.discountKind, &r.discountMagnitude,
		&r.minQuantity, &r.minLineValue,
		&r.maxDiscountCap, &r.minOrderValue, &r.minOrderQuantity,
	}
}

// toRule maps a row onto the tagged union. Missing payload columns become
// zero values and unparseable amounts set DecodeErr; Rule.Validate rejects
// both, so one bad row never fails the whole listing.
func (r *ruleRow) toRule() promotion.Rule {
	rule := promotion.Rule{
		ID:                r.id,
		Code:              r.code,
		Description:       r.description,
		Status:            promotion.Status(r.status),
		StartAt:           deref(r.startAt),
		EndAt:             deref(r.endAt),
		MaxTotalUsage:     r.maxTotalUsage,
		CurrentUsageCount: r.currentUsage,
		Campaign: promotion.Campaign{
			ID:      r.campaignID,
			Code:    r.campaignCode,
			Name:    r.campaignName,
			Active:  r.campaignActive,
			Status:  promotion.Status(r.campaignStatus),
			StartAt: deref(r.campaignStart),
			EndAt:   deref(r.campaignEnd),
		},
		Kind: promotion.Kind(r.kind),
	}

	var err error
	money := func(v *string) pricing.Money {
		m, perr := parseOptionalMoney(v)
		if perr != nil && err == nil {
			err = perr
		}
		if m == nil {
			return pricing.Zero()
		}
		return *m
	}
	optionalMoney := func(v *string) *pricing.Money {
		m, perr := parseOptionalMoney(v)
		if perr != nil && err == nil {
			err = perr
		}
		return m
	}

	switch rule.Kind {
	case promotion.KindBuyXGetY:
		rule.BuyXGetY = &promotion.BuyXGetY{
			BuyProductRef:         deref(r.buyProductRef),
			BuyMinQuantity:        deref(r.buyMinQuantity),
			GiftProductRef:        deref(r.giftProductRef),
			GiftQuantityPerSet:    r.giftPerSet,
			GiftMaxSets:           r.giftMaxSets,
			GiftDiscountKind:      promotion.DiscountKind(deref(r.giftDiscountKind)),
			GiftDiscountMagnitude: money(r.giftMagnitude),
		}
	case promotion.KindProductDiscount:
		rule.ProductDiscount = &promotion.ProductDiscount{
			Scope:        promotion.Scope(deref(r.applyScope)),
			ProductRef:   deref(r.applyProductRef),
			DiscountKind: promotion.DiscountKind(deref(r.discountKind)),
			Magnitude:    money(r.discountMagnitude),
			MinQuantity:  r.minQuantity,
			MinLineValue: optionalMoney(r.minLineValue),
		}
	case promotion.KindOrderDiscount:
		rule.OrderDiscount = &promotion.OrderDiscount{
			DiscountKind:     promotion.DiscountKind(deref(r.discountKind)),
			Magnitude:        money(r.discountMagnitude),
			MaxDiscountCap:   optionalMoney(r.maxDiscountCap),
			MinOrderValue:    optionalMoney(r.minOrderValue),
			MinOrderQuantity: r.minOrderQuantity,
		}
	}
	rule.DecodeErr = err
	return rule
}

func parseOptionalMoney(v *string) (*pricing.Money, error) {
	if v == nil {
		return nil, nil
	}
	m, err := decimal.NewFromString(*v)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", *v, err)
	}
	return &m, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
