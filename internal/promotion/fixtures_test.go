package promotion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-promo/internal/pricing"
)

var evalNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func d(s string) pricing.Money { return decimal.RequireFromString(s) }

func dp(s string) *pricing.Money {
	v := d(s)
	return &v
}

func ip(v int) *int { return &v }

func activeCampaign(id string) Campaign {
	return Campaign{
		ID:      id,
		Code:    "CMP-" + id,
		Name:    "Campaign " + id,
		Active:  true,
		Status:  StatusActive,
		StartAt: evalNow.Add(-24 * time.Hour),
		EndAt:   evalNow.Add(24 * time.Hour),
	}
}

func baseRule(id string, kind Kind) Rule {
	return Rule{
		ID:       id,
		Code:     "R-" + id,
		Status:   StatusActive,
		Campaign: activeCampaign("c-" + id),
		Kind:     kind,
	}
}

func productRule(id string, pd ProductDiscount) Rule {
	r := baseRule(id, KindProductDiscount)
	r.ProductDiscount = &pd
	return r
}

func giftRule(id string, g BuyXGetY) Rule {
	r := baseRule(id, KindBuyXGetY)
	r.BuyXGetY = &g
	return r
}

func orderRule(id string, od OrderDiscount) Rule {
	r := baseRule(id, KindOrderDiscount)
	r.OrderDiscount = &od
	return r
}

type stubRules struct {
	byKind map[Kind][]Rule
	err    error
}

func (s *stubRules) ListActiveRules(_ context.Context, kind Kind, _ time.Time) ([]Rule, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byKind[kind], nil
}

type stubCatalog struct {
	mu       sync.Mutex
	prices   map[string]pricing.Money
	products map[string]ProductInfo
	priceErr error
	calls    int
}

func newStubCatalog() *stubCatalog {
	return &stubCatalog{prices: map[string]pricing.Money{}, products: map[string]ProductInfo{}}
}

func (s *stubCatalog) add(ref, price, label string) *stubCatalog {
	s.prices[ref] = d(price)
	s.products[ref] = ProductInfo{Label: label, UnitLabel: "pcs"}
	return s
}

func (s *stubCatalog) GetCurrentPrice(_ context.Context, ref string) (pricing.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.priceErr != nil {
		return pricing.Zero(), s.priceErr
	}
	p, ok := s.prices[ref]
	if !ok {
		return pricing.Zero(), ProductNotFound(ref)
	}
	return p, nil
}

func (s *stubCatalog) ResolveProduct(_ context.Context, ref string) (ProductInfo, error) {
	info, ok := s.products[ref]
	if !ok {
		return ProductInfo{}, ProductNotFound(ref)
	}
	return info, nil
}

func newTestEngine(t *testing.T, rules []Rule, cat *stubCatalog) *Engine {
	t.Helper()
	byKind := map[Kind][]Rule{}
	for _, r := range rules {
		byKind[r.Kind] = append(byKind[r.Kind], r)
	}
	eng, err := NewEngine(EngineConfig{
		Rules:    &stubRules{byKind: byKind},
		Prices:   cat,
		Products: cat,
		Now:      func() time.Time { return evalNow },
	})
	require.NoError(t, err)
	return eng
}
