package promotion

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-promo/internal/obs"
	"github.com/noah-isme/backend-promo/internal/pricing"
)

func TestEvaluateProductDiscount(t *testing.T) {
	cat := newStubCatalog().add("A", "10.00", "Product A")
	eng := newTestEngine(t, []Rule{
		productRule("p10", ProductDiscount{Scope: ScopeAll, DiscountKind: DiscountPercentage, Magnitude: d("10")}),
	}, cat)

	res, err := eng.Evaluate(context.Background(), []CartLine{{ProductRef: "A", Quantity: 3}})
	require.NoError(t, err)
	require.Len(t, res.Lines, 1)

	line := res.Lines[0]
	require.Equal(t, 1, line.SequenceID)
	require.Equal(t, "Product A", line.ProductLabel)
	require.Equal(t, "pcs", line.UnitLabel)
	require.Equal(t, "27.00", line.LineTotal.StringFixed(2))
	require.NotNil(t, line.AppliedPromotion)
	require.Equal(t, "p10", line.AppliedPromotion.RuleDetailID)
	require.Equal(t, "R-p10", line.AppliedPromotion.RuleCode)
	require.Equal(t, DiscountPercentage, line.AppliedPromotion.DiscountKind)
	require.Equal(t, "10", line.AppliedPromotion.DiscountMagnitude.String())
	require.Equal(t, "10% off", line.AppliedPromotion.SummaryText)
	require.NotNil(t, line.EligibleForGiftPromotion)
	require.False(t, *line.EligibleForGiftPromotion)

	require.Equal(t, "30.00", res.Summary.Subtotal.StringFixed(2))
	require.Equal(t, "3.00", res.Summary.LineDiscountTotal.StringFixed(2))
	require.Equal(t, "27.00", res.Summary.GrandTotal.StringFixed(2))
	require.Empty(t, res.AppliedOrderPromotions)
}

func TestEvaluateGiftLine(t *testing.T) {
	cat := newStubCatalog().add("A", "5.00", "Product A").add("B", "3.00", "Product B")
	eng := newTestEngine(t, []Rule{
		giftRule("g", BuyXGetY{BuyProductRef: "A", BuyMinQuantity: 2, GiftProductRef: "B", GiftQuantityPerSet: ip(1), GiftDiscountKind: DiscountFree}),
	}, cat)

	res, err := eng.Evaluate(context.Background(), []CartLine{{ProductRef: "A", Quantity: 4}})
	require.NoError(t, err)
	require.Len(t, res.Lines, 2)

	purchase, gift := res.Lines[0], res.Lines[1]
	require.Equal(t, "20.00", purchase.LineTotal.StringFixed(2))
	require.Nil(t, purchase.AppliedPromotion)
	require.True(t, *purchase.EligibleForGiftPromotion)

	require.Equal(t, 2, gift.SequenceID)
	require.True(t, gift.IsGift())
	require.Nil(t, gift.EligibleForGiftPromotion)
	require.Equal(t, "B", gift.ProductRef)
	require.Equal(t, 2, gift.Quantity)
	require.Equal(t, "0.00", gift.LineTotal.StringFixed(2))
	require.Equal(t, 1, *gift.AppliedPromotion.SourceLineID)
	require.Equal(t, DiscountFixed, gift.AppliedPromotion.DiscountKind)
	require.Equal(t, "6.00", gift.AppliedPromotion.DiscountMagnitude.StringFixed(2))
	require.Equal(t, "Buy 2 get 1 Product B free", gift.AppliedPromotion.SummaryText)

	require.Equal(t, "26.00", res.Summary.Subtotal.StringFixed(2))
	require.Equal(t, "6.00", res.Summary.LineDiscountTotal.StringFixed(2))
	require.Equal(t, "20.00", res.Summary.GrandTotal.StringFixed(2))
}

func TestEvaluateOrderDiscountCap(t *testing.T) {
	cat := newStubCatalog().add("A", "30.00", "Product A")
	eng := newTestEngine(t, []Rule{
		orderRule("o", OrderDiscount{DiscountKind: DiscountPercentage, Magnitude: d("20"), MaxDiscountCap: dp("20.00"), MinOrderValue: dp("100.00")}),
	}, cat)

	res, err := eng.Evaluate(context.Background(), []CartLine{{ProductRef: "A", Quantity: 5}})
	require.NoError(t, err)
	require.Equal(t, "150.00", res.Summary.Subtotal.StringFixed(2))
	require.Equal(t, "20.00", res.Summary.OrderDiscount.StringFixed(2))
	require.Equal(t, "130.00", res.Summary.GrandTotal.StringFixed(2))
	require.Len(t, res.AppliedOrderPromotions, 1)
	require.Equal(t, "20% off order up to 20.00 on orders from 100.00", res.AppliedOrderPromotions[0].SummaryText)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	cat := newStubCatalog().add("A", "12.34", "A").add("B", "7.77", "B").add("C", "1.99", "C")
	eng := newTestEngine(t, []Rule{
		productRule("p1", ProductDiscount{Scope: ScopeAll, DiscountKind: DiscountPercentage, Magnitude: d("12.5")}),
		productRule("p2", ProductDiscount{Scope: ScopeSpecific, ProductRef: "B", DiscountKind: DiscountFixed, Magnitude: d("2")}),
		giftRule("g1", BuyXGetY{BuyProductRef: "A", BuyMinQuantity: 3, GiftProductRef: "C", GiftDiscountKind: DiscountPercentage, GiftDiscountMagnitude: d("33")}),
		giftRule("g2", BuyXGetY{BuyProductRef: "A", BuyMinQuantity: 2, GiftProductRef: "B", GiftMaxSets: ip(1), GiftDiscountKind: DiscountFree}),
		orderRule("o", OrderDiscount{DiscountKind: DiscountPercentage, Magnitude: d("5")}),
	}, cat)
	cart := []CartLine{{ProductRef: "A", Quantity: 7}, {ProductRef: "B", Quantity: 2}}

	first, err := eng.Evaluate(context.Background(), cart)
	require.NoError(t, err)
	for range 5 {
		again, err := eng.Evaluate(context.Background(), cart)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	require.Len(t, first.Lines, 4)
	require.Equal(t, []string{"A", "C", "B", "B"}, []string{
		first.Lines[0].ProductRef, first.Lines[1].ProductRef, first.Lines[2].ProductRef, first.Lines[3].ProductRef,
	})
	require.True(t, first.Summary.GrandTotal.Sign() >= 0)
}

func TestEvaluateSkipsInvalidRules(t *testing.T) {
	obs.MustRegisterDomainMetrics("promo_test", prometheus.NewRegistry())
	before := testutil.ToFloat64(obs.PromotionInvalidRulesTotal.WithLabelValues(string(KindProductDiscount)))

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	cat := newStubCatalog().add("A", "10.00", "A")
	eng, err := NewEngine(EngineConfig{
		Rules: &stubRules{byKind: map[Kind][]Rule{KindProductDiscount: {
			productRule("broken", ProductDiscount{Scope: ScopeAll, DiscountKind: DiscountPercentage, Magnitude: d("150")}),
			productRule("ok", ProductDiscount{Scope: ScopeAll, DiscountKind: DiscountFixed, Magnitude: d("1")}),
		}}},
		Prices:   cat,
		Products: cat,
		Now:      func() time.Time { return evalNow },
		Logger:   &logger,
	})
	require.NoError(t, err)

	res, err := eng.Evaluate(context.Background(), []CartLine{{ProductRef: "A", Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, "ok", res.Lines[0].AppliedPromotion.RuleDetailID)
	require.Equal(t, "9.00", res.Summary.GrandTotal.StringFixed(2))

	after := testutil.ToFloat64(obs.PromotionInvalidRulesTotal.WithLabelValues(string(KindProductDiscount)))
	require.Equal(t, before+1, after)
	require.Contains(t, buf.String(), `"message":"promotion_rule_skipped"`)
	require.Contains(t, buf.String(), `"rule_id":"broken"`)
}

func TestEvaluateUnresolvedGiftDoesNotAbort(t *testing.T) {
	cat := newStubCatalog().add("A", "10.00", "A")
	eng := newTestEngine(t, []Rule{
		giftRule("g", BuyXGetY{BuyProductRef: "A", BuyMinQuantity: 1, GiftProductRef: "GHOST", GiftDiscountKind: DiscountFree}),
	}, cat)

	res, err := eng.Evaluate(context.Background(), []CartLine{{ProductRef: "A", Quantity: 2}})
	require.NoError(t, err)
	require.Len(t, res.Lines, 1)
	require.False(t, *res.Lines[0].EligibleForGiftPromotion)
}

func TestEvaluateFatalErrors(t *testing.T) {
	t.Run("unknown product", func(t *testing.T) {
		eng := newTestEngine(t, nil, newStubCatalog())
		_, err := eng.Evaluate(context.Background(), []CartLine{{ProductRef: "NOPE", Quantity: 1}})
		require.ErrorIs(t, err, ErrProductNotFound)
		require.NotErrorIs(t, err, ErrCatalogUnavailable)
	})

	t.Run("rule store down", func(t *testing.T) {
		boom := errors.New("dial tcp: connection refused")
		cat := newStubCatalog().add("A", "1.00", "A")
		eng, err := NewEngine(EngineConfig{Rules: &stubRules{err: boom}, Prices: cat, Products: cat})
		require.NoError(t, err)
		_, err = eng.Evaluate(context.Background(), []CartLine{{ProductRef: "A", Quantity: 1}})
		require.ErrorIs(t, err, ErrCatalogUnavailable)
		require.ErrorIs(t, err, boom)
	})

	t.Run("price store down", func(t *testing.T) {
		cat := newStubCatalog().add("A", "1.00", "A")
		cat.priceErr = errors.New("timeout")
		eng := newTestEngine(t, nil, cat)
		_, err := eng.Evaluate(context.Background(), []CartLine{{ProductRef: "A", Quantity: 1}})
		require.ErrorIs(t, err, ErrCatalogUnavailable)
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		eng := newTestEngine(t, nil, newStubCatalog().add("A", "1.00", "A"))
		_, err := eng.Evaluate(context.Background(), []CartLine{{ProductRef: "A", Quantity: 1}, {ProductRef: "A", Quantity: 0}})
		require.ErrorIs(t, err, ErrNonPositiveQuantity)
		var lineErr *LineError
		require.ErrorAs(t, err, &lineErr)
		require.Equal(t, 1, lineErr.Index)
	})

	t.Run("cancelled", func(t *testing.T) {
		eng := newTestEngine(t, nil, newStubCatalog().add("A", "1.00", "A"))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := eng.Evaluate(ctx, []CartLine{{ProductRef: "A", Quantity: 1}})
		require.ErrorIs(t, err, context.Canceled)
	})
}

type batchCatalog struct {
	*stubCatalog
	batches int
}

func (b *batchCatalog) GetCurrentPrices(_ context.Context, refs []string) (map[string]pricing.Money, error) {
	b.batches++
	out := map[string]pricing.Money{}
	for _, ref := range refs {
		if p, ok := b.prices[ref]; ok {
			out[ref] = p
		}
	}
	return out, nil
}

func TestEvaluateUsesBatchPrices(t *testing.T) {
	cat := &batchCatalog{stubCatalog: newStubCatalog().add("A", "2.00", "A").add("B", "4.00", "B")}
	eng, err := NewEngine(EngineConfig{Rules: &stubRules{}, Prices: cat, Products: cat, Now: func() time.Time { return evalNow }})
	require.NoError(t, err)

	res, err := eng.Evaluate(context.Background(), []CartLine{{ProductRef: "A", Quantity: 1}, {ProductRef: "B", Quantity: 2}, {ProductRef: "A", Quantity: 3}})
	require.NoError(t, err)
	require.Equal(t, 1, cat.batches)
	require.Zero(t, cat.calls)
	require.Equal(t, "16.00", res.Summary.GrandTotal.StringFixed(2))
}

func TestActiveRulesFiltersLocally(t *testing.T) {
	paused := productRule("paused", ProductDiscount{Scope: ScopeAll, DiscountKind: DiscountFixed, Magnitude: d("1")})
	paused.Campaign.Status = StatusPaused
	live := productRule("live", ProductDiscount{Scope: ScopeAll, DiscountKind: DiscountFixed, Magnitude: d("1")})
	eng := newTestEngine(t, []Rule{paused, live}, newStubCatalog())

	rules, err := eng.ActiveRules(context.Background(), KindProductDiscount)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "live", rules[0].ID)
}

func TestActiveRulesSkipsMalformedRules(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	cat := newStubCatalog()
	eng, err := NewEngine(EngineConfig{
		Rules: &stubRules{byKind: map[Kind][]Rule{KindProductDiscount: {
			productRule("broken", ProductDiscount{Scope: ScopeAll, DiscountKind: DiscountPercentage, Magnitude: d("150")}),
			productRule("ok", ProductDiscount{Scope: ScopeAll, DiscountKind: DiscountFixed, Magnitude: d("1")}),
		}}},
		Prices:   cat,
		Products: cat,
		Now:      func() time.Time { return evalNow },
		Logger:   &logger,
	})
	require.NoError(t, err)

	rules, err := eng.ActiveRules(context.Background(), KindProductDiscount)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "ok", rules[0].ID)
	require.Contains(t, buf.String(), `"rule_id":"broken"`)
}

func TestNewEngineRequiresSources(t *testing.T) {
	_, err := NewEngine(EngineConfig{})
	require.Error(t, err)
}
