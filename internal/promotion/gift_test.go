package promotion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-promo/internal/pricing"
)

func priceTable(prices map[string]string) PriceLookup {
	return func(_ context.Context, ref string) (pricing.Money, error) {
		p, ok := prices[ref]
		if !ok {
			return pricing.Zero(), ProductNotFound(ref)
		}
		return d(p), nil
	}
}

func TestSynthesizeGiftsFree(t *testing.T) {
	line := Line{ProductRef: "A", Quantity: 4, UnitPrice: d("5.00")}
	rules := []Rule{giftRule("g", BuyXGetY{BuyProductRef: "A", BuyMinQuantity: 2, GiftProductRef: "B", GiftQuantityPerSet: ip(1), GiftDiscountKind: DiscountFree})}

	gifts, skipped, err := SynthesizeGifts(context.Background(), line, rules, priceTable(map[string]string{"B": "3.00"}))
	require.NoError(t, err)
	require.Empty(t, skipped)
	require.Len(t, gifts, 1)
	g := gifts[0]
	require.Equal(t, "B", g.ProductRef)
	require.Equal(t, 2, g.Quantity)
	require.Equal(t, "0.00", g.LineTotal.StringFixed(2))
	require.Equal(t, "6.00", g.ReportedMagnitude.StringFixed(2))
}

func TestSynthesizeGiftsFloorDivisionAndMaxSets(t *testing.T) {
	prices := priceTable(map[string]string{"B": "1.00"})
	rule := giftRule("g", BuyXGetY{BuyProductRef: "A", BuyMinQuantity: 2, GiftProductRef: "B", GiftMaxSets: ip(3), GiftDiscountKind: DiscountFree})

	cases := []struct {
		qty  int
		want int
	}{
		{qty: 1, want: 0},
		{qty: 3, want: 1},
		{qty: 4, want: 2},
		{qty: 8, want: 3},
		{qty: 40, want: 3},
	}
	for _, tc := range cases {
		gifts, _, err := SynthesizeGifts(context.Background(), Line{ProductRef: "A", Quantity: tc.qty}, []Rule{rule}, prices)
		require.NoError(t, err)
		if tc.want == 0 {
			require.Empty(t, gifts, "qty %d", tc.qty)
			continue
		}
		require.Len(t, gifts, 1)
		require.Equal(t, tc.want, gifts[0].Quantity, "qty %d", tc.qty)
	}
}

func TestSynthesizeGiftsPercentageAndFixed(t *testing.T) {
	line := Line{ProductRef: "A", Quantity: 2}
	rules := []Rule{
		giftRule("half", BuyXGetY{BuyProductRef: "A", BuyMinQuantity: 1, GiftProductRef: "B", GiftDiscountKind: DiscountPercentage, GiftDiscountMagnitude: d("50")}),
		giftRule("fixed", BuyXGetY{BuyProductRef: "A", BuyMinQuantity: 2, GiftProductRef: "C", GiftQuantityPerSet: ip(2), GiftDiscountKind: DiscountFixed, GiftDiscountMagnitude: d("5")}),
	}
	gifts, _, err := SynthesizeGifts(context.Background(), line, rules, priceTable(map[string]string{"B": "3.33", "C": "3.00"}))
	require.NoError(t, err)
	require.Len(t, gifts, 2)

	// 50% of 3.33 = 1.665 -> 1.67; net 1.66 x 2
	half := gifts[0]
	require.Equal(t, "1.67", half.PerUnitDiscount.String())
	require.Equal(t, "3.32", half.LineTotal.StringFixed(2))
	require.Equal(t, "50", half.ReportedMagnitude.String())

	// fixed discount above the unit price is clamped to the price
	fixed := gifts[1]
	require.Equal(t, 2, fixed.Quantity)
	require.Equal(t, "3.00", fixed.PerUnitDiscount.StringFixed(2))
	require.Equal(t, "0.00", fixed.LineTotal.StringFixed(2))
	require.Equal(t, "6.00", fixed.ReportedMagnitude.StringFixed(2))
}

func TestSynthesizeGiftsIgnoresOtherProducts(t *testing.T) {
	rules := []Rule{giftRule("g", BuyXGetY{BuyProductRef: "Z", BuyMinQuantity: 1, GiftProductRef: "B", GiftDiscountKind: DiscountFree})}
	gifts, skipped, err := SynthesizeGifts(context.Background(), Line{ProductRef: "A", Quantity: 10}, rules, priceTable(nil))
	require.NoError(t, err)
	require.Empty(t, gifts)
	require.Empty(t, skipped)
}

func TestSynthesizeGiftsUnresolvedGiftIsSkipped(t *testing.T) {
	rules := []Rule{
		giftRule("missing", BuyXGetY{BuyProductRef: "A", BuyMinQuantity: 1, GiftProductRef: "GHOST", GiftDiscountKind: DiscountFree}),
		giftRule("ok", BuyXGetY{BuyProductRef: "A", BuyMinQuantity: 1, GiftProductRef: "B", GiftDiscountKind: DiscountFree}),
	}
	gifts, skipped, err := SynthesizeGifts(context.Background(), Line{ProductRef: "A", Quantity: 1}, rules, priceTable(map[string]string{"B": "2.00"}))
	require.NoError(t, err)
	require.Len(t, gifts, 1)
	require.Equal(t, "ok", gifts[0].Rule.ID)
	require.Len(t, skipped, 1)
	require.Equal(t, "missing", skipped[0].Rule.ID)
	require.ErrorIs(t, skipped[0].Err, ErrInvalidRuleData)
}

func TestSynthesizeGiftsAbortsOnStoreFailure(t *testing.T) {
	boom := errors.New("connection reset")
	lookup := func(context.Context, string) (pricing.Money, error) { return pricing.Zero(), boom }
	rules := []Rule{giftRule("g", BuyXGetY{BuyProductRef: "A", BuyMinQuantity: 1, GiftProductRef: "B", GiftDiscountKind: DiscountFree})}

	_, _, err := SynthesizeGifts(context.Background(), Line{ProductRef: "A", Quantity: 1}, rules, lookup)
	require.ErrorIs(t, err, boom)
}
