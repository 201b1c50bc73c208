package promotion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectOrderDiscountCapped(t *testing.T) {
	rules := []Rule{orderRule("o", OrderDiscount{
		DiscountKind:   DiscountPercentage,
		Magnitude:      d("20"),
		MaxDiscountCap: dp("20.00"),
		MinOrderValue:  dp("100.00"),
	})}
	rule, amount := SelectOrderDiscount(d("150.00"), 5, rules)
	require.NotNil(t, rule)
	require.Equal(t, "20.00", amount.StringFixed(2))
}

func TestSelectOrderDiscountFloors(t *testing.T) {
	rules := []Rule{
		orderRule("value", OrderDiscount{DiscountKind: DiscountFixed, Magnitude: d("10"), MinOrderValue: dp("100.00")}),
		orderRule("qty", OrderDiscount{DiscountKind: DiscountFixed, Magnitude: d("5"), MinOrderQuantity: ip(6)}),
	}
	rule, _ := SelectOrderDiscount(d("99.99"), 5, rules)
	require.Nil(t, rule)

	rule, amount := SelectOrderDiscount(d("99.99"), 6, rules)
	require.Equal(t, "qty", rule.ID)
	require.Equal(t, "5.00", amount.StringFixed(2))
}

func TestSelectOrderDiscountClampsToTotal(t *testing.T) {
	rules := []Rule{orderRule("o", OrderDiscount{DiscountKind: DiscountFixed, Magnitude: d("200")})}
	_, amount := SelectOrderDiscount(d("150.00"), 1, rules)
	require.Equal(t, "150.00", amount.StringFixed(2))
}

func TestSelectOrderDiscountBestOf(t *testing.T) {
	rules := []Rule{
		orderRule("pct", OrderDiscount{DiscountKind: DiscountPercentage, Magnitude: d("20"), MaxDiscountCap: dp("20.00")}),
		orderRule("fixed", OrderDiscount{DiscountKind: DiscountFixed, Magnitude: d("25")}),
		orderRule("tie", OrderDiscount{DiscountKind: DiscountFixed, Magnitude: d("25")}),
	}
	rule, amount := SelectOrderDiscount(d("150.00"), 1, rules)
	require.Equal(t, "fixed", rule.ID)
	require.Equal(t, "25.00", amount.StringFixed(2))
}

func TestAggregateUsesPostLineDiscountTotal(t *testing.T) {
	// raw subtotal 110.00 clears the 100.00 floor, 88.00 after the line discount does not
	lines := []ResolvedLine{{
		SequenceID:       1,
		ProductRef:       "A",
		Quantity:         10,
		UnitPrice:        d("11.00"),
		LineTotal:        d("88.00"),
		AppliedPromotion: &PromotionApplication{RuleDetailID: "p", DiscountKind: DiscountPercentage, DiscountMagnitude: d("20")},
	}}
	orders := []Rule{orderRule("o", OrderDiscount{DiscountKind: DiscountFixed, Magnitude: d("10"), MinOrderValue: dp("100.00")})}

	summary, applied := Aggregate(lines, orders)
	require.Empty(t, applied)
	require.Equal(t, "110.00", summary.Subtotal.StringFixed(2))
	require.Equal(t, "22.00", summary.LineDiscountTotal.StringFixed(2))
	require.Equal(t, "0.00", summary.OrderDiscount.StringFixed(2))
	require.Equal(t, "88.00", summary.GrandTotal.StringFixed(2))
}

func TestAggregateCountsOnlyPurchaseQuantity(t *testing.T) {
	source := 1
	lines := []ResolvedLine{
		{SequenceID: 1, ProductRef: "A", Quantity: 4, UnitPrice: d("5.00"), LineTotal: d("20.00")},
		{
			SequenceID: 2, ProductRef: "B", Quantity: 2, UnitPrice: d("3.00"), LineTotal: d("0.00"),
			AppliedPromotion: &PromotionApplication{RuleDetailID: "g", DiscountKind: DiscountFixed, DiscountMagnitude: d("6.00"), SourceLineID: &source},
		},
	}
	orders := []Rule{orderRule("o", OrderDiscount{DiscountKind: DiscountFixed, Magnitude: d("1"), MinOrderQuantity: ip(5)})}

	summary, applied := Aggregate(lines, orders)
	require.Empty(t, applied)
	require.Equal(t, "26.00", summary.Subtotal.StringFixed(2))
	require.Equal(t, "6.00", summary.LineDiscountTotal.StringFixed(2))
	require.Equal(t, "20.00", summary.GrandTotal.StringFixed(2))

	orders[0].OrderDiscount.MinOrderQuantity = ip(4)
	summary, applied = Aggregate(lines, orders)
	require.Len(t, applied, 1)
	require.Equal(t, "o", applied[0].RuleDetailID)
	require.Nil(t, applied[0].SourceLineID)
	require.Equal(t, "19.00", summary.GrandTotal.StringFixed(2))
}
