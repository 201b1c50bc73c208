package promotion

import (
	"github.com/noah-isme/backend-promo/internal/pricing"
)

// SelectOrderDiscount picks the order-level rule with the greatest discount
// against totalAfterLineDiscounts. Floors are checked against the same total,
// never the raw subtotal. The first candidate wins ties.
func SelectOrderDiscount(totalAfterLineDiscounts pricing.Money, totalQuantity int, candidates []Rule) (*Rule, pricing.Money) {
	var (
		best       *Rule
		bestAmount = pricing.Zero()
	)
	for i := range candidates {
		r := &candidates[i]
		if r.Kind != KindOrderDiscount || r.Validate() != nil {
			continue
		}
		od := r.OrderDiscount
		if od.MinOrderValue != nil && totalAfterLineDiscounts.LessThan(*od.MinOrderValue) {
			continue
		}
		if od.MinOrderQuantity != nil && totalQuantity < *od.MinOrderQuantity {
			continue
		}
		amount := pricing.Clamp(orderDiscountAmount(totalAfterLineDiscounts, od), totalAfterLineDiscounts)
		if best == nil || amount.GreaterThan(bestAmount) {
			best = r
			bestAmount = amount
		}
	}
	return best, bestAmount
}

func orderDiscountAmount(total pricing.Money, od *OrderDiscount) pricing.Money {
	switch od.DiscountKind {
	case DiscountPercentage:
		amount := pricing.Percent(total, od.Magnitude)
		if od.MaxDiscountCap != nil && amount.GreaterThan(*od.MaxDiscountCap) {
			amount = *od.MaxDiscountCap
		}
		return amount
	case DiscountFixed:
		return od.Magnitude
	default:
		return pricing.Zero()
	}
}
