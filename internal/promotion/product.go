package promotion

import (
	"github.com/noah-isme/backend-promo/internal/pricing"
)

// Line is a priced purchase line as seen by the selectors.
type Line struct {
	ProductRef string
	Quantity   int
	UnitPrice  pricing.Money
}

// Value returns the undiscounted line value.
func (l Line) Value() pricing.Money {
	return pricing.LineValue(l.UnitPrice, l.Quantity)
}

// SelectProductDiscount returns the candidate yielding the strictly greatest
// discount for line together with that amount. The first candidate wins ties.
// It returns nil when nothing qualifies.
func SelectProductDiscount(line Line, candidates []Rule) (*Rule, pricing.Money) {
	var (
		best       *Rule
		bestAmount = pricing.Zero()
	)
	for i := range candidates {
		r := &candidates[i]
		if !productDiscountMatches(line, *r) {
			continue
		}
		amount := productDiscountAmount(line.Value(), r.ProductDiscount)
		if best == nil || amount.GreaterThan(bestAmount) {
			best = r
			bestAmount = amount
		}
	}
	return best, bestAmount
}

func productDiscountMatches(line Line, r Rule) bool {
	if r.Kind != KindProductDiscount || r.Validate() != nil {
		return false
	}
	pd := r.ProductDiscount
	if pd.Scope == ScopeSpecific && pd.ProductRef != line.ProductRef {
		return false
	}
	if pd.MinQuantity != nil && line.Quantity < *pd.MinQuantity {
		return false
	}
	if pd.MinLineValue != nil && line.Value().LessThan(*pd.MinLineValue) {
		return false
	}
	return true
}

func productDiscountAmount(lineTotal pricing.Money, pd *ProductDiscount) pricing.Money {
	switch pd.DiscountKind {
	case DiscountPercentage:
		return pricing.Clamp(pricing.Percent(lineTotal, pd.Magnitude), lineTotal)
	case DiscountFixed:
		return pricing.Clamp(pd.Magnitude, lineTotal)
	default:
		return pricing.Zero()
	}
}
