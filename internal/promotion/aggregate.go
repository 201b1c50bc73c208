package promotion

import (
	"github.com/noah-isme/backend-promo/internal/pricing"
)

// PromotionApplication describes a promotion applied to a line or to the order.
type PromotionApplication struct {
	RuleCode          string
	RuleDescription   string
	RuleDetailID      string
	SummaryText       string
	DiscountKind      DiscountKind
	DiscountMagnitude pricing.Money
	// SourceLineID points at the purchase line that triggered a gift line; nil otherwise.
	SourceLineID *int
}

// ResolvedLine is a priced output line, either requested or synthesized.
type ResolvedLine struct {
	SequenceID               int
	ProductRef               string
	UnitLabel                string
	ProductLabel             string
	Quantity                 int
	UnitPrice                pricing.Money
	LineTotal                pricing.Money
	EligibleForGiftPromotion *bool
	AppliedPromotion         *PromotionApplication
}

// IsGift reports whether the line was synthesized by a BuyXGetY rule.
func (l ResolvedLine) IsGift() bool {
	return l.AppliedPromotion != nil && l.AppliedPromotion.SourceLineID != nil
}

// Summary carries the cart totals.
type Summary struct {
	Subtotal          pricing.Money
	OrderDiscount     pricing.Money
	LineDiscountTotal pricing.Money
	GrandTotal        pricing.Money
}

// Aggregate totals resolved lines and applies the best order discount from
// orderRules against the post-line-discount total. The applied order promotion
// is returned as a zero- or one-element slice.
func Aggregate(lines []ResolvedLine, orderRules []Rule) (Summary, []PromotionApplication) {
	items := make([]pricing.Item, 0, len(lines))
	totalQty := 0
	for _, l := range lines {
		items = append(items, pricing.Item{
			Qty:        l.Quantity,
			UnitPrice:  l.UnitPrice,
			Total:      l.LineTotal,
			Discounted: l.AppliedPromotion != nil,
		})
		if !l.IsGift() {
			totalQty += l.Quantity
		}
	}

	var selected *Rule
	computed := pricing.Compute(items, func(afterLines pricing.Money) pricing.Money {
		rule, amount := SelectOrderDiscount(afterLines, totalQty, orderRules)
		selected = rule
		return amount
	})

	applied := []PromotionApplication{}
	if selected != nil {
		od := selected.OrderDiscount
		applied = append(applied, PromotionApplication{
			RuleCode:          selected.code(),
			RuleDescription:   selected.label(),
			RuleDetailID:      selected.ID,
			SummaryText:       orderSummaryText(od),
			DiscountKind:      od.DiscountKind,
			DiscountMagnitude: od.Magnitude,
		})
	}
	return Summary{
		Subtotal:          computed.Subtotal,
		OrderDiscount:     computed.OrderDiscount,
		LineDiscountTotal: computed.LineDiscountTotal,
		GrandTotal:        computed.GrandTotal,
	}, applied
}
