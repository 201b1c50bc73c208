package promotion

import (
	"context"
	"errors"

	"github.com/noah-isme/backend-promo/internal/pricing"
)

// PriceLookup resolves the current unit price of a product.
type PriceLookup func(ctx context.Context, productRef string) (pricing.Money, error)

// Gift is a line synthesized by a BuyXGetY rule.
type Gift struct {
	Rule            *Rule
	ProductRef      string
	Quantity        int
	UnitPrice       pricing.Money
	PerUnitDiscount pricing.Money
	LineTotal       pricing.Money
	// ReportedMagnitude is the raw percentage for percentage gifts and the
	// total monetary discount for fixed and free gifts.
	ReportedMagnitude pricing.Money
}

// Skipped records a rule dropped during synthesis.
type Skipped struct {
	Rule Rule
	Err  error
}

// SynthesizeGifts emits one gift per qualifying BuyXGetY candidate, in
// candidate order. Gift products that do not resolve are returned as Skipped
// with ErrInvalidRuleData; any other lookup failure aborts.
func SynthesizeGifts(ctx context.Context, line Line, candidates []Rule, lookup PriceLookup) ([]Gift, []Skipped, error) {
	var (
		gifts   []Gift
		skipped []Skipped
	)
	for i := range candidates {
		r := &candidates[i]
		qty, ok := giftQuantity(line, *r)
		if !ok {
			continue
		}
		bxgy := r.BuyXGetY
		price, err := lookup(ctx, bxgy.GiftProductRef)
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				skipped = append(skipped, Skipped{Rule: *r, Err: invalidRule(*r, "gift product does not resolve: "+err.Error())})
				continue
			}
			return nil, nil, err
		}
		perUnit := giftPerUnitDiscount(price, bxgy)
		net := pricing.NonNegative(price.Sub(perUnit))
		gift := Gift{
			Rule:            r,
			ProductRef:      bxgy.GiftProductRef,
			Quantity:        qty,
			UnitPrice:       price,
			PerUnitDiscount: perUnit,
			LineTotal:       pricing.LineValue(net, qty),
		}
		if bxgy.GiftDiscountKind == DiscountPercentage {
			gift.ReportedMagnitude = bxgy.GiftDiscountMagnitude
		} else {
			gift.ReportedMagnitude = pricing.LineValue(perUnit, qty)
		}
		gifts = append(gifts, gift)
	}
	return gifts, skipped, nil
}

// giftQuantity returns the number of gift units line earns under r.
func giftQuantity(line Line, r Rule) (int, bool) {
	if r.Kind != KindBuyXGetY || r.Validate() != nil {
		return 0, false
	}
	bxgy := r.BuyXGetY
	if bxgy.BuyProductRef != line.ProductRef || line.Quantity < bxgy.BuyMinQuantity {
		return 0, false
	}
	sets := line.Quantity / bxgy.BuyMinQuantity
	if bxgy.GiftMaxSets != nil && *bxgy.GiftMaxSets < sets {
		sets = *bxgy.GiftMaxSets
	}
	perSet := 1
	if bxgy.GiftQuantityPerSet != nil {
		perSet = *bxgy.GiftQuantityPerSet
	}
	qty := sets * perSet
	if qty <= 0 {
		return 0, false
	}
	return qty, true
}

// giftPerUnitDiscount never exceeds the gift's unit price.
func giftPerUnitDiscount(price pricing.Money, bxgy *BuyXGetY) pricing.Money {
	switch bxgy.GiftDiscountKind {
	case DiscountFree:
		return pricing.NonNegative(price)
	case DiscountPercentage:
		return pricing.Clamp(pricing.Percent(price, bxgy.GiftDiscountMagnitude), price)
	case DiscountFixed:
		return pricing.Clamp(bxgy.GiftDiscountMagnitude, price)
	default:
		return pricing.Zero()
	}
}
