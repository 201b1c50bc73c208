package promotion

import (
	"fmt"
	"strings"

	"github.com/noah-isme/backend-promo/internal/pricing"
)

func productSummaryText(pd *ProductDiscount) string {
	text := magnitudeText(pd.DiscountKind, pd.Magnitude) + " off"
	var floors []string
	if pd.MinQuantity != nil && *pd.MinQuantity > 1 {
		floors = append(floors, fmt.Sprintf("%d+ units", *pd.MinQuantity))
	}
	if pd.MinLineValue != nil && pd.MinLineValue.Sign() > 0 {
		floors = append(floors, "line value from "+money(*pd.MinLineValue))
	}
	if len(floors) > 0 {
		text += " (" + strings.Join(floors, ", ") + ")"
	}
	return text
}

func giftSummaryText(bxgy *BuyXGetY, giftLabel string) string {
	perSet := 1
	if bxgy.GiftQuantityPerSet != nil {
		perSet = *bxgy.GiftQuantityPerSet
	}
	if strings.TrimSpace(giftLabel) == "" {
		giftLabel = bxgy.GiftProductRef
	}
	text := fmt.Sprintf("Buy %d get %d %s", bxgy.BuyMinQuantity, perSet, giftLabel)
	switch bxgy.GiftDiscountKind {
	case DiscountFree:
		text += " free"
	case DiscountPercentage:
		text += " at " + magnitudeText(DiscountPercentage, bxgy.GiftDiscountMagnitude) + " off"
	case DiscountFixed:
		text += " with " + money(bxgy.GiftDiscountMagnitude) + " off each"
	}
	if bxgy.GiftMaxSets != nil {
		text += fmt.Sprintf(" (max %d per order)", *bxgy.GiftMaxSets)
	}
	return text
}

func orderSummaryText(od *OrderDiscount) string {
	text := magnitudeText(od.DiscountKind, od.Magnitude) + " off order"
	if od.DiscountKind == DiscountPercentage && od.MaxDiscountCap != nil {
		text += " up to " + money(*od.MaxDiscountCap)
	}
	if od.MinOrderValue != nil && od.MinOrderValue.Sign() > 0 {
		text += " on orders from " + money(*od.MinOrderValue)
	}
	return text
}

func magnitudeText(kind DiscountKind, magnitude pricing.Money) string {
	if kind == DiscountPercentage {
		return magnitude.String() + "%"
	}
	return money(magnitude)
}

func money(m pricing.Money) string {
	return pricing.Round(m).StringFixed(2)
}
