package promotion

import (
	"time"

	"github.com/noah-isme/backend-promo/internal/pricing"
)

type evaluateRequest struct {
	Items []evaluateItem `json:"items" validate:"required,min=1,max=200,dive"`
}

type evaluateItem struct {
	ProductRef string `json:"productRef" validate:"required,max=64"`
	// Quantity is checked by the engine so that non-positive values map to
	// INVALID_QUANTITY rather than a generic validation failure.
	Quantity int `json:"quantity"`
}

type redeemRequest struct {
	RuleDetailIDs []string `json:"ruleDetailIds" validate:"required,min=1,max=50,dive,required,uuid"`
}

type evaluationResponse struct {
	Lines                  []lineResponse        `json:"lines"`
	Summary                summaryResponse       `json:"summary"`
	AppliedOrderPromotions []applicationResponse `json:"appliedOrderPromotions"`
}

type lineResponse struct {
	SequenceID               int                  `json:"sequenceId"`
	ProductRef               string               `json:"productRef"`
	ProductLabel             string               `json:"productLabel"`
	UnitLabel                string               `json:"unitLabel"`
	Quantity                 int                  `json:"quantity"`
	UnitPrice                string               `json:"unitPrice"`
	LineTotal                string               `json:"lineTotal"`
	EligibleForGiftPromotion *bool                `json:"eligibleForGiftPromotion"`
	AppliedPromotion         *applicationResponse `json:"appliedPromotion"`
}

type applicationResponse struct {
	RuleCode          string `json:"ruleCode"`
	RuleDescription   string `json:"ruleDescription"`
	RuleDetailID      string `json:"ruleDetailId"`
	SummaryText       string `json:"summaryText"`
	DiscountKind      string `json:"discountKind"`
	DiscountMagnitude string `json:"discountMagnitude"`
	SourceLineID      *int   `json:"sourceLineId"`
}

type summaryResponse struct {
	Subtotal          string `json:"subtotal"`
	LineDiscountTotal string `json:"lineDiscountTotal"`
	OrderDiscount     string `json:"orderDiscount"`
	GrandTotal        string `json:"grandTotal"`
}

type ruleResponse struct {
	ID                string                   `json:"id"`
	Code              string                   `json:"code"`
	Description       string                   `json:"description"`
	Kind              Kind                     `json:"kind"`
	StartAt           *time.Time               `json:"startAt,omitempty"`
	EndAt             *time.Time               `json:"endAt,omitempty"`
	MaxTotalUsage     *int                     `json:"maxTotalUsage"`
	CurrentUsageCount int                      `json:"currentUsageCount"`
	Campaign          campaignResponse         `json:"campaign"`
	BuyXGetY          *buyXGetYResponse        `json:"buyXGetY,omitempty"`
	ProductDiscount   *productDiscountResponse `json:"productDiscount,omitempty"`
	OrderDiscount     *orderDiscountResponse   `json:"orderDiscount,omitempty"`
}

type campaignResponse struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type buyXGetYResponse struct {
	BuyProductRef         string `json:"buyProductRef"`
	BuyMinQuantity        int    `json:"buyMinQuantity"`
	GiftProductRef        string `json:"giftProductRef"`
	GiftQuantityPerSet    *int   `json:"giftQuantityPerSet"`
	GiftMaxSets           *int   `json:"giftMaxSets"`
	GiftDiscountKind      string `json:"giftDiscountKind"`
	GiftDiscountMagnitude string `json:"giftDiscountMagnitude"`
}

type productDiscountResponse struct {
	Scope        string  `json:"scope"`
	ProductRef   string  `json:"productRef,omitempty"`
	DiscountKind string  `json:"discountKind"`
	Magnitude    string  `json:"magnitude"`
	MinQuantity  *int    `json:"minQuantity"`
	MinLineValue *string `json:"minLineValue"`
}

type orderDiscountResponse struct {
	DiscountKind     string  `json:"discountKind"`
	Magnitude        string  `json:"magnitude"`
	MaxDiscountCap   *string `json:"maxDiscountCap"`
	MinOrderValue    *string `json:"minOrderValue"`
	MinOrderQuantity *int    `json:"minOrderQuantity"`
}

func toEvaluationResponse(res Result) evaluationResponse {
	out := evaluationResponse{
		Lines: make([]lineResponse, 0, len(res.Lines)),
		Summary: summaryResponse{
			Subtotal:          money(res.Summary.Subtotal),
			LineDiscountTotal: money(res.Summary.LineDiscountTotal),
			OrderDiscount:     money(res.Summary.OrderDiscount),
			GrandTotal:        money(res.Summary.GrandTotal),
		},
		AppliedOrderPromotions: make([]applicationResponse, 0, len(res.AppliedOrderPromotions)),
	}
	for _, l := range res.Lines {
		line := lineResponse{
			SequenceID:               l.SequenceID,
			ProductRef:               l.ProductRef,
			ProductLabel:             l.ProductLabel,
			UnitLabel:                l.UnitLabel,
			Quantity:                 l.Quantity,
			UnitPrice:                money(l.UnitPrice),
			LineTotal:                money(l.LineTotal),
			EligibleForGiftPromotion: l.EligibleForGiftPromotion,
		}
		if l.AppliedPromotion != nil {
			app := toApplicationResponse(*l.AppliedPromotion)
			line.AppliedPromotion = &app
		}
		out.Lines = append(out.Lines, line)
	}
	for _, a := range res.AppliedOrderPromotions {
		out.AppliedOrderPromotions = append(out.AppliedOrderPromotions, toApplicationResponse(a))
	}
	return out
}

func toApplicationResponse(a PromotionApplication) applicationResponse {
	return applicationResponse{
		RuleCode:          a.RuleCode,
		RuleDescription:   a.RuleDescription,
		RuleDetailID:      a.RuleDetailID,
		SummaryText:       a.SummaryText,
		DiscountKind:      string(a.DiscountKind),
		DiscountMagnitude: money(a.DiscountMagnitude),
		SourceLineID:      a.SourceLineID,
	}
}

func toRuleResponse(r Rule) ruleResponse {
	out := ruleResponse{
		ID:                r.ID,
		Code:              r.code(),
		Description:       r.label(),
		Kind:              r.Kind,
		StartAt:           optionalTime(r.StartAt),
		EndAt:             optionalTime(r.EndAt),
		MaxTotalUsage:     r.MaxTotalUsage,
		CurrentUsageCount: r.CurrentUsageCount,
		Campaign: campaignResponse{
			ID:   r.Campaign.ID,
			Code: r.Campaign.Code,
			Name: r.Campaign.Name,
		},
	}
	switch {
	case r.BuyXGetY != nil:
		b := r.BuyXGetY
		out.BuyXGetY = &buyXGetYResponse{
			BuyProductRef:         b.BuyProductRef,
			BuyMinQuantity:        b.BuyMinQuantity,
			GiftProductRef:        b.GiftProductRef,
			GiftQuantityPerSet:    b.GiftQuantityPerSet,
			GiftMaxSets:           b.GiftMaxSets,
			GiftDiscountKind:      string(b.GiftDiscountKind),
			GiftDiscountMagnitude: money(b.GiftDiscountMagnitude),
		}
	case r.ProductDiscount != nil:
		p := r.ProductDiscount
		out.ProductDiscount = &productDiscountResponse{
			Scope:        string(p.Scope),
			ProductRef:   p.ProductRef,
			DiscountKind: string(p.DiscountKind),
			Magnitude:    money(p.Magnitude),
			MinQuantity:  p.MinQuantity,
			MinLineValue: optionalMoney(p.MinLineValue),
		}
	case r.OrderDiscount != nil:
		o := r.OrderDiscount
		out.OrderDiscount = &orderDiscountResponse{
			DiscountKind:     string(o.DiscountKind),
			Magnitude:        money(o.Magnitude),
			MaxDiscountCap:   optionalMoney(o.MaxDiscountCap),
			MinOrderValue:    optionalMoney(o.MinOrderValue),
			MinOrderQuantity: o.MinOrderQuantity,
		}
	}
	return out
}

func optionalMoney(m *pricing.Money) *string {
	if m == nil {
		return nil
	}
	s := money(*m)
	return &s
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
