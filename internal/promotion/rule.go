package promotion

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/backend-promo/internal/pricing"
)

// Kind discriminates the payload carried by a Rule.
type Kind string

const (
	KindBuyXGetY        Kind = "BUY_X_GET_Y"
	KindProductDiscount Kind = "PRODUCT_DISCOUNT"
	KindOrderDiscount   Kind = "ORDER_DISCOUNT"
)

// Kinds lists every supported rule kind in evaluation order.
func Kinds() []Kind {
	return []Kind{KindBuyXGetY, KindProductDiscount, KindOrderDiscount}
}

// ParseKind normalises a textual kind.
func ParseKind(value string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(value)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown promotion kind %q", value)
}

// Status is the lifecycle state shared by campaigns and rule lines.
type Status string

const (
	StatusDraft   Status = "DRAFT"
	StatusActive  Status = "ACTIVE"
	StatusPaused  Status = "PAUSED"
	StatusEnded   Status = "ENDED"
	StatusDeleted Status = "DELETED"
)

// DiscountKind describes how a magnitude is turned into money.
type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFixed      DiscountKind = "fixed"
	// DiscountFree is only valid for gift lines.
	DiscountFree DiscountKind = "free"
)

// Scope limits a product discount to every product or to one product.
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeSpecific Scope = "specific"
)

// Campaign is the promotional program enclosing rule lines.
type Campaign struct {
	ID      string
	Code    string
	Name    string
	Active  bool
	Status  Status
	StartAt time.Time
	EndAt   time.Time
}

// BuyXGetY awards gift units of GiftProductRef per BuyMinQuantity units bought.
type BuyXGetY struct {
	BuyProductRef         string
	BuyMinQuantity        int
	GiftProductRef        string
	GiftQuantityPerSet    *int
	GiftMaxSets           *int
	GiftDiscountKind      DiscountKind
	GiftDiscountMagnitude pricing.Money
}

// ProductDiscount discounts a single purchase line.
type ProductDiscount struct {
	Scope        Scope
	ProductRef   string
	DiscountKind DiscountKind
	Magnitude    pricing.Money
	MinQuantity  *int
	MinLineValue *pricing.Money
}

// OrderDiscount discounts the cart total after line discounts.
type OrderDiscount struct {
	DiscountKind     DiscountKind
	Magnitude        pricing.Money
	MaxDiscountCap   *pricing.Money
	MinOrderValue    *pricing.Money
	MinOrderQuantity *int
}

// Rule is one promotion rule line. Exactly one of the payload pointers is set,
// matching Kind.
type Rule struct {
	ID                string
	Code              string
	Description       string
	Status            Status
	StartAt           time.Time
	EndAt             time.Time
	MaxTotalUsage     *int
	CurrentUsageCount int
	Campaign          Campaign

	Kind            Kind
	BuyXGetY        *BuyXGetY
	ProductDiscount *ProductDiscount
	OrderDiscount   *OrderDiscount

	// DecodeErr is set when the stored row could not be decoded. Such a rule
	// never validates.
	DecodeErr error
}

// EligibleAt reports whether the rule may apply at now: campaign and line both
// active, now inside both windows, and usage quota not exhausted.
func (r Rule) EligibleAt(now time.Time) bool {
	c := r.Campaign
	if !c.Active || c.Status != StatusActive || r.Status != StatusActive {
		return false
	}
	if !within(now, c.StartAt, c.EndAt) || !within(now, r.StartAt, r.EndAt) {
		return false
	}
	if r.MaxTotalUsage != nil && r.CurrentUsageCount >= *r.MaxTotalUsage {
		return false
	}
	return true
}

// within treats a zero bound as open-ended; set bounds are inclusive.
func within(now, start, end time.Time) bool {
	if !start.IsZero() && now.Before(start) {
		return false
	}
	if !end.IsZero() && now.After(end) {
		return false
	}
	return true
}

// FilterActive returns the rules of kind that are eligible at now, preserving
// input order.
func FilterActive(rules []Rule, kind Kind, now time.Time) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if kind != "" && r.Kind != kind {
			continue
		}
		if r.EligibleAt(now) {
			out = append(out, r)
		}
	}
	return out
}

// Validate performs the defensive data checks applied before a rule is used.
// Failures wrap ErrInvalidRuleData.
func (r Rule) Validate() error {
	if r.DecodeErr != nil {
		return invalidRule(r, r.DecodeErr.Error())
	}
	if !r.StartAt.IsZero() && !r.EndAt.IsZero() && r.EndAt.Before(r.StartAt) {
		return invalidRule(r, "rule ends before it starts")
	}
	switch r.Kind {
	case KindBuyXGetY:
		if r.BuyXGetY == nil || r.ProductDiscount != nil || r.OrderDiscount != nil {
			return invalidRule(r, "payload does not match kind")
		}
		return r.BuyXGetY.validate(r)
	case KindProductDiscount:
		if r.ProductDiscount == nil || r.BuyXGetY != nil || r.OrderDiscount != nil {
			return invalidRule(r, "payload does not match kind")
		}
		return r.ProductDiscount.validate(r)
	case KindOrderDiscount:
		if r.OrderDiscount == nil || r.BuyXGetY != nil || r.ProductDiscount != nil {
			return invalidRule(r, "payload does not match kind")
		}
		return r.OrderDiscount.validate(r)
	default:
		return invalidRule(r, fmt.Sprintf("unknown kind %q", r.Kind))
	}
}

func (b *BuyXGetY) validate(r Rule) error {
	if strings.TrimSpace(b.BuyProductRef) == "" {
		return invalidRule(r, "missing buy product")
	}
	if strings.TrimSpace(b.GiftProductRef) == "" {
		return invalidRule(r, "missing gift product")
	}
	if b.BuyMinQuantity <= 0 {
		return invalidRule(r, "buy minimum quantity must be positive")
	}
	switch b.GiftDiscountKind {
	case DiscountFree:
		return nil
	case DiscountPercentage, DiscountFixed:
		return validateMagnitude(r, b.GiftDiscountKind, b.GiftDiscountMagnitude)
	default:
		return invalidRule(r, fmt.Sprintf("unsupported gift discount kind %q", b.GiftDiscountKind))
	}
}

func (p *ProductDiscount) validate(r Rule) error {
	switch p.Scope {
	case ScopeAll:
	case ScopeSpecific:
		if strings.TrimSpace(p.ProductRef) == "" {
			return invalidRule(r, "specific scope without product")
		}
	default:
		return invalidRule(r, fmt.Sprintf("unsupported scope %q", p.Scope))
	}
	if p.DiscountKind != DiscountPercentage && p.DiscountKind != DiscountFixed {
		return invalidRule(r, fmt.Sprintf("unsupported discount kind %q", p.DiscountKind))
	}
	if p.MinQuantity != nil && *p.MinQuantity < 0 {
		return invalidRule(r, "negative minimum quantity")
	}
	if p.MinLineValue != nil && p.MinLineValue.Sign() < 0 {
		return invalidRule(r, "negative minimum line value")
	}
	return validateMagnitude(r, p.DiscountKind, p.Magnitude)
}

func (o *OrderDiscount) validate(r Rule) error {
	if o.DiscountKind != DiscountPercentage && o.DiscountKind != DiscountFixed {
		return invalidRule(r, fmt.Sprintf("unsupported discount kind %q", o.DiscountKind))
	}
	if o.MaxDiscountCap != nil && o.MaxDiscountCap.Sign() < 0 {
		return invalidRule(r, "negative discount cap")
	}
	if o.MinOrderValue != nil && o.MinOrderValue.Sign() < 0 {
		return invalidRule(r, "negative minimum order value")
	}
	if o.MinOrderQuantity != nil && *o.MinOrderQuantity < 0 {
		return invalidRule(r, "negative minimum order quantity")
	}
	return validateMagnitude(r, o.DiscountKind, o.Magnitude)
}

func validateMagnitude(r Rule, kind DiscountKind, magnitude pricing.Money) error {
	switch kind {
	case DiscountPercentage:
		if magnitude.Sign() <= 0 || magnitude.GreaterThan(maxPercent) {
			return invalidRule(r, fmt.Sprintf("percentage %s outside (0,100]", magnitude.String()))
		}
	case DiscountFixed:
		if magnitude.Sign() < 0 {
			return invalidRule(r, "negative fixed amount")
		}
	}
	return nil
}

// label returns the description shown to customers.
func (r Rule) label() string {
	if d := strings.TrimSpace(r.Description); d != "" {
		return d
	}
	return r.Campaign.Name
}

// code returns the rule code, falling back to the campaign code.
func (r Rule) code() string {
	if c := strings.TrimSpace(r.Code); c != "" {
		return c
	}
	return r.Campaign.Code
}
