package pricing

import "github.com/shopspring/decimal"

// Money represents a monetary value. Amounts are carried with full precision and
// rounded to two fractional digits wherever a discount is derived.
type Money = decimal.Decimal

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Zero returns a zero amount.
func Zero() Money { return zero }

// Round rounds half-up to two fractional digits. Every percentage computation
// goes through this so totals are reproducible regardless of display precision.
//
// decimal.Round rounds half away from zero, which is half-up for the
// non-negative amounts handled here.
func Round(m Money) Money {
	return m.Round(2)
}

// LineValue returns unitPrice * qty without rounding.
func LineValue(unitPrice Money, qty int) Money {
	if qty <= 0 {
		return zero
	}
	return unitPrice.Mul(decimal.NewFromInt(int64(qty)))
}

// Percent returns base * pct / 100 rounded half-up to two digits.
func Percent(base, pct Money) Money {
	if base.Sign() <= 0 || pct.Sign() <= 0 {
		return zero
	}
	return Round(base.Mul(pct).Div(hundred))
}

// Clamp limits amount to the closed range [0, ceiling].
func Clamp(amount, ceiling Money) Money {
	if amount.Sign() < 0 {
		return zero
	}
	if ceiling.Sign() < 0 {
		return zero
	}
	if amount.GreaterThan(ceiling) {
		return ceiling
	}
	return amount
}

// NonNegative floors negative amounts at zero.
func NonNegative(m Money) Money {
	if m.Sign() < 0 {
		return zero
	}
	return m
}

// Summary aggregates computed cart totals.
type Summary struct {
	Subtotal          Money
	LineDiscountTotal Money
	OrderDiscount     Money
	GrandTotal        Money
}

// Item describes a priced line for summary computation.
type Item struct {
	Qty        int
	UnitPrice  Money
	Total      Money
	Discounted bool
}

// Compute derives subtotal and line discount totals from priced items and
// subtracts the order discount computed against the post-line-discount total.
func Compute(items []Item, orderDiscount func(afterLines Money) Money) Summary {
	subtotal := zero
	lineDiscount := zero
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		value := LineValue(it.UnitPrice, it.Qty)
		subtotal = subtotal.Add(value)
		if it.Discounted {
			lineDiscount = lineDiscount.Add(NonNegative(value.Sub(it.Total)))
		}
	}
	afterLines := NonNegative(subtotal.Sub(lineDiscount))
	order := zero
	if orderDiscount != nil {
		order = Clamp(orderDiscount(afterLines), afterLines)
	}
	return Summary{
		Subtotal:          Round(subtotal),
		LineDiscountTotal: Round(lineDiscount),
		OrderDiscount:     Round(order),
		GrandTotal:        Round(NonNegative(afterLines.Sub(order))),
	}
}
