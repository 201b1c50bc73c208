package promotion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-promo/internal/obs"
	"github.com/noah-isme/backend-promo/internal/pricing"
)

// RuleSource lists rule lines of one kind. Implementations may pre-filter by
// eligibility at asOf; the engine re-applies the filter either way.
type RuleSource interface {
	ListActiveRules(ctx context.Context, kind Kind, asOf time.Time) ([]Rule, error)
}

// PriceSource returns the current sale price of a product. Unknown products
// must yield an error matching ErrProductNotFound.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, productRef string) (pricing.Money, error)
}

// BatchPriceSource is optionally implemented by price sources that can resolve
// several products in one round trip. Missing refs are simply absent.
type BatchPriceSource interface {
	GetCurrentPrices(ctx context.Context, productRefs []string) (map[string]pricing.Money, error)
}

// ProductResolver returns display metadata for a product.
type ProductResolver interface {
	ResolveProduct(ctx context.Context, productRef string) (ProductInfo, error)
}

// ProductInfo is display-only product metadata.
type ProductInfo struct {
	Label     string
	UnitLabel string
}

// CartLine is one requested product quantity.
type CartLine struct {
	ProductRef string
	Quantity   int
}

// Result is the outcome of one evaluation.
type Result struct {
	Lines                  []ResolvedLine
	Summary                Summary
	AppliedOrderPromotions []PromotionApplication
}

// EngineConfig groups Engine dependencies.
type EngineConfig struct {
	Rules    RuleSource
	Prices   PriceSource
	Products ProductResolver
	Now      func() time.Time
	Logger   *zerolog.Logger
}

// Engine evaluates carts against the active promotion catalog. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	rules    RuleSource
	prices   PriceSource
	products ProductResolver
	now      func() time.Time
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Rules == nil {
		return nil, errors.New("promotion: rule source is required")
	}
	if cfg.Prices == nil {
		return nil, errors.New("promotion: price source is required")
	}
	if cfg.Products == nil {
		return nil, errors.New("promotion: product resolver is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "promotion").Logger()
	}
	return &Engine{
		rules:    cfg.Rules,
		prices:   cfg.Prices,
		products: cfg.Products,
		now:      now,
		logger:   logger,
		tracer:   otel.Tracer("promotion"),
	}, nil
}

// ValidateCart rejects lines without a product or with quantity <= 0.
func ValidateCart(lines []CartLine) error {
	for i, l := range lines {
		if strings.TrimSpace(l.ProductRef) == "" {
			return &LineError{Index: i, Err: ErrEmptyProductRef}
		}
		if l.Quantity <= 0 {
			return &LineError{Index: i, Err: ErrNonPositiveQuantity}
		}
	}
	return nil
}

// ActiveRules returns the rules of kind that Evaluate would consider at the
// current instant. Malformed rules are reported and left out.
func (e *Engine) ActiveRules(ctx context.Context, kind Kind) ([]Rule, error) {
	now := e.now()
	rules, err := e.rules.ListActiveRules(ctx, kind, now)
	if err != nil {
		return nil, CatalogFailure("list active rules", err)
	}
	return e.usableRules(ctx, rules, kind, now), nil
}

// Evaluate prices cart and applies every eligible promotion. Fatal errors
// (ErrProductNotFound, ErrCatalogUnavailable, boundary validation) abort the
// call with no partial result.
func (e *Engine) Evaluate(ctx context.Context, cart []CartLine) (Result, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "promotion.Evaluate")
	defer span.End()
	span.SetAttributes(attribute.Int("cart.lines", len(cart)))

	res, err := e.evaluate(ctx, cart)
	outcome := evaluationOutcome(err)
	if obs.PromotionEvaluationsTotal != nil {
		obs.PromotionEvaluationsTotal.WithLabelValues(outcome).Inc()
	}
	if obs.PromotionEvaluationDuration != nil {
		obs.PromotionEvaluationDuration.Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return Result{}, err
	}
	span.SetAttributes(
		attribute.Int("result.lines", len(res.Lines)),
		attribute.String("result.grand_total", res.Summary.GrandTotal.StringFixed(2)),
	)
	return res, nil
}

func (e *Engine) evaluate(ctx context.Context, cart []CartLine) (Result, error) {
	if err := ValidateCart(cart); err != nil {
		return Result{}, err
	}
	now := e.now()
	set, err := e.loadRules(ctx, now)
	if err != nil {
		return Result{}, err
	}
	book := newLookupBook(e.prices, e.products)
	if err := book.prefetch(ctx, cartRefs(cart)); err != nil {
		return Result{}, err
	}

	lines := make([]ResolvedLine, 0, len(cart))
	seq := 0
	for _, cl := range cart {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("evaluate: %w", err)
		}
		price, err := book.price(ctx, cl.ProductRef)
		if err != nil {
			return Result{}, err
		}
		info, err := book.product(ctx, cl.ProductRef)
		if err != nil {
			return Result{}, err
		}
		line := Line{ProductRef: cl.ProductRef, Quantity: cl.Quantity, UnitPrice: price}

		seq++
		purchase := ResolvedLine{
			SequenceID:   seq,
			ProductRef:   cl.ProductRef,
			UnitLabel:    info.UnitLabel,
			ProductLabel: info.Label,
			Quantity:     cl.Quantity,
			UnitPrice:    price,
			LineTotal:    line.Value(),
		}
		if rule, amount := SelectProductDiscount(line, set.products); rule != nil {
			pd := rule.ProductDiscount
			purchase.LineTotal = pricing.NonNegative(line.Value().Sub(amount))
			purchase.AppliedPromotion = &PromotionApplication{
				RuleCode:          rule.code(),
				RuleDescription:   rule.label(),
				RuleDetailID:      rule.ID,
				SummaryText:       productSummaryText(pd),
				DiscountKind:      pd.DiscountKind,
				DiscountMagnitude: pd.Magnitude,
			}
			e.recordApplied(KindProductDiscount)
		}

		gifts, skipped, err := SynthesizeGifts(ctx, line, set.gifts, book.price)
		if err != nil {
			return Result{}, err
		}
		for _, s := range skipped {
			e.reportInvalid(ctx, s.Rule, s.Err)
		}
		giftLines := make([]ResolvedLine, 0, len(gifts))
		for _, g := range gifts {
			giftInfo, err := book.product(ctx, g.ProductRef)
			if err != nil {
				if errors.Is(err, ErrProductNotFound) {
					e.reportInvalid(ctx, *g.Rule, invalidRule(*g.Rule, "gift product does not resolve"))
					continue
				}
				return Result{}, err
			}
			seq++
			source := purchase.SequenceID
			bxgy := g.Rule.BuyXGetY
			giftLines = append(giftLines, ResolvedLine{
				SequenceID:   seq,
				ProductRef:   g.ProductRef,
				UnitLabel:    giftInfo.UnitLabel,
				ProductLabel: giftInfo.Label,
				Quantity:     g.Quantity,
				UnitPrice:    g.UnitPrice,
				LineTotal:    g.LineTotal,
				AppliedPromotion: &PromotionApplication{
					RuleCode:          g.Rule.code(),
					RuleDescription:   g.Rule.label(),
					RuleDetailID:      g.Rule.ID,
					SummaryText:       giftSummaryText(bxgy, giftInfo.Label),
					DiscountKind:      reportedGiftKind(bxgy.GiftDiscountKind),
					DiscountMagnitude: pricing.Round(g.ReportedMagnitude),
					SourceLineID:      &source,
				},
			})
			e.recordApplied(KindBuyXGetY)
		}
		eligible := len(giftLines) > 0
		purchase.EligibleForGiftPromotion = &eligible
		lines = append(lines, purchase)
		lines = append(lines, giftLines...)
	}

	summary, applied := Aggregate(lines, set.orders)
	if len(applied) > 0 {
		e.recordApplied(KindOrderDiscount)
	}
	return Result{Lines: lines, Summary: summary, AppliedOrderPromotions: applied}, nil
}

type ruleSet struct {
	gifts    []Rule
	products []Rule
	orders   []Rule
}

// loadRules fetches the three kinds concurrently and drops ineligible or
// malformed rules, reporting the malformed ones.
func (e *Engine) loadRules(ctx context.Context, now time.Time) (ruleSet, error) {
	kinds := Kinds()
	loaded := make([][]Rule, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			rules, err := e.rules.ListActiveRules(gctx, kind, now)
			if err != nil {
				return CatalogFailure(fmt.Sprintf("list %s rules", strings.ToLower(string(kind))), err)
			}
			loaded[i] = rules
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ruleSet{}, err
	}

	var set ruleSet
	for i, kind := range kinds {
		usable := e.usableRules(ctx, loaded[i], kind, now)
		switch kind {
		case KindBuyXGetY:
			set.gifts = usable
		case KindProductDiscount:
			set.products = usable
		case KindOrderDiscount:
			set.orders = usable
		}
	}
	return set, nil
}

func (e *Engine) usableRules(ctx context.Context, rules []Rule, kind Kind, now time.Time) []Rule {
	active := FilterActive(rules, kind, now)
	usable := make([]Rule, 0, len(active))
	for _, r := range active {
		if err := r.Validate(); err != nil {
			e.reportInvalid(ctx, r, err)
			continue
		}
		usable = append(usable, r)
	}
	return usable
}

func (e *Engine) reportInvalid(ctx context.Context, r Rule, err error) {
	if obs.PromotionInvalidRulesTotal != nil {
		obs.PromotionInvalidRulesTotal.WithLabelValues(string(r.Kind)).Inc()
	}
	evt := e.logger.Warn().Err(err).
		Str("rule_id", r.ID).
		Str("kind", string(r.Kind)).
		Str("campaign_id", r.Campaign.ID)
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		evt = evt.Str("trace_id", span.TraceID().String())
	}
	evt.Msg("promotion_rule_skipped")
}

func (e *Engine) recordApplied(kind Kind) {
	if obs.PromotionAppliedTotal != nil {
		obs.PromotionAppliedTotal.WithLabelValues(string(kind)).Inc()
	}
}

// reportedGiftKind maps free gifts onto fixed, whose magnitude is the total
// monetary discount.
func reportedGiftKind(kind DiscountKind) DiscountKind {
	if kind == DiscountPercentage {
		return DiscountPercentage
	}
	return DiscountFixed
}

func evaluationOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNonPositiveQuantity), errors.Is(err, ErrEmptyProductRef):
		return "invalid_cart"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrCatalogUnavailable):
		return "catalog_unavailable"
	default:
		return "error"
	}
}

func cartRefs(cart []CartLine) []string {
	seen := make(map[string]struct{}, len(cart))
	refs := make([]string, 0, len(cart))
	for _, l := range cart {
		if _, ok := seen[l.ProductRef]; ok {
			continue
		}
		seen[l.ProductRef] = struct{}{}
		refs = append(refs, l.ProductRef)
	}
	return refs
}

// lookupBook memoises price and product lookups for a single evaluation so
// every line sees the same snapshot. It is never shared between calls.
type lookupBook struct {
	prices   PriceSource
	products ProductResolver
	priceOf  map[string]pricing.Money
	infoOf   map[string]ProductInfo
}

func newLookupBook(prices PriceSource, products ProductResolver) *lookupBook {
	return &lookupBook{
		prices:   prices,
		products: products,
		priceOf:  map[string]pricing.Money{},
		infoOf:   map[string]ProductInfo{},
	}
}

func (b *lookupBook) prefetch(ctx context.Context, refs []string) error {
	batch, ok := b.prices.(BatchPriceSource)
	if !ok || len(refs) == 0 {
		return nil
	}
	found, err := batch.GetCurrentPrices(ctx, refs)
	if err != nil {
		return CatalogFailure("get current prices", err)
	}
	for ref, p := range found {
		b.priceOf[ref] = pricing.Round(pricing.NonNegative(p))
	}
	return nil
}

func (b *lookupBook) price(ctx context.Context, ref string) (pricing.Money, error) {
	if p, ok := b.priceOf[ref]; ok {
		return p, nil
	}
	p, err := b.prices.GetCurrentPrice(ctx, ref)
	if err != nil {
		return pricing.Zero(), CatalogFailure("get current price", err)
	}
	p = pricing.Round(pricing.NonNegative(p))
	b.priceOf[ref] = p
	return p, nil
}

func (b *lookupBook) product(ctx context.Context, ref string) (ProductInfo, error) {
	if info, ok := b.infoOf[ref]; ok {
		return info, nil
	}
	info, err := b.products.ResolveProduct(ctx, ref)
	if err != nil {
		return ProductInfo{}, CatalogFailure("resolve product", err)
	}
	b.infoOf[ref] = info
	return info, nil
}
