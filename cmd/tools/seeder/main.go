package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-promo/internal/catalog"
	"github.com/noah-isme/backend-promo/internal/obs"
)

type product struct {
	Ref, Label, Unit, Price string
}

type ruleLine struct {
	Code, Description, Kind string
	MaxTotalUsage           *int
	Args                    map[string]any
}

type campaign struct {
	Code, Name string
	Rules      []ruleLine
}

var products = []product{
	{"COF-250", "House Blend Coffee 250g", "bag", "8.50"},
	{"COF-1K", "House Blend Coffee 1kg", "bag", "29.00"},
	{"MUG-01", "Ceramic Mug", "pcs", "6.00"},
	{"FLT-100", "Paper Filters (100)", "pack", "3.20"},
	{"TEA-GRN", "Green Tea 50 bags", "box", "4.75"},
	{"GRN-01", "Hand Grinder", "pcs", "42.00"},
}

func intPtr(v int) *int { return &v }

var campaigns = []campaign{
	{
		Code: "SPRING-COFFEE",
		Name: "Spring coffee days",
		Rules: []ruleLine{
			{
				Code: "B2G1-MUG", Description: "Buy 2 coffees, get a mug free", Kind: "BUY_X_GET_Y",
				Args: map[string]any{
					"buy_product_ref": "COF-250", "buy_min_quantity": 2,
					"gift_product_ref": "MUG-01", "gift_quantity_per_set": 1, "gift_max_sets": 3,
					"gift_discount_kind": "free",
				},
			},
			{
				Code: "FILTERS-HALF", Description: "Half-price filters with every kilo bag", Kind: "BUY_X_GET_Y",
				Args: map[string]any{
					"buy_product_ref": "COF-1K", "buy_min_quantity": 1,
					"gift_product_ref": "FLT-100", "gift_discount_kind": "percentage", "gift_discount_magnitude": "50",
				},
			},
			{
				Code: "COF-10", Description: "10% off kilo bags", Kind: "PRODUCT_DISCOUNT",
				Args: map[string]any{
					"apply_scope": "specific", "apply_product_ref": "COF-1K",
					"discount_kind": "percentage", "discount_magnitude": "10",
				},
			},
		},
	},
	{
		Code: "STOREWIDE",
		Name: "Store-wide savings",
		Rules: []ruleLine{
			{
				Code: "BULK-2OFF", Description: "2.00 off any line of 5 or more", Kind: "PRODUCT_DISCOUNT",
				Args: map[string]any{
					"apply_scope": "all", "discount_kind": "fixed", "discount_magnitude": "2", "min_quantity": 5,
				},
			},
			{
				Code: "ORDER-15", Description: "15% off orders from 50.00", Kind: "ORDER_DISCOUNT", MaxTotalUsage: intPtr(500),
				Args: map[string]any{
					"discount_kind": "percentage", "discount_magnitude": "15",
					"max_discount_cap": "20", "min_order_value": "50",
				},
			},
			{
				Code: "ORDER-5", Description: "5.00 off orders of 10 items", Kind: "ORDER_DISCOUNT",
				Args: map[string]any{
					"discount_kind": "fixed", "discount_magnitude": "5", "min_order_quantity": 10,
				},
			},
		},
	},
}

var ruleColumns = []string{
	"buy_product_ref", "buy_min_quantity", "gift_product_ref", "gift_quantity_per_set", "gift_max_sets",
	"gift_discount_kind", "gift_discount_magnitude", "apply_scope", "apply_product_ref", "discount_kind",
	"discount_magnitude", "min_quantity", "min_line_value", "max_discount_cap", "min_order_value", "min_order_quantity",
}

const insertRuleSQL = `
INSERT INTO promotion_rule_lines (
    id, campaign_id, code, description, kind, status, max_total_usage,
    buy_product_ref, buy_min_quantity, gift_product_ref, gift_quantity_per_set, gift_max_sets,
    gift_discount_kind, gift_discount_magnitude, apply_scope, apply_product_ref, discount_kind,
    discount_magnitude, min_quantity, min_line_value, max_discount_cap, min_order_value, min_order_quantity
) VALUES (
    $1, $2, $3, $4, $5, 'ACTIVE', $6,
    $7, $8, $9, $10, $11, $12, $13::text::numeric, $14, $15, $16, $17::text::numeric, $18, $19::text::numeric, $20::text::numeric, $21::text::numeric, $22
)
ON CONFLICT (id) DO UPDATE SET
    description = EXCLUDED.description,
    status = EXCLUDED.status,
    updated_at = now()`

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info", "promo-seeder")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	if err := catalog.Migrate(dbURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer conn.Close(context.Background())

	err = pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if err := seedProducts(ctx, tx); err != nil {
			return err
		}
		return seedCampaigns(ctx, tx)
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("seed")
	}
	logger.Info().Int("products", len(products)).Int("campaigns", len(campaigns)).Msg("seeding completed")

	// labels may have changed; drop cached product metadata
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		if err := invalidateProducts(ctx, redisURL); err != nil {
			logger.Warn().Err(err).Msg("invalidate product cache")
		}
	}
}

func invalidateProducts(ctx context.Context, redisURL string) error {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	refs := make([]string, 0, len(products))
	for _, p := range products {
		refs = append(refs, p.Ref)
	}
	return catalog.NewCache(rdb, 0).InvalidateProducts(ctx, refs...)
}

func seedProducts(ctx context.Context, tx pgx.Tx) error {
	for _, p := range products {
		if _, err := tx.Exec(ctx, `
			INSERT INTO products (ref, label, unit_label) VALUES ($1, $2, $3)
			ON CONFLICT (ref) DO UPDATE SET label = EXCLUDED.label, unit_label = EXCLUDED.unit_label`,
			p.Ref, p.Label, p.Unit); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO product_prices (product_ref, price, effective_from)
			SELECT $1, $2::text::numeric, now() - interval '1 day'
			WHERE NOT EXISTS (SELECT 1 FROM product_prices WHERE product_ref = $1)`,
			p.Ref, p.Price); err != nil {
			return err
		}
	}
	return nil
}

func seedCampaigns(ctx context.Context, tx pgx.Tx) error {
	start := time.Now().UTC().Add(-24 * time.Hour)
	end := start.AddDate(0, 3, 0)
	for _, c := range campaigns {
		id := stableID("campaign", c.Code)
		if _, err := tx.Exec(ctx, `
			INSERT INTO promotion_campaigns (id, code, name, is_active, status, start_at, end_at)
			VALUES ($1, $2, $3, TRUE, 'ACTIVE', $4, $5)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, status = EXCLUDED.status`,
			id, c.Code, c.Name, start, end); err != nil {
			return err
		}
		for _, r := range c.Rules {
			args := []any{stableID("rule", c.Code+"/"+r.Code), id, r.Code, r.Description, r.Kind, r.MaxTotalUsage}
			for _, col := range ruleColumns {
				args = append(args, r.Args[col])
			}
			if _, err := tx.Exec(ctx, insertRuleSQL, args...); err != nil {
				return err
			}
		}
	}
	return nil
}

// stableID keeps reruns idempotent.
func stableID(kind, code string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("promo:"+kind+":"+code))
}
