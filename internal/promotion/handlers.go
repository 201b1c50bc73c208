package promotion

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-promo/internal/common"
	"github.com/noah-isme/backend-promo/internal/obs"
	"github.com/noah-isme/backend-promo/internal/usage"
)

// Redeemer consumes rule usage quotas at commit time.
type Redeemer interface {
	Redeem(ctx context.Context, ruleDetailIDs []string) ([]usage.Redemption, error)
}

// Handler exposes the promotion endpoints.
type Handler struct {
	Engine          *Engine
	Usage           Redeemer
	EvaluateTimeout time.Duration
	Logger          zerolog.Logger
}

// Evaluate prices a cart and returns every promotion that would apply now.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promotion engine not configured", nil)
		return
	}
	var req evaluateRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.Validate(req); err != nil {
		common.WriteError(w, err)
		return
	}
	cart := make([]CartLine, 0, len(req.Items))
	for _, it := range req.Items {
		cart = append(cart, CartLine{ProductRef: strings.TrimSpace(it.ProductRef), Quantity: it.Quantity})
	}

	ctx := r.Context()
	if h.EvaluateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.EvaluateTimeout)
		defer cancel()
	}
	res, err := h.Engine.Evaluate(ctx, cart)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toEvaluationResponse(res)})
}

// Active lists the rules eligible right now, optionally narrowed by ?kind=.
func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promotion engine not configured", nil)
		return
	}
	kinds := Kinds()
	if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
		kind, err := ParseKind(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		kinds = []Kind{kind}
	}
	out := make([]ruleResponse, 0)
	for _, kind := range kinds {
		rules, err := h.Engine.ActiveRules(r.Context(), kind)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		for _, rule := range rules {
			out = append(out, toRuleResponse(rule))
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// Redeem consumes one use of each listed rule line in a single transaction.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	if h.Usage == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "usage service not configured", nil)
		return
	}
	var req redeemRequest
	if err := common.DecodeJSON(w, r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.Validate(req); err != nil {
		common.WriteError(w, err)
		return
	}
	redemptions, err := h.Usage.Redeem(r.Context(), req.RuleDetailIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	type redemption struct {
		RuleDetailID      string `json:"ruleDetailId"`
		CurrentUsageCount int    `json:"currentUsageCount"`
		MaxTotalUsage     *int   `json:"maxTotalUsage"`
	}
	out := make([]redemption, 0, len(redemptions))
	for _, rd := range redemptions {
		out = append(out, redemption{RuleDetailID: rd.RuleDetailID, CurrentUsageCount: rd.CurrentUsageCount, MaxTotalUsage: rd.MaxTotalUsage})
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := classify(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		obs.LoggerFrom(r, h.Logger).Error().Err(err).Str("code", appErr.Code).Msg("promotion_request_failed")
	}
	common.WriteError(w, appErr)
}

// classify maps domain errors onto API errors.
func classify(err error) *common.AppError {
	var lineErr *LineError
	switch {
	case errors.Is(err, ErrNonPositiveQuantity):
		appErr := common.NewAppError("INVALID_QUANTITY", err.Error(), http.StatusBadRequest, err)
		if errors.As(err, &lineErr) {
			appErr.WithDetails(map[string]int{"index": lineErr.Index})
		}
		return appErr
	case errors.Is(err, ErrEmptyProductRef):
		return common.NewAppError("BAD_REQUEST", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, ErrProductNotFound):
		return common.NewAppError("PRODUCT_NOT_FOUND", err.Error(), http.StatusUnprocessableEntity, err)
	case errors.Is(err, context.DeadlineExceeded):
		return common.NewAppError("EVALUATE_TIMEOUT", "promotion evaluation timed out", http.StatusGatewayTimeout, err)
	case errors.Is(err, ErrCatalogUnavailable):
		return common.NewAppError("CATALOG_UNAVAILABLE", "promotion catalog is temporarily unavailable", http.StatusServiceUnavailable, err)
	case errors.Is(err, usage.ErrQuotaExhausted):
		return common.NewAppError("QUOTA_EXHAUSTED", err.Error(), http.StatusConflict, err)
	case errors.Is(err, usage.ErrRuleNotFound):
		return common.NewAppError("NOT_FOUND", err.Error(), http.StatusNotFound, err)
	case errors.Is(err, usage.ErrNoRules):
		return common.NewAppError("BAD_REQUEST", err.Error(), http.StatusBadRequest, err)
	default:
		return common.NewAppError("INTERNAL", "internal server error", http.StatusInternalServerError, err)
	}
}
