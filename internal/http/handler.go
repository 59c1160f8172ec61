package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nmelo/metergate/internal/domain"
	"github.com/nmelo/metergate/internal/observability"
)

const apiKeyHeader = "X-API-Key"

// Handler handles HTTP requests.
type Handler struct {
	pipeline *domain.BillingPipeline
	accounts domain.AccountStore
	usage    domain.UsageReader
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(
	pipeline *domain.BillingPipeline,
	accounts domain.AccountStore,
	usage domain.UsageReader,
) *Handler {
	return &Handler{
		pipeline: pipeline,
		accounts: accounts,
		usage:    usage,
	}
}

// Response DTOs. Monetary fields are rendered as JSON numbers from the
// decimal amounts; internal arithmetic never goes through float64.

type estimateResponse struct {
	RequiresConfirmation bool         `json:"requires_confirmation"`
	Estimate             estimateBody `json:"estimate"`
	Balance              balanceBody  `json:"balance"`
	Message              string       `json:"message"`
	Model                string       `json:"model"`
}

type estimateBody struct {
	InputTokens   int           `json:"input_tokens"`
	OutputTokens  int           `json:"output_tokens"`
	TotalTokens   int           `json:"total_tokens"`
	CostUSD       float64       `json:"cost_usd"`
	CostBreakdown breakdownBody `json:"cost_breakdown"`
}

type balanceBody struct {
	Current      float64 `json:"current"`
	AfterRequest float64 `json:"after_request"`
}

type breakdownBody struct {
	BaseCost         float64 `json:"base_cost"`
	Markup           float64 `json:"markup"`
	MarkupPercentage string  `json:"markup_percentage,omitempty"`
	YouPaid          float64 `json:"you_paid,omitempty"`
}

type settledResponse struct {
	Content             string        `json:"content"`
	Model               string        `json:"model"`
	Usage               domain.Usage  `json:"usage"`
	CostUSD             float64       `json:"cost_usd"`
	BalanceRemainingUSD float64       `json:"balance_remaining_usd"`
	CostBreakdown       breakdownBody `json:"cost_breakdown"`
	Mock                bool          `json:"mock,omitempty"`
}

type usageResponse struct {
	BalanceUSD float64          `json:"balance_usd"`
	Usage      []usageRecordDTO `json:"usage"`
}

type usageRecordDTO struct {
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	CreatedAt    time.Time `json:"created_at"`
}

type errorResponse struct {
	Error         string   `json:"error"`
	BalanceUSD    *float64 `json:"balance_usd,omitempty"`
	EstimatedCost *float64 `json:"estimated_cost,omitempty"`
}

// HandleCompletion processes metered completion requests.
func (h *Handler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req domain.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, fmt.Errorf("%w: invalid request body: %v", domain.ErrBadRequest, err))
		return
	}

	ctx = observability.WithModel(ctx, req.Model)
	logger := observability.FromContext(ctx)
	logger.Info("completion request received",
		observability.String("model", req.Model),
		observability.Bool("mock", req.Mock),
		observability.Bool("confirmed", req.ConfirmCost),
	)

	outcome, err := h.pipeline.Execute(ctx, r.Header.Get(apiKeyHeader), &req)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	if outcome.Estimate != nil {
		h.writeJSON(ctx, w, http.StatusOK, toEstimateResponse(outcome.Estimate))
		return
	}

	settled := outcome.Settled
	logger.Info("completion settled",
		observability.Int("input_tokens", settled.Usage.InputTokens),
		observability.Int("output_tokens", settled.Usage.OutputTokens),
		observability.String("cost_usd", settled.CostUSD.String()),
	)

	h.writeJSON(ctx, w, http.StatusOK, settledResponse{
		Content:             settled.Content,
		Model:               settled.Model,
		Usage:               settled.Usage,
		CostUSD:             settled.CostUSD.InexactFloat64(),
		BalanceRemainingUSD: settled.BalanceRemaining.InexactFloat64(),
		CostBreakdown: breakdownBody{
			BaseCost: settled.Breakdown.BaseCost.InexactFloat64(),
			Markup:   settled.Breakdown.Markup.InexactFloat64(),
			YouPaid:  settled.CostUSD.InexactFloat64(),
		},
		Mock: settled.Mock,
	})
}

// HandleUsage returns recent usage records and the current balance for
// the authenticated account. Read-only.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := r.Header.Get(apiKeyHeader)
	if key == "" {
		h.writeError(ctx, w, fmt.Errorf("%w: missing API key", domain.ErrUnauthorized))
		return
	}

	account, err := h.accounts.ResolveByKey(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrKeyNotFound) {
			err = fmt.Errorf("%w: invalid API key", domain.ErrUnauthorized)
		}
		h.writeError(ctx, w, err)
		return
	}
	if !account.KeyActive {
		h.writeError(ctx, w, fmt.Errorf("%w: API key is disabled", domain.ErrUnauthorized))
		return
	}

	records, err := h.usage.RecentUsage(ctx, account.ID, 0)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	resp := usageResponse{
		BalanceUSD: account.Balance.InexactFloat64(),
		Usage:      make([]usageRecordDTO, 0, len(records)),
	}
	for _, rec := range records {
		resp.Usage = append(resp.Usage, usageRecordDTO{
			Model:        rec.Model,
			InputTokens:  rec.InputTokens,
			OutputTokens: rec.OutputTokens,
			CostUSD:      rec.CostUSD.InexactFloat64(),
			CreatedAt:    rec.CreatedAt,
		})
	}

	h.writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	}); err != nil {
		// Already written status, can't change it, just log.
		return
	}
}

func toEstimateResponse(est *domain.CostEstimate) estimateResponse {
	totalTokens := est.InputTokens + est.OutputTokens
	return estimateResponse{
		RequiresConfirmation: true,
		Estimate: estimateBody{
			InputTokens:  est.InputTokens,
			OutputTokens: est.OutputTokens,
			TotalTokens:  totalTokens,
			CostUSD:      est.CostUSD.InexactFloat64(),
			CostBreakdown: breakdownBody{
				BaseCost:         est.Breakdown.BaseCost.InexactFloat64(),
				Markup:           est.Breakdown.Markup.InexactFloat64(),
				MarkupPercentage: markupPercentage(est.Breakdown, est.CostUSD),
			},
		},
		Balance: balanceBody{
			Current:      est.BalanceBefore.InexactFloat64(),
			AfterRequest: est.BalanceAfter.InexactFloat64(),
		},
		Message: fmt.Sprintf(
			"This request will cost approximately $%s (%d tokens). "+
				"Your balance will be $%s. "+
				`To proceed, send the same request with "confirm_cost": true`,
			est.CostUSD.StringFixed(6), totalTokens, est.BalanceAfter.StringFixed(4)),
		Model: est.Model,
	}
}

func markupPercentage(breakdown domain.CostBreakdown, cost decimal.Decimal) string {
	if breakdown.BaseCost.IsZero() || cost.IsZero() {
		return ""
	}
	pct := breakdown.Markup.Div(breakdown.BaseCost).Mul(decimal.NewFromInt(100)).Round(0)
	return pct.String() + "%"
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		observability.FromContext(ctx).Error("failed to encode response",
			observability.Error(err))
	}
}

// writeError maps domain errors onto the HTTP surface. Anything outside
// the taxonomy is logged with detail and surfaced generically.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := observability.FromContext(ctx)

	status := http.StatusInternalServerError
	body := errorResponse{Error: "internal server error"}

	var fundsErr *domain.InsufficientFundsError

	switch {
	case errors.Is(err, domain.ErrBadRequest):
		status = http.StatusBadRequest
		body.Error = err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
		body.Error = err.Error()
	case errors.Is(err, domain.ErrUnsupportedModel):
		status = http.StatusBadRequest
		body.Error = err.Error()
	case errors.As(err, &fundsErr):
		status = http.StatusPaymentRequired
		body.Error = "insufficient balance"
		balance := fundsErr.Balance.InexactFloat64()
		estimated := fundsErr.EstimatedCost.InexactFloat64()
		body.BalanceUSD = &balance
		body.EstimatedCost = &estimated
	case errors.Is(err, domain.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
		body.Error = "insufficient balance"
	case errors.Is(err, domain.ErrProvider):
		status = http.StatusBadGateway
		body.Error = err.Error()
	default:
		logger.Error("request failed", observability.Error(err))
	}

	if status != http.StatusInternalServerError {
		logger.Info("request rejected",
			observability.Int("status", status),
			observability.Error(err))
	}

	h.writeJSON(ctx, w, status, body)
}
