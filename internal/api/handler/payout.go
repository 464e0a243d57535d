package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/SVKNL/payout-service/internal/domain"
	"github.com/SVKNL/payout-service/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxListLimit mirrors the service-side page cap so the echoed limit matches
// the page actually served.
const maxListLimit = 500

// PayoutHandler handles HTTP requests for payouts.
type PayoutHandler struct {
	payoutSvc *service.PayoutService
}

func NewPayoutHandler(payoutSvc *service.PayoutService) *PayoutHandler {
	return &PayoutHandler{payoutSvc: payoutSvc}
}

// createPayoutRequest is the creation body. Amount is accepted both as a
// JSON string (which keeps fixed-point precision on the wire) and as a
// numeric literal.
type createPayoutRequest struct {
	Amount           json.RawMessage `json:"amount"`
	Currency         string          `json:"currency"`
	RecipientDetails string          `json:"recipient_details"`
	Description      string          `json:"description"`
	Status           string          `json:"status"`
}

func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Decimal{}, errors.New("amount is required")
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	return decimal.NewFromString(strings.TrimSpace(s))
}

// CreatePayout handles POST /v1/payouts.
func (h *PayoutHandler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	var req createPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "amount must be a decimal number")
		return
	}

	payout, err := h.payoutSvc.CreatePayout(r.Context(), service.CreatePayoutRequest{
		Amount:           amount,
		Currency:         strings.TrimSpace(req.Currency),
		RecipientDetails: req.RecipientDetails,
		Description:      req.Description,
		Status:           domain.Status(strings.TrimSpace(req.Status)),
	})
	if err != nil {
		if status, problemType, ok := mapServiceError(err); ok {
			RespondError(w, r, status, problemType, err.Error())
			return
		}
		zap.L().Error("create payout failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "payout/create-failed", "Failed to create payout")
		return
	}

	RespondJSON(w, http.StatusCreated, payout)
}

// GetPayout handles GET /v1/payouts/{id}.
func (h *PayoutHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := payoutID(w, r)
	if !ok {
		return
	}

	payout, err := h.payoutSvc.GetPayout(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrPayoutNotFound) {
			RespondError(w, r, http.StatusNotFound, "payout/not-found", "Payout not found")
			return
		}
		zap.L().Error("get payout failed", zap.Error(err), zap.String("payout_id", id.String()))
		RespondError(w, r, http.StatusInternalServerError, "payout/read-failed", "Failed to get payout")
		return
	}

	RespondJSON(w, http.StatusOK, payout)
}

// ListPayouts handles GET /v1/payouts.
func (h *PayoutHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	limit := int32(50)
	offset := int32(0)
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a positive integer")
			return
		}
		if parsed > maxListLimit {
			parsed = maxListLimit
		}
		limit = int32(parsed)
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 || parsed > math.MaxInt32 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-offset", "offset must be a non-negative integer")
			return
		}
		offset = int32(parsed)
	}

	payouts, err := h.payoutSvc.ListPayouts(r.Context(), limit, offset)
	if err != nil {
		zap.L().Error("list payouts failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "payout/list-failed", "Failed to list payouts")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  payouts,
		"limit":  limit,
		"offset": offset,
		"count":  len(payouts),
	})
}

// updatePayoutRequest carries a partial edit. Immutable fields are named so
// their presence can be rejected explicitly.
type updatePayoutRequest struct {
	Amount           *string `json:"amount"`
	Currency         *string `json:"currency"`
	RecipientDetails *string `json:"recipient_details"`
	Status           *string `json:"status"`
	Description      *string `json:"description"`
}

// UpdatePayout handles PATCH /v1/payouts/{id}.
func (h *PayoutHandler) UpdatePayout(w http.ResponseWriter, r *http.Request) {
	id, ok := payoutID(w, r)
	if !ok {
		return
	}

	var req updatePayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if req.Amount != nil || req.Currency != nil || req.RecipientDetails != nil {
		RespondError(w, r, http.StatusBadRequest, "payout/immutable-field", service.ErrImmutableField.Error())
		return
	}

	update := service.UpdatePayoutRequest{Description: req.Description}
	if req.Status != nil {
		status := domain.Status(strings.TrimSpace(*req.Status))
		update.Status = &status
	}

	payout, err := h.payoutSvc.UpdatePayout(r.Context(), id, update)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPayoutNotFound):
			RespondError(w, r, http.StatusNotFound, "payout/not-found", "Payout not found")
		case errors.Is(err, service.ErrInvalidTransition):
			RespondError(w, r, http.StatusBadRequest, "payout/invalid-transition", service.ErrInvalidTransition.Error())
		default:
			zap.L().Error("update payout failed", zap.Error(err), zap.String("payout_id", id.String()))
			RespondError(w, r, http.StatusInternalServerError, "payout/update-failed", "Failed to update payout")
		}
		return
	}

	RespondJSON(w, http.StatusOK, payout)
}

// DeletePayout handles DELETE /v1/payouts/{id}.
func (h *PayoutHandler) DeletePayout(w http.ResponseWriter, r *http.Request) {
	id, ok := payoutID(w, r)
	if !ok {
		return
	}

	if err := h.payoutSvc.DeletePayout(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrPayoutNotFound) {
			RespondError(w, r, http.StatusNotFound, "payout/not-found", "Payout not found")
			return
		}
		zap.L().Error("delete payout failed", zap.Error(err), zap.String("payout_id", id.String()))
		RespondError(w, r, http.StatusInternalServerError, "payout/delete-failed", "Failed to delete payout")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func payoutID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-payout-id", "Invalid payout ID")
		return uuid.Nil, false
	}
	return id, true
}

func mapServiceError(err error) (int, string, bool) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrAmountTooLarge):
		return http.StatusBadRequest, "request/invalid-amount", true
	case errors.Is(err, service.ErrUnsupportedCurrency):
		return http.StatusBadRequest, "request/unsupported-currency", true
	case errors.Is(err, service.ErrInvalidRecipient):
		return http.StatusBadRequest, "request/invalid-recipient", true
	case errors.Is(err, service.ErrStatusManaged):
		return http.StatusBadRequest, "request/status-managed", true
	default:
		return 0, "", false
	}
}
