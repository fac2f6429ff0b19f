package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/pointsgate/internal/middleware"
	"github.com/mmeshcher/pointsgate/internal/repository"
	"github.com/mmeshcher/pointsgate/internal/service"
	"github.com/mmeshcher/pointsgate/internal/validation"
)

type confirmRequest struct {
	OrderID string `json:"orderId"`
}

type newBalanceResponse struct {
	NewBalance int64 `json:"newBalance"`
}

// ConfirmPayment подтверждает ручную заявку от имени оператора.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validation.IsValidOrderID(req.OrderID) {
		writeError(w, http.StatusBadRequest, "valid orderId is required")
		return
	}

	newBalance, err := h.service.ConfirmManualPayment(r.Context(), req.OrderID, adminID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotOperator):
			writeError(w, http.StatusForbidden, "operator access required")
		case errors.Is(err, repository.ErrPaymentNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, repository.ErrAlreadySettled), errors.Is(err, repository.ErrPaymentConflict):
			// ордер уже проведён другим оператором или не в ручном статусе
			writeError(w, http.StatusConflict, "order is not awaiting manual confirmation")
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusRequestTimeout, "confirmation timed out, retry")
		default:
			h.logger.Error("confirm payment error", zap.Error(err), zap.String("orderID", req.OrderID))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, newBalanceResponse{NewBalance: newBalance})
}

type adjustRequest struct {
	UserID   int64  `json:"userId"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason"`
	Campaign string `json:"campaign,omitempty"`
}

// AdminCredit начисляет баллы пользователю от имени оператора.
func (h *Handler) AdminCredit(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "userId, amount and reason are required")
		return
	}

	newBalance, err := h.service.AdminCreditPoints(r.Context(), adminID, req.UserID, req.Amount, req.Reason, req.Campaign)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotOperator):
			writeError(w, http.StatusForbidden, "operator access required")
		case errors.Is(err, service.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "amount out of allowed range")
		case errors.Is(err, repository.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, repository.ErrDuplicateGrant):
			writeError(w, http.StatusConflict, "this campaign grant was already applied")
		default:
			h.logger.Error("admin credit error", zap.Error(err), zap.Int64("targetUserID", req.UserID))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, newBalanceResponse{NewBalance: newBalance})
}

// AdminDebit списывает баллы пользователя от имени оператора.
func (h *Handler) AdminDebit(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "userId, amount and reason are required")
		return
	}

	newBalance, err := h.service.AdminDebitPoints(r.Context(), adminID, req.UserID, req.Amount, req.Reason)
	if err != nil {
		var insufficient *repository.InsufficientBalanceError
		switch {
		case errors.Is(err, service.ErrNotOperator):
			writeError(w, http.StatusForbidden, "operator access required")
		case errors.Is(err, service.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "amount must be positive")
		case errors.Is(err, repository.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.As(err, &insufficient):
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:    "insufficient balance",
				Required: insufficient.Required,
				Current:  insufficient.Current,
			})
		default:
			h.logger.Error("admin debit error", zap.Error(err), zap.Int64("targetUserID", req.UserID))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, newBalanceResponse{NewBalance: newBalance})
}
