// Package handler содержит HTTP-обработчики API сервиса pointsgate.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/pointsgate/internal/gateway"
	"github.com/mmeshcher/pointsgate/internal/middleware"
	"github.com/mmeshcher/pointsgate/internal/model"
	"github.com/mmeshcher/pointsgate/internal/ratelimit"
	"github.com/mmeshcher/pointsgate/internal/repository"
	"github.com/mmeshcher/pointsgate/internal/service"
	"github.com/mmeshcher/pointsgate/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	GetDownloadsByUser(ctx context.Context, userID int64) ([]model.Download, error)
	InitiatePayment(ctx context.Context, userID int64, packageID, method string) (*service.InitiateResult, error)
	InitiateManualPayment(ctx context.Context, userID int64, packageID, channel string) (*service.ManualResult, error)
	ConfirmManualPayment(ctx context.Context, orderID string, adminID int64) (int64, error)
	GetPaymentStatus(ctx context.Context, orderID string, userID int64) (*service.PaymentStatus, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	DebitDownload(ctx context.Context, userID, resourceID int64) (*repository.DebitResult, error)
	AdminCreditPoints(ctx context.Context, operatorID, targetUserID, amount int64, reason, campaign string) (int64, error)
	AdminDebitPoints(ctx context.Context, operatorID, targetUserID, amount int64, reason string) (int64, error)
}

// Handler реализует HTTP-обработчики API сервиса pointsgate.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	limiter        *ratelimit.Limiter
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, limiter *ratelimit.Limiter) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		limiter:        limiter,
	}
}

type errorResponse struct {
	Error    string `json:"error"`
	Required int64  `json:"required,omitempty"`
	Current  int64  `json:"current,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Login == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "login and password are required")
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			writeError(w, http.StatusConflict, "login already taken")
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Login == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "login and password are required")
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid login or password")
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

type downloadHistoryResponse struct {
	ResourceID    int64  `json:"resource_id"`
	PointsCharged int64  `json:"points_charged"`
	UnlockedAt    string `json:"unlocked_at"`
}

// GetDownloads возвращает историю разблокировок текущего пользователя.
func (h *Handler) GetDownloads(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	downloads, err := h.service.GetDownloadsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get downloads error", zap.Error(err), zap.Int64("userID", userID))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if len(downloads) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]downloadHistoryResponse, 0, len(downloads))
	for _, d := range downloads {
		resp = append(resp, downloadHistoryResponse{
			ResourceID:    d.ResourceID,
			PointsCharged: d.PointsCharged,
			UnlockedAt:    d.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type initiateRequest struct {
	PackageID string `json:"packageId"`
	Method    string `json:"method"`
}

type initiateResponse struct {
	OrderID     string  `json:"orderId"`
	Amount      float64 `json:"amount"`
	Points      int64   `json:"points"`
	BonusPoints int64   `json:"bonusPoints"`
	QROrPayURL  string  `json:"qrOrPayUrl"`
}

// InitiatePayment создаёт шлюзовой ордер на покупку пакета баллов.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PackageID == "" {
		writeError(w, http.StatusBadRequest, "packageId is required")
		return
	}

	res, err := h.service.InitiatePayment(r.Context(), userID, req.PackageID, req.Method)
	if err != nil {
		if errors.Is(err, repository.ErrPackageNotFound) {
			writeError(w, http.StatusNotFound, "unknown package")
			return
		}
		h.logger.Error("initiate payment error", zap.Error(err), zap.Int64("userID", userID))
		writeError(w, http.StatusInternalServerError, "payment initiation failed, try again")
		return
	}

	url := res.PayURL
	if url == "" {
		url = res.QRURL
	}

	writeJSON(w, http.StatusOK, initiateResponse{
		OrderID:     res.OrderID,
		Amount:      res.Amount,
		Points:      res.Points,
		BonusPoints: res.BonusPoints,
		QROrPayURL:  url,
	})
}

type initiateManualResponse struct {
	OrderID      string `json:"orderId"`
	Instructions string `json:"instructions"`
	QRImageRef   string `json:"qrImageRef"`
}

// InitiateManualPayment создаёт заявку на ручную оплату.
func (h *Handler) InitiateManualPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PackageID == "" || req.Method == "" {
		writeError(w, http.StatusBadRequest, "packageId and method are required")
		return
	}

	res, err := h.service.InitiateManualPayment(r.Context(), userID, req.PackageID, req.Method)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPackageNotFound):
			writeError(w, http.StatusNotFound, "unknown package")
		case errors.Is(err, service.ErrChannelDisabled):
			writeError(w, http.StatusBadRequest, "payment channel is disabled")
		case errors.Is(err, service.ErrPendingManualExists):
			writeError(w, http.StatusConflict, "a pending manual order already exists, wait for confirmation")
		default:
			h.logger.Error("initiate manual payment error", zap.Error(err), zap.Int64("userID", userID))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, initiateManualResponse{
		OrderID:      res.OrderID,
		Instructions: res.Instructions,
		QRImageRef:   res.QRImageRef,
	})
}

// Webhook принимает подписанные уведомления платёжного шлюза.
// Ответ 200 подтверждает событие, 500 вызывает повторную доставку —
// это безопасно, обработка идемпотентна.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	err = h.service.HandleWebhook(r.Context(), payload, r.Header.Get(gateway.SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBadSignature):
			writeError(w, http.StatusBadRequest, "bad signature or payload")
		case errors.Is(err, service.ErrAmountMismatch):
			h.logger.Warn("webhook rejected", zap.Error(err))
			writeError(w, http.StatusBadRequest, "amount verification failed")
		case errors.Is(err, repository.ErrPaymentNotFound):
			writeError(w, http.StatusNotFound, "unknown order")
		case errors.Is(err, repository.ErrPaymentConflict):
			writeError(w, http.StatusConflict, "order state conflict")
		default:
			h.logger.Error("webhook processing error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "transient error, retry")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

type statusResponse struct {
	Paid     bool `json:"paid"`
	Pending  bool `json:"pending"`
	Failed   bool `json:"failed"`
	Refunded bool `json:"refunded"`
}

// PaymentStatus возвращает статусные признаки ордера текущего пользователя.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	orderID := chi.URLParam(r, "orderID")
	if !validation.IsValidOrderID(orderID) {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	st, err := h.service.GetPaymentStatus(r.Context(), orderID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("payment status error", zap.Error(err), zap.String("orderID", orderID))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Paid:     st.Paid,
		Pending:  st.Pending,
		Failed:   st.Failed,
		Refunded: st.Refunded,
	})
}

type downloadRequest struct {
	ResourceID int64 `json:"resourceId"`
}

type downloadResponse struct {
	Payload string `json:"payload"`
	Balance int64  `json:"balance"`
}

// DownloadResource списывает баллы и возвращает разблокированный payload.
// Повторный запрос той же пары (user, resource) возвращает payload без
// повторного списания.
func (h *Handler) DownloadResource(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ResourceID <= 0 {
		writeError(w, http.StatusBadRequest, "resourceId is required")
		return
	}

	res, err := h.service.DebitDownload(r.Context(), userID, req.ResourceID)
	if err != nil {
		if errors.Is(err, repository.ErrResourceNotFound) {
			writeError(w, http.StatusNotFound, "resource not found")
			return
		}
		h.logger.Error("download debit error", zap.Error(err),
			zap.Int64("userID", userID), zap.Int64("resourceID", req.ResourceID))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch res.Status {
	case repository.DebitUnlocked, repository.DebitAlreadyUnlocked:
		writeJSON(w, http.StatusOK, downloadResponse{Payload: res.PayloadRef, Balance: res.Balance})
	case repository.DebitInsufficient:
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:    "insufficient balance",
			Required: res.Required,
			Current:  res.Current,
		})
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
