// Package handler содержит HTTP-обработчики API сервиса boosthub.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rafaelq/boosthub/internal/middleware"
	"github.com/rafaelq/boosthub/internal/model"
	"github.com/rafaelq/boosthub/internal/payment"
	"github.com/rafaelq/boosthub/internal/provider"
	"github.com/rafaelq/boosthub/internal/repository"
	"github.com/rafaelq/boosthub/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	PlaceOrder(ctx context.Context, userID int64, req service.OrderRequest) (*model.Order, error)
	CreateRecharge(ctx context.Context, userID int64, amountCents int64, payer service.PayerInfo) (*service.Checkout, error)
	ProcessPixWebhook(ctx context.Context, body []byte) (*service.CreditResult, error)
	ProcessMercadoPagoWebhook(ctx context.Context, body []byte) (*service.CreditResult, error)
}

// Handler реализует HTTP-обработчики API сервиса boosthub.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	pixSecret      string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, pixSecret string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		pixSecret:      pixSecret,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || err.Error() == "invalid credentials" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

type orderResponse struct {
	ID         int64   `json:"id"`
	ServiceID  int64   `json:"service_id"`
	Link       string  `json:"link"`
	Quantity   int     `json:"quantity"`
	Charge     float64 `json:"charge"`
	ExternalID *string `json:"external_id,omitempty"`
	Status     string  `json:"status"`
	Remains    *int    `json:"remains,omitempty"`
	StartCount *int    `json:"start_count,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// GetOrders возвращает список заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, orderResponse{
			ID:         o.ID,
			ServiceID:  o.ServiceID,
			Link:       o.Link,
			Quantity:   o.Quantity,
			Charge:     float64(o.Charge) / 100,
			ExternalID: o.ExternalID,
			Status:     string(o.Status),
			Remains:    o.Remains,
			StartCount: o.StartCount,
			CreatedAt:  o.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type placeOrderRequest struct {
	ServiceID int64  `json:"service_id"`
	Link      string `json:"link"`
	Quantity  int    `json:"quantity"`
}

// PlaceOrder размещает заказ от имени текущего пользователя.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.PlaceOrder(r.Context(), userID, service.OrderRequest{
		ServiceID: req.ServiceID,
		Link:      req.Link,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.respondPlaceOrderError(w, err, userID)
		return
	}

	writeJSON(w, http.StatusCreated, orderResponse{
		ID:         order.ID,
		ServiceID:  order.ServiceID,
		Link:       order.Link,
		Quantity:   order.Quantity,
		Charge:     float64(order.Charge) / 100,
		ExternalID: order.ExternalID,
		Status:     string(order.Status),
	})
}

// respondPlaceOrderError переводит ошибки размещения в HTTP-ответы.
// Логический отказ провайдера возвращается дословно и отличим от
// неразбираемого ответа: только второй оправдывает повтор.
func (h *Handler) respondPlaceOrderError(w http.ResponseWriter, err error, userID int64) {
	var rejected *provider.RejectedError

	switch {
	case errors.Is(err, service.ErrInvalidOrder):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid order request"})
	case errors.Is(err, repository.ErrServiceUnknown):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "unknown service"})
	case errors.Is(err, repository.ErrInsufficientBalance):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "insufficient balance"})
	case errors.Is(err, repository.ErrConfigMissing):
		h.logger.Error("place order: service config missing")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service not configured"})
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": rejected.Message})
	case errors.Is(err, provider.ErrBadReply):
		h.logger.Error("place order: bad provider reply", zap.Error(err), zap.Int64("userID", userID))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "provider reply unparseable"})
	default:
		h.logger.Error("place order error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type rechargeRequest struct {
	Amount    float64 `json:"amount"`
	Email     string  `json:"email"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	CPF       string  `json:"cpf"`
}

type rechargeResponse struct {
	PaymentID    string `json:"payment_id"`
	Status       string `json:"status"`
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
}

// Recharge создаёт Pix-чекаут на пополнение баланса текущего пользователя.
func (h *Handler) Recharge(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req rechargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Amount <= 0 || req.Email == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	checkout, err := h.service.CreateRecharge(r.Context(), userID, payment.MajorToCents(req.Amount), service.PayerInfo{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		CPF:       req.CPF,
	})
	if err != nil {
		h.logger.Error("create recharge error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rechargeResponse{
		PaymentID:    checkout.PaymentID,
		Status:       checkout.Status,
		QRCode:       checkout.QRCode,
		QRCodeBase64: checkout.QRCodeBase64,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
