package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/rafaelq/boosthub/internal/middleware"
	"github.com/rafaelq/boosthub/internal/model"
	"github.com/rafaelq/boosthub/internal/payment"
	"github.com/rafaelq/boosthub/internal/provider"
	"github.com/rafaelq/boosthub/internal/repository"
	"github.com/rafaelq/boosthub/internal/service"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUserID int64
	authErr    error

	balanceResp *model.Balance
	balanceErr  error

	ordersResp []model.Order
	ordersErr  error

	placeOrderResp *model.Order
	placeOrderErr  error

	rechargeResp *service.Checkout
	rechargeErr  error

	pixResult *service.CreditResult
	pixErr    error
	pixBodies [][]byte

	mpResult *service.CreditResult
	mpErr    error
}

func (s *stubService) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	return s.authUserID, s.authErr
}

func (s *stubService) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	return s.balanceResp, s.balanceErr
}

func (s *stubService) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.ordersResp, s.ordersErr
}

func (s *stubService) PlaceOrder(ctx context.Context, userID int64, req service.OrderRequest) (*model.Order, error) {
	return s.placeOrderResp, s.placeOrderErr
}

func (s *stubService) CreateRecharge(ctx context.Context, userID int64, amountCents int64, payer service.PayerInfo) (*service.Checkout, error) {
	return s.rechargeResp, s.rechargeErr
}

func (s *stubService) ProcessPixWebhook(ctx context.Context, body []byte) (*service.CreditResult, error) {
	s.pixBodies = append(s.pixBodies, body)
	return s.pixResult, s.pixErr
}

func (s *stubService) ProcessMercadoPagoWebhook(ctx context.Context, body []byte) (*service.CreditResult, error) {
	return s.mpResult, s.mpErr
}

func newTestHandler(t *testing.T, svc Service, pixSecret string) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth, pixSecret)
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerUserID: 42,
	}
	h := newTestHandler(t, svc, "")

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestLogin_UnauthorizedOnError(t *testing.T) {
	svc := &stubService{
		authErr: context.DeadlineExceeded,
	}
	h := newTestHandler(t, svc, "")

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
}

func TestPixWebhook_CreditedResponse(t *testing.T) {
	svc := &stubService{
		pixResult: &service.CreditResult{Credited: true, NewBalanceCents: 5000},
	}
	h := newTestHandler(t, svc, "")

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/pix", strings.NewReader(`{"event":"billing.paid"}`))
	rec := httptest.NewRecorder()

	h.PixWebhook(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	body := decodeBody(t, res)
	if body["success"] != true {
		t.Fatalf("body = %v, want success", body)
	}
	if body["newBalance"] != 50.0 {
		t.Fatalf("newBalance = %v, want 50", body["newBalance"])
	}
}

func TestPixWebhook_IgnoredResponse(t *testing.T) {
	svc := &stubService{
		pixResult: &service.CreditResult{Ignored: true},
	}
	h := newTestHandler(t, svc, "")

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/pix", strings.NewReader(`{"event":"billing.created"}`))
	rec := httptest.NewRecorder()

	h.PixWebhook(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	body := decodeBody(t, res)
	if body["received"] != true {
		t.Fatalf("body = %v, want received", body)
	}
}

func TestPixWebhook_IdentityFailureIsNon2xx(t *testing.T) {
	svc := &stubService{
		pixErr: payment.ErrIdentityUnresolved,
	}
	h := newTestHandler(t, svc, "")

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/pix", strings.NewReader(`{"event":"billing.paid"}`))
	rec := httptest.NewRecorder()

	h.PixWebhook(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	body := decodeBody(t, res)
	if _, ok := body["error"]; !ok {
		t.Fatalf("body = %v, want error field", body)
	}
}

func TestPixWebhook_MissingPaymentIDIsNon2xx(t *testing.T) {
	svc := &stubService{
		pixErr: payment.ErrPaymentIDMissing,
	}
	h := newTestHandler(t, svc, "")

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/pix", strings.NewReader(`{"event":"billing.paid"}`))
	rec := httptest.NewRecorder()

	h.PixWebhook(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestPixWebhook_DatastoreFailureIsNon2xx(t *testing.T) {
	svc := &stubService{
		pixErr: context.DeadlineExceeded,
	}
	h := newTestHandler(t, svc, "")

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/pix", strings.NewReader(`{"event":"billing.paid"}`))
	rec := httptest.NewRecorder()

	h.PixWebhook(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
}

func TestPixWebhook_SecretMismatch(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, "expected-secret")

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/pix?secret=wrong", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.PixWebhook(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
	if len(svc.pixBodies) != 0 {
		t.Fatalf("payload must not be processed on secret mismatch")
	}
}

func TestMercadoPagoWebhook_AlwaysAcknowledges(t *testing.T) {
	tests := []struct {
		name      string
		result    *service.CreditResult
		err       error
		wantField string
	}{
		{
			name:      "credited",
			result:    &service.CreditResult{Credited: true, NewBalanceCents: 2550},
			wantField: "success",
		},
		{
			name:      "ignored",
			result:    &service.CreditResult{Ignored: true},
			wantField: "ignored",
		},
		{
			name:      "duplicate",
			result:    &service.CreditResult{Duplicate: true},
			wantField: "ignored",
		},
		{
			name:      "internal error still 200",
			err:       payment.ErrIdentityUnresolved,
			wantField: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{mpResult: tt.result, mpErr: tt.err}
			h := newTestHandler(t, svc, "")

			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/mercadopago", strings.NewReader(`{"data":{"id":"1"}}`))
			rec := httptest.NewRecorder()

			h.MercadoPagoWebhook(rec, req)

			res := rec.Result()
			if res.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200 in all cases", res.StatusCode)
			}

			body := decodeBody(t, res)
			if _, ok := body[tt.wantField]; !ok {
				t.Fatalf("body = %v, want field %q", body, tt.wantField)
			}
		})
	}
}

func withAuth(t *testing.T, h *Handler, req *http.Request, userID int64) *http.Request {
	t.Helper()

	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, userID)
	req.AddCookie(rec.Result().Cookies()[0])
	return req
}

func TestPlaceOrder_RejectedVerbatim(t *testing.T) {
	svc := &stubService{
		placeOrderErr: &provider.RejectedError{Message: "Not enough quantity"},
	}
	h := newTestHandler(t, svc, "")

	body, _ := json.Marshal(placeOrderRequest{
		ServiceID: 1,
		Link:      "https://example.com",
		Quantity:  100,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/orders", bytes.NewReader(body))
	req = withAuth(t, h, req, 1)

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.PlaceOrder))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	respBody := decodeBody(t, res)
	if respBody["error"] != "Not enough quantity" {
		t.Fatalf("error = %v, want verbatim provider message", respBody["error"])
	}
}

func TestPlaceOrder_BadReplyIsBadGateway(t *testing.T) {
	svc := &stubService{
		placeOrderErr: provider.ErrBadReply,
	}
	h := newTestHandler(t, svc, "")

	body, _ := json.Marshal(placeOrderRequest{ServiceID: 1, Link: "https://example.com", Quantity: 100})

	req := httptest.NewRequest(http.MethodPost, "/api/user/orders", bytes.NewReader(body))
	req = withAuth(t, h, req, 1)

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.PlaceOrder))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadGateway)
	}
}

func TestPlaceOrder_UnknownServiceUnprocessable(t *testing.T) {
	svc := &stubService{
		placeOrderErr: repository.ErrServiceUnknown,
	}
	h := newTestHandler(t, svc, "")

	body, _ := json.Marshal(placeOrderRequest{ServiceID: 99, Link: "https://example.com", Quantity: 100})

	req := httptest.NewRequest(http.MethodPost, "/api/user/orders", bytes.NewReader(body))
	req = withAuth(t, h, req, 1)

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.PlaceOrder))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestGetOrders_NoContent(t *testing.T) {
	svc := &stubService{
		ordersResp: []model.Order{},
	}
	h := newTestHandler(t, svc, "")

	req := httptest.NewRequest(http.MethodGet, "/api/user/orders", nil)
	req = withAuth(t, h, req, 1)

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.GetOrders))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestGetBalance_JSONResponse(t *testing.T) {
	svc := &stubService{
		balanceResp: &model.Balance{Current: 12.34, Spent: 5},
	}
	h := newTestHandler(t, svc, "")

	req := httptest.NewRequest(http.MethodGet, "/api/user/balance", nil)
	req = withAuth(t, h, req, 1)

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.GetBalance))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	body := decodeBody(t, res)
	if body["current"] != 12.34 {
		t.Fatalf("current = %v, want 12.34", body["current"])
	}
}

func TestRecharge_ReturnsQRCode(t *testing.T) {
	svc := &stubService{
		rechargeResp: &service.Checkout{
			PaymentID:    "555",
			Status:       "pending",
			QRCode:       "qr-data",
			QRCodeBase64: "cXItZGF0YQ==",
		},
	}
	h := newTestHandler(t, svc, "")

	body, _ := json.Marshal(rechargeRequest{Amount: 50, Email: "user@example.com", CPF: "12345678909"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/recharge", bytes.NewReader(body))
	req = withAuth(t, h, req, 1)

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.Recharge))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	respBody := decodeBody(t, res)
	if respBody["qr_code"] != "qr-data" {
		t.Fatalf("qr_code = %v, want qr-data", respBody["qr_code"])
	}
}
