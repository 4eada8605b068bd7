// Package mercadopago предоставляет клиент API Mercado Pago: получение
// авторитетной записи платежа и создание Pix-чекаута.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const defaultBaseURL = "https://api.mercadopago.com"

// Client инкапсулирует HTTP-взаимодействие с API Mercado Pago.
// GET-запросы идут через повторяющий клиент, создание платежа — через обычный,
// чтобы повтор не породил второй платёж.
type Client struct {
	baseURL     string
	accessToken string
	getClient   *http.Client
	postClient  *http.Client
}

// Payment описывает запись платежа, возвращаемую API.
type Payment struct {
	ID                 int64               `json:"id"`
	Status             string              `json:"status"`
	ExternalReference  string              `json:"external_reference"`
	TransactionAmount  float64             `json:"transaction_amount"`
	PointOfInteraction *PointOfInteraction `json:"point_of_interaction,omitempty"`
}

// PointOfInteraction содержит данные для оплаты по Pix.
type PointOfInteraction struct {
	TransactionData TransactionData `json:"transaction_data"`
}

// TransactionData содержит QR-код Pix-чекаута.
type TransactionData struct {
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
}

// Payer описывает плательщика при создании чекаута.
type Payer struct {
	Email          string         `json:"email"`
	FirstName      string         `json:"first_name,omitempty"`
	LastName       string         `json:"last_name,omitempty"`
	Identification Identification `json:"identification"`
}

// Identification — документ плательщика.
type Identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

// CheckoutRequest описывает запрос на создание Pix-платежа.
type CheckoutRequest struct {
	TransactionAmount float64 `json:"transaction_amount"`
	Description       string  `json:"description,omitempty"`
	PaymentMethodID   string  `json:"payment_method_id"`
	Payer             Payer   `json:"payer"`
	ExternalReference string  `json:"external_reference"`
	NotificationURL   string  `json:"notification_url,omitempty"`
}

// NewClient создаёт клиент API Mercado Pago с указанным токеном доступа.
// GET-запросы безопасно повторяются при сетевых сбоях.
func NewClient(accessToken string) *Client {
	return NewClientWithBaseURL(defaultBaseURL, accessToken)
}

// NewClientWithBaseURL создаёт клиент с нестандартным адресом API (для тестов).
func NewClientWithBaseURL(baseURL, accessToken string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = 5 * time.Second

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		getClient:   rc.StandardClient(),
		postClient:  &http.Client{Timeout: 5 * time.Second},
	}
}

// GetPayment запрашивает авторитетную запись платежа по идентификатору.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if c == nil || c.accessToken == "" {
		return nil, fmt.Errorf("mercadopago client not configured")
	}

	url := fmt.Sprintf("%s/v1/payments/%s", c.baseURL, paymentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.getClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var p Payment
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &p, nil
}

// CreatePayment создаёт Pix-платёж (чекаут) и возвращает запись с QR-кодом.
// Запрос не повторяется: повтор создал бы второй платёж.
func (c *Client) CreatePayment(ctx context.Context, cr *CheckoutRequest) (*Payment, error) {
	if c == nil || c.accessToken == "" {
		return nil, fmt.Errorf("mercadopago client not configured")
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.postClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var p Payment
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &p, nil
}
