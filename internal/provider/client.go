// Package provider предоставляет клиент API SMM-провайдера: размещение
// заказов и запрос их статуса.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrBadReply возвращается, когда ответ провайдера не разбирается как JSON.
// Отличается от RejectedError: неразбираемый ответ может оправдывать повтор,
// логический отказ провайдера — нет.
var ErrBadReply = errors.New("unparseable provider reply")

// RejectedError — структурный логический отказ провайдера.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("provider rejected: %s", e.Message)
}

// Client инкапсулирует HTTP-взаимодействие с API SMM-провайдера.
type Client struct {
	apiURL string
	apiKey string
	// statusClient повторяет запросы: action=status идемпотентен.
	statusClient *http.Client
	// addClient не повторяет: повтор action=add разместил бы заказ дважды.
	addClient *http.Client
}

// OrderStatus описывает ответ провайдера на запрос статуса заказа.
type OrderStatus struct {
	Status     string
	Remains    *int
	StartCount *int
}

// NewClient создаёт клиент API провайдера с указанным адресом и ключом.
func NewClient(apiURL, apiKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = 5 * time.Second

	return &Client{
		apiURL:       strings.TrimRight(apiURL, "/"),
		apiKey:       apiKey,
		statusClient: rc.StandardClient(),
		addClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

// AddOrder размещает заказ у провайдера и возвращает назначенный им идентификатор.
func (c *Client) AddOrder(ctx context.Context, serviceID int64, link string, quantity int) (string, error) {
	form := url.Values{}
	form.Set("key", c.apiKey)
	form.Set("action", "add")
	form.Set("service", strconv.FormatInt(serviceID, 10))
	form.Set("link", link)
	form.Set("quantity", strconv.Itoa(quantity))

	body, err := c.post(ctx, c.addClient, form)
	if err != nil {
		return "", err
	}

	var reply struct {
		Order flexNumber `json:"order"`
		Error string     `json:"error"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("%w: %s", ErrBadReply, err)
	}

	if reply.Error != "" {
		return "", &RejectedError{Message: reply.Error}
	}
	if reply.Order == "" {
		return "", fmt.Errorf("%w: reply has neither order nor error", ErrBadReply)
	}

	return string(reply.Order), nil
}

// GetOrderStatus запрашивает у провайдера статус заказа по внешнему идентификатору.
// Статус возвращается как есть: провайдерский словарь на внутренний
// отображает вызывающая сторона.
func (c *Client) GetOrderStatus(ctx context.Context, externalID string) (*OrderStatus, error) {
	form := url.Values{}
	form.Set("key", c.apiKey)
	form.Set("action", "status")
	form.Set("order", externalID)

	body, err := c.post(ctx, c.statusClient, form)
	if err != nil {
		return nil, err
	}

	var reply struct {
		Status     string     `json:"status"`
		Error      string     `json:"error"`
		Remains    flexNumber `json:"remains"`
		StartCount flexNumber `json:"start_count"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadReply, err)
	}

	if reply.Error != "" {
		return nil, &RejectedError{Message: reply.Error}
	}

	return &OrderStatus{
		Status:     reply.Status,
		Remains:    numberToInt(reply.Remains),
		StartCount: numberToInt(reply.StartCount),
	}, nil
}

func (c *Client) post(ctx context.Context, client *http.Client, form url.Values) ([]byte, error) {
	if c == nil || c.apiURL == "" {
		return nil, fmt.Errorf("provider client not configured")
	}

	base := c.apiURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return buf.Bytes(), nil
}

// flexNumber разбирает числовые поля, которые провайдер присылает то числом, то строкой.
type flexNumber string

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		s = ""
	}
	*n = flexNumber(s)
	return nil
}

func numberToInt(n flexNumber) *int {
	if n == "" {
		return nil
	}
	v, err := strconv.Atoi(string(n))
	if err != nil {
		return nil
	}
	return &v
}
