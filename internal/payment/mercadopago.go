package payment

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/rafaelq/boosthub/internal/gateway/mercadopago"
	"github.com/rafaelq/boosthub/internal/model"
)

// mpApprovedStatus — статус платежа Mercado Pago, означающий подтверждённую оплату.
const mpApprovedStatus = "approved"

// MercadoPagoNotification описывает тело уведомления Mercado Pago.
// Уведомление — только сигнал свериться с API, его статусным полям не доверяем.
type MercadoPagoNotification struct {
	Action string `json:"action"`
	Type   string `json:"type"`
	ID     any    `json:"id"`
	Data   struct {
		ID any `json:"id"`
	} `json:"data"`
}

// ParseMercadoPagoNotification разбирает тело уведомления и возвращает
// идентификатор платежа для повторного запроса. Пустой идентификатор означает,
// что уведомление не относится к платежу.
func ParseMercadoPagoNotification(body []byte) (string, error) {
	var n MercadoPagoNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return "", fmt.Errorf("%w: %s", ErrBadPayload, err)
	}

	if id := flattenID(n.Data.ID); id != "" {
		return id, nil
	}
	return flattenID(n.ID), nil
}

// flattenID приводит идентификатор к строке: шлюз присылает его то числом, то строкой.
func flattenID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	}
	return ""
}

// NormalizeMercadoPago превращает авторитетную запись платежа в нормализованное событие.
// Сумма приходит в десятичных денежных единицах и переводится в центы
// с округлением половины вверх.
func NormalizeMercadoPago(p *mercadopago.Payment) (*model.PaymentEvent, error) {
	ev := &model.PaymentEvent{
		Gateway:   model.GatewayMercadoPago,
		PaymentID: strconv.FormatInt(p.ID, 10),
		Paid:      p.Status == mpApprovedStatus,
	}

	if !ev.Paid {
		return ev, nil
	}

	if p.ExternalReference == "" {
		return nil, ErrIdentityUnresolved
	}
	userID, err := parseUserID(p.ExternalReference)
	if err != nil {
		return nil, err
	}
	ev.UserID = userID

	ev.AmountCents = MajorToCents(p.TransactionAmount)
	if ev.AmountCents <= 0 {
		return nil, ErrAmountMissing
	}

	return ev, nil
}

// MajorToCents переводит сумму из десятичных денежных единиц в центы.
func MajorToCents(v float64) int64 {
	return int64(math.Floor(v*100 + 0.5))
}
