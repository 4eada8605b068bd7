// Package payment нормализует платёжные уведомления шлюзов в единое событие
// и восстанавливает внутренний идентификатор пользователя из полей платежа.
package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rafaelq/boosthub/internal/model"
)

var (
	// ErrIdentityUnresolved возвращается, когда ни одно известное поле платежа не содержит идентификатор пользователя.
	ErrIdentityUnresolved = errors.New("payment identity unresolved")
	// ErrAmountMissing возвращается, когда сумма платежа отсутствует или равна нулю.
	ErrAmountMissing = errors.New("payment amount missing")
	// ErrPaymentIDMissing возвращается, когда оплаченное уведомление не несёт
	// идентификатор платежа: без него зачисление нельзя сделать идемпотентным.
	ErrPaymentIDMissing = errors.New("payment id missing")
	// ErrBadPayload возвращается при неразбираемом теле уведомления.
	ErrBadPayload = errors.New("malformed webhook payload")
)

// rechargePrefix — префикс externalId товарной позиции, несущей идентификатор пользователя.
const rechargePrefix = "recharge_"

// pixPaidEvent — событие Pix-шлюза, означающее подтверждённую оплату.
const pixPaidEvent = "billing.paid"

// pixPaidStatus — статус счёта Pix-шлюза, означающий подтверждённую оплату.
const pixPaidStatus = "PAID"

// PixWebhook описывает тело уведомления Pix-шлюза.
type PixWebhook struct {
	Event string  `json:"event"`
	Data  PixData `json:"data"`
}

// PixData — полезная нагрузка уведомления. Шлюз присылает поля то на уровне
// data, то вложенными в data.billing, поэтому обе формы разбираются.
type PixData struct {
	ID                string       `json:"id"`
	Status            string       `json:"status"`
	Amount            *int64       `json:"amount"`
	Pix               *PixCharge   `json:"pix"`
	Billing           *PixBilling  `json:"billing"`
	Products          []PixProduct `json:"products"`
	ExternalReference string       `json:"externalReference"`
	Metadata          PixMetadata  `json:"metadata"`
	Request           *PixRequest  `json:"request"`
}

// PixBilling — вложенный объект счёта.
type PixBilling struct {
	ID       string       `json:"id"`
	Status   string       `json:"status"`
	Amount   *int64       `json:"amount"`
	Products []PixProduct `json:"products"`
	Metadata PixMetadata  `json:"metadata"`
}

// PixCharge — вложенный объект pix-операции.
type PixCharge struct {
	Amount *int64 `json:"amount"`
}

// PixProduct — товарная позиция счёта.
type PixProduct struct {
	ExternalID string `json:"externalId"`
}

// PixMetadata — произвольные метаданные, установленные при создании счёта.
type PixMetadata struct {
	UserID string `json:"userId"`
}

// PixRequest — исходный запрос на создание счёта, возвращаемый шлюзом.
type PixRequest struct {
	Metadata PixMetadata `json:"metadata"`
}

// ParsePixWebhook разбирает тело уведомления Pix-шлюза.
func ParsePixWebhook(body []byte) (*PixWebhook, error) {
	var w PixWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadPayload, err)
	}
	return &w, nil
}

// Paid сообщает, означает ли уведомление подтверждённую оплату.
func (w *PixWebhook) Paid() bool {
	if w.Event == pixPaidEvent {
		return true
	}
	if w.Data.Billing != nil && w.Data.Billing.Status == pixPaidStatus {
		return true
	}
	return w.Data.Status == pixPaidStatus
}

// PaymentID возвращает внешний идентификатор платежа.
func (w *PixWebhook) PaymentID() string {
	if w.Data.Billing != nil && w.Data.Billing.ID != "" {
		return w.Data.Billing.ID
	}
	return w.Data.ID
}

// Amount возвращает сумму платежа в центах. Поля проверяются в фиксированном
// порядке приоритета: billing.amount, amount, pix.amount. Отсутствующая или
// нулевая сумма — ошибка качества данных, а не валидное нулевое зачисление.
func (w *PixWebhook) Amount() (int64, error) {
	var amount *int64

	switch {
	case w.Data.Billing != nil && w.Data.Billing.Amount != nil:
		amount = w.Data.Billing.Amount
	case w.Data.Amount != nil:
		amount = w.Data.Amount
	case w.Data.Pix != nil && w.Data.Pix.Amount != nil:
		amount = w.Data.Pix.Amount
	}

	if amount == nil || *amount <= 0 {
		return 0, ErrAmountMissing
	}

	return *amount, nil
}

// ResolveUserID восстанавливает идентификатор пользователя из полей платежа.
// Порядок приоритета фиксирован, побеждает первое совпадение:
//  1. externalId товарной позиции с префиксом recharge_;
//  2. внешняя ссылка, установленная при создании счёта;
//  3. метаданные счёта, платежа или исходного запроса.
func (w *PixWebhook) ResolveUserID() (int64, error) {
	var products []PixProduct
	if w.Data.Billing != nil {
		products = append(products, w.Data.Billing.Products...)
	}
	products = append(products, w.Data.Products...)
	for _, p := range products {
		if rest, ok := strings.CutPrefix(p.ExternalID, rechargePrefix); ok {
			return parseUserID(rest)
		}
	}

	if w.Data.ExternalReference != "" {
		return parseUserID(w.Data.ExternalReference)
	}

	for _, raw := range w.metadataCandidates() {
		if raw != "" {
			return parseUserID(raw)
		}
	}

	return 0, ErrIdentityUnresolved
}

func (w *PixWebhook) metadataCandidates() []string {
	var res []string
	if w.Data.Billing != nil {
		res = append(res, w.Data.Billing.Metadata.UserID)
	}
	res = append(res, w.Data.Metadata.UserID)
	if w.Data.Request != nil {
		res = append(res, w.Data.Request.Metadata.UserID)
	}
	return res
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad user id %q", ErrIdentityUnresolved, raw)
	}
	return id, nil
}

// NormalizePix превращает уведомление Pix-шлюза в нормализованное платёжное событие.
// Для неоплаченных уведомлений идентификатор и сумма не проверяются: такие
// события подтверждаются шлюзу и отбрасываются без зачисления.
func NormalizePix(body []byte) (*model.PaymentEvent, error) {
	w, err := ParsePixWebhook(body)
	if err != nil {
		return nil, err
	}

	ev := &model.PaymentEvent{
		Gateway:   model.GatewayPix,
		PaymentID: w.PaymentID(),
		Paid:      w.Paid(),
	}

	if !ev.Paid {
		return ev, nil
	}

	// Оплаченное событие без идентификатора платежа зачислять нельзя:
	// пустой ключ в леджере склеил бы все такие платежи в один, и каждое
	// следующее зачисление молча терялось бы как дубликат.
	if ev.PaymentID == "" {
		return nil, ErrPaymentIDMissing
	}

	ev.UserID, err = w.ResolveUserID()
	if err != nil {
		return nil, err
	}

	ev.AmountCents, err = w.Amount()
	if err != nil {
		return nil, err
	}

	return ev, nil
}
