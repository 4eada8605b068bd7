// Package model содержит доменные сущности сервиса boosthub.
package model

import "time"

// Profile представляет профиль пользователя с денежным балансом.
// Баланс и суммарные траты хранятся в центах (целые минорные единицы).
type Profile struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Balance      int64
	TotalSpent   int64
	CreatedAt    time.Time
}

// OrderStatus описывает статус выполнения заказа у провайдера.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusPartial    OrderStatus = "partial"
	OrderStatusCanceled   OrderStatus = "canceled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// statusRank задаёт частичный порядок статусов: переходы возможны только вперёд.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusProcessing: 1,
	OrderStatusInProgress: 2,
	OrderStatusCompleted:  3,
	OrderStatusPartial:    3,
	OrderStatusCanceled:   3,
	OrderStatusRefunded:   3,
}

// IsTerminal сообщает, является ли статус терминальным для опроса провайдера.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusPartial, OrderStatusCanceled, OrderStatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo сообщает, допустим ли переход из текущего статуса в указанный.
// Терминальный статус назад не двигается, повторная запись того же статуса не нужна.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// Order описывает заказ пользователя у SMM-провайдера.
type Order struct {
	ID         int64
	UserID     int64
	ServiceID  int64
	Link       string
	Quantity   int
	Charge     int64
	ExternalID *string
	Status     OrderStatus
	Remains    *int
	StartCount *int
	CreatedAt  time.Time
}

// PaymentGateway идентифицирует платёжный шлюз, приславший уведомление.
type PaymentGateway string

const (
	GatewayPix         PaymentGateway = "pix"
	GatewayMercadoPago PaymentGateway = "mercadopago"
)

// PaymentEvent — нормализованное платёжное событие от одного из шлюзов.
// Не хранится как отдельная сущность: его эффект (зачисление) фиксирует леджер.
type PaymentEvent struct {
	Gateway     PaymentGateway
	PaymentID   string
	UserID      int64
	AmountCents int64
	Paid        bool
}

// ServiceConfig — единственная строка конфигурации провайдера и наценки.
type ServiceConfig struct {
	ProviderURL  string
	ProviderKey  string
	ProfitMargin float64
}

// Balance содержит баланс пользователя и суммарные траты в валюте для API.
type Balance struct {
	Current float64 `json:"current"`
	Spent   float64 `json:"spent"`
}
