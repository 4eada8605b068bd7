// Package events реализует явную шину доменных событий с подпиской
// наблюдателей вместо неявных глобальных сигналов.
package events

import (
	"sync"

	"github.com/rafaelq/boosthub/internal/model"
)

// BalanceCredited публикуется после успешного зачисления платежа на баланс.
type BalanceCredited struct {
	UserID      int64
	Gateway     model.PaymentGateway
	PaymentID   string
	AmountCents int64
	NewBalance  int64
}

// OrderStatusChanged публикуется после фиксации перехода статуса заказа.
type OrderStatusChanged struct {
	OrderID int64
	From    model.OrderStatus
	To      model.OrderStatus
}

// Listener — наблюдатель доменных событий. Вызовы синхронные: обработчики
// должны быть быстрыми и не блокировать публикующую сторону.
type Listener interface {
	OnBalanceCredited(ev BalanceCredited)
	OnOrderStatusChanged(ev OrderStatusChanged)
}

// Bus рассылает доменные события подписанным наблюдателям.
// Нулевой указатель безопасен: публикация в nil-шину — no-op.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewBus создаёт пустую шину событий.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe регистрирует наблюдателя.
func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// PublishBalanceCredited рассылает событие зачисления.
func (b *Bus) PublishBalanceCredited(ev BalanceCredited) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.listeners {
		l.OnBalanceCredited(ev)
	}
}

// PublishOrderStatusChanged рассылает событие смены статуса заказа.
func (b *Bus) PublishOrderStatusChanged(ev OrderStatusChanged) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.listeners {
		l.OnOrderStatusChanged(ev)
	}
}
