package events

import (
	"testing"

	"github.com/rafaelq/boosthub/internal/model"
)

type recordingListener struct {
	credited []BalanceCredited
	changed  []OrderStatusChanged
}

func (l *recordingListener) OnBalanceCredited(ev BalanceCredited) {
	l.credited = append(l.credited, ev)
}

func (l *recordingListener) OnOrderStatusChanged(ev OrderStatusChanged) {
	l.changed = append(l.changed, ev)
}

func TestBus_DeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	a := &recordingListener{}
	b := &recordingListener{}
	bus.Subscribe(a)
	bus.Subscribe(b)

	bus.PublishBalanceCredited(BalanceCredited{UserID: 1, AmountCents: 500})
	bus.PublishOrderStatusChanged(OrderStatusChanged{OrderID: 2, From: model.OrderStatusPending, To: model.OrderStatusProcessing})

	for _, l := range []*recordingListener{a, b} {
		if len(l.credited) != 1 || l.credited[0].UserID != 1 {
			t.Fatalf("unexpected credited events: %+v", l.credited)
		}
		if len(l.changed) != 1 || l.changed[0].To != model.OrderStatusProcessing {
			t.Fatalf("unexpected changed events: %+v", l.changed)
		}
	}
}

func TestBus_NilSafe(t *testing.T) {
	var bus *Bus

	// Публикация в nil-шину не должна паниковать.
	bus.PublishBalanceCredited(BalanceCredited{})
	bus.PublishOrderStatusChanged(OrderStatusChanged{})
}
