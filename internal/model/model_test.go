package model

import "testing"

func TestOrderStatusIsTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusCompleted, OrderStatusPartial, OrderStatusCanceled, OrderStatusRefunded}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}

	active := []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusInProgress}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestOrderStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{"pending to processing", OrderStatusPending, OrderStatusProcessing, true},
		{"pending to completed", OrderStatusPending, OrderStatusCompleted, true},
		{"processing to in_progress", OrderStatusProcessing, OrderStatusInProgress, true},
		{"in_progress to partial", OrderStatusInProgress, OrderStatusPartial, true},
		{"same status is not a transition", OrderStatusProcessing, OrderStatusProcessing, false},
		{"in_progress back to pending", OrderStatusInProgress, OrderStatusPending, false},
		{"completed back to processing", OrderStatusCompleted, OrderStatusProcessing, false},
		{"terminal to terminal", OrderStatusCompleted, OrderStatusCanceled, false},
		{"unknown target", OrderStatusPending, OrderStatus("weird"), false},
		{"unknown source", OrderStatus("weird"), OrderStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}
