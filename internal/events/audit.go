package events

import "go.uber.org/zap"

// ZapListener пишет доменные события в структурный лог для операционного аудита.
type ZapListener struct {
	logger *zap.Logger
}

// NewZapListener создаёт наблюдателя, логирующего события через zap.
func NewZapListener(logger *zap.Logger) *ZapListener {
	return &ZapListener{logger: logger}
}

// OnBalanceCredited логирует зачисление платежа.
func (l *ZapListener) OnBalanceCredited(ev BalanceCredited) {
	l.logger.Info("balance credited",
		zap.Int64("userID", ev.UserID),
		zap.String("gateway", string(ev.Gateway)),
		zap.String("paymentID", ev.PaymentID),
		zap.Int64("amountCents", ev.AmountCents),
		zap.Int64("newBalanceCents", ev.NewBalance),
	)
}

// OnOrderStatusChanged логирует переход статуса заказа.
func (l *ZapListener) OnOrderStatusChanged(ev OrderStatusChanged) {
	l.logger.Info("order status changed",
		zap.Int64("orderID", ev.OrderID),
		zap.String("from", string(ev.From)),
		zap.String("to", string(ev.To)),
	)
}
