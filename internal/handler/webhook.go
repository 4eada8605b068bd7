package handler

import (
	"crypto/hmac"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/rafaelq/boosthub/internal/payment"
)

// PixWebhook принимает уведомление Pix-шлюза. Ошибки разбора, идентификации
// и записи возвращаются шлюзу как 4xx/5xx: потерянное зачисление — прямой
// убыток пользователя, и повторная доставка здесь желательна. Повтор
// безопасен: зачисление идемпотентно по идентификатору платежа.
func (h *Handler) PixWebhook(w http.ResponseWriter, r *http.Request) {
	if h.pixSecret != "" {
		secret := r.URL.Query().Get("secret")
		if !hmac.Equal([]byte(secret), []byte(h.pixSecret)) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	res, err := h.service.ProcessPixWebhook(r.Context(), body)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrBadPayload),
			errors.Is(err, payment.ErrIdentityUnresolved),
			errors.Is(err, payment.ErrAmountMissing),
			errors.Is(err, payment.ErrPaymentIDMissing):
			h.logger.Error("pix webhook rejected", zap.Error(err))
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			h.logger.Error("pix webhook processing error", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		}
		return
	}

	if res.Credited {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"newBalance": float64(res.NewBalanceCents) / 100,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// MercadoPagoWebhook принимает уведомление Mercado Pago. Ответ всегда 200:
// ошибка в ответе спровоцировала бы шторм повторов на постоянной логической
// ошибке. Внутренние сбои логируются и отслеживаются вне канала доставки.
func (h *Handler) MercadoPagoWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": "read body", "details": err.Error()})
		return
	}
	defer r.Body.Close()

	res, err := h.service.ProcessMercadoPagoWebhook(r.Context(), body)
	if err != nil {
		h.logger.Error("mercadopago webhook processing error", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{
			"error":   "processing failed",
			"details": err.Error(),
		})
		return
	}

	if res.Credited {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"newBalance": float64(res.NewBalanceCents) / 100,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ignored": true})
}
