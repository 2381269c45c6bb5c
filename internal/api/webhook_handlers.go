package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/example/marketplace/internal/webhook"
)

// WebhookHandlers receives payment-gateway deliveries. It answers 4xx only
// for conditions redelivery cannot fix; a 5xx tells the gateway to retry.
type WebhookHandlers struct {
	gateway *webhook.Gateway
}

func NewWebhookHandlers(gateway *webhook.Gateway) *WebhookHandlers {
	return &WebhookHandlers{gateway: gateway}
}

func (h *WebhookHandlers) HandlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, "failed to read body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Payment-Signature")

	err = h.gateway.Handle(r.Context(), body, signature)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, webhook.ErrInvalidSignature):
		respondError(w, "invalid signature", http.StatusUnauthorized)
	case errors.Is(err, webhook.ErrBadPayload):
		respondError(w, "malformed payload", http.StatusBadRequest)
	default:
		// Infrastructure failure: ask the gateway to redeliver.
		respondError(w, "temporarily unavailable", http.StatusServiceUnavailable)
	}
}
