package controller

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/cart-recovery-service/internal/errors"
	"github.com/unclebandit/cart-recovery-service/internal/gateway"
	"github.com/unclebandit/cart-recovery-service/internal/handler"
	"github.com/unclebandit/cart-recovery-service/internal/model"
)

// PaymentHandler applies an approved payment to its cart session.
type PaymentHandler interface {
	HandlePaymentNotification(ctx context.Context, paymentID string) (*model.CartSession, error)
}

// WebhookController receives Mercado Pago notifications.
type WebhookController struct {
	Payments PaymentHandler
	// Secret enables x-signature verification when non-empty.
	Secret string
	Log    zerolog.Logger
}

type mercadoPagoNotification struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

// MercadoPago acknowledges every well-formed notification. Only payment
// notifications change state; unknown sessions are logged and acknowledged
// so the provider stops retrying them.
func (c *WebhookController) MercadoPago(w http.ResponseWriter, r *http.Request) {
	var n mercadoPagoNotification
	if err := handler.DecodeBody(r, &n); err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	if n.Type == "" {
		n.Type = r.URL.Query().Get("type")
	}
	if n.Data.ID == "" {
		n.Data.ID = r.URL.Query().Get("data.id")
	}

	if c.Secret != "" {
		ok := gateway.VerifyWebhookSignature(c.Secret, r.Header.Get("x-signature"), r.Header.Get("x-request-id"), n.Data.ID)
		if !ok {
			c.Log.Warn().Str("data_id", n.Data.ID).Msg("rejected webhook with bad signature")
			handler.WriteError(w, c.Log, fmt.Errorf("webhook signature: %w", appErrors.ErrUnauthorized))
			return
		}
	}

	log := c.Log.With().Str("type", n.Type).Str("action", n.Action).Str("data_id", n.Data.ID).Logger()
	if n.Type != "payment" {
		log.Debug().Msg("ignoring non-payment notification")
		handler.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "ignored": true})
		return
	}

	s, err := c.Payments.HandlePaymentNotification(r.Context(), n.Data.ID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			log.Warn().Err(err).Msg("payment references unknown cart session")
			handler.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "ignored": true})
			return
		}
		handler.WriteError(w, log, err)
		return
	}

	body := map[string]interface{}{"success": true}
	if s != nil {
		body["data"] = map[string]interface{}{"session_id": s.SessionID, "status": s.Status}
	}
	handler.WriteJSON(w, http.StatusOK, body)
}
