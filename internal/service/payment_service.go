package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/cart-recovery-service/internal/errors"
	"github.com/unclebandit/cart-recovery-service/internal/gateway"
	"github.com/unclebandit/cart-recovery-service/internal/logging"
	"github.com/unclebandit/cart-recovery-service/internal/model"
)

// PaymentService turns Mercado Pago payment notifications into session
// status changes.
type PaymentService struct {
	Payments gateway.PaymentFetcher
	Tracker  *SessionTracker
	Log      zerolog.Logger
}

// HandlePaymentNotification fetches the payment and, when approved, closes
// the session named by its external_reference. It returns the updated
// session, or nil when the payment needs no action.
func (p *PaymentService) HandlePaymentNotification(ctx context.Context, paymentID string) (*model.CartSession, error) {
	if paymentID == "" {
		return nil, appErrors.NewValidation("data.id", "is required")
	}
	payment, err := p.Payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}

	log := p.Log.With().Int64("payment_id", payment.ID).Str("payment_status", payment.Status).Logger()
	if payment.Status != gateway.PaymentApproved {
		log.Info().Msg("payment not approved, ignoring")
		return nil, nil
	}
	if payment.ExternalReference == "" {
		log.Warn().Msg("approved payment without external_reference")
		return nil, nil
	}

	s, err := p.Tracker.GetSession(ctx, payment.ExternalReference)
	if err != nil {
		return nil, err
	}

	var target model.SessionStatus
	switch s.Status {
	case model.SessionAbandoned:
		target = model.SessionConverted
	case model.SessionActive:
		target = model.SessionCompleted
	default:
		log.Info().Str("session_status", string(s.Status)).Msg("session already closed")
		return s, nil
	}

	meta := []byte(fmt.Sprintf(`{"payment_id":%d,"payment_status":%q}`, payment.ID, payment.Status))
	updated, err := p.Tracker.UpdateStatus(ctx, s.SessionID, target, meta)
	if err != nil {
		return nil, err
	}
	log.Info().Str(logging.SESSION, s.SessionID).Str("status", string(updated.Status)).Msg("payment applied to cart session")
	return updated, nil
}
