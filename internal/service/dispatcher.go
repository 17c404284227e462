package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/unclebandit/cart-recovery-service/internal/gateway"
	"github.com/unclebandit/cart-recovery-service/internal/logging"
	"github.com/unclebandit/cart-recovery-service/internal/metrics"
	"github.com/unclebandit/cart-recovery-service/internal/model"
	"github.com/unclebandit/cart-recovery-service/internal/queue"
	"github.com/unclebandit/cart-recovery-service/internal/repository"
)

const (
	NoteSessionNotAbandoned = "Session no longer abandoned"
	NoteWhatsAppDisabled    = "WhatsApp recovery disabled"
	NoteMaxAttemptsReached  = "Max attempts reached"
	NoteMessageSent         = "Message sent"
)

// MessageDispatcher sends the recovery message for attempt numbers >= 1.
type MessageDispatcher struct {
	Sessions  repository.SessionRepositoryInterface
	Attempts  repository.AttemptRepositoryInterface
	Templates repository.ConfigRepositoryInterface
	Sender    gateway.Sender
	Queue     Enqueuer
	Events    queue.Queue
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
	Clock     Clock
}

// Dispatch renders and sends the message for sch. A failed send is
// recorded on the attempt row and returned as an error so the schedule
// fails too; no follow-up attempt is queued in that case.
func (d *MessageDispatcher) Dispatch(ctx context.Context, cfg model.RecoveryConfig, sch *model.RecoverySchedule) (Outcome, error) {
	s, err := d.Sessions.GetByID(ctx, sch.CartSessionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load session: %w", err)
	}
	if s.Status != model.SessionAbandoned {
		return Outcome{Note: NoteSessionNotAbandoned}, nil
	}
	if !cfg.WhatsAppEnabled {
		return Outcome{Note: NoteWhatsAppDisabled}, nil
	}
	if sch.AttemptNumber > cfg.MaxAttempts {
		return Outcome{Note: NoteMaxAttemptsReached}, nil
	}

	message, err := d.render(ctx, s, cfg, sch.AttemptNumber)
	if err != nil {
		return Outcome{}, err
	}

	attempt := &model.RecoveryAttempt{
		CartSessionID:  s.ID,
		AttemptNumber:  sch.AttemptNumber,
		Method:         model.MethodWhatsApp,
		Status:         model.AttemptPending,
		MessageContent: message,
		CreatedAt:      d.Clock.now(),
	}
	if err := d.Attempts.Create(ctx, attempt); err != nil {
		return Outcome{}, fmt.Errorf("record attempt: %w", err)
	}

	log := d.Log.With().
		Str(logging.SESSION, s.SessionID).
		Int(logging.SCHEDULE, sch.ID).
		Int(logging.ATTEMPT, sch.AttemptNumber).
		Int("attempt_id", attempt.ID).
		Logger()

	messageID, sendErr := d.Sender.SendText(ctx, s.UserWhatsApp, message)
	if sendErr != nil {
		reason := sendErrorMessage(sendErr)
		if err := d.Attempts.MarkFailed(ctx, attempt.ID, reason); err != nil {
			log.Error().Err(err).Msg("failed to record failed attempt")
		}
		d.Metrics.MessageDispatched(model.MethodWhatsApp, string(model.AttemptFailed))
		log.Warn().Str("error", reason).Msg("recovery message failed")
		publish(d.Events, d.Log, queue.Event{
			Type:          queue.TopicAttemptFailed,
			SessionID:     s.SessionID,
			CartSessionID: s.ID,
			AttemptNumber: sch.AttemptNumber,
			Status:        string(model.AttemptFailed),
			Error:         reason,
			OccurredAt:    d.Clock.now(),
		})
		return Outcome{}, fmt.Errorf("send attempt %d: %s", sch.AttemptNumber, reason)
	}

	now := d.Clock.now()
	if err := d.Attempts.MarkSent(ctx, attempt.ID, messageID, now); err != nil {
		return Outcome{}, fmt.Errorf("record sent attempt: %w", err)
	}
	d.Metrics.MessageDispatched(model.MethodWhatsApp, string(model.AttemptSent))
	log.Info().Str("message_id", messageID).Msg("recovery message sent")
	publish(d.Events, d.Log, queue.Event{
		Type:          queue.TopicAttemptSent,
		SessionID:     s.SessionID,
		CartSessionID: s.ID,
		AttemptNumber: sch.AttemptNumber,
		Status:        string(model.AttemptSent),
		OccurredAt:    now,
	})

	if sch.AttemptNumber < cfg.MaxAttempts {
		if _, err := d.Queue.Enqueue(ctx, s.ID, sch.AttemptNumber+1, cfg.Delay()); err != nil {
			return Outcome{}, fmt.Errorf("queue attempt %d: %w", sch.AttemptNumber+1, err)
		}
	}
	return Outcome{Note: NoteMessageSent}, nil
}

func (d *MessageDispatcher) render(ctx context.Context, s *model.CartSession, cfg model.RecoveryConfig, attempt int) (string, error) {
	body := DefaultTemplate(attempt)
	tpl, err := d.Templates.TemplateForAttempt(ctx, model.TemplateTypeWhatsApp, attempt)
	if err != nil {
		return "", fmt.Errorf("load template: %w", err)
	}
	if tpl != nil {
		body = tpl.Content
	}

	var plan *model.Plan
	if s.PlanID != nil {
		plan, err = d.Templates.GetPlan(ctx, *s.PlanID)
		if err != nil {
			return "", fmt.Errorf("load plan: %w", err)
		}
	}
	return RenderTemplate(body, RecoveryVariables(s, plan, cfg)), nil
}

// sendErrorMessage prefers the gateway's own error body.
func sendErrorMessage(err error) string {
	var gwErr *gateway.GatewayError
	if errors.As(err, &gwErr) && gwErr.Body != "" {
		return gwErr.Body
	}
	return err.Error()
}
