package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/unclebandit/cart-recovery-service/internal/logging"
	"github.com/unclebandit/cart-recovery-service/internal/metrics"
	"github.com/unclebandit/cart-recovery-service/internal/model"
	"github.com/unclebandit/cart-recovery-service/internal/queue"
	"github.com/unclebandit/cart-recovery-service/internal/repository"
)

const (
	NoteSessionNotActive     = "Session no longer active"
	NoteSessionAbandoned     = "Session marked abandoned"
	NoteAlreadyAbandoned     = "Session already abandoned"
	NoteNoAttemptsConfigured = "Session marked abandoned; no recovery attempts configured"
)

// Outcome is what a completed schedule records in error_message.
type Outcome struct {
	Note string
}

// AbandonmentDetector handles attempt 0 schedules.
type AbandonmentDetector struct {
	Sessions repository.SessionRepositoryInterface
	Queue    Enqueuer
	Events   queue.Queue
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	Clock    Clock
}

// Check flips a still-active session to abandoned and queues attempt #1.
// The flip is a conditional update, so a checkout that completed in the
// meantime always wins. A session that was already marked abandoned through
// the API still gets its attempt #1.
func (d *AbandonmentDetector) Check(ctx context.Context, cfg model.RecoveryConfig, sch *model.RecoverySchedule) (Outcome, error) {
	now := d.Clock.now()
	changed, err := d.Sessions.Transition(ctx, sch.CartSessionID, model.SessionAbandoned, now, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("mark session abandoned: %w", err)
	}
	if !changed {
		s, err := d.Sessions.GetByID(ctx, sch.CartSessionID)
		if err != nil {
			return Outcome{}, fmt.Errorf("load session: %w", err)
		}
		if s.Status != model.SessionAbandoned {
			return Outcome{Note: NoteSessionNotActive}, nil
		}
		if cfg.MaxAttempts < 1 {
			return Outcome{Note: NoteAlreadyAbandoned}, nil
		}
		if err := d.queueFirstAttempt(ctx, cfg, sch.CartSessionID); err != nil {
			return Outcome{}, err
		}
		return Outcome{Note: NoteAlreadyAbandoned}, nil
	}

	d.Metrics.SessionTransitioned(string(model.SessionAbandoned))
	d.Log.Info().Int(logging.CART_SESSION, sch.CartSessionID).Msg("cart session abandoned")
	publish(d.Events, d.Log, queue.Event{
		Type:          queue.TopicSessionAbandoned,
		CartSessionID: sch.CartSessionID,
		Status:        string(model.SessionAbandoned),
		OccurredAt:    now,
	})

	if cfg.MaxAttempts < 1 {
		return Outcome{Note: NoteNoAttemptsConfigured}, nil
	}
	if err := d.queueFirstAttempt(ctx, cfg, sch.CartSessionID); err != nil {
		return Outcome{}, err
	}
	return Outcome{Note: NoteSessionAbandoned}, nil
}

func (d *AbandonmentDetector) queueFirstAttempt(ctx context.Context, cfg model.RecoveryConfig, cartSessionID int) error {
	if _, err := d.Queue.Enqueue(ctx, cartSessionID, 1, cfg.Delay()); err != nil {
		return fmt.Errorf("queue attempt 1: %w", err)
	}
	return nil
}
