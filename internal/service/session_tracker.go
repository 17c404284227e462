package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/cart-recovery-service/internal/errors"
	"github.com/unclebandit/cart-recovery-service/internal/logging"
	"github.com/unclebandit/cart-recovery-service/internal/metrics"
	"github.com/unclebandit/cart-recovery-service/internal/model"
	"github.com/unclebandit/cart-recovery-service/internal/queue"
	"github.com/unclebandit/cart-recovery-service/internal/repository"
)

type CreateSessionInput struct {
	SessionID    string          `json:"session_id"`
	UserName     string          `json:"user_name"`
	UserEmail    string          `json:"user_email"`
	UserWhatsApp string          `json:"user_whatsapp"`
	Amount       float64         `json:"amount"`
	Frequency    string          `json:"frequency"`
	PlanID       *int            `json:"plan_id,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

func (in CreateSessionInput) validate() error {
	required := []struct{ field, value string }{
		{"user_name", in.UserName},
		{"user_email", in.UserEmail},
		{"user_whatsapp", in.UserWhatsApp},
		{"frequency", in.Frequency},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return appErrors.NewValidation(r.field, "is required")
		}
	}
	if in.Amount <= 0 {
		return appErrors.NewValidation("amount", "must be positive")
	}
	if len(in.Metadata) > 0 && !json.Valid(in.Metadata) {
		return appErrors.NewValidation("metadata", "must be valid JSON")
	}
	return nil
}

// SessionTracker records checkout attempts and moves them between statuses.
type SessionTracker struct {
	Sessions repository.SessionRepositoryInterface
	Attempts repository.AttemptRepositoryInterface
	Config   ConfigSource
	Events   queue.Queue
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	Clock    Clock
}

// CreateSession stores an active session and, when recovery is enabled,
// its abandonment check due delay_minutes after created_at. Both rows are
// written together. The returned schedule is nil when recovery is disabled.
func (t *SessionTracker) CreateSession(ctx context.Context, in CreateSessionInput) (*model.CartSession, *model.RecoverySchedule, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	cfg, err := t.Config.GetConfig(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load recovery config: %w", err)
	}

	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s := &model.CartSession{
		SessionID:    sessionID,
		UserName:     strings.TrimSpace(in.UserName),
		UserEmail:    strings.TrimSpace(in.UserEmail),
		UserWhatsApp: strings.TrimSpace(in.UserWhatsApp),
		Amount:       round2(in.Amount),
		Frequency:    in.Frequency,
		PlanID:       in.PlanID,
		Status:       model.SessionActive,
		Metadata:     in.Metadata,
		CreatedAt:    t.Clock.now(),
	}

	var check *model.RecoverySchedule
	if cfg.Enabled {
		check = &model.RecoverySchedule{
			AttemptNumber: model.AbandonmentCheck,
			ScheduledAt:   s.CreatedAt.Add(cfg.Delay()),
			Status:        model.SchedulePending,
		}
	}
	if err := t.Sessions.CreateWithCheck(ctx, s, check); err != nil {
		return nil, nil, err
	}
	t.Metrics.SessionTransitioned(string(model.SessionActive))

	log := t.Log.With().Str(logging.SESSION, s.SessionID).Logger()
	if check == nil {
		log.Info().Msg("recovery disabled, session tracked without abandonment check")
		return s, nil, nil
	}
	log.Info().Time("check_at", check.ScheduledAt).Msg("cart session tracked")
	return s, check, nil
}

func (t *SessionTracker) GetSession(ctx context.Context, sessionID string) (*model.CartSession, error) {
	return t.Sessions.GetBySessionID(ctx, sessionID)
}

// UpdateStatus applies an allowed status change. Asking for the status the
// session already has is a no-op.
func (t *SessionTracker) UpdateStatus(ctx context.Context, sessionID string, to model.SessionStatus, metadata json.RawMessage) (*model.CartSession, error) {
	if !to.Valid() {
		return nil, appErrors.NewValidation("status", fmt.Sprintf("unknown status %q", to))
	}
	if len(metadata) > 0 && !json.Valid(metadata) {
		return nil, appErrors.NewValidation("metadata", "must be valid JSON")
	}

	s, err := t.Sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status == to {
		return s, nil
	}
	if !model.CanTransition(s.Status, to) {
		return nil, appErrors.NewInvalidTransition(string(s.Status), string(to))
	}

	changed, err := t.Sessions.Transition(ctx, s.ID, to, t.Clock.now(), metadata)
	if err != nil {
		return nil, err
	}

	updated, err := t.Sessions.GetByID(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	if !changed {
		// lost a race with another writer
		if updated.Status == to {
			return updated, nil
		}
		return nil, appErrors.NewInvalidTransition(string(updated.Status), string(to))
	}

	t.Metrics.SessionTransitioned(string(to))
	t.Log.Info().Str(logging.SESSION, sessionID).Str("from", string(s.Status)).Str("to", string(to)).Msg("cart session status changed")

	if to == model.SessionConverted {
		if err := t.Attempts.MarkLatestConverted(ctx, s.ID); err != nil {
			t.Log.Warn().Err(err).Str(logging.SESSION, sessionID).Msg("failed to flag converting attempt")
		}
		publish(t.Events, t.Log, queue.Event{
			Type:          queue.TopicSessionConverted,
			SessionID:     sessionID,
			CartSessionID: s.ID,
			Status:        string(to),
			OccurredAt:    t.Clock.now(),
		})
	}
	return updated, nil
}
