package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/cart-recovery-service/internal/errors"
	"github.com/unclebandit/cart-recovery-service/internal/logging"
	"github.com/unclebandit/cart-recovery-service/internal/model"
	"github.com/unclebandit/cart-recovery-service/internal/repository"
)

// RecoveryService backs the read side of the external API and the
// attempt log written by outside callers.
type RecoveryService struct {
	Sessions  repository.SessionRepositoryInterface
	Attempts  repository.AttemptRepositoryInterface
	Templates repository.ConfigRepositoryInterface
	Config    ConfigSource
	WhatsApp  model.WhatsAppSettings
	Log       zerolog.Logger
	Clock     Clock
}

// ListSessions returns one page of sessions, each with its attempts nested.
func (r *RecoveryService) ListSessions(ctx context.Context, f repository.SessionFilter) ([]*model.CartSession, int, error) {
	sessions, total, err := r.Sessions.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	ids := make([]int, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	attempts, err := r.Attempts.ListBySessions(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, s := range sessions {
		s.Attempts = attempts[s.ID]
		if s.Attempts == nil {
			s.Attempts = []model.RecoveryAttempt{}
		}
	}
	return sessions, total, nil
}

type RecoveryOverview struct {
	Config           model.RecoveryConfig     `json:"config"`
	Templates        []model.RecoveryTemplate `json:"templates"`
	WhatsAppSettings model.WhatsAppSettings   `json:"whatsapp_settings"`
}

func (r *RecoveryService) Overview(ctx context.Context) (*RecoveryOverview, error) {
	cfg, err := r.Config.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recovery config: %w", err)
	}
	templates, err := r.Templates.ListTemplates(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	wa := r.WhatsApp
	wa.Enabled = cfg.WhatsAppEnabled
	return &RecoveryOverview{Config: cfg, Templates: templates, WhatsAppSettings: wa}, nil
}

type RecordAttemptInput struct {
	SessionID      string `json:"sessionId"`
	AttemptNumber  int    `json:"attemptNumber"`
	Method         string `json:"method"`
	Status         string `json:"status"`
	MessageContent string `json:"messageContent"`
	MessageID      string `json:"messageId,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}

// RecordAttempt stores an attempt reported by an outside sender.
func (r *RecoveryService) RecordAttempt(ctx context.Context, in RecordAttemptInput) (*model.RecoveryAttempt, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, appErrors.NewValidation("sessionId", "is required")
	}
	if in.AttemptNumber < 1 {
		return nil, appErrors.NewValidation("attemptNumber", "must be at least 1")
	}
	method := strings.TrimSpace(in.Method)
	if method == "" {
		method = model.MethodWhatsApp
	}
	status := model.AttemptStatus(in.Status)
	if status == "" {
		status = model.AttemptSent
	}
	if !status.Valid() {
		return nil, appErrors.NewValidation("status", fmt.Sprintf("unknown status %q", in.Status))
	}

	s, err := r.Sessions.GetBySessionID(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	now := r.Clock.now()
	a := &model.RecoveryAttempt{
		CartSessionID:     s.ID,
		AttemptNumber:     in.AttemptNumber,
		Method:            method,
		Status:            status,
		MessageContent:    in.MessageContent,
		ErrorMessage:      in.ErrorMessage,
		ExternalMessageID: in.MessageID,
		CreatedAt:         now,
	}
	if status.Dispatched() {
		a.SentAt = &now
	}
	if err := r.Attempts.Create(ctx, a); err != nil {
		return nil, err
	}
	r.Log.Info().Str(logging.SESSION, s.SessionID).Int(logging.ATTEMPT, a.AttemptNumber).Str("status", string(status)).Msg("external attempt recorded")
	return a, nil
}
