// internal/handler/recovery_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/cart-recovery-service/internal/auth"
	appErrors "github.com/unclebandit/cart-recovery-service/internal/errors"
	"github.com/unclebandit/cart-recovery-service/internal/logging"
	"github.com/unclebandit/cart-recovery-service/internal/model"
	"github.com/unclebandit/cart-recovery-service/internal/repository"
	"github.com/unclebandit/cart-recovery-service/internal/service"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	dateOnly = "2006-01-02"
)

// RecoveryHandler serves the external cart recovery API.
type RecoveryHandler struct {
	Recovery *service.RecoveryService
	Tracker  *service.SessionTracker
	Log      zerolog.Logger
	Now      func() time.Time
}

// actor names the API client that made r.
func actor(r *http.Request) string {
	if c := auth.ClientFrom(r.Context()); c != nil {
		return c.Name
	}
	return "anonymous"
}

func (h *RecoveryHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// ListAbandoned returns filtered sessions with their attempts nested.
func (h *RecoveryHandler) ListAbandoned(w http.ResponseWriter, r *http.Request) {
	filter, echo, err := h.parseFilter(r)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}

	sessions, total, err := h.Recovery.ListSessions(r.Context(), filter)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}

	pagination := map[string]interface{}{
		"limit":       filter.Limit,
		"offset":      filter.Offset,
		"total_count": total,
		"has_more":    filter.Offset+len(sessions) < total,
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"data":        sessions,
		"count":       len(sessions),
		"total_count": total,
		"pagination":  pagination,
		"filters":     echo,
	})
}

func (h *RecoveryHandler) parseFilter(r *http.Request) (repository.SessionFilter, map[string]interface{}, error) {
	q := r.URL.Query()
	f := repository.SessionFilter{Limit: defaultLimit}
	echo := map[string]interface{}{}

	status := q.Get("status")
	switch status {
	case "":
		f.Status = model.SessionAbandoned
	case "all":
	default:
		f.Status = model.SessionStatus(status)
		if !f.Status.Valid() {
			return f, nil, appErrors.NewValidation("status", "unknown status "+status)
		}
	}
	echo["status"] = string(f.Status)

	if v := q.Get("start_date"); v != "" {
		t, err := parseDate(v, false)
		if err != nil {
			return f, nil, appErrors.NewValidation("start_date", "expected RFC3339 or YYYY-MM-DD")
		}
		f.StartDate = &t
		echo["start_date"] = v
	}
	if v := q.Get("end_date"); v != "" {
		t, err := parseDate(v, true)
		if err != nil {
			return f, nil, appErrors.NewValidation("end_date", "expected RFC3339 or YYYY-MM-DD")
		}
		f.EndDate = &t
		echo["end_date"] = v
	}
	if v := strings.TrimSpace(q.Get("email")); v != "" {
		f.Email = v
		echo["email"] = v
	}
	if v := strings.TrimSpace(q.Get("whatsapp")); v != "" {
		f.WhatsApp = v
		echo["whatsapp"] = v
	}
	if v := q.Get("minutes"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m <= 0 {
			return f, nil, appErrors.NewValidation("minutes", "must be a positive integer")
		}
		after := h.now().Add(-time.Duration(m) * time.Minute)
		f.CreatedAfter = &after
		echo["minutes"] = m
	}
	if v := q.Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 {
			return f, nil, appErrors.NewValidation("limit", "must be a positive integer")
		}
		if l > maxLimit {
			l = maxLimit
		}
		f.Limit = l
	}
	if v := q.Get("offset"); v != "" {
		o, err := strconv.Atoi(v)
		if err != nil || o < 0 {
			return f, nil, appErrors.NewValidation("offset", "must be zero or a positive integer")
		}
		f.Offset = o
	}
	return f, echo, nil
}

// parseDate accepts RFC3339 or a bare date. A bare end date covers the
// whole day.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateOnly, v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// GetConfig returns the recovery config, active templates and gateway settings.
func (h *RecoveryHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	overview, err := h.Recovery.Overview(r.Context())
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    overview,
	})
}

// UpdateSession changes a session's status.
func (h *RecoveryHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string          `json:"sessionId"`
		Status    string          `json:"status"`
		Metadata  json.RawMessage `json:"metadata,omitempty"`
	}
	if err := DecodeBody(r, &payload); err != nil {
		WriteError(w, h.Log, err)
		return
	}
	if payload.SessionID == "" {
		WriteError(w, h.Log, appErrors.NewValidation("sessionId", "is required"))
		return
	}
	if payload.Status == "" {
		WriteError(w, h.Log, appErrors.NewValidation("status", "is required"))
		return
	}
	if string(payload.Metadata) == "null" {
		payload.Metadata = nil
	}

	s, err := h.Tracker.UpdateStatus(r.Context(), payload.SessionID, model.SessionStatus(payload.Status), payload.Metadata)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	h.Log.Info().
		Str(logging.ACTOR, actor(r)).
		Str(logging.SESSION, s.SessionID).
		Str("status", string(s.Status)).
		Msg("session updated")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    s,
	})
}

// RecordAttempt stores an attempt made by an outside sender.
func (h *RecoveryHandler) RecordAttempt(w http.ResponseWriter, r *http.Request) {
	var payload service.RecordAttemptInput
	if err := DecodeBody(r, &payload); err != nil {
		WriteError(w, h.Log, err)
		return
	}
	a, err := h.Recovery.RecordAttempt(r.Context(), payload)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	h.Log.Info().
		Str(logging.ACTOR, actor(r)).
		Str(logging.SESSION, payload.SessionID).
		Int(logging.ATTEMPT, a.AttemptNumber).
		Msg("attempt recorded")
	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    a,
	})
}

// CreateSession tracks a new checkout.
func (h *RecoveryHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var payload service.CreateSessionInput
	if err := DecodeBody(r, &payload); err != nil {
		WriteError(w, h.Log, err)
		return
	}
	s, sch, err := h.Tracker.CreateSession(r.Context(), payload)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"session":  s,
			"schedule": sch,
		},
	})
}
