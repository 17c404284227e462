// internal/model/cart_session.go
package model

import (
	"encoding/json"
	"sort"
	"time"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionAbandoned SessionStatus = "abandoned"
	SessionCompleted SessionStatus = "completed"
	SessionConverted SessionStatus = "converted"
	SessionExpired   SessionStatus = "expired"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionActive:    {SessionAbandoned, SessionCompleted, SessionConverted, SessionExpired},
	SessionAbandoned: {SessionConverted, SessionCompleted, SessionExpired},
}

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionAbandoned, SessionCompleted, SessionConverted, SessionExpired:
		return true
	}
	return false
}

func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionConverted || s == SessionExpired
}

// SourcesFor lists, sorted, the statuses a session may be in for a move to
// target.
func SourcesFor(target SessionStatus) []SessionStatus {
	var from []SessionStatus
	for src, targets := range sessionTransitions {
		for _, t := range targets {
			if t == target {
				from = append(from, src)
			}
		}
	}
	sort.Slice(from, func(i, j int) bool { return from[i] < from[j] })
	return from
}

func CanTransition(from, to SessionStatus) bool {
	for _, t := range sessionTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

type CartSession struct {
	ID           int             `db:"id" json:"id"`
	SessionID    string          `db:"session_id" json:"session_id"`
	UserName     string          `db:"user_name" json:"user_name"`
	UserEmail    string          `db:"user_email" json:"user_email"`
	UserWhatsApp string          `db:"user_whatsapp" json:"user_whatsapp"`
	Amount       float64         `db:"amount" json:"amount"`
	Frequency    string          `db:"frequency" json:"frequency"`
	PlanID       *int            `db:"plan_id" json:"plan_id,omitempty"`
	Status       SessionStatus   `db:"status" json:"status"`
	Metadata     json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	AbandonedAt  *time.Time      `db:"abandoned_at" json:"abandoned_at,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	ConvertedAt  *time.Time      `db:"converted_at" json:"converted_at,omitempty"`
	ExpiredAt    *time.Time      `db:"expired_at" json:"expired_at,omitempty"`

	Attempts []RecoveryAttempt `db:"-" json:"attempts,omitempty"`
}

type Plan struct {
	ID    int     `db:"id" json:"id"`
	Name  string  `db:"name" json:"name"`
	Price float64 `db:"price" json:"price"`
}
