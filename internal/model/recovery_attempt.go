// internal/model/recovery_attempt.go
package model

import "time"

type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptSent      AttemptStatus = "sent"
	AttemptDelivered AttemptStatus = "delivered"
	AttemptRead      AttemptStatus = "read"
	AttemptFailed    AttemptStatus = "failed"
	AttemptConverted AttemptStatus = "converted"
)

func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptPending, AttemptSent, AttemptDelivered, AttemptRead, AttemptFailed, AttemptConverted:
		return true
	}
	return false
}

// Dispatched reports whether a message actually left for the recipient.
func (s AttemptStatus) Dispatched() bool {
	return s == AttemptSent || s == AttemptDelivered || s == AttemptRead || s == AttemptConverted
}

const MethodWhatsApp = "whatsapp"

type RecoveryAttempt struct {
	ID                int           `db:"id" json:"id"`
	CartSessionID     int           `db:"cart_session_id" json:"cart_session_id"`
	AttemptNumber     int           `db:"attempt_number" json:"attempt_number"`
	Method            string        `db:"method" json:"method"`
	Status            AttemptStatus `db:"status" json:"status"`
	MessageContent    string        `db:"message_content" json:"message_content"`
	SentAt            *time.Time    `db:"sent_at" json:"sent_at,omitempty"`
	ErrorMessage      string        `db:"error_message" json:"error_message,omitempty"`
	ExternalMessageID string        `db:"external_message_id" json:"external_message_id,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
}
