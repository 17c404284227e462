package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	TopicSessionAbandoned = "session.abandoned"
	TopicSessionConverted = "session.converted"
	TopicAttemptSent      = "attempt.sent"
	TopicAttemptFailed    = "attempt.failed"
	TopicDrainRequested   = "drain.requested"
)

// Event is what the pipeline publishes for downstream analytics.
type Event struct {
	Type          string    `json:"type"`
	SessionID     string    `json:"session_id,omitempty"`
	CartSessionID int       `json:"cart_session_id,omitempty"`
	AttemptNumber int       `json:"attempt_number,omitempty"`
	Status        string    `json:"status,omitempty"`
	Error         string    `json:"error,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// DecodeEvent accepts both in-process payloads and raw broker bodies.
func DecodeEvent(payload any) (Event, error) {
	switch p := payload.(type) {
	case Event:
		return p, nil
	case *Event:
		return *p, nil
	case []byte:
		var e Event
		if err := json.Unmarshal(p, &e); err != nil {
			return Event{}, fmt.Errorf("decode event: %w", err)
		}
		return e, nil
	}
	return Event{}, fmt.Errorf("unexpected payload type %T", payload)
}
