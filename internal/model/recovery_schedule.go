// internal/model/recovery_schedule.go
package model

import "time"

type ScheduleStatus string

const (
	SchedulePending    ScheduleStatus = "pending"
	ScheduleProcessing ScheduleStatus = "processing"
	ScheduleCompleted  ScheduleStatus = "completed"
	ScheduleFailed     ScheduleStatus = "failed"
)

// AbandonmentCheck is the attempt number of the schedule that decides
// whether a session was abandoned. Message attempts start at 1.
const AbandonmentCheck = 0

type RecoverySchedule struct {
	ID            int            `db:"id" json:"id"`
	CartSessionID int            `db:"cart_session_id" json:"cart_session_id"`
	AttemptNumber int            `db:"attempt_number" json:"attempt_number"`
	ScheduledAt   time.Time      `db:"scheduled_at" json:"scheduled_at"`
	Status        ScheduleStatus `db:"status" json:"status"`
	ClaimedAt     *time.Time     `db:"claimed_at" json:"claimed_at,omitempty"`
	ProcessedAt   *time.Time     `db:"processed_at" json:"processed_at,omitempty"`
	ErrorMessage  string         `db:"error_message" json:"error_message,omitempty"`
}
