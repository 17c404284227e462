package repository

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/unclebandit/cart-recovery-service/internal/model"
)

type ScheduleRepositoryInterface interface {
	// Create is idempotent per (session, attempt): an existing row is returned
	// instead of inserting a second one.
	Create(ctx context.Context, s *model.RecoverySchedule) error
	// ClaimDue atomically moves up to limit due pending schedules to
	// processing and returns them ordered by scheduled_at.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.RecoverySchedule, error)
	MarkCompleted(ctx context.Context, id int, note string, at time.Time) error
	MarkFailed(ctx context.Context, id int, errMsg string, at time.Time) error
	// RequeueStale puts processing rows claimed before the cutoff back to pending.
	RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error)
	ListBySession(ctx context.Context, cartSessionID int) ([]*model.RecoverySchedule, error)
}

type ScheduleRepository struct {
	DB *sql.DB
}

const scheduleColumns = `id, cart_session_id, attempt_number, scheduled_at, status, claimed_at, processed_at, error_message`

func (r *ScheduleRepository) Create(ctx context.Context, s *model.RecoverySchedule) error {
	if s.Status == "" {
		s.Status = model.SchedulePending
	}
	query := `
        INSERT INTO recovery_schedules (cart_session_id, attempt_number, scheduled_at, status)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (cart_session_id, attempt_number) DO NOTHING
        RETURNING id
    `
	err := r.DB.QueryRowContext(ctx, query, s.CartSessionID, s.AttemptNumber, s.ScheduledAt, s.Status).Scan(&s.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	existing, err := scanSchedule(r.DB.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM recovery_schedules WHERE cart_session_id=$1 AND attempt_number=$2`,
		s.CartSessionID, s.AttemptNumber,
	))
	if err != nil {
		return err
	}
	*s = *existing
	return nil
}

func (r *ScheduleRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.RecoverySchedule, error) {
	query := `
        UPDATE recovery_schedules
        SET status='processing', claimed_at=$1
        WHERE id IN (
            SELECT id FROM recovery_schedules
            WHERE status='pending' AND scheduled_at <= $1
            ORDER BY scheduled_at ASC
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + scheduleColumns
	rows, err := r.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	claimed := []*model.RecoverySchedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING has no ordering guarantee
	sort.SliceStable(claimed, func(i, j int) bool {
		if claimed[i].ScheduledAt.Equal(claimed[j].ScheduledAt) {
			return claimed[i].ID < claimed[j].ID
		}
		return claimed[i].ScheduledAt.Before(claimed[j].ScheduledAt)
	})
	return claimed, nil
}

func (r *ScheduleRepository) MarkCompleted(ctx context.Context, id int, note string, at time.Time) error {
	return r.finish(ctx, id, model.ScheduleCompleted, note, at)
}

func (r *ScheduleRepository) MarkFailed(ctx context.Context, id int, errMsg string, at time.Time) error {
	return r.finish(ctx, id, model.ScheduleFailed, errMsg, at)
}

func (r *ScheduleRepository) finish(ctx context.Context, id int, status model.ScheduleStatus, msg string, at time.Time) error {
	query := `UPDATE recovery_schedules SET status=$1, error_message=$2, processed_at=$3 WHERE id=$4 AND status='processing'`
	_, err := r.DB.ExecContext(ctx, query, status, msg, at, id)
	return err
}

func (r *ScheduleRepository) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	query := `UPDATE recovery_schedules SET status='pending', claimed_at=NULL WHERE status='processing' AND claimed_at < $1`
	res, err := r.DB.ExecContext(ctx, query, claimedBefore)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ScheduleRepository) ListBySession(ctx context.Context, cartSessionID int) ([]*model.RecoverySchedule, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM recovery_schedules WHERE cart_session_id=$1 ORDER BY attempt_number`,
		cartSessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := []*model.RecoverySchedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func scanSchedule(row rowScanner) (*model.RecoverySchedule, error) {
	var s model.RecoverySchedule
	err := row.Scan(&s.ID, &s.CartSessionID, &s.AttemptNumber, &s.ScheduledAt, &s.Status, &s.ClaimedAt, &s.ProcessedAt, &s.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

var _ ScheduleRepositoryInterface = (*ScheduleRepository)(nil)
