package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/cart-recovery-service/internal/db"
	appErrors "github.com/unclebandit/cart-recovery-service/internal/errors"
	"github.com/unclebandit/cart-recovery-service/internal/model"
)

type SessionFilter struct {
	Status       model.SessionStatus
	StartDate    *time.Time
	EndDate      *time.Time
	Email        string
	WhatsApp     string
	CreatedAfter *time.Time
	Limit        int
	Offset       int
}

type SessionRepositoryInterface interface {
	Create(ctx context.Context, s *model.CartSession) error
	// CreateWithCheck inserts the session and, when check is non-nil, its
	// attempt 0 schedule in one transaction. Either both rows exist or
	// neither does.
	CreateWithCheck(ctx context.Context, s *model.CartSession, check *model.RecoverySchedule) error
	GetByID(ctx context.Context, id int) (*model.CartSession, error)
	GetBySessionID(ctx context.Context, sessionID string) (*model.CartSession, error)
	// Transition moves a session to status `to` only if its current status
	// allows it. It reports whether a row changed.
	Transition(ctx context.Context, id int, to model.SessionStatus, at time.Time, metadata json.RawMessage) (bool, error)
	List(ctx context.Context, f SessionFilter) ([]*model.CartSession, int, error)
	// ExpireAbandoned expires abandoned sessions older than `before` that have
	// nothing left pending.
	ExpireAbandoned(ctx context.Context, before, now time.Time) (int64, error)
}

type SessionRepository struct {
	DB *sql.DB
}

const sessionColumns = `id, session_id, user_name, user_email, user_whatsapp, amount, frequency, plan_id,
        status, metadata, created_at, abandoned_at, completed_at, converted_at, expired_at`

var statusTimestampColumn = map[model.SessionStatus]string{
	model.SessionAbandoned: "abandoned_at",
	model.SessionCompleted: "completed_at",
	model.SessionConverted: "converted_at",
	model.SessionExpired:   "expired_at",
}

const insertSession = `
        INSERT INTO cart_sessions (session_id, user_name, user_email, user_whatsapp, amount, frequency, plan_id, status, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
        RETURNING id
    `

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func insertSessionRow(ctx context.Context, q queryRower, s *model.CartSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.Status == "" {
		s.Status = model.SessionActive
	}
	err := q.QueryRowContext(ctx, insertSession,
		s.SessionID, s.UserName, s.UserEmail, s.UserWhatsApp, s.Amount, s.Frequency,
		s.PlanID, s.Status, jsonArg(s.Metadata), s.CreatedAt,
	).Scan(&s.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("cart session %s: %w", s.SessionID, appErrors.ErrDuplicate)
		}
		return err
	}
	return nil
}

func (r *SessionRepository) Create(ctx context.Context, s *model.CartSession) error {
	return insertSessionRow(ctx, r.DB, s)
}

func (r *SessionRepository) CreateWithCheck(ctx context.Context, s *model.CartSession, check *model.RecoverySchedule) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertSessionRow(ctx, tx, s); err != nil {
		return err
	}
	if check != nil {
		check.CartSessionID = s.ID
		if check.Status == "" {
			check.Status = model.SchedulePending
		}
		err := tx.QueryRowContext(ctx, `
            INSERT INTO recovery_schedules (cart_session_id, attempt_number, scheduled_at, status)
            VALUES ($1, $2, $3, $4)
            RETURNING id
        `, check.CartSessionID, check.AttemptNumber, check.ScheduledAt, check.Status).Scan(&check.ID)
		if err != nil {
			return fmt.Errorf("insert abandonment check: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id int) (*model.CartSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM cart_sessions WHERE id=$1`
	s, err := scanSession(r.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewSessionNotFound(fmt.Sprintf("#%d", id))
	}
	return s, err
}

func (r *SessionRepository) GetBySessionID(ctx context.Context, sessionID string) (*model.CartSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM cart_sessions WHERE session_id=$1`
	s, err := scanSession(r.DB.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewSessionNotFound(sessionID)
	}
	return s, err
}

func (r *SessionRepository) Transition(ctx context.Context, id int, to model.SessionStatus, at time.Time, metadata json.RawMessage) (bool, error) {
	column, ok := statusTimestampColumn[to]
	if !ok {
		return false, fmt.Errorf("no transition into status %s", to)
	}
	from := model.SourcesFor(to)
	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}

	query := fmt.Sprintf(`
        UPDATE cart_sessions
        SET status=$1, %s=$2, metadata=COALESCE($3::jsonb, metadata)
        WHERE id=$4 AND status = ANY($5)
    `, column)
	res, err := r.DB.ExecContext(ctx, query, to, at, jsonArg(metadata), id, pq.Array(sources))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SessionRepository) List(ctx context.Context, f SessionFilter) ([]*model.CartSession, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if f.Status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, f.Status)
		argPos++
	}
	if f.StartDate != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, *f.StartDate)
		argPos++
	}
	if f.EndDate != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argPos)
		args = append(args, *f.EndDate)
		argPos++
	}
	if f.CreatedAfter != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, *f.CreatedAfter)
		argPos++
	}
	if f.Email != "" {
		where += fmt.Sprintf(" AND user_email ILIKE '%%' || $%d || '%%'", argPos)
		args = append(args, f.Email)
		argPos++
	}
	if f.WhatsApp != "" {
		where += fmt.Sprintf(" AND user_whatsapp ILIKE '%%' || $%d || '%%'", argPos)
		args = append(args, f.WhatsApp)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM cart_sessions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + sessionColumns + ` FROM cart_sessions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sessions := []*model.CartSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

func (r *SessionRepository) ExpireAbandoned(ctx context.Context, before, now time.Time) (int64, error) {
	query := `
        UPDATE cart_sessions s
        SET status='expired', expired_at=$1
        WHERE s.status='abandoned' AND s.abandoned_at < $2
          AND NOT EXISTS (
              SELECT 1 FROM recovery_schedules rs
              WHERE rs.cart_session_id = s.id AND rs.status IN ('pending', 'processing')
          )
    `
	res, err := r.DB.ExecContext(ctx, query, now, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*model.CartSession, error) {
	var s model.CartSession
	var metadata []byte
	err := row.Scan(
		&s.ID, &s.SessionID, &s.UserName, &s.UserEmail, &s.UserWhatsApp, &s.Amount, &s.Frequency, &s.PlanID,
		&s.Status, &metadata, &s.CreatedAt, &s.AbandonedAt, &s.CompletedAt, &s.ConvertedAt, &s.ExpiredAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		s.Metadata = json.RawMessage(metadata)
	}
	return &s, nil
}

// jsonArg maps empty JSON to SQL NULL.
func jsonArg(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

var _ SessionRepositoryInterface = (*SessionRepository)(nil)
