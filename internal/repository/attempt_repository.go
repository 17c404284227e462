package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/cart-recovery-service/internal/model"
)

type AttemptRepositoryInterface interface {
	Create(ctx context.Context, a *model.RecoveryAttempt) error
	MarkSent(ctx context.Context, id int, externalID string, at time.Time) error
	MarkFailed(ctx context.Context, id int, errMsg string) error
	// ListBySessions groups attempts by cart session id.
	ListBySessions(ctx context.Context, cartSessionIDs []int) (map[int][]model.RecoveryAttempt, error)
	// MarkLatestConverted flags the most recent dispatched attempt of a session.
	MarkLatestConverted(ctx context.Context, cartSessionID int) error
}

type AttemptRepository struct {
	DB *sql.DB
}

const attemptColumns = `id, cart_session_id, attempt_number, method, status, message_content, sent_at, error_message, external_message_id, created_at`

func (r *AttemptRepository) Create(ctx context.Context, a *model.RecoveryAttempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Status == "" {
		a.Status = model.AttemptPending
	}
	query := `
        INSERT INTO recovery_attempts
        (cart_session_id, attempt_number, method, status, message_content, sent_at, error_message, external_message_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		a.CartSessionID, a.AttemptNumber, a.Method, a.Status, a.MessageContent,
		a.SentAt, a.ErrorMessage, a.ExternalMessageID, a.CreatedAt,
	).Scan(&a.ID)
}

func (r *AttemptRepository) MarkSent(ctx context.Context, id int, externalID string, at time.Time) error {
	query := `UPDATE recovery_attempts SET status='sent', external_message_id=$1, sent_at=$2 WHERE id=$3`
	_, err := r.DB.ExecContext(ctx, query, externalID, at, id)
	return err
}

func (r *AttemptRepository) MarkFailed(ctx context.Context, id int, errMsg string) error {
	query := `UPDATE recovery_attempts SET status='failed', error_message=$1 WHERE id=$2`
	_, err := r.DB.ExecContext(ctx, query, errMsg, id)
	return err
}

func (r *AttemptRepository) ListBySessions(ctx context.Context, cartSessionIDs []int) (map[int][]model.RecoveryAttempt, error) {
	grouped := make(map[int][]model.RecoveryAttempt)
	if len(cartSessionIDs) == 0 {
		return grouped, nil
	}

	ids := make([]int64, len(cartSessionIDs))
	for i, id := range cartSessionIDs {
		ids[i] = int64(id)
	}

	query := `SELECT ` + attemptColumns + ` FROM recovery_attempts WHERE cart_session_id = ANY($1) ORDER BY cart_session_id, attempt_number, id`
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var a model.RecoveryAttempt
		if err := rows.Scan(
			&a.ID, &a.CartSessionID, &a.AttemptNumber, &a.Method, &a.Status, &a.MessageContent,
			&a.SentAt, &a.ErrorMessage, &a.ExternalMessageID, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		grouped[a.CartSessionID] = append(grouped[a.CartSessionID], a)
	}
	return grouped, rows.Err()
}

func (r *AttemptRepository) MarkLatestConverted(ctx context.Context, cartSessionID int) error {
	query := `
        UPDATE recovery_attempts SET status='converted'
        WHERE id = (
            SELECT id FROM recovery_attempts
            WHERE cart_session_id=$1 AND status IN ('sent', 'delivered', 'read')
            ORDER BY attempt_number DESC, id DESC
            LIMIT 1
        )
    `
	_, err := r.DB.ExecContext(ctx, query, cartSessionID)
	return err
}

var _ AttemptRepositoryInterface = (*AttemptRepository)(nil)
