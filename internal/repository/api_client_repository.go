package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/cart-recovery-service/internal/model"
)

type APIClientRepositoryInterface interface {
	Create(ctx context.Context, c *model.APIClient) error
	// GetActiveByTokenHash returns nil when no active client owns the hash.
	GetActiveByTokenHash(ctx context.Context, hash string) (*model.APIClient, error)
	TouchLastUsed(ctx context.Context, id int, at time.Time) error
	Deactivate(ctx context.Context, id int) (bool, error)
}

type APIClientRepository struct {
	DB *sql.DB
}

func (r *APIClientRepository) Create(ctx context.Context, c *model.APIClient) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.IsActive = true
	query := `
        INSERT INTO api_clients (name, token_hash, scopes, is_active, created_at)
        VALUES ($1, $2, $3, TRUE, $4)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, c.Name, c.TokenHash, pq.Array(scopeStrings(c.Scopes)), c.CreatedAt).Scan(&c.ID)
}

func (r *APIClientRepository) GetActiveByTokenHash(ctx context.Context, hash string) (*model.APIClient, error) {
	query := `
        SELECT id, name, token_hash, scopes, is_active, created_at, last_used_at
        FROM api_clients WHERE token_hash=$1 AND is_active
    `
	var c model.APIClient
	var scopes []string
	err := r.DB.QueryRowContext(ctx, query, hash).Scan(
		&c.ID, &c.Name, &c.TokenHash, pq.Array(&scopes), &c.IsActive, &c.CreatedAt, &c.LastUsedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, s := range scopes {
		c.Scopes = append(c.Scopes, model.Scope(s))
	}
	return &c, nil
}

func (r *APIClientRepository) TouchLastUsed(ctx context.Context, id int, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE api_clients SET last_used_at=$1 WHERE id=$2`, at, id)
	return err
}

func (r *APIClientRepository) Deactivate(ctx context.Context, id int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE api_clients SET is_active=FALSE WHERE id=$1 AND is_active`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scopeStrings(scopes []model.Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

var _ APIClientRepositoryInterface = (*APIClientRepository)(nil)
