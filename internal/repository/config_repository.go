package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/unclebandit/cart-recovery-service/internal/model"
)

// DefaultRecoveryConfig applies when the config row has not been created yet.
// Recovery stays off until an operator turns it on.
var DefaultRecoveryConfig = model.RecoveryConfig{
	Enabled:          false,
	WhatsAppEnabled:  true,
	DelayMinutes:     30,
	MaxAttempts:      3,
	ExpireAfterHours: 168,
}

type ConfigRepositoryInterface interface {
	GetConfig(ctx context.Context) (model.RecoveryConfig, error)
	ListTemplates(ctx context.Context, onlyActive bool) ([]model.RecoveryTemplate, error)
	// TemplateForAttempt returns nil when no active template matches.
	TemplateForAttempt(ctx context.Context, templateType string, attempt int) (*model.RecoveryTemplate, error)
	GetPlan(ctx context.Context, id int) (*model.Plan, error)
}

type ConfigRepository struct {
	DB *sql.DB
}

func (r *ConfigRepository) GetConfig(ctx context.Context) (model.RecoveryConfig, error) {
	query := `
        SELECT enabled, whatsapp_enabled, delay_minutes, max_attempts, checkout_base_url, expire_after_hours
        FROM recovery_config WHERE id=1
    `
	var c model.RecoveryConfig
	err := r.DB.QueryRowContext(ctx, query).Scan(
		&c.Enabled, &c.WhatsAppEnabled, &c.DelayMinutes, &c.MaxAttempts, &c.CheckoutBaseURL, &c.ExpireAfterHours,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultRecoveryConfig, nil
	}
	if err != nil {
		return model.RecoveryConfig{}, err
	}
	return c, nil
}

func (r *ConfigRepository) ListTemplates(ctx context.Context, onlyActive bool) ([]model.RecoveryTemplate, error) {
	query := `SELECT id, name, type, attempt_number, content, is_active FROM recovery_templates`
	if onlyActive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY attempt_number, id`

	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []model.RecoveryTemplate{}
	for rows.Next() {
		var t model.RecoveryTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Type, &t.AttemptNumber, &t.Content, &t.IsActive); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (r *ConfigRepository) TemplateForAttempt(ctx context.Context, templateType string, attempt int) (*model.RecoveryTemplate, error) {
	query := `
        SELECT id, name, type, attempt_number, content, is_active
        FROM recovery_templates
        WHERE type=$1 AND attempt_number=$2 AND is_active
        ORDER BY id
        LIMIT 1
    `
	var t model.RecoveryTemplate
	err := r.DB.QueryRowContext(ctx, query, templateType, attempt).Scan(&t.ID, &t.Name, &t.Type, &t.AttemptNumber, &t.Content, &t.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *ConfigRepository) GetPlan(ctx context.Context, id int) (*model.Plan, error) {
	var p model.Plan
	err := r.DB.QueryRowContext(ctx, `SELECT id, name, price FROM plans WHERE id=$1`, id).Scan(&p.ID, &p.Name, &p.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

var _ ConfigRepositoryInterface = (*ConfigRepository)(nil)
