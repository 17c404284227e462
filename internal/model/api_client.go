// internal/model/api_client.go
package model

import "time"

type Scope string

const (
	ScopeSessionsRead  Scope = "sessions:read"
	ScopeSessionsWrite Scope = "sessions:write"
	ScopeAttemptsWrite Scope = "attempts:write"
	ScopeConfigRead    Scope = "config:read"
	ScopePipelineRun   Scope = "pipeline:run"
)

var AllScopes = []Scope{
	ScopeSessionsRead,
	ScopeSessionsWrite,
	ScopeAttemptsWrite,
	ScopeConfigRead,
	ScopePipelineRun,
}

func (s Scope) Valid() bool {
	for _, known := range AllScopes {
		if s == known {
			return true
		}
	}
	return false
}

type APIClient struct {
	ID         int        `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	TokenHash  string     `db:"token_hash" json:"-"`
	Scopes     []Scope    `db:"scopes" json:"scopes"`
	IsActive   bool       `db:"is_active" json:"is_active"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
}

func (c *APIClient) HasScope(s Scope) bool {
	for _, granted := range c.Scopes {
		if granted == s {
			return true
		}
	}
	return false
}
