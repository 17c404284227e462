// internal/model/recovery_config.go
package model

import "time"

type RecoveryConfig struct {
	Enabled          bool   `db:"enabled" json:"enabled"`
	WhatsAppEnabled  bool   `db:"whatsapp_enabled" json:"whatsapp_enabled"`
	DelayMinutes     int    `db:"delay_minutes" json:"delay_minutes"`
	MaxAttempts      int    `db:"max_attempts" json:"max_attempts"`
	CheckoutBaseURL  string `db:"checkout_base_url" json:"checkout_base_url"`
	ExpireAfterHours int    `db:"expire_after_hours" json:"expire_after_hours"`
}

func (c RecoveryConfig) Delay() time.Duration {
	return time.Duration(c.DelayMinutes) * time.Minute
}

// ExpireAfter is zero when sessions never expire.
func (c RecoveryConfig) ExpireAfter() time.Duration {
	return time.Duration(c.ExpireAfterHours) * time.Hour
}

const TemplateTypeWhatsApp = "whatsapp"

type RecoveryTemplate struct {
	ID            int    `db:"id" json:"id"`
	Name          string `db:"name" json:"name"`
	Type          string `db:"type" json:"type"`
	AttemptNumber int    `db:"attempt_number" json:"attempt_number"`
	Content       string `db:"content" json:"content"`
	IsActive      bool   `db:"is_active" json:"is_active"`
}

// WhatsAppSettings is the gateway view exposed to API callers. The API key
// never leaves the process.
type WhatsAppSettings struct {
	Enabled    bool   `json:"enabled"`
	APIURL     string `json:"api_url"`
	Instance   string `json:"instance"`
	Configured bool   `json:"configured"`
}
