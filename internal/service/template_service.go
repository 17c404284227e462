// internal/service/template_service.go
package service

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"

	"github.com/unclebandit/cart-recovery-service/internal/model"
)

const (
	discountRate = 0.90
	finalRate    = 0.85

	defaultPlanName = "your plan"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// RenderTemplate replaces {{key}} tokens with data[key]. Tokens without a
// value in data are left as they are.
func RenderTemplate(template string, data map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		key := placeholderPattern.FindStringSubmatch(token)[1]
		if v, ok := data[key]; ok {
			return v
		}
		return token
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func FormatMoney(v float64) string {
	return strconv.FormatFloat(round2(v), 'f', 2, 64)
}

func DiscountAmount(amount float64) float64 {
	return round2(amount * discountRate)
}

func FinalAmount(amount float64) float64 {
	return round2(amount * finalRate)
}

// CheckoutURL points the user back at the checkout for their session.
func CheckoutURL(base, sessionID string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}

// RecoveryVariables is the fixed variable set available to recovery templates.
func RecoveryVariables(s *model.CartSession, plan *model.Plan, cfg model.RecoveryConfig) map[string]string {
	planName := defaultPlanName
	if plan != nil && plan.Name != "" {
		planName = plan.Name
	}
	return map[string]string{
		"user_name":       s.UserName,
		"plan_name":       planName,
		"amount":          FormatMoney(s.Amount),
		"frequency":       s.Frequency,
		"original_amount": FormatMoney(s.Amount),
		"discount_amount": FormatMoney(DiscountAmount(s.Amount)),
		"final_amount":    FormatMoney(FinalAmount(s.Amount)),
		"checkout_url":    CheckoutURL(cfg.CheckoutBaseURL, s.SessionID),
	}
}

// DefaultTemplate is used when no active template exists for an attempt.
func DefaultTemplate(attempt int) string {
	switch attempt {
	case 1:
		return "Hi {{user_name}}! Your {{plan_name}} subscription ({{frequency}}) for R$ {{amount}} is waiting for you: {{checkout_url}}"
	case 2:
		return "{{user_name}}, still thinking it over? Get {{plan_name}} for R$ {{discount_amount}} instead of R$ {{original_amount}}: {{checkout_url}}"
	default:
		return fmt.Sprintf("Last call (%d), {{user_name}}: {{plan_name}} for R$ {{final_amount}}. {{checkout_url}}", attempt)
	}
}
