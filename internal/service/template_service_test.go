package service_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/cart-recovery-service/internal/model"
	"github.com/unclebandit/cart-recovery-service/internal/service"
)

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     map[string]string
		expected string
	}{
		{
			name:     "all tokens",
			template: "Hi {{user_name}}, {{plan_name}} for R$ {{amount}}",
			data:     map[string]string{"user_name": "Ana", "plan_name": "Basic", "amount": "49.90"},
			expected: "Hi Ana, Basic for R$ 49.90",
		},
		{
			name:     "spaces inside braces",
			template: "{{ user_name }}!",
			data:     map[string]string{"user_name": "Ana"},
			expected: "Ana!",
		},
		{
			name:     "unknown token left alone",
			template: "{{user_name}} {{coupon}}",
			data:     map[string]string{"user_name": "Ana"},
			expected: "Ana {{coupon}}",
		},
		{
			name:     "repeated token",
			template: "{{amount}}/{{amount}}",
			data:     map[string]string{"amount": "10.00"},
			expected: "10.00/10.00",
		},
		{
			name:     "single braces untouched",
			template: "{user_name}",
			data:     map[string]string{"user_name": "Ana"},
			expected: "{user_name}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, service.RenderTemplate(tt.template, tt.data))
		})
	}
}

func TestDiscountAndFinalAmounts(t *testing.T) {
	tests := []struct {
		amount   float64
		discount float64
		final    float64
	}{
		{100, 90, 85},
		{50, 45, 42.50},
		{19.99, 17.99, 16.99},
		{0.01, 0.01, 0.01},
		{1234.56, 1111.10, 1049.38},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f", tt.amount), func(t *testing.T) {
			assert.InDelta(t, tt.discount, service.DiscountAmount(tt.amount), 0.0001)
			assert.InDelta(t, tt.final, service.FinalAmount(tt.amount), 0.0001)
		})
	}
	assert.Equal(t, "90.00", service.FormatMoney(service.DiscountAmount(100)))
}

func TestCheckoutURL(t *testing.T) {
	assert.Equal(t, "", service.CheckoutURL("", "abc"))
	assert.Equal(t, "https://x.test/checkout?session=abc", service.CheckoutURL("https://x.test/checkout", "abc"))
	assert.Equal(t, "https://x.test/c?plan=2&session=abc", service.CheckoutURL("https://x.test/c?plan=2", "abc"))
}

func TestDefaultTemplatesRenderCompletely(t *testing.T) {
	s := &model.CartSession{SessionID: "abc", UserName: "Ana", Amount: 100, Frequency: "monthly"}
	cfg := model.RecoveryConfig{CheckoutBaseURL: "https://x.test/checkout"}
	vars := service.RecoveryVariables(s, nil, cfg)

	assert.Equal(t, "your plan", vars["plan_name"])
	assert.Len(t, vars, 8)

	for attempt := 1; attempt <= 5; attempt++ {
		out := service.RenderTemplate(service.DefaultTemplate(attempt), vars)
		assert.NotContains(t, out, "{{", "attempt %d", attempt)
		assert.Contains(t, out, "Ana")
	}
}
