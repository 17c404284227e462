package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sender delivers a text message and returns the gateway's message id.
type Sender interface {
	SendText(ctx context.Context, number, text string) (string, error)
}

// GatewayError is a non-2xx reply. Body is kept verbatim so operators can
// read it from the attempt row.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Body)
}

type WhatsAppClient struct {
	baseURL  string
	apiKey   string
	instance string
	http     *http.Client
}

func NewWhatsAppClient(baseURL, apiKey, instance string, timeout time.Duration) *WhatsAppClient {
	return &WhatsAppClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		instance: instance,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *WhatsAppClient) Configured() bool {
	return c.baseURL != "" && c.instance != ""
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendTextResponse struct {
	Status string `json:"status"`
	Key    struct {
		ID string `json:"id"`
	} `json:"key"`
}

func (c *WhatsAppClient) SendText(ctx context.Context, number, text string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("whatsapp gateway not configured")
	}

	body, err := json.Marshal(sendTextRequest{Number: NormalizeNumber(number), Text: text})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/message/sendText/%s", c.baseURL, url.PathEscape(c.instance))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read whatsapp response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &GatewayError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out sendTextResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode whatsapp response: %w", err)
	}
	if out.Key.ID == "" {
		// accepted without a message id, so delivery cannot be tracked
		return "", &GatewayError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return out.Key.ID, nil
}

// NormalizeNumber keeps digits only and prefixes the Brazilian country code
// to bare local numbers (DDD + 8 or 9 digits).
func NormalizeNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 || len(digits) == 11 {
		return "55" + digits
	}
	return digits
}
