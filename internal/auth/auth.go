package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/cart-recovery-service/internal/model"
	"github.com/unclebandit/cart-recovery-service/internal/repository"
)

const tokenPrefix = "crk_"

type ctxKey struct{}

// HashToken is the form tokens are stored in. Plain tokens are never kept.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return tokenPrefix + hex.EncodeToString(buf), nil
}

// ParseScopes turns "a,b" or repeated flags into scopes, rejecting unknown ones.
func ParseScopes(raw []string) ([]model.Scope, error) {
	var scopes []model.Scope
	seen := map[model.Scope]bool{}
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			s := model.Scope(strings.TrimSpace(part))
			if s == "" || seen[s] {
				continue
			}
			if !s.Valid() {
				return nil, fmt.Errorf("unknown scope %q", s)
			}
			seen[s] = true
			scopes = append(scopes, s)
		}
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("at least one scope is required")
	}
	return scopes, nil
}

// Authenticator resolves bearer tokens to API clients.
type Authenticator struct {
	Clients repository.APIClientRepositoryInterface
	// BootstrapToken, when set, grants every scope. It exists so the first
	// real client can be issued before any row is in api_clients.
	BootstrapToken string
	Log            zerolog.Logger
}

// IssueClient stores a new client and returns it with its plain token. The
// token cannot be recovered later.
func (a *Authenticator) IssueClient(ctx context.Context, name string, scopes []model.Scope) (*model.APIClient, string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, "", fmt.Errorf("client name is required")
	}
	token, err := GenerateToken()
	if err != nil {
		return nil, "", err
	}
	c := &model.APIClient{Name: name, TokenHash: HashToken(token), Scopes: scopes}
	if err := a.Clients.Create(ctx, c); err != nil {
		return nil, "", fmt.Errorf("store client: %w", err)
	}
	return c, token, nil
}

func (a *Authenticator) authenticate(ctx context.Context, token string) (*model.APIClient, error) {
	if a.BootstrapToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.BootstrapToken)) == 1 {
		return &model.APIClient{Name: "bootstrap", Scopes: model.AllScopes, IsActive: true}, nil
	}
	if a.Clients == nil {
		return nil, nil
	}
	c, err := a.Clients.GetActiveByTokenHash(ctx, HashToken(token))
	if err != nil || c == nil {
		return nil, err
	}
	if err := a.Clients.TouchLastUsed(ctx, c.ID, time.Now()); err != nil {
		a.Log.Warn().Err(err).Int("client_id", c.ID).Msg("failed to record client use")
	}
	return c, nil
}

// Require rejects requests without a valid bearer token (401) or without
// the given scope (403).
func (a *Authenticator) Require(scope model.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				deny(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			client, err := a.authenticate(r.Context(), token)
			if err != nil {
				a.Log.Error().Err(err).Msg("client lookup failed")
				deny(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if client == nil {
				deny(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if !client.HasScope(scope) {
				a.Log.Warn().Str("client", client.Name).Str("scope", string(scope)).Msg("scope denied")
				deny(w, http.StatusForbidden, fmt.Sprintf("missing scope %s", scope))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), client)))
		})
	}
}

func WithClient(ctx context.Context, c *model.APIClient) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// ClientFrom returns the client attached by Require.
func ClientFrom(ctx context.Context) *model.APIClient {
	c, _ := ctx.Value(ctxKey{}).(*model.APIClient)
	return c
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}
