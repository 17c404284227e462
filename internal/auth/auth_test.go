package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/cart-recovery-service/internal/model"
)

type memClients struct {
	byHash  map[string]*model.APIClient
	touched []int
}

func (m *memClients) Create(ctx context.Context, c *model.APIClient) error {
	c.ID = len(m.byHash) + 1
	c.IsActive = true
	m.byHash[c.TokenHash] = c
	return nil
}

func (m *memClients) GetActiveByTokenHash(ctx context.Context, hash string) (*model.APIClient, error) {
	c, ok := m.byHash[hash]
	if !ok || !c.IsActive {
		return nil, nil
	}
	return c, nil
}

func (m *memClients) TouchLastUsed(ctx context.Context, id int, at time.Time) error {
	m.touched = append(m.touched, id)
	return nil
}

func (m *memClients) Deactivate(ctx context.Context, id int) (bool, error) {
	for _, c := range m.byHash {
		if c.ID == id && c.IsActive {
			c.IsActive = false
			return true, nil
		}
	}
	return false, nil
}

func protected(a *Authenticator, scope model.Scope) http.Handler {
	return a.Require(scope)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ClientFrom(r.Context()).Name))
	}))
}

func call(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRequireScopes(t *testing.T) {
	clients := &memClients{byHash: map[string]*model.APIClient{}}
	a := &Authenticator{Clients: clients, Log: zerolog.Nop()}

	reader, token, err := a.IssueClient(context.Background(), "crm", []model.Scope{model.ScopeSessionsRead})
	require.NoError(t, err)
	assert.NotEqual(t, token, reader.TokenHash)
	assert.Equal(t, HashToken(token), reader.TokenHash)

	w := call(protected(a, model.ScopeSessionsRead), token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "crm", w.Body.String())
	assert.Equal(t, []int{reader.ID}, clients.touched)

	w = call(protected(a, model.ScopeSessionsWrite), token)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = call(protected(a, model.ScopeSessionsRead), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(protected(a, model.ScopeSessionsRead), "crk_wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"invalid token"}`, w.Body.String())

	ok, err := clients.Deactivate(context.Background(), reader.ID)
	require.NoError(t, err)
	require.True(t, ok)
	w = call(protected(a, model.ScopeSessionsRead), token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBootstrapTokenHasEveryScope(t *testing.T) {
	a := &Authenticator{BootstrapToken: "let-me-in", Log: zerolog.Nop()}
	for _, s := range model.AllScopes {
		w := call(protected(a, s), "let-me-in")
		assert.Equal(t, http.StatusOK, w.Code, string(s))
	}
	assert.Equal(t, http.StatusUnauthorized, call(protected(a, model.ScopeConfigRead), "let-me-out").Code)
}

func TestParseScopes(t *testing.T) {
	scopes, err := ParseScopes([]string{"sessions:read,config:read", "sessions:read"})
	require.NoError(t, err)
	assert.Equal(t, []model.Scope{model.ScopeSessionsRead, model.ScopeConfigRead}, scopes)

	_, err = ParseScopes([]string{"admin"})
	assert.Error(t, err)

	_, err = ParseScopes(nil)
	assert.Error(t, err)
}

func TestGenerateTokenIsUnique(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len(tokenPrefix)+64)
}
