package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/cart-recovery-service/internal/auth"
	"github.com/unclebandit/cart-recovery-service/internal/controller"
	"github.com/unclebandit/cart-recovery-service/internal/handler"
	"github.com/unclebandit/cart-recovery-service/internal/metrics"
	"github.com/unclebandit/cart-recovery-service/internal/model"
	"github.com/unclebandit/cart-recovery-service/internal/repository"
	"github.com/unclebandit/cart-recovery-service/internal/repository/memory"
	"github.com/unclebandit/cart-recovery-service/internal/service"
)

const bootstrap = "bootstrap-secret"

type testServer struct {
	store   *memory.Store
	auth    *auth.Authenticator
	handler http.Handler
}

func newTestServer() *testServer {
	store := memory.NewStore(model.RecoveryConfig{Enabled: true, WhatsAppEnabled: true, DelayMinutes: 30, MaxAttempts: 3})
	p := service.NewPipeline(service.PipelineDeps{
		Sessions:  store.Sessions(),
		Schedules: store.Schedules(),
		Attempts:  store.Attempts(),
		Templates: store.Config(),
		Config:    store.Config(),
		Log:       zerolog.Nop(),
	})
	a := &auth.Authenticator{Clients: store.APIClients(), BootstrapToken: bootstrap, Log: zerolog.Nop()}
	h := newRouter(routes{
		Auth: a,
		Recovery: &handler.RecoveryHandler{
			Recovery: &service.RecoveryService{
				Sessions:  store.Sessions(),
				Attempts:  store.Attempts(),
				Templates: store.Config(),
				Config:    store.Config(),
				Log:       zerolog.Nop(),
			},
			Tracker: p.Tracker,
			Log:     zerolog.Nop(),
		},
		Pipeline: &controller.PipelineController{Scheduler: p.Scheduler, Log: zerolog.Nop()},
		Webhooks: &controller.WebhookController{Log: zerolog.Nop()},
		Metrics:  metrics.New(),
		Log:      zerolog.Nop(),
	})
	return &testServer{store: store, auth: a, handler: h}
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	s := newTestServer()
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "", nil).Code)

	w := s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestInvalidTokenDoesNotMutate(t *testing.T) {
	s := newTestServer()
	ctx := context.Background()
	require.NoError(t, s.store.Sessions().Create(ctx, &model.CartSession{
		SessionID: "s1", UserName: "Ana", UserEmail: "ana@example.com", UserWhatsApp: "11988887777",
		Amount: 100, Frequency: "monthly", Status: model.SessionAbandoned,
	}))

	update := map[string]interface{}{"sessionId": "s1", "status": "converted"}
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPut, "/api/cart-recovery/session", "", update).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPut, "/api/cart-recovery/session", "crk_wrong", update).Code)

	got, err := s.store.Sessions().GetBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionAbandoned, got.Status)
	assert.Nil(t, got.ConvertedAt)
}

func TestScopesAreEnforced(t *testing.T) {
	s := newTestServer()
	_, token, err := s.auth.IssueClient(context.Background(), "dashboard", []model.Scope{model.ScopeSessionsRead})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/cart-recovery/abandoned", token, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/cart-recovery/config", token, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/api/cart-recovery/process", token, nil).Code)

	w := s.do(http.MethodPost, "/api/cart-recovery/sessions", token, map[string]interface{}{
		"user_name": "Ana", "user_email": "ana@example.com", "user_whatsapp": "11988887777", "amount": 50, "frequency": "monthly",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	sessions, total, err := s.store.Sessions().List(context.Background(), repository.SessionFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, sessions)
}

func TestBootstrapTokenRunsTheFlow(t *testing.T) {
	s := newTestServer()

	w := s.do(http.MethodPost, "/api/cart-recovery/sessions", bootstrap, map[string]interface{}{
		"session_id": "checkout-1", "user_name": "Ana", "user_email": "ana@example.com",
		"user_whatsapp": "11988887777", "amount": 50, "frequency": "monthly",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/cart-recovery/process", bootstrap, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report struct {
		Data service.DrainReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Zero(t, report.Data.Claimed, "attempt 0 is not due yet")

	w = s.do(http.MethodGet, "/api/cart-recovery/abandoned?status=active", bootstrap, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "checkout-1")
}
