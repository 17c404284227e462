// cmd/server/router.go
package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/unclebandit/cart-recovery-service/internal/auth"
	"github.com/unclebandit/cart-recovery-service/internal/controller"
	"github.com/unclebandit/cart-recovery-service/internal/handler"
	"github.com/unclebandit/cart-recovery-service/internal/metrics"
	"github.com/unclebandit/cart-recovery-service/internal/model"
)

type routes struct {
	Auth     *auth.Authenticator
	Recovery *handler.RecoveryHandler
	Pipeline *controller.PipelineController
	Webhooks *controller.WebhookController
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
}

func newRouter(rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(rt.Log))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		handler.WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", rt.Metrics.Handler())

	r.Route("/api/cart-recovery", func(r chi.Router) {
		r.With(rt.Auth.Require(model.ScopeSessionsRead)).Get("/abandoned", rt.Recovery.ListAbandoned)
		r.With(rt.Auth.Require(model.ScopeConfigRead)).Get("/config", rt.Recovery.GetConfig)
		r.With(rt.Auth.Require(model.ScopeSessionsWrite)).Put("/session", rt.Recovery.UpdateSession)
		r.With(rt.Auth.Require(model.ScopeSessionsWrite)).Post("/sessions", rt.Recovery.CreateSession)
		r.With(rt.Auth.Require(model.ScopeAttemptsWrite)).Post("/attempt", rt.Recovery.RecordAttempt)
		r.With(rt.Auth.Require(model.ScopePipelineRun)).Post("/process", rt.Pipeline.Process)
	})

	// Mercado Pago authenticates with x-signature, not bearer tokens.
	r.Post("/api/webhooks/mercadopago", rt.Webhooks.MercadoPago)

	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := log.Info()
			if status >= http.StatusInternalServerError {
				ev = log.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
