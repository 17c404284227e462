// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unclebandit/cart-recovery-service/internal/app"
	"github.com/unclebandit/cart-recovery-service/internal/config"
	"github.com/unclebandit/cart-recovery-service/internal/controller"
	"github.com/unclebandit/cart-recovery-service/internal/handler"
	"github.com/unclebandit/cart-recovery-service/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "json")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.Component(logging.New(cfg.LogLevel, cfg.LogFormat), "server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	if cfg.BootstrapToken == "" {
		log.Warn().Msg("API_BOOTSTRAP_TOKEN not set, only issued clients can call the API")
	}

	pipeline := &controller.PipelineController{Scheduler: a.Pipeline.Scheduler, Log: log}
	if a.Broker != nil {
		// keep Broker a nil interface when AMQP is off
		pipeline.Broker = a.Broker
	}

	router := newRouter(routes{
		Auth: a.Auth,
		Recovery: &handler.RecoveryHandler{
			Recovery: a.Recovery,
			Tracker:  a.Pipeline.Tracker,
			Log:      log,
		},
		Pipeline: pipeline,
		Webhooks: &controller.WebhookController{
			Payments: a.Payments,
			Secret:   cfg.MercadoPago.WebhookSecret,
			Log:      log,
		},
		Metrics: a.Metrics,
		Log:     log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("🚀 Server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}
