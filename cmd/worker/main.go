package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/cart-recovery-service/internal/app"
	"github.com/unclebandit/cart-recovery-service/internal/config"
	"github.com/unclebandit/cart-recovery-service/internal/logging"
	"github.com/unclebandit/cart-recovery-service/internal/queue"
	"github.com/unclebandit/cart-recovery-service/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "json")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.Component(logging.New(cfg.LogLevel, cfg.LogFormat), "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	triggers := make(chan struct{}, 1)
	if a.Broker != nil {
		err := a.Broker.SubscribeQueue(cfg.AMQP.DrainQueue, queue.TopicDrainRequested, drainRequestHandler(triggers, log))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to subscribe to drain requests")
		}
		log.Info().Str("queue", cfg.AMQP.DrainQueue).Msg("listening for drain requests")
	}

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           a.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	service.NewWorker(a.Pipeline.Scheduler, cfg.Worker.DrainInterval, triggers, log).Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Shutdown(shutdownCtx)
}

// drainRequestHandler coalesces drain requests: while one is pending,
// further requests are acknowledged and dropped.
func drainRequestHandler(triggers chan<- struct{}, log zerolog.Logger) func(payload any) error {
	return func(payload any) error {
		e, err := queue.DecodeEvent(payload)
		if err != nil {
			// a malformed body would be redelivered forever
			log.Warn().Err(err).Msg("dropping malformed drain request")
			return nil
		}
		select {
		case triggers <- struct{}{}:
			log.Debug().Time("requested_at", e.OccurredAt).Msg("drain requested")
		default:
		}
		return nil
	}
}
