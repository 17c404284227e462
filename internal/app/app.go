// internal/app/app.go
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/unclebandit/cart-recovery-service/internal/auth"
	"github.com/unclebandit/cart-recovery-service/internal/cache"
	"github.com/unclebandit/cart-recovery-service/internal/config"
	"github.com/unclebandit/cart-recovery-service/internal/db"
	"github.com/unclebandit/cart-recovery-service/internal/gateway"
	"github.com/unclebandit/cart-recovery-service/internal/logging"
	"github.com/unclebandit/cart-recovery-service/internal/metrics"
	"github.com/unclebandit/cart-recovery-service/internal/model"
	"github.com/unclebandit/cart-recovery-service/internal/queue"
	"github.com/unclebandit/cart-recovery-service/internal/repository"
	"github.com/unclebandit/cart-recovery-service/internal/service"
)

const drainLockKey = "cart_recovery:drain_lock"

// App holds everything the binaries share. Redis and AMQP are optional:
// without Redis the config is read from Postgres on every invocation and
// drains run unlocked, without AMQP events stay in process.
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	DB      *sql.DB
	Redis   *redis.Client
	Events  queue.Queue
	Broker  *queue.AMQPQueue
	Metrics *metrics.Metrics

	Sessions   *repository.SessionRepository
	Schedules  *repository.ScheduleRepository
	Attempts   *repository.AttemptRepository
	Settings   *repository.ConfigRepository
	APIClients *repository.APIClientRepository

	WhatsApp    *gateway.WhatsAppClient
	MercadoPago *gateway.MercadoPagoClient

	Pipeline *service.Pipeline
	Recovery *service.RecoveryService
	Payments *service.PaymentService
	Auth     *auth.Authenticator
}

// New connects the stores and wires the pipeline.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	conn, err := db.Open(ctx, cfg.DB.DSN(), log)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:     cfg,
		Log:        log,
		DB:         conn,
		Metrics:    metrics.New(),
		Sessions:   &repository.SessionRepository{DB: conn},
		Schedules:  &repository.ScheduleRepository{DB: conn},
		Attempts:   &repository.AttemptRepository{DB: conn},
		Settings:   &repository.ConfigRepository{DB: conn},
		APIClients: &repository.APIClientRepository{DB: conn},
	}

	var (
		source service.ConfigSource = a.Settings
		lock   service.Locker
	)
	if cfg.Redis.Addr != "" {
		client, err := cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
		source = cache.NewConfigCache(client, a.Settings, cfg.Redis.ConfigTTL, logging.Component(log, "config_cache"))
		lock = cache.NewDrainLock(client, drainLockKey, cfg.Worker.LockTTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("✅ Connected to redis")
	} else {
		log.Warn().Msg("REDIS_ADDR not set, drains run without a lock")
	}

	if cfg.AMQP.URL != "" {
		broker, err := queue.NewAMQPQueue(cfg.AMQP.URL, cfg.AMQP.Exchange, logging.Component(log, "amqp"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Broker = broker
		a.Events = broker
		log.Info().Str("exchange", cfg.AMQP.Exchange).Msg("✅ Connected to RabbitMQ")
	} else {
		a.Events = queue.NewInMemoryQueue(logging.Component(log, "queue"))
	}

	a.WhatsApp = gateway.NewWhatsAppClient(cfg.WhatsApp.APIURL, cfg.WhatsApp.APIKey, cfg.WhatsApp.Instance, cfg.WhatsApp.Timeout)
	if !a.WhatsApp.Configured() {
		log.Warn().Msg("WhatsApp gateway not configured, sends will fail")
	}
	a.MercadoPago = gateway.NewMercadoPagoClient(cfg.MercadoPago.APIURL, cfg.MercadoPago.AccessToken, cfg.MercadoPago.Timeout)

	a.Pipeline = service.NewPipeline(service.PipelineDeps{
		Sessions:   a.Sessions,
		Schedules:  a.Schedules,
		Attempts:   a.Attempts,
		Templates:  a.Settings,
		Config:     source,
		Sender:     a.WhatsApp,
		Events:     a.Events,
		Lock:       lock,
		Metrics:    a.Metrics,
		Log:        log,
		BatchSize:  cfg.Worker.BatchSize,
		StaleAfter: cfg.Worker.StaleAfter,
	})
	a.Recovery = &service.RecoveryService{
		Sessions:  a.Sessions,
		Attempts:  a.Attempts,
		Templates: a.Settings,
		Config:    source,
		WhatsApp: model.WhatsAppSettings{
			APIURL:     cfg.WhatsApp.APIURL,
			Instance:   cfg.WhatsApp.Instance,
			Configured: a.WhatsApp.Configured(),
		},
		Log: logging.Component(log, "recovery"),
	}
	a.Payments = &service.PaymentService{
		Payments: a.MercadoPago,
		Tracker:  a.Pipeline.Tracker,
		Log:      logging.Component(log, "payments"),
	}
	a.Auth = &auth.Authenticator{
		Clients:        a.APIClients,
		BootstrapToken: cfg.BootstrapToken,
		Log:            logging.Component(log, "auth"),
	}
	return a, nil
}

func (a *App) Close() error {
	var firstErr error
	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			firstErr = fmt.Errorf("close amqp: %w", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close redis: %w", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close db: %w", err)
		}
	}
	return firstErr
}
