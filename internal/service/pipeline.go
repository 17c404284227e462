package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/cart-recovery-service/internal/gateway"
	"github.com/unclebandit/cart-recovery-service/internal/logging"
	"github.com/unclebandit/cart-recovery-service/internal/metrics"
	"github.com/unclebandit/cart-recovery-service/internal/model"
	"github.com/unclebandit/cart-recovery-service/internal/queue"
	"github.com/unclebandit/cart-recovery-service/internal/repository"
)

// ConfigSource yields the recovery config for one invocation.
type ConfigSource interface {
	GetConfig(ctx context.Context) (model.RecoveryConfig, error)
}

type Locker interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, cartSessionID, attemptNumber int, delay time.Duration) (*model.RecoverySchedule, error)
}

type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

type PipelineDeps struct {
	Sessions  repository.SessionRepositoryInterface
	Schedules repository.ScheduleRepositoryInterface
	Attempts  repository.AttemptRepositoryInterface
	Templates repository.ConfigRepositoryInterface
	Config    ConfigSource
	Sender    gateway.Sender
	Events    queue.Queue
	Lock      Locker
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
	Clock     Clock

	BatchSize  int
	StaleAfter time.Duration
}

// Pipeline bundles the recovery components wired to the same stores.
type Pipeline struct {
	Tracker    *SessionTracker
	Scheduler  *Scheduler
	Detector   *AbandonmentDetector
	Dispatcher *MessageDispatcher
}

func NewPipeline(d PipelineDeps) *Pipeline {
	if d.BatchSize <= 0 {
		d.BatchSize = 100
	}
	if d.StaleAfter <= 0 {
		d.StaleAfter = 15 * time.Minute
	}

	scheduler := &Scheduler{
		Schedules:  d.Schedules,
		Sessions:   d.Sessions,
		Config:     d.Config,
		Lock:       d.Lock,
		BatchSize:  d.BatchSize,
		StaleAfter: d.StaleAfter,
		Metrics:    d.Metrics,
		Log:        logging.Component(d.Log, "scheduler"),
		Clock:      d.Clock,
	}
	detector := &AbandonmentDetector{
		Sessions: d.Sessions,
		Queue:    scheduler,
		Events:   d.Events,
		Metrics:  d.Metrics,
		Log:      logging.Component(d.Log, "detector"),
		Clock:    d.Clock,
	}
	dispatcher := &MessageDispatcher{
		Sessions:  d.Sessions,
		Attempts:  d.Attempts,
		Templates: d.Templates,
		Sender:    d.Sender,
		Queue:     scheduler,
		Events:    d.Events,
		Metrics:   d.Metrics,
		Log:       logging.Component(d.Log, "dispatcher"),
		Clock:     d.Clock,
	}
	scheduler.Detector = detector
	scheduler.Dispatcher = dispatcher

	tracker := &SessionTracker{
		Sessions: d.Sessions,
		Attempts: d.Attempts,
		Config:   d.Config,
		Events:   d.Events,
		Metrics:  d.Metrics,
		Log:      logging.Component(d.Log, "tracker"),
		Clock:    d.Clock,
	}

	return &Pipeline{
		Tracker:    tracker,
		Scheduler:  scheduler,
		Detector:   detector,
		Dispatcher: dispatcher,
	}
}

// publish is best effort: analytics events never fail the pipeline.
func publish(q queue.Queue, log zerolog.Logger, e queue.Event) {
	if q == nil {
		return
	}
	if err := q.Publish(e.Type, e); err != nil {
		log.Warn().Err(err).Str("topic", e.Type).Msg("failed to publish event")
	}
}
