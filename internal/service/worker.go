package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Drainer is the part of the scheduler the worker drives.
type Drainer interface {
	Drain(ctx context.Context) (*DrainReport, error)
	Sweep(ctx context.Context) (*SweepReport, error)
}

// Worker drains due schedules on a fixed interval and whenever a trigger
// arrives on its channel.
type Worker struct {
	Scheduler Drainer
	Interval  time.Duration
	Triggers  <-chan struct{}
	Log       zerolog.Logger
}

func NewWorker(scheduler Drainer, interval time.Duration, triggers <-chan struct{}, log zerolog.Logger) *Worker {
	return &Worker{
		Scheduler: scheduler,
		Interval:  interval,
		Triggers:  triggers,
		Log:       log,
	}
}

// Start runs until ctx is cancelled. The first tick runs immediately.
func (w *Worker) Start(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.Log.Info().Dur("interval", interval).Msg("recovery worker started")
	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.Log.Info().Msg("recovery worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		case _, ok := <-w.Triggers:
			if !ok {
				w.Triggers = nil
				continue
			}
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if _, err := w.Scheduler.Sweep(ctx); err != nil {
		w.Log.Error().Err(err).Msg("sweep failed")
	}
	report, err := w.Scheduler.Drain(ctx)
	if err != nil {
		w.Log.Error().Err(err).Msg("drain failed")
		return
	}
	if report.Skipped {
		w.Log.Debug().Str("reason", report.Reason).Msg("drain skipped")
	}
}
