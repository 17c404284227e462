package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/cart-recovery-service/internal/logging"
	"github.com/unclebandit/cart-recovery-service/internal/metrics"
	"github.com/unclebandit/cart-recovery-service/internal/model"
	"github.com/unclebandit/cart-recovery-service/internal/repository"
)

const (
	kindAbandonmentCheck = "abandonment_check"
	kindDispatch         = "dispatch"

	SkipRecoveryDisabled = "recovery disabled"
	SkipLockHeld         = "drain already running"
)

// ScheduleResult is the outcome of one claimed schedule.
type ScheduleResult struct {
	ScheduleID    int                  `json:"schedule_id"`
	CartSessionID int                  `json:"cart_session_id"`
	AttemptNumber int                  `json:"attempt_number"`
	Status        model.ScheduleStatus `json:"status"`
	Message       string               `json:"message,omitempty"`
}

type DrainReport struct {
	Claimed   int              `json:"claimed"`
	Completed int              `json:"completed"`
	Failed    int              `json:"failed"`
	Skipped   bool             `json:"skipped"`
	Reason    string           `json:"reason,omitempty"`
	Results   []ScheduleResult `json:"results"`
}

type SweepReport struct {
	Requeued int64 `json:"requeued"`
	Expired  int64 `json:"expired"`
}

// Scheduler owns the durable work queue of recovery schedules.
type Scheduler struct {
	Schedules  repository.ScheduleRepositoryInterface
	Sessions   repository.SessionRepositoryInterface
	Config     ConfigSource
	Lock       Locker
	BatchSize  int
	StaleAfter time.Duration
	Metrics    *metrics.Metrics
	Log        zerolog.Logger
	Clock      Clock

	Detector   *AbandonmentDetector
	Dispatcher *MessageDispatcher
}

var _ Enqueuer = (*Scheduler)(nil)

// Enqueue queues attemptNumber for the session, due after delay. Queuing the
// same attempt twice returns the existing schedule.
func (s *Scheduler) Enqueue(ctx context.Context, cartSessionID, attemptNumber int, delay time.Duration) (*model.RecoverySchedule, error) {
	sch := &model.RecoverySchedule{
		CartSessionID: cartSessionID,
		AttemptNumber: attemptNumber,
		ScheduledAt:   s.Clock.now().Add(delay),
		Status:        model.SchedulePending,
	}
	if err := s.Schedules.Create(ctx, sch); err != nil {
		return nil, err
	}
	s.Log.Debug().
		Int(logging.CART_SESSION, cartSessionID).
		Int(logging.ATTEMPT, attemptNumber).
		Time("scheduled_at", sch.ScheduledAt).
		Msg("recovery schedule queued")
	return sch, nil
}

// Drain processes one batch of due schedules. Every claimed schedule ends
// up completed or failed; one schedule's failure never stops the batch.
func (s *Scheduler) Drain(ctx context.Context) (*DrainReport, error) {
	started := time.Now()
	defer func() { s.Metrics.ObserveDrain(time.Since(started).Seconds()) }()

	report := &DrainReport{Results: []ScheduleResult{}}

	if s.Lock != nil {
		release, ok, err := s.Lock.TryAcquire(ctx)
		switch {
		case err != nil:
			// claims are atomic, so running unlocked is still safe
			s.Log.Warn().Err(err).Msg("drain lock unavailable, draining without it")
		case !ok:
			report.Skipped = true
			report.Reason = SkipLockHeld
			return report, nil
		default:
			defer release()
		}
	}

	cfg, err := s.Config.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recovery config: %w", err)
	}
	if !cfg.Enabled {
		report.Skipped = true
		report.Reason = SkipRecoveryDisabled
		return report, nil
	}

	batch := s.BatchSize
	if batch <= 0 {
		batch = 100
	}
	claimed, err := s.Schedules.ClaimDue(ctx, s.Clock.now(), batch)
	if err != nil {
		return nil, fmt.Errorf("claim due schedules: %w", err)
	}
	report.Claimed = len(claimed)

	for _, sch := range claimed {
		res := s.processOne(ctx, cfg, sch)
		if res.Status == model.ScheduleCompleted {
			report.Completed++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, res)
	}

	if report.Claimed > 0 {
		s.Log.Info().
			Int("claimed", report.Claimed).
			Int("completed", report.Completed).
			Int("failed", report.Failed).
			Msg("drain finished")
	}
	return report, nil
}

func (s *Scheduler) processOne(ctx context.Context, cfg model.RecoveryConfig, sch *model.RecoverySchedule) (res ScheduleResult) {
	res = ScheduleResult{
		ScheduleID:    sch.ID,
		CartSessionID: sch.CartSessionID,
		AttemptNumber: sch.AttemptNumber,
	}
	kind := kindDispatch
	if sch.AttemptNumber == model.AbandonmentCheck {
		kind = kindAbandonmentCheck
	}
	log := s.Log.With().
		Int(logging.SCHEDULE, sch.ID).
		Int(logging.CART_SESSION, sch.CartSessionID).
		Int(logging.ATTEMPT, sch.AttemptNumber).
		Logger()

	var (
		outcome Outcome
		err     error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic while processing schedule: %v", r)
			}
		}()
		if kind == kindAbandonmentCheck {
			outcome, err = s.Detector.Check(ctx, cfg, sch)
		} else {
			outcome, err = s.Dispatcher.Dispatch(ctx, cfg, sch)
		}
	}()

	now := s.Clock.now()
	if err != nil {
		res.Status = model.ScheduleFailed
		res.Message = err.Error()
		if markErr := s.Schedules.MarkFailed(ctx, sch.ID, res.Message, now); markErr != nil {
			log.Error().Err(markErr).Msg("failed to mark schedule failed")
		}
		log.Warn().Err(err).Msg("recovery schedule failed")
		s.Metrics.ScheduleProcessed(kind, string(model.ScheduleFailed))
		return res
	}

	res.Status = model.ScheduleCompleted
	res.Message = outcome.Note
	if markErr := s.Schedules.MarkCompleted(ctx, sch.ID, outcome.Note, now); markErr != nil {
		log.Error().Err(markErr).Msg("failed to mark schedule completed")
	}
	s.Metrics.ScheduleProcessed(kind, string(model.ScheduleCompleted))
	return res
}

// Sweep returns stuck processing schedules to pending and expires abandoned
// sessions that ran out of attempts long ago.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepReport, error) {
	now := s.Clock.now()
	report := &SweepReport{}

	staleAfter := s.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	n, err := s.Schedules.RequeueStale(ctx, now.Add(-staleAfter))
	if err != nil {
		return nil, fmt.Errorf("requeue stale schedules: %w", err)
	}
	report.Requeued = n
	s.Metrics.StaleRequeued(n)

	cfg, err := s.Config.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recovery config: %w", err)
	}
	if cfg.ExpireAfter() > 0 {
		expired, err := s.Sessions.ExpireAbandoned(ctx, now.Add(-cfg.ExpireAfter()), now)
		if err != nil {
			return nil, fmt.Errorf("expire abandoned sessions: %w", err)
		}
		report.Expired = expired
		s.Metrics.SessionsTransitioned(string(model.SessionExpired), expired)
	}

	if report.Requeued > 0 || report.Expired > 0 {
		s.Log.Info().Int64("requeued", report.Requeued).Int64("expired", report.Expired).Msg("sweep finished")
	}
	return report, nil
}
