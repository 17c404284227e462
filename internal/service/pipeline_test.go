package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/cart-recovery-service/internal/errors"
	"github.com/unclebandit/cart-recovery-service/internal/gateway"
	"github.com/unclebandit/cart-recovery-service/internal/model"
	"github.com/unclebandit/cart-recovery-service/internal/service"
)

func TestCreateSessionQueuesSingleAbandonmentCheck(t *testing.T) {
	h := newHarness(defaultTestConfig())
	ctx := context.Background()

	s, sch, err := h.pipeline.Tracker.CreateSession(ctx, sampleInput())
	require.NoError(t, err)
	require.NotNil(t, sch)

	assert.NotEmpty(t, s.SessionID)
	assert.Equal(t, model.SessionActive, s.Status)

	schedules := h.schedulesFor(s.ID)
	require.Len(t, schedules, 1)
	assert.Equal(t, model.AbandonmentCheck, schedules[0].AttemptNumber)
	assert.Equal(t, model.SchedulePending, schedules[0].Status)
	assert.Equal(t, s.CreatedAt.Add(30*time.Minute), schedules[0].ScheduledAt)

	// queuing the same check again is a no-op
	_, err = h.pipeline.Scheduler.Enqueue(ctx, s.ID, model.AbandonmentCheck, time.Hour)
	require.NoError(t, err)
	assert.Len(t, h.schedulesFor(s.ID), 1)
}

func TestCreateSessionValidation(t *testing.T) {
	h := newHarness(defaultTestConfig())
	ctx := context.Background()

	in := sampleInput()
	in.UserEmail = ""
	_, _, err := h.pipeline.Tracker.CreateSession(ctx, in)
	assert.True(t, appErrors.IsValidation(err))

	in = sampleInput()
	in.Amount = 0
	_, _, err = h.pipeline.Tracker.CreateSession(ctx, in)
	assert.True(t, appErrors.IsValidation(err))

	in = sampleInput()
	in.Metadata = json.RawMessage(`{not json`)
	_, _, err = h.pipeline.Tracker.CreateSession(ctx, in)
	assert.True(t, appErrors.IsValidation(err))

	in = sampleInput()
	in.SessionID = "fixed-id"
	_, _, err = h.pipeline.Tracker.CreateSession(ctx, in)
	require.NoError(t, err)
	_, _, err = h.pipeline.Tracker.CreateSession(ctx, in)
	assert.True(t, errors.Is(err, appErrors.ErrDuplicate))
}

func TestDrainBeforeDueTimeDoesNothing(t *testing.T) {
	h := newHarness(defaultTestConfig())
	ctx := context.Background()

	s, _, err := h.pipeline.Tracker.CreateSession(ctx, sampleInput())
	require.NoError(t, err)

	h.clock.Advance(29 * time.Minute)
	report, err := h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed)
	assert.Equal(t, model.SessionActive, h.session(s.ID).Status)
}

func TestAbandonmentAfterDelaySchedulesFirstAttempt(t *testing.T) {
	h := newHarness(defaultTestConfig())
	ctx := context.Background()

	s, _, err := h.pipeline.Tracker.CreateSession(ctx, sampleInput())
	require.NoError(t, err)

	h.clock.Advance(30 * time.Minute)
	report, err := h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, service.NoteSessionAbandoned, report.Results[0].Message)

	got := h.session(s.ID)
	assert.Equal(t, model.SessionAbandoned, got.Status)
	require.NotNil(t, got.AbandonedAt)
	assert.Equal(t, h.clock.Now(), *got.AbandonedAt)

	schedules := h.schedulesFor(s.ID)
	require.Len(t, schedules, 2)
	assert.Equal(t, model.ScheduleCompleted, schedules[0].Status)
	assert.Equal(t, 1, schedules[1].AttemptNumber)
	assert.Equal(t, model.SchedulePending, schedules[1].Status)
	assert.Equal(t, h.clock.Now().Add(30*time.Minute), schedules[1].ScheduledAt)
	assert.Zero(t, h.sender.count())
}

func TestCompletedSessionIsNeverAbandoned(t *testing.T) {
	h := newHarness(defaultTestConfig())
	ctx := context.Background()

	s, _, err := h.pipeline.Tracker.CreateSession(ctx, sampleInput())
	require.NoError(t, err)

	h.clock.Advance(10 * time.Minute)
	_, err = h.pipeline.Tracker.UpdateStatus(ctx, s.SessionID, model.SessionCompleted, nil)
	require.NoError(t, err)

	h.clock.Advance(20 * time.Minute)
	report, err := h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, model.ScheduleCompleted, report.Results[0].Status)
	assert.Equal(t, service.NoteSessionNotActive, report.Results[0].Message)

	got := h.session(s.ID)
	assert.Equal(t, model.SessionCompleted, got.Status)
	assert.Nil(t, got.AbandonedAt)
	assert.Len(t, h.schedulesFor(s.ID), 1)
}

func TestSessionAbandonedBeforeCheckStillGetsFirstAttempt(t *testing.T) {
	h := newHarness(defaultTestConfig())
	ctx := context.Background()

	s, _, err := h.pipeline.Tracker.CreateSession(ctx, sampleInput())
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)
	_, err = h.pipeline.Tracker.UpdateStatus(ctx, s.SessionID, model.SessionAbandoned, nil)
	require.NoError(t, err)

	h.clock.Advance(25 * time.Minute)
	report, err := h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, model.ScheduleCompleted, report.Results[0].Status)
	assert.Equal(t, service.NoteAlreadyAbandoned, report.Results[0].Message)

	schedules := h.schedulesFor(s.ID)
	require.Len(t, schedules, 2)
	assert.Equal(t, 1, schedules[1].AttemptNumber)
	assert.Equal(t, h.clock.Now().Add(30*time.Minute), schedules[1].ScheduledAt)

	h.clock.Advance(30 * time.Minute)
	report, err = h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, service.NoteMessageSent, report.Results[0].Message)
	assert.Equal(t, 1, h.sender.count())
}

func TestCreateSessionIsAtomicWithAbandonmentCheck(t *testing.T) {
	h := newHarness(defaultTestConfig())
	ctx := context.Background()

	in := sampleInput()
	in.SessionID = "checkout-42"

	h.store.FailScheduleWrites(errors.New("db down"))
	_, _, err := h.pipeline.Tracker.CreateSession(ctx, in)
	require.Error(t, err)

	_, err = h.pipeline.Tracker.GetSession(ctx, in.SessionID)
	assert.True(t, appErrors.IsNotFound(err), "no session without its abandonment check")

	h.store.FailScheduleWrites(nil)
	h.clock.Advance(7 * time.Second)
	s, sch, err := h.pipeline.Tracker.CreateSession(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, sch)
	assert.Equal(t, s.ID, sch.CartSessionID)
	assert.Equal(t, s.CreatedAt.Add(30*time.Minute), sch.ScheduledAt)

	schedules := h.schedulesFor(s.ID)
	require.Len(t, schedules, 1)
	assert.Equal(t, model.AbandonmentCheck, schedules[0].AttemptNumber)
	assert.Equal(t, s.CreatedAt.Add(30*time.Minute), schedules[0].ScheduledAt)
}

func TestFullRecoverySequenceStopsAtMaxAttempts(t *testing.T) {
	h := newHarness(defaultTestConfig())
	ctx := context.Background()

	s, _, err := h.pipeline.Tracker.CreateSession(ctx, sampleInput())
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		h.clock.Advance(30 * time.Minute)
		_, err := h.pipeline.Scheduler.Drain(ctx)
		require.NoError(t, err)
	}

	schedules := h.schedulesFor(s.ID)
	require.Len(t, schedules, 4, "attempt 0 plus three message attempts")
	for i, sch := range schedules {
		assert.Equal(t, i, sch.AttemptNumber)
		assert.Equal(t, model.ScheduleCompleted, sch.Status)
	}

	attempts := h.attemptsFor(s.ID)
	require.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.AttemptNumber)
		assert.Equal(t, model.AttemptSent, a.Status)
		assert.NotEmpty(t, a.ExternalMessageID)
		assert.NotContains(t, a.MessageContent, "{{")
	}
	assert.Contains(t, attempts[0].MessageContent, "100.00")
	assert.Contains(t, attempts[1].MessageContent, "90.00")
	assert.Contains(t, attempts[2].MessageContent, "85.00")
	assert.Contains(t, attempts[0].MessageContent, "https://app.example.com/checkout?session="+s.SessionID)

	require.Equal(t, 3, h.sender.count())
	assert.Equal(t, "11987654321", h.sender.sent[0].Number)

	// nothing is left to do
	assert.Equal(t, model.SessionAbandoned, h.session(s.ID).Status)
}

func TestFailedSendStopsTheSequence(t *testing.T) {
	h := newHarness(defaultTestConfig())
	ctx := context.Background()

	s, _, err := h.pipeline.Tracker.CreateSession(ctx, sampleInput())
	require.NoError(t, err)

	h.clock.Advance(30 * time.Minute)
	_, err = h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)

	h.sender.err = &gateway.GatewayError{StatusCode: 500, Body: `{"error":"instance offline"}`}
	h.clock.Advance(30 * time.Minute)
	report, err := h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	attempts := h.attemptsFor(s.ID)
	require.Len(t, attempts, 1)
	assert.Equal(t, model.AttemptFailed, attempts[0].Status)
	assert.Equal(t, `{"error":"instance offline"}`, attempts[0].ErrorMessage)

	schedules := h.schedulesFor(s.ID)
	require.Len(t, schedules, 2, "no attempt 2 is queued")
	assert.Equal(t, model.ScheduleFailed, schedules[1].Status)
	assert.Contains(t, schedules[1].ErrorMessage, "instance offline")

	h.sender.err = nil
	h.clock.Advance(time.Hour)
	report, err = h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed)
}

func TestConvertedSessionTurnsPendingDispatchIntoNoop(t *testing.T) {
	h := newHarness(defaultTestConfig())
	ctx := context.Background()

	s, _, err := h.pipeline.Tracker.CreateSession(ctx, sampleInput())
	require.NoError(t, err)

	h.clock.Advance(30 * time.Minute)
	_, err = h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	h.clock.Advance(30 * time.Minute)
	_, err = h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, h.sender.count())

	updated, err := h.pipeline.Tracker.UpdateStatus(ctx, s.SessionID, model.SessionConverted, json.RawMessage(`{"payment_id":42}`))
	require.NoError(t, err)
	assert.Equal(t, model.SessionConverted, updated.Status)
	require.NotNil(t, updated.ConvertedAt)
	assert.JSONEq(t, `{"payment_id":42}`, string(updated.Metadata))

	attempts := h.attemptsFor(s.ID)
	require.Len(t, attempts, 1)
	assert.Equal(t, model.AttemptConverted, attempts[0].Status)

	h.clock.Advance(30 * time.Minute)
	report, err := h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, service.NoteSessionNotAbandoned, report.Results[0].Message)
	assert.Equal(t, 1, h.sender.count())
	assert.Len(t, h.schedulesFor(s.ID), 3)
}

func TestUpdateStatusRules(t *testing.T) {
	h := newHarness(defaultTestConfig())
	ctx := context.Background()

	s, _, err := h.pipeline.Tracker.CreateSession(ctx, sampleInput())
	require.NoError(t, err)

	_, err = h.pipeline.Tracker.UpdateStatus(ctx, s.SessionID, "paid", nil)
	assert.True(t, appErrors.IsValidation(err))

	_, err = h.pipeline.Tracker.UpdateStatus(ctx, "missing", model.SessionCompleted, nil)
	assert.True(t, appErrors.IsNotFound(err))

	same, err := h.pipeline.Tracker.UpdateStatus(ctx, s.SessionID, model.SessionActive, nil)
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, same.Status)

	done, err := h.pipeline.Tracker.UpdateStatus(ctx, s.SessionID, model.SessionCompleted, nil)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)

	_, err = h.pipeline.Tracker.UpdateStatus(ctx, s.SessionID, model.SessionAbandoned, nil)
	assert.True(t, appErrors.IsInvalidTransition(err), "terminal statuses never change")
}

func TestConvertedActiveSessionIsNeverAbandoned(t *testing.T) {
	h := newHarness(defaultTestConfig())
	ctx := context.Background()

	s, _, err := h.pipeline.Tracker.CreateSession(ctx, sampleInput())
	require.NoError(t, err)

	converted, err := h.pipeline.Tracker.UpdateStatus(ctx, s.SessionID, model.SessionConverted, json.RawMessage(`{"payment_id":1}`))
	require.NoError(t, err)
	assert.Equal(t, model.SessionConverted, converted.Status)
	require.NotNil(t, converted.ConvertedAt)
	assert.Nil(t, converted.AbandonedAt)

	h.clock.Advance(31 * time.Minute)
	report, err := h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, model.ScheduleCompleted, report.Results[0].Status)
	assert.Equal(t, service.NoteSessionNotActive, report.Results[0].Message)

	after := h.session(s.ID)
	assert.Equal(t, model.SessionConverted, after.Status)
	assert.Nil(t, after.AbandonedAt)
	assert.Len(t, h.schedulesFor(s.ID), 1, "no message attempt is queued")
	assert.Zero(t, h.sender.count())
}

func TestRecoveryDisabled(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Enabled = false
	h := newHarness(cfg)
	ctx := context.Background()

	s, sch, err := h.pipeline.Tracker.CreateSession(ctx, sampleInput())
	require.NoError(t, err)
	assert.Nil(t, sch)
	assert.Empty(t, h.schedulesFor(s.ID))

	report, err := h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, service.SkipRecoveryDisabled, report.Reason)
}

func TestWhatsAppDisabledCompletesWithoutSending(t *testing.T) {
	h := newHarness(defaultTestConfig())
	ctx := context.Background()

	s, _, err := h.pipeline.Tracker.CreateSession(ctx, sampleInput())
	require.NoError(t, err)
	h.clock.Advance(30 * time.Minute)
	_, err = h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)

	h.store.UpdateConfig(func(c *model.RecoveryConfig) { c.WhatsAppEnabled = false })
	h.clock.Advance(30 * time.Minute)
	report, err := h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, model.ScheduleCompleted, report.Results[0].Status)
	assert.Equal(t, service.NoteWhatsAppDisabled, report.Results[0].Message)
	assert.Zero(t, h.sender.count())
	assert.Empty(t, h.attemptsFor(s.ID))
}

func TestTemplatesAreKeyedByAttemptNumber(t *testing.T) {
	h := newHarness(defaultTestConfig())
	h.store.AddTemplate(model.RecoveryTemplate{ID: 1, Name: "Tentativa 11", Type: model.TemplateTypeWhatsApp, AttemptNumber: 11, Content: "wrong template", IsActive: true})
	h.store.AddTemplate(model.RecoveryTemplate{ID: 2, Name: "Tentativa 1", Type: model.TemplateTypeWhatsApp, AttemptNumber: 1, Content: "Oi {{user_name}}, {{plan_name}} por R$ {{amount}} {{unknown}}", IsActive: true})
	h.store.AddPlan(model.Plan{ID: 7, Name: "Premium", Price: 100})
	ctx := context.Background()

	in := sampleInput()
	plan := 7
	in.PlanID = &plan
	s, _, err := h.pipeline.Tracker.CreateSession(ctx, in)
	require.NoError(t, err)

	h.clock.Advance(30 * time.Minute)
	_, err = h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	h.clock.Advance(30 * time.Minute)
	_, err = h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)

	attempts := h.attemptsFor(s.ID)
	require.Len(t, attempts, 1)
	assert.Equal(t, "Oi Maria Silva, Premium por R$ 100.00 {{unknown}}", attempts[0].MessageContent)
}

type panickingSender struct{}

func (panickingSender) SendText(ctx context.Context, number, text string) (string, error) {
	panic("boom")
}

func TestOneFailingScheduleDoesNotAbortTheBatch(t *testing.T) {
	h := newHarness(defaultTestConfig())
	ctx := context.Background()

	first, _, err := h.pipeline.Tracker.CreateSession(ctx, sampleInput())
	require.NoError(t, err)
	h.clock.Advance(30 * time.Minute)
	_, err = h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)

	// second session's abandonment check becomes due together with
	// the first session's attempt 1
	second, _, err := h.pipeline.Tracker.CreateSession(ctx, sampleInput())
	require.NoError(t, err)

	h.pipeline.Dispatcher.Sender = panickingSender{}
	h.clock.Advance(30 * time.Minute)
	report, err := h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Claimed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Completed)

	assert.Equal(t, model.ScheduleFailed, h.schedulesFor(first.ID)[1].Status)
	assert.Equal(t, model.SessionAbandoned, h.session(second.ID).Status)
}

type fakeLock struct {
	held     bool
	released int
}

func (l *fakeLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	if l.held {
		return func() {}, false, nil
	}
	l.held = true
	return func() { l.held = false; l.released++ }, true, nil
}

func TestDrainSkipsWhenLockIsHeld(t *testing.T) {
	h := newHarness(defaultTestConfig())
	lock := &fakeLock{held: true}
	h.pipeline.Scheduler.Lock = lock

	report, err := h.pipeline.Scheduler.Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, service.SkipLockHeld, report.Reason)

	lock.held = false
	report, err = h.pipeline.Scheduler.Drain(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, lock.released)
}

func TestSweepRequeuesStaleAndExpiresOldSessions(t *testing.T) {
	h := newHarness(defaultTestConfig())
	ctx := context.Background()

	s, _, err := h.pipeline.Tracker.CreateSession(ctx, sampleInput())
	require.NoError(t, err)

	// a drain claimed the row and died
	h.clock.Advance(30 * time.Minute)
	claimed, err := h.store.Schedules().ClaimDue(ctx, h.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	abandonedAt := h.clock.Now().Add(-200 * time.Hour)
	old := &model.CartSession{
		SessionID: "old", UserName: "Old", UserEmail: "old@example.com", UserWhatsApp: "1",
		Amount: 10, Frequency: "monthly", Status: model.SessionAbandoned, AbandonedAt: &abandonedAt,
	}
	require.NoError(t, h.store.Sessions().Create(ctx, old))

	h.clock.Advance(5 * time.Minute)
	report, err := h.pipeline.Scheduler.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Requeued)
	assert.Equal(t, int64(1), report.Expired)
	assert.Equal(t, model.SessionExpired, h.session(old.ID).Status)

	h.clock.Advance(15 * time.Minute)
	report, err = h.pipeline.Scheduler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Requeued)

	drained, err := h.pipeline.Scheduler.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, drained.Completed)
	assert.Equal(t, model.SessionAbandoned, h.session(s.ID).Status)
}
