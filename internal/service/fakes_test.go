package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/cart-recovery-service/internal/gateway"
	"github.com/unclebandit/cart-recovery-service/internal/model"
	"github.com/unclebandit/cart-recovery-service/internal/repository/memory"
	"github.com/unclebandit/cart-recovery-service/internal/service"
)

type sentMessage struct {
	Number string
	Text   string
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []sentMessage
}

func (f *fakeSender) SendText(ctx context.Context, number, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMessage{Number: number, Text: text})
	return fmt.Sprintf("wamid-%d", len(f.sent)), nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// testClock is a settable clock shared by every component of a harness.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store    *memory.Store
	sender   *fakeSender
	clock    *testClock
	pipeline *service.Pipeline
}

var _ gateway.Sender = (*fakeSender)(nil)

func defaultTestConfig() model.RecoveryConfig {
	return model.RecoveryConfig{
		Enabled:          true,
		WhatsAppEnabled:  true,
		DelayMinutes:     30,
		MaxAttempts:      3,
		CheckoutBaseURL:  "https://app.example.com/checkout",
		ExpireAfterHours: 168,
	}
}

func newHarness(cfg model.RecoveryConfig) *harness {
	store := memory.NewStore(cfg)
	sender := &fakeSender{}
	clock := &testClock{now: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
	p := service.NewPipeline(service.PipelineDeps{
		Sessions:  store.Sessions(),
		Schedules: store.Schedules(),
		Attempts:  store.Attempts(),
		Templates: store.Config(),
		Config:    store.Config(),
		Sender:    sender,
		Log:       zerolog.Nop(),
		Clock:     clock.Now,
		BatchSize: 50,
	})
	return &harness{store: store, sender: sender, clock: clock, pipeline: p}
}

func (h *harness) schedulesFor(cartSessionID int) []*model.RecoverySchedule {
	out, _ := h.store.Schedules().ListBySession(context.Background(), cartSessionID)
	return out
}

func (h *harness) attemptsFor(cartSessionID int) []model.RecoveryAttempt {
	out, _ := h.store.Attempts().ListBySessions(context.Background(), []int{cartSessionID})
	return out[cartSessionID]
}

func (h *harness) session(id int) *model.CartSession {
	s, _ := h.store.Sessions().GetByID(context.Background(), id)
	return s
}

func sampleInput() service.CreateSessionInput {
	return service.CreateSessionInput{
		UserName:     "Maria Silva",
		UserEmail:    "maria@example.com",
		UserWhatsApp: "11987654321",
		Amount:       100,
		Frequency:    "monthly",
	}
}
