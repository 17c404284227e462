// Package memory holds in-process implementations of the repository
// interfaces. They follow the same conditional-update rules as the
// PostgreSQL repositories and back the test suites and local dry runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	appErrors "github.com/unclebandit/cart-recovery-service/internal/errors"
	"github.com/unclebandit/cart-recovery-service/internal/model"
	"github.com/unclebandit/cart-recovery-service/internal/repository"
)

// Store keeps every table in memory behind one mutex.
type Store struct {
	mu        sync.Mutex
	sessions  map[int]*model.CartSession
	schedules map[int]*model.RecoverySchedule
	attempts  map[int]*model.RecoveryAttempt
	clients   map[int]*model.APIClient
	templates []model.RecoveryTemplate
	plans     map[int]*model.Plan
	cfg       model.RecoveryConfig
	nextID    int

	scheduleErr error
}

func NewStore(cfg model.RecoveryConfig) *Store {
	return &Store{
		sessions:  map[int]*model.CartSession{},
		schedules: map[int]*model.RecoverySchedule{},
		attempts:  map[int]*model.RecoveryAttempt{},
		clients:   map[int]*model.APIClient{},
		plans:     map[int]*model.Plan{},
		cfg:       cfg,
	}
}

func (m *Store) id() int {
	m.nextID++
	return m.nextID
}

// FailScheduleWrites makes every schedule insert return err until it is
// called again with nil.
func (m *Store) FailScheduleWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduleErr = err
}

func (m *Store) SetConfig(cfg model.RecoveryConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

func (m *Store) UpdateConfig(fn func(*model.RecoveryConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.cfg)
}

func (m *Store) AddTemplate(t model.RecoveryTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates = append(m.templates, t)
}

func (m *Store) AddPlan(p model.Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.plans[p.ID] = &cp
}

func (m *Store) Sessions() *SessionRepo     { return &SessionRepo{m} }
func (m *Store) Schedules() *ScheduleRepo   { return &ScheduleRepo{m} }
func (m *Store) Attempts() *AttemptRepo     { return &AttemptRepo{m} }
func (m *Store) Config() *ConfigRepo        { return &ConfigRepo{m} }
func (m *Store) APIClients() *APIClientRepo { return &APIClientRepo{m} }

type SessionRepo struct{ s *Store }

var _ repository.SessionRepositoryInterface = (*SessionRepo)(nil)

func (r *SessionRepo) Create(ctx context.Context, s *model.CartSession) error {
	return r.CreateWithCheck(ctx, s, nil)
}

func (r *SessionRepo) CreateWithCheck(ctx context.Context, s *model.CartSession, check *model.RecoverySchedule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.sessions {
		if existing.SessionID == s.SessionID {
			return fmt.Errorf("cart session %s: %w", s.SessionID, appErrors.ErrDuplicate)
		}
	}
	if check != nil && r.s.scheduleErr != nil {
		return fmt.Errorf("insert abandonment check: %w", r.s.scheduleErr)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.Status == "" {
		s.Status = model.SessionActive
	}
	s.ID = r.s.id()
	cp := *s
	r.s.sessions[s.ID] = &cp

	if check != nil {
		check.CartSessionID = s.ID
		check.ID = r.s.id()
		if check.Status == "" {
			check.Status = model.SchedulePending
		}
		sch := *check
		r.s.schedules[check.ID] = &sch
	}
	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id int) (*model.CartSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	s, ok := r.s.sessions[id]
	if !ok {
		return nil, appErrors.NewSessionNotFound(fmt.Sprintf("#%d", id))
	}
	cp := *s
	return &cp, nil
}

func (r *SessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*model.CartSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, s := range r.s.sessions {
		if s.SessionID == sessionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, appErrors.NewSessionNotFound(sessionID)
}

func (r *SessionRepo) Transition(ctx context.Context, id int, to model.SessionStatus, at time.Time, metadata json.RawMessage) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	s, ok := r.s.sessions[id]
	if !ok || !model.CanTransition(s.Status, to) {
		return false, nil
	}
	t := at
	switch to {
	case model.SessionAbandoned:
		s.AbandonedAt = &t
	case model.SessionCompleted:
		s.CompletedAt = &t
	case model.SessionConverted:
		s.ConvertedAt = &t
	case model.SessionExpired:
		s.ExpiredAt = &t
	default:
		return false, fmt.Errorf("no transition into status %s", to)
	}
	s.Status = to
	if len(metadata) > 0 {
		s.Metadata = metadata
	}
	return true, nil
}

func (r *SessionRepo) List(ctx context.Context, f repository.SessionFilter) ([]*model.CartSession, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := []*model.CartSession{}
	for _, s := range r.s.sessions {
		if !matches(s, f) {
			continue
		}
		cp := *s
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if f.Offset >= total {
		return []*model.CartSession{}, total, nil
	}
	end := f.Offset + f.Limit
	if f.Limit <= 0 || end > total {
		end = total
	}
	return all[f.Offset:end], total, nil
}

func matches(s *model.CartSession, f repository.SessionFilter) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.StartDate != nil && s.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && s.CreatedAt.After(*f.EndDate) {
		return false
	}
	if f.CreatedAfter != nil && s.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.Email != "" && !strings.Contains(strings.ToLower(s.UserEmail), strings.ToLower(f.Email)) {
		return false
	}
	if f.WhatsApp != "" && !strings.Contains(strings.ToLower(s.UserWhatsApp), strings.ToLower(f.WhatsApp)) {
		return false
	}
	return true
}

func (r *SessionRepo) ExpireAbandoned(ctx context.Context, before, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, s := range r.s.sessions {
		if s.Status != model.SessionAbandoned || s.AbandonedAt == nil || !s.AbandonedAt.Before(before) {
			continue
		}
		if r.s.hasOpenSchedule(s.ID) {
			continue
		}
		t := now
		s.Status = model.SessionExpired
		s.ExpiredAt = &t
		n++
	}
	return n, nil
}

func (m *Store) hasOpenSchedule(cartSessionID int) bool {
	for _, sch := range m.schedules {
		if sch.CartSessionID == cartSessionID && (sch.Status == model.SchedulePending || sch.Status == model.ScheduleProcessing) {
			return true
		}
	}
	return false
}

type ScheduleRepo struct{ s *Store }

var _ repository.ScheduleRepositoryInterface = (*ScheduleRepo)(nil)

func (r *ScheduleRepo) Create(ctx context.Context, sch *model.RecoverySchedule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.scheduleErr != nil {
		return r.s.scheduleErr
	}
	for _, existing := range r.s.schedules {
		if existing.CartSessionID == sch.CartSessionID && existing.AttemptNumber == sch.AttemptNumber {
			*sch = *existing
			return nil
		}
	}
	sch.ID = r.s.id()
	if sch.Status == "" {
		sch.Status = model.SchedulePending
	}
	cp := *sch
	r.s.schedules[sch.ID] = &cp
	return nil
}

func (r *ScheduleRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.RecoverySchedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []*model.RecoverySchedule
	for _, sch := range r.s.schedules {
		if sch.Status == model.SchedulePending && !sch.ScheduledAt.After(now) {
			due = append(due, sch)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*model.RecoverySchedule, len(due))
	for i, sch := range due {
		t := now
		sch.Status = model.ScheduleProcessing
		sch.ClaimedAt = &t
		cp := *sch
		out[i] = &cp
	}
	return out, nil
}

func (r *ScheduleRepo) finish(id int, status model.ScheduleStatus, msg string, at time.Time) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sch, ok := r.s.schedules[id]
	if !ok || sch.Status != model.ScheduleProcessing {
		return
	}
	t := at
	sch.Status = status
	sch.ErrorMessage = msg
	sch.ProcessedAt = &t
}

func (r *ScheduleRepo) MarkCompleted(ctx context.Context, id int, note string, at time.Time) error {
	r.finish(id, model.ScheduleCompleted, note, at)
	return nil
}

func (r *ScheduleRepo) MarkFailed(ctx context.Context, id int, errMsg string, at time.Time) error {
	r.finish(id, model.ScheduleFailed, errMsg, at)
	return nil
}

func (r *ScheduleRepo) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, sch := range r.s.schedules {
		if sch.Status == model.ScheduleProcessing && sch.ClaimedAt != nil && sch.ClaimedAt.Before(claimedBefore) {
			sch.Status = model.SchedulePending
			sch.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (r *ScheduleRepo) ListBySession(ctx context.Context, cartSessionID int) ([]*model.RecoverySchedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.RecoverySchedule{}
	for _, sch := range r.s.schedules {
		if sch.CartSessionID == cartSessionID {
			cp := *sch
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

type AttemptRepo struct{ s *Store }

var _ repository.AttemptRepositoryInterface = (*AttemptRepo)(nil)

func (r *AttemptRepo) Create(ctx context.Context, a *model.RecoveryAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Status == "" {
		a.Status = model.AttemptPending
	}
	a.ID = r.s.id()
	cp := *a
	r.s.attempts[a.ID] = &cp
	return nil
}

func (r *AttemptRepo) MarkSent(ctx context.Context, id int, externalID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attempts[id]
	if !ok {
		return fmt.Errorf("attempt %d not found", id)
	}
	t := at
	a.Status = model.AttemptSent
	a.ExternalMessageID = externalID
	a.SentAt = &t
	return nil
}

func (r *AttemptRepo) MarkFailed(ctx context.Context, id int, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attempts[id]
	if !ok {
		return fmt.Errorf("attempt %d not found", id)
	}
	a.Status = model.AttemptFailed
	a.ErrorMessage = errMsg
	return nil
}

func (r *AttemptRepo) ListBySessions(ctx context.Context, ids []int) (map[int][]model.RecoveryAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := map[int]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := map[int][]model.RecoveryAttempt{}
	for _, a := range r.s.attempts {
		if want[a.CartSessionID] {
			out[a.CartSessionID] = append(out[a.CartSessionID], *a)
		}
	}
	for _, list := range out {
		sort.Slice(list, func(i, j int) bool {
			if list[i].AttemptNumber == list[j].AttemptNumber {
				return list[i].ID < list[j].ID
			}
			return list[i].AttemptNumber < list[j].AttemptNumber
		})
	}
	return out, nil
}

func (r *AttemptRepo) MarkLatestConverted(ctx context.Context, cartSessionID int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *model.RecoveryAttempt
	for _, a := range r.s.attempts {
		if a.CartSessionID != cartSessionID || !a.Status.Dispatched() {
			continue
		}
		if latest == nil || a.AttemptNumber > latest.AttemptNumber ||
			(a.AttemptNumber == latest.AttemptNumber && a.ID > latest.ID) {
			latest = a
		}
	}
	if latest != nil {
		latest.Status = model.AttemptConverted
	}
	return nil
}

type ConfigRepo struct{ s *Store }

var _ repository.ConfigRepositoryInterface = (*ConfigRepo)(nil)

func (r *ConfigRepo) GetConfig(ctx context.Context) (model.RecoveryConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.cfg, nil
}

func (r *ConfigRepo) ListTemplates(ctx context.Context, onlyActive bool) ([]model.RecoveryTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.RecoveryTemplate{}
	for _, t := range r.s.templates {
		if !onlyActive || t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *ConfigRepo) TemplateForAttempt(ctx context.Context, templateType string, attempt int) (*model.RecoveryTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.templates {
		if t.IsActive && t.Type == templateType && t.AttemptNumber == attempt {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *ConfigRepo) GetPlan(ctx context.Context, id int) (*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.plans[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

type APIClientRepo struct{ s *Store }

var _ repository.APIClientRepositoryInterface = (*APIClientRepo)(nil)

func (r *APIClientRepo) Create(ctx context.Context, c *model.APIClient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.clients {
		if existing.TokenHash == c.TokenHash {
			return fmt.Errorf("api client: %w", appErrors.ErrDuplicate)
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.ID = r.s.id()
	c.IsActive = true
	cp := *c
	r.s.clients[c.ID] = &cp
	return nil
}

func (r *APIClientRepo) GetActiveByTokenHash(ctx context.Context, hash string) (*model.APIClient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.clients {
		if c.TokenHash == hash && c.IsActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *APIClientRepo) TouchLastUsed(ctx context.Context, id int, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.clients[id]; ok {
		t := at
		c.LastUsedAt = &t
	}
	return nil
}

func (r *APIClientRepo) Deactivate(ctx context.Context, id int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.clients[id]
	if !ok || !c.IsActive {
		return false, nil
	}
	c.IsActive = false
	return true, nil
}
