package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/session-gate/internal/domain"
	"github.com/spec-kit/session-gate/internal/events"
	"github.com/spec-kit/session-gate/internal/observability"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memUsers is an in-memory UserRepository with the same conditional lapse semantics
// as the SQL implementation.
type memUsers struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.User
	// beforeLapse runs inside LapseBan before the condition is evaluated.
	beforeLapse func(u *domain.User)
	lapses      int
}

func newMemUsers(users ...*domain.User) *memUsers {
	m := &memUsers{rows: make(map[int64]*domain.User), nextID: 100}
	for _, u := range users {
		m.rows[u.ID] = u
	}
	return m
}

func (m *memUsers) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = baseTime
	user.UpdatedAt = baseTime
	clone := *user
	m.rows[user.ID] = &clone
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *u
	return &clone, nil
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.rows {
		if strings.EqualFold(u.Username, username) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memUsers) SetRole(_ context.Context, id int64, role domain.Role) error {
	return m.update(id, func(u *domain.User) { u.Role = role })
}

func (m *memUsers) SetBanState(_ context.Context, id int64, state domain.BanState) error {
	return m.update(id, func(u *domain.User) { u.Ban = state })
}

func (m *memUsers) LapseBan(_ context.Context, id int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	if m.beforeLapse != nil {
		m.beforeLapse(u)
	}
	if !u.Ban.IsBanned || u.Ban.BannedUntil == nil || !u.Ban.BannedUntil.Before(now) {
		return false, nil
	}
	u.Ban = domain.Active()
	m.lapses++
	return true, nil
}

func (m *memUsers) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	return m.update(id, func(u *domain.User) { u.LastLoginAt = &at })
}

func (m *memUsers) update(id int64, fn func(*domain.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return pgx.ErrNoRows
	}
	fn(u)
	return nil
}

func (m *memUsers) get(id int64) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

type memHistory struct {
	mu        sync.Mutex
	entries   []domain.BanHistoryEntry
	err       error
	appendErr error
}

func (m *memHistory) Append(_ context.Context, entry *domain.BanHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.appendErr != nil {
		return m.appendErr
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memHistory) CloseOpen(_ context.Context, userID int64, closedBy string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var closed int64
	for i := range m.entries {
		e := &m.entries[i]
		if e.UserID == userID && e.Action == domain.BanActionBanned && e.ClosedAt == nil {
			closedAt, by := at, closedBy
			e.ClosedAt, e.ClosedBy = &closedAt, &by
			closed++
		}
	}
	return closed, nil
}

func (m *memHistory) ListByUser(_ context.Context, userID int64) ([]domain.BanHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BanHistoryEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// eventLog records every published event.
type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) subscribe(d events.Dispatcher, types ...events.EventType) {
	for _, t := range types {
		d.Subscribe(t, func(_ context.Context, e events.Event) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.events = append(l.events, e)
			return nil
		})
	}
}

func (l *eventLog) types() []events.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

// recordingTx counts units of work.
type recordingTx struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return fn(ctx)
}

func (r *recordingTx) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type banFixture struct {
	clock   *fixedClock
	users   *memUsers
	history *memHistory
	tx      *recordingTx
	events  *eventLog
	metrics *observability.Metrics
	service *BanService
}

func newBanFixture(t *testing.T, users ...*domain.User) *banFixture {
	t.Helper()
	f := &banFixture{
		clock:   &fixedClock{now: baseTime},
		users:   newMemUsers(users...),
		history: &memHistory{},
		tx:      &recordingTx{},
		events:  &eventLog{},
		metrics: newTestMetrics(),
	}
	dispatcher := events.NewInMemoryDispatcher()
	f.events.subscribe(dispatcher, events.EventUserBanned, events.EventUserUnbanned, events.EventBanLapsed, events.EventRoleChanged)
	f.service = NewBanService(BanDependencies{
		UserRepo:    f.users,
		HistoryRepo: f.history,
		Tx:          f.tx,
		Dispatcher:  dispatcher,
		Metrics:     f.metrics,
		Logger:      zaptest.NewLogger(t),
		Clock:       f.clock.Now,
	})
	return f
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

func timePtr(t time.Time) *time.Time { return &t }
