package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/session-gate/internal/domain"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
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

func newTestCodec(t *testing.T, clock *testClock) *Codec {
	t.Helper()
	codec, err := NewCodec(testKey, DefaultTokenTTL, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func mustMint(t *testing.T, codec *Codec, id int64, role domain.Role) string {
	t.Helper()
	token, _, err := codec.Mint(id, role)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return token
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[int64]*domain.User
	err   error
}

func newFakeUsers(users ...*domain.User) *fakeUsers {
	f := &fakeUsers{users: make(map[int64]*domain.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *u
	return &clone, nil
}

// fakeBans lapses finite bans against its clock without touching storage.
type fakeBans struct {
	clock *testClock
	err   error
	calls int
}

func (f *fakeBans) Reconcile(_ context.Context, user *domain.User) (domain.BanState, error) {
	f.calls++
	if f.err != nil {
		return domain.BanState{}, f.err
	}
	if user.Ban.Lapsed(f.clock.Now()) {
		user.Ban = domain.Active()
	}
	return user.Ban, nil
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
