package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/session-gate/internal/domain"
)

type validatorFixture struct {
	clock     *testClock
	codec     *Codec
	users     *fakeUsers
	bans      *fakeBans
	validator *SessionValidator
}

func newValidatorFixture(t *testing.T, users ...*domain.User) *validatorFixture {
	t.Helper()
	clock := newTestClock()
	f := &validatorFixture{
		clock: clock,
		codec: newTestCodec(t, clock),
		users: newFakeUsers(users...),
		bans:  &fakeBans{clock: clock},
	}
	f.validator = NewSessionValidator(f.codec, f.users, f.bans, zaptest.NewLogger(t))
	return f
}

func expectRejection(t *testing.T, err error, want Reason) *Rejection {
	t.Helper()
	rej, ok := AsRejection(err)
	if !ok {
		t.Fatalf("expected rejection %q, got %v", want, err)
	}
	if rej.Reason != want {
		t.Fatalf("reason = %q, want %q", rej.Reason, want)
	}
	return rej
}

func TestValidateAcceptsCurrentSession(t *testing.T) {
	f := newValidatorFixture(t, &domain.User{ID: 5, Username: "mod", Role: domain.RoleModerator})
	token := mustMint(t, f.codec, 5, domain.RoleModerator)

	principal, err := f.validator.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if principal.SubjectID != 5 || principal.Role != domain.RoleModerator || principal.User.Username != "mod" {
		t.Fatalf("unexpected principal %+v", principal)
	}
	if principal.Ban.IsBanned {
		t.Fatal("principal reported as banned")
	}
	if got := principal.Session.Remaining(f.clock.Now()); got != DefaultTokenTTL {
		t.Fatalf("remaining = %v, want %v", got, DefaultTokenTTL)
	}
}

func TestValidateRejections(t *testing.T) {
	f := newValidatorFixture(t, &domain.User{ID: 1, Role: domain.RoleMember})

	t.Run("no credential", func(t *testing.T) {
		_, err := f.validator.Validate(context.Background(), "")
		expectRejection(t, err, ReasonNoCredential)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := f.validator.Validate(context.Background(), strings.Repeat("0", 80))
		expectRejection(t, err, ReasonInvalidOrExpired)
	})

	t.Run("unknown subject", func(t *testing.T) {
		token := mustMint(t, f.codec, 404, domain.RoleMember)
		_, err := f.validator.Validate(context.Background(), token)
		expectRejection(t, err, ReasonSubjectNotFound)
	})
}

func TestValidateExpiredToken(t *testing.T) {
	f := newValidatorFixture(t, &domain.User{ID: 1, Role: domain.RoleMember})
	token := mustMint(t, f.codec, 1, domain.RoleMember)

	f.clock.Advance(DefaultTokenTTL + time.Second)
	_, err := f.validator.Validate(context.Background(), token)
	expectRejection(t, err, ReasonInvalidOrExpired)
	if f.bans.calls != 0 {
		t.Fatal("ban state consulted for an expired token")
	}
}

func TestValidateStaleRole(t *testing.T) {
	user := &domain.User{ID: 8, Role: domain.RoleMember}
	f := newValidatorFixture(t, user)
	token := mustMint(t, f.codec, 8, domain.RoleMember)

	if _, err := f.validator.Validate(context.Background(), token); err != nil {
		t.Fatalf("token should be valid before the promotion: %v", err)
	}

	user.Role = domain.RoleAdmin
	_, err := f.validator.Validate(context.Background(), token)
	rej := expectRejection(t, err, ReasonStaleRole)
	if rej.PublicMessage() != "please sign in again" {
		t.Fatalf("stale role leaked detail: %q", rej.PublicMessage())
	}
}

func TestValidateBanned(t *testing.T) {
	until := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	f := newValidatorFixture(t,
		&domain.User{ID: 2, Role: domain.RoleMember, Ban: domain.BanState{IsBanned: true, Reason: strPtr("spam"), BannedUntil: timePtr(until)}},
		&domain.User{ID: 3, Role: domain.RoleMember, Ban: domain.BanState{IsBanned: true, Reason: strPtr("abuse")}},
	)

	_, err := f.validator.Validate(context.Background(), mustMint(t, f.codec, 2, domain.RoleMember))
	rej := expectRejection(t, err, ReasonBanned)
	if rej.BanReason != "spam" || rej.BannedUntil == nil || !rej.BannedUntil.Equal(until) {
		t.Fatalf("unexpected ban detail %+v", rej)
	}
	if want := "your account has been banned. Reason: spam. Banned until 2024-03-10T00:00:00Z"; rej.PublicMessage() != want {
		t.Fatalf("message = %q, want %q", rej.PublicMessage(), want)
	}

	_, err = f.validator.Validate(context.Background(), mustMint(t, f.codec, 3, domain.RoleMember))
	rej = expectRejection(t, err, ReasonBanned)
	if want := "your account has been banned. Reason: abuse. Permanent ban"; rej.PublicMessage() != want {
		t.Fatalf("message = %q, want %q", rej.PublicMessage(), want)
	}
}

func TestValidateLapsedBanAllows(t *testing.T) {
	f := newValidatorFixture(t)
	f.users.users[4] = &domain.User{ID: 4, Role: domain.RoleMember, Ban: domain.BanState{
		IsBanned:    true,
		Reason:      strPtr("cooldown"),
		BannedUntil: timePtr(f.clock.Now().Add(-time.Second)),
	}}

	principal, err := f.validator.Validate(context.Background(), mustMint(t, f.codec, 4, domain.RoleMember))
	if err != nil {
		t.Fatalf("lapsed ban should not reject: %v", err)
	}
	if principal.Ban.IsBanned {
		t.Fatal("lapsed ban still reported")
	}
}

func TestValidatePropagatesStoreErrors(t *testing.T) {
	f := newValidatorFixture(t, &domain.User{ID: 1, Role: domain.RoleMember})
	token := mustMint(t, f.codec, 1, domain.RoleMember)
	storeErr := errors.New("connection refused")

	f.users.err = storeErr
	if _, err := f.validator.Validate(context.Background(), token); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}

	f.users.err = nil
	f.bans.err = storeErr
	_, err := f.validator.Validate(context.Background(), token)
	if _, isRejection := AsRejection(err); isRejection || !errors.Is(err, storeErr) {
		t.Fatalf("ban lookup failure must not look like a rejection: %v", err)
	}
}

func TestRejectionMessagesAreUniform(t *testing.T) {
	for _, reason := range []Reason{ReasonNoCredential, ReasonInvalidOrExpired, ReasonSubjectNotFound, ReasonStaleRole} {
		if got := reject(reason).PublicMessage(); got != "please sign in again" {
			t.Fatalf("%s: message %q", reason, got)
		}
	}
	for _, reason := range []Reason{ReasonSameOriginRejected, ReasonRoleNotAllowed} {
		if got := reject(reason).PublicMessage(); got != "access denied" {
			t.Fatalf("%s: message %q", reason, got)
		}
	}
}
