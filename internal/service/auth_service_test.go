package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/session-gate/internal/auth"
	"github.com/spec-kit/session-gate/internal/domain"
	apperrors "github.com/spec-kit/session-gate/pkg/util/errorutil"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type authFixture struct {
	*banFixture
	codec   *auth.Codec
	service *AuthService
}

func newAuthFixture(t *testing.T, users ...*domain.User) *authFixture {
	t.Helper()
	bf := newBanFixture(t, users...)
	codec, err := auth.NewCodec(testKey, auth.DefaultTokenTTL, auth.WithClock(bf.clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	logger := zaptest.NewLogger(t)
	validator := auth.NewSessionValidator(codec, bf.users, bf.service, logger)
	return &authFixture{
		banFixture: bf,
		codec:      codec,
		service: NewAuthService(AuthDependencies{
			UserRepo:  bf.users,
			Bans:      bf.service,
			Codec:     codec,
			Validator: validator,
			Metrics:   bf.metrics,
			Logger:    logger,
			Clock:     bf.clock.Now,
		}),
	}
}

func userWithPassword(t *testing.T, id int64, username, password string, role domain.Role) *domain.User {
	t.Helper()
	hash, err := auth.HashPassword(password, bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return &domain.User{ID: id, Username: username, Email: username + "@example.com", PasswordHash: hash, Role: role}
}

func TestLoginIssuesDecodableToken(t *testing.T) {
	f := newAuthFixture(t, userWithPassword(t, 1, "alice", "s3cret-pass", domain.RolePlus))

	issued, err := f.service.Login(context.Background(), "alice", "s3cret-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	payload, ok := f.codec.Decode(issued.Token)
	if !ok {
		t.Fatal("issued token does not decode")
	}
	if payload.SubjectID != 1 || payload.Role != domain.RolePlus {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if !issued.ExpiresAt.Equal(baseTime.Add(auth.DefaultTokenTTL)) {
		t.Fatalf("expiresAt = %v", issued.ExpiresAt)
	}
	if last := f.users.get(1).LastLoginAt; last == nil || !last.Equal(baseTime) {
		t.Fatalf("last login not recorded: %v", last)
	}

	principal, err := f.service.CurrentSession(context.Background(), issued.Token)
	if err != nil || principal.SubjectID != 1 {
		t.Fatalf("CurrentSession: %+v, %v", principal, err)
	}
	if got := testutil.ToFloat64(f.metrics.LoginAttempts.WithLabelValues("password", "success")); got != 1 {
		t.Fatalf("success metric = %v", got)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newAuthFixture(t, userWithPassword(t, 1, "alice", "s3cret-pass", domain.RoleMember))

	for _, tc := range []struct{ username, password string }{
		{"alice", "wrong"},
		{"mallory", "s3cret-pass"},
	} {
		_, err := f.service.Login(context.Background(), tc.username, tc.password)
		expectStatus(t, err, http.StatusUnauthorized)
		var de *apperrors.DomainError
		if errors.As(err, &de) && de.Message != "invalid credentials" {
			t.Fatalf("unknown user and wrong password must look alike: %q", de.Message)
		}
	}
}

func TestLoginBannedUser(t *testing.T) {
	until := baseTime.Add(48 * time.Hour)
	user := userWithPassword(t, 1, "alice", "s3cret-pass", domain.RoleMember)
	user.Ban = domain.BanState{IsBanned: true, Reason: strPtr("spam"), BannedUntil: &until}
	f := newAuthFixture(t, user)

	_, err := f.service.Login(context.Background(), "alice", "s3cret-pass")
	expectStatus(t, err, http.StatusForbidden)

	var de *apperrors.DomainError
	if !errors.As(err, &de) {
		t.Fatal(err)
	}
	if de.Code != "ACCOUNT_BANNED" || de.Details["reason"] != "spam" || de.Details["banned_until"] != "2024-03-03T12:00:00Z" {
		t.Fatalf("unexpected ban error %+v", de)
	}
	if want := "your account has been banned. Reason: spam. Banned until 2024-03-03T12:00:00Z"; de.Message != want {
		t.Fatalf("message = %q", de.Message)
	}
	if f.users.get(1).LastLoginAt != nil {
		t.Fatal("banned login must not be recorded")
	}
}

func TestLoginAfterBanLapsed(t *testing.T) {
	user := userWithPassword(t, 1, "alice", "s3cret-pass", domain.RoleMember)
	user.Ban = domain.BanState{IsBanned: true, Reason: strPtr("spam"), BannedUntil: timePtr(baseTime.Add(-time.Second))}
	f := newAuthFixture(t, user)

	if _, err := f.service.Login(context.Background(), "alice", "s3cret-pass"); err != nil {
		t.Fatalf("login after lapse: %v", err)
	}
	entries := f.history.entries
	if len(entries) != 1 || entries[0].Actor != domain.SystemExpirationActor {
		t.Fatalf("expected a lapse entry, got %+v", entries)
	}
}

func TestIssueFederated(t *testing.T) {
	f := newAuthFixture(t, &domain.User{ID: 5, Username: "oauth-user", Role: domain.RoleUltra})

	issued, err := f.service.IssueFederated(context.Background(), 5, domain.RoleUltra)
	if err != nil {
		t.Fatalf("IssueFederated: %v", err)
	}
	if payload, ok := f.codec.Decode(issued.Token); !ok || payload.Role != domain.RoleUltra {
		t.Fatalf("bad federated token %+v", payload)
	}

	_, err = f.service.IssueFederated(context.Background(), 5, domain.RoleAdmin)
	expectStatus(t, err, http.StatusUnauthorized)

	_, err = f.service.IssueFederated(context.Background(), 77, domain.RoleMember)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestRoleChangeRetiresOutstandingTokens(t *testing.T) {
	f := newAuthFixture(t, userWithPassword(t, 1, "alice", "s3cret-pass", domain.RoleMember))
	accounts := NewAccountService(f.users, nil, bcrypt.MinCost, zaptest.NewLogger(t))

	issued, err := f.service.Login(context.Background(), "alice", "s3cret-pass")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := accounts.ChangeRole(context.Background(), 1, domain.RoleAdmin, "root"); err != nil {
		t.Fatal(err)
	}

	_, err = f.service.CurrentSession(context.Background(), issued.Token)
	rej, ok := auth.AsRejection(err)
	if !ok || rej.Reason != auth.ReasonStaleRole {
		t.Fatalf("expected stale role rejection, got %v", err)
	}
}

type countingVerifier struct {
	hashes []string
}

func (v *countingVerifier) Verify(candidate, storedHash string) bool {
	v.hashes = append(v.hashes, storedHash)
	return auth.PasswordVerifier{}.Verify(candidate, storedHash)
}

func TestLoginUnknownUserComparesDecoyHash(t *testing.T) {
	bf := newBanFixture(t, userWithPassword(t, 1, "alice", "s3cret-pass", domain.RoleMember))
	codec, err := auth.NewCodec(testKey, auth.DefaultTokenTTL, auth.WithClock(bf.clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	verifier := &countingVerifier{}
	svc := NewAuthService(AuthDependencies{
		UserRepo:  bf.users,
		Bans:      bf.service,
		Codec:     codec,
		Passwords: verifier,
		Metrics:   bf.metrics,
		Logger:    zaptest.NewLogger(t),
		Clock:     bf.clock.Now,
		DecoyCost: bcrypt.MinCost,
	})

	for i := 0; i < 2; i++ {
		_, err := svc.Login(context.Background(), "mallory", "s3cret-pass")
		expectStatus(t, err, http.StatusUnauthorized)
	}
	if len(verifier.hashes) != 2 {
		t.Fatalf("unknown username ran %d hash comparisons, want 2", len(verifier.hashes))
	}
	decoy := verifier.hashes[0]
	if decoy == "" || decoy != verifier.hashes[1] {
		t.Fatalf("expected one reusable decoy hash, got %q and %q", decoy, verifier.hashes[1])
	}
	if cost, err := bcrypt.Cost([]byte(decoy)); err != nil || cost != bcrypt.MinCost {
		t.Fatalf("decoy cost = %d (%v), want %d", cost, err, bcrypt.MinCost)
	}
}
