package service

import (
	"context"
	"net/http"
	"testing"

	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/session-gate/internal/auth"
	"github.com/spec-kit/session-gate/internal/domain"
	"github.com/spec-kit/session-gate/internal/events"
)

func TestCreateUser(t *testing.T) {
	users := newMemUsers()
	accounts := NewAccountService(users, nil, bcrypt.MinCost, zaptest.NewLogger(t))

	user, err := accounts.CreateUser(context.Background(), " alice ", "alice@example.com", "pw-123456", domain.RoleMember)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.ID == 0 || user.Username != "alice" {
		t.Fatalf("unexpected user %+v", user)
	}
	if err := auth.ComparePassword(user.PasswordHash, "pw-123456"); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}

	_, err = accounts.CreateUser(context.Background(), "alice", "other@example.com", "pw", domain.RoleMember)
	expectStatus(t, err, http.StatusConflict)

	_, err = accounts.CreateUser(context.Background(), "bob", "bob@example.com", "pw", domain.Role("owner"))
	expectStatus(t, err, http.StatusBadRequest)
}

func TestChangeRolePublishesEvent(t *testing.T) {
	users := newMemUsers(&domain.User{ID: 1, Username: "alice", Role: domain.RoleMember})
	dispatcher := events.NewInMemoryDispatcher()
	log := &eventLog{}
	log.subscribe(dispatcher, events.EventRoleChanged)
	accounts := NewAccountService(users, dispatcher, bcrypt.MinCost, zaptest.NewLogger(t))

	user, err := accounts.ChangeRole(context.Background(), 1, domain.RoleSupport, "root")
	if err != nil {
		t.Fatalf("ChangeRole: %v", err)
	}
	if user.Role != domain.RoleSupport || users.get(1).Role != domain.RoleSupport {
		t.Fatal("role not updated")
	}
	if len(log.events) != 1 {
		t.Fatalf("events = %v", log.types())
	}
	payload, ok := log.events[0].Payload.(events.RoleChangedPayload)
	if !ok || payload.OldRole != domain.RoleMember || payload.NewRole != domain.RoleSupport || log.events[0].Actor != "root" {
		t.Fatalf("unexpected event %+v", log.events[0])
	}

	if _, err := accounts.ChangeRole(context.Background(), 1, domain.RoleSupport, "root"); err != nil {
		t.Fatal(err)
	}
	if len(log.events) != 1 {
		t.Fatal("unchanged role must not publish")
	}

	_, err = accounts.ChangeRole(context.Background(), 1, domain.Role("owner"), "root")
	expectStatus(t, err, http.StatusBadRequest)
	_, err = accounts.ChangeRole(context.Background(), 9, domain.RoleAdmin, "root")
	expectStatus(t, err, http.StatusNotFound)
}
