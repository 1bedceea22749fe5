package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/session-gate/internal/auth"
	"github.com/spec-kit/session-gate/internal/domain"
	"github.com/spec-kit/session-gate/internal/events"
	"github.com/spec-kit/session-gate/internal/repository"
	apperrors "github.com/spec-kit/session-gate/pkg/util/errorutil"
)

// AccountService manages user records on behalf of administrators.
type AccountService struct {
	users      repository.UserRepository
	dispatcher events.Dispatcher
	bcryptCost int
	logger     *zap.Logger
	now        func() time.Time
}

// NewAccountService builds the service.
func NewAccountService(users repository.UserRepository, dispatcher events.Dispatcher, bcryptCost int, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{users: users, dispatcher: dispatcher, bcryptCost: bcryptCost, logger: logger, now: time.Now}
}

// CreateUser registers an account with a bcrypt password hash.
func (s *AccountService) CreateUser(ctx context.Context, username, email, password string, role domain.Role) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(email) == "" || password == "" {
		return nil, apperrors.NewValidationError("username, email and password are required", nil)
	}
	if !role.Valid() {
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": role})
	}
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, apperrors.NewConflict("username already registered", nil)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	user := &domain.User{Username: username, Email: email, PasswordHash: hash, Role: role}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ChangeRole sets a new role. Tokens minted with the old role stop validating.
func (s *AccountService) ChangeRole(ctx context.Context, subjectID int64, role domain.Role, actor string) (*domain.User, error) {
	if !role.Valid() {
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": role})
	}
	user, err := s.users.GetByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"id": subjectID})
		}
		return nil, err
	}
	if user.Role == role {
		return user, nil
	}

	old := user.Role
	if err := s.users.SetRole(ctx, subjectID, role); err != nil {
		return nil, err
	}
	user.Role = role

	if s.dispatcher != nil {
		if err := s.dispatcher.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventRoleChanged,
			UserID:    subjectID,
			Actor:     actor,
			Timestamp: s.now(),
			Payload:   events.RoleChangedPayload{OldRole: old, NewRole: role},
		}); err != nil {
			s.logger.Warn("event handler failed", zap.Error(err))
		}
	}
	s.logger.Info("role changed",
		zap.Int64("user_id", subjectID),
		zap.String("actor", actor),
		zap.String("old_role", string(old)),
		zap.String("new_role", string(role)))
	return user, nil
}
