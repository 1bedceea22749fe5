package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/session-gate/internal/domain"
	"github.com/spec-kit/session-gate/internal/events"
	"github.com/spec-kit/session-gate/internal/observability"
	"github.com/spec-kit/session-gate/internal/repository"
	apperrors "github.com/spec-kit/session-gate/pkg/util/errorutil"
)

// BanCommand describes an administrative ban.
// A nil DurationDays, or domain.PermanentBanDays, bans permanently.
type BanCommand struct {
	SubjectID    int64
	Actor        string
	Reason       string
	DurationDays *int
}

// BanService evaluates and transitions account suspension state.
// Expired temporary bans are lapsed lazily, whenever login or validation touches the account.
type BanService struct {
	users      repository.UserRepository
	history    repository.BanHistoryRepository
	tx         repository.Transactor
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// BanDependencies encapsulates collaborators for the ban service.
type BanDependencies struct {
	UserRepo    repository.UserRepository
	HistoryRepo repository.BanHistoryRepository
	// Tx makes each ban state change and its history rows atomic. Nil runs them unwrapped.
	Tx          repository.Transactor
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
}

// NewBanService builds the service.
func NewBanService(deps BanDependencies) *BanService {
	s := &BanService{
		users:      deps.UserRepo,
		history:    deps.HistoryRepo,
		tx:         deps.Tx,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        deps.Clock,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CheckAndLapse returns the subject's current ban state, clearing it first if a
// temporary ban has run out.
func (s *BanService) CheckAndLapse(ctx context.Context, subjectID int64) (domain.BanState, error) {
	user, err := s.users.GetByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BanState{}, apperrors.NewNotFound("user", map[string]any{"id": subjectID})
		}
		return domain.BanState{}, err
	}
	return s.Reconcile(ctx, user)
}

// Reconcile is CheckAndLapse for an already loaded record. user.Ban is updated in place.
func (s *BanService) Reconcile(ctx context.Context, user *domain.User) (domain.BanState, error) {
	now := s.now()
	if !user.Ban.Lapsed(now) {
		return user.Ban, nil
	}

	lapsed, err := s.users.LapseBan(ctx, user.ID, now)
	if err != nil {
		return domain.BanState{}, err
	}
	if !lapsed {
		// Someone else changed the row first; report what is stored now.
		fresh, err := s.users.GetByID(ctx, user.ID)
		if err != nil {
			return domain.BanState{}, err
		}
		user.Ban = fresh.Ban
		return fresh.Ban, nil
	}

	previous := user.Ban
	user.Ban = domain.Active()

	// The ban is already lifted; an audit failure must not lock the user out again.
	if err := s.recordLift(ctx, user.ID, domain.BanActionLapsed, domain.SystemExpirationActor, now); err != nil {
		s.logger.Error("failed to record ban lapse", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	s.metrics.RecordBanTransition(string(domain.BanActionLapsed))
	s.publish(ctx, events.EventBanLapsed, user.ID, domain.SystemExpirationActor, now,
		events.BanLiftedPayload{PreviousReason: previous.Reason})

	s.logger.Info("temporary ban lapsed", zap.Int64("user_id", user.ID))
	return user.Ban, nil
}

// Ban suspends an account.
func (s *BanService) Ban(ctx context.Context, cmd BanCommand) (domain.BanState, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return domain.BanState{}, apperrors.NewValidationError("ban reason is required", nil)
	}
	if cmd.DurationDays != nil && *cmd.DurationDays <= 0 {
		return domain.BanState{}, apperrors.NewValidationError("ban duration must be positive", map[string]any{
			"duration_days": *cmd.DurationDays,
		})
	}
	if _, err := s.loadUser(ctx, cmd.SubjectID); err != nil {
		return domain.BanState{}, err
	}

	now := s.now()
	state := domain.BanState{IsBanned: true, Reason: &reason}
	if d := cmd.DurationDays; d != nil && *d != domain.PermanentBanDays {
		until := now.AddDate(0, 0, *d)
		state.BannedUntil = &until
	}

	// History is written before the user row, so no state change lands without its entry.
	err := s.withinTx(ctx, func(ctx context.Context) error {
		// A re-ban supersedes whatever ban was still open.
		if _, err := s.history.CloseOpen(ctx, cmd.SubjectID, cmd.Actor, now); err != nil {
			return err
		}
		if err := s.history.Append(ctx, &domain.BanHistoryEntry{
			ID:           uuid.New(),
			UserID:       cmd.SubjectID,
			Action:       domain.BanActionBanned,
			Actor:        cmd.Actor,
			Reason:       &reason,
			DurationDays: cmd.DurationDays,
			BannedUntil:  state.BannedUntil,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		return s.users.SetBanState(ctx, cmd.SubjectID, state)
	})
	if err != nil {
		return domain.BanState{}, err
	}

	s.metrics.RecordBanTransition(string(domain.BanActionBanned))
	s.publish(ctx, events.EventUserBanned, cmd.SubjectID, cmd.Actor, now,
		events.UserBannedPayload{Reason: reason, BannedUntil: state.BannedUntil})
	s.logger.Info("user banned",
		zap.Int64("user_id", cmd.SubjectID),
		zap.String("actor", cmd.Actor),
		zap.Bool("permanent", state.Permanent()))
	return state, nil
}

// Unban lifts a ban and closes the open history entry.
func (s *BanService) Unban(ctx context.Context, subjectID int64, actor string) error {
	user, err := s.loadUser(ctx, subjectID)
	if err != nil {
		return err
	}
	if !user.Ban.IsBanned {
		return apperrors.NewValidationError("user is not banned", map[string]any{"id": subjectID})
	}

	now := s.now()
	err = s.withinTx(ctx, func(ctx context.Context) error {
		if err := s.recordLift(ctx, subjectID, domain.BanActionUnbanned, actor, now); err != nil {
			return err
		}
		return s.users.SetBanState(ctx, subjectID, domain.Active())
	})
	if err != nil {
		return err
	}

	s.metrics.RecordBanTransition(string(domain.BanActionUnbanned))
	s.publish(ctx, events.EventUserUnbanned, subjectID, actor, now,
		events.BanLiftedPayload{PreviousReason: user.Ban.Reason})
	s.logger.Info("user unbanned", zap.Int64("user_id", subjectID), zap.String("actor", actor))
	return nil
}

// History lists the ban audit trail of a user, oldest first.
func (s *BanService) History(ctx context.Context, subjectID int64) ([]domain.BanHistoryEntry, error) {
	if _, err := s.loadUser(ctx, subjectID); err != nil {
		return nil, err
	}
	return s.history.ListByUser(ctx, subjectID)
}

func (s *BanService) recordLift(ctx context.Context, userID int64, action domain.BanAction, actor string, now time.Time) error {
	if err := s.history.Append(ctx, &domain.BanHistoryEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Action:    action,
		Actor:     actor,
		CreatedAt: now,
	}); err != nil {
		return err
	}
	_, err := s.history.CloseOpen(ctx, userID, actor, now)
	return err
}

func (s *BanService) withinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.WithinTx(ctx, fn)
}

func (s *BanService) loadUser(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"id": id})
		}
		return nil, err
	}
	return user, nil
}

func (s *BanService) publish(ctx context.Context, eventType events.EventType, userID int64, actor string, at time.Time, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	err := s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Actor:     actor,
		Timestamp: at,
		Payload:   payload,
	})
	if err != nil {
		s.logger.Warn("event handler failed", zap.String("event", string(eventType)), zap.Error(err))
	}
}
