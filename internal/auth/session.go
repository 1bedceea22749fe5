package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/session-gate/internal/domain"
)

// UserReader loads the authoritative user record for a subject.
type UserReader interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// BanReconciler returns the current ban state of a loaded user,
// lapsing a finite ban whose end time has passed.
type BanReconciler interface {
	Reconcile(ctx context.Context, user *domain.User) (domain.BanState, error)
}

// Principal is the identity resolved for a request after validation.
type Principal struct {
	SubjectID int64
	Role      domain.Role
	Ban       domain.BanState
	User      *domain.User
	Session   domain.Session
}

// SessionValidator turns a raw token into a Principal, cross-checking it against
// the user's current role and ban state.
type SessionValidator struct {
	codec  *Codec
	users  UserReader
	bans   BanReconciler
	logger *zap.Logger
}

// NewSessionValidator constructs a validator.
func NewSessionValidator(codec *Codec, users UserReader, bans BanReconciler, logger *zap.Logger) *SessionValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionValidator{codec: codec, users: users, bans: bans, logger: logger}
}

// Validate resolves the principal for token. Expected failures are returned as *Rejection;
// any other error comes from the user store.
func (v *SessionValidator) Validate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, reject(ReasonNoCredential)
	}

	payload, ok := v.codec.Decode(token)
	if !ok {
		return nil, reject(ReasonInvalidOrExpired)
	}

	user, err := v.users.GetByID(ctx, payload.SubjectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reject(ReasonSubjectNotFound)
		}
		return nil, err
	}

	// The token cannot be revoked, so a role change is the only thing that retires it early.
	if user.Role != payload.Role {
		v.logger.Debug("stale role in session",
			zap.Int64("user_id", user.ID),
			zap.String("token_role", string(payload.Role)),
			zap.String("current_role", string(user.Role)))
		return nil, reject(ReasonStaleRole)
	}

	ban, err := v.bans.Reconcile(ctx, user)
	if err != nil {
		return nil, err
	}
	if ban.IsBanned {
		rej := reject(ReasonBanned)
		if ban.Reason != nil {
			rej.BanReason = *ban.Reason
		}
		rej.BannedUntil = ban.BannedUntil
		return nil, rej
	}

	return &Principal{
		SubjectID: user.ID,
		Role:      user.Role,
		Ban:       ban,
		User:      user,
		Session: domain.Session{
			SubjectID: payload.SubjectID,
			Role:      payload.Role,
			ExpiresAt: payload.Expiry(),
		},
	}, nil
}
