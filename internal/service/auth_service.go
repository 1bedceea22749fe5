package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/session-gate/internal/auth"
	"github.com/spec-kit/session-gate/internal/domain"
	"github.com/spec-kit/session-gate/internal/observability"
	"github.com/spec-kit/session-gate/internal/repository"
	"github.com/spec-kit/session-gate/internal/throttle"
	apperrors "github.com/spec-kit/session-gate/pkg/util/errorutil"
)

const (
	loginMethodPassword  = "password"
	loginMethodFederated = "federated"
)

// CredentialVerifier compares a candidate password with a stored hash.
type CredentialVerifier interface {
	Verify(candidate, storedHash string) bool
}

// IssuedSession is the result of a successful login.
type IssuedSession struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// AuthService coordinates login and session issuance. It is the only writer of tokens.
type AuthService struct {
	users     repository.UserRepository
	bans      *BanService
	codec     *auth.Codec
	validator *auth.SessionValidator
	passwords CredentialVerifier
	throttle  *throttle.LoginThrottle
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time

	decoyCost int
	decoyOnce sync.Once
	decoyHash string
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	UserRepo  repository.UserRepository
	Bans      *BanService
	Codec     *auth.Codec
	Validator *auth.SessionValidator
	Passwords CredentialVerifier
	Throttle  *throttle.LoginThrottle
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	Clock     func() time.Time
	// DecoyCost is the bcrypt cost of the hash compared when the username is unknown.
	// It should match the cost of stored hashes.
	DecoyCost int
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	s := &AuthService{
		users:     deps.UserRepo,
		bans:      deps.Bans,
		codec:     deps.Codec,
		validator: deps.Validator,
		passwords: deps.Passwords,
		throttle:  deps.Throttle,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       deps.Clock,
		decoyCost: deps.DecoyCost,
	}
	if s.decoyCost == 0 {
		s.decoyCost = bcrypt.DefaultCost
	}
	if s.passwords == nil {
		s.passwords = auth.PasswordVerifier{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Login authenticates with username and password and mints a session token.
func (s *AuthService) Login(ctx context.Context, username, password string) (*IssuedSession, error) {
	retryAfter, err := s.throttle.Check(ctx, username)
	switch {
	case errors.Is(err, throttle.ErrLocked):
		s.metrics.RecordLogin(loginMethodPassword, "throttled")
		return nil, apperrors.NewTooManyRequests("too many failed login attempts", retryAfter)
	case err != nil:
		s.logger.Warn("login throttle unavailable; continuing", zap.Error(err))
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Pay the same hashing cost as a wrong password so timing does not reveal the username.
			s.passwords.Verify(password, s.decoy())
			return nil, s.rejectCredentials(ctx, username)
		}
		return nil, err
	}
	if !s.passwords.Verify(password, user.PasswordHash) {
		return nil, s.rejectCredentials(ctx, username)
	}

	issued, err := s.issue(ctx, user, loginMethodPassword)
	if err != nil {
		return nil, err
	}
	if err := s.throttle.Reset(ctx, username); err != nil {
		s.logger.Warn("failed to reset login throttle", zap.Error(err))
	}
	return issued, nil
}

// IssueFederated mints a session for an identity already verified by a federated
// login exchange. The asserted role must still be the stored role.
func (s *AuthService) IssueFederated(ctx context.Context, subjectID int64, role domain.Role) (*IssuedSession, error) {
	user, err := s.users.GetByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.metrics.RecordLogin(loginMethodFederated, "unknown_subject")
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, err
	}
	if user.Role != role {
		s.metrics.RecordLogin(loginMethodFederated, "stale_role")
		return nil, apperrors.NewUnauthorized("please sign in again")
	}
	return s.issue(ctx, user, loginMethodFederated)
}

func (s *AuthService) decoy() string {
	s.decoyOnce.Do(func() {
		hash, err := auth.HashPassword(uuid.NewString(), s.decoyCost)
		if err != nil {
			s.logger.Error("failed to build decoy password hash", zap.Error(err))
			return
		}
		s.decoyHash = hash
	})
	return s.decoyHash
}

// CurrentSession resolves the principal behind token.
func (s *AuthService) CurrentSession(ctx context.Context, token string) (*auth.Principal, error) {
	return s.validator.Validate(ctx, token)
}

// TokenTTL exposes the session lifetime for cookie settings.
func (s *AuthService) TokenTTL() time.Duration {
	return s.codec.TTL()
}

func (s *AuthService) issue(ctx context.Context, user *domain.User, method string) (*IssuedSession, error) {
	ban, err := s.bans.Reconcile(ctx, user)
	if err != nil {
		return nil, err
	}
	if ban.IsBanned {
		s.metrics.RecordLogin(method, "banned")
		rej := &auth.Rejection{Reason: auth.ReasonBanned, BannedUntil: ban.BannedUntil}
		if ban.Reason != nil {
			rej.BanReason = *ban.Reason
		}
		return nil, apperrors.NewBanned(rej.PublicMessage(), rej.BanReason, ban.BannedUntil)
	}

	now := s.now()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLoginAt = &now

	token, expiresAt, err := s.codec.Mint(user.ID, user.Role)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	s.metrics.RecordLogin(method, "success")
	s.logger.Info("session issued",
		zap.Int64("user_id", user.ID),
		zap.String("role", string(user.Role)),
		zap.String("method", method))
	return &IssuedSession{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *AuthService) rejectCredentials(ctx context.Context, username string) error {
	s.metrics.RecordLogin(loginMethodPassword, "invalid_credentials")
	if err := s.throttle.RecordFailure(ctx, username); err != nil {
		s.logger.Warn("failed to record login failure", zap.Error(err))
	}
	return apperrors.NewUnauthorized("invalid credentials")
}
