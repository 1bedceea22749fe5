package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/session-gate/internal/domain"
)

// UserRepository defines persistence access for user records.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	SetRole(ctx context.Context, id int64, role domain.Role) error
	SetBanState(ctx context.Context, id int64, state domain.BanState) error
	// LapseBan clears a finite ban whose end time is before now. It reports false when
	// the row no longer qualifies, e.g. because a concurrent request already lapsed it.
	LapseBan(ctx context.Context, id int64, now time.Time) (bool, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `id, username, email, password_hash, role, is_banned, ban_reason, banned_until,
        last_login_at, created_at, updated_at`

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (username, email, password_hash, role)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at, updated_at`

	return conn(ctx, r.pool).QueryRow(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Role,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username=$1`
	return scanUser(conn(ctx, r.pool).QueryRow(ctx, query, username))
}

func (r *userRepository) SetRole(ctx context.Context, id int64, role domain.Role) error {
	const query = `UPDATE users SET role=$1, updated_at=NOW() WHERE id=$2`
	return r.execOne(ctx, query, role, id)
}

func (r *userRepository) SetBanState(ctx context.Context, id int64, state domain.BanState) error {
	if !state.IsBanned {
		state = domain.Active()
	}
	const query = `
        UPDATE users SET is_banned=$1, ban_reason=$2, banned_until=$3, updated_at=NOW()
        WHERE id=$4`
	return r.execOne(ctx, query, state.IsBanned, state.Reason, state.BannedUntil, id)
}

func (r *userRepository) LapseBan(ctx context.Context, id int64, now time.Time) (bool, error) {
	const query = `
        UPDATE users SET is_banned=FALSE, ban_reason=NULL, banned_until=NULL, updated_at=NOW()
        WHERE id=$1 AND is_banned AND banned_until IS NOT NULL AND banned_until < $2`

	cmd, err := conn(ctx, r.pool).Exec(ctx, query, id, now)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *userRepository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE users SET last_login_at=$1 WHERE id=$2`
	return r.execOne(ctx, query, at, id)
}

func (r *userRepository) execOne(ctx context.Context, query string, args ...any) error {
	cmd, err := conn(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Ban.IsBanned,
		&user.Ban.Reason,
		&user.Ban.BannedUntil,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
