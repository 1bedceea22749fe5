package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/session-gate/internal/domain"
)

// BanHistoryRepository stores the append-only ban audit trail.
type BanHistoryRepository interface {
	Append(ctx context.Context, entry *domain.BanHistoryEntry) error
	// CloseOpen stamps every still-open banned entry of the user with the closing actor.
	CloseOpen(ctx context.Context, userID int64, closedBy string, at time.Time) (int64, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.BanHistoryEntry, error)
}

type banHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewBanHistoryRepository builds repository.
func NewBanHistoryRepository(pool *pgxpool.Pool) BanHistoryRepository {
	return &banHistoryRepository{pool: pool}
}

func (r *banHistoryRepository) Append(ctx context.Context, entry *domain.BanHistoryEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	const query = `
        INSERT INTO ban_history (id, user_id, action, actor, reason, duration_days, banned_until)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING created_at`
	return conn(ctx, r.pool).QueryRow(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Action,
		entry.Actor,
		entry.Reason,
		entry.DurationDays,
		entry.BannedUntil,
	).Scan(&entry.CreatedAt)
}

func (r *banHistoryRepository) CloseOpen(ctx context.Context, userID int64, closedBy string, at time.Time) (int64, error) {
	const query = `
        UPDATE ban_history SET closed_at=$1, closed_by=$2
        WHERE user_id=$3 AND action='banned' AND closed_at IS NULL`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query, at, closedBy, userID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *banHistoryRepository) ListByUser(ctx context.Context, userID int64) ([]domain.BanHistoryEntry, error) {
	const query = `
        SELECT id, user_id, action, actor, reason, duration_days, banned_until, created_at, closed_at, closed_by
        FROM ban_history WHERE user_id=$1 ORDER BY created_at ASC`
	rows, err := conn(ctx, r.pool).Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.BanHistoryEntry
	for rows.Next() {
		var entry domain.BanHistoryEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.Action,
			&entry.Actor,
			&entry.Reason,
			&entry.DurationDays,
			&entry.BannedUntil,
			&entry.CreatedAt,
			&entry.ClosedAt,
			&entry.ClosedBy,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
