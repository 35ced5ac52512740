package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

type userRepository struct {
	tx *sql.Tx
}

const selectUser = `SELECT id, total_spent, point_balance, tier_level, spend_recalculated_at, updated_at FROM users WHERE id = $1`

func (r userRepository) LockByID(ctx context.Context, id int64) (domain.User, error) {
	return r.get(ctx, selectUser+` FOR UPDATE`, id)
}

func (r userRepository) Get(ctx context.Context, id int64) (domain.User, error) {
	return r.get(ctx, selectUser, id)
}

func (r userRepository) get(ctx context.Context, query string, id int64) (domain.User, error) {
	var user domain.User
	err := r.tx.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.TotalSpent,
		&user.PointBalance,
		&user.TierLevel,
		&user.SpendRecalculatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapError(err, domain.ErrUserNotFound, "load user %d", id)
	}
	return user, nil
}

func (r userRepository) Save(ctx context.Context, user domain.User) error {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE users
		SET total_spent = $2,
		    point_balance = $3,
		    tier_level = $4,
		    spend_recalculated_at = $5,
		    updated_at = $6
		WHERE id = $1
	`, user.ID, user.TotalSpent, user.PointBalance, int(user.TierLevel), user.SpendRecalculatedAt, time.Now().UTC())
	if err != nil {
		return mapError(err, nil, "update user %d", user.ID)
	}
	return requireAffected(res, domain.ErrUserNotFound, user.ID)
}

func (r userRepository) ListIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id FROM users
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, mapError(err, nil, "list user ids after %d", afterID)
	}
	defer rows.Close()

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return ids, nil
}

type tierHistoryRepository struct {
	tx *sql.Tx
}

func (r tierHistoryRepository) Append(ctx context.Context, entry domain.TierHistory) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO tier_history (user_id, from_level, to_level, total_spent, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.UserID, int(entry.FromLevel), int(entry.ToLevel), entry.TotalSpent, string(entry.Reason), entry.CreatedAt.UTC())
	if err != nil {
		return mapError(err, nil, "insert tier history for user %d", entry.UserID)
	}
	return nil
}

func (r tierHistoryRepository) ListByUser(ctx context.Context, userID int64) ([]domain.TierHistory, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, user_id, from_level, to_level, total_spent, reason, created_at
		FROM tier_history
		WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, mapError(err, nil, "list tier history for user %d", userID)
	}
	defer rows.Close()

	var result []domain.TierHistory
	for rows.Next() {
		var (
			entry  domain.TierHistory
			reason string
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.FromLevel, &entry.ToLevel, &entry.TotalSpent, &reason, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tier history: %w", err)
		}
		entry.Reason = domain.TierChangeReason(reason)
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tier history: %w", err)
	}
	return result, nil
}

// requireAffected возвращает notFound, если UPDATE не затронул ни одной строки.
func requireAffected(res sql.Result, notFound error, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %d", notFound, id)
	}
	return nil
}

var (
	_ domain.UserRepository        = userRepository{}
	_ domain.TierHistoryRepository = tierHistoryRepository{}
)
