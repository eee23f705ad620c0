package store

import (
	"context"

	"creditledger/internal/models"
)

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

// Ensure creates the user row if it does not exist yet and reports whether
// this call created it.
func (s *UserStore) Ensure(ctx context.Context, tx Execer, userID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, cached_balance)
		VALUES ($1, 0)
		ON CONFLICT (id) DO NOTHING
	`, userID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	var row models.User
	err := s.db.GetContext(ctx, &row, `
		SELECT id, cached_balance, created_at
		FROM users
		WHERE id = $1
	`, userID)
	if err != nil {
		return models.User{}, notFound(err)
	}
	return row, nil
}

// GetForUpdate locks exactly one user row until the surrounding transaction ends.
func (s *UserStore) GetForUpdate(ctx context.Context, tx Getter, userID string) (models.User, error) {
	var row models.User
	err := tx.GetContext(ctx, &row, `
		SELECT id, cached_balance, created_at
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return models.User{}, notFound(err)
	}
	return row, nil
}

func (s *UserStore) UpdateCachedBalance(ctx context.Context, tx Execer, userID string, balance int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users
		SET cached_balance = $1, updated_at = NOW()
		WHERE id = $2
	`, balance, userID)
	return err
}

// HealCachedBalance writes balance only if the cache still holds expected, so a
// stale read never overwrites a newer committed value.
func (s *UserStore) HealCachedBalance(ctx context.Context, tx Execer, userID string, expected, balance int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET cached_balance = $1, updated_at = NOW()
		WHERE id = $2 AND cached_balance = $3
	`, balance, userID, expected)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *UserStore) CheckBalance(ctx context.Context, userID string) (models.BalanceCheck, error) {
	var row models.BalanceCheck
	err := s.db.GetContext(ctx, &row, `
		SELECT u.id AS user_id,
		       COALESCE(SUM(l.amount), 0) AS ledger_balance,
		       u.cached_balance,
		       (u.cached_balance - COALESCE(SUM(l.amount), 0)) AS difference
		FROM users u
		LEFT JOIN ledger_entries l ON l.user_id = u.id
		WHERE u.id = $1
		GROUP BY u.id, u.cached_balance
	`, userID)
	if err != nil {
		return models.BalanceCheck{}, notFound(err)
	}
	return row, nil
}

// ListDivergent returns every user whose cached balance differs from the ledger sum.
func (s *UserStore) ListDivergent(ctx context.Context) ([]models.BalanceCheck, error) {
	var rows []models.BalanceCheck
	err := s.db.SelectContext(ctx, &rows, `
		SELECT u.id AS user_id,
		       COALESCE(SUM(l.amount), 0) AS ledger_balance,
		       u.cached_balance,
		       (u.cached_balance - COALESCE(SUM(l.amount), 0)) AS difference
		FROM users u
		LEFT JOIN ledger_entries l ON l.user_id = u.id
		GROUP BY u.id, u.cached_balance
		HAVING u.cached_balance <> COALESCE(SUM(l.amount), 0)
		ORDER BY u.id
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
