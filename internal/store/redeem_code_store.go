package store

import (
	"context"
	"time"

	"creditledger/internal/db"
	"creditledger/internal/models"
)

type RedeemCodeStore struct {
	db DB
}

func NewRedeemCodeStore(db DB) *RedeemCodeStore {
	return &RedeemCodeStore{db: db}
}

const redeemCodeColumns = `code, amount, used, used_by, used_at, disabled, disabled_at, disabled_by, expires_at, note, created_at`

func (s *RedeemCodeStore) Create(ctx context.Context, tx Execer, code models.RedeemCode) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO redeem_codes (code, amount, expires_at, note, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, code.Code, code.Amount, code.ExpiresAt, code.Note, code.CreatedAt)
	if db.IsUniqueViolation(err, RedeemCodesPKey) {
		return ErrDuplicateCode
	}
	return err
}

func (s *RedeemCodeStore) Exists(ctx context.Context, q Getter, code string) (bool, error) {
	var exists bool
	err := q.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM redeem_codes WHERE code = $1)`, code)
	return exists, err
}

func (s *RedeemCodeStore) GetByCode(ctx context.Context, code string) (models.RedeemCode, error) {
	var row models.RedeemCode
	err := s.db.GetContext(ctx, &row, `
		SELECT `+redeemCodeColumns+`
		FROM redeem_codes
		WHERE code = $1
	`, code)
	if err != nil {
		return models.RedeemCode{}, notFound(err)
	}
	return row, nil
}

func (s *RedeemCodeStore) GetForUpdate(ctx context.Context, tx Getter, code string) (models.RedeemCode, error) {
	var row models.RedeemCode
	err := tx.GetContext(ctx, &row, `
		SELECT `+redeemCodeColumns+`
		FROM redeem_codes
		WHERE code = $1
		FOR UPDATE
	`, code)
	if err != nil {
		return models.RedeemCode{}, notFound(err)
	}
	return row, nil
}

// MarkUsed flips an unused, enabled code to used and returns the rows affected.
func (s *RedeemCodeStore) MarkUsed(ctx context.Context, tx Execer, code, userID string, at time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE redeem_codes
		SET used = TRUE, used_by = $2, used_at = $3
		WHERE code = $1 AND used = FALSE AND disabled = FALSE
	`, code, userID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Disable flips an unused, enabled code to disabled and returns the rows affected.
func (s *RedeemCodeStore) Disable(ctx context.Context, tx Execer, code, actorID string, at time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE redeem_codes
		SET disabled = TRUE, disabled_by = $2, disabled_at = $3
		WHERE code = $1 AND used = FALSE AND disabled = FALSE
	`, code, actorID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *RedeemCodeStore) List(ctx context.Context, limit, offset int) ([]models.RedeemCode, error) {
	rows := []models.RedeemCode{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+redeemCodeColumns+`
		FROM redeem_codes
		ORDER BY created_at DESC, code
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
