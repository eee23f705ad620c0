package store

import (
	"context"
	"time"

	"creditledger/internal/db"
	"creditledger/internal/models"
)

// LedgerStore appends and reads ledger entries. The table is append-only.
type LedgerStore struct {
	db DB
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

type LedgerEntryInput struct {
	ID            string
	UserID        string
	Amount        int64
	Action        string
	RefID         *string
	TransactionID string
	BalanceAfter  int64
	Description   string
	CreatedAt     time.Time
}

const ledgerColumns = `id, user_id, amount, action, ref_id, transaction_id, balance_after, description, created_at`

// Insert appends one entry. A clash on the (user_id, ref_id, action) index is
// reported as ErrDuplicateEntry.
func (s *LedgerStore) Insert(ctx context.Context, tx Execer, entry LedgerEntryInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, amount, action, ref_id, transaction_id, balance_after, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.UserID, entry.Amount, entry.Action, entry.RefID, entry.TransactionID, entry.BalanceAfter, entry.Description, entry.CreatedAt)
	if db.IsUniqueViolation(err, LedgerRefIndex) {
		return ErrDuplicateEntry
	}
	return err
}

func (s *LedgerStore) SumByUser(ctx context.Context, q Getter, userID string) (int64, error) {
	var sum int64
	err := q.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE user_id = $1
	`, userID)
	return sum, err
}

// SumDebitsSince returns the positive total debited from since onwards.
func (s *LedgerStore) SumDebitsSince(ctx context.Context, q Getter, userID string, since time.Time) (int64, error) {
	var sum int64
	err := q.GetContext(ctx, &sum, `
		SELECT COALESCE(-SUM(amount), 0)
		FROM ledger_entries
		WHERE user_id = $1 AND amount < 0 AND created_at >= $2
	`, userID, since)
	return sum, err
}

func (s *LedgerStore) FindByRef(ctx context.Context, q Getter, userID, refID, action string) (models.LedgerEntry, error) {
	var row models.LedgerEntry
	err := q.GetContext(ctx, &row, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE user_id = $1 AND ref_id = $2 AND action = $3
	`, userID, refID, action)
	if err != nil {
		return models.LedgerEntry{}, notFound(err)
	}
	return row, nil
}

func (s *LedgerStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.LedgerEntry, error) {
	rows := []models.LedgerEntry{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *LedgerStore) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM ledger_entries
		WHERE user_id = $1
	`, userID)
	return count, err
}
