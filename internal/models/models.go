package models

import "time"

type User struct {
	ID            string    `db:"id" json:"id"`
	CachedBalance int64     `db:"cached_balance" json:"cached_balance"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// LedgerEntry is immutable once written. Amount is signed: credits are
// positive, debits negative.
type LedgerEntry struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	Amount        int64     `db:"amount" json:"amount"`
	Action        string    `db:"action" json:"action"`
	RefID         *string   `db:"ref_id" json:"ref_id,omitempty"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	BalanceAfter  int64     `db:"balance_after" json:"balance_after"`
	Description   string    `db:"description" json:"description"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

type RedeemCode struct {
	Code       string     `db:"code" json:"code"`
	Amount     int64      `db:"amount" json:"amount"`
	Used       bool       `db:"used" json:"used"`
	UsedBy     *string    `db:"used_by" json:"used_by,omitempty"`
	UsedAt     *time.Time `db:"used_at" json:"used_at,omitempty"`
	Disabled   bool       `db:"disabled" json:"disabled"`
	DisabledAt *time.Time `db:"disabled_at" json:"disabled_at,omitempty"`
	DisabledBy *string    `db:"disabled_by" json:"disabled_by,omitempty"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	Note       *string    `db:"note" json:"note,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

type AuditLog struct {
	ID          string    `db:"id" json:"id"`
	ActorUserID *string   `db:"actor_user_id" json:"actor_user_id,omitempty"`
	Action      string    `db:"action" json:"action"`
	EntityType  string    `db:"entity_type" json:"entity_type"`
	EntityID    string    `db:"entity_id" json:"entity_id"`
	Data        string    `db:"data" json:"data"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// BalanceCheck compares the ledger sum with the cached balance for a user.
type BalanceCheck struct {
	UserID        string `db:"user_id" json:"user_id"`
	LedgerBalance int64  `db:"ledger_balance" json:"ledger_balance"`
	CachedBalance int64  `db:"cached_balance" json:"cached_balance"`
	Difference    int64  `db:"difference" json:"difference"`
}

func (c BalanceCheck) Valid() bool {
	return c.LedgerBalance == c.CachedBalance
}
