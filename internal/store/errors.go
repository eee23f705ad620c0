package store

import (
	"database/sql"
	"errors"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateEntry = errors.New("ledger entry already exists")
	ErrDuplicateCode  = errors.New("redeem code already exists")
)

const (
	// LedgerRefIndex enforces one entry per (user_id, ref_id, action) when ref_id is set.
	LedgerRefIndex  = "ledger_entries_user_ref_action_uidx"
	RedeemCodesPKey = "redeem_codes_pkey"
)

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
