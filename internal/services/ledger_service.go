package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/db"
	"creditledger/internal/models"
	"creditledger/internal/store"
	"creditledger/internal/validator"
	"creditledger/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"go.jetify.com/typeid/v2"
)

const (
	ActionRecharge       = "recharge"
	ActionAdminRecharge  = "admin_recharge"
	ActionRedeemCode     = "redeem_code"
	ActionOpeningBalance = "opening_balance"

	defaultPageSize = 20
	maxPageSize     = 100
)

type LedgerService struct {
	conn     store.DB
	txRunner db.TxRunner
	users    UserStore
	ledger   LedgerStore
	audit    AuditStore
	billing  config.BillingSource
	hub      BalanceHub
	recorder Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

type UserStore interface {
	Ensure(ctx context.Context, tx store.Execer, userID string) (bool, error)
	GetByID(ctx context.Context, userID string) (models.User, error)
	GetForUpdate(ctx context.Context, tx store.Getter, userID string) (models.User, error)
	UpdateCachedBalance(ctx context.Context, tx store.Execer, userID string, balance int64) error
	HealCachedBalance(ctx context.Context, tx store.Execer, userID string, expected, balance int64) (bool, error)
	CheckBalance(ctx context.Context, userID string) (models.BalanceCheck, error)
	ListDivergent(ctx context.Context) ([]models.BalanceCheck, error)
}

type LedgerStore interface {
	Insert(ctx context.Context, tx store.Execer, entry store.LedgerEntryInput) error
	SumByUser(ctx context.Context, q store.Getter, userID string) (int64, error)
	SumDebitsSince(ctx context.Context, q store.Getter, userID string, since time.Time) (int64, error)
	FindByRef(ctx context.Context, q store.Getter, userID, refID, action string) (models.LedgerEntry, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.LedgerEntry, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type BalanceHub interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
}

// Recorder receives ledger outcomes for instrumentation.
type Recorder interface {
	LedgerOperation(op, outcome string)
	CreditsMoved(action string, amount int64)
}

type noopRecorder struct{}

func (noopRecorder) LedgerOperation(string, string) {}
func (noopRecorder) CreditsMoved(string, int64)     {}

func NewLedgerService(conn store.DB, txRunner db.TxRunner, users UserStore, ledger LedgerStore, audit AuditStore, billing config.BillingSource, hub BalanceHub, recorder Recorder, logger zerolog.Logger) *LedgerService {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &LedgerService{
		conn:     conn,
		txRunner: txRunner,
		users:    users,
		ledger:   ledger,
		audit:    audit,
		billing:  billing,
		hub:      hub,
		recorder: recorder,
		logger:   logger.With().Str("component", "ledger").Logger(),
		now:      time.Now,
	}
}

type ConsumeRequest struct {
	UserID string
	Amount int64
	Action string
	RefID  *string
}

type ConsumeResult struct {
	Balance       int64  `json:"balance"`
	TransactionID string `json:"transaction_id"`
	Idempotent    bool   `json:"idempotent,omitempty"`
	DryRun        bool   `json:"dry_run,omitempty"`
}

type CreditResult struct {
	Balance       int64  `json:"balance"`
	TransactionID string `json:"transaction_id"`
}

type TransactionPage struct {
	Transactions []models.LedgerEntry `json:"transactions"`
	Total        int64                `json:"total"`
}

type EnsureUserResult struct {
	Created bool  `json:"created"`
	Balance int64 `json:"balance"`
}

// GetBalance returns the ledger sum for the user and repairs the cached
// balance when it has drifted. A failed repair is logged, never returned.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (int64, error) {
	if err := validator.ValidateUserID(userID); err != nil {
		return 0, ErrInvalidUserID
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	balance, err := s.ledger.SumByUser(ctx, s.conn, userID)
	if err != nil {
		return 0, err
	}
	if user.CachedBalance != balance {
		s.healCache(ctx, userID, user.CachedBalance, balance)
	}
	return balance, nil
}

func (s *LedgerService) healCache(ctx context.Context, userID string, cached, balance int64) {
	healed, err := s.users.HealCachedBalance(ctx, s.conn, userID, cached, balance)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Int64("cached", cached).Int64("ledger", balance).Msg("cache heal failed")
		return
	}
	if healed {
		s.recorder.LedgerOperation("cache_heal", "ok")
		s.logger.Info().Str("user_id", userID).Int64("cached", cached).Int64("ledger", balance).Msg("cached balance corrected")
	}
}

// ValidateBalance reports drift between the cache and the ledger without fixing it.
func (s *LedgerService) ValidateBalance(ctx context.Context, userID string) (models.BalanceCheck, error) {
	if err := validator.ValidateUserID(userID); err != nil {
		return models.BalanceCheck{}, ErrInvalidUserID
	}
	check, err := s.users.CheckBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.BalanceCheck{}, ErrUserNotFound
		}
		return models.BalanceCheck{}, err
	}
	return check, nil
}

func (s *LedgerService) ReconcileAll(ctx context.Context) ([]models.BalanceCheck, error) {
	checks, err := s.users.ListDivergent(ctx)
	if err != nil {
		return nil, err
	}
	if len(checks) > 0 {
		s.logger.Warn().Int("users", len(checks)).Msg("cached balances diverge from ledger")
	}
	return checks, nil
}

func (s *LedgerService) Consume(ctx context.Context, req ConsumeRequest) (ConsumeResult, error) {
	if err := validator.ValidateUserID(req.UserID); err != nil {
		return ConsumeResult{}, ErrInvalidUserID
	}
	if req.Amount <= 0 {
		return ConsumeResult{}, ErrInvalidAmount
	}
	if err := validator.ValidateAction(req.Action); err != nil {
		return ConsumeResult{}, ErrInvalidAction
	}
	if req.RefID != nil {
		if err := validator.ValidateRefID(*req.RefID); err != nil {
			return ConsumeResult{}, ErrInvalidRefID
		}
	}

	billing := s.billing.Billing()
	if !billing.Enabled {
		return s.dryRun(ctx, req)
	}

	if req.RefID != nil {
		entry, err := s.ledger.FindByRef(ctx, s.conn, req.UserID, *req.RefID, req.Action)
		if err == nil {
			s.recorder.LedgerOperation("consume", "replay")
			s.logger.Info().Str("user_id", req.UserID).Str("ref_id", *req.RefID).Str("transaction_id", entry.TransactionID).Msg("idempotent consume replay")
			return replayResult(entry), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return ConsumeResult{}, err
		}
	}

	var result ConsumeResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.users.GetForUpdate(ctx, tx, req.UserID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		current, err := s.ledger.SumByUser(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if current < req.Amount {
			return &InsufficientCreditsError{Balance: current, Required: req.Amount}
		}
		if billing.MaxSingleDebit > 0 && req.Amount > billing.MaxSingleDebit {
			return &SingleTransactionLimitError{Limit: billing.MaxSingleDebit, Requested: req.Amount}
		}
		now := s.now().UTC()
		if billing.DailyLimit > 0 {
			today, err := s.ledger.SumDebitsSince(ctx, tx, req.UserID, startOfDay(now))
			if err != nil {
				return err
			}
			if today+req.Amount > billing.DailyLimit {
				return &DailyLimitError{DailyLimit: billing.DailyLimit, TodayConsumed: today, Requested: req.Amount}
			}
		}

		newBalance := current - req.Amount
		transactionID := newTransactionID()
		if err := s.ledger.Insert(ctx, tx, store.LedgerEntryInput{
			ID:            uuid.NewString(),
			UserID:        req.UserID,
			Amount:        -req.Amount,
			Action:        req.Action,
			RefID:         req.RefID,
			TransactionID: transactionID,
			BalanceAfter:  newBalance,
			Description:   req.Action,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		if err := s.users.UpdateCachedBalance(ctx, tx, req.UserID, newBalance); err != nil {
			return err
		}
		result = ConsumeResult{Balance: newBalance, TransactionID: transactionID}
		return nil
	})
	if err != nil {
		if req.RefID != nil && errors.Is(err, store.ErrDuplicateEntry) {
			entry, findErr := s.ledger.FindByRef(ctx, s.conn, req.UserID, *req.RefID, req.Action)
			if findErr != nil {
				return ConsumeResult{}, fmt.Errorf("load replayed entry: %w", findErr)
			}
			s.recorder.LedgerOperation("consume", "replay")
			s.logger.Info().Str("user_id", req.UserID).Str("ref_id", *req.RefID).Str("transaction_id", entry.TransactionID).Msg("concurrent consume resolved as replay")
			return replayResult(entry), nil
		}
		s.recorder.LedgerOperation("consume", outcomeOf(err))
		return ConsumeResult{}, err
	}

	s.recorder.LedgerOperation("consume", "ok")
	s.recorder.CreditsMoved(req.Action, -req.Amount)
	s.publish(req.UserID, result.Balance, result.TransactionID)
	return result, nil
}

func (s *LedgerService) dryRun(ctx context.Context, req ConsumeRequest) (ConsumeResult, error) {
	balance, err := s.ledger.SumByUser(ctx, s.conn, req.UserID)
	if err != nil {
		return ConsumeResult{}, err
	}
	result := ConsumeResult{
		Balance:       balance - req.Amount,
		TransactionID: newTransactionID(),
		DryRun:        true,
	}
	s.recorder.LedgerOperation("consume", "dry_run")
	s.logger.Debug().Str("user_id", req.UserID).Int64("amount", req.Amount).Str("action", req.Action).Msg("billing disabled, consume simulated")
	return result, nil
}

// Recharge credits the user. There is no idempotency key; callers that retry
// should use redeem codes instead.
func (s *LedgerService) Recharge(ctx context.Context, userID string, amount int64) (CreditResult, error) {
	if err := validator.ValidateUserID(userID); err != nil {
		return CreditResult{}, ErrInvalidUserID
	}
	if amount <= 0 {
		return CreditResult{}, ErrInvalidAmount
	}
	var result CreditResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		entry, err := s.creditUser(ctx, tx, userID, amount, ActionRecharge, nil, "recharge")
		if err != nil {
			return err
		}
		result = CreditResult{Balance: entry.BalanceAfter, TransactionID: entry.TransactionID}
		return nil
	})
	s.settleCredit("recharge", ActionRecharge, userID, amount, result, err)
	if err != nil {
		return CreditResult{}, err
	}
	return result, nil
}

func (s *LedgerService) AdminRecharge(ctx context.Context, targetUserID string, amount int64, adminID string) (CreditResult, error) {
	if err := validator.ValidateUserID(targetUserID); err != nil {
		return CreditResult{}, ErrInvalidUserID
	}
	if err := validator.ValidateUserID(adminID); err != nil {
		return CreditResult{}, ErrInvalidUserID
	}
	if amount <= 0 {
		return CreditResult{}, ErrInvalidAmount
	}
	var result CreditResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		description := fmt.Sprintf("admin recharge by %s", adminID)
		entry, err := s.creditUser(ctx, tx, targetUserID, amount, ActionAdminRecharge, nil, description)
		if err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]any{
			"transaction_id": entry.TransactionID,
			"amount":         amount,
			"balance_after":  entry.BalanceAfter,
		})
		if err := s.audit.Log(ctx, tx, adminID, ActionAdminRecharge, "user", targetUserID, string(data)); err != nil {
			return err
		}
		result = CreditResult{Balance: entry.BalanceAfter, TransactionID: entry.TransactionID}
		return nil
	})
	s.settleCredit("admin_recharge", ActionAdminRecharge, targetUserID, amount, result, err)
	if err != nil {
		return CreditResult{}, err
	}
	s.logger.Info().Str("admin_id", adminID).Str("user_id", targetUserID).Int64("amount", amount).Str("transaction_id", result.TransactionID).Msg("admin recharge")
	return result, nil
}

// EnsureUser onboards a user. A new user receives the configured opening
// balance, keyed by the user id so repeated onboarding never credits twice.
func (s *LedgerService) EnsureUser(ctx context.Context, userID string) (EnsureUserResult, error) {
	if err := validator.ValidateUserID(userID); err != nil {
		return EnsureUserResult{}, ErrInvalidUserID
	}
	opening := s.billing.Billing().DefaultBalance
	var result EnsureUserResult
	var transactionID string
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		created, err := s.users.Ensure(ctx, tx, userID)
		if err != nil {
			return err
		}
		result = EnsureUserResult{Created: created}
		if !created || opening <= 0 {
			return nil
		}
		refID := userID
		entry, err := s.creditLocked(ctx, tx, userID, opening, ActionOpeningBalance, &refID, "opening balance")
		if err != nil {
			return err
		}
		result.Balance = entry.BalanceAfter
		transactionID = entry.TransactionID
		return nil
	})
	if err != nil {
		return EnsureUserResult{}, err
	}
	if !result.Created {
		balance, err := s.GetBalance(ctx, userID)
		if err != nil {
			return EnsureUserResult{}, err
		}
		result.Balance = balance
		return result, nil
	}
	s.logger.Info().Str("user_id", userID).Int64("opening_balance", result.Balance).Msg("user onboarded")
	if transactionID != "" {
		s.recorder.CreditsMoved(ActionOpeningBalance, result.Balance)
		s.publish(userID, result.Balance, transactionID)
	}
	return result, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID string, limit, offset int) (TransactionPage, error) {
	if err := validator.ValidateUserID(userID); err != nil {
		return TransactionPage{}, ErrInvalidUserID
	}
	limit, offset = clampPage(limit, offset)
	entries, err := s.ledger.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return TransactionPage{}, err
	}
	total, err := s.ledger.CountByUser(ctx, userID)
	if err != nil {
		return TransactionPage{}, err
	}
	return TransactionPage{Transactions: entries, Total: total}, nil
}

// creditUser creates the user when absent and appends a credit inside tx.
func (s *LedgerService) creditUser(ctx context.Context, tx *sqlx.Tx, userID string, amount int64, action string, refID *string, description string) (models.LedgerEntry, error) {
	if _, err := s.users.Ensure(ctx, tx, userID); err != nil {
		return models.LedgerEntry{}, err
	}
	return s.creditLocked(ctx, tx, userID, amount, action, refID, description)
}

// settleCredit records the outcome of a credit operation after its
// transaction ended and pushes the new balance when it committed.
func (s *LedgerService) settleCredit(op, action, userID string, amount int64, result CreditResult, err error) {
	if err != nil {
		s.recorder.LedgerOperation(op, outcomeOf(err))
		return
	}
	s.recorder.LedgerOperation(op, "ok")
	s.recorder.CreditsMoved(action, amount)
	s.publish(userID, result.Balance, result.TransactionID)
}

// creditLocked appends a positive entry for a user that already exists. It
// must run inside tx and takes the user row lock itself.
func (s *LedgerService) creditLocked(ctx context.Context, tx *sqlx.Tx, userID string, amount int64, action string, refID *string, description string) (models.LedgerEntry, error) {
	if _, err := s.users.GetForUpdate(ctx, tx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.LedgerEntry{}, ErrUserNotFound
		}
		return models.LedgerEntry{}, err
	}
	current, err := s.ledger.SumByUser(ctx, tx, userID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	entry := models.LedgerEntry{
		ID:            uuid.NewString(),
		UserID:        userID,
		Amount:        amount,
		Action:        action,
		RefID:         refID,
		TransactionID: newTransactionID(),
		BalanceAfter:  current + amount,
		Description:   description,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.ledger.Insert(ctx, tx, store.LedgerEntryInput{
		ID:            entry.ID,
		UserID:        entry.UserID,
		Amount:        entry.Amount,
		Action:        entry.Action,
		RefID:         entry.RefID,
		TransactionID: entry.TransactionID,
		BalanceAfter:  entry.BalanceAfter,
		Description:   entry.Description,
		CreatedAt:     entry.CreatedAt,
	}); err != nil {
		return models.LedgerEntry{}, err
	}
	if err := s.users.UpdateCachedBalance(ctx, tx, userID, entry.BalanceAfter); err != nil {
		return models.LedgerEntry{}, err
	}
	return entry, nil
}

func (s *LedgerService) publish(userID string, balance int64, transactionID string) {
	s.hub.BroadcastBalance(userID, websocket.BalanceUpdate{
		UserID:        userID,
		Balance:       balance,
		TransactionID: transactionID,
	})
}

func replayResult(entry models.LedgerEntry) ConsumeResult {
	return ConsumeResult{
		Balance:       entry.BalanceAfter,
		TransactionID: entry.TransactionID,
		Idempotent:    true,
	}
}

func newTransactionID() string {
	tid, err := typeid.Generate("txn")
	if err != nil {
		return "txn_" + uuid.NewString()
	}
	return tid.String()
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, ErrSingleTransactionLimitExceeded):
		return "single_limit"
	case errors.Is(err, ErrDailyLimitExceeded):
		return "daily_limit"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrCodeAlreadyUsed), errors.Is(err, ErrCodeDisabled), errors.Is(err, ErrCodeExpired), errors.Is(err, ErrCodeAlreadyDisabled):
		return "code_rejected"
	default:
		return "error"
	}
}
