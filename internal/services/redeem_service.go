package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"creditledger/internal/db"
	"creditledger/internal/models"
	"creditledger/internal/store"
	"creditledger/internal/validator"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

const (
	MaxCodesPerBatch    = 100
	maxGenerateAttempts = 5
)

type RedeemService struct {
	conn     store.DB
	txRunner db.TxRunner
	codes    RedeemCodeStore
	ledger   *LedgerService
	audit    AuditStore
	logger   zerolog.Logger
	now      func() time.Time
	generate func() (string, error)
}

type RedeemCodeStore interface {
	Create(ctx context.Context, tx store.Execer, code models.RedeemCode) error
	Exists(ctx context.Context, q store.Getter, code string) (bool, error)
	GetByCode(ctx context.Context, code string) (models.RedeemCode, error)
	GetForUpdate(ctx context.Context, tx store.Getter, code string) (models.RedeemCode, error)
	MarkUsed(ctx context.Context, tx store.Execer, code, userID string, at time.Time) (int64, error)
	Disable(ctx context.Context, tx store.Execer, code, actorID string, at time.Time) (int64, error)
	List(ctx context.Context, limit, offset int) ([]models.RedeemCode, error)
}

func NewRedeemService(conn store.DB, txRunner db.TxRunner, codes RedeemCodeStore, ledger *LedgerService, audit AuditStore, logger zerolog.Logger) *RedeemService {
	return &RedeemService{
		conn:     conn,
		txRunner: txRunner,
		codes:    codes,
		ledger:   ledger,
		audit:    audit,
		logger:   logger.With().Str("component", "redeem").Logger(),
		now:      time.Now,
		generate: generateCode,
	}
}

type GenerateCodesRequest struct {
	Amount    int64
	Count     int
	ExpiresAt *time.Time
	Note      *string
	ActorID   string
}

type RedeemResult struct {
	Code          string `json:"code"`
	Amount        int64  `json:"amount"`
	Balance       int64  `json:"balance"`
	TransactionID string `json:"transaction_id"`
}

func (s *RedeemService) GenerateCodes(ctx context.Context, req GenerateCodesRequest) ([]models.RedeemCode, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Count < 1 || req.Count > MaxCodesPerBatch {
		return nil, ErrInvalidCodeCount
	}
	createdAt := s.now().UTC()
	batch := make(map[string]struct{}, req.Count)
	codes := make([]models.RedeemCode, 0, req.Count)
	for len(codes) < req.Count {
		code, err := s.uniqueCode(ctx, batch)
		if err != nil {
			return nil, err
		}
		batch[code] = struct{}{}
		codes = append(codes, models.RedeemCode{
			Code:      code,
			Amount:    req.Amount,
			ExpiresAt: req.ExpiresAt,
			Note:      req.Note,
			CreatedAt: createdAt,
		})
	}

	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, code := range codes {
			if err := s.codes.Create(ctx, tx, code); err != nil {
				return err
			}
		}
		data, _ := json.Marshal(map[string]any{
			"amount": req.Amount,
			"count":  req.Count,
		})
		return s.audit.Log(ctx, tx, req.ActorID, "generate_codes", "redeem_code", codes[0].Code, string(data))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("admin_id", req.ActorID).Int("count", req.Count).Int64("amount", req.Amount).Msg("redeem codes generated")
	return codes, nil
}

func (s *RedeemService) uniqueCode(ctx context.Context, batch map[string]struct{}) (string, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return "", err
		}
		if _, taken := batch[code]; taken {
			continue
		}
		exists, err := s.codes.Exists(ctx, s.conn, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("no unique redeem code after %d attempts", maxGenerateAttempts)
}

// ValidateCode reports whether a code could be redeemed right now. It never
// changes state.
func (s *RedeemService) ValidateCode(ctx context.Context, code string) (models.RedeemCode, error) {
	code = validator.NormalizeCode(code)
	if err := validator.ValidateCode(code); err != nil {
		return models.RedeemCode{}, ErrCodeNotFound
	}
	rc, err := s.codes.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.RedeemCode{}, ErrCodeNotFound
		}
		return models.RedeemCode{}, err
	}
	if err := redeemable(rc, s.now()); err != nil {
		return models.RedeemCode{}, err
	}
	return rc, nil
}

// RedeemCode credits the code amount to the user and marks the code used in
// one transaction. The code row is locked before the user row.
func (s *RedeemService) RedeemCode(ctx context.Context, code, userID string) (RedeemResult, error) {
	if err := validator.ValidateUserID(userID); err != nil {
		return RedeemResult{}, ErrInvalidUserID
	}
	code = validator.NormalizeCode(code)
	if err := validator.ValidateCode(code); err != nil {
		return RedeemResult{}, ErrCodeNotFound
	}
	var result RedeemResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		rc, err := s.codes.GetForUpdate(ctx, tx, code)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrCodeNotFound
			}
			return err
		}
		now := s.now().UTC()
		if err := redeemable(rc, now); err != nil {
			return err
		}
		refID := rc.Code
		entry, err := s.ledger.creditUser(ctx, tx, userID, rc.Amount, ActionRedeemCode, &refID, rc.Code)
		if err != nil {
			return err
		}
		rows, err := s.codes.MarkUsed(ctx, tx, rc.Code, userID, now)
		if err != nil {
			return err
		}
		if rows != 1 {
			return ErrCodeAlreadyUsed
		}
		result = RedeemResult{
			Code:          rc.Code,
			Amount:        rc.Amount,
			Balance:       entry.BalanceAfter,
			TransactionID: entry.TransactionID,
		}
		return nil
	})
	s.ledger.settleCredit("redeem", ActionRedeemCode, userID, result.Amount, CreditResult{
		Balance:       result.Balance,
		TransactionID: result.TransactionID,
	}, err)
	if err != nil {
		return RedeemResult{}, err
	}
	s.logger.Info().Str("user_id", userID).Str("code", result.Code).Int64("amount", result.Amount).Str("transaction_id", result.TransactionID).Msg("redeem code used")
	return result, nil
}

func (s *RedeemService) DisableCode(ctx context.Context, code, actorID string) error {
	code = validator.NormalizeCode(code)
	if err := validator.ValidateCode(code); err != nil {
		return ErrCodeNotFound
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		rc, err := s.codes.GetForUpdate(ctx, tx, code)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrCodeNotFound
			}
			return err
		}
		if rc.Used {
			return usedError(rc)
		}
		if rc.Disabled {
			return ErrCodeAlreadyDisabled
		}
		rows, err := s.codes.Disable(ctx, tx, rc.Code, actorID, s.now().UTC())
		if err != nil {
			return err
		}
		if rows != 1 {
			return ErrCodeAlreadyDisabled
		}
		return s.audit.Log(ctx, tx, actorID, "disable_code", "redeem_code", rc.Code, "{}")
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("admin_id", actorID).Str("code", code).Msg("redeem code disabled")
	return nil
}

func (s *RedeemService) ListCodes(ctx context.Context, limit, offset int) ([]models.RedeemCode, error) {
	limit, offset = clampPage(limit, offset)
	return s.codes.List(ctx, limit, offset)
}

func redeemable(rc models.RedeemCode, now time.Time) error {
	if rc.Used {
		return usedError(rc)
	}
	if rc.Disabled {
		return ErrCodeDisabled
	}
	if rc.ExpiresAt != nil && !now.Before(*rc.ExpiresAt) {
		return ErrCodeExpired
	}
	return nil
}

func usedError(rc models.RedeemCode) error {
	usedBy := ""
	if rc.UsedBy != nil {
		usedBy = *rc.UsedBy
	}
	return &CodeUsedError{Code: rc.Code, UsedBy: usedBy}
}
