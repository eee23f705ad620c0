package handlers

import (
	"context"
	"net/http"
	"time"

	"creditledger/internal/models"
	"creditledger/internal/services"
)

type LedgerService interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	Consume(ctx context.Context, req services.ConsumeRequest) (services.ConsumeResult, error)
	AdminRecharge(ctx context.Context, targetUserID string, amount int64, adminID string) (services.CreditResult, error)
	EnsureUser(ctx context.Context, userID string) (services.EnsureUserResult, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) (services.TransactionPage, error)
	ValidateBalance(ctx context.Context, userID string) (models.BalanceCheck, error)
	ReconcileAll(ctx context.Context) ([]models.BalanceCheck, error)
}

type RedeemService interface {
	GenerateCodes(ctx context.Context, req services.GenerateCodesRequest) ([]models.RedeemCode, error)
	ValidateCode(ctx context.Context, code string) (models.RedeemCode, error)
	RedeemCode(ctx context.Context, code, userID string) (services.RedeemResult, error)
	DisableCode(ctx context.Context, code, actorID string) error
	ListCodes(ctx context.Context, limit, offset int) ([]models.RedeemCode, error)
}

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

type AuditStore interface {
	List(ctx context.Context, limit, offset int) ([]models.AuditLog, error)
}

// Metrics is the subset of the prometheus registry the router needs.
type Metrics interface {
	Handler() http.Handler
	ObserveHTTP(method, path, status string, elapsed time.Duration)
	TrackInflight() func()
}
