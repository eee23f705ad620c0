package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"creditledger/internal/auth"
	"creditledger/internal/config"
	"creditledger/internal/models"
	"creditledger/internal/services"
	"creditledger/internal/websocket"

	"github.com/rs/zerolog"
)

type stubLedgerService struct {
	getBalanceFn       func(ctx context.Context, userID string) (int64, error)
	consumeFn          func(ctx context.Context, req services.ConsumeRequest) (services.ConsumeResult, error)
	adminRechargeFn    func(ctx context.Context, targetUserID string, amount int64, adminID string) (services.CreditResult, error)
	ensureUserFn       func(ctx context.Context, userID string) (services.EnsureUserResult, error)
	listTransactionsFn func(ctx context.Context, userID string, limit, offset int) (services.TransactionPage, error)
	validateBalanceFn  func(ctx context.Context, userID string) (models.BalanceCheck, error)
	reconcileAllFn     func(ctx context.Context) ([]models.BalanceCheck, error)
}

func (s stubLedgerService) GetBalance(ctx context.Context, userID string) (int64, error) {
	if s.getBalanceFn == nil {
		return 0, nil
	}
	return s.getBalanceFn(ctx, userID)
}

func (s stubLedgerService) Consume(ctx context.Context, req services.ConsumeRequest) (services.ConsumeResult, error) {
	if s.consumeFn == nil {
		return services.ConsumeResult{}, nil
	}
	return s.consumeFn(ctx, req)
}

func (s stubLedgerService) AdminRecharge(ctx context.Context, targetUserID string, amount int64, adminID string) (services.CreditResult, error) {
	if s.adminRechargeFn == nil {
		return services.CreditResult{}, nil
	}
	return s.adminRechargeFn(ctx, targetUserID, amount, adminID)
}

func (s stubLedgerService) EnsureUser(ctx context.Context, userID string) (services.EnsureUserResult, error) {
	if s.ensureUserFn == nil {
		return services.EnsureUserResult{}, nil
	}
	return s.ensureUserFn(ctx, userID)
}

func (s stubLedgerService) ListTransactions(ctx context.Context, userID string, limit, offset int) (services.TransactionPage, error) {
	if s.listTransactionsFn == nil {
		return services.TransactionPage{}, nil
	}
	return s.listTransactionsFn(ctx, userID, limit, offset)
}

func (s stubLedgerService) ValidateBalance(ctx context.Context, userID string) (models.BalanceCheck, error) {
	if s.validateBalanceFn == nil {
		return models.BalanceCheck{}, nil
	}
	return s.validateBalanceFn(ctx, userID)
}

func (s stubLedgerService) ReconcileAll(ctx context.Context) ([]models.BalanceCheck, error) {
	if s.reconcileAllFn == nil {
		return nil, nil
	}
	return s.reconcileAllFn(ctx)
}

type stubRedeemService struct {
	generateFn func(ctx context.Context, req services.GenerateCodesRequest) ([]models.RedeemCode, error)
	validateFn func(ctx context.Context, code string) (models.RedeemCode, error)
	redeemFn   func(ctx context.Context, code, userID string) (services.RedeemResult, error)
	disableFn  func(ctx context.Context, code, actorID string) error
	listFn     func(ctx context.Context, limit, offset int) ([]models.RedeemCode, error)
}

func (s stubRedeemService) GenerateCodes(ctx context.Context, req services.GenerateCodesRequest) ([]models.RedeemCode, error) {
	if s.generateFn == nil {
		return nil, nil
	}
	return s.generateFn(ctx, req)
}

func (s stubRedeemService) ValidateCode(ctx context.Context, code string) (models.RedeemCode, error) {
	if s.validateFn == nil {
		return models.RedeemCode{}, nil
	}
	return s.validateFn(ctx, code)
}

func (s stubRedeemService) RedeemCode(ctx context.Context, code, userID string) (services.RedeemResult, error) {
	if s.redeemFn == nil {
		return services.RedeemResult{}, nil
	}
	return s.redeemFn(ctx, code, userID)
}

func (s stubRedeemService) DisableCode(ctx context.Context, code, actorID string) error {
	if s.disableFn == nil {
		return nil
	}
	return s.disableFn(ctx, code, actorID)
}

func (s stubRedeemService) ListCodes(ctx context.Context, limit, offset int) ([]models.RedeemCode, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubAdminStore struct {
	isAdminFn func(ctx context.Context, userID string) (bool, bool, error)
	hasRoleFn func(ctx context.Context, userID, role string) (bool, error)
}

func (s stubAdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	if s.isAdminFn == nil {
		return false, false, nil
	}
	return s.isAdminFn(ctx, userID)
}

func (s stubAdminStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if s.hasRoleFn == nil {
		return false, nil
	}
	return s.hasRoleFn(ctx, userID, role)
}

type stubAuditStore struct {
	listFn func(ctx context.Context, limit, offset int) ([]models.AuditLog, error)
}

func (s stubAuditStore) List(ctx context.Context, limit, offset int) ([]models.AuditLog, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubMetrics struct{}

func (stubMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
}

func (stubMetrics) ObserveHTTP(string, string, string, time.Duration) {}

func (stubMetrics) TrackInflight() func() { return func() {} }

func newTestHandler(ledger LedgerService, redeem RedeemService, admin AdminStore, audit AuditStore) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      "secret",
		AllowedOrigins: "*",
	}
	return New(cfg, ledger, redeem, admin, audit, websocket.NewHub(), stubMetrics{}, zerolog.Nop())
}

// serveRoute sends a request through the full router as userID. An empty
// userID sends no credentials.
func serveRoute(t *testing.T, handler *Handler, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		token, err := auth.GenerateToken("secret", userID, time.Minute)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)
	return rr
}
