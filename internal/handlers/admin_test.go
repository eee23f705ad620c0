package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"creditledger/internal/auth"
	"creditledger/internal/middleware"
	"creditledger/internal/models"
	"creditledger/internal/services"
	ws "creditledger/internal/websocket"

	"github.com/gorilla/websocket"
)

func superAdmin() stubAdminStore {
	return stubAdminStore{
		isAdminFn: func(context.Context, string) (bool, bool, error) { return true, true, nil },
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	handler := newTestHandler(stubLedgerService{}, stubRedeemService{}, stubAdminStore{}, stubAuditStore{})
	routes := []struct{ method, path string }{
		{http.MethodPost, "/admin/recharge"},
		{http.MethodPost, "/admin/codes"},
		{http.MethodGet, "/admin/codes"},
		{http.MethodPost, "/admin/codes/ABC/disable"},
		{http.MethodGet, "/admin/users/user-1/validate"},
		{http.MethodGet, "/admin/reconcile"},
		{http.MethodGet, "/admin/audit"},
	}
	for _, route := range routes {
		if rr := serveRoute(t, handler, route.method, route.path, "", "user-1"); rr.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", route.method, route.path, rr.Code)
		}
		if rr := serveRoute(t, handler, route.method, route.path, "", ""); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", route.method, route.path, rr.Code)
		}
	}
}

func TestAdminRechargeChecksRole(t *testing.T) {
	var role string
	handler := newTestHandler(stubLedgerService{
		adminRechargeFn: func(context.Context, string, int64, string) (services.CreditResult, error) {
			t.Fatalf("service should not be called")
			return services.CreditResult{}, nil
		},
	}, stubRedeemService{}, stubAdminStore{
		isAdminFn: func(context.Context, string) (bool, bool, error) { return true, false, nil },
		hasRoleFn: func(_ context.Context, _ string, r string) (bool, error) {
			role = r
			return false, nil
		},
	}, stubAuditStore{})
	rr := serveRoute(t, handler, http.MethodPost, "/admin/recharge", `{"user_id":"user-2","amount":10}`, "admin-1")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if role != middleware.RoleManageCredits {
		t.Fatalf("expected role %s, got %s", middleware.RoleManageCredits, role)
	}
}

func TestAdminRechargeSuccess(t *testing.T) {
	handler := newTestHandler(stubLedgerService{
		adminRechargeFn: func(_ context.Context, target string, amount int64, adminID string) (services.CreditResult, error) {
			if target != "user-2" || amount != 10 || adminID != "admin-1" {
				t.Fatalf("unexpected admin recharge %s %d %s", target, amount, adminID)
			}
			return services.CreditResult{Balance: 10, TransactionID: "txn_9"}, nil
		},
	}, stubRedeemService{}, superAdmin(), stubAuditStore{})
	rr := serveRoute(t, handler, http.MethodPost, "/admin/recharge", `{"user_id":"user-2","amount":"10"}`, "admin-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if rr := serveRoute(t, handler, http.MethodPost, "/admin/recharge", `{"amount":10}`, "admin-1"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without user_id, got %d", rr.Code)
	}
}

func TestGenerateCodes(t *testing.T) {
	handler := newTestHandler(stubLedgerService{}, stubRedeemService{
		generateFn: func(_ context.Context, req services.GenerateCodesRequest) ([]models.RedeemCode, error) {
			if req.Amount != 50 || req.Count != 2 || req.ActorID != "admin-1" || req.Note == nil || *req.Note != "promo" {
				t.Fatalf("unexpected request %#v", req)
			}
			if req.ExpiresAt == nil || !req.ExpiresAt.Equal(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)) {
				t.Fatalf("unexpected expiry %v", req.ExpiresAt)
			}
			return []models.RedeemCode{{Code: "A", Amount: 50}, {Code: "B", Amount: 50}}, nil
		},
	}, superAdmin(), stubAuditStore{})
	rr := serveRoute(t, handler, http.MethodPost, "/admin/codes", `{"amount":50,"count":2,"expires_at":"2030-01-01T00:00:00Z","note":"promo"}`, "admin-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestGenerateCodesInvalidCount(t *testing.T) {
	handler := newTestHandler(stubLedgerService{}, stubRedeemService{
		generateFn: func(context.Context, services.GenerateCodesRequest) ([]models.RedeemCode, error) {
			return nil, services.ErrInvalidCodeCount
		},
	}, superAdmin(), stubAuditStore{})
	rr := serveRoute(t, handler, http.MethodPost, "/admin/codes", `{"amount":50,"count":1000}`, "admin-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body := decodeBody(t, rr.Body.Bytes()); body["error"] != "invalid_code_count" {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestDisableCode(t *testing.T) {
	var disabled string
	handler := newTestHandler(stubLedgerService{}, stubRedeemService{
		disableFn: func(_ context.Context, code, actorID string) error {
			if code == "DONE" {
				return services.ErrCodeAlreadyDisabled
			}
			disabled = code + ":" + actorID
			return nil
		},
	}, superAdmin(), stubAuditStore{})
	if rr := serveRoute(t, handler, http.MethodPost, "/admin/codes/ABC/disable", "", "admin-1"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if disabled != "ABC:admin-1" {
		t.Fatalf("unexpected disable call %q", disabled)
	}
	rr := serveRoute(t, handler, http.MethodPost, "/admin/codes/DONE/disable", "", "admin-1")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if body := decodeBody(t, rr.Body.Bytes()); body["error"] != "code_already_disabled" {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestListCodesEmptyIsArray(t *testing.T) {
	handler := newTestHandler(stubLedgerService{}, stubRedeemService{}, superAdmin(), stubAuditStore{})
	rr := serveRoute(t, handler, http.MethodGet, "/admin/codes", "", "admin-1")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
}

func TestValidateBalanceRoute(t *testing.T) {
	handler := newTestHandler(stubLedgerService{
		validateBalanceFn: func(_ context.Context, userID string) (models.BalanceCheck, error) {
			return models.BalanceCheck{UserID: userID, LedgerBalance: 10, CachedBalance: 12, Difference: 2}, nil
		},
	}, stubRedeemService{}, superAdmin(), stubAuditStore{})
	rr := serveRoute(t, handler, http.MethodGet, "/admin/users/user-7/validate", "", "admin-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr.Body.Bytes())
	if body["user_id"] != "user-7" || body["valid"] != false {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestReconcileRoute(t *testing.T) {
	handler := newTestHandler(stubLedgerService{
		reconcileAllFn: func(context.Context) ([]models.BalanceCheck, error) {
			return []models.BalanceCheck{{UserID: "user-1", LedgerBalance: 5, CachedBalance: 7, Difference: 2}}, nil
		},
	}, stubRedeemService{}, superAdmin(), stubAuditStore{})
	rr := serveRoute(t, handler, http.MethodGet, "/admin/reconcile", "", "admin-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr.Body.Bytes()); body["count"] != float64(1) {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestListAuditLogsClampsLimit(t *testing.T) {
	handler := newTestHandler(stubLedgerService{}, stubRedeemService{}, superAdmin(), stubAuditStore{
		listFn: func(_ context.Context, limit, offset int) ([]models.AuditLog, error) {
			if limit != 50 || offset != 0 {
				t.Fatalf("unexpected paging %d/%d", limit, offset)
			}
			return nil, errors.New("db down")
		},
	})
	rr := serveRoute(t, handler, http.MethodGet, "/admin/audit?limit=5000", "", "admin-1")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestWSBalanceSendsSnapshot(t *testing.T) {
	handler := newTestHandler(stubLedgerService{
		getBalanceFn: func(context.Context, string) (int64, error) { return 33, nil },
	}, stubRedeemService{}, stubAdminStore{}, stubAuditStore{})
	server := httptest.NewServer(handler.Routes())
	defer server.Close()

	token, err := auth.GenerateToken("secret", "user-1", time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/balance?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var update ws.BalanceUpdate
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if update.UserID != "user-1" || update.Balance != 33 {
		t.Fatalf("unexpected snapshot %#v", update)
	}
}

func TestWSBalanceRejectsMissingToken(t *testing.T) {
	handler := newTestHandler(stubLedgerService{}, stubRedeemService{}, stubAdminStore{}, stubAuditStore{})
	rr := serveRoute(t, handler, http.MethodGet, "/ws/balance", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
