package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"creditledger/internal/middleware"
	"creditledger/internal/models"
	"creditledger/internal/services"

	"github.com/go-chi/chi/v5"
)

type adminRechargeRequest struct {
	UserID string      `json:"user_id"`
	Amount json.Number `json:"amount"`
}

type generateCodesRequest struct {
	Amount    json.Number `json:"amount"`
	Count     int         `json:"count"`
	ExpiresAt *time.Time  `json:"expires_at"`
	Note      *string     `json:"note"`
}

func (h *Handler) AdminRecharge(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req adminRechargeRequest
	if err := decodeJSON(w, r, &req); err != nil || req.UserID == "" {
		respondError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	result, err := h.ledger.AdminRecharge(r.Context(), req.UserID, amount, adminID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (h *Handler) GenerateCodes(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req generateCodesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	codes, err := h.redeem.GenerateCodes(r.Context(), services.GenerateCodesRequest{
		Amount:    amount,
		Count:     req.Count,
		ExpiresAt: req.ExpiresAt,
		Note:      req.Note,
		ActorID:   adminID,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, codes)
}

func (h *Handler) ListCodes(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	codes, err := h.redeem.ListCodes(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if codes == nil {
		codes = []models.RedeemCode{}
	}
	respondJSON(w, http.StatusOK, codes)
}

func (h *Handler) DisableCode(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.redeem.DisableCode(r.Context(), chi.URLParam(r, "code"), adminID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (h *Handler) ValidateBalance(w http.ResponseWriter, r *http.Request) {
	check, err := h.ledger.ValidateBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":        check.UserID,
		"ledger_balance": check.LedgerBalance,
		"cached_balance": check.CachedBalance,
		"difference":     check.Difference,
		"valid":          check.Valid(),
	})
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rows, err := h.ledger.ReconcileAll(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if rows == nil {
		rows = []models.BalanceCheck{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"divergent": rows, "count": len(rows)})
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if rows == nil {
		rows = []models.AuditLog{}
	}
	respondJSON(w, http.StatusOK, rows)
}
