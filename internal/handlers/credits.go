package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"creditledger/internal/middleware"
	"creditledger/internal/services"
	"creditledger/internal/websocket"

	"github.com/go-chi/chi/v5"
)

type consumeRequest struct {
	Amount json.Number `json:"amount"`
	Action string      `json:"action"`
	RefID  *string     `json:"ref_id"`
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	balance, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": balance})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, offset := pageParams(r)
	page, err := h.ledger.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req consumeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	result, err := h.ledger.Consume(r.Context(), services.ConsumeRequest{
		UserID: userID,
		Amount: amount,
		Action: req.Action,
		RefID:  req.RefID,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Idempotent || result.DryRun {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

func (h *Handler) Onboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	result, err := h.ledger.EnsureUser(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, result)
}

func (h *Handler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.redeem.ValidateCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"code":       code.Code,
		"amount":     code.Amount,
		"expires_at": code.ExpiresAt,
	})
}

func (h *Handler) RedeemCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req redeemRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Code == "" {
		respondError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	result, err := h.redeem.RedeemCode(r.Context(), req.Code, userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// WSBalance streams balance pushes for the caller, starting with the
// current balance when the user already exists.
func (h *Handler) WSBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var snapshot *websocket.BalanceUpdate
	balance, err := h.ledger.GetBalance(r.Context(), userID)
	switch {
	case err == nil:
		snapshot = &websocket.BalanceUpdate{UserID: userID, Balance: balance}
	case errors.Is(err, services.ErrUserNotFound):
	default:
		respondServiceError(w, r, err)
		return
	}
	websocket.ServeWS(w, r, h.hub, userID, snapshot, h.logger)
}
