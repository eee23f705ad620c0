package handlers

import (
	"errors"
	"net/http"

	"creditledger/internal/middleware"
	"creditledger/internal/services"

	"github.com/rs/zerolog"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var serviceErrors = []errorMapping{
	{services.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{services.ErrInvalidAction, http.StatusBadRequest, "invalid_action"},
	{services.ErrInvalidUserID, http.StatusBadRequest, "invalid_user_id"},
	{services.ErrInvalidRefID, http.StatusBadRequest, "invalid_ref_id"},
	{services.ErrInvalidCodeCount, http.StatusBadRequest, "invalid_code_count"},
	{services.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{services.ErrCodeNotFound, http.StatusNotFound, "code_not_found"},
	{services.ErrCodeAlreadyUsed, http.StatusConflict, "code_already_used"},
	{services.ErrCodeAlreadyDisabled, http.StatusConflict, "code_already_disabled"},
	{services.ErrCodeDisabled, http.StatusGone, "code_disabled"},
	{services.ErrCodeExpired, http.StatusGone, "code_expired"},
}

// respondServiceError translates service error kinds into a status and a
// stable error code. Business-rule rejections carry their structured detail.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *services.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		respondJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":    "insufficient_credits",
			"balance":  insufficient.Balance,
			"required": insufficient.Required,
		})
		return
	}
	var single *services.SingleTransactionLimitError
	if errors.As(err, &single) {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     "single_transaction_limit_exceeded",
			"limit":     single.Limit,
			"requested": single.Requested,
		})
		return
	}
	var daily *services.DailyLimitError
	if errors.As(err, &daily) {
		respondJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":          "daily_limit_exceeded",
			"daily_limit":    daily.DailyLimit,
			"today_consumed": daily.TodayConsumed,
			"requested":      daily.Requested,
		})
		return
	}
	var used *services.CodeUsedError
	if errors.As(err, &used) {
		caller, _ := middleware.UserIDFromContext(r.Context())
		respondJSON(w, http.StatusConflict, map[string]any{
			"error":           "code_already_used",
			"redeemed_by_you": caller != "" && caller == used.UsedBy,
		})
		return
	}
	for _, mapping := range serviceErrors {
		if errors.Is(err, mapping.target) {
			respondError(w, mapping.status, mapping.code)
			return
		}
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	respondError(w, http.StatusInternalServerError, "internal_error")
}
