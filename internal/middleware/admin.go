package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
)

// Admin roles. Super admins hold every role implicitly.
const (
	RoleManageCredits = "CanManageCredits"
	RoleManageCodes   = "CanManageCodes"
	RoleViewAudit     = "CanViewAudit"
)

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

func RequireAdmin(adminStore AdminStore, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			isAdmin, isSuper, err := adminStore.IsAdmin(r.Context(), userID)
			if err != nil {
				zerolog.Ctx(r.Context()).Error().Err(err).Str("user_id", userID).Msg("admin lookup failed")
				writeError(w, http.StatusInternalServerError, "internal_error")
				return
			}
			if !isAdmin {
				writeError(w, http.StatusForbidden, "admin_required")
				return
			}
			if isSuper || role == "" {
				next.ServeHTTP(w, r)
				return
			}
			hasRole, err := adminStore.HasRole(r.Context(), userID, role)
			if err != nil {
				zerolog.Ctx(r.Context()).Error().Err(err).Str("user_id", userID).Str("role", role).Msg("role lookup failed")
				writeError(w, http.StatusInternalServerError, "internal_error")
				return
			}
			if !hasRole {
				writeError(w, http.StatusForbidden, "role_required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
