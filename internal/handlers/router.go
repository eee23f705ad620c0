package handlers

import (
	"net/http"
	"strings"

	"creditledger/internal/config"
	"creditledger/internal/middleware"
	"creditledger/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

type Handler struct {
	cfg     config.Config
	ledger  LedgerService
	redeem  RedeemService
	admin   AdminStore
	audit   AuditStore
	hub     *websocket.Hub
	metrics Metrics
	logger  zerolog.Logger
}

func New(cfg config.Config, ledger LedgerService, redeem RedeemService, admin AdminStore, audit AuditStore, hub *websocket.Hub, metrics Metrics, logger zerolog.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		ledger:  ledger,
		redeem:  redeem,
		admin:   admin,
		audit:   audit,
		hub:     hub,
		metrics: metrics,
		logger:  logger,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.RequestLogger(h.logger))
	router.Use(middleware.Metrics(h.metrics))
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(h.cfg.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Route("/credits", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Get("/balance", h.GetBalance)
		r.Get("/transactions", h.ListTransactions)
		r.Post("/consume", h.Consume)
		r.Post("/onboard", h.Onboard)
		r.Post("/redeem", h.RedeemCode)
		r.Get("/redeem/{code}", h.ValidateCode)
	})
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/ws/balance", h.WSBalance)

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleManageCredits)).Post("/recharge", h.AdminRecharge)
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleManageCodes)).Post("/codes", h.GenerateCodes)
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleManageCodes)).Get("/codes", h.ListCodes)
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleManageCodes)).Post("/codes/{code}/disable", h.DisableCode)
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleViewAudit)).Get("/users/{id}/validate", h.ValidateBalance)
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleViewAudit)).Get("/reconcile", h.Reconcile)
		r.With(middleware.RequireAdmin(h.admin, middleware.RoleViewAudit)).Get("/audit", h.ListAuditLogs)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	return router
}
