/**
 * @description
 * This file sets up the HTTP router for the linkdrop service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * authentication middleware for funders and internal callers.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the secrets and optional handlers the router mounts.
type RouterConfig struct {
	JWTSecret      string
	InternalAPIKey string
	Metrics        http.Handler
}

// NewRouter creates a new Chi router and registers the linkdrop routes.
func NewRouter(h *Handlers, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// Claims are gated by the credential signature, not by an account session.
	r.Post("/claims", h.ClaimHandler)
	r.Post("/claims/create-account", h.ClaimAndCreateAccountHandler)
	r.Get("/claims/{claimID}", h.GetClaimHandler)
	r.Get("/drops/{dropID}", h.GetDropHandler)
	r.Get("/credentials/{publicKey}", h.GetCredentialHandler)

	r.Group(func(r chi.Router) {
		r.Use(FunderAuthMiddleware(cfg.JWTSecret))

		r.Post("/drops", h.CreateDropHandler)
		r.Get("/drops", h.ListDropsHandler)
		r.Delete("/drops/{dropID}", h.DeleteDropHandler)
		r.Post("/drops/{dropID}/credentials", h.MintCredentialsHandler)
		r.Get("/credentials", h.ListCredentialsHandler)
		r.Delete("/credentials/{publicKey}", h.DeleteCredentialHandler)

		r.Get("/balance", h.GetBalanceHandler)
		r.Post("/balance/withdraw", h.WithdrawBalanceHandler)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/outcomes", h.ResolveOutcomeHandler)
		r.Post("/deposits", h.DepositAssetHandler)
		r.Post("/balance/deposits", h.FunderDepositHandler)
		r.Post("/sweep", h.SweepHandler)
	})

	return r
}
