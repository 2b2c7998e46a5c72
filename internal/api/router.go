/**
 * @description
 * This file sets up the HTTP router for the savings-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SavingsRoutes creates and returns a new router for the savings service.
func SavingsRoutes(h *SavingsHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// Groups, members, contributions
		r.Post("/groups", h.CreateGroupHandler)
		r.Get("/groups/{groupID}", h.GetGroupSummaryHandler)
		r.Post("/groups/{groupID}/members", h.AddMemberHandler)
		r.Get("/groups/{groupID}/members", h.ListMembersHandler)
		r.Post("/groups/{groupID}/contributions", h.RecordContributionHandler)
		r.Get("/groups/{groupID}/contributions", h.ListContributionsHandler)

		// Individual withdrawal workflow
		r.Post("/groups/{groupID}/withdrawals", h.CreateWithdrawalHandler)
		r.Get("/withdrawals/{requestID}", h.GetWithdrawalHandler)
		r.Post("/withdrawals/{requestID}/cancel", h.CancelWithdrawalHandler)
		r.Post("/withdrawals/{requestID}/decision", h.DecideWithdrawalHandler)

		// Group (consensus) withdrawal workflow
		r.Post("/groups/{groupID}/group-withdrawals", h.CreateGroupWithdrawalHandler)
		r.Get("/group-withdrawals/{requestID}", h.GetGroupWithdrawalHandler)
		r.Post("/group-withdrawals/{requestID}/decisions", h.SubmitGroupWithdrawalDecisionHandler)
		r.Post("/group-withdrawals/{requestID}/cancel", h.CancelGroupWithdrawalHandler)
		r.Post("/group-withdrawals/{requestID}/dispute", h.CreateDisputeHandler)
	})

	// Internal service-to-service routes guarded by a shared API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalKeyMiddleware(internalAPIKey))
		r.Post("/internal/group-withdrawals/{requestID}/dispute/resolve", h.ResolveDisputeHandler)
	})

	return r
}
