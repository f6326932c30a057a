/*
server.go - HTTP router and middleware configuration

MIDDLEWARE STACK:
  1. Logger:    request logging
  2. Recoverer: panic recovery (500 instead of crash)
  3. RequestID: unique id per request
  4. CORS:      the POS frontend runs on a different origin
  5. Identity:  operator headers -> auth.Operator in the request context

IDENTITY:
  The POS app authenticates operators; this service trusts the app and
  reads X-Operator-Id / X-Operator-Name / X-Operator-Role. The reports
  listing additionally requires the admin role.
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/beanline/till-engine/auth"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Operator-Id", "X-Operator-Name", "X-Operator-Role"},
		AllowCredentials: false,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(operatorIdentity)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/", h.StartSession)
			r.Post("/recover", h.RecoverSession)
		})

		r.Route("/shifts", func(r chi.Router) {
			r.Post("/{id}/transactions", h.AddTransaction)
			r.Post("/{id}/actuals", h.SubmitActuals)
			r.Post("/{id}/close", h.CloseShift)
			r.Get("/{id}/report", h.GetReport)
		})

		r.With(requireAdmin).Get("/reports", h.ListReports)
	})

	return r
}

// operatorIdentity reads the operator headers into the request context.
// Requests without an operator id pass through; handlers that need an
// identity reject them individually.
func operatorIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Operator-Id")
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}

		role := auth.Role(r.Header.Get("X-Operator-Role"))
		if !role.Valid() {
			role = auth.RoleBarista
		}
		op := auth.Operator{
			ID:   id,
			Name: r.Header.Get("X-Operator-Name"),
			Role: role,
		}
		next.ServeHTTP(w, r.WithContext(auth.WithOperator(r.Context(), op)))
	})
}

// requireAdmin gates admin-only routes on the operator role.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op, err := auth.FromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Operator identity required", err)
			return
		}
		if op.Role != auth.RoleAdmin {
			writeError(w, http.StatusForbidden, "Admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
