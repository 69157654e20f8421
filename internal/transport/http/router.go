// Package httptransport is the thin HTTP layer. Handlers delegate to domain
// services and never embed business logic; role policy is applied here, at
// the routing layer, before any ledger read.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"doorledger/internal/platform/metrics"
	"doorledger/internal/platform/middleware"
)

// RouterDeps carries everything the router wires together.
type RouterDeps struct {
	Admission   AdmissionService
	Passes      PassService
	Attribution AttributionService
	Payouts     PayoutService

	JWTValidator middleware.JWTValidator
	Metrics      *metrics.Metrics
	Logger       *slog.Logger

	// Health reports readiness of downstream dependencies. Nil means always
	// healthy.
	Health func() error
}

// NewRouter builds the full route tree with the standard middleware chain.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.LatencyMiddleware(deps.Metrics))

	r.Get("/healthz", handleHealth(deps.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)

		requireAuth := middleware.RequireAuth(deps.JWTValidator, deps.Logger)
		requireDoorStaff := chainAuth(requireAuth, middleware.RequireRole(middleware.RoleDoorStaff, deps.Logger))
		requirePromoter := chainAuth(requireAuth, middleware.RequireRole(middleware.RolePromoter, deps.Logger))
		requireAdmin := chainAuth(requireAuth, middleware.RequireRole(middleware.RoleAdmin, deps.Logger))

		NewPassHandler(deps.Passes, deps.Logger).Register(r)
		NewAdmissionHandler(deps.Admission, deps.Logger).Register(r, requireDoorStaff, requireAuth)
		NewAttributionHandler(deps.Attribution, deps.Logger).Register(r, requirePromoter)
		NewPayoutHandler(deps.Payouts, deps.Logger).Register(r, requireAdmin)
	})

	return r
}

func chainAuth(outer, inner func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return outer(inner(next))
	}
}

func handleHealth(health func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
