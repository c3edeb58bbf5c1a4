// Package httptransport is the thin HTTP layer over the engine and the
// query service. Handlers validate and translate; every rule lives below.
package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"idregistry/internal/platform/metrics"
)

// NewRouter wires every endpoint plus the operational surface.
func NewRouter(h *Handler, m *metrics.Metrics, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(latency(m))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/identities", h.handleAddIdentity)
		r.Delete("/identities/{id}", h.handleDeleteIdentity)
		r.Post("/identities/{id}/move", h.handleMoveIdentity)

		r.Get("/unique-identities", h.handleListUniqueIdentities)
		r.Get("/unique-identities/{uuid}", h.handleGetUniqueIdentity)
		r.Post("/unique-identities/{uuid}/merge", h.handleMergeIdentities)
		r.Put("/unique-identities/{uuid}/profile", h.handleUpdateProfile)
		r.Post("/unique-identities/{uuid}/enrollments", h.handleEnroll)
		r.Post("/unique-identities/{uuid}/enrollments/withdraw", h.handleWithdraw)

		r.Post("/organizations", h.handleAddOrganization)
		r.Get("/organizations", h.handleListOrganizations)
		r.Get("/organizations/{name}", h.handleGetOrganization)
		r.Delete("/organizations/{name}", h.handleDeleteOrganization)
		r.Post("/organizations/{name}/domains", h.handleAddDomain)
		r.Delete("/domains/{domain}", h.handleDeleteDomain)

		r.Post("/countries", h.handleLoadCountries)
		r.Get("/countries", h.handleListCountries)

		r.Post("/blacklist", h.handleAddExclusion)
		r.Get("/blacklist", h.handleListExclusions)
		r.Get("/blacklist/check", h.handleCheckExclusion)
		r.Delete("/blacklist/{term}", h.handleDeleteExclusion)

		r.Get("/contexts", h.handleListContexts)
		r.Get("/contexts/{cuid}", h.handleGetContext)
		r.Get("/transactions", h.handleListTransactions)
	})

	return r
}

// latency records request durations per route pattern and status.
func latency(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveHTTPDuration(route, strconv.Itoa(ww.Status()), time.Since(start))
		})
	}
}
