// Package httptransport assembles the HTTP surface: the cross-cutting
// middleware chain, the operator API, the public verification endpoints, and
// the operational routes.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	applicationhandler "cachet/internal/application/handler"
	audithandler "cachet/internal/audit/handler"
	issuancehandler "cachet/internal/issuance/handler"
	"cachet/internal/platform/metrics"
	"cachet/internal/platform/middleware"
	verificationhandler "cachet/internal/verification/handler"
)

// Handlers groups the route registrars the router mounts. A nil entry is
// skipped so tests can bring up a partial surface.
type Handlers struct {
	Applications *applicationhandler.Handler
	Documents    *issuancehandler.Handler
	Verification *verificationhandler.Handler
	Audit        *audithandler.Handler
}

// NewRouter wires the full surface. The operator API carries the actor
// middleware; the public verification routes carry only anonymization.
func NewRouter(h Handlers, reg *prometheus.Registry, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Anonymize)
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if reg != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Actor)
		if h.Applications != nil {
			h.Applications.Register(r)
		}
		if h.Documents != nil {
			h.Documents.Register(r)
		}
		if h.Audit != nil {
			h.Audit.Register(r)
		}
	})

	if h.Verification != nil {
		h.Verification.Register(r)
	}

	return r
}
