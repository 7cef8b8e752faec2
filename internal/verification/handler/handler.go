// Package handler exposes the public verification endpoints. They are
// unauthenticated; the rate limiter and the generic invalid response are the
// only shields against enumeration.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cachet/internal/verification"
	"cachet/internal/verification/metrics"
	"cachet/pkg/platform/httputil"
	"cachet/pkg/requestcontext"
)

type Handler struct {
	svc     *verification.Service
	limiter verification.RateLimiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(svc *verification.Service, limiter verification.RateLimiter, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, limiter: limiter, metrics: m, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/verify/{code}", h.lookup)
	r.Post("/verify/scan", h.lookupScanned)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	result := h.svc.Lookup(r.Context(), chi.URLParam(r, "code"))
	httputil.WriteJSON(w, http.StatusOK, result)
}

type scanRequest struct {
	Token string `json:"token"`
}

func (h *Handler) lookupScanned(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	req, ok := httputil.Decode[scanRequest](w, r, h.logger, requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	if req.Token == "" {
		httputil.WriteJSON(w, http.StatusOK, verification.Invalid())
		return
	}
	result := h.svc.LookupScanned(r.Context(), req.Token)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// allow applies the per-source limit keyed by the anonymized caller. With no
// limiter configured every request passes.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	source := requestcontext.ClientIPHash(r.Context())
	if source == "" {
		source = "unknown"
	}
	ok, err := h.limiter.Allow(r.Context(), source)
	if err != nil {
		h.logger.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
	}
	if !ok {
		h.metrics.IncRateLimited()
		w.Header().Set("Retry-After", "60")
		httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limited"})
		return false
	}
	return true
}
