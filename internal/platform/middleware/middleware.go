// Package middleware carries the cross-cutting HTTP chain: correlation IDs,
// panic recovery, request logging, and caller anonymization.
//
// Anonymization happens here, at the edge. Raw client addresses never reach
// the context, the services, or the audit trail.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"cachet/pkg/requestcontext"
)

const (
	headerRequestID = "X-Request-Id"
	headerOperator  = "X-Operator-Id"
)

// RequestID propagates the caller's correlation ID or mints one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), id)))
	})
}

// RequestTime pins one "now" per request so every timestamp taken while
// handling it agrees, from history entries to audit events.
func RequestTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), time.Now())))
	})
}

// Actor records the operator identity claimed by the caller. Unauthenticated
// traffic runs as "anonymous"; the public verification routes never read it.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.Header.Get(headerOperator)
		if actor == "" {
			actor = "anonymous"
		}
		next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(r.Context(), actor)))
	})
}

// Anonymize hashes the client address and reduces the user agent to its
// family before either enters the request context.
func Anonymize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientIPHash(r.Context(), HashAddr(clientAddr(r)))
		ctx = requestcontext.WithUserAgentFamily(ctx, uaFamily(r.UserAgent()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HashAddr returns a truncated SHA-256 of the address, stable enough for
// rate-limit keys and audit correlation without storing the address itself.
func HashAddr(addr string) string {
	sum := sha256.Sum256([]byte(addr))
	return hex.EncodeToString(sum[:16])
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func uaFamily(raw string) string {
	if raw == "" {
		return "unknown"
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		return "bot"
	}
	name, _ := ua.Browser()
	if name == "" {
		return "unknown"
	}
	return name
}

// Recover converts panics into 500s so one bad request cannot take the
// process down.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorContext(r.Context(), "panic recovered",
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path,
						"request_id", requestcontext.RequestID(r.Context()),
					)
					http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Logger emits one structured line per request.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestcontext.RequestID(r.Context()),
			)
		})
	}
}
