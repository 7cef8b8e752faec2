// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets these values; services and the audit recorder read them.
// Keeping the package free of net/http lets services import only what they
// need. The actor identifier is a free-form string because actors include
// both operator accounts and automated reconciliation sweeps.
package requestcontext

import (
	"context"
	"time"
)

type (
	requestIDKey    struct{}
	actorKey        struct{}
	clientIPHashKey struct{}
	uaFamilyKey     struct{}
	requestTimeKey  struct{}
)

// RequestID retrieves the correlation ID set by middleware, empty if unset.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithRequestID injects a correlation ID into the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// Actor retrieves the acting principal, empty if unset.
func Actor(ctx context.Context) string {
	v, _ := ctx.Value(actorKey{}).(string)
	return v
}

// WithActor injects the acting principal into the context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ClientIPHash retrieves the anonymized caller address. The raw address never
// enters the context; middleware hashes it first.
func ClientIPHash(ctx context.Context) string {
	v, _ := ctx.Value(clientIPHashKey{}).(string)
	return v
}

// WithClientIPHash injects the hashed caller address.
func WithClientIPHash(ctx context.Context, hash string) context.Context {
	return context.WithValue(ctx, clientIPHashKey{}, hash)
}

// UserAgentFamily retrieves the reduced user-agent family (e.g. "Firefox").
func UserAgentFamily(ctx context.Context) string {
	v, _ := ctx.Value(uaFamilyKey{}).(string)
	return v
}

// WithUserAgentFamily injects the reduced user-agent family.
func WithUserAgentFamily(ctx context.Context, family string) context.Context {
	return context.WithValue(ctx, uaFamilyKey{}, family)
}

// Now returns the request time if middleware pinned one, else time.Now().
// Tests inject a fixed time with WithTime.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the request time in the context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
