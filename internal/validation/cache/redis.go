// Package cache remembers recent verified validator outcomes in Redis so a
// registry outage can be bridged by a result still inside its validity
// window.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cachet/internal/validation"
	"cachet/pkg/domain"
)

const defaultValidity = 90 * 24 * time.Hour

type Redis struct {
	client   *redis.Client
	validity time.Duration
}

type Option func(*Redis)

// WithValidityWindow overrides how long a verified result stays usable.
func WithValidityWindow(d time.Duration) Option {
	return func(r *Redis) { r.validity = d }
}

func NewRedis(client *redis.Client, opts ...Option) *Redis {
	r := &Redis{client: client, validity: defaultValidity}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func key(applicantID domain.ApplicantID, kind validation.Kind) string {
	return fmt.Sprintf("cachet:prior:%s:%s", kind, applicantID)
}

func (r *Redis) PriorVerified(ctx context.Context, applicantID domain.ApplicantID, kind validation.Kind) (validation.Outcome, bool, error) {
	raw, err := r.client.Get(ctx, key(applicantID, kind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return validation.Outcome{}, false, nil
	}
	if err != nil {
		return validation.Outcome{}, false, err
	}
	var outcome validation.Outcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return validation.Outcome{}, false, err
	}
	return outcome, true, nil
}

func (r *Redis) StoreVerified(ctx context.Context, applicantID domain.ApplicantID, kind validation.Kind, outcome validation.Outcome) error {
	if outcome.Result != validation.ResultVerified {
		return nil
	}
	raw, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key(applicantID, kind), raw, r.validity).Err()
}
