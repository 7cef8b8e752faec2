// Package validation calls the configured external validators for an
// application stage and folds their heterogeneous answers into one aggregate
// the lifecycle state machine can evaluate.
package validation

import (
	"encoding/json"
	"time"

	"cachet/pkg/domain"
)

// Kind names a validator capability. Each kind has its own adapter and its
// own failure policy.
type Kind string

const (
	KindPopulationRegistry Kind = "population_registry"
	KindBiometricMatch     Kind = "biometric_match"
	KindCriminalRecord     Kind = "criminal_record"
	KindTravelDocDirectory Kind = "travel_doc_directory"
)

// Result is the normalized verdict of one validator call.
type Result string

const (
	// ResultVerified is a positive match with the confidence attached.
	ResultVerified Result = "verified"

	// ResultNotVerified is a definitive negative. It is never retried.
	ResultNotVerified Result = "not_verified"

	// ResultInconclusive means the validator answered but could not decide.
	ResultInconclusive Result = "inconclusive"

	// ResultError means the validator was unreachable after exhausting
	// retries, or the breaker shed the call.
	ResultError Result = "error"
)

// Request is the normalized call contract consumed from every validator
// adapter. Transport detail stays behind the adapter.
type Request struct {
	ApplicantID   domain.ApplicantID
	ApplicationID domain.ApplicationID
	Stage         string
	Fields        map[string]string
}

// Response is what an adapter hands back before policy is applied.
type Response struct {
	Result      Result
	Confidence  float64
	RawPayload  json.RawMessage
	RespondedAt time.Time
}

// Outcome is one validator's contribution to the aggregate, after retry and
// breaker policy ran. FromCache marks a tolerated outage that was answered
// from a prior verified result still inside its validity window.
type Outcome struct {
	Validator  string  `json:"validator"`
	Kind       Kind    `json:"kind"`
	Result     Result  `json:"result"`
	Confidence float64 `json:"confidence"`
	RawRef     string  `json:"rawRef,omitempty"`
	FromCache  bool    `json:"fromCache,omitempty"`
	Attempts   int     `json:"attempts"`
}

// AggregateOutcome is the combined verdict across every validator consulted
// for one application stage. It is stored per application+stage so client
// retries reuse it instead of re-calling the validators.
type AggregateOutcome struct {
	ApplicationID domain.ApplicationID `json:"applicationId"`
	Stage         string               `json:"stage"`
	Outcomes      []Outcome            `json:"outcomes"`
	CompletedAt   time.Time            `json:"completedAt"`
}

// AnyNotVerified reports whether any validator returned a definitive
// negative.
func (a AggregateOutcome) AnyNotVerified() bool {
	for _, o := range a.Outcomes {
		if o.Result == ResultNotVerified {
			return true
		}
	}
	return false
}

// AnyError reports whether any validator ended in a hard error after policy.
func (a AggregateOutcome) AnyError() bool {
	for _, o := range a.Outcomes {
		if o.Result == ResultError {
			return true
		}
	}
	return false
}

// MaxVerifiedConfidence returns the highest confidence among verified
// outcomes, or zero when none verified.
func (a AggregateOutcome) MaxVerifiedConfidence() float64 {
	var max float64
	for _, o := range a.Outcomes {
		if o.Result == ResultVerified && o.Confidence > max {
			max = o.Confidence
		}
	}
	return max
}

// Attempt is the persisted record of one validator call, retries included.
// Owned by the orchestrator, read-only to every other component.
type Attempt struct {
	ID            domain.AttemptID
	ApplicationID domain.ApplicationID
	Validator     string
	Kind          Kind
	Stage         string
	Request       json.RawMessage
	Response      json.RawMessage
	Result        Result
	Confidence    float64
	RetryCount    int
	StartedAt     time.Time
	CompletedAt   time.Time
}
