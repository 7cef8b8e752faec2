package validation

import (
	"context"

	"cachet/pkg/domain"
)

// Validator is the capability every external check is adapted to. Transport,
// authentication and response quirks live inside the adapter; the
// orchestrator only sees normalized responses.
type Validator interface {
	ID() string
	Kind() Kind
	Check(ctx context.Context, req Request) (Response, error)
}

// AttemptStore persists one row per validator call.
type AttemptStore interface {
	SaveAttempt(ctx context.Context, attempt Attempt) error
	ListAttempts(ctx context.Context, applicationID domain.ApplicationID) ([]Attempt, error)
}

// OutcomeStore keeps the aggregate per application+stage so client retries
// reuse it instead of re-calling the validators.
type OutcomeStore interface {
	SaveOutcome(ctx context.Context, outcome AggregateOutcome) error
	GetOutcome(ctx context.Context, applicationID domain.ApplicationID, stage string) (AggregateOutcome, error)
}

// PriorResultCache remembers recent verified outcomes per applicant and kind.
// A population registry outage is tolerated when a prior verified result is
// still inside its validity window.
type PriorResultCache interface {
	PriorVerified(ctx context.Context, applicantID domain.ApplicantID, kind Kind) (Outcome, bool, error)
	StoreVerified(ctx context.Context, applicantID domain.ApplicantID, kind Kind, outcome Outcome) error
}
