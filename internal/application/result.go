package application

import (
	"fmt"

	dErrors "cachet/pkg/domain-errors"

	"cachet/internal/validation"
	"cachet/pkg/domain"
)

// StageResult is the closed set of exit evidence a caller can present when
// advancing. Each pipeline stage accepts exactly one variant.
type StageResult interface {
	stageResult()
}

// Submission carries no evidence; leaving draft only needs the applicant to
// press submit.
type Submission struct{}

// ValidationSummary wraps the orchestrator's aggregate for the automated
// stages.
type ValidationSummary struct {
	Outcome validation.AggregateOutcome
}

// BackgroundCheck is the external background/vetting system's verdict.
type BackgroundCheck struct {
	Cleared   bool
	Reference string
}

// Payment is the payment collaborator's confirmation.
type Payment struct {
	Paid      bool
	Reference string
}

// Adjudication is the explicit human decision. The pipeline never
// auto-approves this stage.
type Adjudication struct {
	Approved      bool
	Justification string
	Officer       string
}

// Issuance is presented by the issuance service when moving approved to
// issued.
type Issuance struct {
	DocumentID domain.DocumentID
}

func (Submission) stageResult()        {}
func (ValidationSummary) stageResult() {}
func (BackgroundCheck) stageResult()   {}
func (Payment) stageResult()           {}
func (Adjudication) stageResult()      {}
func (Issuance) stageResult()          {}

// Rules holds the tunable thresholds of the exit predicates.
type Rules struct {
	// MinConfidence is the floor a verified validator outcome must clear for
	// the automated stages.
	MinConfidence float64
}

// DefaultRules matches the production thresholds.
func DefaultRules() Rules {
	return Rules{MinConfidence: 0.80}
}

// ExitAllowed is the per-edge exit predicate: it decides whether the given
// result releases the application from the stage it currently sits in.
func (r Rules) ExitAllowed(from Stage, result StageResult) error {
	switch from {
	case StageDraft:
		if _, ok := result.(Submission); !ok {
			return resultMismatch(from, "submission")
		}
		return nil

	case StageIdentityVerification, StageEligibilityCheck:
		vs, ok := result.(ValidationSummary)
		if !ok {
			return resultMismatch(from, "validation outcome")
		}
		return r.validationPasses(vs.Outcome)

	case StageBackgroundVerification:
		bc, ok := result.(BackgroundCheck)
		if !ok {
			return resultMismatch(from, "background check")
		}
		if !bc.Cleared {
			return dErrors.New(dErrors.CodeIllegalTransition, "background check not cleared")
		}
		return nil

	case StagePaymentProcessing:
		p, ok := result.(Payment)
		if !ok {
			return resultMismatch(from, "payment confirmation")
		}
		if !p.Paid || p.Reference == "" {
			return dErrors.New(dErrors.CodeIllegalTransition, "payment not confirmed")
		}
		return nil

	case StageAdjudication:
		d, ok := result.(Adjudication)
		if !ok {
			return resultMismatch(from, "adjudication decision")
		}
		if d.Justification == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "adjudication requires a justification")
		}
		if !d.Approved {
			return dErrors.New(dErrors.CodeIllegalTransition, "adjudication decision was not approval; use reject")
		}
		return nil

	case StageApproved:
		iss, ok := result.(Issuance)
		if !ok {
			return resultMismatch(from, "issuance record")
		}
		if iss.DocumentID.IsNil() {
			return dErrors.New(dErrors.CodeInvalidInput, "issuance record missing document id")
		}
		return nil
	}

	return dErrors.New(dErrors.CodeIllegalTransition, fmt.Sprintf("stage %s has no forward transition", from))
}

// validationPasses requires at least one verified outcome above the
// confidence floor, no definitive negative, and no hard error. The tolerated
// outage policy already ran inside the orchestrator, so an error reaching
// here always blocks.
func (r Rules) validationPasses(outcome validation.AggregateOutcome) error {
	if outcome.AnyNotVerified() {
		return dErrors.New(dErrors.CodeIllegalTransition, "a validator returned a definitive negative")
	}
	if outcome.AnyError() {
		return dErrors.New(dErrors.CodeIllegalTransition, "a required validator could not be reached")
	}
	if conf := outcome.MaxVerifiedConfidence(); conf < r.MinConfidence {
		return dErrors.New(dErrors.CodeIllegalTransition,
			fmt.Sprintf("no validator reached confidence %.2f (best %.2f)", r.MinConfidence, conf))
	}
	return nil
}

func resultMismatch(from Stage, want string) error {
	return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("stage %s requires a %s result", from, want))
}
