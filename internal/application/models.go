// Package application owns the canonical stage of every application. It is
// the only writer of currentStage; every legal transition is an entry in an
// explicit table, and illegal ones never reach storage.
package application

import (
	"encoding/json"
	"fmt"
	"time"

	dErrors "cachet/pkg/domain-errors"

	"cachet/pkg/domain"
)

// Stage is one node of the fixed pipeline graph.
type Stage string

const (
	StageDraft                  Stage = "draft"
	StageIdentityVerification   Stage = "identity_verification"
	StageEligibilityCheck       Stage = "eligibility_check"
	StageBackgroundVerification Stage = "background_verification"
	StagePaymentProcessing      Stage = "payment_processing"
	StageAdjudication           Stage = "adjudication"
	StageApproved               Stage = "approved"
	StageIssued                 Stage = "issued"
	StageRejected               Stage = "rejected"
)

// forward is the adjacency list of the pipeline. A stage absent from the map
// has no forward edge; rejected is reachable separately from any non-terminal
// stage.
var forward = map[Stage]Stage{
	StageDraft:                  StageIdentityVerification,
	StageIdentityVerification:   StageEligibilityCheck,
	StageEligibilityCheck:       StageBackgroundVerification,
	StageBackgroundVerification: StagePaymentProcessing,
	StagePaymentProcessing:      StageAdjudication,
	StageAdjudication:           StageApproved,
	StageApproved:               StageIssued,
}

var pipelineOrder = []Stage{
	StageDraft,
	StageIdentityVerification,
	StageEligibilityCheck,
	StageBackgroundVerification,
	StagePaymentProcessing,
	StageAdjudication,
	StageApproved,
	StageIssued,
}

// Next returns the forward edge out of a stage.
func Next(s Stage) (Stage, bool) {
	next, ok := forward[s]
	return next, ok
}

// IsTerminal reports whether a stage has no outgoing edges at all.
func (s Stage) IsTerminal() bool {
	return s == StageIssued || s == StageRejected
}

// Automated reports whether the stage's exit result comes from the
// cross-validation orchestrator rather than a human or an external system.
func (s Stage) Automated() bool {
	return s == StageIdentityVerification || s == StageEligibilityCheck
}

// ParseStage validates a stage received over the wire.
func ParseStage(s string) (Stage, error) {
	for _, known := range pipelineOrder {
		if Stage(s) == known {
			return known, nil
		}
	}
	if Stage(s) == StageRejected {
		return StageRejected, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown stage %q", s))
}

// Type classifies what kind of document the application requests.
type Type string

const (
	TypePassport         Type = "passport"
	TypeNationalID       Type = "national_id"
	TypeBirthCertificate Type = "birth_certificate"
)

func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypePassport, TypeNationalID, TypeBirthCertificate:
		return Type(s), nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown application type %q", s))
}

// Priority drives the SLA budget an application is held to.
type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityExpedited Priority = "expedited"
)

func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityNormal, PriorityExpedited:
		return Priority(s), nil
	case "":
		return PriorityNormal, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown priority %q", s))
}

// Applicant holds the identity attributes verified upstream. Immutable once
// verified; corrections go through a workflow outside this service.
type Applicant struct {
	ID              domain.ApplicantID
	LegalName       string
	DateOfBirth     time.Time
	PlaceOfBirth    string
	Nationality     string // ISO 3166-1 alpha-3
	Sex             string // M, F or X
	IdentityNumbers []string
	Verified        bool
	CreatedAt       time.Time
}

// HistoryEntry records one stage entry. Result is a snapshot of the stage
// result that satisfied the previous stage's exit predicate; nil for draft.
type HistoryEntry struct {
	Stage     Stage           `json:"stage"`
	EnteredAt time.Time       `json:"enteredAt"`
	Actor     string          `json:"actor"`
	Result    json.RawMessage `json:"result,omitempty"`
	Note      string          `json:"note,omitempty"`
}

// Application is the aggregate root of the pipeline. Version implements the
// optimistic concurrency check: every successful write bumps it, and a stale
// writer loses with ConcurrentModification.
type Application struct {
	ID              domain.ApplicationID
	ApplicantID     domain.ApplicantID
	Type            Type
	Priority        Priority
	CurrentStage    Stage
	History         []HistoryEntry
	DocumentID      domain.DocumentID
	RejectionReason string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EnteredCurrentStageAt returns when the application entered its current
// stage. Falls back to CreatedAt for a history-less record.
func (a Application) EnteredCurrentStageAt() time.Time {
	if len(a.History) == 0 {
		return a.CreatedAt
	}
	return a.History[len(a.History)-1].EnteredAt
}
