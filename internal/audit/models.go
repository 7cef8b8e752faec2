// Package audit is the append-only record of everything that happened in the
// issuance pipeline. The audit log, not current mutable state, is the source
// of truth for "what happened and when".
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityType names which aggregate an event refers to.
type EntityType string

const (
	EntityApplicant   EntityType = "applicant"
	EntityApplication EntityType = "application"
	EntityDocument    EntityType = "document"
	EntityAttempt     EntityType = "verification_attempt"
)

// Actions recorded by the pipeline.
const (
	ActionApplicantRegistered = "applicant_registered"
	ActionApplicationCreated  = "application_created"
	ActionStageAdvanced       = "stage_advanced"
	ActionApplicationRejected = "application_rejected"
	ActionStageOverridden     = "stage_overridden"
	ActionValidatorCalled     = "validator_called"
	ActionDocumentIssued      = "document_issued"
	ActionDocumentRevoked     = "document_revoked"
	ActionVerificationLookup  = "verification_lookup"
	ActionEventRedacted       = "event_redacted"
)

// Event is one immutable audit record. Before/After carry JSON snapshots of
// the entity around the action; either may be empty.
type Event struct {
	ID         uuid.UUID
	EntityType EntityType
	EntityID   string
	Action     string
	Actor      string
	Before     json.RawMessage
	After      json.RawMessage
	Reason     string
	RequestID  string
	Timestamp  time.Time

	// RedactsEventID links a legally required redaction to the original
	// event. The original is never mutated or deleted.
	RedactsEventID *uuid.UUID
}

// Filter narrows a paginated listing. Zero values mean "no constraint".
type Filter struct {
	EntityType EntityType
	EntityID   string
	From       time.Time
	To         time.Time
	AfterSeq   int64 // opaque cursor: last sequence seen
	Limit      int
}

// Page is one chunk of the export stream. NextSeq feeds the next Filter's
// AfterSeq; Done means the stream is exhausted.
type Page struct {
	Events  []Event
	NextSeq int64
	Done    bool
}

// Store persists audit events. Append never updates or deletes; reads return
// insertion order.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByEntity(ctx context.Context, entityType EntityType, entityID string) ([]Event, error)
	List(ctx context.Context, filter Filter) (Page, error)
}

// Snapshot marshals an entity state for the Before/After fields. Marshal
// failures degrade to null rather than blocking the audit write.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
