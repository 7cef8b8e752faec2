package domain

import (
	"github.com/google/uuid"

	dErrors "cachet/pkg/domain-errors"
)

// Typed identifiers for the issuance pipeline. Wrapping uuid.UUID keeps the
// compiler from accepting an ApplicantID where an ApplicationID is expected.
type (
	ApplicantID   uuid.UUID
	ApplicationID uuid.UUID
	DocumentID    uuid.UUID
	AttemptID     uuid.UUID
)

// NewApplicantID returns a fresh random applicant identifier.
func NewApplicantID() ApplicantID { return ApplicantID(uuid.New()) }

// NewApplicationID returns a fresh random application identifier.
func NewApplicationID() ApplicationID { return ApplicationID(uuid.New()) }

// NewDocumentID returns a fresh random document identifier.
func NewDocumentID() DocumentID { return DocumentID(uuid.New()) }

// NewAttemptID returns a fresh random verification-attempt identifier.
func NewAttemptID() AttemptID { return AttemptID(uuid.New()) }

func (id ApplicantID) String() string   { return uuid.UUID(id).String() }
func (id ApplicationID) String() string { return uuid.UUID(id).String() }
func (id DocumentID) String() string    { return uuid.UUID(id).String() }
func (id AttemptID) String() string     { return uuid.UUID(id).String() }

func (id ApplicantID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ApplicationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id DocumentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id AttemptID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

// parseUUID enforces the shared invariant: IDs must be valid, non-empty,
// non-nil UUIDs. Validation happens at trust boundaries so the rest of the
// code can assume well-formed identifiers.
func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id must not be the nil UUID")
	}
	return u, nil
}

// The text form is the canonical UUID string, so JSON and log output carry
// readable identifiers instead of byte arrays.
func (id ApplicantID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id ApplicationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id DocumentID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id AttemptID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }

func (id *ApplicantID) UnmarshalText(b []byte) error {
	parsed, err := ParseApplicantID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ApplicationID) UnmarshalText(b []byte) error {
	parsed, err := ParseApplicationID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *DocumentID) UnmarshalText(b []byte) error {
	parsed, err := ParseDocumentID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *AttemptID) UnmarshalText(b []byte) error {
	parsed, err := ParseAttemptID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseApplicantID validates and converts a string to an ApplicantID.
func ParseApplicantID(s string) (ApplicantID, error) {
	u, err := parseUUID(s, "applicant")
	return ApplicantID(u), err
}

// ParseApplicationID validates and converts a string to an ApplicationID.
func ParseApplicationID(s string) (ApplicationID, error) {
	u, err := parseUUID(s, "application")
	return ApplicationID(u), err
}

// ParseDocumentID validates and converts a string to a DocumentID.
func ParseDocumentID(s string) (DocumentID, error) {
	u, err := parseUUID(s, "document")
	return DocumentID(u), err
}

// ParseAttemptID validates and converts a string to an AttemptID.
func ParseAttemptID(s string) (AttemptID, error) {
	u, err := parseUUID(s, "attempt")
	return AttemptID(u), err
}
