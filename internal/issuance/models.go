// Package issuance creates the one document record an approved application
// is entitled to: canonical payload, machine readable zone, verification
// code and signature.
package issuance

import (
	"strings"
	"time"

	"cachet/pkg/domain"
)

// Payload is the canonical document content that gets signed. Canonical()
// serializes the fields in a fixed, explicit order; re-verification years
// later depends on that order never changing.
type Payload struct {
	DocumentType   string    `json:"documentType"`
	DocumentNumber string    `json:"documentNumber"`
	IssuingState   string    `json:"issuingState"`
	Surname        string    `json:"surname"`
	GivenNames     string    `json:"givenNames"`
	Nationality    string    `json:"nationality"`
	DateOfBirth    time.Time `json:"dateOfBirth"`
	PlaceOfBirth   string    `json:"placeOfBirth"`
	Sex            string    `json:"sex"`
	IssuedAt       time.Time `json:"issuedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	PersonalNumber string    `json:"personalNumber"`
}

// Canonical returns the byte string that is signed: a fixed field order with
// an unambiguous separator, never a map iteration.
func (p Payload) Canonical(mrzLine1, mrzLine2, verificationCode string) []byte {
	fields := []string{
		"v1",
		p.DocumentType,
		p.DocumentNumber,
		p.IssuingState,
		p.Surname,
		p.GivenNames,
		p.Nationality,
		p.DateOfBirth.UTC().Format(time.RFC3339),
		p.PlaceOfBirth,
		p.Sex,
		p.IssuedAt.UTC().Format(time.RFC3339),
		p.ExpiresAt.UTC().Format(time.RFC3339),
		p.PersonalNumber,
		mrzLine1,
		mrzLine2,
		verificationCode,
	}
	return []byte(strings.Join(fields, "\x1f"))
}

// Document is the issued record. Immutable after creation except for the
// append-only revocation fields; rows are never deleted.
type Document struct {
	ID               domain.DocumentID
	ApplicationID    domain.ApplicationID
	Payload          Payload
	MRZLine1         string
	MRZLine2         string
	VerificationCode string
	Signature        string
	SigningKeyID     string
	IssuedAt         time.Time
	Revoked          bool
	RevokedAt        time.Time
	RevocationReason string
}

// Canonical returns the exact bytes the document's signature covers.
func (d Document) Canonical() []byte {
	return d.Payload.Canonical(d.MRZLine1, d.MRZLine2, d.VerificationCode)
}

// IssuedEvent is what the notification collaborator receives after a
// successful issuance.
type IssuedEvent struct {
	ApplicationID    string    `json:"applicationId"`
	DocumentID       string    `json:"documentId"`
	VerificationCode string    `json:"verificationCode"`
	IssuedAt         time.Time `json:"issuedAt"`
}
