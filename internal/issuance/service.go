package issuance

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dErrors "cachet/pkg/domain-errors"

	"cachet/internal/application"
	"cachet/internal/audit"
	"cachet/internal/issuance/metrics"
	"cachet/internal/mrz"
	"cachet/internal/signing"
	"cachet/pkg/domain"
	"cachet/pkg/platform/sentinel"
	"cachet/pkg/platform/tx"
	"cachet/pkg/requestcontext"
)

const maxCodeAttempts = 5

// Config carries the issuing authority's identity and per-type validity.
type Config struct {
	IssuingState string // ICAO 3-letter code
	Validity     map[application.Type]time.Duration
}

func DefaultConfig() Config {
	return Config{
		IssuingState: "UTO",
		Validity: map[application.Type]time.Duration{
			application.TypePassport:         10 * 365 * 24 * time.Hour,
			application.TypeNationalID:       10 * 365 * 24 * time.Hour,
			application.TypeBirthCertificate: 100 * 365 * 24 * time.Hour,
		},
	}
}

// Service turns an approved application into exactly one signed document.
// Re-entrant: a duplicate trigger finds the existing document and returns it
// unchanged.
type Service struct {
	docs       Store
	apps       *application.Service
	applicants application.ApplicantStore
	signer     *signing.Service
	keyring    signing.Keyring
	publisher  Publisher
	audit      *audit.Recorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
	atomic     tx.Runner
	cfg        Config
}

type Option func(*Service)

func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithKeyring enables scan token generation for printed QR payloads.
func WithKeyring(k signing.Keyring) Option {
	return func(s *Service) { s.keyring = k }
}

// WithAtomic groups the document insert and the advance to issued into one
// transaction, so a crash between the two cannot strand an approved
// application with an orphaned document.
func WithAtomic(run tx.Runner) Option {
	return func(s *Service) {
		if run != nil {
			s.atomic = run
		}
	}
}

func NewService(docs Store, apps *application.Service, applicants application.ApplicantStore, signer *signing.Service, publisher Publisher, recorder *audit.Recorder, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		docs:       docs,
		apps:       apps,
		applicants: applicants,
		signer:     signer,
		publisher:  publisher,
		audit:      recorder,
		metrics:    m,
		logger:     logger,
		atomic:     tx.Passthrough(),
		cfg:        DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates the document for an approved application and advances it to
// issued. Invoking it again for the same application returns the existing
// document; callers cannot tell first from second.
func (s *Service) Issue(ctx context.Context, applicationID domain.ApplicationID) (Document, error) {
	app, err := s.apps.Get(ctx, applicationID)
	if err != nil {
		return Document{}, err
	}

	// A document may already exist whether or not the stage caught up; the
	// reconciliation sweep re-invokes Issue for exactly that case.
	existing, err := s.docs.GetByApplication(ctx, applicationID)
	if err == nil {
		s.metrics.IncAlreadyIssued()
		if app.CurrentStage == application.StageApproved {
			if err := s.advanceToIssued(ctx, applicationID, existing.ID); err != nil {
				return Document{}, err
			}
		}
		return existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return Document{}, dErrors.Wrap(dErrors.CodeInternal, "loading document", err)
	}

	if app.CurrentStage != application.StageApproved {
		return Document{}, dErrors.New(dErrors.CodeIllegalTransition,
			fmt.Sprintf("cannot issue from stage %s", app.CurrentStage))
	}

	applicant, err := s.applicants.GetApplicant(ctx, app.ApplicantID)
	if err != nil {
		return Document{}, dErrors.Wrap(dErrors.CodeInternal, "loading applicant", err)
	}

	now := requestcontext.Now(ctx)
	payload, err := s.buildPayload(applicant, app, now)
	if err != nil {
		return Document{}, err
	}
	zone, err := mrz.Encode(mrz.Data{
		DocumentType:   payload.DocumentType,
		IssuingState:   payload.IssuingState,
		Surname:        payload.Surname,
		GivenNames:     payload.GivenNames,
		DocumentNumber: payload.DocumentNumber,
		Nationality:    payload.Nationality,
		BirthDate:      payload.DateOfBirth,
		Sex:            payload.Sex,
		ExpiryDate:     payload.ExpiresAt,
		PersonalNumber: payload.PersonalNumber,
	})
	if err != nil {
		return Document{}, dErrors.Wrap(dErrors.CodeInternal, "encoding machine readable zone", err)
	}

	doc := Document{
		ID:            domain.NewDocumentID(),
		ApplicationID: applicationID,
		Payload:       payload,
		MRZLine1:      zone.Line1,
		MRZLine2:      zone.Line2,
		IssuedAt:      now,
	}

	persisted := false
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := NewVerificationCode()
		if err != nil {
			return Document{}, dErrors.Wrap(dErrors.CodeInternal, "generating verification code", err)
		}
		doc.VerificationCode = code

		// The code is part of the signed content, so each redraw re-signs.
		signature, keyID, err := s.signer.Sign(doc.Canonical())
		if err != nil {
			// No key, no document. This halts issuance rather than ever
			// persisting an unsigned record.
			return Document{}, err
		}
		doc.Signature = signature
		doc.SigningKeyID = keyID

		// Insert and stage advance commit together: a failed advance rolls
		// the document back out instead of stranding it unreferenced.
		err = s.atomic(ctx, func(ctx context.Context) error {
			if err := s.docs.CreateDocument(ctx, doc); err != nil {
				if errors.Is(err, ErrDuplicateCode) || errors.Is(err, ErrDuplicateApplication) {
					return err
				}
				return dErrors.Wrap(dErrors.CodeInternal, "persisting document", err)
			}
			return s.advanceToIssued(ctx, applicationID, doc.ID)
		})
		if errors.Is(err, ErrDuplicateCode) {
			s.metrics.IncCodeRedraw()
			s.logger.WarnContext(ctx, "verification code collision, redrawing",
				"application_id", applicationID)
			continue
		}
		if errors.Is(err, ErrDuplicateApplication) {
			// Lost a concurrent issuance race; the winner's document is the
			// document.
			s.metrics.IncAlreadyIssued()
			return s.docs.GetByApplication(ctx, applicationID)
		}
		if err != nil {
			return Document{}, err
		}
		persisted = true
		break
	}
	if !persisted {
		return Document{}, dErrors.New(dErrors.CodeInternal, "verification code collisions exhausted the redraw budget")
	}

	s.audit.Record(ctx, audit.Event{
		EntityType: audit.EntityDocument,
		EntityID:   doc.ID.String(),
		Action:     audit.ActionDocumentIssued,
		After: audit.Snapshot(struct {
			ApplicationID string    `json:"applicationId"`
			DocumentType  string    `json:"documentType"`
			SigningKeyID  string    `json:"signingKeyId"`
			IssuedAt      time.Time `json:"issuedAt"`
		}{applicationID.String(), payload.DocumentType, doc.SigningKeyID, doc.IssuedAt}),
	})

	if err := s.publishIssued(ctx, IssuedEvent{
		ApplicationID:    applicationID.String(),
		DocumentID:       doc.ID.String(),
		VerificationCode: doc.VerificationCode,
		IssuedAt:         doc.IssuedAt,
	}); err != nil {
		// Delivery is at-least-once via the reconciliation sweep; losing one
		// publish never rolls back an issued document.
		s.logger.ErrorContext(ctx, "publishing issuance event",
			"document_id", doc.ID, "error", err)
	}

	s.metrics.IncIssued(string(app.Type))
	s.logger.InfoContext(ctx, "document issued",
		"application_id", applicationID,
		"document_id", doc.ID,
		"signing_key_id", doc.SigningKeyID,
	)
	return doc, nil
}

// Revoke flips the append-only revocation flag. Revoking twice is a no-op.
func (s *Service) Revoke(ctx context.Context, id domain.DocumentID, reason string) (Document, error) {
	if reason == "" {
		return Document{}, dErrors.New(dErrors.CodeInvalidInput, "revocation requires a reason")
	}
	doc, err := s.docs.GetByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Document{}, dErrors.New(dErrors.CodeNotFound, "document not found")
	}
	if err != nil {
		return Document{}, dErrors.Wrap(dErrors.CodeInternal, "loading document", err)
	}
	if doc.Revoked {
		return doc, nil
	}

	now := requestcontext.Now(ctx)
	if err := s.docs.Revoke(ctx, id, now, reason); err != nil {
		return Document{}, dErrors.Wrap(dErrors.CodeInternal, "revoking document", err)
	}
	doc.Revoked = true
	doc.RevokedAt = now
	doc.RevocationReason = reason

	s.metrics.IncRevoked()
	s.audit.Record(ctx, audit.Event{
		EntityType: audit.EntityDocument,
		EntityID:   id.String(),
		Action:     audit.ActionDocumentRevoked,
		Reason:     reason,
	})
	s.logger.WarnContext(ctx, "document revoked", "document_id", id, "reason", reason)
	return doc, nil
}

// ScanToken builds the signed QR payload for a document: the canonical scan
// claims as an EdDSA JWS under the active key.
func (s *Service) ScanToken(ctx context.Context, id domain.DocumentID) (string, error) {
	if s.keyring == nil {
		return "", dErrors.New(dErrors.CodeSignatureKeyUnavailable, "no keyring configured for scan tokens")
	}
	doc, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(doc.Payload.GivenNames + " " + doc.Payload.Surname)
	return signing.EncodeScanToken(signing.ScanClaims{
		DocumentID:       doc.ID.String(),
		VerificationCode: doc.VerificationCode,
		DocumentType:     doc.Payload.DocumentType,
		MRZLine2:         doc.MRZLine2,
		HolderNameMasked: MaskName(name),
	}, s.keyring, requestcontext.Now(ctx))
}

// MaskName keeps the first letter of each name part and blinds the rest.
func MaskName(name string) string {
	parts := strings.Fields(name)
	for i, part := range parts {
		runes := []rune(part)
		if len(runes) <= 1 {
			continue
		}
		parts[i] = string(runes[0]) + strings.Repeat("*", len(runes)-1)
	}
	return strings.Join(parts, " ")
}

// Get loads one document by id.
func (s *Service) Get(ctx context.Context, id domain.DocumentID) (Document, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Document{}, dErrors.New(dErrors.CodeNotFound, "document not found")
	}
	if err != nil {
		return Document{}, dErrors.Wrap(dErrors.CodeInternal, "loading document", err)
	}
	return doc, nil
}

func (s *Service) publishIssued(ctx context.Context, event IssuedEvent) error {
	if s.publisher == nil {
		return nil
	}
	return s.publisher.PublishIssued(ctx, event)
}

func (s *Service) advanceToIssued(ctx context.Context, applicationID domain.ApplicationID, docID domain.DocumentID) error {
	_, err := s.apps.Advance(ctx, applicationID, application.Issuance{DocumentID: docID})
	if err == nil {
		return nil
	}
	if dErrors.HasCode(err, dErrors.CodeConcurrentModification) {
		// Someone else advanced it; accept their result if it matches.
		fresh, getErr := s.apps.Get(ctx, applicationID)
		if getErr == nil && fresh.CurrentStage == application.StageIssued {
			return nil
		}
	}
	return err
}

func (s *Service) buildPayload(applicant application.Applicant, app application.Application, now time.Time) (Payload, error) {
	validity, ok := s.cfg.Validity[app.Type]
	if !ok {
		return Payload{}, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("no validity configured for type %s", app.Type))
	}
	number, err := newDocumentNumber()
	if err != nil {
		return Payload{}, dErrors.Wrap(dErrors.CodeInternal, "generating document number", err)
	}
	surname, given := splitName(applicant.LegalName)

	personal := ""
	if len(applicant.IdentityNumbers) > 0 {
		personal = applicant.IdentityNumbers[0]
	}
	return Payload{
		DocumentType:   documentTypeLetter(app.Type),
		DocumentNumber: number,
		IssuingState:   s.cfg.IssuingState,
		Surname:        surname,
		GivenNames:     given,
		Nationality:    applicant.Nationality,
		DateOfBirth:    applicant.DateOfBirth,
		PlaceOfBirth:   applicant.PlaceOfBirth,
		Sex:            applicant.Sex,
		IssuedAt:       now,
		ExpiresAt:      now.Add(validity),
		PersonalNumber: personal,
	}, nil
}

func documentTypeLetter(t application.Type) string {
	switch t {
	case application.TypePassport:
		return "P"
	case application.TypeNationalID:
		return "I"
	case application.TypeBirthCertificate:
		return "C"
	}
	return "A"
}

// splitName follows the travel-document convention: the last token is the
// surname, everything before it the given names.
func splitName(legalName string) (surname, given string) {
	parts := strings.Fields(legalName)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[len(parts)-1], strings.Join(parts[:len(parts)-1], " ")
}

const numberDigits = "0123456789"

// newDocumentNumber draws a 9-character number: one type-letter slot is not
// needed, so it is a letter followed by eight digits.
func newDocumentNumber() (string, error) {
	out := make([]byte, 9)
	letter, err := randBelow(26)
	if err != nil {
		return "", err
	}
	out[0] = 'A' + letter
	for i := 1; i < 9; i++ {
		digit, err := randBelow(10)
		if err != nil {
			return "", err
		}
		out[i] = numberDigits[digit]
	}
	return string(out), nil
}

// randBelow draws a uniform value in [0, n) by rejection sampling. Neither
// 26 nor 10 divides 256, so a plain modulo would skew the low values.
func randBelow(n int) (byte, error) {
	limit := 256 - 256%n
	var buf [1]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		if int(buf[0]) < limit {
			return buf[0] % byte(n), nil
		}
	}
}
