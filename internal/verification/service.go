package verification

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"cachet/internal/audit"
	"cachet/internal/issuance"
	"cachet/internal/mrz"
	"cachet/internal/signing"
	"cachet/internal/verification/metrics"
	"cachet/pkg/platform/sentinel"
	"cachet/pkg/requestcontext"
)

// ReadStore is the lookup side of document storage.
type ReadStore interface {
	GetByCode(ctx context.Context, code string) (issuance.Document, error)
}

// Service re-verifies issued documents from stored state only: recompute the
// check digits, re-verify the signature under the historical key, check the
// revocation flag. It trusts nothing the caller sends beyond the lookup key.
type Service struct {
	docs    ReadStore
	signer  *signing.Service
	keyring signing.Keyring
	audit   *audit.Recorder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewService(docs ReadStore, signer *signing.Service, keyring signing.Keyring, recorder *audit.Recorder, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		docs:    docs,
		signer:  signer,
		keyring: keyring,
		audit:   recorder,
		metrics: m,
		logger:  logger,
	}
}

// Lookup verifies the document behind a printed verification code.
func (s *Service) Lookup(ctx context.Context, code string) Result {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !wellFormedCode(code) {
		return s.conclude(ctx, "code", "malformed", "", Invalid())
	}

	doc, err := s.docs.GetByCode(ctx, code)
	if errors.Is(err, sentinel.ErrNotFound) {
		return s.conclude(ctx, "code", "unknown", "", Invalid())
	}
	if err != nil {
		// Storage trouble reads the same as an unknown code; detail stays
		// internal.
		s.logger.ErrorContext(ctx, "verification lookup failed", "error", err)
		return s.conclude(ctx, "code", "error", "", Invalid())
	}

	checks := s.runChecks(doc)
	if !checks.ChecksumValid || !checks.SignatureValid {
		return s.conclude(ctx, "code", "tampered", doc.ID.String(), Invalid())
	}

	outcome := "valid"
	if !checks.NotRevoked {
		outcome = "revoked"
	}
	return s.conclude(ctx, "code", outcome, doc.ID.String(), s.positiveResult(doc, checks))
}

// LookupScanned verifies a scanned QR payload: the same three checks, with
// the signature check carried by the EdDSA JWS itself, so no prior code
// round trip is needed.
func (s *Service) LookupScanned(ctx context.Context, token string) Result {
	claims, err := signing.DecodeScanToken(token, s.keyring)
	if err != nil {
		return s.conclude(ctx, "scan", "bad_token", "", Invalid())
	}

	fieldChecks, err := mrz.Validate(claims.MRZLine2)
	if err != nil || !fieldChecks.AllValid() {
		return s.conclude(ctx, "scan", "tampered", claims.DocumentID, Invalid())
	}

	// The token's signature proved who minted it; the stored record decides
	// whether it still stands.
	doc, err := s.docs.GetByCode(ctx, claims.VerificationCode)
	if errors.Is(err, sentinel.ErrNotFound) {
		return s.conclude(ctx, "scan", "unknown", claims.DocumentID, Invalid())
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "scan lookup failed", "error", err)
		return s.conclude(ctx, "scan", "error", claims.DocumentID, Invalid())
	}
	if doc.ID.String() != claims.DocumentID || doc.MRZLine2 != claims.MRZLine2 {
		return s.conclude(ctx, "scan", "tampered", claims.DocumentID, Invalid())
	}

	checks := TamperChecks{
		ChecksumValid:  true,
		SignatureValid: true,
		NotRevoked:     !doc.Revoked,
	}
	outcome := "valid"
	if doc.Revoked {
		outcome = "revoked"
	}
	return s.conclude(ctx, "scan", outcome, doc.ID.String(), s.positiveResult(doc, checks))
}

func (s *Service) runChecks(doc issuance.Document) TamperChecks {
	var checks TamperChecks
	fieldChecks, err := mrz.Validate(doc.MRZLine2)
	checks.ChecksumValid = err == nil && fieldChecks.AllValid()
	checks.SignatureValid = s.signer.Verify(doc.SigningKeyID, doc.Canonical(), doc.Signature) == nil
	checks.NotRevoked = !doc.Revoked
	return checks
}

func (s *Service) positiveResult(doc issuance.Document, checks TamperChecks) Result {
	name := strings.TrimSpace(doc.Payload.GivenNames + " " + doc.Payload.Surname)
	return Result{
		Valid:            true,
		DocumentType:     doc.Payload.DocumentType,
		IssuedDate:       doc.IssuedAt.UTC().Format("2006-01-02"),
		HolderNameMasked: issuance.MaskName(name),
		TamperChecks:     &checks,
	}
}

// conclude records the lookup in the audit trail with anonymized caller
// context and counts it. The response itself never carries request metadata.
func (s *Service) conclude(ctx context.Context, method, outcome, documentID string, result Result) Result {
	s.metrics.IncLookup(method, outcome)
	entityID := documentID
	if entityID == "" {
		entityID = "unknown"
	}
	s.audit.Record(ctx, audit.Event{
		EntityType: audit.EntityDocument,
		EntityID:   entityID,
		Action:     audit.ActionVerificationLookup,
		After: audit.Snapshot(struct {
			Method          string `json:"method"`
			Outcome         string `json:"outcome"`
			CallerIPHash    string `json:"callerIpHash,omitempty"`
			UserAgentFamily string `json:"userAgentFamily,omitempty"`
		}{method, outcome, requestcontext.ClientIPHash(ctx), requestcontext.UserAgentFamily(ctx)}),
	})
	return result
}

func wellFormedCode(code string) bool {
	if len(code) != issuance.CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}
