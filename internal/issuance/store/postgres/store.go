// Package postgres persists issued documents. The verification code and the
// application reference each carry a unique constraint; the constraint name
// tells the caller which one fired.
//
// Schema:
//
//	CREATE TABLE issued_documents (
//	    id                UUID PRIMARY KEY,
//	    application_id    UUID NOT NULL,
//	    payload           JSONB NOT NULL,
//	    mrz_line1         TEXT NOT NULL,
//	    mrz_line2         TEXT NOT NULL,
//	    verification_code TEXT NOT NULL,
//	    signature         TEXT NOT NULL,
//	    signing_key_id    TEXT NOT NULL,
//	    issued_at         TIMESTAMPTZ NOT NULL,
//	    revoked           BOOLEAN NOT NULL DEFAULT FALSE,
//	    revoked_at        TIMESTAMPTZ,
//	    revocation_reason TEXT NOT NULL DEFAULT '',
//	    CONSTRAINT issued_documents_application_key UNIQUE (application_id),
//	    CONSTRAINT issued_documents_code_key UNIQUE (verification_code)
//	);
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"cachet/internal/issuance"
	"cachet/pkg/domain"
	"cachet/pkg/platform/sentinel"
	"cachet/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) q(ctx context.Context) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

func (s *Store) CreateDocument(ctx context.Context, doc issuance.Document) error {
	payload, err := json.Marshal(doc.Payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO issued_documents
			(id, application_id, payload, mrz_line1, mrz_line2,
			 verification_code, signature, signing_key_id, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID.String(), doc.ApplicationID.String(), payload,
		doc.MRZLine1, doc.MRZLine2, doc.VerificationCode,
		doc.Signature, doc.SigningKeyID, doc.IssuedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case "issued_documents_code_key":
			return issuance.ErrDuplicateCode
		default:
			return issuance.ErrDuplicateApplication
		}
	}
	return err
}

const selectColumns = `
	id, application_id, payload, mrz_line1, mrz_line2, verification_code,
	signature, signing_key_id, issued_at, revoked, revoked_at, revocation_reason`

func (s *Store) GetByID(ctx context.Context, id domain.DocumentID) (issuance.Document, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM issued_documents WHERE id = $1`, id.String())
	return scanDocument(row)
}

func (s *Store) GetByApplication(ctx context.Context, applicationID domain.ApplicationID) (issuance.Document, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM issued_documents WHERE application_id = $1`, applicationID.String())
	return scanDocument(row)
}

func (s *Store) GetByCode(ctx context.Context, code string) (issuance.Document, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM issued_documents WHERE verification_code = $1`, code)
	return scanDocument(row)
}

func (s *Store) Revoke(ctx context.Context, id domain.DocumentID, at time.Time, reason string) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE issued_documents
		SET revoked = TRUE, revoked_at = $1, revocation_reason = $2
		WHERE id = $3 AND NOT revoked`,
		at, reason, id.String(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Already revoked rows are left untouched; only a missing row is an
		// error.
		var exists bool
		if err := s.q(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM issued_documents WHERE id = $1)`, id.String(),
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return sentinel.ErrNotFound
		}
	}
	return nil
}

func scanDocument(row *sql.Row) (issuance.Document, error) {
	var (
		doc             issuance.Document
		rawID, rawAppID string
		payload         []byte
		revokedAt       sql.NullTime
	)
	err := row.Scan(&rawID, &rawAppID, &payload, &doc.MRZLine1, &doc.MRZLine2,
		&doc.VerificationCode, &doc.Signature, &doc.SigningKeyID, &doc.IssuedAt,
		&doc.Revoked, &revokedAt, &doc.RevocationReason)
	if errors.Is(err, sql.ErrNoRows) {
		return issuance.Document{}, sentinel.ErrNotFound
	}
	if err != nil {
		return issuance.Document{}, err
	}
	if doc.ID, err = domain.ParseDocumentID(rawID); err != nil {
		return issuance.Document{}, err
	}
	if doc.ApplicationID, err = domain.ParseApplicationID(rawAppID); err != nil {
		return issuance.Document{}, err
	}
	if err := json.Unmarshal(payload, &doc.Payload); err != nil {
		return issuance.Document{}, fmt.Errorf("unmarshaling payload: %w", err)
	}
	if revokedAt.Valid {
		doc.RevokedAt = revokedAt.Time
	}
	return doc, nil
}
