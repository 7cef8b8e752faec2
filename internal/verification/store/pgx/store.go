// Package pgx serves the verification read path from a pgx connection pool,
// kept separate from the lib/pq write path so public lookups never contend
// with issuance transactions.
package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cachet/internal/issuance"
	"cachet/pkg/domain"
	"cachet/pkg/platform/sentinel"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetByCode(ctx context.Context, code string) (issuance.Document, error) {
	var (
		doc             issuance.Document
		rawID, rawAppID string
		payload         []byte
		revokedAt       *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, application_id, payload, mrz_line1, mrz_line2,
		       verification_code, signature, signing_key_id, issued_at,
		       revoked, revoked_at, revocation_reason
		FROM issued_documents
		WHERE verification_code = $1`,
		code,
	).Scan(&rawID, &rawAppID, &payload, &doc.MRZLine1, &doc.MRZLine2,
		&doc.VerificationCode, &doc.Signature, &doc.SigningKeyID, &doc.IssuedAt,
		&doc.Revoked, &revokedAt, &doc.RevocationReason)
	if errors.Is(err, pgx.ErrNoRows) {
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
	if revokedAt != nil {
		doc.RevokedAt = *revokedAt
	}
	return doc, nil
}
