// Package postgres persists applications with an optimistic version check:
// the UPDATE only matches when the stored version equals the one the caller
// read, so a stale writer affects zero rows and loses the race.
//
// Schema:
//
//	CREATE TABLE applicants (
//	    id               UUID PRIMARY KEY,
//	    legal_name       TEXT NOT NULL,
//	    date_of_birth    DATE NOT NULL,
//	    place_of_birth   TEXT NOT NULL,
//	    nationality      TEXT NOT NULL,
//	    sex              TEXT NOT NULL,
//	    identity_numbers TEXT[] NOT NULL DEFAULT '{}',
//	    verified         BOOLEAN NOT NULL DEFAULT FALSE,
//	    created_at       TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE applications (
//	    id               UUID PRIMARY KEY,
//	    applicant_id     UUID NOT NULL REFERENCES applicants (id),
//	    type             TEXT NOT NULL,
//	    priority         TEXT NOT NULL,
//	    current_stage    TEXT NOT NULL,
//	    history          JSONB NOT NULL DEFAULT '[]',
//	    document_id      UUID,
//	    rejection_reason TEXT NOT NULL DEFAULT '',
//	    version          BIGINT NOT NULL,
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    updated_at       TIMESTAMPTZ NOT NULL
//	);
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"cachet/internal/application"
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

// q returns the ambient transaction when one is carried in the context, so a
// caller can group application writes with other tables.
func (s *Store) q(ctx context.Context) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

func (s *Store) Create(ctx context.Context, app application.Application) error {
	history, err := json.Marshal(app.History)
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO applications
			(id, applicant_id, type, priority, current_stage, history,
			 document_id, rejection_reason, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		app.ID.String(), app.ApplicantID.String(), app.Type, app.Priority,
		app.CurrentStage, history, nullableID(app.DocumentID),
		app.RejectionReason, app.Version, app.CreatedAt, app.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	return err
}

func (s *Store) Get(ctx context.Context, id domain.ApplicationID) (application.Application, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, applicant_id, type, priority, current_stage, history,
		       document_id, rejection_reason, version, created_at, updated_at
		FROM applications
		WHERE id = $1`,
		id.String(),
	)
	return scanApplication(row)
}

func (s *Store) Update(ctx context.Context, app application.Application, expectedVersion int64) error {
	history, err := json.Marshal(app.History)
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE applications
		SET current_stage = $1, history = $2, document_id = $3,
		    rejection_reason = $4, version = $5, updated_at = $6
		WHERE id = $7 AND version = $8`,
		app.CurrentStage, history, nullableID(app.DocumentID),
		app.RejectionReason, app.Version, app.UpdatedAt,
		app.ID.String(), expectedVersion,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the row is gone or the version moved under us. Distinguish
		// so callers get the right sentinel.
		var exists bool
		if err := s.q(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM applications WHERE id = $1)`,
			app.ID.String(),
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Store) CreateApplicant(ctx context.Context, a application.Applicant) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO applicants
			(id, legal_name, date_of_birth, place_of_birth, nationality, sex,
			 identity_numbers, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID.String(), a.LegalName, a.DateOfBirth, a.PlaceOfBirth,
		a.Nationality, a.Sex, pq.Array(a.IdentityNumbers), a.Verified, a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	return err
}

func (s *Store) GetApplicant(ctx context.Context, id domain.ApplicantID) (application.Applicant, error) {
	var (
		a     application.Applicant
		rawID string
		nums  pq.StringArray
	)
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, legal_name, date_of_birth, place_of_birth, nationality, sex,
		       identity_numbers, verified, created_at
		FROM applicants
		WHERE id = $1`,
		id.String(),
	).Scan(&rawID, &a.LegalName, &a.DateOfBirth, &a.PlaceOfBirth,
		&a.Nationality, &a.Sex, &nums, &a.Verified, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return application.Applicant{}, sentinel.ErrNotFound
	}
	if err != nil {
		return application.Applicant{}, err
	}
	if a.ID, err = domain.ParseApplicantID(rawID); err != nil {
		return application.Applicant{}, err
	}
	a.IdentityNumbers = []string(nums)
	return a, nil
}

func scanApplication(row *sql.Row) (application.Application, error) {
	var (
		app               application.Application
		rawID, rawApplID  string
		rawDocID          sql.NullString
		history           []byte
		stage, typ, prio  string
	)
	err := row.Scan(&rawID, &rawApplID, &typ, &prio, &stage, &history,
		&rawDocID, &app.RejectionReason, &app.Version, &app.CreatedAt, &app.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return application.Application{}, sentinel.ErrNotFound
	}
	if err != nil {
		return application.Application{}, err
	}

	if app.ID, err = domain.ParseApplicationID(rawID); err != nil {
		return application.Application{}, err
	}
	if app.ApplicantID, err = domain.ParseApplicantID(rawApplID); err != nil {
		return application.Application{}, err
	}
	if rawDocID.Valid {
		if app.DocumentID, err = domain.ParseDocumentID(rawDocID.String); err != nil {
			return application.Application{}, err
		}
	}
	app.Type = application.Type(typ)
	app.Priority = application.Priority(prio)
	app.CurrentStage = application.Stage(stage)
	if err := json.Unmarshal(history, &app.History); err != nil {
		return application.Application{}, fmt.Errorf("unmarshaling history: %w", err)
	}
	return app, nil
}

func nullableID(id domain.DocumentID) any {
	if id.IsNil() {
		return nil
	}
	return id.String()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
