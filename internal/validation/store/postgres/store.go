// Package postgres persists verification attempts and aggregate outcomes.
//
// Schema:
//
//	CREATE TABLE verification_attempts (
//	    id             UUID PRIMARY KEY,
//	    application_id UUID NOT NULL,
//	    validator      TEXT NOT NULL,
//	    kind           TEXT NOT NULL,
//	    stage          TEXT NOT NULL,
//	    request        JSONB,
//	    response       JSONB,
//	    result         TEXT NOT NULL,
//	    confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    retry_count    INT NOT NULL DEFAULT 0,
//	    started_at     TIMESTAMPTZ NOT NULL,
//	    completed_at   TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX verification_attempts_application_idx
//	    ON verification_attempts (application_id, started_at);
//
//	CREATE TABLE aggregate_outcomes (
//	    application_id UUID NOT NULL,
//	    stage          TEXT NOT NULL,
//	    outcomes       JSONB NOT NULL,
//	    completed_at   TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (application_id, stage)
//	);
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"cachet/internal/validation"
	"cachet/pkg/domain"
	"cachet/pkg/platform/sentinel"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) SaveAttempt(ctx context.Context, a validation.Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_attempts
			(id, application_id, validator, kind, stage, request, response,
			 result, confidence, retry_count, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID.String(), a.ApplicationID.String(), a.Validator, a.Kind, a.Stage,
		nullableJSON(a.Request), nullableJSON(a.Response),
		a.Result, a.Confidence, a.RetryCount, a.StartedAt, a.CompletedAt,
	)
	return err
}

func (s *Store) ListAttempts(ctx context.Context, applicationID domain.ApplicationID) ([]validation.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, validator, kind, stage, request, response,
		       result, confidence, retry_count, started_at, completed_at
		FROM verification_attempts
		WHERE application_id = $1
		ORDER BY started_at`,
		applicationID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []validation.Attempt
	for rows.Next() {
		var (
			a                validation.Attempt
			rawID, rawAppID  string
			request, reply   []byte
		)
		if err := rows.Scan(&rawID, &rawAppID, &a.Validator, &a.Kind, &a.Stage,
			&request, &reply, &a.Result, &a.Confidence, &a.RetryCount,
			&a.StartedAt, &a.CompletedAt); err != nil {
			return nil, err
		}
		if a.ID, err = domain.ParseAttemptID(rawID); err != nil {
			return nil, err
		}
		if a.ApplicationID, err = domain.ParseApplicationID(rawAppID); err != nil {
			return nil, err
		}
		a.Request = request
		a.Response = reply
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveOutcome(ctx context.Context, outcome validation.AggregateOutcome) error {
	outcomes, err := json.Marshal(outcome.Outcomes)
	if err != nil {
		return fmt.Errorf("marshaling outcomes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO aggregate_outcomes (application_id, stage, outcomes, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (application_id, stage)
		DO UPDATE SET outcomes = EXCLUDED.outcomes, completed_at = EXCLUDED.completed_at`,
		outcome.ApplicationID.String(), outcome.Stage, outcomes, outcome.CompletedAt,
	)
	return err
}

func (s *Store) GetOutcome(ctx context.Context, applicationID domain.ApplicationID, stage string) (validation.AggregateOutcome, error) {
	var (
		outcome  validation.AggregateOutcome
		outcomes []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT outcomes, completed_at
		FROM aggregate_outcomes
		WHERE application_id = $1 AND stage = $2`,
		applicationID.String(), stage,
	).Scan(&outcomes, &outcome.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return validation.AggregateOutcome{}, sentinel.ErrNotFound
	}
	if err != nil {
		return validation.AggregateOutcome{}, err
	}
	if err := json.Unmarshal(outcomes, &outcome.Outcomes); err != nil {
		return validation.AggregateOutcome{}, fmt.Errorf("unmarshaling outcomes: %w", err)
	}
	outcome.ApplicationID = applicationID
	outcome.Stage = stage
	return outcome, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
