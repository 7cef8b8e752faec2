package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"cachet/internal/audit"
)

// Store implements audit.Store on PostgreSQL. Every append also writes an
// outbox row so the Kafka relay can stream events to the compliance topic;
// both inserts happen in one transaction.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Schema for reference; migrations are managed by the deployment.
//
//	CREATE TABLE audit_events (
//	    seq          BIGSERIAL PRIMARY KEY,
//	    id           UUID NOT NULL UNIQUE,
//	    entity_type  TEXT NOT NULL,
//	    entity_id    TEXT NOT NULL,
//	    action       TEXT NOT NULL,
//	    actor        TEXT NOT NULL DEFAULT '',
//	    before       JSONB,
//	    after        JSONB,
//	    reason       TEXT NOT NULL DEFAULT '',
//	    request_id   TEXT NOT NULL DEFAULT '',
//	    redacts      UUID,
//	    ts           TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE audit_outbox (
//	    id           UUID PRIMARY KEY,
//	    payload      JSONB NOT NULL,
//	    created_at   TIMESTAMPTZ NOT NULL,
//	    published_at TIMESTAMPTZ
//	);

type outboxPayload struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     string          `json:"action"`
	Actor      string          `json:"actor,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Redacts    string          `json:"redacts,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Timestamp  string          `json:"ts"`
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	payload := outboxPayload{
		ID:         event.ID.String(),
		EntityType: string(event.EntityType),
		EntityID:   event.EntityID,
		Action:     event.Action,
		Actor:      event.Actor,
		Reason:     event.Reason,
		RequestID:  event.RequestID,
		Before:     event.Before,
		After:      event.After,
		Timestamp:  event.Timestamp.Format(time.RFC3339Nano),
	}
	if event.RedactsEventID != nil {
		payload.Redacts = event.RedactsEventID.String()
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events (id, entity_type, entity_id, action, actor, before, after, reason, request_id, redacts, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`,
		event.ID,
		string(event.EntityType),
		event.EntityID,
		event.Action,
		event.Actor,
		nullableJSON(event.Before),
		nullableJSON(event.After),
		event.Reason,
		event.RequestID,
		event.RedactsEventID,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_outbox (id, payload, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, payloadBytes, time.Now())
	if err != nil {
		return fmt.Errorf("insert audit outbox entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

func (s *Store) ListByEntity(ctx context.Context, entityType audit.EntityType, entityID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, action, actor, before, after, reason, request_id, redacts, ts
		FROM audit_events
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY seq
	`, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events, _, err := scanEvents(rows)
	return events, err
}

func (s *Store) List(ctx context.Context, filter audit.Filter) (audit.Page, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	// Fetch one extra row to learn whether the stream continues.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, action, actor, before, after, reason, request_id, redacts, ts, seq
		FROM audit_events
		WHERE seq > $1
		  AND ($2 = '' OR entity_type = $2)
		  AND ($3 = '' OR entity_id = $3)
		  AND ($4::timestamptz IS NULL OR ts >= $4)
		  AND ($5::timestamptz IS NULL OR ts <= $5)
		ORDER BY seq
		LIMIT $6
	`,
		filter.AfterSeq,
		string(filter.EntityType),
		filter.EntityID,
		nullableTime(filter.From),
		nullableTime(filter.To),
		limit+1,
	)
	if err != nil {
		return audit.Page{}, fmt.Errorf("query audit export: %w", err)
	}
	defer rows.Close()

	events, seqs, err := scanEventsWithSeq(rows)
	if err != nil {
		return audit.Page{}, err
	}

	page := audit.Page{NextSeq: filter.AfterSeq, Done: true}
	if len(events) > limit {
		events = events[:limit]
		seqs = seqs[:limit]
		page.Done = false
	}
	page.Events = events
	if len(seqs) > 0 {
		page.NextSeq = seqs[len(seqs)-1]
	}
	return page, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func scanEvents(rows *sql.Rows) ([]audit.Event, []int64, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			e       audit.Event
			eType   string
			before  []byte
			after   []byte
			redacts *uuid.UUID
		)
		if err := rows.Scan(&e.ID, &eType, &e.EntityID, &e.Action, &e.Actor,
			&before, &after, &e.Reason, &e.RequestID, &redacts, &e.Timestamp); err != nil {
			return nil, nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.EntityType = audit.EntityType(eType)
		e.Before = before
		e.After = after
		e.RedactsEventID = redacts
		events = append(events, e)
	}
	return events, nil, rows.Err()
}

func scanEventsWithSeq(rows *sql.Rows) ([]audit.Event, []int64, error) {
	var (
		events []audit.Event
		seqs   []int64
	)
	for rows.Next() {
		var (
			e       audit.Event
			eType   string
			before  []byte
			after   []byte
			redacts *uuid.UUID
			seq     int64
		)
		if err := rows.Scan(&e.ID, &eType, &e.EntityID, &e.Action, &e.Actor,
			&before, &after, &e.Reason, &e.RequestID, &redacts, &e.Timestamp, &seq); err != nil {
			return nil, nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.EntityType = audit.EntityType(eType)
		e.Before = before
		e.After = after
		e.RedactsEventID = redacts
		events = append(events, e)
		seqs = append(seqs, seq)
	}
	return events, seqs, rows.Err()
}

// UnpublishedOutbox returns up to limit unpublished outbox rows for the relay.
func (s *Store) UnpublishedOutbox(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var r OutboxRow
		if err := rows.Scan(&r.ID, &r.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkPublished stamps outbox rows after a successful Kafka produce.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE audit_outbox SET published_at = $1 WHERE id = ANY($2::uuid[])
	`, time.Now(), uuidArray(ids))
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// OutboxRow is one pending relay entry.
type OutboxRow struct {
	ID      uuid.UUID
	Payload []byte
}

func uuidArray(ids []uuid.UUID) any {
	ss := make([]string, len(ids))
	for i, id := range ids {
		ss[i] = id.String()
	}
	return pq.Array(ss)
}
