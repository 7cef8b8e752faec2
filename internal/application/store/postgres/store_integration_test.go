//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cachet/internal/application"
	"cachet/pkg/domain"
	"cachet/pkg/platform/sentinel"
	"cachet/pkg/testutil/containers"
)

const schema = `
CREATE TABLE applicants (
    id               UUID PRIMARY KEY,
    legal_name       TEXT NOT NULL,
    date_of_birth    DATE NOT NULL,
    place_of_birth   TEXT NOT NULL,
    nationality      TEXT NOT NULL,
    sex              TEXT NOT NULL,
    identity_numbers TEXT[] NOT NULL DEFAULT '{}',
    verified         BOOLEAN NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE applications (
    id               UUID PRIMARY KEY,
    applicant_id     UUID NOT NULL REFERENCES applicants (id),
    type             TEXT NOT NULL,
    priority         TEXT NOT NULL,
    current_stage    TEXT NOT NULL,
    history          JSONB NOT NULL DEFAULT '[]',
    document_id      UUID,
    rejection_reason TEXT NOT NULL DEFAULT '',
    version          BIGINT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);`

func newStore(t *testing.T) *Store {
	t.Helper()
	pc := containers.NewPostgresContainer(t)
	pc.Exec(t, schema)
	return New(pc.DB)
}

func seedApplicant(t *testing.T, store *Store) application.Applicant {
	t.Helper()
	a := application.Applicant{
		ID:              domain.NewApplicantID(),
		LegalName:       "Anna Maria Eriksson",
		DateOfBirth:     time.Date(1990, 4, 12, 0, 0, 0, 0, time.UTC),
		PlaceOfBirth:    "Zenith City",
		Nationality:     "UTO",
		Sex:             "F",
		IdentityNumbers: []string{"840-12-3456"},
		Verified:        true,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.CreateApplicant(context.Background(), a))
	return a
}

func TestStore_RoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	applicant := seedApplicant(t, store)

	now := time.Now().UTC().Truncate(time.Millisecond)
	app := application.Application{
		ID:           domain.NewApplicationID(),
		ApplicantID:  applicant.ID,
		Type:         application.TypePassport,
		Priority:     application.PriorityNormal,
		CurrentStage: application.StageDraft,
		History: []application.HistoryEntry{
			{Stage: application.StageDraft, EnteredAt: now, Actor: "intake"},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, app))

	got, err := store.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, app.ID, got.ID)
	assert.Equal(t, application.StageDraft, got.CurrentStage)
	assert.Equal(t, int64(1), got.Version)
	require.Len(t, got.History, 1)
	assert.Equal(t, "intake", got.History[0].Actor)

	loaded, err := store.GetApplicant(ctx, applicant.ID)
	require.NoError(t, err)
	assert.Equal(t, applicant.LegalName, loaded.LegalName)
	assert.Equal(t, applicant.IdentityNumbers, loaded.IdentityNumbers)
}

func TestStore_Get_NotFound(t *testing.T) {
	store := newStore(t)

	_, err := store.Get(context.Background(), domain.NewApplicationID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestStore_Update_VersionCheck(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	applicant := seedApplicant(t, store)

	now := time.Now().UTC()
	app := application.Application{
		ID:           domain.NewApplicationID(),
		ApplicantID:  applicant.ID,
		Type:         application.TypePassport,
		Priority:     application.PriorityNormal,
		CurrentStage: application.StageDraft,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.Create(ctx, app))

	// First writer wins.
	updated := app
	updated.CurrentStage = application.StageIdentityVerification
	updated.Version = 2
	require.NoError(t, store.Update(ctx, updated, 1))

	// Second writer read version 1 and loses.
	stale := app
	stale.CurrentStage = application.StageRejected
	stale.Version = 2
	assert.ErrorIs(t, store.Update(ctx, stale, 1), sentinel.ErrConflict)

	// A missing row is distinguished from a version conflict.
	ghost := updated
	ghost.ID = domain.NewApplicationID()
	assert.ErrorIs(t, store.Update(ctx, ghost, 2), sentinel.ErrNotFound)

	got, err := store.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StageIdentityVerification, got.CurrentStage)
	assert.Equal(t, int64(2), got.Version)
}

func TestStore_Create_DuplicateID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	applicant := seedApplicant(t, store)

	now := time.Now().UTC()
	app := application.Application{
		ID:           domain.NewApplicationID(),
		ApplicantID:  applicant.ID,
		Type:         application.TypeNationalID,
		Priority:     application.PriorityExpedited,
		CurrentStage: application.StageDraft,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.Create(ctx, app))
	assert.ErrorIs(t, store.Create(ctx, app), sentinel.ErrConflict)
}
