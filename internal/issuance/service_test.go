package issuance_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "cachet/pkg/domain-errors"

	"cachet/internal/application"
	appmemory "cachet/internal/application/store/memory"
	"cachet/internal/audit"
	auditmemory "cachet/internal/audit/store/memory"
	"cachet/internal/issuance"
	docmemory "cachet/internal/issuance/store/memory"
	"cachet/internal/mrz"
	"cachet/internal/signing"
	"cachet/internal/validation"
	"cachet/pkg/domain"
)

type capturingPublisher struct {
	events []issuance.IssuedEvent
}

func (p *capturingPublisher) PublishIssued(_ context.Context, e issuance.IssuedEvent) error {
	p.events = append(p.events, e)
	return nil
}

type fixture struct {
	svc       *issuance.Service
	apps      *application.Service
	store     *appmemory.Store
	docs      issuance.Store
	signer    *signing.Service
	publisher *capturingPublisher
	audit     *auditmemory.Store
	applicant application.Applicant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	auditStore := auditmemory.New()
	recorder := audit.NewRecorder(auditStore, logger, nil)

	appStore := appmemory.New()
	apps := application.NewService(appStore, appStore, recorder, nil, logger)

	keyring, err := signing.NewMemoryKeyring("doc-signing-2026")
	require.NoError(t, err)
	signer := signing.New(keyring)

	docs := docmemory.New()
	publisher := &capturingPublisher{}
	svc := issuance.NewService(docs, apps, appStore, signer, publisher, recorder, nil, logger)

	applicant := application.Applicant{
		ID:              domain.NewApplicantID(),
		LegalName:       "Anna Maria Eriksson",
		DateOfBirth:     time.Date(1974, 8, 12, 0, 0, 0, 0, time.UTC),
		PlaceOfBirth:    "Zenith",
		Nationality:     "UTO",
		Sex:             "F",
		IdentityNumbers: []string{"ZE184226B"},
		Verified:        true,
	}
	require.NoError(t, appStore.CreateApplicant(context.Background(), applicant))

	return &fixture{
		svc: svc, apps: apps, store: appStore, docs: docs, signer: signer,
		publisher: publisher, audit: auditStore, applicant: applicant,
	}
}

func (f *fixture) approvedApplication(t *testing.T) application.Application {
	t.Helper()
	ctx := context.Background()
	app, err := f.apps.Create(ctx, f.applicant.ID, application.TypePassport, application.PriorityNormal)
	require.NoError(t, err)

	verified := application.ValidationSummary{
		Outcome: validation.AggregateOutcome{Outcomes: []validation.Outcome{{
			Kind: validation.KindPopulationRegistry, Result: validation.ResultVerified, Confidence: 0.96,
		}}},
	}
	for _, result := range []application.StageResult{
		application.Submission{},
		verified,
		verified,
		application.BackgroundCheck{Cleared: true, Reference: "bgv-1"},
		application.Payment{Paid: true, Reference: "pay-1"},
		application.Adjudication{Approved: true, Justification: "clean file", Officer: "j.moyo"},
	} {
		app, err = f.apps.Advance(ctx, app.ID, result)
		require.NoError(t, err)
	}
	require.Equal(t, application.StageApproved, app.CurrentStage)
	return app
}

func TestIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.approvedApplication(t)

	doc, err := f.svc.Issue(ctx, app.ID)
	require.NoError(t, err)

	assert.Len(t, doc.VerificationCode, issuance.CodeLength)
	assert.NotEmpty(t, doc.Signature)
	assert.NotEmpty(t, doc.SigningKeyID)
	assert.Len(t, doc.MRZLine1, mrz.LineLength)
	assert.Len(t, doc.MRZLine2, mrz.LineLength)

	checks, err := mrz.Validate(doc.MRZLine2)
	require.NoError(t, err)
	assert.True(t, checks.AllValid(), "stored check digits reproduce from stored fields")

	require.NoError(t, f.signer.Verify(doc.SigningKeyID, doc.Canonical(), doc.Signature))

	fresh, err := f.apps.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, application.StageIssued, fresh.CurrentStage)
	assert.Equal(t, doc.ID, fresh.DocumentID)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, doc.ID.String(), f.publisher.events[0].DocumentID)
	assert.Equal(t, doc.VerificationCode, f.publisher.events[0].VerificationCode)
}

func TestIssue_SingleByteTamperBreaksSignature(t *testing.T) {
	f := newFixture(t)
	doc, err := f.svc.Issue(context.Background(), f.approvedApplication(t).ID)
	require.NoError(t, err)

	canonical := doc.Canonical()
	for i := 0; i < len(canonical); i += 7 {
		mutated := append([]byte(nil), canonical...)
		mutated[i] ^= 0x01
		assert.Error(t, f.signer.Verify(doc.SigningKeyID, mutated, doc.Signature),
			"mutation at byte %d must break verification", i)
	}
}

func TestIssue_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.approvedApplication(t)

	first, err := f.svc.Issue(ctx, app.ID)
	require.NoError(t, err)
	second, err := f.svc.Issue(ctx, app.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.VerificationCode, second.VerificationCode)
	assert.Equal(t, first.Signature, second.Signature)
	assert.Len(t, f.publisher.events, 1, "replay publishes nothing new")
}

func TestIssue_RequiresApprovedStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app, err := f.apps.Create(ctx, f.applicant.ID, application.TypePassport, application.PriorityNormal)
	require.NoError(t, err)

	_, err = f.svc.Issue(ctx, app.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIllegalTransition))
}

func TestIssue_HaltsWithoutSigningKey(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	recorder := audit.NewRecorder(auditmemory.New(), logger, nil)
	appStore := appmemory.New()
	apps := application.NewService(appStore, appStore, recorder, nil, logger)

	// The only key is retired, leaving the ring without a signer.
	keyring, err := signing.NewMemoryKeyring("retired-key")
	require.NoError(t, err)
	keyring.Retire("retired-key")
	signer := signing.New(keyring)
	docs := docmemory.New()
	svc := issuance.NewService(docs, apps, appStore, signer, nil, recorder, nil, logger)

	f := &fixture{svc: svc, apps: apps, docs: docs, applicant: application.Applicant{
		ID: domain.NewApplicantID(), LegalName: "Anna Eriksson",
		DateOfBirth: time.Date(1974, 8, 12, 0, 0, 0, 0, time.UTC),
		Nationality: "UTO", Sex: "F", Verified: true,
	}}
	require.NoError(t, appStore.CreateApplicant(context.Background(), f.applicant))
	app := f.approvedApplication(t)

	_, err = svc.Issue(context.Background(), app.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSignatureKeyUnavailable))

	_, err = docs.GetByApplication(context.Background(), app.ID)
	assert.Error(t, err, "nothing may be persisted unsigned")
}

// collidingStore forces a code collision on the first insert.
type collidingStore struct {
	issuance.Store
	collisions int
}

func (c *collidingStore) CreateDocument(ctx context.Context, doc issuance.Document) error {
	if c.collisions > 0 {
		c.collisions--
		return issuance.ErrDuplicateCode
	}
	return c.Store.CreateDocument(ctx, doc)
}

func TestIssue_RedrawsCodeOnCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.approvedApplication(t)

	colliding := &collidingStore{Store: f.docs, collisions: 2}
	logger := slog.New(slog.DiscardHandler)
	recorder := audit.NewRecorder(auditmemory.New(), logger, nil)
	keyring, err := signing.NewMemoryKeyring("redraw-key")
	require.NoError(t, err)
	svc := issuance.NewService(colliding, f.apps, f.store, signing.New(keyring), nil, recorder, nil, logger)

	doc, err := svc.Issue(ctx, app.ID)
	require.NoError(t, err)
	assert.Zero(t, colliding.collisions, "collisions consumed by silent redraws")
	require.NoError(t, signing.New(keyring).Verify(doc.SigningKeyID, doc.Canonical(), doc.Signature),
		"signature covers the code that was finally stored")
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.svc.Issue(ctx, f.approvedApplication(t).ID)
	require.NoError(t, err)

	_, err = f.svc.Revoke(ctx, doc.ID, "")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	revoked, err := f.svc.Revoke(ctx, doc.ID, "reported stolen")
	require.NoError(t, err)
	assert.True(t, revoked.Revoked)
	assert.Equal(t, "reported stolen", revoked.RevocationReason)

	again, err := f.svc.Revoke(ctx, doc.ID, "second report")
	require.NoError(t, err)
	assert.Equal(t, "reported stolen", again.RevocationReason, "revocation is append-only, first reason stands")

	_, err = f.svc.Revoke(ctx, domain.NewDocumentID(), "unknown")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestVerificationCodes_UniqueAcrossMillionDraws(t *testing.T) {
	if testing.Short() {
		t.Skip("million-draw simulation")
	}
	seen := make(map[string]struct{}, 1_000_000)
	for i := 0; i < 1_000_000; i++ {
		code, err := issuance.NewVerificationCode()
		require.NoError(t, err)
		if _, dup := seen[code]; dup {
			t.Fatalf("collision after %d draws", i)
		}
		seen[code] = struct{}{}
	}
}

func TestIssue_InsertAndAdvanceCommitAsOneUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.approvedApplication(t)

	logger := slog.New(slog.DiscardHandler)
	recorder := audit.NewRecorder(f.audit, logger, nil)

	var runs int
	var docInside bool
	var stageInside application.Stage
	runner := func(ctx context.Context, fn func(context.Context) error) error {
		runs++
		err := fn(ctx)
		if err == nil {
			// Both writes must have landed before the unit completes.
			_, docErr := f.docs.GetByApplication(ctx, app.ID)
			docInside = docErr == nil
			fresh, getErr := f.apps.Get(ctx, app.ID)
			require.NoError(t, getErr)
			stageInside = fresh.CurrentStage
		}
		return err
	}

	keyring, err := signing.NewMemoryKeyring("doc-signing-2026")
	require.NoError(t, err)
	svc := issuance.NewService(f.docs, f.apps, f.store, signing.New(keyring), f.publisher, recorder, nil, logger,
		issuance.WithAtomic(runner))

	_, err = svc.Issue(ctx, app.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, runs, "document insert and stage advance share one atomic run")
	assert.True(t, docInside)
	assert.Equal(t, application.StageIssued, stageInside)
}
