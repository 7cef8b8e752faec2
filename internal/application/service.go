package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	dErrors "cachet/pkg/domain-errors"

	"cachet/internal/application/metrics"
	"cachet/internal/audit"
	"cachet/pkg/domain"
	"cachet/pkg/platform/sentinel"
	platformstrings "cachet/pkg/platform/strings"
	"cachet/pkg/requestcontext"
)

// Service is the lifecycle state machine. Every mutation runs load, check,
// compare-and-swap; the losing side of a race gets ConcurrentModification and
// retries with fresh state.
type Service struct {
	store      Store
	applicants ApplicantStore
	audit      *audit.Recorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
	rules      Rules
	budgets    SLABudgets
}

type Option func(*Service)

func WithRules(r Rules) Option {
	return func(s *Service) { s.rules = r }
}

func WithSLABudgets(b SLABudgets) Option {
	return func(s *Service) { s.budgets = b }
}

func NewService(store Store, applicants ApplicantStore, recorder *audit.Recorder, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		applicants: applicants,
		audit:      recorder,
		metrics:    m,
		logger:     logger,
		rules:      DefaultRules(),
		budgets:    DefaultSLABudgets(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterApplicant records an applicant whose identity attributes were
// captured at intake. The Verified flag arrives from the intake surface; an
// unverified applicant can be stored but cannot open applications yet.
func (s *Service) RegisterApplicant(ctx context.Context, a Applicant) (Applicant, error) {
	if a.LegalName == "" {
		return Applicant{}, dErrors.New(dErrors.CodeInvalidInput, "legal name is required")
	}
	if a.DateOfBirth.IsZero() {
		return Applicant{}, dErrors.New(dErrors.CodeInvalidInput, "date of birth is required")
	}
	if len(a.Nationality) != 3 {
		return Applicant{}, dErrors.New(dErrors.CodeInvalidInput, "nationality must be an ISO 3166-1 alpha-3 code")
	}
	switch a.Sex {
	case "M", "F", "X":
	default:
		return Applicant{}, dErrors.New(dErrors.CodeInvalidInput, "sex must be M, F or X")
	}

	a.IdentityNumbers = platformstrings.DedupeAndTrim(a.IdentityNumbers)
	a.ID = domain.NewApplicantID()
	a.CreatedAt = requestcontext.Now(ctx)
	if err := s.applicants.CreateApplicant(ctx, a); err != nil {
		return Applicant{}, dErrors.Wrap(dErrors.CodeInternal, "persisting applicant", err)
	}

	s.audit.Record(ctx, audit.Event{
		EntityType: audit.EntityApplicant,
		EntityID:   a.ID.String(),
		Action:     audit.ActionApplicantRegistered,
		After: audit.Snapshot(map[string]any{
			"id":          a.ID.String(),
			"nationality": a.Nationality,
			"verified":    a.Verified,
		}),
	})
	s.logger.InfoContext(ctx, "applicant registered",
		"applicant_id", a.ID,
		"verified", a.Verified,
	)
	return a, nil
}

// Applicant loads one applicant record.
func (s *Service) Applicant(ctx context.Context, id domain.ApplicantID) (Applicant, error) {
	a, err := s.applicants.GetApplicant(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Applicant{}, dErrors.New(dErrors.CodeNotFound, "applicant not found")
		}
		return Applicant{}, dErrors.Wrap(dErrors.CodeInternal, "loading applicant", err)
	}
	return a, nil
}

// Create opens a draft application for a verified applicant.
func (s *Service) Create(ctx context.Context, applicantID domain.ApplicantID, appType Type, priority Priority) (Application, error) {
	applicant, err := s.applicants.GetApplicant(ctx, applicantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Application{}, dErrors.New(dErrors.CodeInvalidInput, "applicant not found")
		}
		return Application{}, dErrors.Wrap(dErrors.CodeInternal, "loading applicant", err)
	}
	if !applicant.Verified {
		return Application{}, dErrors.New(dErrors.CodeInvalidInput, "applicant identity not verified")
	}

	now := requestcontext.Now(ctx)
	app := Application{
		ID:           domain.NewApplicationID(),
		ApplicantID:  applicantID,
		Type:         appType,
		Priority:     priority,
		CurrentStage: StageDraft,
		History: []HistoryEntry{{
			Stage:     StageDraft,
			EnteredAt: now,
			Actor:     requestcontext.Actor(ctx),
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, app); err != nil {
		return Application{}, dErrors.Wrap(dErrors.CodeInternal, "persisting application", err)
	}

	s.metrics.IncCreated()
	s.audit.Record(ctx, audit.Event{
		EntityType: audit.EntityApplication,
		EntityID:   app.ID.String(),
		Action:     audit.ActionApplicationCreated,
		After:      audit.Snapshot(snapshotOf(app)),
	})
	s.logger.InfoContext(ctx, "application created",
		"application_id", app.ID,
		"applicant_id", applicantID,
		"type", appType,
		"priority", priority,
	)
	return app, nil
}

// Get loads one application.
func (s *Service) Get(ctx context.Context, id domain.ApplicationID) (Application, error) {
	app, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Application{}, dErrors.New(dErrors.CodeNotFound, "application not found")
		}
		return Application{}, dErrors.Wrap(dErrors.CodeInternal, "loading application", err)
	}
	return app, nil
}

// Advance moves the application one stage forward along the pipeline. The
// result must satisfy the exit predicate of the stage being left. Either the
// stage advances and the audit event is appended, or nothing changes.
func (s *Service) Advance(ctx context.Context, id domain.ApplicationID, result StageResult) (Application, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return Application{}, err
	}

	if app.CurrentStage.IsTerminal() || app.CurrentStage == StageRejected {
		return Application{}, dErrors.New(dErrors.CodeIllegalTransition,
			fmt.Sprintf("application is in terminal stage %s", app.CurrentStage))
	}
	next, ok := Next(app.CurrentStage)
	if !ok {
		return Application{}, dErrors.New(dErrors.CodeIllegalTransition,
			fmt.Sprintf("stage %s has no forward transition", app.CurrentStage))
	}
	if err := s.rules.ExitAllowed(app.CurrentStage, result); err != nil {
		return Application{}, err
	}

	before := snapshotOf(app)
	now := requestcontext.Now(ctx)
	from := app.CurrentStage

	updated := app
	updated.CurrentStage = next
	updated.History = append(append([]HistoryEntry(nil), app.History...), HistoryEntry{
		Stage:     next,
		EnteredAt: now,
		Actor:     requestcontext.Actor(ctx),
		Result:    audit.Snapshot(result),
	})
	if iss, ok := result.(Issuance); ok {
		updated.DocumentID = iss.DocumentID
	}
	updated.UpdatedAt = now
	updated.Version = app.Version + 1

	if err := s.commit(ctx, updated, app.Version); err != nil {
		return Application{}, err
	}

	s.metrics.IncTransition(string(from), string(next))
	s.audit.Record(ctx, audit.Event{
		EntityType: audit.EntityApplication,
		EntityID:   updated.ID.String(),
		Action:     audit.ActionStageAdvanced,
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(snapshotOf(updated)),
	})
	s.logger.InfoContext(ctx, "stage advanced",
		"application_id", updated.ID,
		"from", from,
		"to", next,
	)
	return updated, nil
}

// Reject moves the application to the rejected terminal stage from any
// non-terminal stage. Rejecting an already-rejected application is a no-op.
func (s *Service) Reject(ctx context.Context, id domain.ApplicationID, reason string) (Application, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return Application{}, err
	}
	if app.CurrentStage == StageRejected {
		return app, nil
	}
	if app.CurrentStage.IsTerminal() {
		return Application{}, dErrors.New(dErrors.CodeIllegalTransition, "issued applications cannot be rejected")
	}
	if reason == "" {
		return Application{}, dErrors.New(dErrors.CodeInvalidInput, "rejection requires a reason")
	}

	before := snapshotOf(app)
	now := requestcontext.Now(ctx)
	from := app.CurrentStage

	updated := app
	updated.CurrentStage = StageRejected
	updated.RejectionReason = reason
	updated.History = append(append([]HistoryEntry(nil), app.History...), HistoryEntry{
		Stage:     StageRejected,
		EnteredAt: now,
		Actor:     requestcontext.Actor(ctx),
		Note:      reason,
	})
	updated.UpdatedAt = now
	updated.Version = app.Version + 1

	if err := s.commit(ctx, updated, app.Version); err != nil {
		return Application{}, err
	}

	s.metrics.IncRejected()
	s.audit.Record(ctx, audit.Event{
		EntityType: audit.EntityApplication,
		EntityID:   updated.ID.String(),
		Action:     audit.ActionApplicationRejected,
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(snapshotOf(updated)),
		Reason:     reason,
	})
	s.logger.InfoContext(ctx, "application rejected",
		"application_id", updated.ID,
		"from", from,
		"reason", reason,
	)
	return updated, nil
}

// Override moves the application to an arbitrary non-terminal pipeline stage
// outside the forward graph. It is the only sanctioned regression path and is
// audited separately from normal advancement.
func (s *Service) Override(ctx context.Context, id domain.ApplicationID, to Stage, reason string) (Application, error) {
	if reason == "" {
		return Application{}, dErrors.New(dErrors.CodeInvalidInput, "override requires a reason")
	}
	if to.IsTerminal() || to == StageRejected {
		return Application{}, dErrors.New(dErrors.CodeIllegalTransition, "cannot override into a terminal stage")
	}
	app, err := s.Get(ctx, id)
	if err != nil {
		return Application{}, err
	}
	if app.CurrentStage == StageIssued {
		return Application{}, dErrors.New(dErrors.CodeIllegalTransition, "issued applications cannot be overridden")
	}

	before := snapshotOf(app)
	now := requestcontext.Now(ctx)

	updated := app
	updated.CurrentStage = to
	updated.RejectionReason = ""
	updated.History = append(append([]HistoryEntry(nil), app.History...), HistoryEntry{
		Stage:     to,
		EnteredAt: now,
		Actor:     requestcontext.Actor(ctx),
		Note:      "override: " + reason,
	})
	updated.UpdatedAt = now
	updated.Version = app.Version + 1

	if err := s.commit(ctx, updated, app.Version); err != nil {
		return Application{}, err
	}

	s.metrics.IncOverride()
	s.audit.Record(ctx, audit.Event{
		EntityType: audit.EntityApplication,
		EntityID:   updated.ID.String(),
		Action:     audit.ActionStageOverridden,
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(snapshotOf(updated)),
		Reason:     reason,
	})
	s.logger.WarnContext(ctx, "stage overridden",
		"application_id", updated.ID,
		"from", before.CurrentStage,
		"to", to,
		"reason", reason,
	)
	return updated, nil
}

// IsOverdue compares time spent in the current stage against the priority
// adjusted budget. It only reports; escalation policy lives with the
// monitoring collaborator.
func (s *Service) IsOverdue(ctx context.Context, id domain.ApplicationID) (bool, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if app.CurrentStage.IsTerminal() || app.CurrentStage == StageRejected {
		return false, nil
	}
	budget, ok := s.budgets.BudgetFor(app.CurrentStage, app.Priority)
	if !ok {
		return false, nil
	}
	return requestcontext.Now(ctx).Sub(app.EnteredCurrentStageAt()) > budget, nil
}

func (s *Service) commit(ctx context.Context, updated Application, expectedVersion int64) error {
	if err := s.store.Update(ctx, updated, expectedVersion); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncConflict()
			return dErrors.New(dErrors.CodeConcurrentModification, "application was modified concurrently, retry with fresh state")
		}
		return dErrors.Wrap(dErrors.CodeInternal, "persisting application", err)
	}
	return nil
}

// snapshot is the audit-facing view of an application.
type snapshot struct {
	ID           string   `json:"id"`
	ApplicantID  string   `json:"applicantId"`
	Type         Type     `json:"type"`
	Priority     Priority `json:"priority"`
	CurrentStage Stage    `json:"currentStage"`
	HistoryLen   int      `json:"historyLen"`
	DocumentID   string   `json:"documentId,omitempty"`
	Version      int64    `json:"version"`
}

func snapshotOf(app Application) snapshot {
	s := snapshot{
		ID:           app.ID.String(),
		ApplicantID:  app.ApplicantID.String(),
		Type:         app.Type,
		Priority:     app.Priority,
		CurrentStage: app.CurrentStage,
		HistoryLen:   len(app.History),
		Version:      app.Version,
	}
	if !app.DocumentID.IsNil() {
		s.DocumentID = app.DocumentID.String()
	}
	return s
}
