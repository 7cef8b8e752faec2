// Package handler exposes the operator-facing application lifecycle API.
// Advancement is one endpoint; the body it needs depends on the stage being
// left, and automated stages take no verdict from the caller at all.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "cachet/pkg/domain-errors"

	"cachet/internal/application"
	"cachet/internal/issuance"
	"cachet/internal/validation"
	"cachet/pkg/domain"
	"cachet/pkg/platform/httputil"
	"cachet/pkg/requestcontext"
)

type Handler struct {
	apps         *application.Service
	orchestrator *validation.Orchestrator
	issuer       *issuance.Service
	logger       *slog.Logger
}

func New(apps *application.Service, orchestrator *validation.Orchestrator, issuer *issuance.Service, logger *slog.Logger) *Handler {
	return &Handler{apps: apps, orchestrator: orchestrator, issuer: issuer, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/applicants", h.registerApplicant)
	r.Get("/applicants/{id}", h.getApplicant)

	r.Post("/applications", h.create)
	r.Get("/applications/{id}", h.get)
	r.Post("/applications/{id}/advance", h.advance)
	r.Post("/applications/{id}/reject", h.reject)
	r.Post("/applications/{id}/override", h.override)
	r.Get("/applications/{id}/attempts", h.attempts)
}

type applicantRequest struct {
	LegalName       string   `json:"legalName"`
	DateOfBirth     string   `json:"dateOfBirth"` // YYYY-MM-DD
	PlaceOfBirth    string   `json:"placeOfBirth"`
	Nationality     string   `json:"nationality"`
	Sex             string   `json:"sex"`
	IdentityNumbers []string `json:"identityNumbers"`
	Verified        bool     `json:"verified"`
}

type applicantView struct {
	ID          string `json:"id"`
	LegalName   string `json:"legalName"`
	DateOfBirth string `json:"dateOfBirth"`
	Nationality string `json:"nationality"`
	Verified    bool   `json:"verified"`
}

func (h *Handler) registerApplicant(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[applicantRequest](w, r, h.logger, requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	dob, err := time.Parse("2006-01-02", req.DateOfBirth)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "dateOfBirth must be YYYY-MM-DD"))
		return
	}
	a, err := h.apps.RegisterApplicant(r.Context(), application.Applicant{
		LegalName:       req.LegalName,
		DateOfBirth:     dob,
		PlaceOfBirth:    req.PlaceOfBirth,
		Nationality:     req.Nationality,
		Sex:             req.Sex,
		IdentityNumbers: req.IdentityNumbers,
		Verified:        req.Verified,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, applicantViewOf(a))
}

func (h *Handler) getApplicant(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseApplicantID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	a, err := h.apps.Applicant(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, applicantViewOf(a))
}

type createRequest struct {
	ApplicantID string `json:"applicantId"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[createRequest](w, r, h.logger, requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	applicantID, err := domain.ParseApplicantID(req.ApplicantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	appType, err := application.ParseType(req.Type)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	priority, err := application.ParsePriority(req.Priority)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	app, err := h.apps.Create(r.Context(), applicantID, appType, priority)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, h.viewOf(r, app))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseApplicationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	app, err := h.apps.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.viewOf(r, app))
}

// advanceRequest carries the stage verdict for the manual stages. Automated
// stages ignore the verdict fields; Force re-runs their validators even when
// a stored aggregate exists.
type advanceRequest struct {
	Cleared       *bool  `json:"cleared,omitempty"`
	Paid          *bool  `json:"paid,omitempty"`
	Approved      *bool  `json:"approved,omitempty"`
	Reference     string `json:"reference,omitempty"`
	Justification string `json:"justification,omitempty"`
	Force         bool   `json:"force,omitempty"`
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseApplicationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req advanceRequest
	if r.ContentLength > 0 {
		var ok bool
		if req, ok = httputil.Decode[advanceRequest](w, r, h.logger, requestcontext.RequestID(ctx)); !ok {
			return
		}
	}

	app, err := h.apps.Get(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// Leaving approved means issuing; the issuer advances the stage itself
	// once the document is durably stored.
	if app.CurrentStage == application.StageApproved {
		doc, err := h.issuer.Issue(ctx, id)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"documentId":       doc.ID.String(),
			"verificationCode": doc.VerificationCode,
			"currentStage":     application.StageIssued,
		})
		return
	}

	result, err := h.stageResult(ctx, app, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	updated, err := h.apps.Advance(ctx, id, result)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.viewOf(r, updated))
}

// stageResult builds the StageResult that leaving app's current stage
// requires. Automated stages run the orchestrator; manual stages validate
// the caller's verdict.
func (h *Handler) stageResult(ctx context.Context, app application.Application, req advanceRequest) (application.StageResult, error) {
	switch {
	case app.CurrentStage == application.StageDraft:
		return application.Submission{}, nil

	case app.CurrentStage.Automated():
		applicant, err := h.apps.Applicant(ctx, app.ApplicantID)
		if err != nil {
			return nil, err
		}
		agg, err := h.orchestrator.Validate(ctx, validation.ValidateRequest{
			ApplicantID:   app.ApplicantID,
			ApplicationID: app.ID,
			Stage:         string(app.CurrentStage),
			Fields:        validationFields(applicant),
			Force:         req.Force,
		})
		if err != nil {
			return nil, err
		}
		return application.ValidationSummary{Outcome: agg}, nil

	case app.CurrentStage == application.StageBackgroundVerification:
		if req.Cleared == nil {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "background verification requires a cleared verdict")
		}
		return application.BackgroundCheck{Cleared: *req.Cleared, Reference: req.Reference}, nil

	case app.CurrentStage == application.StagePaymentProcessing:
		if req.Paid == nil {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "payment processing requires a paid verdict")
		}
		return application.Payment{Paid: *req.Paid, Reference: req.Reference}, nil

	case app.CurrentStage == application.StageAdjudication:
		if req.Approved == nil {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "adjudication requires an approved verdict")
		}
		return application.Adjudication{
			Approved:      *req.Approved,
			Justification: req.Justification,
			Officer:       requestcontext.Actor(ctx),
		}, nil
	}
	return nil, dErrors.New(dErrors.CodeIllegalTransition, "stage cannot be advanced")
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseApplicationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[rejectRequest](w, r, h.logger, requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	app, err := h.apps.Reject(r.Context(), id, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.viewOf(r, app))
}

type overrideRequest struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

func (h *Handler) override(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseApplicationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[overrideRequest](w, r, h.logger, requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	stage, err := application.ParseStage(req.Stage)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	app, err := h.apps.Override(r.Context(), id, stage, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.viewOf(r, app))
}

func (h *Handler) attempts(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseApplicationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	attempts, err := h.orchestrator.Attempts(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

type historyView struct {
	Stage     application.Stage `json:"stage"`
	EnteredAt time.Time         `json:"enteredAt"`
	Actor     string            `json:"actor,omitempty"`
	Note      string            `json:"note,omitempty"`
}

type applicationView struct {
	ID              string               `json:"id"`
	ApplicantID     string               `json:"applicantId"`
	Type            application.Type     `json:"type"`
	Priority        application.Priority `json:"priority"`
	CurrentStage    application.Stage    `json:"currentStage"`
	History         []historyView        `json:"history"`
	DocumentID      string               `json:"documentId,omitempty"`
	RejectionReason string               `json:"rejectionReason,omitempty"`
	Overdue         bool                 `json:"overdue"`
	Version         int64                `json:"version"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

func (h *Handler) viewOf(r *http.Request, app application.Application) applicationView {
	v := applicationView{
		ID:              app.ID.String(),
		ApplicantID:     app.ApplicantID.String(),
		Type:            app.Type,
		Priority:        app.Priority,
		CurrentStage:    app.CurrentStage,
		RejectionReason: app.RejectionReason,
		Version:         app.Version,
		CreatedAt:       app.CreatedAt,
		UpdatedAt:       app.UpdatedAt,
	}
	if !app.DocumentID.IsNil() {
		v.DocumentID = app.DocumentID.String()
	}
	for _, entry := range app.History {
		v.History = append(v.History, historyView{
			Stage:     entry.Stage,
			EnteredAt: entry.EnteredAt,
			Actor:     entry.Actor,
			Note:      entry.Note,
		})
	}
	if overdue, err := h.apps.IsOverdue(r.Context(), app.ID); err == nil {
		v.Overdue = overdue
	}
	return v
}

func applicantViewOf(a application.Applicant) applicantView {
	return applicantView{
		ID:          a.ID.String(),
		LegalName:   a.LegalName,
		DateOfBirth: a.DateOfBirth.Format("2006-01-02"),
		Nationality: a.Nationality,
		Verified:    a.Verified,
	}
}

// validationFields flattens the applicant attributes validators match on.
func validationFields(a application.Applicant) map[string]string {
	fields := map[string]string{
		"legalName":   a.LegalName,
		"dateOfBirth": a.DateOfBirth.Format("2006-01-02"),
		"nationality": a.Nationality,
		"sex":         a.Sex,
	}
	if len(a.IdentityNumbers) > 0 {
		fields["identityNumber"] = a.IdentityNumbers[0]
	}
	return fields
}
