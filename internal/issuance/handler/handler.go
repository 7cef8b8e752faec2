// Package handler exposes the operator-facing document endpoints. Issuing
// itself happens through the application advance endpoint; this surface
// covers inspection, revocation and scan token minting.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cachet/internal/issuance"
	"cachet/pkg/domain"
	"cachet/pkg/platform/httputil"
	"cachet/pkg/requestcontext"
)

type Handler struct {
	svc    *issuance.Service
	logger *slog.Logger
}

func New(svc *issuance.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/documents/{id}", h.get)
	r.Post("/documents/{id}/revoke", h.revoke)
	r.Get("/documents/{id}/scan-token", h.scanToken)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseDocumentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	doc, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewOf(doc))
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseDocumentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[revokeRequest](w, r, h.logger, requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	doc, err := h.svc.Revoke(r.Context(), id, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewOf(doc))
}

func (h *Handler) scanToken(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseDocumentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, err := h.svc.ScanToken(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

// documentView omits the signature and MRZ. Operators inspect state here;
// cryptographic material travels only on the document itself and the scan
// token.
type documentView struct {
	ID               string     `json:"id"`
	ApplicationID    string     `json:"applicationId"`
	DocumentType     string     `json:"documentType"`
	DocumentNumber   string     `json:"documentNumber"`
	VerificationCode string     `json:"verificationCode"`
	IssuedAt         time.Time  `json:"issuedAt"`
	ExpiresAt        time.Time  `json:"expiresAt"`
	SigningKeyID     string     `json:"signingKeyId"`
	Revoked          bool       `json:"revoked"`
	RevokedAt        *time.Time `json:"revokedAt,omitempty"`
	RevocationReason string     `json:"revocationReason,omitempty"`
}

func viewOf(doc issuance.Document) documentView {
	var revokedAt *time.Time
	if doc.Revoked && !doc.RevokedAt.IsZero() {
		at := doc.RevokedAt
		revokedAt = &at
	}
	return documentView{
		ID:               doc.ID.String(),
		ApplicationID:    doc.ApplicationID.String(),
		DocumentType:     doc.Payload.DocumentType,
		DocumentNumber:   doc.Payload.DocumentNumber,
		VerificationCode: doc.VerificationCode,
		IssuedAt:         doc.Payload.IssuedAt,
		ExpiresAt:        doc.Payload.ExpiresAt,
		SigningKeyID:     doc.SigningKeyID,
		Revoked:          doc.Revoked,
		RevokedAt:        revokedAt,
		RevocationReason: doc.RevocationReason,
	}
}
