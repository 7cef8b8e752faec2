// Package handler exposes the audit trail for compliance review: a paginated
// export and per-entity history.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "cachet/pkg/domain-errors"

	"cachet/internal/audit"
	"cachet/pkg/platform/httputil"
)

type Handler struct {
	recorder *audit.Recorder
	logger   *slog.Logger
}

func New(recorder *audit.Recorder, logger *slog.Logger) *Handler {
	return &Handler{recorder: recorder, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/events", h.export)
	r.Get("/audit/{entityType}/{entityId}", h.history)
}

// export streams the trail in insertion order. Callers page with afterSeq
// from the previous response.
func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := h.recorder.Export(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pageView{
		Events:  eventViews(page.Events),
		NextSeq: page.NextSeq,
		Done:    page.Done,
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	entityType := audit.EntityType(chi.URLParam(r, "entityType"))
	switch entityType {
	case audit.EntityApplicant, audit.EntityApplication, audit.EntityDocument, audit.EntityAttempt:
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown entity type"))
		return
	}
	events, err := h.recorder.History(r.Context(), entityType, chi.URLParam(r, "entityId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": eventViews(events)})
}

func filterFromQuery(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		EntityType: audit.EntityType(q.Get("entityType")),
		EntityID:   q.Get("entityId"),
	}
	if v := q.Get("afterSeq"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "afterSeq must be an integer")
		}
		filter.AfterSeq = seq
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer")
		}
		filter.Limit = limit
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "from must be RFC 3339")
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "to must be RFC 3339")
		}
		filter.To = t
	}
	return filter, nil
}

type eventView struct {
	ID             string           `json:"id"`
	EntityType     audit.EntityType `json:"entityType"`
	EntityID       string           `json:"entityId"`
	Action         string           `json:"action"`
	Actor          string           `json:"actor,omitempty"`
	Before         any              `json:"before,omitempty"`
	After          any              `json:"after,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	RequestID      string           `json:"requestId,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	RedactsEventID string           `json:"redactsEventId,omitempty"`
}

type pageView struct {
	Events  []eventView `json:"events"`
	NextSeq int64       `json:"nextSeq"`
	Done    bool        `json:"done"`
}

func eventViews(events []audit.Event) []eventView {
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		v := eventView{
			ID:         e.ID.String(),
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Action:     e.Action,
			Actor:      e.Actor,
			Reason:     e.Reason,
			RequestID:  e.RequestID,
			Timestamp:  e.Timestamp,
		}
		if len(e.Before) > 0 {
			v.Before = json.RawMessage(e.Before)
		}
		if len(e.After) > 0 {
			v.After = json.RawMessage(e.After)
		}
		if e.RedactsEventID != nil {
			v.RedactsEventID = e.RedactsEventID.String()
		}
		views = append(views, v)
	}
	return views
}
