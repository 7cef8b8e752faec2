package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cachet/internal/audit/metrics"
	"cachet/pkg/requestcontext"
)

const defaultFallbackDepth = 1024

// Recorder appends audit events without ever failing the business operation
// that triggered them. A failed store write degrades to a bounded in-process
// fallback queue drained by a retry worker; a dropped event is counted so the
// monitoring collaborator can alert on it.
type Recorder struct {
	store    Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	fallback chan Event
}

// NewRecorder builds a Recorder with the default fallback depth. Run must be
// started for fallback draining to happen.
func NewRecorder(store Store, logger *slog.Logger, m *metrics.Metrics) *Recorder {
	return &Recorder{
		store:    store,
		logger:   logger,
		metrics:  m,
		fallback: make(chan Event, defaultFallbackDepth),
	}
}

// Record appends an event. Timestamp, ID and request correlation are filled
// from context when absent. Never returns an error: failures divert to the
// fallback queue.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.Actor == "" {
		event.Actor = requestcontext.Actor(ctx)
	}

	if err := r.store.Append(ctx, event); err == nil {
		r.metrics.IncRecorded(string(event.EntityType), event.Action)
		return
	} else {
		r.logger.ErrorContext(ctx, "audit append failed, queueing to fallback",
			"entity_type", event.EntityType,
			"entity_id", event.EntityID,
			"action", event.Action,
			"error", err,
		)
	}

	select {
	case r.fallback <- event:
		r.metrics.IncFallbackQueued()
	default:
		// Queue full. The event is lost from the store's point of view but
		// the loss itself is observable and alertable.
		r.metrics.IncDropped()
		r.logger.ErrorContext(ctx, "audit fallback queue full, event dropped",
			"entity_type", event.EntityType,
			"entity_id", event.EntityID,
			"action", event.Action,
		)
	}
}

// Redact appends a redaction event referencing the original. The original
// event is untouched; readers interpret the pair.
func (r *Recorder) Redact(ctx context.Context, original Event, reason, actor string) {
	r.Record(ctx, Event{
		EntityType:     original.EntityType,
		EntityID:       original.EntityID,
		Action:         ActionEventRedacted,
		Actor:          actor,
		Reason:         reason,
		RedactsEventID: &original.ID,
	})
}

// Run drains the fallback queue, retrying each event until the store accepts
// it or the context ends. Call in a background goroutine.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-r.fallback:
			if err := r.store.Append(ctx, event); err != nil {
				// Still failing: requeue and back off before the next try.
				select {
				case r.fallback <- event:
				default:
					r.metrics.IncDropped()
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
				continue
			}
			r.metrics.IncFallbackFlushed()
		}
	}
}

// History returns the full insertion-ordered audit trail for one entity.
func (r *Recorder) History(ctx context.Context, entityType EntityType, entityID string) ([]Event, error) {
	return r.store.ListByEntity(ctx, entityType, entityID)
}

// Export returns one page of the compliance export stream.
func (r *Recorder) Export(ctx context.Context, filter Filter) (Page, error) {
	return r.store.List(ctx, filter)
}
