package audit_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cachet/internal/audit"
	"cachet/internal/audit/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// flakyStore fails the first n appends, then delegates to the real store.
type flakyStore struct {
	mu        sync.Mutex
	failCount int
	inner     *memory.Store
}

func (f *flakyStore) Append(ctx context.Context, e audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCount > 0 {
		f.failCount--
		return errors.New("store down")
	}
	return f.inner.Append(ctx, e)
}

func (f *flakyStore) ListByEntity(ctx context.Context, t audit.EntityType, id string) ([]audit.Event, error) {
	return f.inner.ListByEntity(ctx, t, id)
}

func (f *flakyStore) List(ctx context.Context, filter audit.Filter) (audit.Page, error) {
	return f.inner.List(ctx, filter)
}

func TestRecorder_RecordFillsDefaults(t *testing.T) {
	store := memory.New()
	rec := audit.NewRecorder(store, discardLogger(), nil)

	rec.Record(context.Background(), audit.Event{
		EntityType: audit.EntityApplication,
		EntityID:   "app-1",
		Action:     audit.ActionApplicationCreated,
	})

	events, err := store.ListByEntity(context.Background(), audit.EntityApplication, "app-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotZero(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
}

// TestRecorder_NeverFailsCaller pins the degradation contract: a store outage
// diverts to the fallback queue and the event is eventually persisted.
func TestRecorder_NeverFailsCaller(t *testing.T) {
	store := &flakyStore{failCount: 1, inner: memory.New()}
	rec := audit.NewRecorder(store, discardLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = rec.Run(ctx)
		close(done)
	}()

	// Record does not return an error even though the store is down.
	rec.Record(context.Background(), audit.Event{
		EntityType: audit.EntityDocument,
		EntityID:   "doc-1",
		Action:     audit.ActionDocumentIssued,
	})

	// The fallback worker retries until the store accepts the event.
	require.Eventually(t, func() bool {
		events, err := store.ListByEntity(context.Background(), audit.EntityDocument, "doc-1")
		return err == nil && len(events) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRecorder_RedactReferencesOriginal(t *testing.T) {
	store := memory.New()
	rec := audit.NewRecorder(store, discardLogger(), nil)
	ctx := context.Background()

	rec.Record(ctx, audit.Event{
		EntityType: audit.EntityApplication,
		EntityID:   "app-1",
		Action:     audit.ActionStageAdvanced,
	})

	events, err := rec.History(ctx, audit.EntityApplication, "app-1")
	require.NoError(t, err)
	original := events[0]

	rec.Redact(ctx, original, "court order 44/2026", "compliance-officer")

	events, err = rec.History(ctx, audit.EntityApplication, "app-1")
	require.NoError(t, err)
	require.Len(t, events, 2, "redaction appends, never deletes")

	assert.Equal(t, audit.ActionStageAdvanced, events[0].Action, "original untouched")
	assert.Equal(t, audit.ActionEventRedacted, events[1].Action)
	require.NotNil(t, events[1].RedactsEventID)
	assert.Equal(t, original.ID, *events[1].RedactsEventID)
}

func TestMemoryStore_InsertionOrderAndPagination(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, audit.Event{
			EntityType: audit.EntityApplication,
			EntityID:   "app-1",
			Action:     audit.ActionStageAdvanced,
			Reason:     string(rune('a' + i)),
			Timestamp:  time.Now(),
		}))
	}

	page1, err := store.List(ctx, audit.Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1.Events, 2)
	assert.False(t, page1.Done)
	assert.Equal(t, "a", page1.Events[0].Reason)
	assert.Equal(t, "b", page1.Events[1].Reason)

	page2, err := store.List(ctx, audit.Filter{Limit: 2, AfterSeq: page1.NextSeq})
	require.NoError(t, err)
	assert.Equal(t, "c", page2.Events[0].Reason)

	page3, err := store.List(ctx, audit.Filter{Limit: 10, AfterSeq: page2.NextSeq})
	require.NoError(t, err)
	require.Len(t, page3.Events, 1)
	assert.True(t, page3.Done)
}

func TestMemoryStore_FilterByEntityAndTime(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, audit.Event{
		EntityType: audit.EntityApplication, EntityID: "app-1",
		Action: audit.ActionApplicationCreated, Timestamp: base,
	}))
	require.NoError(t, store.Append(ctx, audit.Event{
		EntityType: audit.EntityDocument, EntityID: "doc-1",
		Action: audit.ActionDocumentIssued, Timestamp: base.Add(time.Hour),
	}))

	page, err := store.List(ctx, audit.Filter{EntityType: audit.EntityDocument})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "doc-1", page.Events[0].EntityID)

	page, err = store.List(ctx, audit.Filter{To: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, audit.ActionApplicationCreated, page.Events[0].Action)
}
