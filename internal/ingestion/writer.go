package ingestion

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"time"

	v1 "github.com/tideline-analytics/tideline/internal/api/v1"
	"github.com/tideline-analytics/tideline/internal/core/retry"
	"github.com/tideline-analytics/tideline/internal/core/storage"
)

// BatchResult is the outcome of writing one submitted batch. Every index of
// the input ends up either counted in Accepted or listed in Errors; nothing
// is silently lost.
type BatchResult struct {
	Accepted int               `json:"accepted"`
	Errors   []v1.IndexedError `json:"errors,omitempty"`

	// Inserted holds the events that were genuinely new in this call, as
	// opposed to duplicates skipped by the store. Rollup maintenance is
	// keyed off this set so redelivered jobs cannot double-count; it is
	// internal and never serialized into responses.
	Inserted []*v1.Event `json:"-"`
}

// Writer validates and durably persists event batches.
//
// Failure separation: per-record construction/validation problems are
// terminal and recorded per index without retrying; store failures are
// treated as transient and go through the retry executor.
type Writer struct {
	store     storage.EventStore
	retryOpts retry.Options
	nowFn     func() time.Time
}

// NewWriter creates a Writer with the standard retry policy.
func NewWriter(store storage.EventStore) *Writer {
	if store == nil {
		panic("ingestion: store must not be nil")
	}
	return &Writer{
		store:     store,
		retryOpts: retry.DefaultOptions(),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateBatch persists the candidates. Duplicates (same event_id as an
// existing row) count as accepted but are excluded from Inserted. A failed
// bulk insert falls back to per-row inserts so one bad record cannot sink
// the rest of the batch.
func (w *Writer) CreateBatch(ctx context.Context, candidates []v1.EventCandidate) BatchResult {
	var result BatchResult

	ingestedAt := w.nowFn()
	entities := make([]*v1.Event, 0, len(candidates))
	indexByID := make(map[string]int, len(candidates))

	for i := range candidates {
		evt, err := v1.NewEvent(&candidates[i], ingestedAt)
		if err != nil {
			// Construction failure is per-index, never batch-fatal.
			result.Errors = append(result.Errors, v1.IndexedError{Index: i, Message: err.Error()})
			continue
		}
		entities = append(entities, evt)
		// A batch can repeat an event_id; error attribution sticks to the
		// first occurrence.
		if _, seen := indexByID[evt.ID]; !seen {
			indexByID[evt.ID] = i
		}
	}

	if len(entities) == 0 {
		return result
	}

	var insertedIDs []string
	bulkErr := retry.Do(ctx, func() error {
		ids, err := w.store.InsertEvents(ctx, entities)
		if err != nil {
			return err
		}
		insertedIDs = ids
		return nil
	}, w.retryOpts)

	if bulkErr == nil {
		result.Accepted = len(entities)
		result.Inserted = filterByID(entities, insertedIDs)
		sortErrors(result.Errors)
		return result
	}

	slog.Warn("Bulk insert failed after retries, falling back to per-row inserts",
		"batch_size", len(entities),
		"error", bulkErr)

	for _, evt := range entities {
		var isNew bool
		err := retry.Do(ctx, func() error {
			insErr := w.store.InsertEvent(ctx, evt)
			if stderrors.Is(insErr, storage.ErrDuplicate) {
				isNew = false
				return nil
			}
			if insErr != nil {
				return insErr
			}
			isNew = true
			return nil
		}, w.retryOpts)

		if err != nil {
			result.Errors = append(result.Errors, v1.IndexedError{
				Index:   indexByID[evt.ID],
				Message: err.Error(),
			})
			continue
		}

		result.Accepted++
		if isNew {
			result.Inserted = append(result.Inserted, evt)
		}
	}

	sortErrors(result.Errors)
	return result
}

// filterByID keeps the entities whose ids the store reported as newly
// inserted, preserving batch order.
func filterByID(entities []*v1.Event, ids []string) []*v1.Event {
	if len(ids) == 0 {
		return nil
	}
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	inserted := make([]*v1.Event, 0, len(ids))
	for _, evt := range entities {
		if _, ok := idSet[evt.ID]; ok {
			inserted = append(inserted, evt)
		}
	}
	return inserted
}

func sortErrors(errs []v1.IndexedError) {
	sort.Slice(errs, func(i, j int) bool { return errs[i].Index < errs[j].Index })
}
