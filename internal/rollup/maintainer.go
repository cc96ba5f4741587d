// Package rollup maintains the denormalized daily rollup tables that back
// the summary fast path.
package rollup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	v1 "github.com/tideline-analytics/tideline/internal/api/v1"
	"github.com/tideline-analytics/tideline/internal/core/storage"
)

// Maintainer applies batch-local increments to the per-type and per-user
// daily rollups.
//
// Input is the set of events the writer genuinely inserted in this call,
// not the full submitted batch: duplicates skipped by the store contribute
// no increments, so an at-least-once redelivery of the same job leaves the
// rollups untouched.
type Maintainer struct {
	store storage.RollupStore
}

// NewMaintainer creates a Maintainer over the given rollup store.
func NewMaintainer(store storage.RollupStore) *Maintainer {
	if store == nil {
		panic("rollup: store must not be nil")
	}
	return &Maintainer{store: store}
}

// Apply groups the events by (account, day, type) and (account, day, user)
// and upserts one atomic increment per group. A failed upsert falls back to
// an explicit increment statement; groups that still fail are logged and
// counted. The returned error summarizes failures for the caller's log line
// only — callers must treat maintenance as best-effort and never fail the
// enclosing job on it.
func (m *Maintainer) Apply(ctx context.Context, events []*v1.Event) error {
	if len(events) == 0 {
		return nil
	}

	typeDeltas, userDeltas := groupDeltas(events)

	failed := 0
	for _, delta := range typeDeltas {
		if err := m.store.UpsertTypeCount(ctx, delta); err != nil {
			slog.Warn("Type rollup upsert failed, trying explicit increment",
				"account_id", delta.AccountID,
				"event_type", delta.EventType,
				"error", err)
			if err := m.store.AddTypeCount(ctx, delta); err != nil {
				slog.Error("Type rollup increment failed",
					"account_id", delta.AccountID,
					"event_type", delta.EventType,
					"count", delta.Count,
					"error", err)
				failed++
			}
		}
	}

	for _, delta := range userDeltas {
		if err := m.store.UpsertUserCount(ctx, delta); err != nil {
			slog.Warn("User rollup upsert failed, trying explicit increment",
				"account_id", delta.AccountID,
				"user_id", delta.UserID,
				"error", err)
			if err := m.store.AddUserCount(ctx, delta); err != nil {
				slog.Error("User rollup increment failed",
					"account_id", delta.AccountID,
					"user_id", delta.UserID,
					"count", delta.Count,
					"error", err)
				failed++
			}
		}
	}

	slog.Debug("Applied rollup increments",
		"events", len(events),
		"type_groups", len(typeDeltas),
		"user_groups", len(userDeltas),
		"failed_groups", failed)

	if failed > 0 {
		return fmt.Errorf("%d rollup group(s) failed after fallback", failed)
	}
	return nil
}

type typeKey struct {
	accountID string
	day       string
	eventType string
}

type userKey struct {
	accountID string
	day       string
	userID    string
}

// groupDeltas computes the batch-local increment per rollup row. Deltas are
// returned in a stable sorted order so concurrent batches touching
// overlapping rows tend to lock them in the same sequence.
func groupDeltas(events []*v1.Event) ([]storage.TypeDelta, []storage.UserDelta) {
	byType := make(map[typeKey]*storage.TypeDelta)
	byUser := make(map[userKey]*storage.UserDelta)

	for _, evt := range events {
		day := evt.Day()
		dayKey := day.Format("2006-01-02")

		tk := typeKey{accountID: evt.AccountID, day: dayKey, eventType: evt.Type}
		if d, ok := byType[tk]; ok {
			d.Count++
		} else {
			byType[tk] = &storage.TypeDelta{
				AccountID: evt.AccountID,
				Day:       day,
				EventType: evt.Type,
				Count:     1,
			}
		}

		uk := userKey{accountID: evt.AccountID, day: dayKey, userID: evt.UserID}
		if d, ok := byUser[uk]; ok {
			d.Count++
		} else {
			byUser[uk] = &storage.UserDelta{
				AccountID: evt.AccountID,
				Day:       day,
				UserID:    evt.UserID,
				Count:     1,
			}
		}
	}

	typeDeltas := make([]storage.TypeDelta, 0, len(byType))
	for _, d := range byType {
		typeDeltas = append(typeDeltas, *d)
	}
	sort.Slice(typeDeltas, func(i, j int) bool {
		a, b := typeDeltas[i], typeDeltas[j]
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if !a.Day.Equal(b.Day) {
			return a.Day.Before(b.Day)
		}
		return a.EventType < b.EventType
	})

	userDeltas := make([]storage.UserDelta, 0, len(byUser))
	for _, d := range byUser {
		userDeltas = append(userDeltas, *d)
	}
	sort.Slice(userDeltas, func(i, j int) bool {
		a, b := userDeltas[i], userDeltas[j]
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if !a.Day.Equal(b.Day) {
			return a.Day.Before(b.Day)
		}
		return a.UserID < b.UserID
	})

	return typeDeltas, userDeltas
}
