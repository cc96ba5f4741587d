package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/tideline-analytics/tideline/internal/api/v1"
)

// ErrDuplicate is returned by single-row inserts when an event with the
// same event_id already exists. Callers treat it as success (idempotent
// redelivery), never as a failure.
var ErrDuplicate = errors.New("event already exists")

// EventStore is the write and raw-aggregation surface over the events table.
type EventStore interface {
	// InsertEvents bulk-inserts with insert-if-absent semantics keyed on
	// event_id and returns the ids of the rows that were genuinely new.
	// Duplicates are silently skipped, not errors.
	InsertEvents(ctx context.Context, events []*v1.Event) (inserted []string, err error)

	// InsertEvent inserts a single event, returning ErrDuplicate if a row
	// with the same event_id already exists. Used by the per-row fallback
	// when a bulk insert keeps failing.
	InsertEvent(ctx context.Context, event *v1.Event) error

	// TotalsByType aggregates raw event counts per type for one account
	// since the given instant. This is the expensive correctness path.
	TotalsByType(ctx context.Context, accountID string, since time.Time) (map[string]int64, error)

	// TopUsers aggregates raw per-user event counts for one account since
	// the given instant, descending by count, capped at limit.
	TopUsers(ctx context.Context, accountID string, since time.Time, limit int) ([]v1.UserActivity, error)

	// TotalsByTypeRange aggregates raw event counts per type over the
	// half-open interval [from, to). The rollup read path uses it to cover
	// the partial day a window opens in.
	TotalsByTypeRange(ctx context.Context, accountID string, from, to time.Time) (map[string]int64, error)

	// UserCountsRange aggregates raw per-user event counts over [from, to),
	// uncapped, so callers can merge it with rollup counts before ranking.
	UserCountsRange(ctx context.Context, accountID string, from, to time.Time) (map[string]int64, error)

	// SampleAccountIDs returns up to limit distinct account ids in
	// ascending lexical order. Test/demo tooling only.
	SampleAccountIDs(ctx context.Context, limit int) ([]string, error)
}

// TypeDelta is one per-batch increment for a (account, day, type) rollup row.
type TypeDelta struct {
	AccountID string
	Day       time.Time
	EventType string
	Count     int64
}

// UserDelta is one per-batch increment for a (account, day, user) rollup row.
type UserDelta struct {
	AccountID string
	Day       time.Time
	UserID    string
	Count     int64
}

// RollupStore is the surface over the two denormalized daily rollup tables.
//
// The Upsert* operations are single atomic conflict-then-increment
// statements; concurrent batches touching the same row commit the sum of
// their increments in either order. The Add* operations are the explicit
// plain-UPDATE fallbacks the maintainer uses when an upsert fails.
type RollupStore interface {
	UpsertTypeCount(ctx context.Context, delta TypeDelta) error
	AddTypeCount(ctx context.Context, delta TypeDelta) error

	UpsertUserCount(ctx context.Context, delta UserDelta) error
	AddUserCount(ctx context.Context, delta UserDelta) error

	// TotalsByType sums rollup counts per type for one account across
	// all days on or after sinceDay.
	TotalsByType(ctx context.Context, accountID string, sinceDay time.Time) (map[string]int64, error)

	// UserCounts sums rollup event counts per user across all days on or
	// after sinceDay, uncapped. Ranking happens in the caller after merging
	// with any partial-day counts.
	UserCounts(ctx context.Context, accountID string, sinceDay time.Time) (map[string]int64, error)
}
