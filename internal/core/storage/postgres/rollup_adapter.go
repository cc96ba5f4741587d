package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/tideline-analytics/tideline/internal/core/storage"
)

// RollupAdapter implements storage.RollupStore using PostgreSQL.
// Every increment is applied inside a single conflict-then-update statement,
// which is the atomicity contract that makes concurrent batches touching the
// same rollup row safe without job-level locking.
type RollupAdapter struct {
	db    *sql.DB
	nowFn func() time.Time
}

// NewRollupAdapter creates a new RollupAdapter sharing the given connection.
func NewRollupAdapter(db *sql.DB) *RollupAdapter {
	return &RollupAdapter{
		db:    db,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// UpsertTypeCount applies one batch-local increment to a
// (account, day, type) row: insert with the increment as the initial count,
// or atomically add it to the existing count.
func (a *RollupAdapter) UpsertTypeCount(ctx context.Context, delta storage.TypeDelta) error {
	_, err := a.db.ExecContext(ctx, queryUpsertTypeCount,
		delta.AccountID, delta.Day, delta.EventType, delta.Count, a.nowFn())
	if err != nil {
		return fmt.Errorf("failed to upsert type rollup: %w", err)
	}
	return nil
}

// AddTypeCount is the explicit increment fallback for an existing row.
func (a *RollupAdapter) AddTypeCount(ctx context.Context, delta storage.TypeDelta) error {
	res, err := a.db.ExecContext(ctx, queryAddTypeCount,
		delta.AccountID, delta.Day, delta.EventType, delta.Count, a.nowFn())
	if err != nil {
		return fmt.Errorf("failed to increment type rollup: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("type rollup row not found for account %s", delta.AccountID)
	}
	return nil
}

// UpsertUserCount applies one batch-local increment to a
// (account, day, user) row.
func (a *RollupAdapter) UpsertUserCount(ctx context.Context, delta storage.UserDelta) error {
	_, err := a.db.ExecContext(ctx, queryUpsertUserCount,
		delta.AccountID, delta.Day, delta.UserID, delta.Count, a.nowFn())
	if err != nil {
		return fmt.Errorf("failed to upsert user rollup: %w", err)
	}
	return nil
}

// AddUserCount is the explicit increment fallback for an existing row.
func (a *RollupAdapter) AddUserCount(ctx context.Context, delta storage.UserDelta) error {
	res, err := a.db.ExecContext(ctx, queryAddUserCount,
		delta.AccountID, delta.Day, delta.UserID, delta.Count, a.nowFn())
	if err != nil {
		return fmt.Errorf("failed to increment user rollup: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user rollup row not found for account %s", delta.AccountID)
	}
	return nil
}

// TotalsByType sums rollup counts per type for one account across all days
// on or after sinceDay.
func (a *RollupAdapter) TotalsByType(ctx context.Context, accountID string, sinceDay time.Time) (map[string]int64, error) {
	rows, err := a.db.QueryContext(ctx, queryRollupTotalsByType, accountID, sinceDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query type rollups: %w", err)
	}
	defer rows.Close()

	totals, err := scanTotals(rows)
	if err != nil {
		return nil, err
	}

	slog.Debug("[Postgres] Rollup totals read",
		"account_id", accountID,
		"types", len(totals))
	return totals, nil
}

// UserCounts sums rollup event counts per user on or after sinceDay,
// uncapped. The summary service merges these with partial-day raw counts
// before ranking, so truncating here would lose candidates.
func (a *RollupAdapter) UserCounts(ctx context.Context, accountID string, sinceDay time.Time) (map[string]int64, error) {
	rows, err := a.db.QueryContext(ctx, queryRollupUserCounts, accountID, sinceDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query user rollups: %w", err)
	}
	defer rows.Close()

	return scanTotals(rows)
}
