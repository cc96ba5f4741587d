package postgres

import (
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	v1 "github.com/tideline-analytics/tideline/internal/api/v1"
)

// marshalMetadata serializes an event's metadata map. Nil or empty maps
// produce "{}" so the column matches its declared default rather than SQL
// NULL.
func marshalMetadata(event *v1.Event) ([]byte, error) {
	if len(event.Metadata) == 0 {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(event.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return raw, nil
}

// scanTotals collects (label, count) rows into a map.
func scanTotals(rows *sql.Rows) (map[string]int64, error) {
	totals := make(map[string]int64)
	for rows.Next() {
		var label string
		var count int64
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("failed to scan totals row: %w", err)
		}
		totals[label] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating totals: %w", err)
	}
	return totals, nil
}

// scanUserActivity collects ordered (user_id, events) rows.
func scanUserActivity(rows *sql.Rows) ([]v1.UserActivity, error) {
	var users []v1.UserActivity
	for rows.Next() {
		var u v1.UserActivity
		if err := rows.Scan(&u.UserID, &u.Events); err != nil {
			return nil, fmt.Errorf("failed to scan user activity row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user activity: %w", err)
	}
	return users, nil
}
