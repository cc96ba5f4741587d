package v1

import "time"

// Window is the lookback period a summary is computed over.
type Window string

const (
	WindowLast24h Window = "last_24h"
	WindowLast7d  Window = "last_7d"
)

// NormalizeWindow maps a raw query value to a supported window. Anything
// other than "last_7d" silently falls back to the 24h default.
func NormalizeWindow(raw string) Window {
	if Window(raw) == WindowLast7d {
		return WindowLast7d
	}
	return WindowLast24h
}

// Since returns the inclusive lower bound of the window relative to now.
func (w Window) Since(now time.Time) time.Time {
	if w == WindowLast7d {
		return now.Add(-7 * 24 * time.Hour)
	}
	return now.Add(-24 * time.Hour)
}

// Summary sources, reported so callers can observe which read tier computed
// the result. Cache hits replay the stored summary verbatim, source included.
const (
	SourceDenormalized = "denormalized"
	SourceAggregation  = "aggregation"
)

// UserActivity is one entry of the top-users list.
type UserActivity struct {
	UserID string `json:"user_id"`
	Events int64  `json:"events"`
}

// AccountSummary is the summary response body for one (account, window).
type AccountSummary struct {
	AccountID string           `json:"account_id"`
	Window    Window           `json:"window"`
	Totals    map[string]int64 `json:"totals"`
	TopUsers  []UserActivity   `json:"top_users"`
	Source    string           `json:"source,omitempty"`
}
