// Package summary computes per-account activity summaries through a tiered
// read path: cache, then denormalized rollups, then raw aggregation.
package summary

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	v1 "github.com/tideline-analytics/tideline/internal/api/v1"
	"github.com/tideline-analytics/tideline/internal/core/retry"
	"github.com/tideline-analytics/tideline/internal/core/storage"
)

const (
	// topUsersLimit caps the top-users list of every summary.
	topUsersLimit = 10

	// DefaultTTL is how long a computed summary stays cached.
	DefaultTTL = 60 * time.Second
)

// Cache is the summary cache surface the service needs. A miss is not an
// error; an unavailable cache behaves as all-miss.
type Cache interface {
	Get(ctx context.Context, accountID, window string) ([]byte, bool)
	Set(ctx context.Context, accountID, window string, raw []byte, ttl time.Duration)
}

// Service resolves account summaries. Concurrent requests for the same
// (account, window) are collapsed into one computation.
type Service struct {
	events  storage.EventStore
	rollups storage.RollupStore
	cache   Cache
	ttl     time.Duration

	group singleflight.Group
	nowFn func() time.Time
}

// NewService creates a summary Service. cache may be nil, in which case
// every request computes from storage.
func NewService(events storage.EventStore, rollups storage.RollupStore, cache Cache) *Service {
	if events == nil {
		panic("summary: event store must not be nil")
	}
	if rollups == nil {
		panic("summary: rollup store must not be nil")
	}
	return &Service{
		events:  events,
		rollups: rollups,
		cache:   cache,
		ttl:     DefaultTTL,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetCacheTTL overrides how long computed summaries stay cached.
func (s *Service) SetCacheTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

// Summarize returns the activity summary for one account over the given
// window. Tiers are tried in order; the raw-aggregation tier is the floor
// and its failure is the only way this returns an error.
func (s *Service) Summarize(ctx context.Context, accountID string, window v1.Window) (*v1.AccountSummary, error) {
	key := accountID + ":" + string(window)

	// The shared computation runs detached from any single caller, so one
	// caller's cancellation cannot poison the result every collapsed caller
	// receives. requestTimeout keeps the detached work bounded regardless.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requestTimeout)
		defer cancel()
		return s.resolve(dctx, accountID, window)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*v1.AccountSummary), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SampleAccountIDs returns up to limit distinct account ids that have
// recorded events, for exploratory use.
func (s *Service) SampleAccountIDs(ctx context.Context, limit int) ([]string, error) {
	ids, err := s.events.SampleAccountIDs(ctx, limit)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *Service) resolve(ctx context.Context, accountID string, window v1.Window) (*v1.AccountSummary, error) {
	if cached, ok := s.cacheGet(ctx, accountID, window); ok {
		return cached, nil
	}

	now := s.nowFn()

	if summary, ok := s.fromRollups(ctx, accountID, window, now); ok {
		s.cacheSet(ctx, summary)
		return summary, nil
	}

	summary, err := s.fromRawEvents(ctx, accountID, window, now)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, summary)
	return summary, nil
}

func (s *Service) cacheGet(ctx context.Context, accountID string, window v1.Window) (*v1.AccountSummary, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, ok := s.cache.Get(ctx, accountID, string(window))
	if !ok {
		return nil, false
	}
	var summary v1.AccountSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		slog.Warn("[Summary] Discarding undecodable cache entry",
			"account_id", accountID,
			"window", window,
			"error", err)
		return nil, false
	}
	return &summary, true
}

func (s *Service) cacheSet(ctx context.Context, summary *v1.AccountSummary) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		slog.Warn("[Summary] Failed to encode summary for caching", "error", err)
		return
	}
	s.cache.Set(ctx, summary.AccountID, string(summary.Window), raw, s.ttl)
}

// fromRollups serves the summary from the daily rollup tables. Rollup rows
// are whole UTC days, so they cover only the full days inside the window;
// the partial day the window opens in is topped up from raw events over
// [since, firstFullDay). The union is exactly [since, now], keeping the
// window bound as strict as the raw tier's. An empty merged result is
// indistinguishable from a rollup gap and falls through to raw aggregation.
func (s *Service) fromRollups(ctx context.Context, accountID string, window v1.Window, now time.Time) (*v1.AccountSummary, bool) {
	since := window.Since(now)
	firstFullDay := since.UTC().Truncate(24 * time.Hour)
	if firstFullDay.Before(since) {
		firstFullDay = firstFullDay.Add(24 * time.Hour)
	}

	totals, err := s.rollups.TotalsByType(ctx, accountID, firstFullDay)
	if err != nil {
		slog.Warn("[Summary] Rollup totals unavailable, falling back to raw aggregation",
			"account_id", accountID,
			"error", err)
		return nil, false
	}

	userCounts, err := s.rollups.UserCounts(ctx, accountID, firstFullDay)
	if err != nil {
		slog.Warn("[Summary] Rollup user counts unavailable, falling back to raw aggregation",
			"account_id", accountID,
			"error", err)
		return nil, false
	}

	if since.Before(firstFullDay) {
		headTotals, err := s.events.TotalsByTypeRange(ctx, accountID, since, firstFullDay)
		if err != nil {
			slog.Warn("[Summary] Partial-day totals unavailable, falling back to raw aggregation",
				"account_id", accountID,
				"error", err)
			return nil, false
		}
		headUsers, err := s.events.UserCountsRange(ctx, accountID, since, firstFullDay)
		if err != nil {
			slog.Warn("[Summary] Partial-day user counts unavailable, falling back to raw aggregation",
				"account_id", accountID,
				"error", err)
			return nil, false
		}
		totals = mergeCounts(totals, headTotals)
		userCounts = mergeCounts(userCounts, headUsers)
	}

	if len(totals) == 0 && len(userCounts) == 0 {
		return nil, false
	}

	return buildSummary(accountID, window, v1.SourceDenormalized, totals, rankUsers(userCounts, topUsersLimit)), true
}

// mergeCounts adds src into dst, allocating dst when needed.
func mergeCounts(dst, src map[string]int64) map[string]int64 {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]int64, len(src))
	}
	for k, v := range src {
		dst[k] += v
	}
	return dst
}

// rankUsers orders merged per-user counts descending, ties broken by
// user_id, capped at n.
func rankUsers(counts map[string]int64, n int) []v1.UserActivity {
	users := make([]v1.UserActivity, 0, len(counts))
	for id, c := range counts {
		users = append(users, v1.UserActivity{UserID: id, Events: c})
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Events != users[j].Events {
			return users[i].Events > users[j].Events
		}
		return users[i].UserID < users[j].UserID
	})
	if len(users) > n {
		users = users[:n]
	}
	return users
}

// fromRawEvents aggregates directly over the events table. This tier is
// authoritative and wrapped in the standard retry policy.
func (s *Service) fromRawEvents(ctx context.Context, accountID string, window v1.Window, now time.Time) (*v1.AccountSummary, error) {
	since := window.Since(now)

	var totals map[string]int64
	var topUsers []v1.UserActivity

	err := retry.DoDefault(ctx, func() error {
		var err error
		totals, err = s.events.TotalsByType(ctx, accountID, since)
		if err != nil {
			return err
		}
		topUsers, err = s.events.TopUsers(ctx, accountID, since, topUsersLimit)
		return err
	})
	if err != nil {
		return nil, err
	}

	return buildSummary(accountID, window, v1.SourceAggregation, totals, topUsers), nil
}

// buildSummary normalizes storage output into a response-ready summary.
// Accounts with no matching events get empty totals and an empty top-users
// list instead of nulls.
func buildSummary(accountID string, window v1.Window, source string, totals map[string]int64, topUsers []v1.UserActivity) *v1.AccountSummary {
	if totals == nil {
		totals = map[string]int64{}
	}
	if topUsers == nil {
		topUsers = []v1.UserActivity{}
	}
	return &v1.AccountSummary{
		AccountID: accountID,
		Window:    window,
		Totals:    totals,
		TopUsers:  topUsers,
		Source:    source,
	}
}
