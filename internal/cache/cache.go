// Package cache is the best-effort TTL cache in front of the summary read
// path. Every failure degrades to a miss or a no-op; nothing here is ever
// surfaced to a caller as an error.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConnState is the cache layer's view of its backing store. It is owned by
// this package, written on connection-lifecycle transitions and read (never
// mutated) by every Get/Set, which avoids ad hoc boolean flags racing with
// asynchronous reconnects.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAvailable
	StateUnavailable
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAvailable:
		return "available"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

const (
	defaultProbeInterval = 5 * time.Second
	opTimeout            = 500 * time.Millisecond
)

// SummaryCache stores serialized account summaries in Redis under
// summary:<account_id>:<window> with a fixed TTL.
type SummaryCache struct {
	client        *redis.Client
	state         atomic.Int32
	probeInterval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a SummaryCache against the given Redis address and starts the
// background availability probe. The constructor never fails: an
// unreachable store just leaves the cache in its degraded no-op mode until
// a probe succeeds.
func New(addr string) *SummaryCache {
	return newWithProbeInterval(addr, defaultProbeInterval)
}

func newWithProbeInterval(addr string, probeInterval time.Duration) *SummaryCache {
	c := &SummaryCache{
		probeInterval: probeInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	c.client = redis.NewClient(&redis.Options{
		Addr:        addr,
		MaxRetries:  2,
		DialTimeout: opTimeout,
		OnConnect: func(ctx context.Context, cn *redis.Conn) error {
			c.transition(StateAvailable, "connect")
			return nil
		},
	})

	go c.probeLoop()

	return c
}

// State reports the current connection state.
func (c *SummaryCache) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *SummaryCache) transition(next ConnState, reason string) {
	prev := ConnState(c.state.Swap(int32(next)))
	if prev != next {
		slog.Info("[Cache] Connection state changed",
			"from", prev.String(),
			"to", next.String(),
			"reason", reason)
	}
}

// probeLoop re-checks the backing store while it is not available, so the
// layer recovers from outages without any caller noticing more than misses.
func (c *SummaryCache) probeLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if c.State() == StateAvailable {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			err := c.client.Ping(ctx).Err()
			cancel()
			if err == nil {
				c.transition(StateAvailable, "probe")
			} else {
				c.transition(StateUnavailable, "probe")
			}
		}
	}
}

func key(accountID, window string) string {
	return fmt.Sprintf("summary:%s:%s", accountID, window)
}

// Get returns the cached serialized summary for (accountID, window).
// Absence, expiry, and any connectivity failure all report a plain miss.
func (c *SummaryCache) Get(ctx context.Context, accountID, window string) ([]byte, bool) {
	if c.State() == StateUnavailable {
		return nil, false
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := c.client.Get(opCtx, key(accountID, window)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.transition(StateUnavailable, "get failed")
		slog.Warn("[Cache] Get degraded to miss", "account_id", accountID, "error", err)
		return nil, false
	}
	return raw, true
}

// Set stores a serialized summary with the given TTL. Failures are a no-op.
func (c *SummaryCache) Set(ctx context.Context, accountID, window string, raw []byte, ttl time.Duration) {
	if c.State() == StateUnavailable {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Set(opCtx, key(accountID, window), raw, ttl).Err(); err != nil {
		c.transition(StateUnavailable, "set failed")
		slog.Warn("[Cache] Set dropped", "account_id", accountID, "error", err)
	}
}

// Close stops the probe loop and releases the client.
func (c *SummaryCache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
	return c.client.Close()
}
