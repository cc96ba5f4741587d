package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/require"

	v1 "github.com/tideline-analytics/tideline/internal/api/v1"
	"github.com/tideline-analytics/tideline/internal/ingestion"
	"github.com/tideline-analytics/tideline/internal/queue"
)

type memoryStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{seen: make(map[string]bool)}
}

func (s *memoryStore) InsertEvents(_ context.Context, events []*v1.Event) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := make([]string, 0, len(events))
	for _, evt := range events {
		if s.seen[evt.ID] {
			continue
		}
		s.seen[evt.ID] = true
		inserted = append(inserted, evt.ID)
	}
	return inserted, nil
}

func (s *memoryStore) InsertEvent(_ context.Context, evt *v1.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[evt.ID] = true
	return nil
}

func (s *memoryStore) TotalsByType(_ context.Context, _ string, _ time.Time) (map[string]int64, error) {
	return nil, nil
}

func (s *memoryStore) TopUsers(_ context.Context, _ string, _ time.Time, _ int) ([]v1.UserActivity, error) {
	return nil, nil
}

func (s *memoryStore) TotalsByTypeRange(_ context.Context, _ string, _, _ time.Time) (map[string]int64, error) {
	return nil, nil
}

func (s *memoryStore) UserCountsRange(_ context.Context, _ string, _, _ time.Time) (map[string]int64, error) {
	return nil, nil
}

func (s *memoryStore) SampleAccountIDs(_ context.Context, _ int) ([]string, error) {
	return nil, nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func candidate(id string) v1.EventCandidate {
	return v1.EventCandidate{
		EventID:   id,
		AccountID: "acct-1",
		UserID:    "u-1",
		Type:      v1.TypeMessageSent,
		Timestamp: "2026-03-14T10:00:00Z",
	}
}

func newTestQueue(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })
	return pubSub
}

func TestWorker_ProcessesEnqueuedJobs(t *testing.T) {
	pubSub := newTestQueue(t)
	store := newMemoryStore()
	pipeline := ingestion.NewPipeline(ingestion.NewWriter(store), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New(pubSub, pipeline, "", 2)
	require.NoError(t, w.Start(ctx))

	enqueuer := queue.NewEnqueuer(pubSub, "")
	_, err := enqueuer.Enqueue(ctx, []v1.EventCandidate{candidate("evt-1"), candidate("evt-2")})
	require.NoError(t, err)
	_, err = enqueuer.Enqueue(ctx, []v1.EventCandidate{candidate("evt-3")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.count() == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_RedeliveredJobDoesNotDoubleCount(t *testing.T) {
	pubSub := newTestQueue(t)
	store := newMemoryStore()
	pipeline := ingestion.NewPipeline(ingestion.NewWriter(store), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New(pubSub, pipeline, "", 1)
	require.NoError(t, w.Start(ctx))

	enqueuer := queue.NewEnqueuer(pubSub, "")
	for i := 0; i < 2; i++ {
		_, err := enqueuer.Enqueue(ctx, []v1.EventCandidate{candidate("evt-dup")})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return store.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, store.count())
}

func TestWorker_AcksMalformedJob(t *testing.T) {
	pubSub := newTestQueue(t)
	store := newMemoryStore()
	pipeline := ingestion.NewPipeline(ingestion.NewWriter(store), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New(pubSub, pipeline, "", 1)
	require.NoError(t, w.Start(ctx))

	msg := message.NewMessage(watermill.NewUUID(), []byte("{not json"))
	require.NoError(t, pubSub.Publish(queue.DefaultTopic, msg))

	// A valid job published after the poison message still gets through,
	// proving the consumer did not wedge on it.
	enqueuer := queue.NewEnqueuer(pubSub, "")
	_, err := enqueuer.Enqueue(ctx, []v1.EventCandidate{candidate("evt-after")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_StopsWhenContextCancelled(t *testing.T) {
	pubSub := newTestQueue(t)
	store := newMemoryStore()
	pipeline := ingestion.NewPipeline(ingestion.NewWriter(store), nil)

	ctx, cancel := context.WithCancel(context.Background())

	w := New(pubSub, pipeline, "", 3)
	require.NoError(t, w.Start(ctx))

	cancel()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}
