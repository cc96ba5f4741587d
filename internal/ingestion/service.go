package ingestion

import (
	"context"

	"github.com/gin-gonic/gin"

	v1 "github.com/tideline-analytics/tideline/internal/api/v1"
)

// Enqueuer turns a validated batch into a queued job. Implemented by the
// queue package; delivery is at-least-once.
type Enqueuer interface {
	Enqueue(ctx context.Context, events []v1.EventCandidate) (jobID string, err error)
}

// Service is the ingestion edge: it validates incoming batches and either
// writes them inline or hands them to the queue.
type Service struct {
	pipeline         *Pipeline
	enqueuer         Enqueuer
	maxBodySizeBytes int
	maxBatchSize     int
}

// NewService creates the ingestion service. enqueuer may be nil, which
// disables the async endpoint (single-process deployments without a queue).
func NewService(pipeline *Pipeline, enqueuer Enqueuer, maxBodySizeMB, maxBatchSize int) *Service {
	if pipeline == nil {
		panic("ingestion: pipeline must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 1000
	}
	return &Service{
		pipeline:         pipeline,
		enqueuer:         enqueuer,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
		maxBatchSize:     maxBatchSize,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/events", s.CreateEventsHandler)
	if s.enqueuer != nil {
		r.POST("/v1/events/async", s.EnqueueEventsHandler)
	}
}
