// Package queue is the boundary between the ingestion edge and the
// asynchronous pipeline. Delivery is at-least-once: consumers must tolerate
// redelivered jobs.
package queue

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	v1 "github.com/tideline-analytics/tideline/internal/api/v1"
)

// DefaultTopic carries batches of event candidates awaiting persistence.
const DefaultTopic = "events.ingest"

// Job is the queue payload: one submitted batch plus its identifier. The
// job id doubles as the watermill message UUID.
type Job struct {
	ID     string              `json:"job_id"`
	Events []v1.EventCandidate `json:"events"`
}

// Enqueuer publishes ingestion jobs.
type Enqueuer struct {
	publisher message.Publisher
	topic     string
}

// NewEnqueuer wraps a watermill publisher for the given topic.
func NewEnqueuer(publisher message.Publisher, topic string) *Enqueuer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Enqueuer{publisher: publisher, topic: topic}
}

// Enqueue publishes the batch as a single job and returns the job id.
func (e *Enqueuer) Enqueue(ctx context.Context, events []v1.EventCandidate) (string, error) {
	jobID := uuid.NewString()

	payload, err := json.Marshal(Job{ID: jobID, Events: events})
	if err != nil {
		return "", fmt.Errorf("failed to marshal ingest job: %w", err)
	}

	msg := message.NewMessage(jobID, payload)
	msg.SetContext(ctx)

	if err := e.publisher.Publish(e.topic, msg); err != nil {
		return "", fmt.Errorf("failed to publish ingest job: %w", err)
	}
	return jobID, nil
}

// DecodeJob unmarshals a delivered message back into a Job. The message
// UUID wins over any job_id in the payload so redeliveries keep a stable
// identity.
func DecodeJob(msg *message.Message) (*Job, error) {
	var job Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return nil, fmt.Errorf("failed to decode ingest job: %w", err)
	}
	if msg.UUID != "" {
		job.ID = msg.UUID
	}
	return &job, nil
}
