// Package worker consumes ingestion jobs from the queue and drives them
// through the persistence pipeline.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tideline-analytics/tideline/internal/ingestion"
	"github.com/tideline-analytics/tideline/internal/queue"
)

// Worker pulls jobs off a single subscription and processes them with a
// configurable number of consumer goroutines. The subscription is opened
// exactly once so concurrent consumers share one delivery stream instead
// of each receiving a copy.
type Worker struct {
	subscriber  message.Subscriber
	pipeline    *ingestion.Pipeline
	topic       string
	concurrency int

	wg sync.WaitGroup
}

// New creates a Worker. Concurrency values below 1 are raised to 1.
func New(subscriber message.Subscriber, pipeline *ingestion.Pipeline, topic string, concurrency int) *Worker {
	if subscriber == nil {
		panic("worker: subscriber must not be nil")
	}
	if pipeline == nil {
		panic("worker: pipeline must not be nil")
	}
	if topic == "" {
		topic = queue.DefaultTopic
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		subscriber:  subscriber,
		pipeline:    pipeline,
		topic:       topic,
		concurrency: concurrency,
	}
}

// Start subscribes to the job topic and launches the consumer goroutines.
// It returns once the subscription is established; consumers run until the
// context is cancelled and the delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	messages, err := w.subscriber.Subscribe(ctx, w.topic)
	if err != nil {
		return err
	}

	slog.Info("[Worker] Started", "topic", w.topic, "concurrency", w.concurrency)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for msg := range messages {
				w.handle(msg)
			}
		}()
	}
	return nil
}

// Wait blocks until all consumer goroutines have drained and exited.
func (w *Worker) Wait() {
	w.wg.Wait()
	slog.Info("[Worker] Stopped", "topic", w.topic)
}

// handle processes one delivery. Jobs are acked unconditionally: a
// malformed payload can never become parseable, and a processed job's
// row-level failures are already reported inside the batch result.
// Transport-level failures surface as a missing ack upstream, which
// triggers redelivery.
func (w *Worker) handle(msg *message.Message) {
	defer msg.Ack()

	job, err := queue.DecodeJob(msg)
	if err != nil {
		slog.Error("[Worker] Discarding malformed job", "message_uuid", msg.UUID, "error", err)
		return
	}

	ctx := msg.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := w.pipeline.ProcessBatch(ctx, job.Events)
	if len(result.Errors) > 0 {
		slog.Warn("[Worker] Job completed with row errors",
			"job_id", job.ID,
			"accepted", result.Accepted,
			"failed", len(result.Errors))
		return
	}

	slog.Debug("[Worker] Job completed", "job_id", job.ID, "accepted", result.Accepted)
}
