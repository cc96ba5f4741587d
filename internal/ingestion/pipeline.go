package ingestion

import (
	"context"
	"log/slog"

	v1 "github.com/tideline-analytics/tideline/internal/api/v1"
)

// Maintainer incrementally updates the denormalized rollups from newly
// inserted events. Implemented by the rollup package.
type Maintainer interface {
	Apply(ctx context.Context, events []*v1.Event) error
}

// Pipeline drives one batch through the write path: durable persistence
// first, then best-effort rollup maintenance. Both the synchronous HTTP
// path and the queue worker run batches through the same pipeline.
type Pipeline struct {
	writer     *Writer
	maintainer Maintainer
}

// NewPipeline wires a writer and a maintainer together.
func NewPipeline(writer *Writer, maintainer Maintainer) *Pipeline {
	if writer == nil {
		panic("ingestion: writer must not be nil")
	}
	return &Pipeline{writer: writer, maintainer: maintainer}
}

// ProcessBatch persists the batch and applies rollup increments for the
// genuinely new rows. Maintenance failure is logged and swallowed: the
// events are durably stored and the batch outcome must not change. The
// summary read path's raw-aggregation tier covers any resulting rollup gap.
func (p *Pipeline) ProcessBatch(ctx context.Context, candidates []v1.EventCandidate) BatchResult {
	result := p.writer.CreateBatch(ctx, candidates)

	if p.maintainer != nil && len(result.Inserted) > 0 {
		if err := p.maintainer.Apply(ctx, result.Inserted); err != nil {
			slog.Warn("Rollup maintenance failed; events remain persisted",
				"inserted", len(result.Inserted),
				"error", err)
		}
	}

	return result
}
