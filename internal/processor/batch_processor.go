package processor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"geofacts/server/internal/metrics"
	"geofacts/server/internal/queue"
)

// DefaultBatchSize is used when no batch size is configured.
const DefaultBatchSize = 1000

// WriteFunc persists one batch. The batch is owned by the call.
type WriteFunc[T any] func(ctx context.Context, batch []T) error

// BatchProcessor submits bulk writes to a bounded pool. In dry-run mode
// batches are counted but never written.
type BatchProcessor struct {
	pool      *queue.Pool
	batchSize int
	dryRun    bool
	logger    *logrus.Logger
	batches   atomic.Int64
	items     atomic.Int64
}

// NewBatchProcessor creates a processor writing through a pool of the given
// concurrency. Non-positive values select the defaults.
func NewBatchProcessor(ctx context.Context, batchSize, concurrency int, dryRun bool, logger *logrus.Logger) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchProcessor{
		pool:      queue.NewPool(ctx, concurrency, logger),
		batchSize: batchSize,
		dryRun:    dryRun,
		logger:    logger,
	}
}

// BatchSize returns the number of items per full batch.
func (p *BatchProcessor) BatchSize() int {
	return p.batchSize
}

// Concurrency returns the maximum number of batches written at once.
func (p *BatchProcessor) Concurrency() int {
	return p.pool.Concurrency()
}

// Context is cancelled as soon as a batch fails.
func (p *BatchProcessor) Context() context.Context {
	return p.pool.Context()
}

// Batches returns the number of batches written, or that would have been
// written in a dry run.
func (p *BatchProcessor) Batches() int {
	return int(p.batches.Load())
}

// Items returns the number of items across all written batches.
func (p *BatchProcessor) Items() int {
	return int(p.items.Load())
}

// Drain waits for every submitted batch and returns the first write error.
func (p *BatchProcessor) Drain() error {
	return p.pool.Drain()
}

func (p *BatchProcessor) submit(entity string, n int, write func(ctx context.Context) error) error {
	if p.dryRun {
		p.batches.Add(1)
		p.items.Add(int64(n))
		return nil
	}

	return p.pool.Submit(func(ctx context.Context) error {
		start := time.Now()
		if err := write(ctx); err != nil {
			metrics.BatchesWrittenTotal.WithLabelValues(entity, "failed").Inc()
			p.logger.WithFields(logrus.Fields{
				"entity": entity,
				"size":   n,
			}).WithError(err).Error("Batch write failed")
			return fmt.Errorf("failed to write %s batch of %d: %w", entity, n, err)
		}

		p.batches.Add(1)
		p.items.Add(int64(n))
		metrics.BatchesWrittenTotal.WithLabelValues(entity, "ok").Inc()
		metrics.BatchDurationMs.WithLabelValues(entity).Observe(float64(time.Since(start).Milliseconds()))
		p.logger.WithFields(logrus.Fields{
			"entity":      entity,
			"size":        n,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("Batch written")
		return nil
	})
}

// Batcher accumulates items of one entity kind and hands every full batch to
// the processor. It is used by a single producer goroutine.
type Batcher[T any] struct {
	processor *BatchProcessor
	entity    string
	write     WriteFunc[T]
	buf       []T
}

// NewBatcher returns a batcher writing entity batches with write.
func NewBatcher[T any](p *BatchProcessor, entity string, write WriteFunc[T]) *Batcher[T] {
	return &Batcher[T]{
		processor: p,
		entity:    entity,
		write:     write,
		buf:       make([]T, 0, p.batchSize),
	}
}

// Add buffers item. When the buffer reaches the batch size it is submitted,
// which blocks while the pool is at capacity.
func (b *Batcher[T]) Add(item T) error {
	b.buf = append(b.buf, item)
	if len(b.buf) < b.processor.batchSize {
		return nil
	}
	return b.Flush()
}

// Flush submits the buffered items, if any, as one batch.
func (b *Batcher[T]) Flush() error {
	if len(b.buf) == 0 {
		return nil
	}

	batch := b.buf
	b.buf = make([]T, 0, b.processor.batchSize)
	return b.processor.submit(b.entity, len(batch), func(ctx context.Context) error {
		return b.write(ctx, batch)
	})
}

// Pending returns the number of buffered items not yet submitted.
func (b *Batcher[T]) Pending() int {
	return len(b.buf)
}
