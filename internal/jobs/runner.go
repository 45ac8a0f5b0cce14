// Package jobs runs batch processing asynchronously: an in-process queue
// feeding a small worker pool. Delivery is at-least-once within the process;
// the pipeline is idempotent per batch, so a redelivered job converges.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skawano/lecfeed/internal/database"
	"github.com/skawano/lecfeed/internal/ingest"
	"github.com/skawano/lecfeed/internal/pipeline"
	"github.com/skawano/lecfeed/internal/storage"
	"github.com/skawano/lecfeed/internal/summary"
)

// queueCapacity bounds how many uploads can wait for a worker before
// Enqueue starts rejecting.
const queueCapacity = 256

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrStopped   = errors.New("job runner is stopped")
)

type Config struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

type job struct {
	id      string
	batchID int64
}

// Runner owns the queue and the workers that drain it.
type Runner struct {
	db         *database.DB
	store      storage.Store
	processor  *pipeline.Processor
	aggregator *summary.Aggregator
	cfg        Config

	jobs chan job
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewRunner(db *database.DB, store storage.Store, processor *pipeline.Processor, aggregator *summary.Aggregator, cfg Config) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Runner{
		db:         db,
		store:      store,
		processor:  processor,
		aggregator: aggregator,
		cfg:        cfg,
		jobs:       make(chan job, queueCapacity),
	}
}

// Start launches the worker pool. Workers exit when the context is canceled
// and the queue has been drained of whatever they already picked up.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go func(worker int) {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j, ok := <-r.jobs:
					if !ok {
						return
					}
					if err := r.ProcessBatch(ctx, j.batchID); err != nil {
						log.Printf("worker %d: job %s (batch %d) failed: %v", worker, j.id, j.batchID, err)
					}
				}
			}
		}(i)
	}
}

// Stop prevents further enqueues and waits for in-flight jobs. Safe to call
// more than once and safe against a concurrent Enqueue.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.jobs)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Enqueue schedules processing for a batch and records the job id on it.
// Returns ErrStopped after Stop and ErrQueueFull when the queue is saturated.
func (r *Runner) Enqueue(batchID int64) (string, error) {
	j := job{id: uuid.New().String(), batchID: batchID}
	if err := r.db.SetBatchJobID(batchID, j.id); err != nil {
		return "", fmt.Errorf("recording job id: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrStopped
	}
	select {
	case r.jobs <- j:
		return j.id, nil
	default:
		return "", ErrQueueFull
	}
}

// ProcessBatch runs the full processing sequence for one batch
// synchronously: load the stored file, parse and classify, persist counts,
// recompute aggregates. Every failure path leaves the batch FAILED with a
// message; validation failures are final, storage hiccups are retried first.
func (r *Runner) ProcessBatch(ctx context.Context, batchID int64) error {
	batch, err := r.db.GetBatch(batchID)
	if err != nil {
		return fmt.Errorf("loading batch %d: %w", batchID, err)
	}
	if batch == nil {
		return fmt.Errorf("batch %d not found", batchID)
	}

	if err := r.db.MarkBatchProcessing(batch.ID); err != nil {
		return fmt.Errorf("marking batch processing: %w", err)
	}

	data, err := r.loadBlob(ctx, batch)
	if err != nil {
		return r.fail(batch.ID, err)
	}

	counts, err := r.processor.Process(ctx, batch, data)
	if err != nil {
		return r.fail(batch.ID, err)
	}

	if _, err := r.aggregator.Recompute(ctx, batch.ID); err != nil {
		return r.fail(batch.ID, err)
	}

	if err := r.db.MarkBatchCompleted(batch.ID, counts.TotalResponses, counts.TotalComments, counts.ProcessedComments); err != nil {
		return fmt.Errorf("marking batch completed: %w", err)
	}

	log.Printf("batch %d completed: %d responses, %d/%d comments",
		batch.ID, counts.TotalResponses, counts.ProcessedComments, counts.TotalComments)
	return nil
}

// loadBlob fetches the uploaded file, retrying storage backend errors up to
// the configured limit. Anything else fails on the first attempt.
func (r *Runner) loadBlob(ctx context.Context, batch *database.Batch) ([]byte, error) {
	if batch.StorageURI == nil || *batch.StorageURI == "" {
		return nil, &ingest.ValidationError{Reason: "batch has no stored file"}
	}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("batch %d: retrying file load (attempt %d/%d)", batch.ID, attempt, r.cfg.MaxRetries)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.cfg.RetryDelay):
			}
		}

		data, err := r.store.Load(ctx, *batch.StorageURI)
		if err == nil {
			return data, nil
		}
		lastErr = err

		var serr *storage.Error
		if !errors.As(err, &serr) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("loading stored file after %d retries: %w", r.cfg.MaxRetries, lastErr)
}

func (r *Runner) fail(batchID int64, cause error) error {
	if err := r.db.MarkBatchFailed(batchID, cause.Error()); err != nil {
		log.Printf("batch %d: recording failure also failed: %v", batchID, err)
	}
	return cause
}
