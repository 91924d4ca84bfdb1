// Package worker consumes processing tasks from the queue and drives the
// File/Job status state machine through each attempt.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/hollis-dev/filemill/internal/queue"
	"github.com/hollis-dev/filemill/internal/repository"
)

// BlobStore is the worker's view of uploaded content.
type BlobStore interface {
	Stat(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Processor handles one task attempt at a time per worker slot. It holds no
// state between attempts; all coordination goes through the store and the
// queue, so re-execution after a redelivery is safe.
type Processor struct {
	store repository.Store
	blobs BlobStore
	log   *zap.Logger

	// workDelay simulates the processing routine's real work.
	workDelay time.Duration
}

// NewProcessor constructs a worker processor.
func NewProcessor(store repository.Store, blobs BlobStore, log *zap.Logger, workDelay time.Duration) *Processor {
	return &Processor{store: store, blobs: blobs, log: log, workDelay: workDelay}
}

// Handler registers the task handlers on an asynq mux.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskTypeProcessFile, p.handleProcessFile)
	return mux
}

// handleProcessFile runs one attempt: mark both records processing, execute
// the extraction, then finalize. On success the file row is written before
// the job row, so a reader observing a completed job always sees extracted
// data. On failure both rows record the failure before the error goes back to
// the queue for retry accounting.
func (p *Processor) handleProcessFile(ctx context.Context, task *asynq.Task) error {
	var payload queue.ProcessFilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// A payload that does not parse never will; archive the task instead
		// of burning the retry budget on it.
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	log := p.log.With(zap.Int64("fileId", payload.FileID), zap.String("filename", payload.OriginalName))

	failure := func(err error) error {
		if markErr := p.store.MarkFileFailed(ctx, payload.FileID); markErr != nil {
			log.Error("record file failure", zap.Error(markErr))
		}
		if markErr := p.store.MarkJobFailed(ctx, payload.FileID, err.Error()); markErr != nil {
			log.Error("record job failure", zap.Error(markErr))
		}
		log.Error("task failed", zap.Error(err))
		return err
	}

	if err := p.store.MarkJobProcessing(ctx, payload.FileID); err != nil {
		return failure(fmt.Errorf("mark job processing: %w", err))
	}
	if err := p.store.MarkFileProcessing(ctx, payload.FileID); err != nil {
		return failure(fmt.Errorf("mark file processing: %w", err))
	}

	metadata, err := p.extract(ctx, payload)
	if err != nil {
		return failure(err)
	}
	encoded, err := metadata.encode()
	if err != nil {
		return failure(err)
	}

	if err := p.store.MarkFileProcessed(ctx, payload.FileID, encoded); err != nil {
		return failure(fmt.Errorf("mark file processed: %w", err))
	}
	if err := p.store.MarkJobCompleted(ctx, payload.FileID); err != nil {
		return failure(fmt.Errorf("mark job completed: %w", err))
	}

	log.Info("task completed",
		zap.Int64("fileSize", metadata.FileSize),
		zap.String("mimeType", metadata.MimeTypeGuess))
	return nil
}

// extract runs the processing routine: simulated work, a reachability check
// on the storage handle, and metadata extraction over the byte stream.
func (p *Processor) extract(ctx context.Context, payload queue.ProcessFilePayload) (*Metadata, error) {
	if p.workDelay > 0 {
		select {
		case <-time.After(p.workDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := p.blobs.Stat(ctx, payload.FilePath); err != nil {
		if errors.Is(err, ErrContentUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	content, err := p.blobs.Get(ctx, payload.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open content: %w", err)
	}
	defer content.Close()

	hash, size, err := digest(content)
	if err != nil {
		return nil, err
	}

	return &Metadata{
		FileSize:      size,
		SHA256Hash:    hash,
		ProcessedAt:   time.Now().UTC(),
		MimeTypeGuess: GuessMimeType(payload.OriginalName),
	}, nil
}

// ErrorHandler emits the structured failure and stall events the service's
// monitoring consumes. It carries no control-flow effect; retry accounting
// stays in the queue.
func ErrorHandler(log *zap.Logger) asynq.ErrorHandlerFunc {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, retriedOK := asynq.GetRetryCount(ctx)
		maxRetry, maxOK := asynq.GetMaxRetry(ctx)
		fields := []zap.Field{
			zap.String("taskType", task.Type()),
			zap.Int("attempt", retried+1),
			zap.Int("maxAttempts", maxRetry+1),
			zap.Error(err),
		}
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			log.Warn("task stalled, eligible for redelivery", fields...)
		case retriedOK && maxOK && retried >= maxRetry:
			log.Error("task permanently failed", fields...)
		default:
			log.Warn("task attempt failed, will retry", fields...)
		}
	}
}
