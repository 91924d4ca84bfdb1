// Package files implements the dispatch and query surface around uploaded
// files: creating the File/Job records, handing the task to the queue, and
// answering owner-scoped reads.
package files

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hollis-dev/filemill/internal/queue"
	"github.com/hollis-dev/filemill/internal/repository"
)

var (
	// ErrNotFound is returned when the file id does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrForbidden is returned when the requester does not own the file.
	ErrForbidden = errors.New("file belongs to another user")
)

// Service dispatches uploads into the pipeline and serves file queries.
type Service struct {
	store repository.Store
	queue queue.Enqueuer
	log   *zap.Logger
}

// NewService constructs a Service.
func NewService(store repository.Store, q queue.Enqueuer, log *zap.Logger) *Service {
	return &Service{store: store, queue: q, log: log}
}

// SubmitRequest describes one upload whose bytes are already durably stored
// at StoragePath.
type SubmitRequest struct {
	OwnerID          int64
	OriginalFilename string
	StoragePath      string
	Title            string
	Description      string
}

// SubmitResult is returned to the upload caller immediately; processing
// happens asynchronously.
type SubmitResult struct {
	ID     int64                 `json:"id"`
	Status repository.FileStatus `json:"status"`
}

// Submit inserts the File (uploaded) and Job (queued) records, then enqueues
// one processing task. If the enqueue fails the records are left behind and
// picked up later by RequeueStale; they are not rolled back.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	file := &repository.File{
		OwnerID:          req.OwnerID,
		OriginalFilename: req.OriginalFilename,
		StoragePath:      req.StoragePath,
		Title:            req.Title,
		Description:      req.Description,
	}
	if err := s.store.CreateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("create file record: %w", err)
	}
	job := &repository.Job{FileID: file.ID}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}
	payload := queue.ProcessFilePayload{
		FileID:       file.ID,
		FilePath:     file.StoragePath,
		OriginalName: file.OriginalFilename,
	}
	if err := s.queue.EnqueueProcessFile(ctx, payload); err != nil {
		// Records stay in uploaded/queued; the sweep re-enqueues them.
		s.log.Error("enqueue failed after records were created",
			zap.Int64("fileId", file.ID), zap.Error(err))
		return nil, fmt.Errorf("enqueue processing task: %w", err)
	}
	s.log.Info("file submitted",
		zap.Int64("fileId", file.ID),
		zap.Int64("ownerId", file.OwnerID),
		zap.String("filename", file.OriginalFilename))
	return &SubmitResult{ID: file.ID, Status: file.Status}, nil
}

// Get returns a file with its jobs embedded. Ownership is enforced here so
// every read path gets the same check.
func (s *Service) Get(ctx context.Context, id, ownerID int64) (*repository.File, error) {
	file, err := s.store.GetFile(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if file.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return file, nil
}

// Listing is one page of an owner's files.
type Listing struct {
	Items      []repository.File `json:"items"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	TotalPages int               `json:"totalPages"`
}

// List returns the owner's files ordered by upload time descending.
func (s *Service) List(ctx context.Context, ownerID int64, page, pageSize int) (*Listing, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	items, total, err := s.store.ListFiles(ctx, ownerID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	if items == nil {
		items = []repository.File{}
	}
	return &Listing{
		Items:      items,
		Total:      total,
		Page:       page,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// RequeueStale re-enqueues tasks for jobs that are still queued after
// maxAge, i.e. uploads whose original enqueue never took effect. Returns how
// many tasks were re-enqueued.
func (s *Service) RequeueStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	stale, err := s.store.ListStaleQueued(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale jobs: %w", err)
	}
	var requeued int
	for _, f := range stale {
		payload := queue.ProcessFilePayload{
			FileID:       f.ID,
			FilePath:     f.StoragePath,
			OriginalName: f.OriginalFilename,
		}
		if err := s.queue.EnqueueProcessFile(ctx, payload); err != nil {
			s.log.Error("requeue failed", zap.Int64("fileId", f.ID), zap.Error(err))
			continue
		}
		s.log.Warn("requeued stale job", zap.Int64("fileId", f.ID))
		requeued++
	}
	return requeued, nil
}
