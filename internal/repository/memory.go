package repository

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store guarded by a mutex. It backs tests and
// local development without Postgres, and applies the same state machine
// rules as PostgresStore.
type MemoryStore struct {
	mu         sync.Mutex
	files      map[int64]*File
	jobs       map[int64]*Job
	nextFileID int64
	nextJobID  int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[int64]*File),
		jobs:  make(map[int64]*Job),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateFile(_ context.Context, f *File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFileID++
	now := time.Now().UTC()
	f.ID = s.nextFileID
	f.Status = FileUploaded
	f.UploadedAt = now
	f.CreatedAt = now
	f.UpdatedAt = now
	clone := *f
	s.files[f.ID] = &clone
	return nil
}

func (s *MemoryStore) CreateJob(_ context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextJobID++
	now := time.Now().UTC()
	j.ID = s.nextJobID
	if j.Type == "" {
		j.Type = JobTypeFileProcessing
	}
	j.Status = JobQueued
	j.CreatedAt = now
	j.UpdatedAt = now
	clone := *j
	s.jobs[j.ID] = &clone
	return nil
}

func (s *MemoryStore) GetFile(_ context.Context, id int64) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *f
	out.Jobs = s.jobsForFileLocked(id)
	return &out, nil
}

func (s *MemoryStore) ListFiles(_ context.Context, ownerID int64, offset, limit int) ([]File, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var owned []*File
	for _, f := range s.files {
		if f.OwnerID == ownerID {
			owned = append(owned, f)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].UploadedAt.Equal(owned[j].UploadedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].UploadedAt.After(owned[j].UploadedAt)
	})
	total := len(owned)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]File, 0, end-offset)
	for _, f := range owned[offset:end] {
		clone := *f
		clone.Jobs = s.jobsForFileLocked(f.ID)
		out = append(out, clone)
	}
	return out, total, nil
}

func (s *MemoryStore) MarkFileProcessing(_ context.Context, fileID int64) error {
	return s.updateFile(fileID, FileProcessing, nil)
}

func (s *MemoryStore) MarkFileProcessed(_ context.Context, fileID int64, extractedData string) error {
	return s.updateFile(fileID, FileProcessed, &extractedData)
}

func (s *MemoryStore) MarkFileFailed(_ context.Context, fileID int64) error {
	return s.updateFile(fileID, FileFailed, nil)
}

func (s *MemoryStore) updateFile(fileID int64, status FileStatus, extractedData *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return ErrNotFound
	}
	f.Status = status
	f.ExtractedData = extractedData
	f.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkJobProcessing(_ context.Context, fileID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, j := range s.jobs {
		if j.FileID != fileID {
			continue
		}
		j.Status = JobProcessing
		if j.StartedAt == nil {
			started := now
			j.StartedAt = &started
		}
		j.CompletedAt = nil
		j.ErrorMessage = nil
		j.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) MarkJobCompleted(_ context.Context, fileID int64) error {
	return s.finishJob(fileID, JobCompleted, nil)
}

func (s *MemoryStore) MarkJobFailed(_ context.Context, fileID int64, errorMessage string) error {
	return s.finishJob(fileID, JobFailed, &errorMessage)
}

func (s *MemoryStore) finishJob(fileID int64, status JobStatus, errorMessage *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, j := range s.jobs {
		if j.FileID != fileID {
			continue
		}
		j.Status = status
		completed := now
		j.CompletedAt = &completed
		j.ErrorMessage = errorMessage
		j.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) ListStaleQueued(_ context.Context, cutoff time.Time) ([]File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []File
	for _, j := range s.jobs {
		if j.Status == JobQueued && j.CreatedAt.Before(cutoff) {
			if f, ok := s.files[j.FileID]; ok {
				out = append(out, *f)
			}
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *MemoryStore) jobsForFileLocked(fileID int64) []Job {
	var jobs []Job
	for _, j := range s.jobs {
		if j.FileID == fileID {
			jobs = append(jobs, *j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	return jobs
}
