// Package repository persists the two entities tracked by the pipeline: the
// uploaded File and the processing Job attached to it.
package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a file id does not exist.
var ErrNotFound = errors.New("file not found")

// FileStatus describes the processing lifecycle of an uploaded file. The only
// valid transitions are uploaded → processing → processed|failed, with
// processing ↔ failed oscillation while retries remain.
type FileStatus string

const (
	FileUploaded   FileStatus = "uploaded"
	FileProcessing FileStatus = "processing"
	FileProcessed  FileStatus = "processed"
	FileFailed     FileStatus = "failed"
)

// JobStatus describes the lifecycle of a processing job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// JobType discriminates job variants. There is a single variant today; the
// column exists so new variants can be added without a migration.
type JobType string

const JobTypeFileProcessing JobType = "file_processing"

// File is a row in the files table. ExtractedData is non-nil only when Status
// is processed.
type File struct {
	ID               int64      `json:"id"`
	OwnerID          int64      `json:"ownerId"`
	OriginalFilename string     `json:"originalFilename"`
	StoragePath      string     `json:"-"`
	Title            string     `json:"title,omitempty"`
	Description      string     `json:"description,omitempty"`
	Status           FileStatus `json:"status"`
	ExtractedData    *string    `json:"extractedData,omitempty"`
	UploadedAt       time.Time  `json:"uploadedAt"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	Jobs             []Job      `json:"jobs,omitempty"`
}

// Job is a row in the jobs table. ErrorMessage is non-nil only when Status is
// failed; CompletedAt is non-nil only when Status is terminal.
type Job struct {
	ID           int64      `json:"id"`
	FileID       int64      `json:"fileId"`
	Type         JobType    `json:"jobType"`
	Status       JobStatus  `json:"status"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Store is the persistence surface shared by the dispatcher, the worker, and
// the query handlers. The Mark* methods encode the status state machine so
// callers cannot produce an invalid combination:
//
//   - MarkJobProcessing sets started_at only once and clears completed_at and
//     error_message, so a retry attempt re-enters a clean processing state.
//   - MarkFileProcessing and MarkFileFailed clear extracted_data; only
//     MarkFileProcessed writes it.
//   - MarkJobCompleted and MarkJobFailed stamp completed_at; under the queue's
//     single-active-attempt guarantee the last attempt's write wins.
type Store interface {
	CreateFile(ctx context.Context, f *File) error
	CreateJob(ctx context.Context, j *Job) error
	GetFile(ctx context.Context, id int64) (*File, error)
	ListFiles(ctx context.Context, ownerID int64, offset, limit int) ([]File, int, error)

	MarkFileProcessing(ctx context.Context, fileID int64) error
	MarkFileProcessed(ctx context.Context, fileID int64, extractedData string) error
	MarkFileFailed(ctx context.Context, fileID int64) error

	MarkJobProcessing(ctx context.Context, fileID int64) error
	MarkJobCompleted(ctx context.Context, fileID int64) error
	MarkJobFailed(ctx context.Context, fileID int64, errorMessage string) error

	// ListStaleQueued returns files whose job is still queued and was created
	// before cutoff, i.e. uploads whose enqueue never took effect.
	ListStaleQueued(ctx context.Context, cutoff time.Time) ([]File, error)
}
