package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// CreateFile inserts an uploaded file and fills in its assigned id.
func (s *PostgresStore) CreateFile(ctx context.Context, f *File) error {
	now := time.Now().UTC()
	f.Status = FileUploaded
	f.UploadedAt = now
	f.CreatedAt = now
	f.UpdatedAt = now
	err := s.pool.QueryRow(ctx, `
		INSERT INTO files (owner_id, original_filename, storage_path, title, description, status, uploaded_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, f.OwnerID, f.OriginalFilename, f.StoragePath, f.Title, f.Description, f.Status, f.UploadedAt, f.CreatedAt, f.UpdatedAt).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// CreateJob inserts a queued job for a file and fills in its assigned id.
func (s *PostgresStore) CreateJob(ctx context.Context, j *Job) error {
	now := time.Now().UTC()
	if j.Type == "" {
		j.Type = JobTypeFileProcessing
	}
	j.Status = JobQueued
	j.CreatedAt = now
	j.UpdatedAt = now
	err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (file_id, job_type, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, j.FileID, j.Type, j.Status, j.CreatedAt, j.UpdatedAt).Scan(&j.ID)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetFile returns a file with its jobs embedded, or ErrNotFound.
func (s *PostgresStore) GetFile(ctx context.Context, id int64) (*File, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, original_filename, storage_path, COALESCE(title,''), COALESCE(description,''),
			status, extracted_data, uploaded_at, created_at, updated_at
		FROM files WHERE id=$1
	`, id)
	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select file: %w", err)
	}
	jobs, err := s.jobsForFiles(ctx, []int64{f.ID})
	if err != nil {
		return nil, err
	}
	f.Jobs = jobs[f.ID]
	return f, nil
}

// ListFiles returns one page of an owner's files, newest upload first, plus
// the owner's total file count.
func (s *PostgresStore) ListFiles(ctx context.Context, ownerID int64, offset, limit int) ([]File, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM files WHERE owner_id=$1`, ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, original_filename, storage_path, COALESCE(title,''), COALESCE(description,''),
			status, extracted_data, uploaded_at, created_at, updated_at
		FROM files WHERE owner_id=$1
		ORDER BY uploaded_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("select files: %w", err)
	}
	defer rows.Close()

	var files []File
	var ids []int64
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, *f)
		ids = append(ids, f.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate files: %w", err)
	}
	if len(ids) > 0 {
		jobs, err := s.jobsForFiles(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		for i := range files {
			files[i].Jobs = jobs[files[i].ID]
		}
	}
	return files, total, nil
}

// MarkFileProcessing moves a file into processing and clears stale extracted
// data from any earlier attempt.
func (s *PostgresStore) MarkFileProcessing(ctx context.Context, fileID int64) error {
	return s.updateFile(ctx, fileID, FileProcessing, nil)
}

// MarkFileProcessed stores the extracted metadata payload alongside the
// terminal processed status.
func (s *PostgresStore) MarkFileProcessed(ctx context.Context, fileID int64, extractedData string) error {
	return s.updateFile(ctx, fileID, FileProcessed, &extractedData)
}

// MarkFileFailed moves a file into failed without touching stored bytes.
func (s *PostgresStore) MarkFileFailed(ctx context.Context, fileID int64) error {
	return s.updateFile(ctx, fileID, FileFailed, nil)
}

func (s *PostgresStore) updateFile(ctx context.Context, fileID int64, status FileStatus, extractedData *string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		UPDATE files SET status=$1, extracted_data=$2, updated_at=$3 WHERE id=$4
	`, status, extractedData, now, fileID)
	if err != nil {
		return fmt.Errorf("update file %d: %w", fileID, err)
	}
	return nil
}

// MarkJobProcessing records the start of an attempt. started_at is stamped
// once; completed_at and error_message are cleared so a retry observes a
// consistent in-flight state.
func (s *PostgresStore) MarkJobProcessing(ctx context.Context, fileID int64) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status=$1,
			started_at=COALESCE(started_at, $2),
			completed_at=NULL,
			error_message=NULL,
			updated_at=$2
		WHERE file_id=$3
	`, JobProcessing, now, fileID)
	if err != nil {
		return fmt.Errorf("mark job processing for file %d: %w", fileID, err)
	}
	return nil
}

// MarkJobCompleted stamps the terminal completed state.
func (s *PostgresStore) MarkJobCompleted(ctx context.Context, fileID int64) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status=$1, completed_at=$2, error_message=NULL, updated_at=$2 WHERE file_id=$3
	`, JobCompleted, now, fileID)
	if err != nil {
		return fmt.Errorf("mark job completed for file %d: %w", fileID, err)
	}
	return nil
}

// MarkJobFailed stamps the terminal failed state with the attempt's error.
func (s *PostgresStore) MarkJobFailed(ctx context.Context, fileID int64, errorMessage string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status=$1, completed_at=$2, error_message=$3, updated_at=$2 WHERE file_id=$4
	`, JobFailed, now, errorMessage, fileID)
	if err != nil {
		return fmt.Errorf("mark job failed for file %d: %w", fileID, err)
	}
	return nil
}

// ListStaleQueued returns files whose job never left queued before cutoff.
func (s *PostgresStore) ListStaleQueued(ctx context.Context, cutoff time.Time) ([]File, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.id, f.owner_id, f.original_filename, f.storage_path, COALESCE(f.title,''), COALESCE(f.description,''),
			f.status, f.extracted_data, f.uploaded_at, f.created_at, f.updated_at
		FROM files f
		JOIN jobs j ON j.file_id = f.id
		WHERE j.status = $1 AND j.created_at < $2
	`, JobQueued, cutoff)
	if err != nil {
		return nil, fmt.Errorf("select stale queued: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale file: %w", err)
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

func (s *PostgresStore) jobsForFiles(ctx context.Context, fileIDs []int64) (map[int64][]Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, file_id, job_type, status, error_message, started_at, completed_at, created_at, updated_at
		FROM jobs WHERE file_id = ANY($1) ORDER BY id
	`, fileIDs)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]Job)
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.FileID, &j.Type, &j.Status, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out[j.FileID] = append(out[j.FileID], j)
	}
	return out, rows.Err()
}

func scanFile(row pgx.Row) (*File, error) {
	var f File
	if err := row.Scan(&f.ID, &f.OwnerID, &f.OriginalFilename, &f.StoragePath, &f.Title, &f.Description,
		&f.Status, &f.ExtractedData, &f.UploadedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}
