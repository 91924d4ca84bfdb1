package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store *MemoryStore) *File {
	t.Helper()
	ctx := context.Background()
	f := &File{OwnerID: 1, OriginalFilename: "a.txt", StoragePath: "k"}
	require.NoError(t, store.CreateFile(ctx, f))
	require.NoError(t, store.CreateJob(ctx, &Job{FileID: f.ID}))
	return f
}

func TestJobReentryClearsTerminalFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	f := seed(t, store)

	require.NoError(t, store.MarkJobProcessing(ctx, f.ID))
	require.NoError(t, store.MarkJobFailed(ctx, f.ID, "boom"))

	failed, err := store.GetFile(ctx, f.ID)
	require.NoError(t, err)
	job := failed.Jobs[0]
	require.NotNil(t, job.CompletedAt)
	require.NotNil(t, job.ErrorMessage)
	firstStart := *job.StartedAt

	// A retry attempt re-enters processing: terminal fields must be cleared
	// so completedAt never coexists with a non-terminal status, while
	// startedAt keeps its first-attempt stamp.
	require.NoError(t, store.MarkJobProcessing(ctx, f.ID))
	retrying, err := store.GetFile(ctx, f.ID)
	require.NoError(t, err)
	job = retrying.Jobs[0]
	assert.Equal(t, JobProcessing, job.Status)
	assert.Nil(t, job.CompletedAt)
	assert.Nil(t, job.ErrorMessage)
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, firstStart, *job.StartedAt)
}

func TestFileFailureClearsExtractedData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	f := seed(t, store)

	require.NoError(t, store.MarkFileProcessing(ctx, f.ID))
	require.NoError(t, store.MarkFileProcessed(ctx, f.ID, `{"fileSize":1}`))

	processed, err := store.GetFile(ctx, f.ID)
	require.NoError(t, err)
	require.NotNil(t, processed.ExtractedData)

	// Re-entering processing (stale redelivery) and failing must not leave
	// extracted data behind on a non-processed file.
	require.NoError(t, store.MarkFileProcessing(ctx, f.ID))
	midRetry, err := store.GetFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Nil(t, midRetry.ExtractedData)

	require.NoError(t, store.MarkFileFailed(ctx, f.ID))
	failed, err := store.GetFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, FileFailed, failed.Status)
	assert.Nil(t, failed.ExtractedData)
}

func TestListStaleQueued(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	f := seed(t, store)

	stale, err := store.ListStaleQueued(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, f.ID, stale[0].ID)

	// Once the job leaves queued it is no longer a sweep candidate.
	require.NoError(t, store.MarkJobProcessing(ctx, f.ID))
	stale, err = store.ListStaleQueued(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, stale)
}
