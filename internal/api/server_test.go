package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hollis-dev/filemill/internal/api"
	"github.com/hollis-dev/filemill/internal/config"
	"github.com/hollis-dev/filemill/internal/files"
	"github.com/hollis-dev/filemill/internal/queue"
	"github.com/hollis-dev/filemill/internal/repository"
	"github.com/hollis-dev/filemill/internal/worker"
)

// mapBlobs backs both the API upload path and the worker's read path.
type mapBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMapBlobs() *mapBlobs {
	return &mapBlobs{objects: make(map[string][]byte)}
}

func (m *mapBlobs) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *mapBlobs) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.local/" + key, nil
}

func (m *mapBlobs) Stat(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return worker.ErrContentUnavailable
	}
	return nil
}

func (m *mapBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return io.NopCloser(bytes.NewReader(m.objects[key])), nil
}

type captureEnqueuer struct {
	payloads []queue.ProcessFilePayload
}

func (c *captureEnqueuer) EnqueueProcessFile(_ context.Context, p queue.ProcessFilePayload) error {
	c.payloads = append(c.payloads, p)
	return nil
}

type fixture struct {
	handler http.Handler
	store   *repository.MemoryStore
	blobs   *mapBlobs
	enq     *captureEnqueuer
	proc    *worker.Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{Address: ":0", MaxFileSize: 1 << 20}
	store := repository.NewMemoryStore()
	blobs := newMapBlobs()
	enq := &captureEnqueuer{}
	svc := files.NewService(store, enq, zap.NewNop())
	srv := api.New(cfg, svc, blobs, zap.NewNop())
	return &fixture{
		handler: srv.Routes(),
		store:   store,
		blobs:   blobs,
		enq:     enq,
		proc:    worker.NewProcessor(store, blobs, zap.NewNop(), 0),
	}
}

func (f *fixture) upload(t *testing.T, ownerID, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", ownerID)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(t *testing.T, ownerID, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-User-ID", ownerID)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// drainQueue runs the worker handler for every captured task, the way the
// asynq server would deliver them.
func (f *fixture) drainQueue(t *testing.T) {
	t.Helper()
	mux := f.proc.Handler()
	for _, p := range f.enq.payloads {
		data, err := json.Marshal(p)
		require.NoError(t, err)
		require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypeProcessFile, data)))
	}
	f.enq.payloads = nil
}

func TestUploadProcessAndGet(t *testing.T) {
	f := newFixture(t)

	rec := f.upload(t, "42", "note.txt", "0123456789")
	require.Equal(t, http.StatusCreated, rec.Code)

	var submitted struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	assert.Equal(t, int64(1), submitted.ID)
	assert.Equal(t, "uploaded", submitted.Status)

	f.drainQueue(t)

	rec = f.get(t, "42", "/files/1")
	require.Equal(t, http.StatusOK, rec.Code)

	var file repository.File
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &file))
	assert.Equal(t, repository.FileProcessed, file.Status)
	require.NotNil(t, file.ExtractedData)

	var meta worker.Metadata
	require.NoError(t, json.Unmarshal([]byte(*file.ExtractedData), &meta))
	assert.Equal(t, "text/plain", meta.MimeTypeGuess)
	assert.Equal(t, int64(10), meta.FileSize)

	require.Len(t, file.Jobs, 1)
	assert.Equal(t, repository.JobCompleted, file.Jobs[0].Status)
	assert.NotNil(t, file.Jobs[0].CompletedAt)
}

func TestGetDeniedForOtherOwner(t *testing.T) {
	f := newFixture(t)

	rec := f.upload(t, "42", "secret.pdf", "pdf bytes")
	require.Equal(t, http.StatusCreated, rec.Code)
	f.drainQueue(t)

	rec = f.get(t, "7", "/files/1")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.get(t, "42", "/files/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListReturnsPagedResults(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 15; i++ {
		rec := f.upload(t, "7", "f.txt", "x")
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.get(t, "7", "/files?page=2&pageSize=10")
	require.Equal(t, http.StatusOK, rec.Code)

	var listing files.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Len(t, listing.Items, 5)
	assert.Equal(t, 15, listing.Total)
	assert.Equal(t, 2, listing.Page)
	assert.Equal(t, 2, listing.TotalPages)
}

func TestUploadRequiresOwnerHeader(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/files", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadURL(t *testing.T) {
	f := newFixture(t)

	rec := f.upload(t, "42", "note.txt", "0123456789")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.get(t, "42", "/files/1/download")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["url"], "https://blobs.local/uploads/")
}
