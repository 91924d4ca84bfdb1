// Package api exposes the HTTP surface: uploads in, file status out. It is
// thin glue over the files service; the pipeline itself lives behind it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hollis-dev/filemill/internal/config"
	"github.com/hollis-dev/filemill/internal/files"
)

// BlobStore is the API's view of content storage.
type BlobStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Server exposes HTTP endpoints for uploads and file visibility.
type Server struct {
	cfg    *config.Config
	svc    *files.Service
	blobs  BlobStore
	log    *zap.Logger
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, svc *files.Service, blobs BlobStore, log *zap.Logger) *Server {
	return &Server{cfg: cfg, svc: svc, blobs: blobs, log: log}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Routes(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api listening", zap.String("address", s.cfg.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Routes builds the handler chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/files", s.handleFiles)
	mux.HandleFunc("/files/", s.handleFileRoute)
	return corsMiddleware(s.loggingMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFileRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/files/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.Error(w, "invalid file id", http.StatusBadRequest)
		return
	}
	if len(parts) == 1 {
		s.handleGet(w, r, id)
		return
	}
	switch parts[1] {
	case "download":
		s.handleDownloadURL(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, id int64) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	file, err := s.svc.Get(r.Context(), id, ownerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, file)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", 10)
	listing, err := s.svc.List(r.Context(), ownerID, page, pageSize)
	if err != nil {
		http.Error(w, "failed to list files", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, listing)
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request, id int64) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	file, err := s.svc.Get(r.Context(), id, ownerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	url, err := s.blobs.PresignGet(r.Context(), file.StoragePath, 5*time.Minute)
	if err != nil {
		http.Error(w, "failed to generate url", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	form, err := s.readUploadForm(mr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer os.Remove(form.tmp.path)
	defer form.tmp.f.Close()

	key := fmt.Sprintf("uploads/%s/%s", uuid.NewString(), filepath.Base(form.tmp.filename))
	if _, err := form.tmp.f.Seek(0, 0); err != nil {
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}
	if err := s.blobs.Put(ctx, key, form.tmp.f, form.tmp.size, form.tmp.contentType); err != nil {
		s.log.Error("upload to storage failed", zap.Error(err))
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}
	result, err := s.svc.Submit(ctx, files.SubmitRequest{
		OwnerID:          ownerID,
		OriginalFilename: form.tmp.filename,
		StoragePath:      key,
		Title:            form.title,
		Description:      form.description,
	})
	if err != nil {
		http.Error(w, "failed to queue processing", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

type uploadForm struct {
	tmp         *tempUpload
	title       string
	description string
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

// readUploadForm walks the multipart stream, spooling the file part to a temp
// file and collecting the optional text fields.
func (s *Server) readUploadForm(mr *multipart.Reader) (*uploadForm, error) {
	form := &uploadForm{}
	// A part error after the file was spooled must not leave the temp file
	// behind; the caller only cleans up on success.
	discard := func() {
		if form.tmp != nil {
			form.tmp.f.Close()
			os.Remove(form.tmp.path)
		}
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			discard()
			return nil, fmt.Errorf("read form: %w", err)
		}
		switch part.FormName() {
		case "file":
			tmp, err := s.persistTemp(part)
			part.Close()
			if err != nil {
				discard()
				return nil, err
			}
			form.tmp = tmp
		case "title":
			form.title = readFormValue(part)
		case "description":
			form.description = readFormValue(part)
		default:
			part.Close()
		}
	}
	if form.tmp == nil {
		return nil, errors.New("missing file part")
	}
	return form, nil
}

func readFormValue(part *multipart.Part) string {
	defer part.Close()
	data, err := io.ReadAll(io.LimitReader(part, 4096))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "filemill-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	discard := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				discard()
				return nil, fmt.Errorf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize)
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				discard()
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			discard()
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if written == 0 {
		discard()
		return nil, errors.New("empty file")
	}
	if _, err := tmpFile.Seek(0, 0); err != nil {
		discard()
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload.bin"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: http.DetectContentType(sniff),
		filename:    filename,
	}, nil
}

// requireOwner reads the caller identity. Authentication itself lives outside
// this service; the handlers only need an owner id to scope access.
func requireOwner(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		http.Error(w, "missing X-User-ID header", http.StatusBadRequest)
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid X-User-ID header", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, files.ErrNotFound):
		http.Error(w, "file not found", http.StatusNotFound)
	case errors.Is(err, files.ErrForbidden):
		http.Error(w, "you can only access your own files", http.StatusForbidden)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-User-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}
