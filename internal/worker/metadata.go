package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// ErrContentUnavailable marks a storage handle that no longer resolves to
// readable content.
var ErrContentUnavailable = errors.New("file content unavailable")

// Metadata is the payload stored in File.ExtractedData on success.
type Metadata struct {
	FileSize      int64     `json:"fileSize"`
	SHA256Hash    string    `json:"sha256Hash"`
	ProcessedAt   time.Time `json:"processedAt"`
	MimeTypeGuess string    `json:"mimeTypeGuess"`
}

// mimeByExtension maps filename extensions to a content-type label. Unknown
// extensions fall back to application/octet-stream.
var mimeByExtension = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
	".zip":  "application/zip",
}

// GuessMimeType infers a content-type label from the filename extension.
func GuessMimeType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if mime, ok := mimeByExtension[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// digest streams r through sha256, returning the hex digest and byte count.
func digest(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("read content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func (m Metadata) encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}
