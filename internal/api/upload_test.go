package api

import (
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollis-dev/filemill/internal/config"
)

func tempSpoolFiles(t *testing.T) map[string]bool {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "filemill-*"))
	require.NoError(t, err)
	set := make(map[string]bool, len(matches))
	for _, m := range matches {
		set[m] = true
	}
	return set
}

func TestReadUploadFormDiscardsSpoolOnError(t *testing.T) {
	s := &Server{cfg: &config.Config{MaxFileSize: 1 << 20}}
	before := tempSpoolFiles(t)

	// A complete file part followed by a part whose headers are cut off
	// mid-stream, so NextPart fails after the spool already exists.
	body := "--B\r\n" +
		"Content-Disposition: form-data; name=\"file\"; filename=\"a.txt\"\r\n\r\n" +
		"hello\r\n" +
		"--B\r\n" +
		"Content-Disposition: form-data; name="

	mr := multipart.NewReader(strings.NewReader(body), "B")
	_, err := s.readUploadForm(mr)
	require.Error(t, err)

	for path := range tempSpoolFiles(t) {
		assert.True(t, before[path], "leaked temp file %s", path)
	}
}

func TestReadUploadFormMissingFilePart(t *testing.T) {
	s := &Server{cfg: &config.Config{MaxFileSize: 1 << 20}}

	body := "--B\r\n" +
		"Content-Disposition: form-data; name=\"title\"\r\n\r\n" +
		"no file here\r\n" +
		"--B--\r\n"

	mr := multipart.NewReader(strings.NewReader(body), "B")
	_, err := s.readUploadForm(mr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing file part")
}
