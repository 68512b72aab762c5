package stream

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, size int) string {
	t.Helper()
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "movie.mp4")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestServeFile_WholeFile(t *testing.T) {
	path := writeTestFile(t, 1000)

	req := httptest.NewRequest("GET", "/play", nil)
	rec := httptest.NewRecorder()
	ServeFile(rec, req, path)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "1000", rec.Header().Get("Content-Length"))
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Len(t, rec.Body.Bytes(), 1000)
}

func TestServeFile_SingleRange(t *testing.T) {
	path := writeTestFile(t, 1000)
	expected, err := os.ReadFile(path)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/play", nil)
	req.Header.Set("Range", "bytes=100-199")
	rec := httptest.NewRecorder()
	ServeFile(rec, req, path)

	assert.Equal(t, 206, rec.Code)
	assert.Equal(t, "bytes 100-199/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "100", rec.Header().Get("Content-Length"))
	assert.True(t, bytes.Equal(expected[100:200], rec.Body.Bytes()))
}

func TestServeFile_OpenEndedRange(t *testing.T) {
	path := writeTestFile(t, 1000)

	req := httptest.NewRequest("GET", "/play", nil)
	req.Header.Set("Range", "bytes=900-")
	rec := httptest.NewRecorder()
	ServeFile(rec, req, path)

	assert.Equal(t, 206, rec.Code)
	assert.Equal(t, "bytes 900-999/1000", rec.Header().Get("Content-Range"))
	assert.Len(t, rec.Body.Bytes(), 100)
}

func TestServeFile_SuffixRange(t *testing.T) {
	path := writeTestFile(t, 1000)

	req := httptest.NewRequest("GET", "/play", nil)
	req.Header.Set("Range", "bytes=-100")
	rec := httptest.NewRecorder()
	ServeFile(rec, req, path)

	assert.Equal(t, 206, rec.Code)
	assert.Equal(t, "bytes 900-999/1000", rec.Header().Get("Content-Range"))
}

func TestServeFile_OnlyFirstRangeHonored(t *testing.T) {
	path := writeTestFile(t, 1000)

	req := httptest.NewRequest("GET", "/play", nil)
	req.Header.Set("Range", "bytes=0-9,100-199")
	rec := httptest.NewRecorder()
	ServeFile(rec, req, path)

	assert.Equal(t, 206, rec.Code)
	assert.Equal(t, "bytes 0-9/1000", rec.Header().Get("Content-Range"))
	assert.Len(t, rec.Body.Bytes(), 10)
}

func TestServeFile_RangeBeyondEOFIsClamped(t *testing.T) {
	path := writeTestFile(t, 1000)

	req := httptest.NewRequest("GET", "/play", nil)
	req.Header.Set("Range", "bytes=990-2000")
	rec := httptest.NewRecorder()
	ServeFile(rec, req, path)

	assert.Equal(t, 206, rec.Code)
	assert.Equal(t, "bytes 990-999/1000", rec.Header().Get("Content-Range"))
}

func TestServeFile_UnsatisfiableRange(t *testing.T) {
	path := writeTestFile(t, 1000)

	req := httptest.NewRequest("GET", "/play", nil)
	req.Header.Set("Range", "bytes=2000-")
	rec := httptest.NewRecorder()
	ServeFile(rec, req, path)

	assert.Equal(t, 416, rec.Code)
	assert.Equal(t, "bytes */1000", rec.Header().Get("Content-Range"))
}

func TestServeFile_MissingFile(t *testing.T) {
	req := httptest.NewRequest("GET", "/play", nil)
	rec := httptest.NewRecorder()
	ServeFile(rec, req, filepath.Join(t.TempDir(), "nope.mp4"))

	assert.Equal(t, 500, rec.Code)
}
