// Package stream serves playback: static range-serving for normalized files
// and a single supersedable live transcode session for everything else.
package stream

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/mfranzen/videoforge/pkg/log"
)

// ServeFile answers a playback request for an already-normalized file. A
// Range header yields a single-range 206; multi-range requests are not
// supported and only the first range is honored.
func ServeFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		log.Error("Failed to open %s: %v", path, err)
		http.Error(w, "file not available", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		http.Error(w, "file not available", http.StatusInternalServerError)
		return
	}
	size := stat.Size()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, f); err != nil {
			log.Warn("Streaming %s interrupted: %v", path, err)
		}
		return
	}

	start, end, err := parseRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		log.Error("Failed to seek %s: %v", path, err)
		return
	}
	if _, err := io.CopyN(w, f, end-start+1); err != nil {
		log.Warn("Streaming %s interrupted: %v", path, err)
	}
}

// parseRange interprets the first range of a bytes= header against the file
// size. Supported forms: "start-", "start-end" and the suffix form "-n".
func parseRange(header string, size int64) (start, end int64, err error) {
	spec := strings.TrimPrefix(header, "bytes=")
	if spec == header {
		return 0, 0, fmt.Errorf("unsupported range unit in %q", header)
	}
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}
	spec = strings.TrimSpace(spec)

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, fmt.Errorf("malformed range %q", header)
	}

	if startStr == "" {
		// Suffix form: last n bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("malformed range %q", header)
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	}

	start, err = strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("malformed range %q", header)
	}

	end = size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("malformed range %q", header)
		}
	}
	if end >= size {
		end = size - 1
	}
	if start > end || start >= size {
		return 0, 0, fmt.Errorf("range %q out of bounds for size %d", header, size)
	}
	return start, end, nil
}
