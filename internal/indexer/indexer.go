// Package indexer reconciles library roots with the catalog: it derives
// identities from path conventions, upserts entities, enriches missing
// metadata and queues unprocessed media for encoding. Full passes run on a
// cron schedule; incremental passes react to watcher events.
package indexer

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mfranzen/videoforge/pkg/log"
)

var mediaExts = map[string]bool{
	".avi":  true,
	".m4v":  true,
	".mkv":  true,
	".mov":  true,
	".mp4":  true,
	".mpeg": true,
	".mpg":  true,
	".webm": true,
	".wmv":  true,
}

// IsMediaFile reports whether the path belongs to the indexable allow-list.
// Hidden files are excluded, which also keeps in-flight encoder temp files
// out of the index.
func IsMediaFile(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return mediaExts[strings.ToLower(filepath.Ext(name))]
}

// findMediaFiles enumerates indexable files under the roots. A root that
// cannot be walked is logged and skipped, it never aborts the pass.
func findMediaFiles(roots []string) []string {
	var files []string
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				log.Warn("Skipping %s: %v", path, err)
				return nil
			}
			if !d.IsDir() && IsMediaFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			log.Error("Failed to walk %s: %v", root, err)
		}
	}
	return files
}
