package file

import (
	"os"
	"path/filepath"
	"strings"
)

func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}

	dir := filepath.Dir(path)
	filename := filepath.Base(path)

	lastDot := strings.LastIndex(filename, ".")

	if lastDot <= 0 {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		return filepath.Join(dir, filename+ext)
	}

	nameWithoutExt := filename[:lastDot]

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return filepath.Join(dir, nameWithoutExt+ext)
}

// Stem returns the file name without directory or extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Exists reports whether the path exists on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
