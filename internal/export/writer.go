package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Duplicate handling strategies for files that already exist at the target.
const (
	DuplicateRename    = "rename"
	DuplicateSkip      = "skip"
	DuplicateOverwrite = "overwrite"
)

// Writer saves downloads to a directory.
type Writer struct {
	dir               string
	duplicateHandling string
	logger            *logrus.Logger
}

// NewWriter returns a Writer for dir.
func NewWriter(dir, duplicateHandling string, logger *logrus.Logger) *Writer {
	if duplicateHandling == "" {
		duplicateHandling = DuplicateRename
	}
	return &Writer{dir: dir, duplicateHandling: duplicateHandling, logger: logger}
}

// Write stores d in the target directory and returns the written path.
// With the skip strategy an existing file is left alone and its path returned.
func (w *Writer) Write(d *Download) (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("create target dir: %w", err)
	}

	target := filepath.Join(w.dir, filepath.Base(d.Filename))
	if fileExists(target) {
		switch w.duplicateHandling {
		case DuplicateSkip:
			w.logger.WithField("file", target).Info("File exists, skipping")
			return target, nil
		case DuplicateOverwrite:
			w.logger.WithField("file", target).Debug("Overwriting existing file")
		default:
			target = uniquePath(target)
		}
	}

	tmpPath := target + ".tmp"
	if err := os.WriteFile(tmpPath, d.Data, 0644); err != nil {
		return "", fmt.Errorf("write tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename %s: %w", tmpPath, err)
	}

	w.logger.WithFields(logrus.Fields{
		"file":      target,
		"operation": "write",
		"images":    d.Count,
	}).Info("Saved download")
	return target, nil
}

// uniquePath returns "name (n).ext" for the first n that does not exist.
func uniquePath(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, counter, ext)
		if !fileExists(candidate) {
			return candidate
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
