package source

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"photo-compressor-go/internal/model"
)

// Options controls disk discovery.
type Options struct {
	Recursive    bool
	MaxFileBytes int64 // 0 means no limit
	MaxFiles     int   // 0 means no limit
}

// Collect reads every regular file under paths and returns it as an upload
// whose declared type is sniffed from its content. Files are not filtered
// here; non-images are dropped by registry admission.
func Collect(paths []string, opts Options, logger *logrus.Logger) ([]model.Upload, error) {
	var uploads []model.Upload

	add := func(path string) error {
		if opts.MaxFiles > 0 && len(uploads) >= opts.MaxFiles {
			return filepath.SkipAll
		}
		up, err := readUpload(path, opts.MaxFileBytes)
		if err != nil {
			logger.Warnf("Skipping %s: %v", path, err)
			return nil
		}
		uploads = append(uploads, up)
		return nil
	}

	for _, in := range paths {
		info, err := os.Stat(in)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", in, err)
		}

		if !info.IsDir() {
			if err := add(in); err == filepath.SkipAll {
				break
			}
			continue
		}

		err = filepath.WalkDir(in, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logger.Warnf("Error accessing path %s: %v", path, err)
				return nil
			}
			if d.IsDir() {
				if path != in && !opts.Recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			return add(path)
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", in, err)
		}
		if opts.MaxFiles > 0 && len(uploads) >= opts.MaxFiles {
			logger.Infof("Reached maximum files limit (%d), stopping discovery", opts.MaxFiles)
			break
		}
	}

	return uploads, nil
}

func readUpload(path string, maxBytes int64) (model.Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.Upload{}, err
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return model.Upload{}, fmt.Errorf("file too large (%d bytes)", info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return model.Upload{}, err
	}

	return model.Upload{
		Name: filepath.Base(path),
		Type: mimetype.Detect(data).String(),
		Data: data,
	}, nil
}
