package archive

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

// ErrEmpty is returned when Bundle is called without items.
var ErrEmpty = errors.New("nothing to bundle")

// Item is one named payload to place in an archive.
type Item struct {
	Name string
	Data []byte
}

// Bundle packs items into a single zip archive. Duplicate names get a
// " (n)" suffix so no entry is overwritten.
func Bundle(items []Item) ([]byte, error) {
	if len(items) == 0 {
		return nil, ErrEmpty
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := newNameSet()
	modified := time.Now()

	for _, item := range items {
		name := names.unique(item.Name)
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   method(name),
			Modified: modified,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := w.Write(item.Data); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

// method stores already-compressed image formats and deflates the rest.
func method(name string) uint16 {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return zip.Store
	default:
		return zip.Deflate
	}
}

type nameSet map[string]struct{}

func newNameSet() nameSet {
	return make(nameSet)
}

// unique returns name, or "base (n).ext" if name was already used.
func (s nameSet) unique(name string) string {
	name = sanitize(name)
	if _, taken := s[strings.ToLower(name)]; !taken {
		s[strings.ToLower(name)] = struct{}{}
		return name
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, counter, ext)
		if _, taken := s[strings.ToLower(candidate)]; !taken {
			s[strings.ToLower(candidate)] = struct{}{}
			return candidate
		}
	}
}

// sanitize keeps only the base name so entries cannot escape the archive root.
func sanitize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." || name == "" {
		return "image"
	}
	return name
}
