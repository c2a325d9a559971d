package extractor

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"

	"photo-compressor-go/internal/model"
)

// ErrNoMetadata is returned when a payload carries no usable EXIF fields.
var ErrNoMetadata = errors.New("no EXIF metadata found")

// EXIFExtractor reads capture date, camera and orientation using goexif.
// Results are memoised by payload digest, so the same bytes admitted twice
// are decoded once.
type EXIFExtractor struct {
	logger *logrus.Logger

	mu     sync.Mutex
	seen   map[string]*model.Metadata // nil marks a payload without EXIF
	hits   int64
	misses int64
}

// NewEXIFExtractor returns a new EXIFExtractor.
func NewEXIFExtractor(logger *logrus.Logger) *EXIFExtractor {
	return &EXIFExtractor{
		logger: logger,
		seen:   make(map[string]*model.Metadata),
	}
}

// Supports reports whether the content type can carry EXIF.
func (e *EXIFExtractor) Supports(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg", "image/tiff", "image/heic", "image/heif":
		return true
	}
	return false
}

// Extract returns the EXIF summary of data.
func (e *EXIFExtractor) Extract(data []byte) (*model.Metadata, error) {
	key := digest(data)

	e.mu.Lock()
	md, ok := e.seen[key]
	if ok {
		e.hits++
	} else {
		e.misses++
	}
	e.mu.Unlock()

	if !ok {
		var err error
		md, err = e.decode(data)
		if err != nil {
			e.logger.Debugf("No EXIF summary: %v", err)
		}
		e.mu.Lock()
		e.seen[key] = md
		e.mu.Unlock()
	}

	if md == nil {
		return nil, ErrNoMetadata
	}
	out := *md
	return &out, nil
}

// Stats reports how often Extract was answered from memory.
func (e *EXIFExtractor) Stats() CacheStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return CacheStats{Hits: e.hits, Misses: e.misses, Entries: len(e.seen)}
}

// Forget drops every memoised result and resets the counters.
func (e *EXIFExtractor) Forget() {
	e.mu.Lock()
	e.seen = make(map[string]*model.Metadata)
	e.hits, e.misses = 0, 0
	e.mu.Unlock()
}

func (e *EXIFExtractor) decode(data []byte) (*model.Metadata, error) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoMetadata, err)
	}

	md := &model.Metadata{}
	found := false

	if tm, err := x.DateTime(); err == nil {
		md.TakenAt = &tm
		found = true
	} else if field, err := x.Get(exif.DateTimeOriginal); err == nil {
		if dateStr, err := field.StringVal(); err == nil {
			if date := e.parseDateTime(dateStr); date != nil {
				md.TakenAt = date
				found = true
			}
		}
	}

	if v := stringTag(x, exif.Make); v != "" {
		md.CameraMake = v
		found = true
	}
	if v := stringTag(x, exif.Model); v != "" {
		md.CameraModel = v
		found = true
	}
	if tag, err := x.Get(exif.Orientation); err == nil {
		if o, err := tag.Int(0); err == nil {
			md.Orientation = o
			found = true
		}
	}

	if !found {
		return nil, ErrNoMetadata
	}
	return md, nil
}

// parseDateTime accepts the EXIF layout and a few common variants.
func (e *EXIFExtractor) parseDateTime(dateStr string) *time.Time {
	if dateStr == "" {
		return nil
	}

	formats := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		"2006-01-02",
		time.RFC3339,
	}

	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return &date
		}
	}

	e.logger.Debugf("Failed to parse date string: %s", dateStr)
	return nil
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	v, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(v, "\x00"))
}

func digest(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
