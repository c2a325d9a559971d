package extractor

import (
	"photo-compressor-go/internal/model"
)

// MetadataExtractor reads descriptive metadata from an image payload.
type MetadataExtractor interface {
	Extract(data []byte) (*model.Metadata, error)
	Supports(mimeType string) bool
}

// CacheStats describes memoised extraction results.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// HitRate is the share of lookups answered from memory.
func (s CacheStats) HitRate() float64 {
	if total := s.Hits + s.Misses; total > 0 {
		return float64(s.Hits) / float64(total)
	}
	return 0
}
