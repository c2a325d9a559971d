package model

import (
	"errors"
	"fmt"

	"photo-compressor-go/internal/format"
)

const (
	MinQuality       = 10
	MaxQuality       = 100
	DefaultQuality   = 80
	DefaultDimension = 4096
)

// ErrInvalidSettings is returned for out-of-range compression settings.
var ErrInvalidSettings = errors.New("invalid compression settings")

// Settings apply to every compression started after they are set.
type Settings struct {
	Format              format.Output `json:"format"`
	Quality             int           `json:"quality"`
	MaxWidth            int           `json:"max_width"`
	MaxHeight           int           `json:"max_height"`
	MaintainAspectRatio bool          `json:"maintain_aspect_ratio"`
}

// DefaultSettings returns the settings a new session starts with.
func DefaultSettings() Settings {
	return Settings{
		Format:              format.OutputOriginal,
		Quality:             DefaultQuality,
		MaxWidth:            DefaultDimension,
		MaxHeight:           DefaultDimension,
		MaintainAspectRatio: true,
	}
}

// Validate checks every field against its allowed range.
func (s Settings) Validate() error {
	if _, err := format.ParseOutput(string(s.Format)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if s.Quality < MinQuality || s.Quality > MaxQuality {
		return fmt.Errorf("%w: quality %d out of range [%d,%d]", ErrInvalidSettings, s.Quality, MinQuality, MaxQuality)
	}
	if s.MaxWidth <= 0 || s.MaxHeight <= 0 {
		return fmt.Errorf("%w: max dimensions must be positive, got %dx%d", ErrInvalidSettings, s.MaxWidth, s.MaxHeight)
	}
	return nil
}

// MaxDimension returns the larger of MaxWidth and MaxHeight.
func (s Settings) MaxDimension() int {
	return max(s.MaxWidth, s.MaxHeight)
}
