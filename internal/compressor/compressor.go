package compressor

import (
	"context"

	"photo-compressor-go/internal/format"
	"photo-compressor-go/internal/model"
)

// Job is the input of a single compression.
type Job struct {
	Name           string
	Data           []byte
	OriginalFormat format.Format
}

// Result is a compressed payload ready to be attached to an entry.
type Result struct {
	Name     string // output file name
	Data     []byte
	Size     int64
	Format   format.Format
	MIMEType string
}

// ProgressFunc receives integer progress values between 0 and 100.
type ProgressFunc func(percent int)

// Compressor compresses one image with a settings snapshot.
type Compressor interface {
	// Compress returns the compressed payload or an error naming the input.
	// Progress values never decrease and end with 100 on success.
	Compress(ctx context.Context, job Job, settings model.Settings, onProgress ProgressFunc) (*Result, error)
}
