package model

import (
	"time"

	"photo-compressor-go/internal/format"
)

// Upload is a user-provided file offered for admission.
type Upload struct {
	Name string
	Type string // declared content type
	Data []byte
}

// Metadata is the EXIF summary read from an admitted image.
type Metadata struct {
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	CameraMake  string     `json:"camera_make,omitempty"`
	CameraModel string     `json:"camera_model,omitempty"`
	Orientation int        `json:"orientation,omitempty"`
}

// Entry is one admitted image and its processing state.
type Entry struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Data           []byte        `json:"-"`
	OriginalSize   int64         `json:"original_size"`
	OriginalFormat format.Format `json:"original_format"`
	OriginalURL    string        `json:"original_url"`
	Metadata       *Metadata     `json:"metadata,omitempty"`

	Status           Status        `json:"status"`
	Progress         int           `json:"progress"`
	CompressedSize   int64         `json:"compressed_size,omitempty"`
	CompressedData   []byte        `json:"-"`
	CompressedFormat format.Format `json:"compressed_format,omitempty"`
	CompressedURL    string        `json:"compressed_url,omitempty"`
	Error            string        `json:"error,omitempty"`

	AddedAt    time.Time `json:"added_at"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// HasCompressed reports whether compressed output is attached.
func (e *Entry) HasCompressed() bool {
	return e.CompressedData != nil
}

// OutputFilename returns the download name of the compressed output.
func (e *Entry) OutputFilename() string {
	target := format.OutputOriginal
	if e.CompressedFormat.IsConcrete() {
		target = format.Output(e.CompressedFormat.String())
	}
	return format.OutputFilename(e.Name, target, e.OriginalFormat)
}
