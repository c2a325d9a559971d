package export

import (
	"errors"
	"fmt"

	"photo-compressor-go/internal/archive"
	"photo-compressor-go/internal/model"
)

// DefaultArchiveName is the file name used when several images are bundled.
const DefaultArchiveName = "compressed-images.zip"

// ErrNothingToDownload is returned when no entry has compressed output.
var ErrNothingToDownload = errors.New("no compressed images to download")

// Download is a single file handed to the user.
type Download struct {
	Filename string
	MIMEType string
	Data     []byte
	Count    int // number of images inside
}

// Build prepares the download for the completed entries. One entry is
// returned as is; several are bundled into one zip archive.
func Build(entries []model.Entry, archiveName string) (*Download, error) {
	return build(entries, archiveName, false)
}

// BuildArchive is like Build but always returns a zip archive.
func BuildArchive(entries []model.Entry, archiveName string) (*Download, error) {
	return build(entries, archiveName, true)
}

func build(entries []model.Entry, archiveName string, alwaysBundle bool) (*Download, error) {
	completed := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Status == model.StatusDone && e.HasCompressed() {
			completed = append(completed, e)
		}
	}

	if len(completed) == 0 {
		return nil, ErrNothingToDownload
	}
	if len(completed) == 1 && !alwaysBundle {
		e := completed[0]
		return &Download{
			Filename: e.OutputFilename(),
			MIMEType: e.CompressedFormat.MIMEType(),
			Data:     e.CompressedData,
			Count:    1,
		}, nil
	}

	if archiveName == "" {
		archiveName = DefaultArchiveName
	}
	items := make([]archive.Item, len(completed))
	for i, e := range completed {
		items[i] = archive.Item{Name: e.OutputFilename(), Data: e.CompressedData}
	}
	data, err := archive.Bundle(items)
	if err != nil {
		return nil, fmt.Errorf("bundle %d images: %w", len(items), err)
	}

	return &Download{
		Filename: archiveName,
		MIMEType: "application/zip",
		Data:     data,
		Count:    len(items),
	}, nil
}

// Message returns the notification text shown after a download started.
func (d *Download) Message() string {
	if d.Count == 1 && d.MIMEType != "application/zip" {
		return "Image downloaded successfully."
	}
	return fmt.Sprintf("%d images downloaded as ZIP.", d.Count)
}
