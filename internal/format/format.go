package format

import (
	"fmt"
	"regexp"
	"strings"
)

// Format is a concrete codec target. Only the constants below are valid.
type Format int

const (
	// Unknown means no concrete format could be detected.
	Unknown Format = iota
	JPEG
	PNG
	WebP
)

// Output is the user's format selection. It extends Format with Original.
type Output string

const (
	OutputOriginal Output = "original"
	OutputJPEG     Output = "jpeg"
	OutputPNG      Output = "png"
	OutputWebP     Output = "webp"
)

// CompressedSuffix is appended to the base name of every output file.
const CompressedSuffix = "-compressed"

// DefaultFormat is used when "original" cannot be resolved.
const DefaultFormat = JPEG

var extensionPattern = regexp.MustCompile(`\.[^/.]+$`)

// String returns the lower-case name of the format.
func (f Format) String() string {
	switch f {
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	case WebP:
		return "webp"
	default:
		return "unknown"
	}
}

// IsConcrete reports whether f is one of JPEG, PNG or WebP.
func (f Format) IsConcrete() bool {
	return f == JPEG || f == PNG || f == WebP
}

// MIMEType returns the content type for the format.
// Unknown resolves to the default format first.
func (f Format) MIMEType() string {
	switch f.orDefault() {
	case PNG:
		return "image/png"
	case WebP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Extension returns the file extension without the leading dot.
func (f Format) Extension() string {
	switch f.orDefault() {
	case PNG:
		return "png"
	case WebP:
		return "webp"
	default:
		return "jpg"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "jpeg", "jpg":
		*f = JPEG
	case "png":
		*f = PNG
	case "webp":
		*f = WebP
	case "unknown", "":
		*f = Unknown
	default:
		return fmt.Errorf("invalid format: %q", text)
	}
	return nil
}

func (f Format) orDefault() Format {
	if f.IsConcrete() {
		return f
	}
	return DefaultFormat
}

// Format converts a concrete output selection into a Format.
// OutputOriginal yields Unknown.
func (o Output) Format() Format {
	switch o {
	case OutputJPEG:
		return JPEG
	case OutputPNG:
		return PNG
	case OutputWebP:
		return WebP
	default:
		return Unknown
	}
}

// ParseOutput parses a user supplied format selection.
func ParseOutput(s string) (Output, error) {
	switch o := Output(strings.ToLower(strings.TrimSpace(s))); o {
	case OutputOriginal, OutputJPEG, OutputPNG, OutputWebP:
		return o, nil
	case "jpg":
		return OutputJPEG, nil
	default:
		return "", fmt.Errorf("invalid format: %q (valid: original, jpeg, png, webp)", s)
	}
}

// Resolve maps a selection and the detected input format to a concrete target.
func Resolve(selected Output, detected Format) Format {
	if selected == OutputOriginal {
		if detected.IsConcrete() {
			return detected
		}
		return DefaultFormat
	}
	if f := selected.Format(); f.IsConcrete() {
		return f
	}
	return DefaultFormat
}

// FromMIMEType maps a declared content type to a format, defaulting to JPEG.
func FromMIMEType(mimeType string) Format {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "image/jpeg", "image/jpg":
		return JPEG
	case "image/png":
		return PNG
	case "image/webp":
		return WebP
	default:
		return DefaultFormat
	}
}

// IsImageMIMEType reports whether a declared content type denotes an image.
func IsImageMIMEType(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

// OutputFilename builds the download name for a compressed image.
// Only the last extension of name is stripped.
func OutputFilename(name string, selected Output, detected Format) string {
	base := extensionPattern.ReplaceAllString(name, "")
	return base + CompressedSuffix + "." + Resolve(selected, detected).Extension()
}
