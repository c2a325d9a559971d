package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
	_ "golang.org/x/image/webp" // registers the WebP decoder
)

// webpMethod is libwebp's speed/size trade-off, 0 (fast) to 6 (small).
const webpMethod = 4

// ImagingCodec decodes, resizes and re-encodes images with disintegration/imaging.
// It accepts JPEG, PNG, GIF, BMP, TIFF and WebP input and produces JPEG, PNG
// or lossy WebP.
type ImagingCodec struct {
	Filter imaging.ResampleFilter
}

// NewImagingCodec returns an ImagingCodec using Lanczos resampling.
func NewImagingCodec() *ImagingCodec {
	return &ImagingCodec{Filter: imaging.Lanczos}
}

// Encode implements Codec.
func (c *ImagingCodec) Encode(ctx context.Context, data []byte, opts Options, onProgress ProgressFunc) ([]byte, error) {
	report := func(f float64) {
		if onProgress != nil {
			onProgress(f)
		}
	}

	encode, err := c.encoderFor(opts)
	if err != nil {
		return nil, err
	}
	report(0)

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode error: %w", err)
	}
	report(0.3)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img = c.fit(img, opts)
	report(0.6)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode error: %w", err)
	}
	report(1)

	return buf.Bytes(), nil
}

func (c *ImagingCodec) fit(img image.Image, opts Options) image.Image {
	if opts.KeepOriginalResolution || opts.MaxDimension <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= opts.MaxDimension && b.Dy() <= opts.MaxDimension {
		return img
	}
	return imaging.Fit(img, opts.MaxDimension, opts.MaxDimension, c.Filter)
}

type encodeFunc func(w io.Writer, img image.Image) error

func (c *ImagingCodec) encoderFor(opts Options) (encodeFunc, error) {
	q := min(max(int(opts.Quality*100+0.5), 1), 100)

	switch opts.TargetMIMEType {
	case "image/jpeg", "":
		return func(w io.Writer, img image.Image) error {
			return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(q))
		}, nil
	case "image/png":
		level := pngLevel(opts.Quality)
		return func(w io.Writer, img image.Image) error {
			return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(level))
		}, nil
	case "image/webp":
		return func(w io.Writer, img image.Image) error {
			return webp.Encode(w, img, webp.Options{Quality: q, Method: webpMethod})
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTarget, opts.TargetMIMEType)
	}
}

// pngLevel trades speed for size: lower quality settings compress harder.
func pngLevel(quality float64) png.CompressionLevel {
	switch {
	case quality >= 0.9:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}
