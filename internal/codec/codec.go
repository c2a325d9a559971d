package codec

import (
	"context"
	"errors"
)

// ErrUnsupportedTarget is returned when the codec cannot produce the requested type.
var ErrUnsupportedTarget = errors.New("unsupported target format")

// Options is the configuration understood by a Codec.
type Options struct {
	TargetMIMEType         string
	MaxDimension           int     // cap for both width and height
	Quality                float64 // 0.1 to 1.0
	KeepOriginalResolution bool
}

// ProgressFunc receives the completed fraction of an encode, 0.0 to 1.0.
type ProgressFunc func(fraction float64)

// Codec turns an image payload into a compressed payload.
type Codec interface {
	Encode(ctx context.Context, data []byte, opts Options, onProgress ProgressFunc) ([]byte, error)
}

// Func adapts an ordinary function to the Codec interface.
type Func func(ctx context.Context, data []byte, opts Options, onProgress ProgressFunc) ([]byte, error)

// Encode calls f.
func (f Func) Encode(ctx context.Context, data []byte, opts Options, onProgress ProgressFunc) ([]byte, error) {
	return f(ctx, data, opts, onProgress)
}
