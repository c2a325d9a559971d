package compressor

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"photo-compressor-go/internal/codec"
	"photo-compressor-go/internal/format"
	"photo-compressor-go/internal/model"
)

// Runner is the default Compressor. It translates settings into codec
// options and wraps the codec's output.
type Runner struct {
	codec  codec.Codec
	logger *logrus.Logger
}

// NewRunner returns a Runner backed by c.
func NewRunner(c codec.Codec, logger *logrus.Logger) *Runner {
	return &Runner{codec: c, logger: logger}
}

// Compress implements Compressor.
func (r *Runner) Compress(ctx context.Context, job Job, settings model.Settings, onProgress ProgressFunc) (res *Result, err error) {
	target := format.Resolve(settings.Format, job.OriginalFormat)
	opts := BuildOptions(settings, target)
	progress := newProgressTracker(onProgress)

	log := r.logger.WithFields(logrus.Fields{
		"name":      job.Name,
		"operation": "compress",
		"target":    target.String(),
	})
	log.Debug("Invoking codec")

	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = fmt.Errorf("failed to compress %s: codec panic: %v", job.Name, p)
		}
	}()

	data, err := r.codec.Encode(ctx, job.Data, opts, progress.fraction)
	if err != nil {
		log.WithError(err).Debug("Codec failed")
		return nil, fmt.Errorf("failed to compress %s: %w", job.Name, err)
	}
	progress.complete()

	return &Result{
		Name:     format.OutputFilename(job.Name, settings.Format, job.OriginalFormat),
		Data:     data,
		Size:     int64(len(data)),
		Format:   target,
		MIMEType: target.MIMEType(),
	}, nil
}

// BuildOptions derives codec options from a settings snapshot.
func BuildOptions(settings model.Settings, target format.Format) codec.Options {
	return codec.Options{
		TargetMIMEType:         target.MIMEType(),
		MaxDimension:           settings.MaxDimension(),
		Quality:                float64(settings.Quality) / 100,
		KeepOriginalResolution: !settings.MaintainAspectRatio,
	}
}

// progressTracker forwards only non-decreasing values in [0,100].
type progressTracker struct {
	mu   sync.Mutex
	last int
	fn   ProgressFunc
}

func newProgressTracker(fn ProgressFunc) *progressTracker {
	return &progressTracker{last: -1, fn: fn}
}

func (p *progressTracker) fraction(f float64) {
	p.emit(int(math.Round(f * 100)))
}

func (p *progressTracker) emit(percent int) {
	percent = min(max(percent, 0), 100)

	p.mu.Lock()
	defer p.mu.Unlock()
	if percent <= p.last {
		return
	}
	p.last = percent
	if p.fn != nil {
		p.fn(percent)
	}
}

func (p *progressTracker) complete() {
	p.emit(100)
}
