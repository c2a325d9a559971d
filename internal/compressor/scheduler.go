package compressor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"photo-compressor-go/internal/format"
	"photo-compressor-go/internal/logger"
	"photo-compressor-go/internal/model"
	"photo-compressor-go/internal/registry"
	"photo-compressor-go/internal/statistics"
)

const (
	MinConcurrency = 2
	MaxConcurrency = 4
)

var (
	// ErrBatchRunning is returned when a batch is started while another runs.
	ErrBatchRunning = errors.New("compression already in progress")
	// ErrNotPending is returned by CompressOne for an entry that is not pending.
	ErrNotPending = errors.New("image is not pending")
)

// Scheduler runs compression jobs for pending registry entries with a
// bounded number of concurrent jobs.
type Scheduler struct {
	registry          *registry.Registry
	compressor        Compressor
	logger            *logrus.Logger
	concurrency       int
	legacyBatchFormat bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithConcurrency sets the maximum number of concurrent jobs.
// Values below 1 select DefaultConcurrency.
func WithConcurrency(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLegacyBatchFormat makes batches resolve "original" as if the input
// format were unknown, so every batch output defaults to JPEG.
func WithLegacyBatchFormat(v bool) SchedulerOption {
	return func(s *Scheduler) {
		s.legacyBatchFormat = v
	}
}

// NewScheduler returns a Scheduler working on reg.
func NewScheduler(reg *registry.Registry, c Compressor, logger *logrus.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		registry:    reg,
		compressor:  c,
		logger:      logger,
		concurrency: DefaultConcurrency(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultConcurrency derives the job bound from the number of CPUs.
func DefaultConcurrency() int {
	return ClampConcurrency(runtime.NumCPU())
}

// ClampConcurrency limits n to [MinConcurrency, MaxConcurrency].
func ClampConcurrency(n int) int {
	return min(max(n, MinConcurrency), MaxConcurrency)
}

// Concurrency returns the configured job bound.
func (s *Scheduler) Concurrency() int {
	return s.concurrency
}

// Run compresses every entry that is pending when it is called and returns
// once all started jobs have finished.
func (s *Scheduler) Run(ctx context.Context) (*statistics.Statistics, error) {
	done, err := s.Start(ctx)
	if err != nil {
		return nil, err
	}
	stats := <-done
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("batch interrupted: %w", err)
	}
	return stats, nil
}

// Start begins a batch in the background. The returned channel yields the
// batch statistics after the running flag has been cleared.
//
// Cancelling ctx stops new jobs from starting; entries not yet started stay
// pending. Jobs already running are not interrupted.
func (s *Scheduler) Start(ctx context.Context) (<-chan *statistics.Statistics, error) {
	if !s.registry.TryStartBatch() {
		return nil, ErrBatchRunning
	}

	queue := s.registry.Pending()
	done := make(chan *statistics.Statistics, 1)

	go func() {
		defer close(done)
		stats := s.run(ctx, queue, s.legacyBatchFormat)
		s.registry.SetCompressing(false)
		done <- stats
	}()

	return done, nil
}

// CompressOne compresses a single pending entry, honouring its detected
// format, and returns the entry's committed state.
func (s *Scheduler) CompressOne(ctx context.Context, id string) (model.Entry, error) {
	entry, ok := s.registry.Get(id)
	if !ok {
		return model.Entry{}, fmt.Errorf("compress %s: %w", id, registry.ErrNotFound)
	}
	if entry.Status != model.StatusPending {
		return entry, fmt.Errorf("compress %s (%s): %w", entry.Name, entry.Status, ErrNotPending)
	}
	if err := ctx.Err(); err != nil {
		return entry, fmt.Errorf("compress %s: %w", entry.Name, err)
	}
	if !s.registry.TryStartBatch() {
		return entry, ErrBatchRunning
	}

	s.run(ctx, []model.Entry{entry}, false)
	s.registry.SetCompressing(false)

	entry, ok = s.registry.Get(id)
	if !ok {
		return model.Entry{}, fmt.Errorf("compress %s: %w", id, registry.ErrNotFound)
	}
	// still pending only when ctx ended before the job started
	if entry.Status == model.StatusPending {
		if err := ctx.Err(); err != nil {
			return entry, fmt.Errorf("compress %s: %w", entry.Name, err)
		}
	}
	return entry, nil
}

func (s *Scheduler) run(ctx context.Context, queue []model.Entry, legacyFormat bool) *statistics.Statistics {
	stats := statistics.NewStatistics()
	stats.SetQueued(len(queue))

	if len(queue) == 0 {
		stats.Finalize()
		s.logger.Info("No pending images to compress")
		return stats
	}

	numWorkers := min(s.concurrency, len(queue))
	s.logger.WithFields(logrus.Fields{
		"operation": "batch",
		"queued":    len(queue),
		"workers":   numWorkers,
	}).Info("Starting compression batch")

	jobs := make(chan model.Entry, len(queue))
	for _, entry := range queue {
		jobs <- entry
	}
	close(jobs)

	// jobs already running finish even if ctx is cancelled
	jobCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for entry := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				s.process(jobCtx, entry, legacyFormat, stats)
			}
		}()
	}
	wg.Wait()

	stats.Finalize()
	s.logger.WithFields(logrus.Fields{
		"operation": "batch",
		"succeeded": stats.Succeeded(),
		"failed":    stats.Failed(),
		"duration":  stats.Duration.String(),
	}).Info("Compression batch completed")
	return stats
}

// process runs one job. Every failure is converted into an entry state.
func (s *Scheduler) process(ctx context.Context, entry model.Entry, legacyFormat bool, stats *statistics.Statistics) {
	log := logger.ForEntry(s.logger, entry.ID, entry.Name, "compress")

	if !s.registry.MarkCompressing(entry.ID) {
		log.Debug("Entry removed or no longer pending, skipping")
		stats.JobSkipped()
		return
	}
	stats.JobStarted()

	settings := s.registry.Settings()
	original := entry.OriginalFormat
	if legacyFormat {
		original = format.Unknown
	}

	res, err := s.compressor.Compress(ctx, Job{
		Name:           entry.Name,
		Data:           entry.Data,
		OriginalFormat: original,
	}, settings, func(percent int) {
		s.registry.SetProgress(entry.ID, percent)
	})
	if err != nil {
		if !s.registry.MarkFailed(entry.ID, err.Error()) {
			log.Debug("Entry removed before completion, discarding failure")
			stats.JobDiscarded()
			return
		}
		log.Warnf("Compression failed: %v", err)
		stats.JobFailed(entry.Name, "compress", err.Error())
		return
	}

	if !s.registry.MarkDone(entry.ID, res.Data, res.Format) {
		log.Debug("Entry removed before completion, discarding result")
		stats.JobDiscarded()
		return
	}
	stats.JobSucceeded(entry.OriginalSize, res.Size, res.Format.String())
	log.Debugf("Compressed %d -> %d bytes", entry.OriginalSize, res.Size)
}
