package statistics

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains the counters of one compression batch.
type Statistics struct {
	TotalQueued     int64
	TotalStarted    int64
	TotalSucceeded  int64
	TotalFailed     int64
	TotalSkipped    int64
	BytesOriginal   int64
	BytesCompressed int64
	PeakConcurrency int64
	inFlight        int64

	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
	ImagesPerSecond float64

	Errors []StatError

	FormatStats map[string]int64

	mutex sync.RWMutex
}

// StatError represents a job failure recorded during a batch.
type StatError struct {
	Name      string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		FormatStats: make(map[string]int64),
		Errors:      make([]StatError, 0),
	}
}

// SetQueued records the batch size.
func (s *Statistics) SetQueued(n int) {
	atomic.StoreInt64(&s.TotalQueued, int64(n))
}

// JobStarted counts a started job and tracks the concurrency high-water mark.
func (s *Statistics) JobStarted() {
	atomic.AddInt64(&s.TotalStarted, 1)
	n := atomic.AddInt64(&s.inFlight, 1)
	for {
		peak := atomic.LoadInt64(&s.PeakConcurrency)
		if n <= peak || atomic.CompareAndSwapInt64(&s.PeakConcurrency, peak, n) {
			return
		}
	}
}

// JobSucceeded records a successful job.
func (s *Statistics) JobSucceeded(originalSize, compressedSize int64, format string) {
	atomic.AddInt64(&s.inFlight, -1)
	atomic.AddInt64(&s.TotalSucceeded, 1)
	atomic.AddInt64(&s.BytesOriginal, originalSize)
	atomic.AddInt64(&s.BytesCompressed, compressedSize)

	s.mutex.Lock()
	s.FormatStats[format]++
	s.mutex.Unlock()
}

// JobFailed records a failed job.
func (s *Statistics) JobFailed(name, operation, errorMsg string) {
	atomic.AddInt64(&s.inFlight, -1)
	atomic.AddInt64(&s.TotalFailed, 1)
	s.AddError(name, operation, errorMsg)
}

// JobSkipped records a queued entry that was not run because it was
// removed or is no longer pending.
func (s *Statistics) JobSkipped() {
	atomic.AddInt64(&s.TotalSkipped, 1)
}

// JobDiscarded records a started job whose entry was removed before its
// result could be committed.
func (s *Statistics) JobDiscarded() {
	atomic.AddInt64(&s.inFlight, -1)
	atomic.AddInt64(&s.TotalSkipped, 1)
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(name, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		Name:      name,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Finalize calculates duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	done := atomic.LoadInt64(&s.TotalSucceeded) + atomic.LoadInt64(&s.TotalFailed)
	if s.Duration.Seconds() > 0 {
		s.ImagesPerSecond = float64(done) / s.Duration.Seconds()
	}
}

// Succeeded returns the number of successful jobs.
func (s *Statistics) Succeeded() int64 {
	return atomic.LoadInt64(&s.TotalSucceeded)
}

// Failed returns the number of failed jobs.
func (s *Statistics) Failed() int64 {
	return atomic.LoadInt64(&s.TotalFailed)
}

// Peak returns the highest number of jobs observed running at once.
func (s *Statistics) Peak() int64 {
	return atomic.LoadInt64(&s.PeakConcurrency)
}

// BytesSaved returns original minus compressed bytes over successful jobs.
func (s *Statistics) BytesSaved() int64 {
	return atomic.LoadInt64(&s.BytesOriginal) - atomic.LoadInt64(&s.BytesCompressed)
}

// GetSummary returns a formatted summary of the batch.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	orig := atomic.LoadInt64(&s.BytesOriginal)
	comp := atomic.LoadInt64(&s.BytesCompressed)

	return fmt.Sprintf(`Compression Summary:

Images:
		Queued: %d
		Started: %d
		Succeeded: %d
		Failed: %d
		Skipped: %d

Size:
		Original: %s
		Compressed: %s
		Saved: %s (%d%%)

Performance:
		Duration: %v
		Images/Second: %.2f
		Peak Concurrency: %d`,
		atomic.LoadInt64(&s.TotalQueued),
		atomic.LoadInt64(&s.TotalStarted),
		atomic.LoadInt64(&s.TotalSucceeded),
		atomic.LoadInt64(&s.TotalFailed),
		atomic.LoadInt64(&s.TotalSkipped),
		FormatBytes(orig),
		FormatBytes(comp),
		FormatBytes(orig-comp),
		CompressionRatio(orig, comp),
		s.Duration,
		s.ImagesPerSecond,
		atomic.LoadInt64(&s.PeakConcurrency))
}

// GetErrorSummary returns a summary of failed jobs.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			fmt.Fprintf(&b, "  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		fmt.Fprintf(&b, "  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.Name,
			err.Error)
	}
	return b.String()
}

// FormatBytes returns a human-readable string for a byte count, e.g. "1.5 KB".
func FormatBytes(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}
	sign := ""
	if bytes < 0 {
		sign = "-"
		bytes = -bytes
	}

	const unit = 1024
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	i := 0
	v := float64(bytes)
	for v >= unit && i < len(sizes)-1 {
		v /= unit
		i++
	}

	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	return sign + s + " " + sizes[i]
}

// CompressionRatio returns the rounded percentage saved. It is negative when
// the compressed output is larger and 0 when original is 0.
func CompressionRatio(original, compressed int64) int {
	if original == 0 {
		return 0
	}
	return int(math.Round((1 - float64(compressed)/float64(original)) * 100))
}
