package registry

import (
	"fmt"

	"photo-compressor-go/internal/format"
	"photo-compressor-go/internal/handle"
	"photo-compressor-go/internal/model"
)

// Entry updates below are no-ops returning false when the id is gone: a job
// may finish after its entry was removed.

// MarkCompressing moves a pending entry to compressing with progress 0.
func (r *Registry) MarkCompressing(id string) bool {
	r.mu.Lock()
	entry, ok := r.index[id]
	if !ok || entry.Status != model.StatusPending {
		r.mu.Unlock()
		return false
	}
	entry.Status = model.StatusCompressing
	entry.Progress = 0
	entry.StartedAt = r.now()
	r.mu.Unlock()

	r.notify(Event{Type: EventUpdated, ID: id})
	return true
}

// SetProgress records job progress. Values are clamped to [0,100] and a
// value lower than the current one is ignored.
func (r *Registry) SetProgress(id string, progress int) bool {
	progress = min(max(progress, 0), 100)

	r.mu.Lock()
	entry, ok := r.index[id]
	if !ok || entry.Status != model.StatusCompressing || progress < entry.Progress {
		r.mu.Unlock()
		return false
	}
	changed := progress != entry.Progress
	entry.Progress = progress
	r.mu.Unlock()

	if changed {
		r.notify(Event{Type: EventProgress, ID: id})
	}
	return true
}

// MarkDone attaches the compressed payload and moves the entry to done.
// A stale compressed handle is released before the new one is acquired.
func (r *Registry) MarkDone(id string, data []byte, f format.Format) bool {
	if data == nil {
		data = []byte{}
	}

	r.mu.Lock()
	entry, ok := r.index[id]
	if !ok || entry.Status != model.StatusCompressing {
		r.mu.Unlock()
		return false
	}
	if entry.CompressedURL != "" {
		r.handles.Release(handle.Handle{URL: entry.CompressedURL})
		entry.CompressedURL = ""
	}
	entry.Status = model.StatusDone
	entry.Progress = 100
	entry.CompressedData = data
	entry.CompressedSize = int64(len(data))
	entry.CompressedFormat = f
	entry.CompressedURL = r.handles.Acquire(data, f.MIMEType()).URL
	entry.Error = ""
	entry.FinishedAt = r.now()
	r.mu.Unlock()

	r.notify(Event{Type: EventUpdated, ID: id})
	return true
}

// MarkFailed moves a compressing entry to error with msg.
func (r *Registry) MarkFailed(id, msg string) bool {
	if msg == "" {
		msg = "Compression failed"
	}

	r.mu.Lock()
	entry, ok := r.index[id]
	if !ok || entry.Status != model.StatusCompressing {
		r.mu.Unlock()
		return false
	}
	entry.Status = model.StatusError
	entry.Error = msg
	entry.FinishedAt = r.now()
	r.mu.Unlock()

	r.notify(Event{Type: EventUpdated, ID: id})
	return true
}

// Requeue returns a done or failed entry to pending so the next batch picks
// it up again. Its compressed handle is released.
func (r *Registry) Requeue(id string) error {
	r.mu.Lock()
	entry, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("requeue %s: %w", id, ErrNotFound)
	}
	if !entry.Status.IsTerminal() {
		r.mu.Unlock()
		return fmt.Errorf("requeue %s from %s: %w", id, entry.Status, ErrInvalidState)
	}
	if entry.CompressedURL != "" {
		r.handles.Release(handle.Handle{URL: entry.CompressedURL})
	}
	entry.Status = model.StatusPending
	entry.Progress = 0
	entry.CompressedData = nil
	entry.CompressedSize = 0
	entry.CompressedFormat = format.Unknown
	entry.CompressedURL = ""
	entry.Error = ""
	r.mu.Unlock()

	r.notify(Event{Type: EventUpdated, ID: id})
	return nil
}
