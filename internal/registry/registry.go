package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"photo-compressor-go/internal/extractor"
	"photo-compressor-go/internal/format"
	"photo-compressor-go/internal/handle"
	"photo-compressor-go/internal/model"
)

var (
	// ErrNotFound is returned when an id does not reference an entry.
	ErrNotFound = errors.New("image not found")
	// ErrInvalidState is returned for a transition the state machine forbids.
	ErrInvalidState = errors.New("invalid state transition")
)

// Registry is the single source of truth for a session's images and settings.
// All mutations go through its methods; readers receive copies.
type Registry struct {
	mu          sync.RWMutex
	entries     []*model.Entry
	index       map[string]*model.Entry
	selectedID  string
	settings    model.Settings
	compressing bool

	handles   *handle.Manager
	extractor extractor.MetadataExtractor
	logger    *logrus.Logger
	now       func() time.Time

	listenersMu  sync.RWMutex
	listeners    map[int]Listener
	nextListener int
}

// Option configures a Registry.
type Option func(*Registry)

// WithExtractor enables EXIF extraction at admission.
func WithExtractor(e extractor.MetadataExtractor) Option {
	return func(r *Registry) {
		r.extractor = e
	}
}

// WithSettings sets the initial compression settings.
func WithSettings(s model.Settings) Option {
	return func(r *Registry) {
		r.settings = s
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New returns an empty Registry whose handles are owned by handles.
func New(handles *handle.Manager, logger *logrus.Logger, opts ...Option) *Registry {
	r := &Registry{
		index:     make(map[string]*model.Entry),
		settings:  model.DefaultSettings(),
		handles:   handles,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Admit creates a pending entry for every upload whose declared type is an
// image. Other uploads are dropped silently. It returns the new ids in order.
func (r *Registry) Admit(uploads []model.Upload) []string {
	added := make([]*model.Entry, 0, len(uploads))
	for _, up := range uploads {
		if !format.IsImageMIMEType(up.Type) {
			r.logger.WithFields(logrus.Fields{
				"name": up.Name,
				"type": up.Type,
			}).Debug("Skipping non-image upload")
			continue
		}

		entry := &model.Entry{
			ID:             uuid.NewString(),
			Name:           up.Name,
			Data:           up.Data,
			OriginalSize:   int64(len(up.Data)),
			OriginalFormat: format.FromMIMEType(up.Type),
			Status:         model.StatusPending,
			AddedAt:        r.now(),
		}
		entry.OriginalURL = r.handles.Acquire(up.Data, up.Type).URL

		if r.extractor != nil && r.extractor.Supports(up.Type) {
			if md, err := r.extractor.Extract(up.Data); err == nil {
				entry.Metadata = md
			} else {
				r.logger.Debugf("No metadata for %s: %v", up.Name, err)
			}
		}
		added = append(added, entry)
	}

	if len(added) == 0 {
		return nil
	}

	ids := make([]string, len(added))
	r.mu.Lock()
	for i, entry := range added {
		r.entries = append(r.entries, entry)
		r.index[entry.ID] = entry
		ids[i] = entry.ID
	}
	if r.selectedID == "" {
		r.selectedID = added[0].ID
	}
	r.mu.Unlock()

	r.logger.Infof("Admitted %d image(s)", len(added))
	for _, id := range ids {
		r.notify(Event{Type: EventAdded, ID: id})
	}
	return ids
}

// Remove deletes an entry and releases its handles. It returns false if the
// id is unknown.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	entry, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		return false
	}

	r.releaseHandles(entry)
	delete(r.index, id)
	for i, e := range r.entries {
		if e.ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	if r.selectedID == id {
		r.selectedID = ""
		if len(r.entries) > 0 {
			r.selectedID = r.entries[0].ID
		}
	}
	r.mu.Unlock()

	r.notify(Event{Type: EventRemoved, ID: id})
	return true
}

// Clear releases every entry's handles, then empties the registry.
// It returns the number of removed entries.
func (r *Registry) Clear() int {
	r.mu.Lock()
	n := len(r.entries)
	for _, entry := range r.entries {
		r.releaseHandles(entry)
	}
	r.entries = nil
	r.index = make(map[string]*model.Entry)
	r.selectedID = ""
	r.mu.Unlock()

	r.notify(Event{Type: EventCleared})
	return n
}

// Select marks id as the selected entry. An empty id clears the selection.
func (r *Registry) Select(id string) error {
	r.mu.Lock()
	if id != "" {
		if _, ok := r.index[id]; !ok {
			r.mu.Unlock()
			return fmt.Errorf("select %s: %w", id, ErrNotFound)
		}
	}
	r.selectedID = id
	r.mu.Unlock()

	r.notify(Event{Type: EventSelected, ID: id})
	return nil
}

// SelectedID returns the selected id or "" when nothing is selected.
func (r *Registry) SelectedID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selectedID
}

// Selected returns a copy of the selected entry.
func (r *Registry) Selected() (model.Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.index[r.selectedID]; ok {
		return *entry, true
	}
	return model.Entry{}, false
}

// Get returns a copy of the entry with the given id.
func (r *Registry) Get(id string) (model.Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.index[id]; ok {
		return *entry, true
	}
	return model.Entry{}, false
}

// Entries returns copies of all entries in insertion order.
func (r *Registry) Entries() []model.Entry {
	return r.filter(func(*model.Entry) bool { return true })
}

// Pending returns copies of all pending entries in insertion order.
func (r *Registry) Pending() []model.Entry {
	return r.filter(func(e *model.Entry) bool { return e.Status == model.StatusPending })
}

// Completed returns copies of all done entries in insertion order.
func (r *Registry) Completed() []model.Entry {
	return r.filter(func(e *model.Entry) bool { return e.Status == model.StatusDone })
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Settings returns a snapshot of the current settings.
func (r *Registry) Settings() model.Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// UpdateSettings replaces the settings after validating them. Running jobs
// keep the snapshot they started with.
func (r *Registry) UpdateSettings(s model.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()

	r.notify(Event{Type: EventSettings})
	return nil
}

// IsCompressing reports whether a batch is running.
func (r *Registry) IsCompressing() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.compressing
}

// SetCompressing sets the batch running flag.
func (r *Registry) SetCompressing(v bool) {
	r.mu.Lock()
	r.compressing = v
	r.mu.Unlock()

	r.notify(Event{Type: EventCompressing})
}

// TryStartBatch sets the running flag if it is clear and reports whether it did.
func (r *Registry) TryStartBatch() bool {
	r.mu.Lock()
	if r.compressing {
		r.mu.Unlock()
		return false
	}
	r.compressing = true
	r.mu.Unlock()

	r.notify(Event{Type: EventCompressing})
	return true
}

func (r *Registry) filter(keep func(*model.Entry) bool) []model.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if keep(e) {
			out = append(out, *e)
		}
	}
	return out
}

// releaseHandles must be called with r.mu held.
func (r *Registry) releaseHandles(entry *model.Entry) {
	r.handles.Release(handle.Handle{URL: entry.OriginalURL})
	if entry.CompressedURL != "" {
		r.handles.Release(handle.Handle{URL: entry.CompressedURL})
	}
}
