package registry

// EventType names a registry change.
type EventType string

const (
	EventAdded       EventType = "image_added"
	EventRemoved     EventType = "image_removed"
	EventCleared     EventType = "images_cleared"
	EventUpdated     EventType = "image_updated"
	EventProgress    EventType = "image_progress"
	EventSelected    EventType = "selection_changed"
	EventSettings    EventType = "settings_changed"
	EventCompressing EventType = "compressing_changed"
)

// Event describes one change. ID is empty for registry-wide events.
type Event struct {
	Type EventType `json:"type"`
	ID   string    `json:"id,omitempty"`
}

// Listener receives events after the change has been committed.
type Listener func(Event)

// Subscribe registers l and returns a function that removes it.
func (r *Registry) Subscribe(l Listener) func() {
	r.listenersMu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = l
	r.listenersMu.Unlock()

	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

// notify is called without r.mu held so listeners may read the registry.
func (r *Registry) notify(ev Event) {
	r.listenersMu.RLock()
	ls := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		ls = append(ls, l)
	}
	r.listenersMu.RUnlock()

	for _, l := range ls {
		l(ev)
	}
}
