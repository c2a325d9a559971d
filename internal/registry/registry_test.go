package registry

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"photo-compressor-go/internal/format"
	"photo-compressor-go/internal/handle"
	"photo-compressor-go/internal/model"
)

func newTestRegistry(t *testing.T) (*Registry, *handle.Manager) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	handles := handle.NewManager()
	return New(handles, log), handles
}

func uploads() []model.Upload {
	return []model.Upload{
		{Name: "a.jpg", Type: "image/jpeg", Data: []byte("aaaa")},
		{Name: "notes.txt", Type: "text/plain", Data: []byte("hello")},
		{Name: "b.png", Type: "image/png", Data: []byte("bb")},
		{Name: "c.webp", Type: "image/webp", Data: []byte("c")},
		{Name: "doc.pdf", Type: "application/pdf", Data: []byte("%PDF")},
		{Name: "d.heic", Type: "image/heic", Data: []byte("dddd")},
	}
}

func TestAdmit_FiltersNonImages(t *testing.T) {
	r, handles := newTestRegistry(t)

	ids := r.Admit(uploads())
	if len(ids) != 4 {
		t.Fatalf("admitted %d entries, want 4", len(ids))
	}
	if r.Len() != 4 {
		t.Errorf("Len() = %d, want 4", r.Len())
	}
	if handles.Live() != 4 {
		t.Errorf("live handles = %d, want 4", handles.Live())
	}

	want := []struct {
		name   string
		format format.Format
	}{
		{"a.jpg", format.JPEG},
		{"b.png", format.PNG},
		{"c.webp", format.WebP},
		{"d.heic", format.JPEG},
	}
	for i, e := range r.Entries() {
		if e.Name != want[i].name || e.OriginalFormat != want[i].format {
			t.Errorf("entry %d = %s/%s, want %s/%s", i, e.Name, e.OriginalFormat, want[i].name, want[i].format)
		}
		if e.Status != model.StatusPending || e.Progress != 0 {
			t.Errorf("entry %s: status %s progress %d", e.Name, e.Status, e.Progress)
		}
		if e.OriginalSize != int64(len(e.Data)) {
			t.Errorf("entry %s: size %d", e.Name, e.OriginalSize)
		}
		if !handles.IsLive(e.OriginalURL) {
			t.Errorf("entry %s: original handle not live", e.Name)
		}
	}

	if r.SelectedID() != ids[0] {
		t.Errorf("selected = %q, want first admitted %q", r.SelectedID(), ids[0])
	}
}

func TestAdmit_KeepsExistingSelection(t *testing.T) {
	r, _ := newTestRegistry(t)
	first := r.Admit(uploads()[:1])
	r.Admit(uploads()[2:3])
	if r.SelectedID() != first[0] {
		t.Errorf("selection moved to %q", r.SelectedID())
	}
}

func TestAdmit_NothingAccepted(t *testing.T) {
	r, _ := newTestRegistry(t)
	if ids := r.Admit([]model.Upload{{Name: "x.txt", Type: "text/plain"}}); ids != nil {
		t.Errorf("ids = %v, want nil", ids)
	}
	if r.SelectedID() != "" {
		t.Error("selection set without entries")
	}
}

func TestRemove_ReleasesOnlyOwnHandles(t *testing.T) {
	r, handles := newTestRegistry(t)
	ids := r.Admit(uploads())

	r.MarkCompressing(ids[0])
	r.MarkDone(ids[0], []byte("z"), format.JPEG)
	target, _ := r.Get(ids[0])
	others := r.Entries()[1:]

	if !r.Remove(ids[0]) {
		t.Fatal("Remove returned false")
	}
	if handles.IsLive(target.OriginalURL) || handles.IsLive(target.CompressedURL) {
		t.Error("removed entry still has live handles")
	}
	for _, e := range others {
		if !handles.IsLive(e.OriginalURL) {
			t.Errorf("entry %s lost its handle", e.Name)
		}
	}
	if handles.Live() != 3 {
		t.Errorf("live handles = %d, want 3", handles.Live())
	}

	if r.SelectedID() != ids[1] {
		t.Errorf("selected = %q, want %q", r.SelectedID(), ids[1])
	}
	if r.Remove(ids[0]) {
		t.Error("second Remove returned true")
	}
}

func TestRemove_LastEntryClearsSelection(t *testing.T) {
	r, _ := newTestRegistry(t)
	ids := r.Admit(uploads()[:1])
	r.Remove(ids[0])
	if r.SelectedID() != "" {
		t.Errorf("selected = %q, want empty", r.SelectedID())
	}
	if _, ok := r.Selected(); ok {
		t.Error("Selected() reported an entry")
	}
}

func TestClear(t *testing.T) {
	r, handles := newTestRegistry(t)
	ids := r.Admit(uploads())
	r.MarkCompressing(ids[1])
	r.MarkDone(ids[1], []byte("x"), format.PNG)

	if n := r.Clear(); n != 4 {
		t.Errorf("Clear() = %d, want 4", n)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after clear", r.Len())
	}
	if r.SelectedID() != "" {
		t.Error("selection survived clear")
	}
	if handles.Live() != 0 {
		t.Errorf("live handles = %d after clear", handles.Live())
	}
	acquired, released := handles.Counts()
	if acquired != released {
		t.Errorf("acquired %d, released %d", acquired, released)
	}
}

func TestSelect(t *testing.T) {
	r, _ := newTestRegistry(t)
	ids := r.Admit(uploads())

	if err := r.Select(ids[2]); err != nil {
		t.Fatal(err)
	}
	selected, ok := r.Selected()
	if !ok || selected.ID != ids[2] {
		t.Errorf("Selected() = %q, %v", selected.ID, ok)
	}

	if err := r.Select("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Select(missing) = %v, want ErrNotFound", err)
	}
	if r.SelectedID() != ids[2] {
		t.Error("failed select changed selection")
	}

	if err := r.Select(""); err != nil {
		t.Fatal(err)
	}
	if r.SelectedID() != "" {
		t.Error("empty select did not clear selection")
	}
}

func TestStatusInvariants(t *testing.T) {
	r, _ := newTestRegistry(t)
	ids := r.Admit(uploads())

	r.MarkCompressing(ids[0])
	r.SetProgress(ids[0], 40)
	r.MarkDone(ids[0], []byte("ok"), format.JPEG)

	r.MarkCompressing(ids[1])
	r.MarkFailed(ids[1], "failed to compress b.png: boom")

	r.MarkCompressing(ids[2])

	for _, e := range r.Entries() {
		hasData := e.CompressedData != nil && e.CompressedSize > 0
		hasErr := e.Error != ""
		switch e.Status {
		case model.StatusDone:
			if !hasData || hasErr || e.Progress != 100 {
				t.Errorf("%s: done with data=%v err=%v progress=%d", e.Name, hasData, hasErr, e.Progress)
			}
		case model.StatusError:
			if hasData || !hasErr {
				t.Errorf("%s: error with data=%v err=%v", e.Name, hasData, hasErr)
			}
		default:
			if hasData || hasErr {
				t.Errorf("%s: %s with data=%v err=%v", e.Name, e.Status, hasData, hasErr)
			}
		}
	}
}

func TestTransitions_Guarded(t *testing.T) {
	r, _ := newTestRegistry(t)
	ids := r.Admit(uploads()[:1])
	id := ids[0]

	if r.SetProgress(id, 10) {
		t.Error("progress accepted while pending")
	}
	if r.MarkDone(id, []byte("x"), format.JPEG) {
		t.Error("MarkDone accepted while pending")
	}
	if !r.MarkCompressing(id) {
		t.Fatal("MarkCompressing failed")
	}
	if r.MarkCompressing(id) {
		t.Error("MarkCompressing accepted twice")
	}

	r.SetProgress(id, 50)
	r.SetProgress(id, 30)
	r.SetProgress(id, 250)
	if e, _ := r.Get(id); e.Progress != 100 {
		t.Errorf("progress = %d, want 100 (clamped, monotonic)", e.Progress)
	}

	r.MarkFailed(id, "")
	if e, _ := r.Get(id); e.Status != model.StatusError || e.Error == "" {
		t.Errorf("status %s error %q", e.Status, e.Error)
	}
	if r.MarkDone(id, []byte("x"), format.JPEG) {
		t.Error("MarkDone left error state")
	}
}

func TestTransitions_MissingEntryIsNoop(t *testing.T) {
	r, handles := newTestRegistry(t)
	ids := r.Admit(uploads()[:1])
	r.MarkCompressing(ids[0])
	r.Remove(ids[0])

	if r.SetProgress(ids[0], 50) || r.MarkDone(ids[0], []byte("x"), format.JPEG) || r.MarkFailed(ids[0], "x") {
		t.Error("update on removed entry reported success")
	}
	if handles.Live() != 0 {
		t.Errorf("live handles = %d, want 0", handles.Live())
	}
}

func TestRequeue_ReleasesCompressedHandle(t *testing.T) {
	r, handles := newTestRegistry(t)
	ids := r.Admit(uploads()[:1])
	id := ids[0]

	if err := r.Requeue(id); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Requeue(pending) = %v, want ErrInvalidState", err)
	}

	for run := 0; run < 3; run++ {
		r.MarkCompressing(id)
		r.MarkDone(id, []byte("out"), format.JPEG)
		if handles.Live() != 2 {
			t.Fatalf("run %d: live handles = %d, want 2", run, handles.Live())
		}
		if err := r.Requeue(id); err != nil {
			t.Fatal(err)
		}
		if handles.Live() != 1 {
			t.Fatalf("run %d: live handles after requeue = %d, want 1", run, handles.Live())
		}
	}

	e, _ := r.Get(id)
	if e.Status != model.StatusPending || e.CompressedURL != "" || e.CompressedData != nil {
		t.Errorf("requeued entry not reset: %+v", e)
	}

	if err := r.Requeue("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Requeue(missing) = %v, want ErrNotFound", err)
	}
}

func TestSettings(t *testing.T) {
	r, _ := newTestRegistry(t)
	if r.Settings() != model.DefaultSettings() {
		t.Errorf("initial settings = %+v", r.Settings())
	}

	s := r.Settings()
	s.Quality = 55
	s.Format = format.OutputWebP
	if err := r.UpdateSettings(s); err != nil {
		t.Fatal(err)
	}
	if got := r.Settings(); got.Quality != 55 || got.Format != format.OutputWebP {
		t.Errorf("settings = %+v", got)
	}

	s.Quality = 5
	if err := r.UpdateSettings(s); !errors.Is(err, model.ErrInvalidSettings) {
		t.Errorf("UpdateSettings(invalid) = %v", err)
	}
	if r.Settings().Quality != 55 {
		t.Error("invalid settings were applied")
	}
}

func TestTryStartBatch(t *testing.T) {
	r, _ := newTestRegistry(t)
	if !r.TryStartBatch() {
		t.Fatal("first TryStartBatch failed")
	}
	if r.TryStartBatch() {
		t.Error("second TryStartBatch succeeded")
	}
	r.SetCompressing(false)
	if r.IsCompressing() {
		t.Error("flag not cleared")
	}
}

func TestSubscribe(t *testing.T) {
	r, _ := newTestRegistry(t)

	var mu sync.Mutex
	var events []Event
	unsubscribe := r.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		// listeners may read the registry
		r.Len()
	})

	ids := r.Admit(uploads()[:1])
	r.Select("")
	r.Remove(ids[0])
	unsubscribe()
	r.Clear()

	mu.Lock()
	defer mu.Unlock()
	want := []EventType{EventAdded, EventSelected, EventRemoved}
	if len(events) != len(want) {
		t.Fatalf("got %d events (%v), want %d", len(events), events, len(want))
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("event %d = %s, want %s", i, ev.Type, want[i])
		}
	}
}
