package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"photo-compressor-go/internal/codec"
	"photo-compressor-go/internal/compressor"
	"photo-compressor-go/internal/config"
	"photo-compressor-go/internal/handle"
	"photo-compressor-go/internal/logger"
	"photo-compressor-go/internal/model"
	"photo-compressor-go/internal/registry"
)

type testSession struct {
	server   *Server
	registry *registry.Registry
	handles  *handle.Manager
}

var halfCodec = codec.Func(func(ctx context.Context, data []byte, opts codec.Options, onProgress codec.ProgressFunc) ([]byte, error) {
	onProgress(0.5)
	return data[:len(data)/2], nil
})

func newTestSession(t *testing.T, c codec.Codec) *testSession {
	t.Helper()
	log := logger.Discard()
	handles := handle.NewManager()
	reg := registry.New(handles, log)
	sched := compressor.NewScheduler(reg, compressor.NewRunner(c, log), log, compressor.WithConcurrency(2))
	srv := NewServer(config.DefaultConfig(), log, reg, sched, handles)
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return &testSession{server: srv, registry: reg, handles: handles}
}

func (ts *testSession) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testSession) admit(names ...string) []string {
	ups := make([]model.Upload, len(names))
	for i, n := range names {
		ups[i] = model.Upload{Name: n, Type: "image/jpeg", Data: []byte("payload-" + n)}
	}
	return ts.registry.Admit(ups)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return resp
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUpload_AdmitsOnlyImages(t *testing.T) {
	ts := newTestSession(t, halfCodec)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct{ name, typ, data string }{
		{"a.png", "image/png", "png-bytes"},
		{"notes.txt", "text/plain", "hello"},
	} {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+part.name+`"`)
		h.Set("Content-Type", part.typ)
		w, _ := mw.CreatePart(h)
		w.Write([]byte(part.data))
	}
	mw.Close()

	rec := ts.do(t, "POST", "/api/images", &body, mw.FormDataContentType())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if ts.registry.Len() != 1 {
		t.Fatalf("registry has %d entries, want 1", ts.registry.Len())
	}

	rec = ts.do(t, "GET", "/api/images", nil, "")
	var list struct {
		Data ImageListResponse `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Data.Images) != 1 || list.Data.Images[0].Name != "a.png" {
		t.Errorf("images = %+v", list.Data.Images)
	}
	if list.Data.SelectedID != list.Data.Images[0].ID || list.Data.Pending != 1 {
		t.Errorf("list = %+v", list.Data)
	}
}

func TestUpload_RemovesSpooledParts(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	ts := newTestSession(t, halfCodec)
	ts.server.uploadMemory = 1 // spool every part to disk

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="files"; filename="big.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	w, _ := mw.CreatePart(h)
	w.Write(bytes.Repeat([]byte("j"), 64<<10))
	mw.Close()

	rec := ts.do(t, "POST", "/api/images", &body, mw.FormDataContentType())
	if rec.Code != http.StatusOK || ts.registry.Len() != 1 {
		t.Fatalf("status = %d, entries = %d", rec.Code, ts.registry.Len())
	}

	left, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("temp files left after upload: %v", left)
	}
}

func TestSettings(t *testing.T) {
	ts := newTestSession(t, halfCodec)

	rec := ts.do(t, "PUT", "/api/settings", strings.NewReader(`{"format":"JPG","quality":60}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	s := ts.registry.Settings()
	if s.Format != "jpeg" || s.Quality != 60 || s.MaxWidth != model.DefaultDimension {
		t.Errorf("settings = %+v", s)
	}

	tests := []string{
		`{"quality":5}`,
		`{"format":"gif"}`,
		`{"max_width":0}`,
		`not json`,
	}
	for _, body := range tests {
		rec := ts.do(t, "PUT", "/api/settings", strings.NewReader(body), "application/json")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rec.Code)
		}
	}
	if got := ts.registry.Settings(); got != s {
		t.Errorf("rejected update changed settings: %+v", got)
	}
}

func TestCompressAndDownload(t *testing.T) {
	ts := newTestSession(t, halfCodec)

	rec := ts.do(t, "GET", "/api/download", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("empty download status = %d, want 404", rec.Code)
	}

	ts.admit("a.jpg", "b.jpg")
	rec = ts.do(t, "POST", "/api/compress", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("compress status = %d: %s", rec.Code, rec.Body)
	}

	waitFor(t, func() bool {
		return decode(t, ts.do(t, "GET", "/api/statistics", nil, "")).Data != nil
	})
	if n := len(ts.registry.Completed()); n != 2 {
		t.Fatalf("completed = %d, want 2", n)
	}

	rec = ts.do(t, "GET", "/api/download", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "compressed-images.zip") {
		t.Errorf("Content-Disposition = %s", cd)
	}

	id := ts.registry.Completed()[0].ID
	rec = ts.do(t, "GET", "/api/images/"+id+"/download", nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "payloa" {
		t.Errorf("single download = %d %q", rec.Code, rec.Body)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "a-compressed.jpg") {
		t.Errorf("Content-Disposition = %s", cd)
	}
}

func TestCompress_AlreadyRunning(t *testing.T) {
	release := make(chan struct{})
	blocking := codec.Func(func(ctx context.Context, data []byte, opts codec.Options, onProgress codec.ProgressFunc) ([]byte, error) {
		<-release
		return data, nil
	})
	ts := newTestSession(t, blocking)
	ts.admit("a.jpg")

	if rec := ts.do(t, "POST", "/api/compress", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("first compress = %d", rec.Code)
	}
	if rec := ts.do(t, "POST", "/api/compress", nil, ""); rec.Code != http.StatusConflict {
		t.Errorf("second compress = %d, want 409", rec.Code)
	}
	close(release)

	waitFor(t, func() bool {
		return decode(t, ts.do(t, "GET", "/api/statistics", nil, "")).Data != nil
	})
	if rec := ts.do(t, "POST", "/api/stop", nil, ""); rec.Code != http.StatusConflict {
		t.Errorf("stop without batch = %d, want 409", rec.Code)
	}
}

func TestBlobAndRemove(t *testing.T) {
	ts := newTestSession(t, halfCodec)
	id := ts.admit("a.jpg")[0]
	entry, _ := ts.registry.Get(id)
	path := "/blob/" + strings.TrimPrefix(entry.OriginalURL, handle.URLPrefix)

	rec := ts.do(t, "GET", path, nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "payload-a.jpg" || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Errorf("blob = %d %q %s", rec.Code, rec.Body, rec.Header().Get("Content-Type"))
	}

	if rec := ts.do(t, "DELETE", "/api/images/"+id, nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("remove = %d", rec.Code)
	}
	if rec := ts.do(t, "GET", path, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("released blob = %d, want 404", rec.Code)
	}
	if rec := ts.do(t, "DELETE", "/api/images/"+id, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second remove = %d, want 404", rec.Code)
	}
}

func TestSelectionAndRequeue(t *testing.T) {
	ts := newTestSession(t, halfCodec)
	ids := ts.admit("a.jpg", "b.jpg")

	rec := ts.do(t, "PUT", "/api/selection", strings.NewReader(`{"id":"`+ids[1]+`"}`), "application/json")
	if rec.Code != http.StatusOK || ts.registry.SelectedID() != ids[1] {
		t.Errorf("select = %d, selected %s", rec.Code, ts.registry.SelectedID())
	}
	rec = ts.do(t, "PUT", "/api/selection", strings.NewReader(`{"id":"missing"}`), "application/json")
	if rec.Code != http.StatusNotFound {
		t.Errorf("select missing = %d, want 404", rec.Code)
	}

	if rec := ts.do(t, "POST", "/api/images/"+ids[0]+"/requeue", nil, ""); rec.Code != http.StatusConflict {
		t.Errorf("requeue pending = %d, want 409", rec.Code)
	}

	rec = ts.do(t, "POST", "/api/images/"+ids[0]+"/compress", nil, "")
	if rec.Code != http.StatusOK || !decode(t, rec).Success {
		t.Fatalf("compress one = %d: %s", rec.Code, rec.Body)
	}
	if rec := ts.do(t, "POST", "/api/images/"+ids[0]+"/compress", nil, ""); rec.Code != http.StatusConflict {
		t.Errorf("compress done entry = %d, want 409", rec.Code)
	}

	if rec := ts.do(t, "POST", "/api/images/"+ids[0]+"/requeue", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("requeue done = %d", rec.Code)
	}
	if e, _ := ts.registry.Get(ids[0]); e.Status != model.StatusPending || e.HasCompressed() {
		t.Errorf("requeued entry = %s compressed=%v", e.Status, e.HasCompressed())
	}
}

func TestCompressOne(t *testing.T) {
	ts := newTestSession(t, halfCodec)
	ids := ts.admit("a.jpg", "b.jpg")

	rec := ts.do(t, "POST", "/api/images/"+ids[0]+"/compress", nil, "")
	if rec.Code != http.StatusOK || !decode(t, rec).Success {
		t.Fatalf("compress one = %d: %s", rec.Code, rec.Body)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("POST", "/api/images/"+ids[1]+"/compress", nil).WithContext(ctx)
	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("cancelled compress = %d, want 503", rec.Code)
	}
	if resp := decode(t, rec); resp.Success || resp.Error == "" {
		t.Errorf("cancelled compress response = %+v", resp)
	}
	if e, _ := ts.registry.Get(ids[1]); e.Status != model.StatusPending {
		t.Errorf("status = %s, want pending", e.Status)
	}
}

func TestWebSocket_BroadcastsEvents(t *testing.T) {
	ts := newTestSession(t, halfCodec)
	httpSrv := httptest.NewServer(ts.server.Handler())
	defer httpSrv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpSrv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	waitFor(t, func() bool {
		ts.server.wsMutex.Lock()
		defer ts.server.wsMutex.Unlock()
		return len(ts.server.wsClients) == 1
	})

	ts.admit("a.jpg")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != string(registry.EventAdded) {
			continue
		}
		var entry model.Entry
		json.Unmarshal(msg.Data, &entry)
		if entry.Name != "a.jpg" || entry.Status != model.StatusPending {
			t.Errorf("broadcast entry = %+v", entry)
		}
		return
	}
}

func TestWebSocket_StalledClientDoesNotBlockRegistry(t *testing.T) {
	ts := newTestSession(t, halfCodec)
	httpSrv := httptest.NewServer(ts.server.Handler())
	defer httpSrv.Close()

	// connected but never reads
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpSrv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	waitFor(t, func() bool {
		ts.server.wsMutex.Lock()
		defer ts.server.wsMutex.Unlock()
		return len(ts.server.wsClients) == 1
	})

	longName := strings.Repeat("x", 16<<10) + ".jpg"
	const admits = 600

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < admits; i++ {
			ts.admit(longName)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("registry blocked by a stalled client after %d admits", ts.registry.Len())
	}
	if ts.registry.Len() != admits {
		t.Errorf("registry has %d entries, want %d", ts.registry.Len(), admits)
	}
}

func TestBroadcast_DropsClientWithFullQueue(t *testing.T) {
	ts := newTestSession(t, halfCodec)

	slow := &wsClient{send: make(chan []byte, 1)}
	slow.send <- []byte("queued")
	ts.server.wsMutex.Lock()
	ts.server.wsClients[slow] = struct{}{}
	ts.server.wsMutex.Unlock()

	ts.server.broadcastWSMessage("notification", Notification{Title: "t"})

	ts.server.wsMutex.Lock()
	_, still := ts.server.wsClients[slow]
	ts.server.wsMutex.Unlock()
	if still {
		t.Fatal("client with a full queue was kept")
	}
	if msg := <-slow.send; string(msg) != "queued" {
		t.Errorf("queued message = %q", msg)
	}
	if _, ok := <-slow.send; ok {
		t.Error("send channel of a dropped client should be closed")
	}
}

func TestBatchNotification(t *testing.T) {
	failing := codec.Func(func(ctx context.Context, data []byte, opts codec.Options, onProgress codec.ProgressFunc) ([]byte, error) {
		if strings.Contains(string(data), "bad") {
			return nil, codec.ErrUnsupportedTarget
		}
		return data, nil
	})

	tests := []struct {
		names       []string
		description string
		variant     string
	}{
		{[]string{"a.jpg", "b.jpg", "c.jpg"}, "3 images processed successfully.", "success"},
		{[]string{"a.jpg", "bad.jpg"}, "2 images processed, 1 failed.", "default"},
	}

	for _, test := range tests {
		ts := newTestSession(t, failing)
		ts.admit(test.names...)

		stats, err := ts.server.scheduler.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		n := batchNotification(stats)
		if n.Title != "Compression complete!" || n.Description != test.description || n.Variant != test.variant {
			t.Errorf("notification = %+v", n)
		}
	}
}
