package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/mux"

	"photo-compressor-go/internal/compressor"
	"photo-compressor-go/internal/export"
	"photo-compressor-go/internal/format"
	"photo-compressor-go/internal/handle"
	"photo-compressor-go/internal/logger"
	"photo-compressor-go/internal/model"
	"photo-compressor-go/internal/registry"
	"photo-compressor-go/internal/statistics"
)

type SelectionRequest struct {
	ID string `json:"id"`
}

type ImageListResponse struct {
	Images      []model.Entry `json:"images"`
	SelectedID  string        `json:"selected_id,omitempty"`
	Compressing bool          `json:"compressing"`
	Pending     int           `json:"pending"`
	Completed   int           `json:"completed"`
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.Entries()
	resp := ImageListResponse{
		Images:      entries,
		SelectedID:  s.registry.SelectedID(),
		Compressing: s.registry.IsCompressing(),
	}
	for _, e := range entries {
		switch e.Status {
		case model.StatusPending:
			resp.Pending++
		case model.StatusDone:
			resp.Completed++
		}
	}
	s.writeJSON(w, APIResponse{Success: true, Data: resp})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.registry.Get(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: entry})
}

// handleUpload admits every file of a multipart form. The declared part type
// is used when present, otherwise the content is sniffed.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(s.uploadMemory); err != nil {
		s.writeError(w, fmt.Sprintf("Invalid upload: %v", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	var uploads []model.Upload
	for _, files := range r.MultipartForm.File {
		for _, fh := range files {
			f, err := fh.Open()
			if err != nil {
				s.writeError(w, fmt.Sprintf("Failed to read %s", fh.Filename), http.StatusBadRequest)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				s.writeError(w, fmt.Sprintf("Failed to read %s", fh.Filename), http.StatusBadRequest)
				return
			}

			declared := fh.Header.Get("Content-Type")
			if declared == "" || declared == "application/octet-stream" {
				declared = mimetype.Detect(data).String()
			}
			uploads = append(uploads, model.Upload{Name: fh.Filename, Type: declared, Data: data})
		}
	}

	ids := s.registry.Admit(uploads)
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("%d image(s) added", len(ids)),
		Data:    map[string]interface{}{"ids": ids, "skipped": len(uploads) - len(ids)},
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	n := s.registry.Clear()
	s.writeJSON(w, APIResponse{Success: true, Message: fmt.Sprintf("%d image(s) removed", n)})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Remove(mux.Vars(r)["id"]) {
		s.writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Message: "Image removed"})
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Requeue(mux.Vars(r)["id"]); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Message: "Image queued again"})
}

func (s *Server) handleCompressOne(w http.ResponseWriter, r *http.Request) {
	entry, err := s.scheduler.CompressOne(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.writeJSON(w, APIResponse{Success: entry.Status == model.StatusDone, Data: entry, Error: entry.Error})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.registry.Select(req.ID); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: req})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{Success: true, Data: s.registry.Settings()})
}

// handleUpdateSettings applies a partial update on top of the current settings.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	settings := s.registry.Settings()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	out, err := format.ParseOutput(string(settings.Format))
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	settings.Format = out

	if err := s.registry.UpdateSettings(settings); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: settings})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	// the batch outlives the request
	ctx, cancel := context.WithCancel(context.Background())
	run := &batchRun{cancel: cancel}

	s.batchMutex.Lock()
	done, err := s.scheduler.Start(ctx)
	if err == nil {
		s.current = run
	}
	s.batchMutex.Unlock()

	if err != nil {
		cancel()
		if errors.Is(err, compressor.ErrBatchRunning) {
			s.writeError(w, "Compression already in progress", http.StatusConflict)
			return
		}
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	go s.awaitBatch(done, run)

	s.writeJSON(w, APIResponse{Success: true, Message: "Compression started"})
}

func (s *Server) awaitBatch(done <-chan *statistics.Statistics, run *batchRun) {
	stats := <-done
	run.cancel()

	s.batchMutex.Lock()
	s.lastStats = stats
	if s.current == run {
		s.current = nil
	}
	s.batchMutex.Unlock()

	if stats == nil {
		return
	}
	s.broadcastWSMessage("batch_completed", statsPayload(stats))
	s.notify(batchNotification(stats))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.batchMutex.Lock()
	run := s.current
	s.batchMutex.Unlock()

	if run == nil {
		s.writeError(w, "No compression running", http.StatusConflict)
		return
	}
	run.cancel()

	s.broadcastWSMessage("batch_stopping", map[string]interface{}{
		"message": "Remaining images stay pending",
	})
	s.writeJSON(w, APIResponse{Success: true, Message: "Compression stopping"})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.batchMutex.Lock()
	stats := s.lastStats
	s.batchMutex.Unlock()

	if stats == nil {
		s.writeJSON(w, APIResponse{Success: true, Data: nil})
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: statsPayload(stats)})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	build := export.Build
	if s.cfg.Output.Bundle {
		build = export.BuildArchive
	}

	d, err := build(s.registry.Completed(), s.cfg.Output.ArchiveName)
	if errors.Is(err, export.ErrNothingToDownload) {
		s.writeError(w, "No compressed images to download", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.WithOperation(s.log, "download").Errorf("Download failed: %v", err)
		s.notify(Notification{
			Title:       "Download failed",
			Description: "An error occurred while downloading.",
			Variant:     "destructive",
		})
		s.writeError(w, "Download failed", http.StatusInternalServerError)
		return
	}

	s.writeAttachment(w, d.Filename, d.MIMEType, d.Data)
	s.notify(Notification{Title: "Download started!", Description: d.Message()})
}

func (s *Server) handleDownloadOne(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.registry.Get(mux.Vars(r)["id"])
	if !ok || entry.Status != model.StatusDone || !entry.HasCompressed() {
		s.writeError(w, "No compressed output for this image", http.StatusNotFound)
		return
	}
	s.writeAttachment(w, entry.OutputFilename(), entry.CompressedFormat.MIMEType(), entry.CompressedData)
}

// handleBlob serves the payload behind a live handle URL.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	data, mimeType, ok := s.handles.Open(handle.URLPrefix + mux.Vars(r)["id"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (s *Server) writeAttachment(w http.ResponseWriter, filename, mimeType string, data []byte) {
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		s.writeError(w, "Image not found", http.StatusNotFound)
	case errors.Is(err, registry.ErrInvalidState), errors.Is(err, compressor.ErrNotPending):
		s.writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, compressor.ErrBatchRunning):
		s.writeError(w, "Compression already in progress", http.StatusConflict)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, "Compression was cancelled", http.StatusServiceUnavailable)
	default:
		s.writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func statsPayload(stats *statistics.Statistics) map[string]interface{} {
	return map[string]interface{}{
		"summary":          stats.GetSummary(),
		"queued":           stats.TotalQueued,
		"succeeded":        stats.Succeeded(),
		"failed":           stats.Failed(),
		"bytes_saved":      stats.BytesSaved(),
		"peak_concurrency": stats.Peak(),
		"duration":         stats.Duration.String(),
	}
}

func batchNotification(stats *statistics.Statistics) Notification {
	processed := stats.Succeeded() + stats.Failed()
	if failed := stats.Failed(); failed > 0 {
		return Notification{
			Title:       "Compression complete!",
			Description: fmt.Sprintf("%d images processed, %d failed.", processed, failed),
			Variant:     "default",
		}
	}
	return Notification{
		Title:       "Compression complete!",
		Description: fmt.Sprintf("%d images processed successfully.", processed),
		Variant:     "success",
	}
}
