package dashboard

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"riskdash/internal/engine"
	"riskdash/internal/logger"
	"riskdash/pkg/models"
)

type errorResponse struct {
	Error string `json:"error"`
}

type acceptedResponse struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
}

type updateFrame struct {
	Version uint64       `json:"version"`
	Phase   models.Phase `json:"phase"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// accepted reports the outcome of posting an intent to the session.
func accepted(w http.ResponseWriter, err error, path string) {
	switch {
	case errors.Is(err, engine.ErrNotMounted):
		writeError(w, http.StatusServiceUnavailable, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", Path: path})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.session.Snapshot()
	if snap == nil || !snap.Mounted {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unmounted"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	hub := s.session.Updates()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	send := func() {
		snap := s.session.Snapshot()
		data, _ := sonic.Marshal(updateFrame{Version: snap.Version, Phase: snap.Workflow.Phase})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	send()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			send()
		}
	}
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level models.ZoomLevel `json:"level"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	accepted(w, s.session.SetZoomLevel(req.Level), "")
}

func (s *Server) handleBrush(w http.ResponseWriter, r *http.Request) {
	var req models.BrushRange
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	accepted(w, s.session.OnBrushChange(req), "")
}

func (s *Server) handleCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category models.Category `json:"category"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch req.Category {
	case models.CategoryNone, models.CategoryHTTP, models.CategoryEmail:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown category %q", req.Category))
		return
	}
	accepted(w, s.session.SelectCategory(req.Category), "")
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}
	accepted(w, s.session.SelectFile(req.Path), req.Path)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	accepted(w, s.session.TriggerUpload(), "")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}
	defer file.Close()

	path := filepath.Join(s.uploadDir, uuid.NewString()+"-"+filepath.Base(hdr.Filename))
	if err := storeUpload(path, file); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	logger.Infof("Stored upload %s (%d bytes) at %s", hdr.Filename, hdr.Size, path)

	if err := s.session.SelectFile(path); err != nil {
		removeUpload(path)
		accepted(w, err, "")
		return
	}
	if err := s.session.TriggerUpload(); err != nil {
		removeUpload(path)
		accepted(w, err, "")
		return
	}

	s.mu.Lock()
	prev := s.lastUpload
	s.lastUpload = path
	s.mu.Unlock()
	if prev != "" {
		removeUpload(prev)
	}
	accepted(w, nil, path)
}

// storeUpload copies src to path. A partial file is removed.
func storeUpload(path string, src io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("store upload: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		removeUpload(path)
		return fmt.Errorf("store upload: %w", err)
	}
	if err := out.Close(); err != nil {
		removeUpload(path)
		return fmt.Errorf("store upload: %w", err)
	}
	return nil
}

func removeUpload(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("Failed to remove upload %s: %v", path, err)
	}
}
