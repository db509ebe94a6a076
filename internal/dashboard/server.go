// Package dashboard serves session snapshots and accepts user intents over
// HTTP.
package dashboard

import (
	"net/http"
	"os"
	"sync"

	"riskdash/internal/engine"
	"riskdash/internal/telemetry"
	"riskdash/pkg/models"
)

const maxUploadBytes = 64 << 20

// Controller is the session surface the API drives.
type Controller interface {
	Snapshot() *engine.Snapshot
	Updates() *engine.Hub
	SelectFile(path string) error
	TriggerUpload() error
	SetZoomLevel(level models.ZoomLevel) error
	OnBrushChange(r models.BrushRange) error
	SelectCategory(category models.Category) error
}

// Config configures the server.
type Config struct {
	// UploadDir receives files posted to /api/upload. Empty uses the OS temp
	// dir. Only the latest upload is kept there.
	UploadDir string
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	Tracing *telemetry.Provider
}

// Server serves the dashboard API.
type Server struct {
	session   Controller
	uploadDir string
	metrics   http.Handler
	tracing   *telemetry.Provider
	mux       *http.ServeMux

	mu         sync.Mutex
	lastUpload string
}

// NewServer creates a server bound to one session.
func NewServer(session Controller, cfg Config) *Server {
	dir := cfg.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	s := &Server{
		session:   session,
		uploadDir: dir,
		metrics:   cfg.Metrics,
		tracing:   cfg.Tracing,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the API handler with middleware applied.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = requestID(h)
	h = logging(h)
	h = recovery(h)
	return s.tracing.Handler(h, "riskdash.dashboard")
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	s.mux.HandleFunc("GET /api/events", s.handleSSE)

	// Intents
	s.mux.HandleFunc("POST /api/zoom", s.handleZoom)
	s.mux.HandleFunc("POST /api/brush", s.handleBrush)
	s.mux.HandleFunc("POST /api/category", s.handleCategory)
	s.mux.HandleFunc("POST /api/file", s.handleFile)
	s.mux.HandleFunc("POST /api/trigger", s.handleTrigger)
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}
