// Package api serves the companion's HTTP surface: recording upload in
// sync, async and quick modes, job polling, session summaries and
// caregiver reports, history queries and health.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cho1y0/neulbom/internal/health"
	"github.com/cho1y0/neulbom/internal/observe"
	"github.com/cho1y0/neulbom/internal/orchestrator"
	"github.com/cho1y0/neulbom/internal/store"
)

// Mode selects how POST /analyze answers.
type Mode string

const (
	// ModeSync waits for the whole turn.
	ModeSync Mode = "sync"

	// ModeAsync answers 202 with a job id to poll.
	ModeAsync Mode = "async"

	// ModeQuick answers with the analysis and a rule-based reply; the real
	// reply lands on the job.
	ModeQuick Mode = "quick"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeSync, ModeAsync, ModeQuick:
		return true
	}
	return false
}

// defaultMaxUpload bounds a multipart upload.
const defaultMaxUpload = 32 << 20

// Server holds the handlers' collaborators. A nil orchestrator makes
// /analyze and the session routes answer 503.
type Server struct {
	orch      *orchestrator.Orchestrator
	store     store.Store
	health    *health.Handler
	metrics   *observe.Metrics
	promHTTP  http.Handler
	mode      Mode
	maxUpload int64
}

// Option configures a [Server].
type Option func(*Server)

// WithStore enables the history routes.
func WithStore(s store.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithMode sets the /analyze mode. Unknown modes are ignored.
func WithMode(m Mode) Option {
	return func(srv *Server) {
		if m.Valid() {
			srv.mode = m
		}
	}
}

// WithMaxUpload bounds the multipart body in bytes.
func WithMaxUpload(n int64) Option {
	return func(srv *Server) {
		if n > 0 {
			srv.maxUpload = n
		}
	}
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(srv *Server) { srv.health = h }
}

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(srv *Server) { srv.promHTTP = h }
}

// New returns a Server. orch may be nil while the analyzer is unavailable.
func New(orch *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{orch: orch, mode: ModeSync, maxUpload: defaultMaxUpload}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("GET /result/{job_id}", s.handleResult)
	mux.HandleFunc("GET /result/{job_id}/speech", s.handleSpeech)
	mux.HandleFunc("GET /latest-sensing", s.handleLatestSensing)
	mux.HandleFunc("GET /seniors/{id}/analyses", s.handleAnalyses)
	mux.HandleFunc("GET /sessions/{id}/summary", s.handleSummary)
	mux.HandleFunc("POST /sessions/{id}/report", s.handleReport)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleResetSession)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.promHTTP != nil {
		mux.Handle("GET /metrics", s.promHTTP)
	}
	return observe.Middleware(s.metrics)(mux)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, errorBody{Error: fmt.Sprintf(format, args...)})
}
