// Package health serves liveness and readiness probes.
//
//   - /healthz always answers 200 while the process can serve HTTP.
//   - /readyz runs every registered [Checker] concurrently and answers 200
//     only when no required check fails. Optional checks are reported but
//     do not gate readiness.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency (store, analyzer, llm).
type Checker struct {
	Name string

	// Check returns nil when the dependency is usable. It must respect ctx.
	Check func(ctx context.Context) error

	// Optional checks never make /readyz fail.
	Optional bool
}

// checkResult is one entry of the readiness body.
type checkResult struct {
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
	Optional  bool    `json:"optional,omitempty"`
}

type result struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version,omitempty"`
	Uptime  string                 `json:"uptime,omitempty"`
	Checks  map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	version  string
	started  time.Time
}

// New returns a Handler evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...), started: time.Now()}
}

// WithVersion reports v in probe bodies.
func (h *Handler) WithVersion(v string) *Handler {
	h.version = v
	return h
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok", Version: h.version, Uptime: h.uptime()})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := h.run(r.Context())

	res := result{Status: "ok", Version: h.version, Uptime: h.uptime(), Checks: checks}
	status := http.StatusOK
	for _, c := range checks {
		if c.Status != "ok" && !c.Optional {
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, res)
}

func (h *Handler) run(ctx context.Context) map[string]checkResult {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]checkResult, len(h.checkers))
	)
	for _, c := range h.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(cctx)
			cr := checkResult{
				Status:    "ok",
				LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
				Optional:  c.Optional,
			}
			if err != nil {
				cr.Status, cr.Error = "fail", err.Error()
			}
			mu.Lock()
			out[c.Name] = cr
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return out
}

func (h *Handler) uptime() string {
	return time.Since(h.started).Truncate(time.Second).String()
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
