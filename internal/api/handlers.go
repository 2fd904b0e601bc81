package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cho1y0/neulbom/internal/jobs"
	"github.com/cho1y0/neulbom/internal/observe"
	"github.com/cho1y0/neulbom/internal/orchestrator"
	"github.com/cho1y0/neulbom/internal/reply"
	"github.com/cho1y0/neulbom/internal/store"
)

// ---- upload ----

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeError(w, http.StatusServiceUnavailable, "analyzer not initialised")
		return
	}

	req, err := s.parseUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	log := observe.Logger(r.Context()).With("senior_id", req.SeniorID, "session_id", req.SessionID, "mode", s.mode)

	switch s.mode {
	case ModeAsync:
		j, err := s.orch.Submit(req)
		if err != nil {
			s.writeEnqueueError(w, err)
			return
		}
		log.Info("turn queued", "job_id", j.ID)
		writeJSON(w, http.StatusAccepted, acceptedView{
			JobID:     j.ID,
			Stage:     j.Stage,
			Reply:     reply.Acknowledgement,
			Message:   "poll /result/" + j.ID,
			Timestamp: time.Now(),
		})

	case ModeQuick:
		res, err := s.orch.Quick(r.Context(), req)
		if err != nil {
			s.writeTurnError(w, res.Job, err)
			return
		}
		v := newJobView(res.Job)
		v.QuickReply = res.QuickReply
		writeJSON(w, http.StatusOK, v)

	default:
		j, err := s.orch.Run(r.Context(), req)
		if err != nil {
			s.writeTurnError(w, j, err)
			return
		}
		writeJSON(w, http.StatusOK, newJobView(j))
	}
}

// parseUpload reads the multipart form into a turn request.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (orchestrator.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return orchestrator.Request{}, errors.New("invalid multipart form: " + err.Error())
	}

	f, _, err := r.FormFile("audio_file")
	if err != nil {
		return orchestrator.Request{}, errors.New("audio_file is required")
	}
	defer f.Close()
	wav, err := io.ReadAll(f)
	if err != nil {
		return orchestrator.Request{}, errors.New("read audio_file: " + err.Error())
	}
	if len(wav) == 0 {
		return orchestrator.Request{}, errors.New("audio_file is empty")
	}

	req := orchestrator.Request{SeniorID: 1, WAV: wav, GenerateReply: true}
	var errs []error
	if v := r.FormValue("senior_id"); v != "" {
		if req.SeniorID, err = strconv.ParseInt(v, 10, 64); err != nil {
			errs = append(errs, errors.New("senior_id must be an integer"))
		}
	}
	if v := r.FormValue("sensing_id"); v != "" {
		if req.SensingID, err = strconv.ParseInt(v, 10, 64); err != nil {
			errs = append(errs, errors.New("sensing_id must be an integer"))
		}
	}
	if v := r.FormValue("generate_response"); v != "" {
		if req.GenerateReply, err = strconv.ParseBool(v); err != nil {
			errs = append(errs, errors.New("generate_response must be a boolean"))
		}
	}
	if v := r.FormValue("response_time"); v != "" {
		rt, err := strconv.ParseFloat(v, 64)
		if err != nil || rt < 0 {
			errs = append(errs, errors.New("response_time must be a non-negative number"))
		} else {
			req.ResponseTimeSec = &rt
		}
	}
	req.SessionID = strings.TrimSpace(r.FormValue("session_id"))
	return req, errors.Join(errs...)
}

func (s *Server) writeEnqueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrQueueFull):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "%v", err)
	case errors.Is(err, orchestrator.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "%v", err)
	default:
		writeError(w, http.StatusInternalServerError, "%v", err)
	}
}

func (s *Server) writeTurnError(w http.ResponseWriter, j jobs.Job, err error) {
	if j.ID == "" {
		s.writeEnqueueError(w, err)
		return
	}
	v := newJobView(j)
	if v.Error == "" {
		v.Error = err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, v)
}

// ---- jobs ----

func (s *Server) job(w http.ResponseWriter, r *http.Request) (jobs.Job, bool) {
	if s.orch == nil {
		writeError(w, http.StatusServiceUnavailable, "analyzer not initialised")
		return jobs.Job{}, false
	}
	j, err := s.orch.Jobs().Get(r.PathValue("job_id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, missingJob{Message: "job not found"})
		return jobs.Job{}, false
	}
	return j, true
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if j, ok := s.job(w, r); ok {
		writeJSON(w, http.StatusOK, newJobView(j))
	}
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	j, ok := s.job(w, r)
	if !ok {
		return
	}
	if len(j.Speech) == 0 {
		writeError(w, http.StatusNotFound, "no speech for job %s", j.ID)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(j.Speech)))
	_, _ = w.Write(j.Speech)
}

// ---- history ----

func (s *Server) handleLatestSensing(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "%v", store.ErrNotConfigured)
		return
	}
	id, err := s.store.LatestSensingID(r.Context())
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"sensing_id": nil})
	case err != nil:
		observe.Logger(r.Context()).Error("latest sensing lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "%v", err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"sensing_id": id})
	}
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "%v", store.ErrNotConfigured)
		return
	}
	seniorID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "senior id must be an integer")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
	}
	limit = store.NormalizeLimit(limit)

	recs, err := s.store.RecentAnalyses(r.Context(), seniorID, limit)
	if err != nil {
		observe.Logger(r.Context()).Error("recent analyses failed", "senior_id", seniorID, "err", err)
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"senior_id": seniorID,
		"limit":     limit,
		"analyses":  recs,
	})
}

// ---- sessions ----

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeError(w, http.StatusServiceUnavailable, "analyzer not initialised")
		return
	}
	sum, ok := s.orch.Sessions().Summary(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session %s has no turns", r.PathValue("id"))
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type reportRequest struct {
	SeniorID int64 `json:"senior_id"`
	Deliver  bool  `json:"deliver"`
}

type reportResponse struct {
	SessionID string               `json:"session_id"`
	Summary   orchestrator.Summary `json:"summary"`
	Report    string               `json:"report"`
	Warning   string               `json:"warning,omitempty"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeError(w, http.StatusServiceUnavailable, "analyzer not initialised")
		return
	}
	var body reportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid body: %v", err)
			return
		}
	}

	id := r.PathValue("id")
	sum, text, err := s.orch.Report(r.Context(), id, body.SeniorID, body.Deliver)
	switch {
	case errors.Is(err, orchestrator.ErrUnknownSession):
		writeError(w, http.StatusNotFound, "%v", err)
		return
	case errors.Is(err, orchestrator.ErrNoReporter):
		writeError(w, http.StatusServiceUnavailable, "%v", err)
		return
	}

	resp := reportResponse{SessionID: id, Summary: sum, Report: text}
	if err != nil {
		observe.Logger(r.Context()).Warn("report degraded", "session_id", id, "err", err)
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		writeError(w, http.StatusServiceUnavailable, "analyzer not initialised")
		return
	}
	s.orch.ResetSession(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}
