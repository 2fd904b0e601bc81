// Package jobs tracks asynchronous turns for polling clients.
//
// A single mutex guards every mutation, and reads return deep-enough copies
// that callers can never observe or cause a torn update. Finished jobs are
// removed by [Store.Sweep] once they are older than the configured TTL.
package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cho1y0/neulbom/internal/analysis"
)

var (
	// ErrNotFound is returned for an unknown or swept job id.
	ErrNotFound = errors.New("jobs: job not found")

	// ErrInvalidTransition is returned when a stage change breaks the state machine.
	ErrInvalidTransition = errors.New("jobs: invalid stage transition")
)

// DefaultTTL is how long finished jobs stay pollable.
const DefaultTTL = time.Hour

// Preview is the early view of a turn, available from the analyzed stage.
type Preview struct {
	Text    string  `json:"text"`
	Emotion string  `json:"emotion"`
	Score   float64 `json:"score"`
}

// previewRunes bounds the transcript shown in a preview.
const previewRunes = 50

// NewPreview summarises a for pollers.
func NewPreview(a *analysis.Analysis) *Preview {
	return &Preview{
		Text:    analysis.Preview(a.Transcript.Text, previewRunes),
		Emotion: string(a.Decision().FinalLabel),
		Score:   a.Scores.Average,
	}
}

// Job is a snapshot of one asynchronous turn.
type Job struct {
	ID        string `json:"job_id"`
	SessionID string `json:"session_id"`
	SeniorID  int64  `json:"senior_id"`
	Stage     Stage  `json:"stage"`
	Done      bool   `json:"done"`
	Success   bool   `json:"success"`

	Preview *Preview `json:"preview,omitempty"`

	// Analysis is shared between snapshots and must not be mutated once set.
	Analysis *analysis.Analysis `json:"-"`

	Reply         string   `json:"ai_response,omitempty"`
	ReplyFallback bool     `json:"reply_fallback,omitempty"`
	VoiceID       *int64   `json:"voice_id"`
	Warnings      []string `json:"warnings,omitempty"`
	Error         string   `json:"error,omitempty"`

	// Speech is the synthesized reply as WAV bytes, when TTS is configured.
	// Like Analysis it is shared between snapshots and read-only once set.
	Speech []byte `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Warn appends a non-fatal warning.
func (j *Job) Warn(format string, args ...any) {
	j.Warnings = append(j.Warnings, fmt.Sprintf(format, args...))
}

func (j *Job) clone() Job {
	c := *j
	if j.Preview != nil {
		p := *j.Preview
		c.Preview = &p
	}
	if j.VoiceID != nil {
		v := *j.VoiceID
		c.VoiceID = &v
	}
	c.Warnings = append([]string(nil), j.Warnings...)
	return c
}

// Store holds jobs in memory. It is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
	now  func() time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithTTL sets how long finished jobs are kept. Non-positive values keep the default.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{jobs: make(map[string]*Job), ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create registers a new queued job.
func (s *Store) Create(sessionID string, seniorID int64) Job {
	now := s.now()
	j := &Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		SeniorID:  seniorID,
		Stage:     StageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()
	return j.clone()
}

// Get returns a snapshot of job id.
func (s *Store) Get(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.clone(), nil
}

// Update applies fn to job id without changing its stage.
func (s *Store) Update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	stage := j.Stage
	fn(j)
	j.Stage = stage
	j.UpdatedAt = s.now()
	return nil
}

// Advance moves job id to next and applies fn (which may be nil) in the
// same critical section. Reaching a terminal stage marks the job done;
// complete also marks it successful.
func (s *Store) Advance(id string, next Stage, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !j.Stage.CanAdvance(next) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, j.Stage, next)
	}
	if fn != nil {
		fn(j)
	}
	j.Stage = next
	j.Done = next.Terminal()
	j.Success = next == StageComplete
	j.UpdatedAt = s.now()
	return nil
}

// Fail moves job id to the error stage with msg.
func (s *Store) Fail(id, msg string) error {
	return s.Advance(id, StageError, func(j *Job) { j.Error = msg })
}

// Sweep removes finished jobs last updated more than the TTL ago and
// returns how many were removed.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Done && j.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}

// Counts returns the number of active and finished jobs.
func (s *Store) Counts() (active, done int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Done {
			done++
		} else {
			active++
		}
	}
	return active, done
}
