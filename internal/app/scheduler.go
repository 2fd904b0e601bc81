package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/cho1y0/neulbom/internal/orchestrator"
)

// Sweeper evicts expired jobs.
type Sweeper interface {
	Sweep() int
}

// ReportSource summarises and delivers session reports.
type ReportSource interface {
	Sessions() *orchestrator.Sessions
	Report(ctx context.Context, id string, seniorID int64, deliver bool) (orchestrator.Summary, string, error)
}

// DigestResult counts the outcome of one digest run.
type DigestResult struct {
	Sent   int
	Failed int
}

// Scheduler runs the periodic job sweep and the caregiver digest.
// All exported methods are safe for concurrent use.
type Scheduler struct {
	cron     *cron.Cron
	jobs     Sweeper
	reports  ReportSource
	sweepAt  string
	digestAt string

	mu      sync.Mutex
	started bool
}

// NewScheduler registers the sweep on sweepSchedule and, when
// digestSchedule is not empty, the digest. Both use standard five-field
// cron syntax or descriptors such as "@every 5m".
func NewScheduler(reports ReportSource, js Sweeper, sweepSchedule, digestSchedule string) (*Scheduler, error) {
	if js == nil {
		return nil, errors.New("scheduler: job store is required")
	}
	s := &Scheduler{
		cron:     cron.New(),
		jobs:     js,
		reports:  reports,
		sweepAt:  sweepSchedule,
		digestAt: digestSchedule,
	}
	if _, err := s.cron.AddFunc(sweepSchedule, func() { s.Sweep() }); err != nil {
		return nil, fmt.Errorf("scheduler: sweep schedule %q: %w", sweepSchedule, err)
	}
	if digestSchedule != "" {
		if reports == nil {
			return nil, errors.New("scheduler: digest needs a report source")
		}
		if _, err := s.cron.AddFunc(digestSchedule, func() { s.Digest(context.Background()) }); err != nil {
			return nil, fmt.Errorf("scheduler: digest schedule %q: %w", digestSchedule, err)
		}
	}
	return s, nil
}

// Start begins running the schedules. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	slog.Info("scheduler started", "sweep", s.sweepAt, "digest", s.digestAt)
}

// Stop halts the schedules and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		slog.Warn("scheduler: stop deadline exceeded", "err", ctx.Err())
	}
}

// Sweep evicts expired jobs once and returns how many were removed.
func (s *Scheduler) Sweep() int {
	n := s.jobs.Sweep()
	if n > 0 {
		slog.Debug("swept expired jobs", "count", n)
	}
	return n
}

// Digest writes and delivers a report for every session with turns, then
// drops the reported turns of each session that was delivered. Sessions
// whose report failed or could not be delivered keep their turns for the
// next run.
func (s *Scheduler) Digest(ctx context.Context) DigestResult {
	var res DigestResult
	if s.reports == nil {
		return res
	}
	sessions := s.reports.Sessions()
	for _, id := range sessions.IDs() {
		sum, _, err := s.reports.Report(ctx, id, seniorFromSession(id), true)
		if err != nil {
			res.Failed++
			slog.Warn("digest: report failed", "session_id", id, "err", err)
			continue
		}
		sessions.Trim(id, sum.Turns)
		res.Sent++
		slog.Info("digest: report delivered", "session_id", id, "turns", sum.Turns)
	}
	return res
}

// seniorFromSession recovers the senior id from the default session id
// "senior-<id>". Other ids yield 0.
func seniorFromSession(id string) int64 {
	rest, ok := strings.CutPrefix(id, "senior-")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
