// Package orchestrator sequences one conversational turn through
// analysis, reply generation and persistence on a fixed worker pool.
//
// Every turn is tracked as a [jobs.Job] and moves through the stages
//
//	queued → analyzing → analyzed → (llm-pending | llm-skipped) → db-pending → complete | error
//
// Only the analysis stage can fail a turn. Reply generation falls back to a
// fixed apology and persistence failures leave voice_id empty; both add a
// warning to the job and the turn still completes.
//
// Three entry points share the pipeline: [Orchestrator.Run] waits for the
// whole turn, [Orchestrator.Submit] returns the queued job at once and
// [Orchestrator.Quick] returns as soon as the analysis is ready, together with
// a rule-based quick reply, while the real reply is generated with a bounded
// wait.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cho1y0/neulbom/internal/analysis"
	"github.com/cho1y0/neulbom/internal/archive"
	"github.com/cho1y0/neulbom/internal/jobs"
	"github.com/cho1y0/neulbom/internal/notify"
	"github.com/cho1y0/neulbom/internal/observe"
	"github.com/cho1y0/neulbom/internal/reply"
	"github.com/cho1y0/neulbom/internal/scoring"
	"github.com/cho1y0/neulbom/internal/store"
	"github.com/cho1y0/neulbom/pkg/audio"
	"github.com/cho1y0/neulbom/pkg/provider/tts"
)

var (
	// ErrQueueFull is returned when every worker is busy and the queue is full.
	ErrQueueFull = errors.New("orchestrator: queue full")

	// ErrClosed is returned after Close, and for queued turns cancelled by it.
	ErrClosed = errors.New("orchestrator: closed")

	// ErrUnknownSession is returned for a session with no recorded turns.
	ErrUnknownSession = errors.New("orchestrator: unknown session")

	// ErrNoReporter is returned by Report when no report writer is configured.
	ErrNoReporter = errors.New("orchestrator: no report writer")

	// ErrNoNotifier is returned by Report when delivery was asked for but no
	// notifier is configured.
	ErrNoNotifier = errors.New("orchestrator: no notifier to deliver the report")
)

// Analyzer runs the speech-understanding stage.
type Analyzer interface {
	Analyze(ctx context.Context, in analysis.Input) (analysis.Analysis, error)
}

// Replier generates the companion's reply. It must not fail: a failed
// generation returns a speakable fallback with Err set.
type Replier interface {
	Reply(ctx context.Context, in reply.Input) reply.Result
}

// Reporter writes caregiver reports.
type Reporter interface {
	CaregiverReport(ctx context.Context, in reply.ReportInput) (string, error)
}

// Config tunes the worker pool.
type Config struct {
	// Workers is the number of concurrent turns. Default 2.
	Workers int `yaml:"workers"`

	// QueueSize bounds turns waiting for a worker. Default 32.
	QueueSize int `yaml:"queue_size"`

	// ReplyTimeout bounds the wait for the real reply in quick mode.
	// Default 45s.
	ReplyTimeout time.Duration `yaml:"reply_timeout"`
}

// DefaultConfig returns the stock pool settings.
func DefaultConfig() Config {
	return Config{Workers: 2, QueueSize: 32, ReplyTimeout: 45 * time.Second}
}

// WithDefaults fills zero fields from [DefaultConfig].
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = d.ReplyTimeout
	}
	return c
}

// Request is one recorded utterance to process.
type Request struct {
	SeniorID int64

	// SensingID correlates the turn with a sensor event. Zero means none.
	SensingID int64

	// SessionID partitions conversation history and aggregates.
	// Defaults to "senior-<SeniorID>".
	SessionID string

	WAV             []byte
	ResponseTimeSec *float64

	// GenerateReply asks for an LLM reply. When false the turn skips the
	// reply stage.
	GenerateReply bool
}

// QuickResult is returned by [Orchestrator.Quick].
type QuickResult struct {
	Job        jobs.Job
	QuickReply string
}

type mode string

const (
	modeSync  mode = "sync"
	modeAsync mode = "async"
	modeQuick mode = "quick"
)

type task struct {
	jobID string
	req   Request
	mode  mode

	// err is written by the worker before done is closed.
	err error

	analyzedOnce sync.Once
	analyzed     chan struct{}
	done         chan struct{}
}

func newTask(id string, req Request, m mode) *task {
	return &task{jobID: id, req: req, mode: m, analyzed: make(chan struct{}), done: make(chan struct{})}
}

func (t *task) markAnalyzed() { t.analyzedOnce.Do(func() { close(t.analyzed) }) }

func (t *task) finish() {
	t.markAnalyzed()
	close(t.done)
}

// Orchestrator runs turns. It is safe for concurrent use.
type Orchestrator struct {
	cfg      Config
	analyzer Analyzer
	replier  Replier
	reporter Reporter
	store    store.Store
	jobs     *jobs.Store
	sessions *Sessions
	speaker  tts.Provider
	voice    tts.VoiceProfile
	archiver archive.Archiver
	notifier notify.Notifier
	alertAt  atomic.Pointer[scoring.RiskLevel]
	metrics  *observe.Metrics
	now      func() time.Time

	mu       sync.Mutex
	tasks    chan *task
	closed   bool
	stopping atomic.Bool
	wg       sync.WaitGroup
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithConfig overrides [DefaultConfig].
func WithConfig(c Config) Option {
	return func(o *Orchestrator) { o.cfg = c.WithDefaults() }
}

// WithReplier enables the reply stage. A Replier that also implements
// [Reporter] and Reset(sessionID) is used for reports and session resets.
func WithReplier(r Replier) Option {
	return func(o *Orchestrator) {
		o.replier = r
		if rep, ok := r.(Reporter); ok && o.reporter == nil {
			o.reporter = rep
		}
	}
}

// WithReporter sets the caregiver report writer.
func WithReporter(r Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithStore enables persistence.
func WithStore(s store.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithSpeaker synthesizes every reply with voice.
func WithSpeaker(p tts.Provider, voice tts.VoiceProfile) Option {
	return func(o *Orchestrator) { o.speaker, o.voice = p, voice }
}

// WithArchiver stores every uploaded recording.
func WithArchiver(a archive.Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithNotifier alerts caregivers about turns at or above level.
func WithNotifier(n notify.Notifier, level scoring.RiskLevel) Option {
	return func(o *Orchestrator) {
		o.notifier = n
		o.alertAt.Store(&level)
	}
}

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSessions shares an existing aggregate store.
func WithSessions(s *Sessions) Option {
	return func(o *Orchestrator) { o.sessions = s }
}

// New starts the worker pool. Call Close to stop it.
func New(a Analyzer, js *jobs.Store, opts ...Option) (*Orchestrator, error) {
	var errs []error
	if a == nil {
		errs = append(errs, errors.New("orchestrator: analyzer is required"))
	}
	if js == nil {
		errs = append(errs, errors.New("orchestrator: job store is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:      DefaultConfig(),
		analyzer: a,
		jobs:     js,
		now:      time.Now,
	}
	high := scoring.RiskHigh
	o.alertAt.Store(&high)
	for _, opt := range opts {
		opt(o)
	}
	if o.sessions == nil {
		o.sessions = NewSessions()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	o.tasks = make(chan *task, o.cfg.QueueSize)
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o, nil
}

// Jobs returns the job store.
func (o *Orchestrator) Jobs() *jobs.Store { return o.jobs }

// Sessions returns the session aggregates.
func (o *Orchestrator) Sessions() *Sessions { return o.sessions }

// Replies reports whether a reply generator is configured.
func (o *Orchestrator) Replies() bool { return o.replier != nil }

// Submit queues req and returns the job immediately.
func (o *Orchestrator) Submit(req Request) (jobs.Job, error) {
	t, err := o.enqueue(req, modeAsync)
	if err != nil {
		return jobs.Job{}, err
	}
	return o.jobs.Get(t.jobID)
}

// Run processes req and waits for the whole turn. A failed analysis is
// returned as an error together with the failed job. If ctx ends first the
// turn keeps running and ctx's error is returned.
func (o *Orchestrator) Run(ctx context.Context, req Request) (jobs.Job, error) {
	t, err := o.enqueue(req, modeSync)
	if err != nil {
		return jobs.Job{}, err
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		return jobs.Job{}, ctx.Err()
	}
	j, err := o.jobs.Get(t.jobID)
	if err != nil {
		return jobs.Job{}, err
	}
	return j, t.err
}

// Quick processes req and returns once the analysis is ready, with the
// rule-based quick reply. The real reply is generated in the background
// and lands on the job.
func (o *Orchestrator) Quick(ctx context.Context, req Request) (QuickResult, error) {
	t, err := o.enqueue(req, modeQuick)
	if err != nil {
		return QuickResult{}, err
	}
	select {
	case <-t.analyzed:
	case <-ctx.Done():
		return QuickResult{}, ctx.Err()
	}
	j, err := o.jobs.Get(t.jobID)
	if err != nil {
		return QuickResult{}, err
	}
	if j.Analysis == nil {
		// analyzed closes on failure too; done follows immediately.
		<-t.done
		j, _ = o.jobs.Get(t.jobID)
		return QuickResult{Job: j}, t.err
	}
	return QuickResult{Job: j, QuickReply: reply.QuickReply(j.Analysis.Decision(), j.Analysis.Scores)}, nil
}

func (o *Orchestrator) enqueue(req Request, m mode) (*task, error) {
	if req.SessionID == "" {
		req.SessionID = fmt.Sprintf("senior-%d", req.SeniorID)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	job := o.jobs.Create(req.SessionID, req.SeniorID)
	t := newTask(job.ID, req, m)
	select {
	case o.tasks <- t:
		o.metrics.ActiveJobs.Add(context.Background(), 1)
		return t, nil
	default:
		_ = o.jobs.Fail(job.ID, ErrQueueFull.Error())
		return nil, ErrQueueFull
	}
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for t := range o.tasks {
		if o.stopping.Load() {
			t.err = ErrClosed
			_ = o.jobs.Fail(t.jobID, "cancelled: shutting down")
			t.finish()
		} else {
			o.process(context.Background(), t)
		}
		o.metrics.ActiveJobs.Add(context.Background(), -1)
	}
}

// Close stops accepting turns, cancels queued ones and waits for running
// ones to finish or ctx to end. Running turns are never interrupted.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		o.stopping.Store(true)
		close(o.tasks)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator: close: %w", ctx.Err())
	}
}

// ---- pipeline ----

func (o *Orchestrator) process(ctx context.Context, t *task) {
	defer t.finish()

	ctx, span := observe.StartSpan(ctx, "turn", trace.WithAttributes(
		attribute.String("mode", string(t.mode)),
	))
	defer span.End()
	ctx = observe.WithTurn(ctx, t.jobID, t.req.SessionID)
	log := observe.Logger(ctx)

	a, err := o.analyze(ctx, t)
	if err != nil {
		t.err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		log.Error("turn failed", "stage", jobs.StageAnalyzing, "err", err)
		o.metrics.RecordTurn(ctx, string(t.mode), "error")
		return
	}
	t.markAnalyzed()

	o.sideEffects(ctx, t, a, log)

	if t.req.GenerateReply && o.replier != nil {
		o.replyStage(ctx, t, a, log)
	} else {
		o.advance(t.jobID, jobs.StageLLMSkipped, nil, log)
	}

	o.persist(ctx, t, a, log)

	o.advance(t.jobID, jobs.StageComplete, nil, log)
	o.metrics.RecordTurn(ctx, string(t.mode), "complete")
	log.Info("turn complete",
		"emotion", a.Decision().FinalLabel,
		"average", a.Scores.Average,
		"risk", a.Risk,
	)
}

func (o *Orchestrator) analyze(ctx context.Context, t *task) (*analysis.Analysis, error) {
	if err := o.jobs.Advance(t.jobID, jobs.StageAnalyzing, nil); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	start := o.now()
	a, err := o.analyzer.Analyze(ctx, analysis.Input{WAV: t.req.WAV, ResponseTimeSec: t.req.ResponseTimeSec})
	o.metrics.RecordStage(ctx, string(jobs.StageAnalyzing), o.now().Sub(start).Seconds())
	if err != nil {
		_ = o.jobs.Fail(t.jobID, err.Error())
		return nil, fmt.Errorf("orchestrator: analyze: %w", err)
	}
	// The job outlives the turn by the retention TTL; keep only the results.
	a.Clip = audio.Clip{}

	err = o.jobs.Advance(t.jobID, jobs.StageAnalyzed, func(j *jobs.Job) {
		j.Analysis = &a
		j.Preview = jobs.NewPreview(&a)
		if a.Fusion.IsDegraded() {
			j.Warn("fusion: degraded: %s", a.Fusion.Reason)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	o.sessions.Append(t.req.SessionID, &a)
	if a.Fusion.IsDegraded() {
		o.metrics.FusionDegraded.Add(ctx, 1)
	}
	o.metrics.RecordRisk(ctx, string(a.Risk))
	return &a, nil
}

// sideEffects archives the recording and alerts caregivers. Both are
// best-effort.
func (o *Orchestrator) sideEffects(ctx context.Context, t *task, a *analysis.Analysis, log *slog.Logger) {
	if o.archiver != nil {
		key := archive.Key(t.req.SeniorID, t.jobID, o.now())
		if loc, err := o.archiver.Archive(ctx, key, t.req.WAV); err != nil {
			o.warn(t.jobID, "archive: %v", err)
			o.metrics.RecordProviderError(ctx, "archive", "archive")
		} else {
			log.Debug("recording archived", "location", loc)
		}
	}

	if o.notifier != nil && atLeast(a.Risk, *o.alertAt.Load()) {
		err := o.notifier.NotifyRisk(ctx, notify.Alert{
			SeniorID:  t.req.SeniorID,
			SessionID: t.req.SessionID,
			JobID:     t.jobID,
			Risk:      string(a.Risk),
			Text:      a.Transcript.Text,
			Emotion:   a.Decision().FinalLabel,
			Scores:    a.Scores,
			Feedback:  a.Feedback,
		})
		if err != nil {
			o.warn(t.jobID, "notify: %v", err)
			o.metrics.RecordProviderError(ctx, "notify", "alert")
		}
	}
}

func (o *Orchestrator) replyStage(ctx context.Context, t *task, a *analysis.Analysis, log *slog.Logger) {
	o.advance(t.jobID, jobs.StageLLMPending, nil, log)

	in := reply.Input{
		SessionID: t.req.SessionID,
		Text:      a.Transcript.Text,
		Decision:  a.Decision(),
		Scores:    a.Scores,
	}
	start := o.now()
	var res reply.Result
	if t.mode == modeQuick {
		res = o.replyWithin(ctx, in, o.cfg.ReplyTimeout)
	} else {
		res = o.replier.Reply(ctx, in)
	}
	elapsed := o.now().Sub(start).Seconds()
	o.metrics.LLMDuration.Record(ctx, elapsed)
	o.metrics.RecordStage(ctx, string(jobs.StageLLMPending), elapsed)

	if res.Err != nil {
		reason := "error"
		if errors.Is(res.Err, errReplyTimeout) {
			reason = "timeout"
		}
		o.metrics.RecordReplyFallback(ctx, reason)
		log.Warn("reply fell back", "reason", reason, "err", res.Err)
	}

	var speech []byte
	if o.speaker != nil && res.Text != "" {
		start := o.now()
		clip, err := o.speaker.Synthesize(ctx, res.Text, o.voice)
		o.metrics.TTSDuration.Record(ctx, o.now().Sub(start).Seconds())
		if err != nil {
			o.warn(t.jobID, "tts: %v", err)
			o.metrics.RecordProviderError(ctx, "tts", "synthesize")
		} else {
			speech = audio.EncodeWAV(clip)
		}
	}

	_ = o.jobs.Update(t.jobID, func(j *jobs.Job) {
		j.Reply = res.Text
		j.ReplyFallback = res.Fallback
		j.Speech = speech
		if res.Err != nil {
			j.Warn("reply: %v", res.Err)
		}
	})
}

var errReplyTimeout = errors.New("reply timed out")

// replyWithin waits at most timeout for the reply. The call itself is not
// cancelled on expiry; its late result is dropped.
func (o *Orchestrator) replyWithin(ctx context.Context, in reply.Input, timeout time.Duration) reply.Result {
	ch := make(chan reply.Result, 1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ch <- o.replier.Reply(context.WithoutCancel(ctx), in)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r
	case <-timer.C:
		return reply.Result{
			Text:     reply.Filler,
			Fallback: true,
			Err:      fmt.Errorf("%w after %s", errReplyTimeout, timeout),
		}
	}
}

func (o *Orchestrator) persist(ctx context.Context, t *task, a *analysis.Analysis, log *slog.Logger) {
	o.advance(t.jobID, jobs.StageDBPending, nil, log)
	if o.store == nil {
		return
	}
	start := o.now()
	id, err := o.store.SaveTurn(ctx, store.Record{
		SeniorID:   t.req.SeniorID,
		SensingID:  t.req.SensingID,
		Transcript: a.Transcript,
		Decision:   a.Decision(),
		Policy:     string(a.Risk),
	})
	o.metrics.RecordStage(ctx, string(jobs.StageDBPending), o.now().Sub(start).Seconds())
	if err != nil {
		o.metrics.StoreFailures.Add(ctx, 1)
		log.Warn("persist failed", "err", err)
		o.warn(t.jobID, "store: %v", err)
		return
	}
	_ = o.jobs.Update(t.jobID, func(j *jobs.Job) { j.VoiceID = &id })
}

func (o *Orchestrator) advance(id string, next jobs.Stage, fn func(*jobs.Job), log *slog.Logger) {
	if err := o.jobs.Advance(id, next, fn); err != nil {
		log.Error("stage transition rejected", "stage", next, "err", err)
	}
}

func (o *Orchestrator) warn(id, format string, args ...any) {
	_ = o.jobs.Update(id, func(j *jobs.Job) { j.Warn(format, args...) })
}

// ---- sessions ----

// SetAlertLevel changes the lowest risk that alerts caregivers.
func (o *Orchestrator) SetAlertLevel(level scoring.RiskLevel) { o.alertAt.Store(&level) }

// ResetSession forgets the aggregate and conversation history of id.
func (o *Orchestrator) ResetSession(id string) {
	o.sessions.Reset(id)
	if r, ok := o.replier.(interface{ Reset(string) }); ok {
		r.Reset(id)
	}
}

// Report summarises session id and writes a caregiver report. When deliver
// is set the report is also sent, and [ErrNoNotifier] is returned alongside
// the text when there is nobody to send it to. A report writer failure still
// returns the fallback text with the error.
func (o *Orchestrator) Report(ctx context.Context, id string, seniorID int64, deliver bool) (Summary, string, error) {
	sum, ok := o.sessions.Summary(id)
	if !ok {
		return sum, "", fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if o.reporter == nil {
		return sum, "", ErrNoReporter
	}
	body, err := o.reporter.CaregiverReport(ctx, sum.ReportInput())
	switch {
	case !deliver:
	case o.notifier == nil:
		err = errors.Join(err, ErrNoNotifier)
	default:
		sendErr := o.notifier.SendReport(ctx, notify.Report{
			SeniorID:  seniorID,
			SessionID: id,
			Turns:     sum.Turns,
			Average:   sum.Averages.Average,
			Body:      body,
		})
		if sendErr != nil {
			err = errors.Join(err, fmt.Errorf("orchestrator: deliver report: %w", sendErr))
		}
	}
	return sum, body, err
}

var riskRank = map[scoring.RiskLevel]int{scoring.RiskLow: 0, scoring.RiskMedium: 1, scoring.RiskHigh: 2}

func atLeast(level, threshold scoring.RiskLevel) bool {
	return riskRank[level] >= riskRank[threshold]
}
