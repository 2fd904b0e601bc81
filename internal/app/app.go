// Package app wires the companion's subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the analysis pipeline,
// persistence, archive, alerting and HTTP surface from the config, Run serves
// HTTP and runs the scheduled jobs until the context ends, and Shutdown
// drains the worker pool and closes everything in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithNotifier, WithArchiver). When an option is not provided, New creates
// the real implementation named by the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cho1y0/neulbom/internal/analysis"
	"github.com/cho1y0/neulbom/internal/api"
	"github.com/cho1y0/neulbom/internal/archive"
	miniostore "github.com/cho1y0/neulbom/internal/archive/minio"
	"github.com/cho1y0/neulbom/internal/config"
	"github.com/cho1y0/neulbom/internal/fusion"
	"github.com/cho1y0/neulbom/internal/health"
	"github.com/cho1y0/neulbom/internal/jobs"
	"github.com/cho1y0/neulbom/internal/notify"
	"github.com/cho1y0/neulbom/internal/notify/slack"
	"github.com/cho1y0/neulbom/internal/observe"
	"github.com/cho1y0/neulbom/internal/orchestrator"
	"github.com/cho1y0/neulbom/internal/pitch"
	"github.com/cho1y0/neulbom/internal/reply"
	"github.com/cho1y0/neulbom/internal/resilience"
	"github.com/cho1y0/neulbom/internal/scoring"
	"github.com/cho1y0/neulbom/internal/store"
	"github.com/cho1y0/neulbom/internal/store/postgres"
	"github.com/cho1y0/neulbom/internal/store/sqlite"
	"github.com/cho1y0/neulbom/pkg/provider/emotion"
	"github.com/cho1y0/neulbom/pkg/provider/llm"
	"github.com/cho1y0/neulbom/pkg/provider/stt"
	"github.com/cho1y0/neulbom/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by the command via the config
// registry.
type Providers struct {
	LLM          llm.Provider
	STT          stt.Provider
	TTS          tts.Provider
	TextEmotion  emotion.Classifier
	AudioEmotion emotion.Classifier
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store     store.Store
	archiver  archive.Archiver
	notifier  notify.Notifier
	metrics   *observe.Metrics
	promHTTP  http.Handler
	logLevel  *slog.LevelVar
	version   string
	listener  net.Listener
	jobs      *jobs.Store
	analyzer  *analysis.Analyzer
	generator *reply.Generator
	orch      *orchestrator.Orchestrator
	sched     *Scheduler
	httpSrv   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// unavailable holds optional subsystems that failed to start.
	unavailable []health.Checker

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of opening the configured driver.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithArchiver injects a recording archiver instead of connecting to MinIO.
func WithArchiver(ar archive.Archiver) Option {
	return func(a *App) { a.archiver = ar }
}

// WithNotifier injects a caregiver notifier instead of the Slack client.
func WithNotifier(n notify.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.promHTTP = h }
}

// WithLogLevel lets config reloads adjust the process log level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithVersion reports v in health probes.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithListener serves HTTP on l instead of listening on the configured
// address.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ---- New ----

// New creates an App by wiring all subsystems together. On error every
// resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (_ *App, err error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			a.runClosers()
		}
	}()

	a.optional("store", a.initStore(ctx))
	a.optional("archive", a.initArchive(ctx))
	a.optional("notify", a.initNotify())
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	if err := a.initScheduler(); err != nil {
		return nil, fmt.Errorf("app: init scheduler: %w", err)
	}
	a.initHTTP()
	return a, nil
}

// ---- Init helpers ----

// optional records a subsystem that failed to start. The app runs without
// it and readiness reports it as unavailable.
func (a *App) optional(name string, err error) {
	if err == nil {
		return
	}
	slog.Warn("subsystem unavailable, continuing without it", "subsystem", name, "err", err)
	cause := fmt.Errorf("%s not initialised: %w", name, err)
	a.unavailable = append(a.unavailable, health.Checker{
		Name:     name,
		Optional: true,
		Check:    func(context.Context) error { return cause },
	})
}

// initStore opens the configured persistence backend unless one was
// injected. An empty driver leaves the app without persistence.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	switch a.cfg.Storage.Driver {
	case config.StoragePostgres:
		s, err := postgres.Open(ctx, a.cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = s
	case config.StorageSQLite:
		s, err := sqlite.Open(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		a.store = s
	default:
		slog.Warn("persistence disabled")
		return nil
	}
	a.closers = append(a.closers, a.store.Close)
	slog.Info("store opened", "driver", a.cfg.Storage.Driver)
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	if a.archiver != nil || !a.cfg.Archive.Enabled {
		return nil
	}
	ar, err := miniostore.Open(ctx, a.cfg.Archive.Config)
	if err != nil {
		return err
	}
	a.archiver = ar
	slog.Info("recording archive enabled", "endpoint", a.cfg.Archive.Endpoint, "bucket", a.cfg.Archive.Bucket)
	return nil
}

func (a *App) initNotify() error {
	if a.notifier != nil || !a.cfg.Notify.Enabled {
		return nil
	}
	n, err := slack.New(a.cfg.Notify.Slack)
	if err != nil {
		return err
	}
	a.notifier = n
	slog.Info("caregiver alerts enabled", "channel", a.cfg.Notify.Slack.Channel, "alert_level", a.cfg.Notify.AlertLevel)
	return nil
}

// initPipeline builds pitch → fusion → scoring → analysis, the reply
// generator and the orchestrator on top of them.
func (a *App) initPipeline() error {
	vocab, err := fusion.Resolve(a.cfg.Emotion.ResolvedTextProfile(), a.cfg.Emotion.AudioProfile)
	if err != nil {
		return err
	}

	sigma := a.cfg.Pitch.SigmaMin
	if sigma <= 0 {
		sigma = pitch.DefaultSigmaMin
	}
	var trackerOpts []pitch.TrackerOption
	if a.cfg.Pitch.FMin > 0 && a.cfg.Pitch.FMax > 0 {
		trackerOpts = append(trackerOpts, pitch.WithRange(a.cfg.Pitch.FMin, a.cfg.Pitch.FMax))
	}
	if a.cfg.Pitch.VoicingThreshold > 0 {
		trackerOpts = append(trackerOpts, pitch.WithVoicingThreshold(a.cfg.Pitch.VoicingThreshold))
	}

	fe := fusion.New(vocab,
		fusion.WithThresholds(a.cfg.Fusion),
		fusion.WithClassifiers(a.providers.TextEmotion, a.providers.AudioEmotion),
		fusion.WithPitchAnalyzer(pitch.NewAnalyzer(sigma, trackerOpts...)),
		fusion.WithTimeout(a.cfg.Emotion.Timeout),
	)
	se := scoring.NewEngine(a.cfg.Scoring.Bands)

	if a.providers.STT == nil {
		return errors.New("an stt provider is required")
	}
	lang := a.cfg.Providers.Voice.Language
	if lang == "" {
		lang = "ko"
	}
	a.analyzer, err = analysis.New(a.providers.STT, fe, se,
		analysis.WithSTTConfig(stt.Config{Language: lang}),
		analysis.WithRiskThresholds(a.cfg.Scoring.Risk),
	)
	if err != nil {
		return err
	}

	a.jobs = jobs.NewStore(jobs.WithTTL(a.cfg.Jobs.TTL))
	reg, err := a.metrics.ObserveJobs(a.jobs.Counts)
	if err != nil {
		return fmt.Errorf("observe jobs: %w", err)
	}
	a.closers = append(a.closers, reg.Unregister)

	orchOpts := []orchestrator.Option{
		orchestrator.WithConfig(a.cfg.Orchestrator),
		orchestrator.WithMetrics(a.metrics),
	}
	if a.providers.LLM != nil {
		a.generator = reply.NewGenerator(a.providers.LLM,
			reply.WithPersona(a.cfg.Persona),
			reply.WithRiskThresholds(a.cfg.Scoring.Risk),
		)
		orchOpts = append(orchOpts, orchestrator.WithReplier(a.generator))
	}
	if a.store != nil {
		orchOpts = append(orchOpts, orchestrator.WithStore(a.store))
	}
	if a.providers.TTS != nil {
		orchOpts = append(orchOpts, orchestrator.WithSpeaker(a.providers.TTS, a.cfg.Providers.Voice))
	}
	if a.archiver != nil {
		orchOpts = append(orchOpts, orchestrator.WithArchiver(a.archiver))
	}
	if a.notifier != nil {
		orchOpts = append(orchOpts, orchestrator.WithNotifier(a.notifier, a.cfg.Notify.AlertLevel))
	}

	a.orch, err = orchestrator.New(a.analyzer, a.jobs, orchOpts...)
	return err
}

func (a *App) initScheduler() error {
	digestAt := a.cfg.Notify.DigestSchedule
	if digestAt != "" && a.notifier == nil {
		slog.Info("caregiver digest disabled, no notifier", "schedule", digestAt)
		digestAt = ""
	}
	s, err := NewScheduler(a.orch, a.jobs, a.cfg.Jobs.SweepSchedule, digestAt)
	if err != nil {
		return err
	}
	a.sched = s
	return nil
}

func (a *App) initHTTP() {
	hh := health.New(a.healthCheckers()...).WithVersion(a.version)
	opts := []api.Option{
		api.WithMode(api.Mode(a.cfg.Server.Mode)),
		api.WithMaxUpload(int64(a.cfg.Server.MaxUploadMB) << 20),
		api.WithHealth(hh),
		api.WithMetrics(a.metrics),
	}
	if a.store != nil {
		opts = append(opts, api.WithStore(a.store))
	}
	if a.promHTTP != nil {
		opts = append(opts, api.WithMetricsHandler(a.promHTTP))
	}
	srv := api.New(a.orch, opts...)
	a.httpSrv = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: srv.Handler(),
	}
}

// healthCheckers returns the readiness checks for the configured
// dependencies.
func (a *App) healthCheckers() []health.Checker {
	cs := append([]health.Checker(nil), a.unavailable...)
	if a.store != nil {
		cs = append(cs, health.Checker{Name: "store", Check: a.store.Ping})
	}
	if fb, ok := a.providers.STT.(*resilience.STTFallback); ok {
		cs = append(cs, health.Checker{Name: "stt", Check: func(context.Context) error {
			return allOpen(fb.Status())
		}})
	}
	if fb, ok := a.providers.LLM.(*resilience.LLMFallback); ok {
		cs = append(cs, health.Checker{Name: "llm", Optional: true, Check: func(context.Context) error {
			return allOpen(fb.Status())
		}})
	}
	return cs
}

// allOpen fails when every backend of a fallback group has tripped.
func allOpen(entries []resilience.EntryStatus) error {
	for _, e := range entries {
		if e.State != "open" {
			return nil
		}
	}
	return fmt.Errorf("all %d backends have open circuit breakers", len(entries))
}

// ---- Accessors ----

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// Orchestrator returns the turn orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Analyzer returns the speech-understanding stage.
func (a *App) Analyzer() *analysis.Analyzer { return a.analyzer }

// Scheduler returns the periodic job runner.
func (a *App) Scheduler() *Scheduler { return a.sched }

// ---- Run ----

// Run serves HTTP and runs the scheduler until ctx is cancelled or the
// listener fails. It returns nil after a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		a.sched.Start()
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.sched.Stop(shutdownCtx)
		return a.httpSrv.Shutdown(shutdownCtx)
	})

	slog.Info("app running", "addr", ln.Addr().String(), "mode", a.cfg.Server.Mode)
	return g.Wait()
}

// ---- Shutdown ----

// Shutdown drains the orchestrator and runs the closers. It respects the
// context deadline: queued turns still waiting when ctx expires fail with
// [orchestrator.ErrClosed].
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if a.orch != nil {
			if err := a.orch.Close(ctx); err != nil {
				slog.Warn("orchestrator did not drain", "err", err)
				shutdownErr = err
			}
		}
		a.runClosers()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
