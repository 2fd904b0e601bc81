package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/cho1y0/neulbom/internal/fusion"
	"github.com/cho1y0/neulbom/internal/scoring"
)

// ValidProviderNames lists the built-in provider names per kind. Unknown
// names only produce a warning so third-party factories can be registered.
var ValidProviderNames = map[string][]string{
	"llm":     {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":     {"openai", "deepgram", "whisper", "whisper-native"},
	"tts":     {"elevenlabs", "coqui"},
	"emotion": {"remote"},
}

// Load reads, defaults and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, applies defaults and validates.
// Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// ApplyDefaults fills every unset field with its stock value.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = ":8000"
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.Mode == "" {
		s.Mode = ModeSync
	}
	if s.MaxUploadMB <= 0 {
		s.MaxUploadMB = 32
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Emotion.Timeout <= 0 {
		cfg.Emotion.Timeout = 30 * time.Second
	}
	if cfg.Fusion == (fusion.Thresholds{}) {
		cfg.Fusion = fusion.DefaultThresholds()
	}
	cfg.Scoring.Bands = cfg.Scoring.Bands.WithDefaults()
	if cfg.Scoring.Risk == (scoring.RiskThresholds{}) {
		cfg.Scoring.Risk = scoring.DefaultRiskThresholds()
	}
	cfg.Orchestrator = cfg.Orchestrator.WithDefaults()
	cfg.Persona = cfg.Persona.WithDefaults()

	if cfg.Notify.AlertLevel == "" {
		cfg.Notify.AlertLevel = scoring.RiskHigh
	}
	if cfg.Jobs.TTL <= 0 {
		cfg.Jobs.TTL = time.Hour
	}
	if cfg.Jobs.SweepSchedule == "" {
		cfg.Jobs.SweepSchedule = "@every 5m"
	}
}

// Validate checks cfg for coherence and returns every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("server.mode %q is invalid; valid values: sync, async, quick", cfg.Server.Mode))
	}
	if t := cfg.Server.TLS; t != nil && (t.CertFile == "" || t.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TextEmotion.Name == "" || cfg.Providers.AudioEmotion.Name == "" {
		slog.Warn("emotion classifiers not configured; every turn will fall back to the degraded decision")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is empty; replies and caregiver reports are disabled")
	}
	if cfg.Providers.TTS.Name != "" && cfg.Providers.Voice.ID == "" {
		errs = append(errs, errors.New("providers.voice.id is required when providers.tts is set"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, e := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", e.Name)
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for _, e := range cfg.Providers.STTFallbacks {
		validateProviderName("stt", e.Name)
	}
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for _, e := range cfg.Providers.TTSFallbacks {
		validateProviderName("tts", e.Name)
	}
	if cfg.Providers.TTS.Name == "" && len(cfg.Providers.TTSFallbacks) > 0 {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}
	validateProviderName("emotion", cfg.Providers.TextEmotion.Name)
	validateProviderName("emotion", cfg.Providers.AudioEmotion.Name)

	// Emotion vocabulary
	if _, err := fusion.Resolve(cfg.Emotion.ResolvedTextProfile(), cfg.Emotion.AudioProfile); err != nil {
		errs = append(errs, fmt.Errorf("emotion: %w (text profiles %v, audio profiles %v)", err, fusion.TextProfiles(), fusion.AudioProfiles()))
	}

	// Pitch
	if p := cfg.Pitch; p.SigmaMin < 0 || p.FMin < 0 || (p.FMax != 0 && p.FMax <= p.FMin) {
		errs = append(errs, fmt.Errorf("pitch: invalid range sigma_min=%.2f fmin=%.2f fmax=%.2f", p.SigmaMin, p.FMin, p.FMax))
	}
	if v := cfg.Pitch.VoicingThreshold; v < 0 || v >= 1 {
		errs = append(errs, fmt.Errorf("pitch.voicing_threshold %.2f is out of range [0, 1)", v))
	}

	if err := cfg.Scoring.Bands.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := cfg.Scoring.Risk.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := cfg.Persona.Validate(); err != nil {
		errs = append(errs, err)
	}

	// Storage
	switch cfg.Storage.Driver {
	case StorageNone:
		slog.Warn("storage.driver is empty; turns will not be persisted")
	case StoragePostgres:
		if cfg.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	case StorageSQLite:
		if cfg.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: postgres, sqlite", cfg.Storage.Driver))
	}

	if cfg.Archive.Enabled {
		if err := cfg.Archive.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	// Notify
	switch cfg.Notify.AlertLevel {
	case scoring.RiskLow, scoring.RiskMedium, scoring.RiskHigh:
	default:
		errs = append(errs, fmt.Errorf("notify.alert_level %q is invalid; valid values: low, medium, high", cfg.Notify.AlertLevel))
	}
	if cfg.Notify.Enabled && (cfg.Notify.Slack.Token == "" || cfg.Notify.Slack.Channel == "") {
		errs = append(errs, errors.New("notify.slack.token and notify.slack.channel are required when notify is enabled"))
	}
	if s := cfg.Notify.DigestSchedule; s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			errs = append(errs, fmt.Errorf("notify.digest_schedule %q: %w", s, err))
		}
	}
	if _, err := cron.ParseStandard(cfg.Jobs.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("jobs.sweep_schedule %q: %w", cfg.Jobs.SweepSchedule, err))
	}

	return errors.Join(errs...)
}

// validateProviderName warns when name is not a built-in provider of kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if known := ValidProviderNames[kind]; !slices.Contains(known, name) {
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"kind", kind,
			"name", name,
			"known", known,
		)
	}
}
