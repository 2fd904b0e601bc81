// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the neulbom companion server.
package config

import (
	"time"

	"github.com/cho1y0/neulbom/internal/archive/minio"
	"github.com/cho1y0/neulbom/internal/fusion"
	"github.com/cho1y0/neulbom/internal/notify/slack"
	"github.com/cho1y0/neulbom/internal/orchestrator"
	"github.com/cho1y0/neulbom/internal/reply"
	"github.com/cho1y0/neulbom/internal/scoring"
	"github.com/cho1y0/neulbom/pkg/provider/tts"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects how uploads are answered. See the api package.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
	ModeQuick Mode = "quick"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeSync || m == ModeAsync || m == ModeQuick
}

// StorageDriver selects the persistence backend.
type StorageDriver string

const (
	StorageNone     StorageDriver = ""
	StoragePostgres StorageDriver = "postgres"
	StorageSQLite   StorageDriver = "sqlite"
)

// Config is the root configuration, usually loaded with [Load].
type Config struct {
	Server       ServerConfig        `yaml:"server"`
	Providers    ProvidersConfig     `yaml:"providers"`
	Emotion      EmotionConfig       `yaml:"emotion"`
	Pitch        PitchConfig         `yaml:"pitch"`
	Fusion       fusion.Thresholds   `yaml:"fusion"`
	Scoring      ScoringConfig       `yaml:"scoring"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Storage      StorageConfig       `yaml:"storage"`
	Archive      ArchiveConfig       `yaml:"archive"`
	Notify       NotifyConfig        `yaml:"notify"`
	Jobs         JobsConfig          `yaml:"jobs"`
	Persona      reply.Persona       `yaml:"persona"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address to listen on. Default ":8000".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// Mode selects how POST /analyze answers. Default sync.
	Mode Mode `yaml:"mode"`

	// MaxUploadMB bounds a recording upload. Default 32.
	MaxUploadMB int `yaml:"max_upload_mb"`

	// ShutdownTimeout bounds graceful shutdown. Default 30s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the implementation of each external model.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	// TTS is optional; when set every reply is synthesized with Voice.
	TTS          ProviderEntry    `yaml:"tts"`
	TTSFallbacks []ProviderEntry  `yaml:"tts_fallbacks"`
	Voice        tts.VoiceProfile `yaml:"voice"`

	TextEmotion  ProviderEntry `yaml:"text_emotion"`
	AudioEmotion ProviderEntry `yaml:"audio_emotion"`
}

// ProviderEntry is the block shared by every provider kind. Name selects
// the factory in the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific values.
	Options map[string]any `yaml:"options"`
}

// EmotionConfig names the classifier models so fusion can pick the label
// vocabulary they speak.
type EmotionConfig struct {
	// TextModel and AudioModel identify the deployed models.
	TextModel  string `yaml:"text_model"`
	AudioModel string `yaml:"audio_model"`

	// TextProfile and AudioProfile override the vocabulary derived from the
	// model names (korean-6, generic-7, speech-5).
	TextProfile  string `yaml:"text_profile"`
	AudioProfile string `yaml:"audio_profile"`

	// Timeout bounds each classifier call. Default 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// ResolvedTextProfile returns the text vocabulary to use.
func (e EmotionConfig) ResolvedTextProfile() string {
	if e.TextProfile != "" {
		return e.TextProfile
	}
	return fusion.TextProfileForModel(e.TextModel)
}

// PitchConfig tunes the F0 tracker.
type PitchConfig struct {
	SigmaMin         float64 `yaml:"sigma_min"`
	FMin             float64 `yaml:"fmin"`
	FMax             float64 `yaml:"fmax"`
	VoicingThreshold float64 `yaml:"voicing_threshold"`
}

// ScoringConfig holds the metric bands and risk marks.
type ScoringConfig struct {
	Bands scoring.Bands          `yaml:",inline"`
	Risk  scoring.RiskThresholds `yaml:"risk"`
}

// StorageConfig selects the persistence backend. An empty driver disables
// persistence.
type StorageConfig struct {
	Driver      StorageDriver `yaml:"driver"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	SQLitePath  string        `yaml:"sqlite_path"`
}

// ArchiveConfig enables recording archival.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled"`

	minio.Config `yaml:",inline"`
}

// NotifyConfig enables caregiver alerts and the daily digest.
type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`

	Slack slack.Config `yaml:"slack"`

	// AlertLevel is the lowest risk that triggers an alert. Default high.
	AlertLevel scoring.RiskLevel `yaml:"alert_level"`

	// DigestSchedule is a cron expression for the daily session digest.
	// Empty disables the digest.
	DigestSchedule string `yaml:"digest_schedule"`
}

// JobsConfig controls job retention.
type JobsConfig struct {
	// TTL is how long finished jobs stay pollable. Default 1h.
	TTL time.Duration `yaml:"ttl"`

	// SweepSchedule is a cron expression for evicting expired jobs.
	// Default "@every 5m".
	SweepSchedule string `yaml:"sweep_schedule"`
}
