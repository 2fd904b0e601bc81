package app

import (
	"log/slog"

	"github.com/cho1y0/neulbom/internal/config"
)

// ApplyConfig applies the runtime-adjustable parts of a reloaded config.
// It has the signature expected by [config.NewWatcher].
func (a *App) ApplyConfig(d config.ConfigDiff, cfg *config.Config) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
	}
	if d.FusionChanged {
		a.analyzer.Fusion().SetThresholds(cfg.Fusion)
	}
	if d.BandsChanged {
		a.analyzer.Scoring().SetBands(cfg.Scoring.Bands)
	}
	if d.RiskChanged {
		a.analyzer.SetRiskThresholds(cfg.Scoring.Risk)
		if a.generator != nil {
			a.generator.SetRiskThresholds(cfg.Scoring.Risk)
		}
	}
	if d.AlertChanged {
		a.orch.SetAlertLevel(cfg.Notify.AlertLevel)
	}
	if d.HotChanged() {
		slog.Info("config applied",
			"log_level", d.LogLevelChanged,
			"fusion", d.FusionChanged,
			"bands", d.BandsChanged,
			"risk", d.RiskChanged,
			"alert", d.AlertChanged,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "blocks", d.RestartRequired)
	}
}

// SlogLevel maps a config level onto slog.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

