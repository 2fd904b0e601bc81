package config

import "reflect"

// ConfigDiff describes what changed between two configs. The Changed
// flags cover fields applied at runtime; RestartRequired lists the blocks
// that changed but only take effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	FusionChanged bool
	BandsChanged  bool
	RiskChanged   bool
	AlertChanged  bool
	NewAlertLevel string

	RestartRequired []string
}

// HotChanged reports whether any runtime-applicable field changed.
func (d ConfigDiff) HotChanged() bool {
	return d.LogLevelChanged || d.FusionChanged || d.BandsChanged || d.RiskChanged || d.AlertChanged
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.FusionChanged = old.Fusion != new.Fusion
	d.BandsChanged = old.Scoring.Bands != new.Scoring.Bands
	d.RiskChanged = old.Scoring.Risk != new.Scoring.Risk
	if old.Notify.AlertLevel != new.Notify.AlertLevel {
		d.AlertChanged = true
		d.NewAlertLevel = string(new.Notify.AlertLevel)
	}

	restart := []struct {
		name     string
		old, new any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"server.mode", old.Server.Mode, new.Server.Mode},
		{"server.tls", old.Server.TLS, new.Server.TLS},
		{"providers", old.Providers, new.Providers},
		{"emotion", old.Emotion, new.Emotion},
		{"pitch", old.Pitch, new.Pitch},
		{"orchestrator", old.Orchestrator, new.Orchestrator},
		{"storage", old.Storage, new.Storage},
		{"archive", old.Archive, new.Archive},
		{"notify.slack", old.Notify.Slack, new.Notify.Slack},
		{"notify.digest_schedule", old.Notify.DigestSchedule, new.Notify.DigestSchedule},
		{"jobs", old.Jobs, new.Jobs},
		{"persona", old.Persona, new.Persona},
	}
	for _, r := range restart {
		if !reflect.DeepEqual(r.old, r.new) {
			d.RestartRequired = append(d.RestartRequired, r.name)
		}
	}
	return d
}
