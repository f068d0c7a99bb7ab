package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// is applied without a restart; every other changed section is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart, e.g. "form" or "tts".
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Compare server settings without the log level.
	oldSrv, newSrv := old.Server, new.Server
	oldSrv.LogLevel, newSrv.LogLevel = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldSrv, newSrv},
		{"session", old.Session, new.Session},
		{"store", old.Store, new.Store},
		{"sink", old.Sink, new.Sink},
		{"tts", old.TTS, new.TTS},
		{"prompts", old.Prompts, new.Prompts},
		{"form", old.Form, new.Form},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
