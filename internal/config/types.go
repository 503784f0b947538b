package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging  LoggingConfig              `json:"logging"`
	Host     HostConfig                 `json:"host"`
	Commands CommandsConfig             `json:"commands"`
	Metrics  MetricsConfig              `json:"metrics"`
	Plugins  map[string]PluginConfigRaw `json:"plugins"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

// LoggingFile controls the rotated JSON log file.
//
// Defaults (when fields are omitted/zero):
//   - path: "./dicebot.log"
//   - max_size_mb: 1 (minimum)
//   - max_backups / max_age_days: 0 (keep everything)
type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// HostConfig describes the in-process game host: the console operator and
// the roster of connected players. The roster is replaced wholesale on reload.
type HostConfig struct {
	Console ConsoleConfig  `json:"console"`
	Players []PlayerConfig `json:"players,omitempty"`
}

type ConsoleConfig struct {
	// Name is shown as {PLAYER} when the console rolls. Default: "CONSOLE".
	Name string `json:"name,omitempty"`
	// Color renders &-codes as ANSI. nil means auto-detect (tty).
	Color *bool `json:"color,omitempty"`
}

type PlayerConfig struct {
	Name        string   `json:"name"`
	World       string   `json:"world"`
	X           int      `json:"x"`
	Y           int      `json:"y"`
	Z           int      `json:"z"`
	Permissions []string `json:"permissions,omitempty"`
}

// CommandsConfig controls the command dispatcher.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
//   - rate_per_sec: 0 (rate limiting disabled)
//   - burst: 1 when rate limiting is on
type CommandsConfig struct {
	Workers        int     `json:"workers,omitempty"`
	QueueSize      int     `json:"queue_size,omitempty"`
	DefaultTimeout string  `json:"default_timeout,omitempty"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
	Burst          int     `json:"burst,omitempty"`
}

// MetricsConfig controls the anonymous usage beacon.
//
// Example:
//
//	"metrics": { "enabled": true, "url": "https://stats.example.org/v1/dice", "schedule": "*/30 * * * *" }
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
	// Schedule is a 5-field cron spec. Default: "*/30 * * * *".
	Schedule string `json:"schedule,omitempty"`
	// Timeout is a Go duration string. Default: "10s".
	Timeout string `json:"timeout,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos in plugin blocks
// are caught early during config reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}
