package app

import (
	"strings"

	"dicebot/internal/config"
	"dicebot/internal/host"
	"dicebot/internal/host/memhost"
	"dicebot/internal/transport/console"
	logx "dicebot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	f := cfg.Logging.File
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    f.Enabled,
			Path:       f.Path,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		},
	}
}

func mapRoster(cfg *config.Config) []memhost.PlayerSpec {
	out := make([]memhost.PlayerSpec, 0, len(cfg.Host.Players))
	for _, p := range cfg.Host.Players {
		out = append(out, memhost.PlayerSpec{
			Name:        strings.TrimSpace(p.Name),
			Location:    host.Location{World: p.World, X: p.X, Y: p.Y, Z: p.Z},
			Permissions: p.Permissions,
		})
	}
	return out
}

func colorEnabled(cfg *config.Config) bool {
	if c := cfg.Host.Console.Color; c != nil {
		return *c
	}
	return console.AutoColor()
}
