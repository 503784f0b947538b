package config

import (
	"reflect"
	"sort"
	"strings"

	logx "dicebot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (the beacon URL is reduced to a flag),
// and (3) a list of plugin names that changed (enable/config).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Host roster
	if !reflect.DeepEqual(oldCfg.Host, newCfg.Host) {
		changed = append(changed, "host")
		attrs = append(attrs,
			logx.String("host.console_name", strings.TrimSpace(newCfg.Host.Console.Name)),
			logx.Int("host.players", len(newCfg.Host.Players)),
		)
	}

	// Commands
	if oldCfg.Commands.Workers != newCfg.Commands.Workers ||
		oldCfg.Commands.QueueSize != newCfg.Commands.QueueSize ||
		strings.TrimSpace(oldCfg.Commands.DefaultTimeout) != strings.TrimSpace(newCfg.Commands.DefaultTimeout) ||
		oldCfg.Commands.RatePerSec != newCfg.Commands.RatePerSec ||
		oldCfg.Commands.Burst != newCfg.Commands.Burst {
		changed = append(changed, "commands")
		attrs = append(attrs,
			logx.Int("commands.workers", newCfg.Commands.Workers),
			logx.Int("commands.queue_size", newCfg.Commands.QueueSize),
			logx.String("commands.default_timeout", strings.TrimSpace(newCfg.Commands.DefaultTimeout)),
			logx.Any("commands.rate_per_sec", newCfg.Commands.RatePerSec),
			logx.Int("commands.burst", newCfg.Commands.Burst),
		)
	}

	// Metrics (never log the full URL)
	if oldCfg.Metrics.Enabled != newCfg.Metrics.Enabled ||
		strings.TrimSpace(oldCfg.Metrics.URL) != strings.TrimSpace(newCfg.Metrics.URL) ||
		strings.TrimSpace(oldCfg.Metrics.Schedule) != strings.TrimSpace(newCfg.Metrics.Schedule) ||
		strings.TrimSpace(oldCfg.Metrics.Timeout) != strings.TrimSpace(newCfg.Metrics.Timeout) {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.Bool("metrics.url_set", strings.TrimSpace(newCfg.Metrics.URL) != ""),
			logx.String("metrics.schedule", strings.TrimSpace(newCfg.Metrics.Schedule)),
		)
	}

	// Plugins (summarize only; details at debug)
	pluginChanged := diffPlugins(oldCfg.Plugins, newCfg.Plugins)
	if len(pluginChanged) > 0 {
		changed = append(changed, "plugins")
		attrs = append(attrs,
			logx.Int("plugins.changed_count", len(pluginChanged)),
			logx.Int("plugins.enabled_count", countEnabled(newCfg.Plugins)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, pluginChanged
}

func countEnabled(m map[string]PluginConfigRaw) int {
	n := 0
	for _, v := range m {
		if v.Enabled {
			n++
		}
	}
	return n
}

func diffPlugins(oldM, newM map[string]PluginConfigRaw) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o := oldM[name]
		n := newM[name]
		if o.Enabled != n.Enabled {
			out = append(out, name)
			continue
		}
		if PluginHash(o.Config) != PluginHash(n.Config) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
