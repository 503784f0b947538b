// Package app is the composition root: it builds every component from the
// config file and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"dicebot/internal/config"
	"dicebot/internal/eventbus"
	"dicebot/internal/host"
	"dicebot/internal/host/memhost"
	"dicebot/internal/metrics"
	"dicebot/internal/plugin"
	"dicebot/internal/router"
	"dicebot/internal/runtime/supervisor"
	kit "dicebot/internal/transport"
	"dicebot/internal/transport/console"
	logx "dicebot/pkg/logx"
	"dicebot/pkg/systemd"
)

// Options are the process-level inputs that do not live in the config file.
type Options struct {
	In      io.Reader
	Out     io.Writer
	Version string
	// History is the per-caller message history kept by the host. Zero keeps none.
	History int
}

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	host    *memhost.Host
	adapter *console.Adapter
	cmdm    *router.CommandManager
	pm      *plugin.PluginManager
	beacon  *metrics.Beacon

	updates chan kit.Update

	applyMu     sync.Mutex
	lastApplied *config.Config
}

// New loads cfgPath, writing the default file first when it does not exist.
func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	created, err := cfgm.EnsureFile()
	if err != nil {
		return nil, err
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	if created {
		log.Info("default config written", logx.String("path", cfgPath))
	}

	bus := eventbus.New()
	styler := console.NewStyler(colorEnabled(cfg))

	mh := memhost.New(memhost.WithConsoleName(cfg.Host.Console.Name), memhost.WithHistory(opts.History))
	mh.SetRoster(mapRoster(cfg))
	ad := console.New(opts.In, opts.Out, mh, mh.Console(), log.With(logx.String("comp", "console")))
	mh.SetSink(ad.Deliver)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		host:    mh,
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}

	a.cmdm = router.NewCommandManager(log.With(logx.String("comp", "commands")), styler, cfg.Commands)
	a.pm = plugin.NewPluginManager(log.With(logx.String("comp", "plugins")), cfgm, plugin.PluginDeps{
		Logger: log,
		Host: host.Bindings{
			Directory: mh,
			Styler:    styler,
			Reloader:  host.ReloaderFunc(a.Reload),
			Log:       log,
		},
		Bus:    bus,
		Config: cfgm,
	}, a.cmdm)
	a.beacon = metrics.New(log.With(logx.String("comp", "beacon")), mh, bus, opts.Version)
	return a, nil
}

func (a *App) Plugins() *plugin.PluginManager { return a.pm }

func (a *App) Commands() *router.CommandManager { return a.cmdm }

func (a *App) Host() *memhost.Host { return a.host }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) validate(ctx context.Context, cfg *config.Config) error {
	seen := map[string]bool{}
	for i, p := range cfg.Host.Players {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return fmt.Errorf("host.players[%d].name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("host.players[%d]: duplicate name %q", i, p.Name)
		}
		seen[name] = true
	}
	if cfg.Commands.Workers < 0 {
		return errors.New("commands.workers must be >= 0")
	}
	if cfg.Commands.QueueSize < 0 {
		return errors.New("commands.queue_size must be >= 0")
	}
	if cfg.Commands.RatePerSec < 0 || cfg.Commands.Burst < 0 {
		return errors.New("commands.rate_per_sec and commands.burst must be >= 0")
	}
	if _, err := config.ParseDuration("commands.default_timeout", cfg.Commands.DefaultTimeout); err != nil {
		return err
	}
	if err := metrics.Validate(cfg.Metrics); err != nil {
		return err
	}
	return a.pm.ValidateConfig(ctx, cfg)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)
	if err := a.validate(ctx, a.cfgm.Get()); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		return err
	}
	a.applyMu.Lock()
	a.lastApplied = a.cfgm.Get()
	a.applyMu.Unlock()

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if a.log.Enabled(logx.LevelTrace) {
					a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
				}
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts: keep only the latest config
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.apply(c, newCfg)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if err := a.beacon.Start(a.sup.Context(), a.cfgm.Get().Metrics); err != nil {
		a.log.Warn("beacon not started", logx.Err(err))
	}

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started", logx.Any("plugins", a.pm.Snapshot()))
	return nil
}

// Reload re-reads the config file and applies it before returning, so a
// caller sees the new settings as soon as Reload succeeds.
func (a *App) Reload(ctx context.Context) error {
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	cfg, _, err := a.cfgm.Reload(ctx)
	if err != nil {
		a.log.Warn("config reload rejected", logx.Err(err))
		return err
	}
	// the watcher may have committed this config without applying it yet
	a.apply(ctx, cfg)
	return nil
}

// apply pushes a committed config to every component. The watch loop and
// Reload may both deliver the same config; only the first applies it, and a
// config that is no longer current is skipped.
func (a *App) apply(ctx context.Context, cfg *config.Config) {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()
	if cfg == nil || cfg == a.lastApplied || cfg != a.cfgm.Get() {
		return
	}

	sections, attrs, pluginChanged := config.SummarizeConfigChange(a.lastApplied, cfg)
	if len(pluginChanged) > 0 {
		a.log.Debug("plugin config changes detected", logx.Strings("plugins", pluginChanged))
	}
	a.lastApplied = cfg

	a.logs.Apply(mapLogConfig(cfg))
	a.host.SetRoster(mapRoster(cfg))
	a.cmdm.Apply(cfg.Commands)
	if err := a.beacon.Apply(cfg.Metrics); err != nil {
		a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
	}
	if err := a.pm.OnConfigUpdate(ctx, cfg); err != nil {
		a.log.Warn("plugin reconcile failed", logx.Err(err))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Data: sections})

	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

func (a *App) Stop(ctx context.Context, reason plugin.StopReason) error {
	if a.sup == nil {
		return nil
	}
	if reason == "" {
		reason = plugin.StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// cancel the run context first so background loops start unwinding
	a.sup.Cancel()

	a.step(ctx, "plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })
	a.step(ctx, "beacon", 2*time.Second, a.beacon.Stop)
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	// config watch/reload, command dispatcher
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max so a stuck component cannot
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
