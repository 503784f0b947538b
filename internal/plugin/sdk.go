package plugin

import (
	"context"
	"encoding/json"

	"dicebot/internal/eventbus"
	"dicebot/internal/host"
	"dicebot/internal/runtime/supervisor"
	logx "dicebot/pkg/logx"
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps PluginDeps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

// ConfigurablePlugin receives its config blob before Start and again whenever it changes.
type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// ConfigValidator is an optional hook to validate plugin config before applying it.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

type PluginDeps struct {
	Logger logx.Logger
	Host   host.Bindings
	Bus    eventbus.Bus
	Config *ConfigManager
}

// PluginBase is a small helper to make writing plugins faster and safer.
// Typical usage:
//
//	type Plugin struct { plugin.PluginBase }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.PluginDeps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); p.Runner.Go(...); return nil }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
type PluginBase struct {
	Log    logx.Logger
	Deps   PluginDeps
	Runner *Supervisor

	ctx context.Context
}

// InitBase wires deps + logger.
func (b *PluginBase) InitBase(deps PluginDeps, pluginName string) {
	b.Deps = deps
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	b.Log = log.With(logx.String("plugin", pluginName))
}

// StartBase creates a per-plugin supervisor tied to ctx.
func (b *PluginBase) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = supervisor.New(ctx, supervisor.WithLogger(b.Log), supervisor.WithCancelOnError(false))
}

// StopBase cancels runner + waits bounded by ctx.
func (b *PluginBase) StopBase(ctx context.Context) error {
	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	return err
}

// Context returns the plugin runtime context (canceled on stop/disable).
func (b *PluginBase) Context() context.Context { return b.ctx }

// PublishEvent publishes a lightweight event to the in-process event bus (if present).
// Publish is non-blocking.
func (b *PluginBase) PublishEvent(typ string, data any) {
	if b == nil || b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}
