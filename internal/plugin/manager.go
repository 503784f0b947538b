package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"dicebot/internal/config"
	"dicebot/internal/eventbus"
	logx "dicebot/pkg/logx"
)

const callTimeout = 10 * time.Second

// Event is the payload of plugin lifecycle events on the bus.
type Event struct {
	Plugin string `json:"plugin"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
}

type PluginManager struct {
	mu sync.Mutex

	log  logx.Logger
	cfgm *ConfigManager
	deps PluginDeps
	reg  map[string]Plugin
	run  map[string]bool
	// inited tracks plugins that passed Init once; Init is not repeated on
	// enable/disable cycles.
	inited map[string]bool
	// last config blob hash per running plugin (skips redundant OnConfigChange calls)
	lastRawHash map[string]uint64

	// baseCtx outlives the call-scoped contexts passed to StartAll/OnConfigUpdate.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	bound      bool

	// per-plugin run context (cancelled on disable/stop)
	pctx    map[string]context.Context
	pcancel map[string]context.CancelFunc

	// quarantine keeps a plugin disabled while its config blob stays the one that failed.
	quarantine map[string]quarantineState

	cmdm *CommandManager
}

type quarantineState struct {
	rawHash uint64
	err     string
	since   time.Time
	count   int
}

// Status is a point-in-time view of one registered plugin.
type Status struct {
	Name          string
	Enabled       bool
	Running       bool
	Quarantined   bool
	QuarantineErr string
}

func NewPluginManager(log logx.Logger, cfgm *ConfigManager, deps PluginDeps, cmdm *CommandManager) *PluginManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &PluginManager{
		log:         log,
		cfgm:        cfgm,
		deps:        deps,
		reg:         map[string]Plugin{},
		run:         map[string]bool{},
		inited:      map[string]bool{},
		lastRawHash: map[string]uint64{},
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		pctx:        map[string]context.Context{},
		pcancel:     map[string]context.CancelFunc{},
		quarantine:  map[string]quarantineState{},
		cmdm:        cmdm,
	}
}

func (pm *PluginManager) emit(typ string, data Event) {
	if pm.deps.Bus == nil {
		return
	}
	pm.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (pm *PluginManager) isQuarantined(name string, rawHash uint64) bool {
	pm.mu.Lock()
	st, ok := pm.quarantine[name]
	pm.mu.Unlock()
	return ok && st.rawHash == rawHash
}

func (pm *PluginManager) clearQuarantineOnChange(name string, rawHash uint64) {
	pm.mu.Lock()
	st, ok := pm.quarantine[name]
	if ok && st.rawHash != rawHash {
		delete(pm.quarantine, name)
		pm.mu.Unlock()
		pm.log.Info("plugin quarantine cleared (config changed)", logx.String("plugin", name))
		return
	}
	pm.mu.Unlock()
}

func (pm *PluginManager) setQuarantine(name string, rawHash uint64, err error, stage string) {
	if err == nil {
		return
	}
	errStr := err.Error()
	pm.mu.Lock()
	prev, ok := pm.quarantine[name]
	// same broken config again: count it, don't log it again
	if ok && prev.rawHash == rawHash && prev.err == errStr {
		prev.count++
		pm.quarantine[name] = prev
		pm.mu.Unlock()
		return
	}
	count := 1
	if ok {
		count = prev.count + 1
	}
	pm.quarantine[name] = quarantineState{rawHash: rawHash, err: errStr, since: time.Now(), count: count}
	pm.mu.Unlock()

	pm.log.Error("plugin quarantined", logx.String("plugin", name), logx.String("stage", stage), logx.String("err", errStr), logx.Int("count", count))
}

// BindContext binds appCtx to baseCtx via cancellation bridge. First non-nil bind wins.
func (pm *PluginManager) BindContext(appCtx context.Context) {
	pm.mu.Lock()
	if pm.bound || appCtx == nil {
		pm.mu.Unlock()
		return
	}
	pm.bound = true
	baseCancel := pm.baseCancel
	pm.mu.Unlock()

	context.AfterFunc(appCtx, baseCancel)
}

func (pm *PluginManager) Register(p ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		pm.reg[pl.Name()] = pl
	}
	pm.refreshRegistryLocked()
}

func (pm *PluginManager) StartAll(ctx context.Context) error {
	pm.BindContext(ctx)
	return pm.reconcile(pm.cfgm.Get())
}

// StopAll stops every running plugin. Plugins stay registered.
func (pm *PluginManager) StopAll(ctx context.Context, reason StopReason) {
	pm.mu.Lock()
	names := make([]string, 0, len(pm.reg))
	for name := range pm.reg {
		names = append(names, name)
	}
	pm.mu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		pm.stopOne(ctx, name, reason)
	}

	pm.mu.Lock()
	pm.refreshRegistryLocked()
	pm.mu.Unlock()
}

func (pm *PluginManager) OnConfigUpdate(ctx context.Context, cfg *Config) error {
	pm.BindContext(ctx)
	return pm.reconcile(cfg)
}

func (pm *PluginManager) stopOne(stopCtx context.Context, name string, reason StopReason) {
	pm.mu.Lock()
	p := pm.reg[name]
	running := pm.run[name]
	cancel := pm.pcancel[name]
	pm.mu.Unlock()

	if !running || p == nil {
		return
	}

	start := time.Now()
	pm.log.Debug("stopping plugin", logx.String("plugin", name), logx.String("reason", string(reason)))

	if cancel != nil {
		cancel()
	}

	// a misbehaving Stop must not block shutdown past stopCtx
	done := make(chan struct{})
	go func() {
		_ = pm.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) })
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(stopCtx.Err()))
	}

	pm.mu.Lock()
	pm.run[name] = false
	delete(pm.pctx, name)
	delete(pm.pcancel, name)
	delete(pm.lastRawHash, name)
	pm.mu.Unlock()

	took := time.Since(start)
	pm.emit(eventbus.TypePluginStopped, Event{Plugin: name, Reason: string(reason), TookMS: took.Milliseconds()})
	pm.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", string(reason)), logx.Duration("took", took))
}

// reconcile brings running plugins in line with cfg: enables, disables and
// pushes changed config blobs. A plugin whose config fails to validate or
// apply is quarantined until its blob changes.
func (pm *PluginManager) reconcile(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("reconcile: nil config")
	}
	type op struct {
		name    string
		p       Plugin
		raw     PluginConfigRaw
		rawHash uint64
		enabled bool
		run     bool
	}
	pm.mu.Lock()
	ops := make([]op, 0, len(pm.reg))
	for name, p := range pm.reg {
		raw, ok := cfg.Plugins[name]
		ops = append(ops, op{
			name:    name,
			p:       p,
			raw:     raw,
			rawHash: config.PluginHash(raw.Config),
			enabled: ok && raw.Enabled,
			run:     pm.run[name],
		})
	}
	pm.mu.Unlock()
	sort.Slice(ops, func(i, j int) bool { return ops[i].name < ops[j].name })

	for _, o := range ops {
		switch {
		case o.enabled && !o.run:
			pm.enable(o.name, o.p, o.raw, o.rawHash)
		case !o.enabled && o.run:
			stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
			pm.stopOne(stopCtx, o.name, StopPluginDisable)
			cancel()
		case o.enabled && o.run:
			pm.reconfigure(o.name, o.p, o.raw, o.rawHash)
		}
	}

	pm.mu.Lock()
	pm.refreshRegistryLocked()
	pm.mu.Unlock()
	return nil
}

func (pm *PluginManager) enable(name string, p Plugin, raw PluginConfigRaw, rawHash uint64) {
	pm.clearQuarantineOnChange(name, rawHash)
	if pm.isQuarantined(name, rawHash) {
		pm.log.Warn("plugin enable skipped (quarantined)", logx.String("plugin", name))
		return
	}

	pctx, cancel := context.WithCancel(pm.baseCtx)

	pm.mu.Lock()
	needInit := !pm.inited[name]
	deps := pm.deps
	pm.mu.Unlock()
	if needInit {
		ictx, icancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.init."+name, func() error { return p.Init(ictx, deps) })
		icancel()
		if err != nil {
			pm.log.Error("plugin init failed", logx.String("plugin", name), logx.Err(err))
			cancel()
			return
		}
		pm.mu.Lock()
		pm.inited[name] = true
		pm.mu.Unlock()
	}

	if v, ok := p.(ConfigValidator); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := v.ValidateConfig(cctx, raw.Config)
		ccancel()
		if err != nil {
			pm.setQuarantine(name, rawHash, fmt.Errorf("config validate: %w", err), "validate")
			cancel()
			return
		}
	}
	if cp, ok := p.(ConfigurablePlugin); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
		ccancel()
		if err != nil {
			pm.setQuarantine(name, rawHash, fmt.Errorf("config apply: %w", err), "config")
			cancel()
			return
		}
	}

	if err := pm.startWithTimeout(name, p, pctx, cancel, callTimeout); err != nil {
		pm.log.Error("plugin start failed", logx.String("plugin", name), logx.Err(err))
		cancel()
		return
	}

	pm.mu.Lock()
	pm.run[name] = true
	pm.pctx[name] = pctx
	pm.pcancel[name] = cancel
	pm.lastRawHash[name] = rawHash
	delete(pm.quarantine, name)
	pm.mu.Unlock()

	pm.log.Info("plugin started", logx.String("plugin", name))
	pm.emit(eventbus.TypePluginStarted, Event{Plugin: name})
}

func (pm *PluginManager) reconfigure(name string, p Plugin, raw PluginConfigRaw, rawHash uint64) {
	cp, ok := p.(ConfigurablePlugin)
	if !ok {
		return
	}
	pm.mu.Lock()
	oldHash := pm.lastRawHash[name]
	pctx := pm.pctx[name]
	pm.mu.Unlock()
	if rawHash == oldHash {
		pm.log.Debug("plugin config unchanged; skipping", logx.String("plugin", name))
		return
	}
	if pctx == nil {
		pctx = pm.baseCtx
	}

	quarantine := func(err error, stage string) {
		pm.setQuarantine(name, rawHash, err, stage)
		stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
		pm.stopOne(stopCtx, name, StopPluginQuarantine)
		cancel()
	}
	if v, ok := p.(ConfigValidator); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := v.ValidateConfig(cctx, raw.Config)
		ccancel()
		if err != nil {
			quarantine(fmt.Errorf("config validate: %w", err), "validate")
			return
		}
	}
	cctx, ccancel := context.WithTimeout(pctx, callTimeout)
	err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
	ccancel()
	if err != nil {
		quarantine(fmt.Errorf("config apply: %w", err), "config")
		return
	}
	pm.mu.Lock()
	pm.lastRawHash[name] = rawHash
	delete(pm.quarantine, name)
	pm.mu.Unlock()
	pm.log.Info("plugin config applied", logx.String("plugin", name))
}

// startWithTimeout calls Start(pctx) but enforces a deadline. If it times out, plugin ctx is cancelled.
func (pm *PluginManager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-done:
		return err
	case <-t.C:
		cancel()
		grace := time.NewTimer(2 * time.Second)
		defer grace.Stop()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("start timeout (%s): %w", timeout, err)
			}
			return fmt.Errorf("start timeout (%s)", timeout)
		case <-grace.C:
			return fmt.Errorf("start timeout (%s): start did not return after cancel", timeout)
		}
	}
}

func (pm *PluginManager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

// refreshRegistryLocked publishes the commands of running plugins to the router.
func (pm *PluginManager) refreshRegistryLocked() {
	if pm.cmdm == nil {
		return
	}
	names := make([]string, 0, len(pm.reg))
	for name := range pm.reg {
		if pm.run[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var cmds []Command
	for _, name := range names {
		for _, c := range pm.safeCommands(name, pm.reg[name]) {
			c.PluginName = name
			cmds = append(cmds, c)
		}
	}
	pm.cmdm.SetRegistry(cmds)
}

func (pm *PluginManager) safeCommands(name string, p Plugin) (out []Command) {
	if p == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin Commands()",
				logx.String("plugin", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			out = nil
		}
	}()
	return p.Commands()
}

// ValidateConfig runs every enabled plugin's validator against cfg before it
// is committed. It does not call Init/Start/Stop and should be fast.
func (pm *PluginManager) ValidateConfig(ctx context.Context, cfg *Config) error {
	type target struct {
		name string
		v    ConfigValidator
		raw  PluginConfigRaw
	}
	pm.mu.Lock()
	var targets []target
	for name, p := range pm.reg {
		raw, ok := cfg.Plugins[name]
		if !ok || !raw.Enabled {
			continue
		}
		if v, ok := p.(ConfigValidator); ok {
			targets = append(targets, target{name: name, v: v, raw: raw})
		}
	}
	pm.mu.Unlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].name < targets[j].name })

	for _, t := range targets {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := t.v.ValidateConfig(cctx, t.raw.Config)
		cancel()
		if err != nil {
			return fmt.Errorf("plugin %s: %w", t.name, err)
		}
	}
	return nil
}

// Snapshot lists registered plugins sorted by name.
func (pm *PluginManager) Snapshot() []Status {
	var cfg *Config
	if pm.cfgm != nil {
		cfg = pm.cfgm.Get()
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]Status, 0, len(pm.reg))
	for name := range pm.reg {
		st := Status{Name: name, Running: pm.run[name]}
		if cfg != nil {
			st.Enabled = cfg.Plugins[name].Enabled
		}
		if q, ok := pm.quarantine[name]; ok {
			st.Quarantined = true
			st.QuarantineErr = q.err
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
