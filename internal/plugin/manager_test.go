package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"dicebot/internal/config"
	"dicebot/internal/eventbus"
	"dicebot/internal/router"
	logx "dicebot/pkg/logx"

	"github.com/google/go-cmp/cmp"
)

type fakePlugin struct {
	PluginBase

	mu       sync.Mutex
	calls    []string
	applied  []string
	rejectIf string
	panicOn  string
}

func (f *fakePlugin) Name() string { return "fake" }

func (f *fakePlugin) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakePlugin) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePlugin) Init(ctx context.Context, deps PluginDeps) error {
	f.InitBase(deps, f.Name())
	f.record("init")
	return nil
}

func (f *fakePlugin) Start(ctx context.Context) error {
	f.StartBase(ctx)
	f.record("start")
	return nil
}

func (f *fakePlugin) Stop(ctx context.Context) error {
	f.record("stop")
	return f.StopBase(ctx)
}

func (f *fakePlugin) Commands() []Command {
	return []Command{{Route: "fake", Handle: func(ctx context.Context, req *Request) error {
		req.Reply("fake ok")
		return nil
	}}}
}

func (f *fakePlugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	var c struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return err
	}
	if f.rejectIf != "" && c.Mode == f.rejectIf {
		return errors.New("mode rejected")
	}
	return nil
}

func (f *fakePlugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	f.record("config")
	if f.panicOn != "" && string(raw) == f.panicOn {
		panic("bad config")
	}
	f.mu.Lock()
	f.applied = append(f.applied, string(raw))
	f.mu.Unlock()
	return nil
}

func pluginCfg(enabled bool, raw string) *config.Config {
	return &config.Config{Plugins: map[string]config.PluginConfigRaw{
		"fake": {Enabled: enabled, Config: json.RawMessage(raw)},
	}}
}

type harness struct {
	pm   *PluginManager
	cmdm *router.CommandManager
	cfgm *config.ConfigManager
	bus  eventbus.Bus
	fake *fakePlugin
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	cfgm := config.NewConfigManager("unused.yaml")
	cfgm.Commit(cfg)
	cmdm := router.NewCommandManager(logx.Nop(), nil, config.CommandsConfig{})
	bus := eventbus.New()
	pm := NewPluginManager(logx.Nop(), cfgm, PluginDeps{Bus: bus, Config: cfgm}, cmdm)
	fake := &fakePlugin{rejectIf: "bad", panicOn: `{"mode":"panic"}`}
	pm.Register(fake)
	return &harness{pm: pm, cmdm: cmdm, cfgm: cfgm, bus: bus, fake: fake}
}

func routes(m *router.CommandManager) []string {
	var out []string
	for _, c := range m.Commands() {
		out = append(out, c.Route)
	}
	return out
}

func TestStartAllEnablesAndRegistersCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pluginCfg(true, `{"mode":"a"}`))
	events, unsub := h.bus.Subscribe(8, eventbus.TypePluginStarted)
	defer unsub()

	if diff := cmp.Diff([]string{"help"}, routes(h.cmdm)); diff != "" {
		t.Fatalf("routes before start (-want +got):\n%s", diff)
	}
	if err := h.pm.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if diff := cmp.Diff([]string{"init", "config", "start"}, h.fake.Calls()); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"fake", "help"}, routes(h.cmdm)); diff != "" {
		t.Fatalf("routes (-want +got):\n%s", diff)
	}
	select {
	case e := <-events:
		if ev, _ := e.Data.(Event); ev.Plugin != "fake" {
			t.Fatalf("event = %+v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no plugin.started event")
	}
	if h.fake.Context() == nil || h.fake.Context().Err() != nil {
		t.Fatal("plugin context should be live while running")
	}
}

func TestOnConfigUpdateSkipsUnchangedBlob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pluginCfg(true, `{"mode":"a"}`))
	ctx := context.Background()
	_ = h.pm.StartAll(ctx)

	// same content, different formatting
	_ = h.pm.OnConfigUpdate(ctx, pluginCfg(true, `{ "mode" : "a" }`))
	_ = h.pm.OnConfigUpdate(ctx, pluginCfg(true, `{"mode":"b"}`))

	want := []string{`{"mode":"a"}`, `{"mode":"b"}`}
	h.fake.mu.Lock()
	got := append([]string(nil), h.fake.applied...)
	h.fake.mu.Unlock()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("applied (-want +got):\n%s", diff)
	}
}

func TestDisableStopsAndUnregisters(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pluginCfg(true, `{}`))
	ctx := context.Background()
	_ = h.pm.StartAll(ctx)
	pctx := h.fake.Context()

	_ = h.pm.OnConfigUpdate(ctx, pluginCfg(false, `{}`))
	if diff := cmp.Diff([]string{"help"}, routes(h.cmdm)); diff != "" {
		t.Fatalf("routes (-want +got):\n%s", diff)
	}
	if pctx.Err() == nil {
		t.Fatal("plugin context should be cancelled after disable")
	}

	// re-enable does not Init twice
	_ = h.pm.OnConfigUpdate(ctx, pluginCfg(true, `{}`))
	want := []string{"init", "config", "start", "stop", "config", "start"}
	if diff := cmp.Diff(want, h.fake.Calls()); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
}

func TestInvalidConfigQuarantinesUntilChanged(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pluginCfg(true, `{"mode":"bad"}`))
	ctx := context.Background()
	_ = h.pm.StartAll(ctx)

	snap := h.pm.Snapshot()
	if len(snap) != 1 || snap[0].Running || !snap[0].Quarantined || !snap[0].Enabled {
		t.Fatalf("snapshot = %+v, want quarantined and not running", snap)
	}

	_ = h.pm.OnConfigUpdate(ctx, pluginCfg(true, `{"mode":"bad"}`))
	if h.pm.Snapshot()[0].Running {
		t.Fatal("same broken config must stay quarantined")
	}

	_ = h.pm.OnConfigUpdate(ctx, pluginCfg(true, `{"mode":"good"}`))
	if st := h.pm.Snapshot()[0]; !st.Running || st.Quarantined {
		t.Fatalf("snapshot = %+v, want running", st)
	}
}

func TestPanicInConfigChangeStopsPlugin(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pluginCfg(true, `{"mode":"a"}`))
	ctx := context.Background()
	_ = h.pm.StartAll(ctx)

	_ = h.pm.OnConfigUpdate(ctx, pluginCfg(true, `{"mode":"panic"}`))
	st := h.pm.Snapshot()[0]
	if st.Running || !st.Quarantined {
		t.Fatalf("snapshot = %+v, want stopped and quarantined", st)
	}
	if diff := cmp.Diff([]string{"help"}, routes(h.cmdm)); diff != "" {
		t.Fatalf("routes (-want +got):\n%s", diff)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pluginCfg(true, `{}`))
	ctx := context.Background()

	if err := h.pm.ValidateConfig(ctx, pluginCfg(true, `{"mode":"bad"}`)); err == nil {
		t.Fatal("want validation error")
	}
	if err := h.pm.ValidateConfig(ctx, pluginCfg(false, `{"mode":"bad"}`)); err != nil {
		t.Fatalf("disabled plugins are not validated: %v", err)
	}
	if err := h.pm.ValidateConfig(ctx, pluginCfg(true, `{"mode":"ok"}`)); err != nil {
		t.Fatalf("ValidateConfig: %v", err)
	}
}

func TestStopAll(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pluginCfg(true, `{}`))
	_ = h.pm.StartAll(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.pm.StopAll(ctx, StopAppStop)

	if st := h.pm.Snapshot()[0]; st.Running {
		t.Fatal("plugin still running after StopAll")
	}
	if diff := cmp.Diff([]string{"help"}, routes(h.cmdm)); diff != "" {
		t.Fatalf("routes (-want +got):\n%s", diff)
	}
}
