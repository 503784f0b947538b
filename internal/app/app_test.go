package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	core "dicebot/internal/dice"
	"dicebot/internal/plugin"
	dicep "dicebot/internal/plugin/builtin/dice"

	"github.com/google/go-cmp/cmp"
)

const testConfig = `
logging:
  level: error
  console: false
host:
  console:
    name: OPERATOR
    color: false
  players:
    - {name: alice, world: overworld, x: 0, y: 64, z: 0, permissions: ["dice.*"]}
    - {name: bob, world: overworld, x: 3, y: 64, z: 4}
commands:
  workers: 2
metrics:
  enabled: false
plugins:
  dice:
    enabled: true
    config:
      message:
        broadcast: "&6{PLAYER} rolled {TOTAL}"
        private: "you rolled {TOTAL}"
      maximum:
        count: MAXCOUNT
        sides: 20
`

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeConfig(t *testing.T, path, maxCount string) {
	t.Helper()
	body := strings.Replace(testConfig, "MAXCOUNT", maxCount, 1)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func startApp(t *testing.T, path, input string) (*App, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	a, err := New(path, Options{In: strings.NewReader(input), Out: out, Version: "test", History: 16})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Plugins().Register(dicep.New(core.NewEngineWith(func(n int) int { return n - 1 })))

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = a.Stop(sctx, plugin.StopAppStop)
		cancel()
	})
	return a, out
}

func TestRollAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "2")
	a, _ := startApp(t, path, "")
	ctx := context.Background()
	alice, _ := a.Host().Player("alice")
	bob, _ := a.Host().Player("bob")

	_ = a.Commands().Execute(ctx, alice, "/roll 2")
	_ = a.Commands().Execute(ctx, alice, "/roll 3")

	writeConfig(t, path, "5")
	if err := a.Commands().Execute(ctx, alice, "/roll reload"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	_ = a.Commands().Execute(ctx, alice, "/roll 5")

	want := []string{
		"alice rolled 12",
		"You cannot roll more than 2 dice at once.",
		"Dice configuration reloaded.",
		"alice rolled 30",
	}
	if diff := cmp.Diff(want, alice.Messages()); diff != "" {
		t.Fatalf("alice (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"alice rolled 12", "alice rolled 30"}, bob.Messages()); diff != "" {
		t.Fatalf("bob (-want +got):\n%s", diff)
	}
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "2")
	a, _ := startApp(t, path, "")
	ctx := context.Background()
	alice, _ := a.Host().Player("alice")

	writeConfig(t, path, "0")
	_ = a.Commands().Execute(ctx, alice, "/roll reload")
	_ = a.Commands().Execute(ctx, alice, "/roll 2")

	msgs := alice.Messages()
	if len(msgs) != 2 || !strings.HasPrefix(msgs[0], "Reload failed:") || msgs[1] != "alice rolled 12" {
		t.Fatalf("alice = %q, want a reload failure then a roll under the old limits", msgs)
	}
}

func TestConsoleTransport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "2")
	_, out := startApp(t, path, "@bob /roll\n/roll 2 d20\n@nobody /roll\n")

	want := []string{
		"[bob] you rolled 6",
		"[alice] OPERATOR rolled 40",
		"[bob] OPERATOR rolled 40",
		"[OPERATOR] unknown player: nobody",
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		got := out.String()
		missing := ""
		for _, w := range want {
			if !strings.Contains(got, w) {
				missing = w
				break
			}
		}
		if missing == "" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("output missing %q:\n%s", missing, got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dicebot.yaml")
	a, err := New(path, Options{In: strings.NewReader(""), Out: &syncBuffer{}, Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if _, ok := a.Host().Player("alice"); !ok {
		t.Fatal("default roster not loaded")
	}
	if err := a.Stop(context.Background(), plugin.StopAppStop); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
}
