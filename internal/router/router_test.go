package router

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"dicebot/internal/config"
	"dicebot/internal/host/memhost"
	kit "dicebot/internal/transport"
	logx "dicebot/pkg/logx"

	"github.com/google/go-cmp/cmp"
)

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		word string
		args []string
	}{
		{in: "/roll 2 d6", word: "roll", args: []string{"2", "d6"}},
		{in: "ROLL", word: "roll", args: []string{}},
		{in: `  /roll "d 6"  x `, word: "roll", args: []string{"d 6", "x"}},
		{in: "   ", word: "", args: nil},
	}
	for _, tt := range tests {
		word, args := splitCommand(tt.in)
		if word != tt.word {
			t.Fatalf("splitCommand(%q) word = %q, want %q", tt.in, word, tt.word)
		}
		if len(args) == 0 && len(tt.args) == 0 {
			continue
		}
		if diff := cmp.Diff(tt.args, args); diff != "" {
			t.Fatalf("splitCommand(%q) args (-want +got):\n%s", tt.in, diff)
		}
	}
}

func newTestManager(cfg config.CommandsConfig, cmds ...Command) (*CommandManager, *memhost.Host) {
	h := memhost.New(memhost.WithHistory(16))
	h.Join(memhost.PlayerSpec{Name: "alice", Permissions: []string{"dice.*"}})
	h.Join(memhost.PlayerSpec{Name: "bob"})
	m := NewCommandManager(logx.Nop(), nil, cfg)
	m.SetRegistry(cmds)
	return m, h
}

func echoCommand() Command {
	return Command{
		Route:       "echo",
		Aliases:     []string{"say"},
		Description: "Echo arguments",
		Handle: func(ctx context.Context, req *Request) error {
			req.Reply(strings.Join(req.Args, "|"))
			return nil
		},
	}
}

func TestExecuteRoutesAliasesAndPermissions(t *testing.T) {
	t.Parallel()
	secret := Command{Route: "secret", Permission: "dice.reload", Handle: func(ctx context.Context, req *Request) error {
		req.Reply("ok")
		return nil
	}}
	m, h := newTestManager(config.CommandsConfig{}, echoCommand(), secret)
	alice, _ := h.Player("alice")
	bob, _ := h.Player("bob")
	ctx := context.Background()

	_ = m.Execute(ctx, alice, "/echo a b")
	_ = m.Execute(ctx, alice, "SAY c")
	_ = m.Execute(ctx, alice, "/secret")
	_ = m.Execute(ctx, bob, "/secret")
	_ = m.Execute(ctx, bob, "/nope")

	if diff := cmp.Diff([]string{"a|b", "c", "ok"}, alice.Messages()); diff != "" {
		t.Fatalf("alice (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{msgNoPermission, msgUnknown}, bob.Messages()); diff != "" {
		t.Fatalf("bob (-want +got):\n%s", diff)
	}
}

func TestHelpHidesForbiddenCommands(t *testing.T) {
	t.Parallel()
	secret := Command{Route: "secret", Description: "hidden", Permission: "dice.reload", Handle: func(context.Context, *Request) error { return nil }}
	m, h := newTestManager(config.CommandsConfig{}, echoCommand(), secret)
	bob, _ := h.Player("bob")

	_ = m.Execute(context.Background(), bob, "/help")
	want := []string{"&eCommands:", "&f/echo &7- Echo arguments", "&f/help &7- List commands"}
	if diff := cmp.Diff(want, bob.Messages()); diff != "" {
		t.Fatalf("help (-want +got):\n%s", diff)
	}

	bob.Clear()
	_ = m.Execute(context.Background(), bob, "/help say")
	if msgs := bob.Messages(); len(msgs) == 0 || msgs[0] != "&e/echo &7- Echo arguments" {
		t.Fatalf("help for alias = %q", msgs)
	}
}

func TestErrorsAreReportedOnce(t *testing.T) {
	t.Parallel()
	reported := Command{Route: "reported", Handle: func(ctx context.Context, req *Request) error {
		req.Reply("explained")
		return Reported(errors.New("bad input"))
	}}
	failing := Command{Route: "failing", Handle: func(ctx context.Context, req *Request) error {
		return errors.New("boom")
	}}
	panicky := Command{Route: "panicky", Handle: func(ctx context.Context, req *Request) error {
		panic("oops")
	}}
	m, h := newTestManager(config.CommandsConfig{}, reported, failing, panicky)
	bob, _ := h.Player("bob")
	ctx := context.Background()

	if err := m.Execute(ctx, bob, "reported"); !IsReported(err) {
		t.Fatalf("err = %v, want reported", err)
	}
	if err := m.Execute(ctx, bob, "failing"); err == nil || IsReported(err) {
		t.Fatalf("err = %v, want unreported failure", err)
	}
	if err := m.Execute(ctx, bob, "panicky"); err == nil {
		t.Fatal("panic should surface as an error")
	}
	want := []string{"explained", msgInternalError, msgInternalError}
	if diff := cmp.Diff(want, bob.Messages()); diff != "" {
		t.Fatalf("bob (-want +got):\n%s", diff)
	}
}

func TestDispatchLoop(t *testing.T) {
	t.Parallel()
	var handled atomic.Int32
	count := Command{Route: "count", Handle: func(ctx context.Context, req *Request) error {
		handled.Add(1)
		return nil
	}}
	m, h := newTestManager(config.CommandsConfig{Workers: 2}, count)
	alice, _ := h.Player("alice")

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update)
	done := make(chan error, 1)
	go func() { done <- m.DispatchLoop(ctx, updates) }()

	for i := 0; i < 5; i++ {
		updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{From: alice, Text: "/count"}}
	}
	deadline := time.Now().Add(2 * time.Second)
	for handled.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := handled.Load(); got != 5 {
		t.Fatalf("handled = %d, want 5", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("DispatchLoop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("DispatchLoop did not stop")
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	s := newLimiterSet()
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	if !s.allow("alice") || !s.allow("alice") {
		t.Fatal("limiting is off by default")
	}

	s.configure(1, 2)
	if !s.allow("alice") || !s.allow("ALICE") {
		t.Fatal("burst of 2 should pass")
	}
	if s.allow("alice") {
		t.Fatal("third call within the same instant should be limited")
	}
	if !s.allow("bob") {
		t.Fatal("buckets are per caller")
	}
	now = now.Add(time.Second)
	if !s.allow("alice") {
		t.Fatal("token should refill after one second")
	}
}

func TestDispatchRateLimited(t *testing.T) {
	t.Parallel()
	m, h := newTestManager(config.CommandsConfig{RatePerSec: 0.001, Burst: 1}, echoCommand())
	bob, _ := h.Player("bob")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan kit.Update, 2)
	go func() { _ = m.DispatchLoop(ctx, updates) }()

	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{From: bob, Text: "/echo one"}}
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{From: bob, Text: "/echo two"}}

	deadline := time.Now().Add(2 * time.Second)
	for len(bob.Messages()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	msgs := bob.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %q, want 2", msgs)
	}
	if !(msgs[0] == msgTooFast || msgs[1] == msgTooFast) || !(msgs[0] == "one" || msgs[1] == "one") {
		t.Fatalf("messages = %q, want one echo and one rate-limit notice", msgs)
	}
}

func TestExecuteAppliesTimeouts(t *testing.T) {
	t.Parallel()
	deadline := func(name string, d time.Duration) Command {
		return Command{
			Route:   name,
			Timeout: d,
			Handle: func(ctx context.Context, req *Request) error {
				dl, ok := ctx.Deadline()
				if !ok {
					return errors.New("no deadline")
				}
				if left := time.Until(dl); left > time.Minute {
					return errors.New("deadline too far: " + left.String())
				}
				return nil
			},
		}
	}
	m, h := newTestManager(config.CommandsConfig{DefaultTimeout: "30s"},
		deadline("fallback", 0),
		deadline("own", 5*time.Second),
	)
	alice, _ := h.Player("alice")
	for _, line := range []string{"/fallback", "/own"} {
		if err := m.Execute(context.Background(), alice, line); err != nil {
			t.Fatalf("Execute(%q): %v", line, err)
		}
	}
	if got := m.timeoutFor(&Command{}); got != 30*time.Second {
		t.Fatalf("default timeout = %v, want 30s", got)
	}
	if got := m.timeoutFor(&Command{Timeout: time.Second}); got != time.Second {
		t.Fatalf("own timeout = %v, want 1s", got)
	}
}
