package memhost

import (
	"strconv"
	"testing"

	"dicebot/internal/host"

	"github.com/google/go-cmp/cmp"
)

func names(cs []host.Caller) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name()
	}
	return out
}

func TestPermissionMatching(t *testing.T) {
	t.Parallel()
	tests := []struct {
		granted []string
		perm    string
		want    bool
	}{
		{granted: []string{"dice.roll.any"}, perm: "dice.roll.any", want: true},
		{granted: []string{"DICE.ROLL.ANY"}, perm: "dice.roll.any", want: true},
		{granted: []string{"dice.*"}, perm: "dice.reload", want: true},
		{granted: []string{"dice.roll.*"}, perm: "dice.reload", want: false},
		{granted: []string{"*"}, perm: "dice.roll.broadcast", want: true},
		{granted: []string{"dice.roll"}, perm: "dice.roll.any", want: false},
		{granted: nil, perm: "dice.roll.any", want: false},
	}
	for _, tt := range tests {
		if got := matchPermission(tt.granted, tt.perm); got != tt.want {
			t.Fatalf("matchPermission(%v, %q) = %v, want %v", tt.granted, tt.perm, got, tt.want)
		}
	}
}

func TestRosterAndInboxes(t *testing.T) {
	t.Parallel()
	var delivered []string
	h := New(WithConsoleName("Server"), WithHistory(8), WithSink(func(to, text string) { delivered = append(delivered, to+":"+text) }))

	h.SetRoster([]PlayerSpec{
		{Name: "bob", Location: host.Location{World: "w", X: 1}},
		{Name: "alice", Location: host.Location{World: "w"}},
	})
	if diff := cmp.Diff([]string{"alice", "bob"}, names(h.Online())); diff != "" {
		t.Fatalf("Online (-want +got):\n%s", diff)
	}

	alice, _ := h.Player("ALICE")
	alice.SendMessage("hi")
	h.Console().SendMessage("ok")

	// alice stays, bob leaves, carol joins
	h.SetRoster([]PlayerSpec{
		{Name: "alice", Location: host.Location{World: "nether"}},
		{Name: "carol"},
	})
	if diff := cmp.Diff([]string{"alice", "carol"}, names(h.Online())); diff != "" {
		t.Fatalf("Online after reload (-want +got):\n%s", diff)
	}
	same, _ := h.Player("alice")
	if same != alice || len(same.Messages()) != 1 {
		t.Fatal("surviving player should keep its inbox")
	}
	if loc, _ := same.Location(); loc.World != "nether" {
		t.Fatalf("location not updated: %+v", loc)
	}
	if diff := cmp.Diff([]string{"alice:hi", "Server:ok"}, delivered); diff != "" {
		t.Fatalf("sink (-want +got):\n%s", diff)
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()
	h := New()
	h.Join(PlayerSpec{Name: "alice"})

	if c, ok := h.Lookup("console"); !ok || c != host.Caller(h.Console()) {
		t.Fatal("console lookup failed")
	}
	if _, ok := h.Console().Location(); ok {
		t.Fatal("console must not have a location")
	}
	if !h.Console().HasPermission("dice.reload") {
		t.Fatal("console holds every permission")
	}
	if c, ok := h.Lookup("Alice"); !ok || c.Name() != "alice" {
		t.Fatal("player lookup failed")
	}
	if _, ok := h.Lookup("nobody"); ok {
		t.Fatal("unknown player resolved")
	}
}

func TestLeaveAndMove(t *testing.T) {
	t.Parallel()
	h := New()
	h.Join(PlayerSpec{Name: "alice", Location: host.Location{World: "w"}})
	bob := h.Join(PlayerSpec{Name: "bob", Location: host.Location{World: "w"}})

	bob.MoveTo(host.Location{World: "nether", X: 5})
	if loc, ok := bob.Location(); !ok || loc != (host.Location{World: "nether", X: 5}) {
		t.Fatalf("bob at %+v", loc)
	}

	h.Leave("ALICE")
	if diff := cmp.Diff([]string{"bob"}, names(h.Online())); diff != "" {
		t.Fatalf("Online (-want +got):\n%s", diff)
	}
	if _, ok := h.Player("alice"); ok {
		t.Fatal("alice still resolvable after leaving")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	delivered := 0
	sink := WithSink(func(to, text string) { delivered++ })

	h := New(sink)
	p := h.Join(PlayerSpec{Name: "alice"})
	for i := 0; i < 1000; i++ {
		p.SendMessage("roll")
	}
	if got := p.Messages(); len(got) != 0 || len(p.msgs) != 0 {
		t.Fatalf("host without history kept %d messages", len(p.msgs))
	}
	if delivered != 1000 {
		t.Fatalf("sink saw %d messages, want 1000", delivered)
	}

	h = New(WithHistory(3))
	p = h.Join(PlayerSpec{Name: "bob"})
	for i := 0; i < 1000; i++ {
		p.SendMessage(strconv.Itoa(i))
	}
	if diff := cmp.Diff([]string{"997", "998", "999"}, p.Messages()); diff != "" {
		t.Fatalf("history (-want +got):\n%s", diff)
	}
	if len(p.msgs) >= 6 {
		t.Fatalf("inbox grew to %d entries", len(p.msgs))
	}
}
