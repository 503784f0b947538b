// Package memhost is an in-memory game host: a console operator plus a roster
// of players with worlds, positions and permissions. Delivered messages are
// forwarded to an optional sink; inboxes keep the most recent ones only when
// the host was built WithHistory.
package memhost

import (
	"sort"
	"strings"
	"sync"

	"dicebot/internal/host"
)

// Sink observes every delivered message.
type Sink func(to, text string)

// PlayerSpec describes a roster entry.
type PlayerSpec struct {
	Name        string
	Location    host.Location
	Permissions []string
}

type Option func(*Host)

func WithSink(s Sink) Option { return func(h *Host) { h.sink = s } }

// WithHistory keeps the last n messages per inbox. n <= 0 keeps none.
func WithHistory(n int) Option { return func(h *Host) { h.history = max(n, 0) } }

func WithConsoleName(name string) Option {
	return func(h *Host) {
		if strings.TrimSpace(name) != "" {
			h.console.name = strings.TrimSpace(name)
		}
	}
}

type Host struct {
	mu      sync.RWMutex
	players map[string]*Player // key: lower-case name
	console *Console
	sink    Sink
	history int
}

var _ host.Directory = (*Host)(nil)

func New(opts ...Option) *Host {
	h := &Host{players: map[string]*Player{}}
	h.console = &Console{inbox: inbox{h: h}, name: "CONSOLE"}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Host) deliver(to, text string) {
	h.mu.RLock()
	s := h.sink
	h.mu.RUnlock()
	if s != nil {
		s(to, text)
	}
}

// SetSink replaces the delivery observer.
func (h *Host) SetSink(s Sink) {
	h.mu.Lock()
	h.sink = s
	h.mu.Unlock()
}

func (h *Host) Console() *Console { return h.console }

// Join adds a player or updates an existing one in place.
func (h *Host) Join(spec PlayerSpec) *Player {
	key := strings.ToLower(strings.TrimSpace(spec.Name))
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.players[key]
	if p == nil {
		p = &Player{inbox: inbox{h: h}, name: strings.TrimSpace(spec.Name)}
		h.players[key] = p
	}
	p.mu.Lock()
	p.loc = spec.Location
	p.perms = append([]string(nil), spec.Permissions...)
	p.mu.Unlock()
	return p
}

func (h *Host) Leave(name string) {
	h.mu.Lock()
	delete(h.players, strings.ToLower(strings.TrimSpace(name)))
	h.mu.Unlock()
}

// SetRoster replaces the online players with specs. Players present before
// and after keep their inboxes.
func (h *Host) SetRoster(specs []PlayerSpec) {
	keep := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		if strings.TrimSpace(s.Name) == "" {
			continue
		}
		h.Join(s)
		keep[strings.ToLower(strings.TrimSpace(s.Name))] = struct{}{}
	}
	h.mu.Lock()
	for k := range h.players {
		if _, ok := keep[k]; !ok {
			delete(h.players, k)
		}
	}
	h.mu.Unlock()
}

// Player looks up an online player by case-insensitive name.
func (h *Host) Player(name string) (*Player, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.players[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Lookup resolves a caller by name; the console answers to its own name and "console".
func (h *Host) Lookup(name string) (host.Caller, bool) {
	n := strings.TrimSpace(name)
	if n == "" || strings.EqualFold(n, "console") || strings.EqualFold(n, h.console.Name()) {
		return h.console, true
	}
	p, ok := h.Player(n)
	if !ok {
		return nil, false
	}
	return p, true
}

// Online returns connected players sorted by name. The console is not a recipient.
func (h *Host) Online() []host.Caller {
	h.mu.RLock()
	ps := make([]*Player, 0, len(h.players))
	for _, p := range h.players {
		ps = append(ps, p)
	}
	h.mu.RUnlock()
	sort.Slice(ps, func(i, j int) bool { return ps[i].name < ps[j].name })

	out := make([]host.Caller, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out
}

type inbox struct {
	h    *Host
	mu   sync.Mutex
	msgs []string
}

func (b *inbox) push(to, text string) {
	if n := b.h.history; n > 0 {
		b.mu.Lock()
		b.msgs = append(b.msgs, text)
		// compact once the slice doubles so a push stays amortized O(1)
		if len(b.msgs) >= 2*n {
			b.msgs = append([]string(nil), b.msgs[len(b.msgs)-n:]...)
		}
		b.mu.Unlock()
	}
	b.h.deliver(to, text)
}

// Messages returns a copy of the retained history, oldest first.
func (b *inbox) Messages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.msgs
	if n := b.h.history; len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]string(nil), msgs...)
}

// Clear empties the inbox.
func (b *inbox) Clear() {
	b.mu.Lock()
	b.msgs = nil
	b.mu.Unlock()
}

// Player is an online player placed in a world.
type Player struct {
	inbox
	name string

	mu    sync.RWMutex
	loc   host.Location
	perms []string
}

var _ host.Caller = (*Player)(nil)

func (p *Player) Name() string { return p.name }

func (p *Player) SendMessage(text string) { p.push(p.name, text) }

func (p *Player) Location() (host.Location, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loc, true
}

func (p *Player) MoveTo(loc host.Location) {
	p.mu.Lock()
	p.loc = loc
	p.mu.Unlock()
}

func (p *Player) HasPermission(perm string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return matchPermission(p.perms, perm)
}

func (p *Player) Grant(perms ...string) {
	p.mu.Lock()
	p.perms = append(p.perms, perms...)
	p.mu.Unlock()
}

// Console is the server operator: every permission, no location.
type Console struct {
	inbox
	name string
}

var _ host.Caller = (*Console)(nil)

func (c *Console) Name() string                    { return c.name }
func (c *Console) HasPermission(string) bool       { return true }
func (c *Console) SendMessage(text string)         { c.push(c.name, text) }
func (c *Console) Location() (host.Location, bool) { return host.Location{}, false }

// matchPermission supports exact nodes, "*" and trailing wildcards ("dice.*").
func matchPermission(granted []string, perm string) bool {
	perm = strings.ToLower(strings.TrimSpace(perm))
	for _, g := range granted {
		g = strings.ToLower(strings.TrimSpace(g))
		switch {
		case g == "*" || g == perm:
			return true
		case strings.HasSuffix(g, ".*") && strings.HasPrefix(perm, strings.TrimSuffix(g, "*")):
			return true
		}
	}
	return false
}
