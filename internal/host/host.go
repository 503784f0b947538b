// Package host declares what dicebot needs from the game server it runs in.
//
// The dice logic depends only on these interfaces; internal/host/memhost
// provides the in-process implementation used by the console build and tests.
package host

import (
	"context"

	logx "dicebot/pkg/logx"
)

// Location is a block position inside a named world.
type Location struct {
	World string
	X     int
	Y     int
	Z     int
}

// DistanceSquared returns the squared euclidean block distance, ignoring worlds.
func (l Location) DistanceSquared(o Location) int64 {
	dx := int64(l.X) - int64(o.X)
	dy := int64(l.Y) - int64(o.Y)
	dz := int64(l.Z) - int64(o.Z)
	return dx*dx + dy*dy + dz*dz
}

// Caller is anything that can issue a command and receive messages:
// a connected player or the server console.
type Caller interface {
	Name() string
	HasPermission(perm string) bool
	SendMessage(text string)
	// Location is false for callers that are not placed in a world (console).
	Location() (Location, bool)
}

// Directory enumerates connected recipients.
type Directory interface {
	Online() []Caller
}

// Styler turns "&"-prefixed color codes into the host's display escapes.
type Styler interface {
	Style(text string) string
}

// StylerFunc adapts a function to Styler.
type StylerFunc func(string) string

func (f StylerFunc) Style(text string) string { return f(text) }

// PassThrough leaves markup untouched.
var PassThrough Styler = StylerFunc(func(s string) string { return s })

// Reloader re-reads the persistent configuration store.
type Reloader interface {
	Reload(ctx context.Context) error
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(ctx context.Context) error

func (f ReloaderFunc) Reload(ctx context.Context) error { return f(ctx) }

// Bindings is everything the dice plugin receives from its host.
type Bindings struct {
	Directory Directory
	Styler    Styler
	Reloader  Reloader
	Log       logx.Logger
}
