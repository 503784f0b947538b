package dice

import (
	"strconv"
	"strings"

	"dicebot/internal/host"
)

// Usage lines, one per combination of (roll multiple, roll any).
const (
	helpFull     = "&eUsage: &f/roll [count] [d<sides>]"
	helpCount    = "&eUsage: &f/roll [count]"
	helpSides    = "&eUsage: &f/roll [d<sides>]"
	helpNoOption = "&eUsage: &f/roll"
)

// HelpText returns the usage line matching what the caller may override.
func HelpText(caps Capabilities) string {
	switch {
	case caps.RollMultiple && caps.RollAny:
		return helpFull
	case caps.RollMultiple:
		return helpCount
	case caps.RollAny:
		return helpSides
	default:
		return helpNoOption
	}
}

// Template picks the broadcast template for broadcasters, the private one otherwise.
func Template(s *Settings, caps Capabilities) string {
	if caps.Broadcast {
		return s.BroadcastMessage()
	}
	return s.PrivateMessage()
}

// Substitute fills {PLAYER}, {RESULT}, {COUNT}, {SIDES} and {TOTAL}.
// Replacement is literal, case-sensitive and single pass: placeholder text
// inside a substituted value is left alone.
func Substitute(template, player string, r Result) string {
	vals := make([]string, len(r.values))
	for i, v := range r.values {
		vals[i] = strconv.Itoa(v)
	}
	return strings.NewReplacer(
		"{PLAYER}", player,
		"{RESULT}", strings.Join(vals, ", "),
		"{COUNT}", strconv.Itoa(r.Count()),
		"{SIDES}", strconv.Itoa(r.sides),
		"{TOTAL}", strconv.Itoa(r.Total()),
	).Replace(template)
}

// Formatter renders roll messages and applies the host styling.
type Formatter struct {
	styler host.Styler
}

func NewFormatter(st host.Styler) *Formatter {
	if st == nil {
		st = host.PassThrough
	}
	return &Formatter{styler: st}
}

// Format returns the unstyled message, or false when the template is empty
// and nothing should be delivered.
func (f *Formatter) Format(template, player string, r Result) (string, bool) {
	if template == "" {
		return "", false
	}
	return Substitute(template, player, r), true
}

func (f *Formatter) Style(text string) string { return f.styler.Style(text) }

func (f *Formatter) Help(caps Capabilities) string { return f.Style(HelpText(caps)) }
