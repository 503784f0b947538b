package console

import (
	"strings"

	"github.com/fatih/color"
)

var colorCodes = map[byte]color.Attribute{
	'0': color.FgBlack,
	'1': color.FgBlue,
	'2': color.FgGreen,
	'3': color.FgCyan,
	'4': color.FgRed,
	'5': color.FgMagenta,
	'6': color.FgYellow,
	'7': color.FgWhite,
	'8': color.FgHiBlack,
	'9': color.FgHiBlue,
	'a': color.FgHiGreen,
	'b': color.FgHiCyan,
	'c': color.FgHiRed,
	'd': color.FgHiMagenta,
	'e': color.FgHiYellow,
	'f': color.FgHiWhite,
}

var formatCodes = map[byte]color.Attribute{
	'k': color.BlinkRapid,
	'l': color.Bold,
	'm': color.CrossedOut,
	'n': color.Underline,
	'o': color.Italic,
}

// Styler renders "&" color codes as ANSI escapes, or strips them when color is off.
// A color code clears active formats, "&r" resets everything and unknown codes
// are kept as typed.
type Styler struct {
	enabled bool
}

func NewStyler(enabled bool) *Styler { return &Styler{enabled: enabled} }

// AutoColor reports whether stdout looks like a color-capable terminal.
func AutoColor() bool { return !color.NoColor }

func (s *Styler) Style(text string) string {
	if !strings.Contains(text, "&") {
		return text
	}

	var (
		out   strings.Builder
		seg   strings.Builder
		attrs []color.Attribute
	)
	flush := func() {
		if seg.Len() == 0 {
			return
		}
		if s.enabled && len(attrs) > 0 {
			c := color.New(attrs...)
			c.EnableColor()
			out.WriteString(c.Sprint(seg.String()))
		} else {
			out.WriteString(seg.String())
		}
		seg.Reset()
	}

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch != '&' || i+1 >= len(text) {
			seg.WriteByte(ch)
			continue
		}
		code := toLower(text[i+1])
		if code == 'r' {
			flush()
			attrs = nil
		} else if a, ok := colorCodes[code]; ok {
			flush()
			attrs = []color.Attribute{a}
		} else if a, ok := formatCodes[code]; ok {
			flush()
			attrs = append(attrs, a)
		} else {
			seg.WriteByte(ch)
			continue
		}
		i++
	}
	flush()
	return out.String()
}

// Strip removes every recognized code.
func Strip(text string) string { return NewStyler(false).Style(text) }

func toLower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
