package dice

import (
	"errors"
	"testing"
)

func intp(v int) *int { return &v }

var (
	allCaps  = Capabilities{Broadcast: true, Reload: true, RollAny: true, RollMultiple: true}
	rollCaps = Capabilities{RollAny: true, RollMultiple: true}
)

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		args []string
		caps Capabilities
		set  *Settings
		want Request
	}{
		{name: "defaults", args: nil, caps: rollCaps, want: Request{Kind: KindRoll, Count: 1, Sides: 6}},
		{name: "count and sides", args: []string{"3", "d12"}, caps: rollCaps, want: Request{Kind: KindRoll, Count: 3, Sides: 12}},
		{name: "any order", args: []string{"d8", "2"}, caps: rollCaps, want: Request{Kind: KindRoll, Count: 2, Sides: 8}},
		{name: "first match wins", args: []string{"2", "5", "d4", "d20"}, caps: rollCaps, want: Request{Kind: KindRoll, Count: 2, Sides: 4}},
		{name: "junk ignored", args: []string{"x", "-3", "D20", "3d6", "4"}, caps: rollCaps, want: Request{Kind: KindRoll, Count: 4, Sides: 6}},
		{name: "no multiple capability", args: []string{"3"}, caps: Capabilities{RollAny: true}, want: Request{Kind: KindRoll, Count: 1, Sides: 6}},
		{name: "no any capability", args: []string{"d100"}, caps: Capabilities{RollMultiple: true}, want: Request{Kind: KindRoll, Count: 1, Sides: 6}},
		{name: "zero count clamps", args: []string{"0"}, caps: rollCaps, want: Request{Kind: KindRoll, Count: 1, Sides: 6}},
		{name: "zero sides clamps", args: []string{"d0"}, caps: rollCaps, want: Request{Kind: KindRoll, Count: 1, Sides: 2}},
		{name: "one side clamps", args: []string{"d1"}, caps: rollCaps, want: Request{Kind: KindRoll, Count: 1, Sides: 2}},
		{name: "bad defaults clamp", caps: rollCaps, set: &Settings{Default: DiceSettings{Count: intp(-4), Sides: intp(0)}}, want: Request{Kind: KindRoll, Count: 1, Sides: 2}},
		{name: "at maximum", args: []string{"6", "d20"}, caps: rollCaps, want: Request{Kind: KindRoll, Count: 6, Sides: 20}},
		{name: "help", args: []string{"help"}, want: Request{Kind: KindHelp}},
		{name: "help upper", args: []string{"HeLp"}, want: Request{Kind: KindHelp}},
		{name: "question mark", args: []string{"?"}, want: Request{Kind: KindHelp}},
		{name: "help with extra args rolls", args: []string{"help", "2"}, caps: rollCaps, want: Request{Kind: KindRoll, Count: 2, Sides: 6}},
		{name: "reload", args: []string{"reload"}, caps: Capabilities{Reload: true}, want: Request{Kind: KindReload}},
		{name: "reload without capability rolls", args: []string{"reload"}, want: Request{Kind: KindRoll, Count: 1, Sides: 6}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.args, tt.caps, tt.set)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.args, err)
			}
			if got != tt.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		args    []string
		set     *Settings
		field   string
		message string
	}{
		{name: "too many dice", args: []string{"7"}, field: "count", message: "&cYou cannot roll more than 6 dice at once."},
		{name: "too many sides", args: []string{"d21"}, field: "sides", message: "&cDice cannot have more than 20 sides."},
		{name: "count checked first", args: []string{"9", "d99"}, field: "count", message: "&cYou cannot roll more than 6 dice at once."},
		{name: "count overflow", args: []string{"99999999999999999999999"}, field: "count", message: "&cYou cannot roll more than 6 dice at once."},
		{name: "sides overflow", args: []string{"d99999999999999999999999"}, field: "sides", message: "&cDice cannot have more than 20 sides."},
		{name: "default above maximum", set: &Settings{Default: DiceSettings{Sides: intp(30)}}, field: "sides", message: "&cDice cannot have more than 20 sides."},
		{name: "lowered maximum", args: []string{"3"}, set: &Settings{Maximum: DiceSettings{Count: intp(2)}}, field: "count", message: "&cYou cannot roll more than 2 dice at once."},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.args, rollCaps, tt.set)
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("err = %v, want ErrRejected", err)
			}
			var rej *RejectError
			if !errors.As(err, &rej) {
				t.Fatalf("err = %T, want *RejectError", err)
			}
			if rej.Field != tt.field {
				t.Fatalf("Field = %q, want %q", rej.Field, tt.field)
			}
			if got := rej.Message(); got != tt.message {
				t.Fatalf("Message = %q, want %q", got, tt.message)
			}
		})
	}
}

func TestParseMaximumBoundary(t *testing.T) {
	t.Parallel()
	set := &Settings{Maximum: DiceSettings{Count: intp(6)}}
	if _, err := Parse([]string{"7"}, rollCaps, set); err == nil {
		t.Fatal("roll 7 should fail with maximum.count=6")
	}
	got, err := Parse([]string{"6"}, rollCaps, set)
	if err != nil || got.Count != 6 {
		t.Fatalf("roll 6 = (%+v, %v), want count 6", got, err)
	}
}
