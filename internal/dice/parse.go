package dice

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrRejected marks a request that failed validation. The caller has already
// been told why; callers of Handle should not reply again.
var ErrRejected = errors.New("dice: request rejected")

// Kind is what a parsed command asks for.
type Kind int

const (
	KindRoll Kind = iota
	KindHelp
	KindReload
)

func (k Kind) String() string {
	switch k {
	case KindHelp:
		return "help"
	case KindReload:
		return "reload"
	default:
		return "roll"
	}
}

// Request is a validated roll request. Count and Sides are only set for KindRoll.
type Request struct {
	Kind  Kind
	Count int
	Sides int
}

// RejectError reports a count or side request above the configured maximum.
// Tokens too large to parse are reported the same way.
type RejectError struct {
	Field     string // "count" or "sides"
	Requested string
	Max       int
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("dice: %s %s exceeds maximum %d", e.Field, e.Requested, e.Max)
}

func (e *RejectError) Unwrap() error { return ErrRejected }

// Message is the text shown to the caller.
func (e *RejectError) Message() string {
	if e.Field == "sides" {
		return fmt.Sprintf("&cDice cannot have more than %d sides.", e.Max)
	}
	return fmt.Sprintf("&cYou cannot roll more than %d dice at once.", e.Max)
}

var (
	countToken = regexp.MustCompile(`^[0-9]+$`)
	sidesToken = regexp.MustCompile(`^d[0-9]+$`)
)

// Parse turns command arguments into a Request.
//
// Overrides the caller lacks the capability for are ignored, as are tokens
// that match nothing. Values below the minimum are raised to 1 die and 2 sides.
func Parse(args []string, caps Capabilities, s *Settings) (Request, error) {
	if len(args) == 1 {
		switch strings.ToLower(args[0]) {
		case "help", "?":
			return Request{Kind: KindHelp}, nil
		case "reload":
			if caps.Reload {
				return Request{Kind: KindReload}, nil
			}
		}
	}

	maxCount, maxSides := s.MaximumCount(), s.MaximumSides()
	count, sides := s.DefaultCount(), s.DefaultSides()

	if caps.RollMultiple {
		if tok, ok := firstMatch(args, countToken); ok {
			n, err := strconv.Atoi(tok)
			if err != nil {
				return Request{}, &RejectError{Field: "count", Requested: tok, Max: maxCount}
			}
			count = n
		}
	}
	if caps.RollAny {
		if tok, ok := firstMatch(args, sidesToken); ok {
			n, err := strconv.Atoi(tok[1:])
			if err != nil {
				return Request{}, &RejectError{Field: "sides", Requested: tok[1:], Max: maxSides}
			}
			sides = n
		}
	}

	if count > maxCount {
		return Request{}, &RejectError{Field: "count", Requested: strconv.Itoa(count), Max: maxCount}
	}
	if sides > maxSides {
		return Request{}, &RejectError{Field: "sides", Requested: strconv.Itoa(sides), Max: maxSides}
	}

	return Request{Kind: KindRoll, Count: max(1, count), Sides: max(2, sides)}, nil
}

func firstMatch(args []string, re *regexp.Regexp) (string, bool) {
	for _, a := range args {
		if re.MatchString(a) {
			return a, true
		}
	}
	return "", false
}
