package dice

import (
	"errors"
	"math/rand/v2"
)

// ErrInvalidDiceSpec is returned when asked to roll fewer than one die or
// dice with fewer than one side.
var ErrInvalidDiceSpec = errors.New("dice: invalid dice spec")

// Result is an ordered set of die values. It is immutable once rolled.
type Result struct {
	sides  int
	values []int
}

// NewResult builds a Result from known values.
func NewResult(sides int, values ...int) Result {
	return Result{sides: sides, values: append([]int(nil), values...)}
}

func (r Result) Sides() int { return r.sides }
func (r Result) Count() int { return len(r.values) }

// Values returns a copy of the die values in roll order.
func (r Result) Values() []int { return append([]int(nil), r.values...) }

func (r Result) Total() int {
	total := 0
	for _, v := range r.values {
		total += v
	}
	return total
}

// Engine rolls dice from a shared uniform source. Safe for concurrent use.
type Engine struct {
	intn func(n int) int
}

// NewEngine uses the runtime's goroutine-safe generator.
func NewEngine() *Engine {
	return &Engine{intn: rand.IntN}
}

// NewEngineWith rolls using intn, which must return values in [0, n) and be
// safe for concurrent use if the engine is shared.
func NewEngineWith(intn func(n int) int) *Engine {
	if intn == nil {
		intn = rand.IntN
	}
	return &Engine{intn: intn}
}

func (e *Engine) Roll(count, sides int) (Result, error) {
	if count <= 0 || sides <= 0 {
		return Result{}, ErrInvalidDiceSpec
	}
	values := make([]int, count)
	for i := range values {
		values[i] = e.rollDie(sides)
	}
	return Result{sides: sides, values: values}, nil
}

func (e *Engine) rollDie(sides int) int {
	return e.intn(sides) + 1
}
