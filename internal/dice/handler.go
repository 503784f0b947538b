package dice

import (
	"context"
	"errors"
	"fmt"

	"dicebot/internal/host"
	logx "dicebot/pkg/logx"
)

const (
	msgReloaded     = "&aDice configuration reloaded."
	msgReloadFailed = "&cReload failed: %v"
)

// ErrReloadUnavailable is returned when no configuration store is bound.
var ErrReloadUnavailable = errors.New("dice: reload not available")

// Outcome describes what one invocation did.
type Outcome struct {
	Kind      Kind
	Result    Result
	Broadcast bool
	// Message is the unstyled text; empty when the template was empty.
	Message   string
	Delivered int
}

// Handler runs the whole /roll pipeline: parse, validate, roll, format, deliver.
type Handler struct {
	settings  *Store
	engine    *Engine
	formatter *Formatter
	selector  *Selector
	reloader  host.Reloader
	log       logx.Logger
}

// NewHandler wires a handler from its collaborators. A nil engine uses NewEngine.
func NewHandler(settings *Store, engine *Engine, b host.Bindings) *Handler {
	if engine == nil {
		engine = NewEngine()
	}
	if settings == nil {
		settings = NewStore(nil)
	}
	return &Handler{
		settings:  settings,
		engine:    engine,
		formatter: NewFormatter(b.Styler),
		selector:  NewSelector(b.Directory),
		reloader:  b.Reloader,
		log:       b.Log,
	}
}

// Handle executes one command for caller. Validation failures and reload
// errors are reported to the caller before being returned.
func (h *Handler) Handle(ctx context.Context, caller host.Caller, args []string) (Outcome, error) {
	caps := CapabilitiesOf(caller)
	st := h.settings.Load()

	req, err := Parse(args, caps, st)
	if err != nil {
		var rej *RejectError
		if errors.As(err, &rej) {
			caller.SendMessage(h.formatter.Style(rej.Message()))
		}
		return Outcome{}, err
	}

	switch req.Kind {
	case KindHelp:
		caller.SendMessage(h.formatter.Help(caps))
		return Outcome{Kind: KindHelp, Delivered: 1}, nil
	case KindReload:
		return h.reload(ctx, caller)
	}

	res, err := h.engine.Roll(req.Count, req.Sides)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Kind: KindRoll, Result: res, Broadcast: caps.Broadcast}

	text, ok := h.formatter.Format(Template(st, caps), caller.Name(), res)
	if !ok {
		return out, nil
	}
	out.Message = text

	styled := h.formatter.Style(text)
	for _, r := range h.selector.Recipients(caller, caps, st) {
		r.SendMessage(styled)
		out.Delivered++
	}
	if caps.Broadcast && st.LoggingEnabled() {
		h.log.Info(text,
			logx.String("player", caller.Name()),
			logx.Ints("values", res.values),
			logx.Int("recipients", out.Delivered),
		)
	}
	return out, nil
}

func (h *Handler) reload(ctx context.Context, caller host.Caller) (Outcome, error) {
	out := Outcome{Kind: KindReload, Delivered: 1}
	var err error
	if h.reloader == nil {
		err = ErrReloadUnavailable
	} else {
		err = h.reloader.Reload(ctx)
	}
	if err != nil {
		caller.SendMessage(h.formatter.Style(fmt.Sprintf(msgReloadFailed, err)))
		return out, fmt.Errorf("dice reload: %w", err)
	}
	caller.SendMessage(h.formatter.Style(msgReloaded))
	return out, nil
}

// Settings returns the snapshot currently in effect.
func (h *Handler) Settings() *Settings { return h.settings.Load() }
