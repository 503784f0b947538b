// Package dice wires the /roll command into the plugin runtime.
package dice

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	core "dicebot/internal/dice"
	"dicebot/internal/eventbus"
	"dicebot/internal/plugin"
	"dicebot/internal/router"
	logx "dicebot/pkg/logx"
)

const Name = "dice"

// RolledEvent is published on the bus after every successful roll.
type RolledEvent struct {
	Player    string `json:"player"`
	Count     int    `json:"count"`
	Sides     int    `json:"sides"`
	Values    []int  `json:"values"`
	Total     int    `json:"total"`
	Broadcast bool   `json:"broadcast"`
	Delivered int    `json:"delivered"`
}

type Plugin struct {
	plugin.PluginBase

	store   *core.Store
	engine  *core.Engine
	handler *core.Handler

	applied atomic.Bool
}

// New returns the plugin. A nil engine rolls with math/rand.
func New(engine *core.Engine) *Plugin {
	return &Plugin{engine: engine, store: core.NewStore(nil)}
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(ctx context.Context, deps plugin.PluginDeps) error {
	p.InitBase(deps, p.Name())
	b := deps.Host
	b.Log = p.Log
	p.handler = core.NewHandler(p.store, p.engine, b)
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	return p.StopBase(ctx)
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	s, err := core.DecodeSettings(raw)
	if err != nil {
		return err
	}
	return s.Validate()
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	s, err := core.DecodeSettings(raw)
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	p.store.Swap(s)
	p.Log.Debug("dice settings applied",
		logx.Int("max_count", s.MaximumCount()),
		logx.Int("max_sides", s.MaximumSides()),
		logx.Int("range", s.BroadcastRange()),
		logx.Bool("crossworld", s.CrossWorld()),
	)
	if p.applied.Swap(true) {
		p.PublishEvent(eventbus.TypeDiceReloaded, nil)
	}
	return nil
}

// Settings returns the snapshot in effect.
func (p *Plugin) Settings() *core.Settings { return p.store.Load() }

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Route:       "roll",
			Aliases:     []string{"dice"},
			Description: "Roll dice",
			Usage:       "/roll [count] [d<sides>]",
			Handle:      p.handleRoll,
		},
	}
}

func (p *Plugin) handleRoll(ctx context.Context, req *router.Request) error {
	out, err := p.handler.Handle(ctx, req.Caller, req.Args)
	if err != nil {
		// rejections and reload failures were already explained to the caller
		if errors.Is(err, core.ErrRejected) || out.Kind == core.KindReload {
			return router.Reported(err)
		}
		return err
	}
	if out.Kind != core.KindRoll {
		return nil
	}
	p.PublishEvent(eventbus.TypeDiceRolled, RolledEvent{
		Player:    req.Caller.Name(),
		Count:     out.Result.Count(),
		Sides:     out.Result.Sides(),
		Values:    out.Result.Values(),
		Total:     out.Result.Total(),
		Broadcast: out.Broadcast,
		Delivered: out.Delivered,
	})
	return nil
}
