// Package metrics sends the anonymous usage beacon.
//
// The beacon is fire-and-forget: it posts one JSON payload at startup and then
// on a cron schedule. Failures are logged as warnings and otherwise ignored.
package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dicebot/internal/config"
	"dicebot/internal/eventbus"
	"dicebot/internal/host"
	"dicebot/internal/runtime/supervisor"
	logx "dicebot/pkg/logx"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule = "*/30 * * * *"
	DefaultTimeout  = 10 * time.Second
)

// Payload is what one beacon request carries.
type Payload struct {
	ServerID      string `json:"server_id"`
	PluginVersion string `json:"plugin_version"`
	GoVersion     string `json:"go_version"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	PlayersOnline int    `json:"players_online"`
	RollsTotal    uint64 `json:"rolls_total"`
}

type settings struct {
	enabled  bool
	url      string
	schedule string
	timeout  time.Duration
}

func (s settings) active() bool { return s.enabled && s.url != "" }

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func resolve(cfg config.MetricsConfig) (settings, error) {
	s := settings{
		enabled:  cfg.Enabled,
		url:      strings.TrimSpace(cfg.URL),
		schedule: strings.TrimSpace(cfg.Schedule),
	}
	if s.schedule == "" {
		s.schedule = DefaultSchedule
	}
	if _, err := parser.Parse(s.schedule); err != nil {
		return settings{}, fmt.Errorf("metrics.schedule: %w", err)
	}
	to, err := config.DurationOr("metrics.timeout", cfg.Timeout, DefaultTimeout)
	if err != nil {
		return settings{}, err
	}
	s.timeout = to
	return s, nil
}

// Validate checks a metrics section without applying it.
func Validate(cfg config.MetricsConfig) error {
	_, err := resolve(cfg)
	return err
}

type Beacon struct {
	log      logx.Logger
	dir      host.Directory
	bus      eventbus.Bus
	version  string
	serverID string
	client   *http.Client

	rolls atomic.Uint64
	sent  atomic.Uint64

	mu  sync.Mutex
	cur settings
	c   *cron.Cron
	sup *supervisor.Supervisor
}

// New returns a stopped beacon. The server id is fixed for the process lifetime.
func New(log logx.Logger, dir host.Directory, bus eventbus.Bus, version string) *Beacon {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Beacon{
		log:      log,
		dir:      dir,
		bus:      bus,
		version:  version,
		serverID: uuid.NewString(),
		client:   &http.Client{},
	}
}

// Start begins counting rolls, sends the startup beacon and schedules the
// periodic one. Calling Start twice is a no-op.
func (b *Beacon) Start(ctx context.Context, cfg config.MetricsConfig) error {
	s, err := resolve(cfg)
	if err != nil {
		return err
	}
	b.mu.Lock()
	if b.sup != nil {
		b.mu.Unlock()
		return nil
	}
	b.sup = supervisor.New(ctx, supervisor.WithLogger(b.log), supervisor.WithCancelOnError(false))
	sup := b.sup
	b.mu.Unlock()

	if b.bus != nil {
		events, unsub := b.bus.Subscribe(64, eventbus.TypeDiceRolled)
		sup.Go0("beacon.count", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case <-events:
					b.rolls.Add(1)
				}
			}
		})
	}

	b.apply(s)
	if s.active() {
		sup.Go0("beacon.startup", func(c context.Context) { b.fire(c) })
	}
	return nil
}

// Apply swaps settings on a running beacon. A disabled beacon keeps counting.
func (b *Beacon) Apply(cfg config.MetricsConfig) error {
	s, err := resolve(cfg)
	if err != nil {
		return err
	}
	b.apply(s)
	return nil
}

func (b *Beacon) apply(s settings) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sup == nil {
		b.cur = s
		return
	}
	if b.cur == s && (b.c != nil) == s.active() {
		return
	}
	b.cur = s
	if b.c != nil {
		b.c.Stop()
		b.c = nil
	}
	if !s.active() {
		b.log.Debug("beacon disabled")
		return
	}
	b.c = cron.New(cron.WithParser(parser))
	sup := b.sup
	if _, err := b.c.AddFunc(s.schedule, func() { b.fire(sup.Context()) }); err != nil {
		// resolve already parsed the schedule
		b.log.Warn("beacon schedule rejected", logx.String("schedule", s.schedule), logx.Err(err))
		b.c = nil
		return
	}
	b.c.Start()
	b.log.Info("beacon scheduled", logx.String("schedule", s.schedule))
}

func (b *Beacon) fire(ctx context.Context) {
	if err := b.Send(ctx); err != nil {
		b.log.Warn("beacon send failed", logx.Err(err))
	}
}

// Snapshot builds the current payload.
func (b *Beacon) Snapshot() Payload {
	players := 0
	if b.dir != nil {
		players = len(b.dir.Online())
	}
	return Payload{
		ServerID:      b.serverID,
		PluginVersion: b.version,
		GoVersion:     runtime.Version(),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		PlayersOnline: players,
		RollsTotal:    b.rolls.Load(),
	}
}

// Send posts one payload. It returns nil without sending when disabled.
func (b *Beacon) Send(ctx context.Context) error {
	b.mu.Lock()
	s := b.cur
	b.mu.Unlock()
	if !s.active() {
		return nil
	}

	body, err := json.Marshal(b.Snapshot())
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "dicebot/"+b.version)

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("beacon: http=%d", resp.StatusCode)
	}
	b.sent.Add(1)
	return nil
}

// Sent is the number of successful sends.
func (b *Beacon) Sent() uint64 { return b.sent.Load() }

// Rolls is the number of rolls counted so far.
func (b *Beacon) Rolls() uint64 { return b.rolls.Load() }

// Stop cancels the schedule and waits for in-flight sends, bounded by ctx.
func (b *Beacon) Stop(ctx context.Context) error {
	b.mu.Lock()
	c, sup := b.c, b.sup
	b.c, b.sup = nil, nil
	b.mu.Unlock()

	var errs []error
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
