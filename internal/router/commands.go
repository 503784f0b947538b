package router

import (
	"context"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"dicebot/internal/config"
	"dicebot/internal/host"
	"dicebot/internal/runtime/supervisor"
	kit "dicebot/internal/transport"
	logx "dicebot/pkg/logx"
)

const (
	msgUnknown       = "&cUnknown command. Try &f/help&c."
	msgNoPermission  = "&cYou do not have permission to use this command."
	msgTooFast       = "&cYou are sending commands too quickly."
	msgBusy          = "&cServer busy, try again."
	msgInternalError = "&cAn internal error occurred while running this command."

	defaultWorkers   = 4
	defaultQueueSize = 64
)

type Command struct {
	// Route is the single command word, e.g. "roll".
	Route       string
	Aliases     []string
	Description string
	Usage       string
	// Permission gates the whole command; empty means everyone.
	Permission string

	PluginName string
	Timeout    time.Duration // optional per-command override
	Handle     HandlerFunc
}

type Request struct {
	Update  kit.Update
	Caller  host.Caller
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger

	styler host.Styler
}

// Reply sends text (with &-codes) to the caller.
func (r *Request) Reply(text string) {
	if r == nil || r.Caller == nil {
		return
	}
	st := r.styler
	if st == nil {
		st = host.PassThrough
	}
	r.Caller.SendMessage(st.Style(text))
}

type CommandManager struct {
	mu    sync.RWMutex
	cmds  map[string]*Command // route -> command
	alias map[string]*Command

	log    logx.Logger
	styler host.Styler

	setMu          sync.RWMutex
	workers        int
	defaultTimeout time.Duration

	limits *limiterSet

	jobs chan func()
}

func NewCommandManager(log logx.Logger, styler host.Styler, cfg config.CommandsConfig) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if styler == nil {
		styler = host.PassThrough
	}
	qs := cfg.QueueSize
	if qs <= 0 {
		qs = defaultQueueSize
	}
	m := &CommandManager{
		cmds:   map[string]*Command{},
		alias:  map[string]*Command{},
		log:    log,
		styler: styler,
		limits: newLimiterSet(),
		jobs:   make(chan func(), qs),
	}
	m.Apply(cfg)
	m.SetRegistry(nil)
	return m
}

// Apply updates runtime knobs. Worker count and queue size take effect on
// the next DispatchLoop; rate limits and timeouts apply immediately.
func (m *CommandManager) Apply(cfg config.CommandsConfig) {
	timeout, err := config.ParseDuration("commands.default_timeout", cfg.DefaultTimeout)
	if err != nil {
		m.log.Warn("invalid default timeout; disabled", logx.Err(err))
		timeout = 0
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	m.setMu.Lock()
	m.workers = workers
	m.defaultTimeout = timeout
	m.setMu.Unlock()
	m.limits.configure(cfg.RatePerSec, cfg.Burst)
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetRegistry replaces the command table. The built-in help command is always present.
func (m *CommandManager) SetRegistry(cmds []Command) {
	helper := Command{
		Route:       "help",
		Aliases:     []string{"?"},
		Description: "List commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			for _, line := range m.helpLines(req.Caller, req.Args) {
				req.Reply(line)
			}
			return nil
		},
	}
	cmds = append(cmds, helper)

	table := map[string]*Command{}
	alias := map[string]*Command{}
	for _, c := range cmds {
		route := strings.ToLower(strings.TrimSpace(c.Route))
		if route == "" || strings.ContainsAny(route, " \t") || c.Handle == nil {
			continue
		}
		cc := c // copy
		cc.Route = route
		if _, dup := table[route]; dup {
			m.log.Warn("duplicate command route; keeping first", logx.String("cmd", route), logx.String("plugin", c.PluginName))
			continue
		}
		table[route] = &cc
	}
	for _, c := range table {
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.ContainsAny(a, " \t") {
				continue
			}
			// a real route always wins over an alias
			if _, taken := table[a]; taken {
				continue
			}
			alias[a] = c
		}
	}

	m.mu.Lock()
	m.cmds = table
	m.alias = alias
	m.mu.Unlock()
}

// Commands returns the registered commands sorted by route.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	out := make([]Command, 0, len(m.cmds))
	for _, c := range m.cmds {
		out = append(out, *c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out
}

func (m *CommandManager) lookup(word string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[word]; ok {
		return c, true
	}
	c, ok := m.alias[word]
	return c, ok
}

func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	m.setMu.RLock()
	workers := m.workers
	m.setMu.RUnlock()

	// Internal supervisor keeps the worker pool resilient and observable.
	sup := supervisor.New(ctx,
		supervisor.WithLogger(m.log.With(logx.String("comp", "commands"))),
		supervisor.WithCancelOnError(false),
	)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			// tryEnqueue recovers from sends on the closed channel
			close(m.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
		)
	}

	defer func() {
		closeJobs()
		// Wait briefly for workers to drain.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("updates channel closed")
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil || up.Message.From == nil {
		return
	}
	msg := up.Message
	caller := msg.From
	reply := func(text string) { caller.SendMessage(m.styler.Style(text)) }

	word, args := splitCommand(msg.Text)
	if word == "" {
		return
	}
	cmd, ok := m.lookup(word)
	if !ok {
		reply(msgUnknown)
		return
	}
	if cmd.Permission != "" && !caller.HasPermission(cmd.Permission) {
		reply(msgNoPermission)
		return
	}
	if !m.limits.allow(caller.Name()) {
		reply(msgTooFast)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Caller:  caller,
		Command: cmd.Route,
		Args:    args,
		ReqID:   rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.String("caller", caller.Name()),
			logx.String("cmd", cmd.Route),
		),
		styler: m.styler,
	}

	final := m.chain(cmd)
	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		reply(msgBusy)
	}
}

// Execute runs a command line synchronously, bypassing the worker pool.
// Permission checks and middleware still apply; rate limiting does not.
func (m *CommandManager) Execute(ctx context.Context, caller host.Caller, line string) error {
	word, args := splitCommand(line)
	cmd, ok := m.lookup(word)
	if !ok {
		caller.SendMessage(m.styler.Style(msgUnknown))
		return nil
	}
	if cmd.Permission != "" && !caller.HasPermission(cmd.Permission) {
		caller.SendMessage(m.styler.Style(msgNoPermission))
		return nil
	}
	req := &Request{
		Update:  kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{From: caller, Text: line}},
		Caller:  caller,
		Command: cmd.Route,
		Args:    args,
		ReqID:   newReqID(),
		Logger:  m.log.With(logx.String("caller", caller.Name()), logx.String("cmd", cmd.Route)),
		styler:  m.styler,
	}
	return m.chain(cmd)(ctx, req)
}

// timeoutFor is the command's own timeout, else commands.default_timeout.
func (m *CommandManager) timeoutFor(cmd *Command) time.Duration {
	if cmd.Timeout > 0 {
		return cmd.Timeout
	}
	m.setMu.RLock()
	defer m.setMu.RUnlock()
	return m.defaultTimeout
}

func (m *CommandManager) chain(cmd *Command) HandlerFunc {
	return Chain(
		cmd.Handle,
		MWRequestLog(m.log),
		MWPanicRecover(m.log),
		MWTimeout(m.timeoutFor(cmd)),
	)
}
