// Package console is a line-oriented transport over stdin/stdout.
//
// Input lines are commands. A leading "@name" runs the command as that player,
// otherwise it runs as the console operator:
//
//	/roll 2 d6
//	@alice /roll d20
//
// Delivered messages are written as "[recipient] text".
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"dicebot/internal/host"
	"dicebot/internal/runtime/supervisor"
	kit "dicebot/internal/transport"
	logx "dicebot/pkg/logx"
)

// Resolver finds the caller a line runs as.
type Resolver interface {
	Lookup(name string) (host.Caller, bool)
}

type Adapter struct {
	in  io.Reader
	out io.Writer
	log logx.Logger
	res Resolver
	op  host.Caller

	outMu sync.Mutex

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
}

var _ kit.Adapter = (*Adapter)(nil)

// New reads commands from in and runs unprefixed lines as operator.
func New(in io.Reader, out io.Writer, res Resolver, operator host.Caller, log logx.Logger) *Adapter {
	return &Adapter{in: in, out: out, res: res, op: operator, log: log}
}

// Deliver prints a message addressed to a caller. Safe for concurrent use;
// plug it into the host as its delivery sink.
func (a *Adapter) Deliver(to, text string) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	_, _ = fmt.Fprintf(a.out, "[%s] %s\n", to, text)
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "console.adapter"))),
		supervisor.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// The scanner goroutine is not supervised: a blocked stdin read cannot be
	// interrupted, so it is left behind on shutdown.
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-sup.Context().Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			a.log.Warn("console input error", logx.Err(err))
		}
	}()

	sup.Go0("console.read", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case line, ok := <-lines:
				if !ok {
					a.log.Debug("console input closed")
					return
				}
				up, ok := a.parse(line)
				if !ok {
					continue
				}
				select {
				case out <- up:
				case <-c.Done():
					return
				}
			}
		}
	})
	return nil
}

// parse turns one input line into an update. Blank lines are skipped.
func (a *Adapter) parse(line string) (kit.Update, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return kit.Update{}, false
	}
	caller := a.op
	if strings.HasPrefix(line, "@") {
		name, rest, _ := strings.Cut(line[1:], " ")
		c, ok := a.res.Lookup(name)
		if !ok {
			a.Deliver(caller.Name(), "unknown player: "+name)
			return kit.Update{}, false
		}
		caller = c
		line = strings.TrimSpace(rest)
		if line == "" {
			return kit.Update{}, false
		}
	}
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{From: caller, Text: line}}, true
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.running = false
	a.runMu.Unlock()
	if sup == nil {
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Stop(wctx); err != nil {
		a.log.Warn("console stop", logx.Err(err))
	}
	return nil
}
