package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dicebot/internal/app"
	"dicebot/internal/plugin"
	"dicebot/internal/plugin/builtin/dice"
	logx "dicebot/pkg/logx"
)

var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json); written with defaults when missing")
	flag.Parse()

	// bootstrap logger until the config is loaded
	boot := logx.NewConsole("info")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath, app.Options{In: os.Stdin, Out: os.Stdout, Version: version})
	if err != nil {
		boot.Error("load failed", logx.String("config", cfgPath), logx.Err(err))
		os.Exit(1)
	}

	a.Plugins().Register(dice.New(nil))

	if err := a.Start(ctx); err != nil {
		boot.Error("start failed", logx.Err(err))
		stop(a, plugin.StopFatalError)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	reason := plugin.StopSignal
	if a.Err() != nil {
		reason = plugin.StopFatalError
	}
	stop(a, reason)
	if err := a.Err(); err != nil {
		boot.Error("stopped on fatal error", logx.Err(err))
		os.Exit(1)
	}
}

func stop(a *app.App, reason plugin.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
}
