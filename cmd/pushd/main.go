package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pushd/internal/app"
	"pushd/internal/config"
	logx "pushd/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to config (json or yaml); empty uses env and defaults")
	flag.Parse()

	// Console logger for failures before the configured logger exists.
	boot := logx.NewConsole(os.Getenv("PUSHD_LOG_LEVEL"))
	if err := config.LoadDotEnv(".env"); err != nil {
		boot.Error("load .env failed", logx.Err(err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, config.NewConfigManager(cfgPath))
	if err != nil {
		boot.Error("startup failed", logx.Err(err))
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		boot.Error("start failed", logx.Err(err))
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	// Both channels close on a signal; only a failure leaves ctx alive.
	reason := app.StopSignal
	if ctx.Err() == nil {
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		boot.Error("stopped on fatal error", logx.Err(a.Err()))
		os.Exit(1)
	}
}
