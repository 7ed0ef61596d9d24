package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"prisched/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stopAndPrint(a, app.StopFatalError)
		os.Exit(1)
	}
	// Not running under systemd is fine.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	var runFor <-chan time.Time
	if d := a.RunFor(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		runFor = t.C
	}

	reason := app.StopUnknown
	select {
	case <-ctx.Done():
		reason = app.StopSignal
	case <-runFor:
		reason = app.StopRunFor
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		} else {
			reason = app.StopSignal
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopAndPrint(a, reason)
	if reason == app.StopFatalError {
		os.Exit(1)
	}
}

// stopAndPrint writes the ids of tasks that never ran, one per line.
func stopAndPrint(a *app.App, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, id := range a.Stop(ctx, reason) {
		fmt.Println(id)
	}
}
