package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"trackspeed/internal/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	out := app.Main(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if out.Kind == app.Failure && out.Message != "" {
		fmt.Fprintln(os.Stderr, out.Message)
	}
	os.Exit(out.ExitCode())
}
