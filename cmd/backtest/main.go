package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"options-backtest-lab/internal/cli"
)

func main() {
	// Cancellation stops a run between dates; committed dates stay recorded.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, cli.NewRootCmd(), os.Args[1:])
	stop()
	os.Exit(code)
}
