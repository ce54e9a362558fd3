package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"options-backtest-lab/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, cli.NewReportCmd(), os.Args[1:])
	stop()
	os.Exit(code)
}
