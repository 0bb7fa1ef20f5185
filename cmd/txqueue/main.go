package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mickamy/txqueue/internal/config"
	"github.com/mickamy/txqueue/logging"
)

const usage = `usage: txqueue [-env file] <command> [args]

commands:
  migrate [up|down|version]  apply the embedded schema
  worker                     run the retry scheduler and the dispatch trigger
  enqueue <json>             enqueue one payload in its own transaction
  inspect <id>               print one queue element
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("txqueue", flag.ContinueOnError)
	envFile := fs.String("env", ".env", "dotenv file to load before reading the environment")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	zl, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "migrate":
		err = runMigrate(ctx, cfg, rest, os.Stdout)
	case "worker":
		err = runWorker(ctx, cfg, zl)
	case "enqueue":
		err = runEnqueue(ctx, cfg, zl, rest, os.Stdout)
	case "inspect":
		err = runInspect(ctx, cfg, rest, os.Stdout)
	default:
		fs.Usage()
		return 2
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		zl.Error("command failed", zap.String("command", cmd), zap.Error(err))
		return 1
	}
	return 0
}
