package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"chatsync/internal/app"
)

// build metadata, set via ldflags during release
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgFlag := flag.String("config", "", "path to YAML config file")
	addrFlag := flag.String("addr", "", "listen address (host:port), overrides config")
	dbFlag := flag.String("db", "", "database path, overrides config")
	flag.Parse()

	cfgPath := *cfgFlag
	if cfgPath == "" {
		cfgPath = os.Getenv("CHATSYNC_CONFIG")
	}

	a, err := app.New(app.Params{
		ConfigPath: cfgPath,
		Addr:       *addrFlag,
		DBPath:     *dbFlag,
		Version:    version,
		Commit:     commit,
	})
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
