// Package app wires the server together: config, store, realtime hub and
// the HTTP surface, with a single lifecycle entrypoint.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"chatsync/pkg/auth"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/realtime"
	"chatsync/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg      *config.Config
	verifier auth.TokenVerifier
	hub      *realtime.Hub

	version string
	commit  string

	srv *http.Server
}

// Params carry startup options. Addr and DBPath, when set, win over the
// loaded config (flags beat file and env).
type Params struct {
	ConfigPath string
	Addr       string
	DBPath     string
	Version    string
	Commit     string
}

// New initializes resources that do not require a running context (config,
// logging, store). It does not start the hub or the HTTP server; call Run to
// start those and block until shutdown.
func New(p Params) (*App, error) {
	_ = godotenv.Load(".env")

	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		return nil, err
	}
	if p.Addr != "" {
		host, port, err := net.SplitHostPort(p.Addr)
		if err != nil {
			return nil, fmt.Errorf("invalid addr %q: %w", p.Addr, err)
		}
		cfg.Server.Address = host
		if cfg.Server.Port, err = strconv.Atoi(port); err != nil {
			return nil, fmt.Errorf("invalid addr %q: %w", p.Addr, err)
		}
	}
	if p.DBPath != "" {
		cfg.Server.DBPath = p.DBPath
	}
	logger.Init(cfg.Logging.Level)

	if err := store.Open(cfg.Server.DBPath); err != nil {
		return nil, fmt.Errorf("open store at %s: %w", cfg.Server.DBPath, err)
	}

	verifier := auth.HMACVerifier{
		Keys:        cfg.Security.SigningKeys,
		AllowUnauth: cfg.Security.AllowUnauth,
	}
	a := &App{
		cfg:      cfg,
		verifier: verifier,
		hub:      realtime.NewHub(verifier, cfg),
		version:  p.Version,
		commit:   p.Commit,
	}
	return a, nil
}

// Config exposes the effective configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Run starts the hub and the HTTP server and blocks until ctx is canceled or
// a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	go a.hub.Run(ctx)

	logger.Log.Info("server_starting",
		zap.String("addr", a.cfg.Addr()),
		zap.String("db", a.cfg.Server.DBPath),
		zap.String("version", a.versionString()))

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		return a.shutdown()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (a *App) shutdown() error {
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if a.srv != nil {
		_ = a.srv.Shutdown(sctx)
	}
	err := store.Close()
	logger.Log.Info("server_stopped")
	logger.Sync()
	return err
}

func (a *App) versionString() string {
	if a.commit != "" && a.commit != "none" {
		return a.version + " (" + a.commit + ")"
	}
	return a.version
}
