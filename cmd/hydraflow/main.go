// Command hydraflow runs the host-level DNS filtering proxy: it binds
// the client-facing UDP/TCP listeners, forwards to upstream resolvers
// through the rule store and response cache, keeps rules current via
// the update orchestrator, and exposes the administrative command
// channel over both HTTP and a Unix socket.
//
// Grounded in the teacher's cmd/hydradns/main.go: same
// flags-then-config-then-run shape, same signal-driven shutdown with a
// bounded grace period. Cluster/database-backed config and the
// always-on web UI are teacher concerns this spec's scope doesn't
// carry; internal/app.App takes over assembling and running the
// components cmd/hydradns/main.go's run() assembled inline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jroosing/hydraflow/internal/app"
	"github.com/jroosing/hydraflow/internal/config"
	"github.com/jroosing/hydraflow/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values, mirroring the
// teacher's cliFlags in shape though naming hydraflow's own settings.
type cliFlags struct {
	configPath string
	host       string
	port       int
	noTCP      bool
	jsonLogs   bool
	debug      bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&f.host, "host", "", "Override server bind host")
	flag.IntVar(&f.port, "port", 0, "Override server bind port")
	flag.BoolVar(&f.noTCP, "no-tcp", false, "Disable TCP server")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.noTCP {
		cfg.Server.EnableTCP = false
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
}

func run() error {
	flags := parseFlags()
	configPath := config.ResolveConfigPath(flags.configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	logger.Info("hydraflow starting",
		"config", configPath,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"tcp", cfg.Server.EnableTCP,
		"upstreams", cfg.Upstream.Servers,
	)

	a, err := app.New(cfg, logger, configPath)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := a.Start(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			a.Stop(5 * time.Second)
			return fmt.Errorf("server exited with error: %w", err)
		}
	}

	a.Stop(5 * time.Second)
	logger.Info("hydraflow stopped")
	return nil
}
