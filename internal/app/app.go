// Package app wires every component into one running process: the rule
// store, the two in-memory caches, the flow engine and its UDP/TCP
// listeners, the rule update orchestrator, the network-path watcher,
// and the administrative command channel (HTTP + Unix socket).
//
// Grounded in the teacher's internal/server.Runner and
// cmd/hydradns/main.go's run(): both assemble a config into running
// components, log startup, start the listeners, wait for a shutdown
// signal, and stop everything with a bounded timeout. This package is
// that assembly step generalized from "DNS server + always-on web UI"
// to "flow engine + orchestrator + admin channel + path watcher".
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jroosing/hydraflow/internal/adminapi"
	"github.com/jroosing/hydraflow/internal/config"
	"github.com/jroosing/hydraflow/internal/flowengine"
	"github.com/jroosing/hydraflow/internal/flowio"
	"github.com/jroosing/hydraflow/internal/manifest"
	"github.com/jroosing/hydraflow/internal/netpath"
	"github.com/jroosing/hydraflow/internal/orchestrator"
	"github.com/jroosing/hydraflow/internal/respcache"
	"github.com/jroosing/hydraflow/internal/rulecache"
	"github.com/jroosing/hydraflow/internal/rulestore"
)

// App holds every long-lived component for one hydraflow process.
type App struct {
	logger     *slog.Logger
	cfg        *config.Config
	configPath string

	store     *rulestore.Store
	ruleCache *rulecache.Cache
	respCache *respcache.Cache
	engine    *flowengine.Engine

	udp *flowio.UDPListener
	tcp *flowio.TCPListener

	orch    *orchestrator.Orchestrator
	netw    *netpath.Watcher
	admin   *adminapi.Server
	lineSrv *adminapi.LineServer

	sockPath string
}

// New builds every component from cfg without starting any of them.
// The rule store is opened here since its file handle must outlive the
// whole process. configPath is retained so reloadConfiguration re-reads
// the same file (or the same "no file, defaults + env" mode) the
// process was started with.
func New(cfg *config.Config, logger *slog.Logger, configPath string) (*App, error) {
	store, err := rulestore.Open(cfg.RuleStore.Path)
	if err != nil {
		return nil, fmt.Errorf("app: open rule store: %w", err)
	}

	ruleCache := rulecache.New(cfg.Cache.RuleCacheCapacity)
	respCache := respcache.New(cfg.Cache.ResponseCacheCapacity)

	policy := buildPolicy(cfg.ResponsePolicy)

	upstreamTimeout, err := time.ParseDuration(cfg.Upstream.QueryTimeout)
	if err != nil || upstreamTimeout <= 0 {
		upstreamTimeout = 3 * time.Second
	}
	backoff := time.Duration(cfg.Upstream.InitialBackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	engine := flowengine.New(flowengine.Config{
		Upstreams:      cfg.Upstream.Servers,
		RuleCache:      ruleCache,
		RuleStore:      store,
		ResponseCache:  respCache,
		Policy:         policy,
		CacheEnabled:   !cfg.ResponsePolicy.Disabled,
		MaxRetries:     cfg.Upstream.MaxRetries,
		InitialBackoff: backoff,
		Logger:         logger,
	})

	a := &App{
		logger:     logger,
		cfg:        cfg,
		configPath: configPath,
		store:      store,
		ruleCache:  ruleCache,
		respCache:  respCache,
		engine:     engine,
		udp:        &flowio.UDPListener{Logger: logger, Engine: engine},
		tcp:        &flowio.TCPListener{Logger: logger, Engine: engine},
	}

	if cfg.Orchestrator.Enabled {
		orch, err := buildOrchestrator(cfg, store, ruleCache, respCache, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.orch = orch
	}

	if cfg.NetPath.Enabled {
		interval, err := time.ParseDuration(cfg.NetPath.PollInterval)
		if err != nil || interval <= 0 {
			interval = 15 * time.Second
		}
		a.netw = netpath.New(interval, func() {
			engine.EnterTransition()
			engine.ExitTransition()
		})
		a.netw.Logger = logger
	}

	deps := adminapi.Dependencies{
		Orchestrator:  a.orch,
		Store:         store,
		RuleCache:     ruleCache,
		ResponseCache: respCache,
		Engine:        engine,
		ReloadConfig:  a.reloadConfig,
		Logger:        logger,
		StartTime:     time.Now(),
	}

	if cfg.API.Enabled {
		a.admin = adminapi.New(cfg.API, deps)
	}

	a.lineSrv = &adminapi.LineServer{Logger: logger, Dispatcher: adminapi.NewDispatcher(deps)}
	a.sockPath = adminSocketPath(cfg.RuleStore.Path)

	return a, nil
}

func buildPolicy(c config.ResponseCachePolicyConfig) respcache.Policy {
	var vpnCIDRs []*net.IPNet
	for _, cidr := range c.VPNCIDRs {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			vpnCIDRs = append(vpnCIDRs, n)
		}
	}
	never := make(map[string]bool, len(c.NeverDomains))
	for _, d := range c.NeverDomains {
		never[d] = true
	}
	return respcache.Policy{
		VPNCIDRs:       vpnCIDRs,
		AuthSuffixes:   c.AuthSuffixes,
		BypassSuffixes: c.BypassSuffixes,
		NeverDomains:   never,
		Disabled:       c.Disabled,
	}
}

// adminSocketPath places the admin command socket alongside the rule
// store database file, matching the teacher's convention of deriving
// auxiliary file paths from the primary data file's directory.
func adminSocketPath(ruleStorePath string) string {
	dir := filepath.Dir(ruleStorePath)
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "hydraflow.sock")
}

// Start brings every enabled component up and returns once the flow
// engine, orchestrator, admin channel, and path watcher (as enabled)
// are all running. Listener and server errors after this point are
// reported on the returned channel.
func (a *App) Start(ctx context.Context) <-chan error {
	errCh := make(chan error, 4)

	addr := net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port))
	a.engine.Start(ctx)

	go func() { errCh <- a.udp.Run(ctx, addr) }()
	if a.cfg.Server.EnableTCP {
		go func() { errCh <- a.tcp.Run(ctx, addr) }()
	}

	if a.orch != nil {
		if err := a.orch.Start(ctx); err != nil {
			a.logger.Warn("orchestrator failed to start", "err", err)
		}
	}

	if a.netw != nil {
		if err := a.netw.Start(ctx); err != nil {
			a.logger.Warn("network path watcher failed to start", "err", err)
		}
	}

	go func() {
		if err := a.lineSrv.ListenAndServe(ctx, a.sockPath); err != nil {
			errCh <- fmt.Errorf("admin socket: %w", err)
		}
	}()

	if a.admin != nil {
		go func() {
			if err := a.admin.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("admin http: %w", err)
			}
		}()
	}

	a.logger.Info("hydraflow started",
		"addr", addr,
		"tcp", a.cfg.Server.EnableTCP,
		"upstreams", a.cfg.Upstream.Servers,
		"orchestrator", a.cfg.Orchestrator.Enabled,
		"netpath", a.cfg.NetPath.Enabled,
		"admin_http", a.cfg.API.Enabled,
		"admin_socket", a.sockPath,
	)

	return errCh
}

// Stop shuts down every running component within timeout, closing the
// rule store last since the engine and orchestrator both hold
// references into it.
func (a *App) Stop(timeout time.Duration) {
	if a.netw != nil {
		a.netw.Stop()
	}
	if a.orch != nil {
		a.orch.Stop()
	}
	if a.admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		_ = a.admin.Shutdown(shutdownCtx)
		cancel()
	}
	_ = a.lineSrv.Close()

	_ = a.udp.Stop(timeout)
	_ = a.tcp.Stop(timeout)
	a.engine.Stop()

	if err := a.store.Close(); err != nil {
		a.logger.Warn("rule store close failed", "err", err)
	}
}

// reloadConfig re-reads the configuration file hydraflow was started
// with and, if it loads and validates, replaces the stored configuration;
// an invalid file leaves the previous configuration in place. Components
// already running (listeners, caches and their policy, the orchestrator)
// keep the settings they were built with until restart, matching the
// teacher's own "full reload requires server restart" note in
// cmd/hydradns.
func (a *App) reloadConfig() error {
	fresh, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("reload configuration: %w", err)
	}
	a.cfg = fresh
	a.logger.Info("configuration reloaded", "path", a.configPath)
	return nil
}

// buildOrchestrator translates the configuration's orchestrator section
// into orchestrator.Config. Inline sources (OrchestratorConfig.Sources)
// have no direct analogue in orchestrator.Config, which always fetches
// a manifest document from ManifestURLTemplate; when inline sources are
// configured, they're materialized into a manifest.Manifest JSON
// document on disk next to the rule store and referenced via
// ManifestKind "file" instead, so the orchestrator never needs a second
// code path for statically-configured sources.
func buildOrchestrator(
	cfg *config.Config,
	store *rulestore.Store,
	ruleCache *rulecache.Cache,
	respCache *respcache.Cache,
	logger *slog.Logger,
) (*orchestrator.Orchestrator, error) {
	oc := cfg.Orchestrator

	urlTemplate := oc.ManifestURLTemplate
	kind := manifest.Kind(oc.ManifestKind)
	if kind == "" {
		kind = manifest.KindHTTPS
	}

	if len(oc.Sources) > 0 {
		manifestPath, err := writeInlineManifest(cfg.RuleStore.Path, oc.Sources)
		if err != nil {
			return nil, fmt.Errorf("app: materialize inline manifest sources: %w", err)
		}
		urlTemplate = manifestPath
		kind = manifest.KindFile
	}

	defaultInterval, err := time.ParseDuration(oc.DefaultUpdateInterval)
	if err != nil || defaultInterval <= 0 {
		defaultInterval = 30 * time.Minute
	}

	schedules := make(map[string]orchestrator.ScheduleSpec, len(oc.Schedules))
	for _, s := range oc.Schedules {
		schedules[s.Identifier] = convertSchedule(s)
	}

	orch := orchestrator.New(orchestrator.Config{
		Logger:                    logger,
		Store:                     store,
		RuleCache:                 ruleCache,
		ResponseCache:             respCache,
		Fetcher:                   manifest.NewFetcher(10 * time.Second),
		PrimaryManifestIdentifier: oc.PrimaryManifestIdentifier,
		ManifestURLTemplate:       urlTemplate,
		ManifestKind:              kind,
		ManifestCredentials:       manifest.Credentials{BearerToken: oc.ManifestBearerToken},
		MaxConcurrent:             oc.MaxConcurrent,
		DefaultUpdateInterval:     defaultInterval,
		Schedules:                 schedules,
		Strict:                    oc.Strict,
	})
	return orch, nil
}

// writeInlineManifest renders config-declared sources as a manifest
// document next to the rule store so the orchestrator can read them
// through its one existing fetch path (ManifestKind "file").
func writeInlineManifest(ruleStorePath string, sources []config.ManifestSourceConfig) (string, error) {
	m := manifest.Manifest{Sources: make([]manifest.Source, 0, len(sources))}
	for _, s := range sources {
		m.Sources = append(m.Sources, manifest.Source{
			Identifier:     s.Identifier,
			Kind:           manifest.Kind(s.Kind),
			Format:         manifest.Format(s.Format),
			Location:       s.Location,
			Priority:       s.Priority,
			UpdateInterval: s.UpdateInterval,
			Enabled:        s.Enabled,
			Credentials: manifest.Credentials{
				BearerToken: s.BearerToken,
				Username:    s.Username,
				Password:    s.Password,
			},
		})
	}

	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(ruleStorePath)
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, "hydraflow-manifest.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func convertSchedule(s config.ScheduleConfig) orchestrator.ScheduleSpec {
	spec := orchestrator.ScheduleSpec{ScheduledTimes: s.ScheduledTimes}

	switch s.Strategy {
	case "scheduled":
		spec.Strategy = orchestrator.StrategyScheduled
	case "manual":
		spec.Strategy = orchestrator.StrategyManual
	case "adaptive":
		spec.Strategy = orchestrator.StrategyAdaptive
	default:
		spec.Strategy = orchestrator.StrategyInterval
	}

	if s.TimeZone != "" {
		if loc, err := time.LoadLocation(s.TimeZone); err == nil {
			spec.Location = loc
		}
	}
	if spec.Location == nil {
		spec.Location = time.UTC
	}

	if d, err := time.ParseDuration(s.AdaptiveFloor); err == nil {
		spec.AdaptiveFloor = d
	}
	if d, err := time.ParseDuration(s.AdaptiveCeiling); err == nil {
		spec.AdaptiveCeiling = d
	}

	return spec
}
