// Package adminapi implements the administrative command channel (§6):
// a line-oriented JSON command protocol plus, additionally, a small
// gin-gonic HTTP surface exposing the same commands and a
// Swagger-documented health/status surface, grounded in the teacher's
// internal/api package (internal/api/server.go, routes.go,
// handlers/base.go, handlers/health.go, middleware/auth.go,
// middleware/logging.go).
package adminapi

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jroosing/hydraflow/internal/flowengine"
	"github.com/jroosing/hydraflow/internal/orchestrator"
	"github.com/jroosing/hydraflow/internal/respcache"
	"github.com/jroosing/hydraflow/internal/rulecache"
	"github.com/jroosing/hydraflow/internal/rulestore"
)

// Dependencies wires the runtime components an administrative command
// may act on. Any field may be nil; dispatch degrades gracefully
// (commands that need a missing dependency fail with a clear error
// rather than panicking — §7 "Control-plane errors are reported to the
// caller and logged; they never crash the process").
type Dependencies struct {
	Orchestrator  *orchestrator.Orchestrator
	Store         *rulestore.Store
	RuleCache     *rulecache.Cache
	ResponseCache *respcache.Cache
	Engine        *flowengine.Engine
	ReloadConfig  func() error
	Logger        *slog.Logger
	StartTime     time.Time
}

func (d Dependencies) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Dispatcher executes administrative commands against a fixed set of
// dependencies.
type Dispatcher struct {
	deps Dependencies
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(deps Dependencies) *Dispatcher {
	if deps.StartTime.IsZero() {
		deps.StartTime = time.Now()
	}
	return &Dispatcher{deps: deps}
}

// Handle executes req and returns its response. It never returns an
// error itself — failures are reported inside CommandResponse, matching
// the command channel's one-request-one-response framing.
func (d *Dispatcher) Handle(ctx context.Context, req CommandRequest) CommandResponse {
	resp := CommandResponse{CommandID: req.CommandID, Timestamp: time.Now()}

	var (
		data interface{}
		err  error
	)

	switch req.Type {
	case CommandSyncRules, CommandUpdateRules:
		err = d.runAllNow(ctx)
	case CommandClearCache:
		err = d.clearCache()
	case CommandGetStatus:
		data, err = d.getStatus()
	case CommandReloadConfiguration:
		err = d.reloadConfiguration()
	default:
		err = errUnknownCommand(req.Type)
	}

	if err != nil {
		d.deps.logger().Warn("adminapi: command failed", "type", req.Type, "commandId", req.CommandID, "error", err)
		resp.Success = false
		resp.Error = err.Error()
		return resp
	}

	resp.Success = true
	resp.Data = data
	return resp
}

func (d *Dispatcher) runAllNow(ctx context.Context) error {
	if d.deps.Orchestrator == nil {
		return errNoOrchestrator
	}
	return d.deps.Orchestrator.RunAllNow(ctx)
}

func (d *Dispatcher) clearCache() error {
	if d.deps.RuleCache != nil {
		d.deps.RuleCache.Clear()
	}
	if d.deps.ResponseCache != nil {
		d.deps.ResponseCache.Clear()
	}
	return nil
}

func (d *Dispatcher) reloadConfiguration() error {
	if d.deps.ReloadConfig == nil {
		return errNoReloadHook
	}
	return d.deps.ReloadConfig()
}

func (d *Dispatcher) getStatus() (GetStatusResponse, error) {
	uptime := time.Since(d.deps.StartTime)

	resp := GetStatusResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     d.deps.StartTime,
		CPU:           CPUStats{NumCPU: runtime.NumCPU()},
	}

	if vmStat, err := mem.VirtualMemory(); err == nil {
		resp.Memory = MemoryStats{
			TotalMB:     float64(vmStat.Total) / 1024 / 1024,
			FreeMB:      float64(vmStat.Available) / 1024 / 1024,
			UsedMB:      float64(vmStat.Used) / 1024 / 1024,
			UsedPercent: vmStat.UsedPercent,
		}
	}
	if pct, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(pct) > 0 {
		resp.CPU.UsedPercent = pct[0]
		resp.CPU.IdlePercent = 100.0 - pct[0]
	}

	if d.deps.Store != nil {
		resp.RuleCount = d.deps.Store.RuleCount()
	}
	if d.deps.RuleCache != nil {
		hits, misses := d.deps.RuleCache.Stats()
		resp.Cache.RuleCacheHits, resp.Cache.RuleCacheMisses = hits, misses
	}
	if d.deps.ResponseCache != nil {
		hits, misses := d.deps.ResponseCache.Stats()
		resp.Cache.ResponseCacheHits, resp.Cache.ResponseCacheMisses = hits, misses
	}
	if d.deps.Engine != nil {
		t := d.deps.Engine.Snapshot()
		resp.Queries = QueryStats{
			TotalQueries: t.TotalQueries,
			Blocked:      t.Blocked,
			CacheHits:    t.CacheHits,
			Servfails:    t.ServfailsSynthesized,
		}
	}
	if d.deps.Orchestrator != nil {
		for _, s := range d.deps.Orchestrator.Status() {
			resp.Sources = append(resp.Sources, orchestratorSourceDTO{
				Identifier:           s.Identifier,
				Enabled:              s.Enabled,
				RuleCount:            s.RuleCount,
				NextRun:              s.NextRun,
				ConsecutiveFailures:  s.ConsecutiveFailures,
				ConsecutiveSuccesses: s.ConsecutiveSuccesses,
				LastError:            s.LastError,
			})
		}
	}

	return resp, nil
}
