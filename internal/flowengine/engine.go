// Package flowengine implements the core query pipeline (§4.5): the
// component that owns every in-flight query, consults the rule cache and
// response cache, forwards unresolved queries to an upstream connection,
// and matches upstream responses back to the client that asked.
//
// The spec describes a literal actor model: a single-writer serial work
// queue W_dns that owns all pending-query state, a second serial queue
// W_trans guarding a transition buffer, and a reader-per-flow model with
// its own backoff schedule. Go's idiomatic equivalent of "single writer,
// many readers" is a mutex-guarded map rather than a hand-rolled actor
// mailbox, so Engine uses a sync.Mutex the same way the teacher's
// UDPServer guards its per-IP connection table and rate limiter state:
// short, uncontended critical sections rather than message passing.
// Upstream-failover retries are deferred with time.AfterFunc instead of
// re-posting to a mailbox, and stale pending queries are swept by a
// ticker-driven cleanup loop.
package flowengine

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jroosing/hydraflow/internal/dnswire"
	"github.com/jroosing/hydraflow/internal/respcache"
	"github.com/jroosing/hydraflow/internal/rulecache"
	"github.com/jroosing/hydraflow/internal/rulestore"
	"github.com/jroosing/hydraflow/internal/upstreampool"
)

// State is the engine's lifecycle state (§4.5).
type State int32

const (
	Starting State = iota
	Transition
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Transition:
		return "transition"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PendingQueryTimeout is how long a PendingQuery may live before the
// cleanup timer synthesizes SERVFAIL and evicts it (§4.5 "Cleanup").
const PendingQueryTimeout = 5 * time.Second

// cleanupInterval is how often the cleanup timer scans for stale
// PendingQueries.
const cleanupInterval = 5 * time.Second

// failoverChainDeadline bounds how long a query may wait for an upstream
// connection to become Connected before the engine gives up and answers
// with SERVFAIL (§4.5 step 8).
const failoverChainDeadline = 2 * time.Second

// failoverRetryDelay is how long the engine waits before retrying an
// upstream that was not yet Connected (§4.5 step 8).
const failoverRetryDelay = 500 * time.Millisecond

// ClientWriter delivers a raw DNS response back to whatever flow asked
// for it: a UDP socket plus return address, or a length-prefixed TCP
// connection. Implementations live in package flowio.
type ClientWriter interface {
	WriteResponse(data []byte) error
	RemoteAddr() string
	Transport() string
}

// Config supplies an Engine with the components it sits between.
type Config struct {
	Upstreams      []string
	RuleCache      *rulecache.Cache
	RuleStore      *rulestore.Store
	ResponseCache  *respcache.Cache
	Policy         respcache.Policy
	CacheEnabled   bool
	MaxRetries     int
	InitialBackoff time.Duration
	Reachable      func() bool
	Logger         *slog.Logger
}

// Engine is the flow engine (§4.5): the single owner of pending-query
// state and the dispatcher between client-facing flows and upstream
// connections.
type Engine struct {
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	pending map[uint16]*PendingQuery

	upstreams []string
	pool      *upstreampool.Pool

	ruleCache     *rulecache.Cache
	ruleStore     *rulestore.Store
	respCache     *respcache.Cache
	policy        respcache.Policy
	cacheEnabled  bool
	reachable     func() bool

	transition *transitionQueue

	cleanupStop chan struct{}

	telemetry Telemetry
}

// Telemetry holds cumulative query counters, surfaced through the
// administrative channel's getStatus response (§6). Each field is
// updated with a single atomic add on its path through HandleQuery /
// failPending, so reading Snapshot never blocks a query.
type Telemetry struct {
	TotalQueries         int64
	Blocked              int64
	CacheHits            int64
	ServfailsSynthesized int64
}

// Snapshot returns the current counter values.
func (e *Engine) Snapshot() Telemetry {
	return Telemetry{
		TotalQueries:         atomic.LoadInt64(&e.telemetry.TotalQueries),
		Blocked:              atomic.LoadInt64(&e.telemetry.Blocked),
		CacheHits:            atomic.LoadInt64(&e.telemetry.CacheHits),
		ServfailsSynthesized: atomic.LoadInt64(&e.telemetry.ServfailsSynthesized),
	}
}

// PendingQuery tracks one in-flight query awaiting an upstream response.
type PendingQuery struct {
	TransactionID    uint16
	QName            string
	QType            uint16
	Raw              []byte
	MaxUDPSize       int
	Writer           ClientWriter
	ReceivedAt       time.Time
	OriginalResolver string
	UpstreamServer   string
	NextUpstreamIdx  int
}

// New builds an Engine in the Starting state. Call Start to bring it
// into Running.
func New(cfg Config) *Engine {
	e := &Engine{
		logger:       cfg.Logger,
		state:        Starting,
		pending:      make(map[uint16]*PendingQuery),
		upstreams:    cfg.Upstreams,
		ruleCache:    cfg.RuleCache,
		ruleStore:    cfg.RuleStore,
		respCache:    cfg.ResponseCache,
		policy:       cfg.Policy,
		cacheEnabled: cfg.CacheEnabled,
		reachable:    cfg.Reachable,
		transition:   newTransitionQueue(),
	}
	e.pool = upstreampool.New(cfg.MaxRetries, cfg.InitialBackoff, e.handleUpstreamResponse)
	return e
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start transitions Starting -> Transition -> Running (§4.5): it attempts
// a connection to every configured upstream, then drains anything queued
// during startup onto the normal pipeline, and starts the cleanup timer.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.state = Transition
	e.mu.Unlock()

	for _, server := range e.upstreams {
		if _, err := e.pool.GetOrCreate(server); err != nil && e.logger != nil {
			e.logger.Warn("upstream connect failed at startup", "server", server, "err", err)
		}
	}

	e.mu.Lock()
	e.state = Running
	e.mu.Unlock()

	for _, q := range e.transition.drain() {
		e.HandleQuery(q.writer, q.raw)
	}

	e.cleanupStop = make(chan struct{})
	go e.cleanupLoop(ctx)
}

// EnterTransition moves Running -> Transition on a VPN state flip or
// network-path change (§4.5): it drops every upstream connection so the
// engine re-acquires fresh ones under the new path, and begins queuing
// incoming queries in the transition buffer until ExitTransition is
// called.
func (e *Engine) EnterTransition() {
	e.mu.Lock()
	e.state = Transition
	e.mu.Unlock()
	e.pool.CloseAll()
}

// ExitTransition moves Transition -> Running and redispatches anything
// queued while transitioning, in order.
func (e *Engine) ExitTransition() {
	e.mu.Lock()
	e.state = Running
	e.mu.Unlock()

	for _, q := range e.transition.drain() {
		e.HandleQuery(q.writer, q.raw)
	}
}

// Stop moves the engine to Stopping then Stopped, closing every upstream
// connection and halting the cleanup timer.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.state = Stopping
	e.mu.Unlock()

	if e.cleanupStop != nil {
		close(e.cleanupStop)
	}
	e.pool.CloseAll()

	e.mu.Lock()
	e.state = Stopped
	e.mu.Unlock()
}

func (e *Engine) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.cleanupStop:
			return
		case <-ticker.C:
			e.sweepStalePending()
		}
	}
}

// sweepStalePending evicts any PendingQuery older than PendingQueryTimeout,
// synthesizing SERVFAIL to its original client (§4.5 "Cleanup").
func (e *Engine) sweepStalePending() {
	cutoff := time.Now().Add(-PendingQueryTimeout)

	e.mu.Lock()
	var stale []*PendingQuery
	for id, pq := range e.pending {
		if pq.ReceivedAt.Before(cutoff) {
			stale = append(stale, pq)
			delete(e.pending, id)
		}
	}
	e.mu.Unlock()

	for _, pq := range stale {
		q, err := dnswire.DecodeQuery(pq.Raw)
		var resp []byte
		if err == nil {
			resp = dnswire.SynthesizeServFail(q)
		}
		if resp != nil {
			_ = pq.Writer.WriteResponse(resp)
		}
	}
}

// splitHostPort returns the host portion of addr, or addr unchanged if it
// has no port.
func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
