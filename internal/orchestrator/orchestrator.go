package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jroosing/hydraflow/internal/manifest"
	"github.com/jroosing/hydraflow/internal/rulestore"
)

// defaultManifestIdentifier is what a 404/401 on the primary identifier
// falls back to, once (§4.7 "Manifest identifier fallback").
const defaultManifestIdentifier = "default"

// pollInterval is how often the scheduler wakes to check which sources
// are due and to re-fetch the manifest itself. The manifest isn't a
// "source" with its own schedule in the spec's model, so it's
// refreshed on the same cadence the scheduler already wakes on rather
// than inventing a second timer.
const pollInterval = 30 * time.Second

// Orchestrator polls rule sources named by a manifest and republishes
// the rule store (§4.7). Grounded in filtering.PolicyEngine's
// refreshTicker/refreshLoop/loadBlocklists shape, generalized to
// per-source next-run bookkeeping, a concurrency cap, and an atomic
// store transaction instead of a single swapped-in trie.
type Orchestrator struct {
	cfg Config

	mu      sync.Mutex
	sources map[string]*sourceState

	stop chan struct{}
	done chan struct{}
}

// New constructs an Orchestrator. It does not fetch anything until
// Start or RunNow is called.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		sources: make(map[string]*sourceState),
	}
}

// Start loads the manifest, runs an initial pass over every source, and
// then polls on a timer until ctx is cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.reloadManifest(ctx); err != nil {
		return fmt.Errorf("orchestrator: initial manifest load: %w", err)
	}
	o.pollOnce(ctx)

	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	go o.loop(ctx)
	return nil
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		case <-ticker.C:
			if err := o.reloadManifest(ctx); err != nil {
				o.cfg.logger().Warn("orchestrator: manifest reload failed", "error", err)
			}
			o.pollOnce(ctx)
		}
	}
}

// Stop halts the polling loop and waits for it to exit.
func (o *Orchestrator) Stop() {
	if o.stop == nil {
		return
	}
	close(o.stop)
	<-o.done
}

// RunNow triggers an immediate fetch of one source regardless of its
// schedule, for StrategyManual sources or administrative triggers
// (§6).
func (o *Orchestrator) RunNow(ctx context.Context, identifier string) error {
	o.mu.Lock()
	st, ok := o.sources[identifier]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: unknown source %q", identifier)
	}

	o.updateSource(ctx, st)
	return o.mergeAndPublish(ctx)
}

// reloadManifest fetches the primary manifest (following the identifier
// 404/401 fallback and any sub-manifest includes) and reconciles the
// scheduler's source set: new sources are added with a fresh
// sourceState, sources no longer present are dropped, and sources still
// present keep their accumulated state (last rules, failure streak).
func (o *Orchestrator) reloadManifest(ctx context.Context) error {
	sources, err := o.loadManifestSources(ctx, o.cfg.PrimaryManifestIdentifier, map[string]bool{})
	if err != nil {
		return err
	}

	now := time.Now()
	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[string]bool, len(sources))
	for _, src := range sources {
		seen[src.Identifier] = true
		if st, ok := o.sources[src.Identifier]; ok {
			st.source = src
			st.spec = o.cfg.scheduleFor(src.Identifier)
			continue
		}
		spec := o.cfg.scheduleFor(src.Identifier)
		interval, ierr := src.Interval(o.cfg.defaultInterval())
		if ierr != nil {
			interval = o.cfg.defaultInterval()
		}
		st := &sourceState{source: src, spec: spec, interval: interval}
		if spec.Strategy != StrategyManual {
			// due at once, so the next poll (Start's initial pass, or the
			// next tick after a reload) fetches a newly listed source
			st.nextRun = now
		}
		o.sources[src.Identifier] = st
	}
	for id := range o.sources {
		if !seen[id] {
			delete(o.sources, id)
		}
	}
	return nil
}

// loadManifestSources fetches the manifest for identifier and returns
// the flattened list of sources across it and every sub-manifest it
// includes. visited guards against include cycles.
func (o *Orchestrator) loadManifestSources(ctx context.Context, identifier string, visited map[string]bool) ([]manifest.Source, error) {
	m, err := o.fetchManifestByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}

	sources := append([]manifest.Source(nil), m.Sources...)
	for _, include := range m.Include {
		if visited[include] {
			continue
		}
		visited[include] = true

		data, _, err := o.cfg.Fetcher.FetchBytes(ctx, o.cfg.ManifestKind, include, o.cfg.ManifestCredentials)
		if err != nil {
			o.cfg.logger().Warn("orchestrator: sub-manifest fetch failed", "url", include, "error", err)
			continue
		}
		sub, err := manifest.DecodeManifest(data, "", include)
		if err != nil {
			o.cfg.logger().Warn("orchestrator: sub-manifest decode failed", "url", include, "error", err)
			continue
		}
		sources = append(sources, sub.Sources...)
		for _, nested := range sub.Include {
			nestedSources, err := o.loadManifestSources(ctx, nested, visited)
			if err == nil {
				sources = append(sources, nestedSources...)
			}
		}
	}
	return sources, nil
}

// fetchManifestByIdentifier resolves identifier to a URL via
// ManifestURLTemplate and fetches it, retrying once against
// defaultManifestIdentifier on a 404 or 401 (§4.7). Loading
// defaultManifestIdentifier directly never falls back further.
func (o *Orchestrator) fetchManifestByIdentifier(ctx context.Context, identifier string) (manifest.Manifest, error) {
	url := strings.ReplaceAll(o.cfg.ManifestURLTemplate, "{identifier}", identifier)

	data, status, err := o.cfg.Fetcher.FetchBytes(ctx, o.cfg.ManifestKind, url, o.cfg.ManifestCredentials)
	if err != nil {
		if (status == 404 || status == 401) && identifier != defaultManifestIdentifier {
			o.cfg.logger().Warn("orchestrator: manifest identifier fell back to default",
				"identifier", identifier, "status", status)
			return o.fetchManifestByIdentifier(ctx, defaultManifestIdentifier)
		}
		return manifest.Manifest{}, err
	}
	return manifest.DecodeManifest(data, "", url)
}

// pollOnce dispatches a fetch for every due source, bounded by
// MaxConcurrent in-flight fetches, then merges and publishes if
// anything changed.
func (o *Orchestrator) pollOnce(ctx context.Context) {
	due := o.dueSources(time.Now())
	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, o.cfg.maxConcurrent())
	var wg sync.WaitGroup
	for _, st := range due {
		st := st
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			o.updateSource(ctx, st)
		}()
	}
	wg.Wait()

	if err := o.mergeAndPublish(ctx); err != nil {
		o.cfg.logger().Error("orchestrator: merge and publish failed", "error", err)
	}
}

func (o *Orchestrator) dueSources(now time.Time) []*sourceState {
	o.mu.Lock()
	defer o.mu.Unlock()

	var due []*sourceState
	for _, st := range o.sources {
		if !st.source.Enabled {
			continue
		}
		if st.spec.Strategy == StrategyManual {
			continue
		}
		if st.nextRun.IsZero() || !st.nextRun.After(now) {
			due = append(due, st)
		}
	}
	return due
}

// updateSource runs the per-source update pipeline (§4.7 "Per-source
// update"): fetch, parse, and on failure fall back to the last cached
// rule set for this source.
func (o *Orchestrator) updateSource(ctx context.Context, st *sourceState) {
	now := time.Now()
	floor, ceiling := adaptiveBounds(st.spec)

	data, _, err := o.cfg.Fetcher.FetchBytes(ctx, st.source.Kind, st.source.Location, st.source.Credentials)
	if err != nil {
		o.cfg.logger().Warn("orchestrator: source fetch failed", "source", st.source.Identifier, "error", err)
		o.mu.Lock()
		st.recordFailure(err, now, floor, ceiling)
		o.mu.Unlock()
		return
	}

	rules, err := manifest.ParseRules(data, st.source.Format, rulestore.SourceManifest, st.source.Priority, o.cfg.Strict)
	if err != nil {
		o.cfg.logger().Warn("orchestrator: source parse failed", "source", st.source.Identifier, "error", err)
		o.mu.Lock()
		st.recordFailure(err, now, floor, ceiling)
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	st.recordSuccess(rules, now, floor, ceiling)
	o.mu.Unlock()
}

func adaptiveBounds(spec ScheduleSpec) (floor, ceiling time.Duration) {
	floor, ceiling = spec.AdaptiveFloor, spec.AdaptiveCeiling
	if floor <= 0 {
		floor = time.Minute
	}
	if ceiling <= 0 {
		ceiling = 24 * time.Hour
	}
	return floor, ceiling
}

// mergeAndPublish implements §4.7's "Merge-and-publish": sort sources
// by priority descending, union their rule lists with dedup preferring
// higher priority then newer, then replace every Source==Manifest rule
// in one rule store transaction and invalidate both caches wholesale.
func (o *Orchestrator) mergeAndPublish(ctx context.Context) error {
	candidate := o.mergeCandidate()

	tx, err := o.cfg.Store.BeginTx()
	if err != nil {
		return fmt.Errorf("orchestrator: begin publish transaction: %w", err)
	}
	if _, err := tx.RemoveAllFrom(rulestore.SourceManifest); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("orchestrator: clear manifest rules: %w", err)
	}
	if _, err := tx.Add(candidate); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("orchestrator: add candidate rules: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("orchestrator: commit publish transaction: %w", err)
	}

	if o.cfg.RuleCache != nil {
		o.cfg.RuleCache.Clear()
	}
	if o.cfg.ResponseCache != nil {
		o.cfg.ResponseCache.Clear()
	}
	return nil
}

// mergeCandidate sorts sources by priority descending and unions their
// last-known-good rule lists, keeping the higher-priority (then newer)
// rule on a (domain, action) collision.
func (o *Orchestrator) mergeCandidate() []rulestore.Rule {
	o.mu.Lock()
	states := make([]*sourceState, 0, len(o.sources))
	for _, st := range o.sources {
		states = append(states, st)
	}
	o.mu.Unlock()

	sort.SliceStable(states, func(i, j int) bool {
		return states[i].source.Priority > states[j].source.Priority
	})

	type dedupKey struct {
		domain string
		action rulestore.Action
	}
	type dedupEntry struct {
		rule     rulestore.Rule
		priority int
	}
	best := make(map[dedupKey]dedupEntry)
	order := make([]dedupKey, 0)

	// states is already priority-descending, so the first time a key is
	// seen it comes from the highest-priority source that has it; a
	// later (lower-or-equal priority) source only wins on a strict tie
	// broken by a newer rule.
	for _, st := range states {
		for _, r := range st.lastRules {
			key := dedupKey{domain: r.Domain, action: r.Action}
			existing, ok := best[key]
			if !ok {
				best[key] = dedupEntry{rule: r, priority: st.source.Priority}
				order = append(order, key)
				continue
			}
			if st.source.Priority == existing.priority && r.UpdatedAt.After(existing.rule.UpdatedAt) {
				best[key] = dedupEntry{rule: r, priority: st.source.Priority}
			}
		}
	}

	candidate := make([]rulestore.Rule, 0, len(order))
	for _, key := range order {
		candidate = append(candidate, best[key].rule)
	}
	return candidate
}
