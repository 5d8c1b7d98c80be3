package orchestrator

import (
	"context"
	"time"
)

// RunAllNow triggers an immediate fetch of every enabled source
// regardless of its schedule, then merges and publishes. Used by the
// administrative "syncRules"/"updateRules" commands (§6), which ask for
// an out-of-band refresh rather than waiting for the next tick.
func (o *Orchestrator) RunAllNow(ctx context.Context) error {
	o.mu.Lock()
	due := make([]*sourceState, 0, len(o.sources))
	for _, st := range o.sources {
		if st.source.Enabled {
			due = append(due, st)
		}
	}
	o.mu.Unlock()

	for _, st := range due {
		o.updateSource(ctx, st)
	}
	return o.mergeAndPublish(ctx)
}

// SourceStatus is a point-in-time snapshot of one source's scheduling
// state, reported by the administrative "getStatus" command (§6).
type SourceStatus struct {
	Identifier           string    `json:"identifier"`
	Enabled              bool      `json:"enabled"`
	RuleCount            int       `json:"ruleCount"`
	NextRun              time.Time `json:"nextRun,omitempty"`
	ConsecutiveFailures  int       `json:"consecutiveFailures"`
	ConsecutiveSuccesses int       `json:"consecutiveSuccesses"`
	LastError            string    `json:"lastError,omitempty"`
}

// Status returns a snapshot of every known source's scheduling state.
func (o *Orchestrator) Status() []SourceStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]SourceStatus, 0, len(o.sources))
	for id, st := range o.sources {
		s := SourceStatus{
			Identifier:           id,
			Enabled:              st.source.Enabled,
			RuleCount:            len(st.lastRules),
			NextRun:              st.nextRun,
			ConsecutiveFailures:  st.consecutiveFailures,
			ConsecutiveSuccesses: st.consecutiveSuccesses,
		}
		if st.lastErr != nil {
			s.LastError = st.lastErr.Error()
		}
		out = append(out, s)
	}
	return out
}
