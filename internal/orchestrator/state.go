package orchestrator

import (
	"time"

	"github.com/jroosing/hydraflow/internal/manifest"
	"github.com/jroosing/hydraflow/internal/rulestore"
)

// sourceState is the scheduler's per-source bookkeeping: the source's
// manifest definition, its scheduling strategy, when it next runs, and
// the last successfully parsed rule set to fall back to on a failed
// fetch (§4.7 step 3).
type sourceState struct {
	source manifest.Source
	spec   ScheduleSpec

	interval time.Duration
	nextRun  time.Time

	lastRules []rulestore.Rule
	lastErr   error

	consecutiveSuccesses int
	consecutiveFailures  int
}

func (s *sourceState) recordSuccess(rules []rulestore.Rule, now time.Time, floor, ceiling time.Duration) {
	s.lastRules = rules
	s.lastErr = nil
	s.consecutiveFailures = 0
	s.consecutiveSuccesses++

	if s.spec.Strategy == StrategyAdaptive {
		s.interval = growAdaptive(s.interval, floor, ceiling)
	}
	s.nextRun = nextRunFor(s, now)
}

func (s *sourceState) recordFailure(err error, now time.Time, floor, ceiling time.Duration) {
	s.lastErr = err
	s.consecutiveSuccesses = 0
	s.consecutiveFailures++

	if s.spec.Strategy == StrategyAdaptive {
		s.interval = shrinkAdaptive(s.interval, floor, ceiling)
	}
	s.nextRun = nextRunFor(s, now)
}

func growAdaptive(cur, floor, ceiling time.Duration) time.Duration {
	if cur <= 0 {
		cur = floor
	}
	next := cur * 2
	if next > ceiling {
		next = ceiling
	}
	if next < floor {
		next = floor
	}
	return next
}

func shrinkAdaptive(cur, floor, ceiling time.Duration) time.Duration {
	if cur <= 0 {
		cur = ceiling
	}
	next := cur / 2
	if next < floor {
		next = floor
	}
	if next > ceiling {
		next = ceiling
	}
	return next
}
