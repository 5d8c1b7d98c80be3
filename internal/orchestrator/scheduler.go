package orchestrator

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// jitterFraction is the ±10% jitter applied to StrategyInterval runs
// (§4.7 "Interval (jittered ±10%)").
const jitterFraction = 0.10

// nextRunFor computes a source's next scheduled run from now, per its
// strategy. StrategyManual never schedules a timer run; its nextRun is
// the zero time and Orchestrator.dueSources never selects it.
func nextRunFor(s *sourceState, now time.Time) time.Time {
	switch s.spec.Strategy {
	case StrategyManual:
		return time.Time{}
	case StrategyScheduled:
		return nextScheduledTime(now, s.spec.ScheduledTimes, s.spec.Location)
	default: // StrategyInterval, StrategyAdaptive
		interval := s.interval
		if interval <= 0 {
			interval = 0
		}
		return now.Add(jitter(interval))
	}
}

// jitter scales d by a uniformly random factor in [1-jitterFraction,
// 1+jitterFraction].
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	factor := 1 + (rand.Float64()*2-1)*jitterFraction
	return time.Duration(float64(d) * factor)
}

// nextScheduledTime finds the next HH:MM entry in times, interpreted in
// loc, that is strictly after now. If every entry today has already
// passed, it rolls over to the earliest entry tomorrow. An empty or
// entirely unparsable times list falls back to one day from now so a
// misconfigured source still eventually retries.
func nextScheduledTime(now time.Time, times []string, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	var best time.Time
	for _, spec := range times {
		hh, mm, ok := parseHHMM(spec)
		if !ok {
			continue
		}
		candidate := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, loc)
		if !candidate.After(local) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	if best.IsZero() {
		return now.Add(24 * time.Hour)
	}
	return best
}

func parseHHMM(spec string) (hh, mm int, ok bool) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
