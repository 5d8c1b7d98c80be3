package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJitterStaysWithinTenPercent(t *testing.T) {
	d := 100 * time.Second
	for i := 0; i < 200; i++ {
		j := jitter(d)
		assert.GreaterOrEqual(t, j, 90*time.Second)
		assert.LessOrEqual(t, j, 110*time.Second)
	}
}

func TestNextScheduledTimePicksNextTimeToday(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, loc)

	next := nextScheduledTime(now, []string{"03:00", "14:30", "23:00"}, loc)
	assert.Equal(t, time.Date(2026, 3, 1, 14, 30, 0, 0, loc), next)
}

func TestNextScheduledTimeRollsOverToTomorrow(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 1, 23, 30, 0, 0, loc)

	next := nextScheduledTime(now, []string{"03:00", "14:30"}, loc)
	assert.Equal(t, time.Date(2026, 3, 2, 3, 0, 0, 0, loc), next)
}

func TestNextScheduledTimeFallsBackOnAllInvalid(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	next := nextScheduledTime(now, []string{"garbage"}, time.UTC)
	assert.True(t, next.After(now))
}

func TestNextRunForManualNeverSchedules(t *testing.T) {
	st := &sourceState{spec: ScheduleSpec{Strategy: StrategyManual}}
	assert.True(t, nextRunFor(st, time.Now()).IsZero())
}

func TestGrowAndShrinkAdaptiveRespectBounds(t *testing.T) {
	floor, ceiling := time.Minute, time.Hour

	v := growAdaptive(0, floor, ceiling)
	assert.Equal(t, 2*floor, v)

	v = growAdaptive(50*time.Minute, floor, ceiling)
	assert.Equal(t, ceiling, v)

	v = shrinkAdaptive(floor, floor, ceiling)
	assert.Equal(t, floor, v)
}
