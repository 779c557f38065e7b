package analyzer

import (
	"math"
	"time"

	"github.com/copilot-mcp/copilot-memory/internal/database"
)

// Window sizes for the derived metrics.
const (
	frequencyWindow  = 30 * 24 * time.Hour
	regularityWindow = 7 * 24 * time.Hour
)

// decayPerHour is the exponential decay base applied per hour of event age.
const decayPerHour = 0.95

// defaultRelevance stands in for events logged without a relevance score.
const defaultRelevance = 0.5

// frequencyScore computes the exponentially decayed, relevance-weighted
// event density over the last 30 days, scaled by event volume and
// clamped to [0,1].
func frequencyScore(events []*database.AccessEvent, now time.Time) float64 {
	cutoff := now.Add(-frequencyWindow)

	var weightSum, weightedRelevance float64
	n := 0
	for _, e := range events {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		n++

		ageHours := now.Sub(e.Timestamp).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
		w := math.Pow(decayPerHour, ageHours)

		relevance := defaultRelevance
		if e.RelevanceScore != nil {
			relevance = *e.RelevanceScore
		}
		bonus := 0.5 + 0.5*relevance

		weightSum += w
		weightedRelevance += w * bonus
	}

	if n == 0 || weightSum == 0 {
		return 0
	}

	mean := weightedRelevance / weightSum
	volume := 1 + math.Log10(float64(n))/2
	if volume > 2 {
		volume = 2
	}

	score := mean * volume
	if score > 1 {
		return 1
	}
	return score
}

// regularityScore is 1 minus the coefficient of variation of
// inter-arrival intervals over the last 7 days, clamped to [0,1].
// Fewer than 3 events in the window yield 0.
func regularityScore(events []*database.AccessEvent, now time.Time) float64 {
	intervals := recentIntervals(events, now)
	if len(intervals) < 2 {
		return 0
	}

	mean := meanDuration(intervals)
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, iv := range intervals {
		d := iv.Seconds() - mean.Seconds()
		variance += d * d
	}
	variance /= float64(len(intervals))
	stddev := math.Sqrt(variance)

	cv := stddev / mean.Seconds()
	if cv > 1 {
		cv = 1
	}
	return 1 - cv
}

// predictNextAccess extrapolates the next access time when the access
// pattern is regular enough: last access plus the mean interval scaled
// by regularity. Irregular or sparse histories predict nothing.
func predictNextAccess(events []*database.AccessEvent, now time.Time) *time.Time {
	regularity := regularityScore(events, now)
	if regularity < 0.5 {
		return nil
	}

	intervals := recentIntervals(events, now)
	if len(intervals) < 2 {
		return nil
	}

	var last time.Time
	for _, e := range events {
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}

	mean := meanDuration(intervals)
	predicted := last.Add(time.Duration(regularity * float64(mean)))
	return &predicted
}

// recentIntervals returns the inter-arrival intervals of events within
// the regularity window. Events arrive oldest first from the log.
func recentIntervals(events []*database.AccessEvent, now time.Time) []time.Duration {
	cutoff := now.Add(-regularityWindow)

	var timestamps []time.Time
	for _, e := range events {
		if !e.Timestamp.Before(cutoff) {
			timestamps = append(timestamps, e.Timestamp)
		}
	}
	if len(timestamps) < 3 {
		return nil
	}

	intervals := make([]time.Duration, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		intervals = append(intervals, timestamps[i].Sub(timestamps[i-1]))
	}
	return intervals
}

func meanDuration(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total / time.Duration(len(durations))
}
