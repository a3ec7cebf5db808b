// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"sort"
	"sync"
)

// runCollector accumulates per-country results across concurrent batch
// completions from all runs.
type runCollector struct {
	mu   sync.Mutex
	runs map[string][]ScoreResult
}

func newRunCollector() *runCollector {
	return &runCollector{runs: make(map[string][]ScoreResult)}
}

// Record appends one run's result for each scored country.
func (c *runCollector) Record(results map[string]ScoreResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for country, result := range results {
		c.runs[country] = append(c.runs[country], result)
	}
}

// Snapshot returns a copy of the accumulated runs.
func (c *runCollector) Snapshot() map[string][]ScoreResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]ScoreResult, len(c.runs))
	for country, runs := range c.runs {
		out[country] = append([]ScoreResult(nil), runs...)
	}
	return out
}

// clampScore bounds a score to the [-1, 1] domain.
func clampScore(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// aggregateRuns folds multiple runs per country into one result: the
// final score is the clamped mean, and the representative reasoning is
// taken from the run whose score sits at the median of the sorted run
// scores (the element at index n/2; exact ties keep the first-encountered
// run because the sort is stable).
//
// Countries with zero recorded runs are still reported, with score 0 and
// no reasoning, so consumers can tell "neutral by computation" from
// "never attempted" by the reasoning being absent.
func aggregateRuns(countries []string, perCountryRuns map[string][]ScoreResult) map[string]ScoreResult {
	out := make(map[string]ScoreResult, len(countries))

	for _, country := range countries {
		runs := perCountryRuns[country]
		if len(runs) == 0 {
			out[country] = ScoreResult{Score: 0}
			continue
		}

		sum := 0.0
		for _, r := range runs {
			sum += r.Score
		}
		mean := clampScore(sum / float64(len(runs)))

		sorted := append([]ScoreResult(nil), runs...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Score < sorted[j].Score
		})
		median := sorted[len(sorted)/2]

		out[country] = ScoreResult{Score: mean, Reasoning: median.Reasoning}
	}

	return out
}
