// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"math/rand"
	"sync"
	"time"
)

// RunPlanner produces independently-shuffled batch partitions of the
// country list, one partition per run. Shuffling exists so that batch
// composition differs per run, decorrelating systematic batch-position
// bias in the model's judgments.
type RunPlanner struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRunPlanner creates a time-seeded planner.
func NewRunPlanner() *RunPlanner {
	return &RunPlanner{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// newRunPlannerWithSeed supports deterministic tests.
func newRunPlannerWithSeed(seed int64) *RunPlanner {
	return &RunPlanner{rnd: rand.New(rand.NewSource(seed))}
}

// Plan returns numRuns independent partitions of countries into batches of
// at most batchSize. Each run shuffles a fresh copy of the full list with
// Fisher-Yates, then slices it into consecutive chunks.
func (p *RunPlanner) Plan(countries []string, numRuns, batchSize int) [][]Batch {
	if numRuns < 1 {
		numRuns = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}

	runs := make([][]Batch, 0, numRuns)
	for run := 0; run < numRuns; run++ {
		shuffled := p.shuffled(countries)

		var batches []Batch
		for start := 0; start < len(shuffled); start += batchSize {
			end := start + batchSize
			if end > len(shuffled) {
				end = len(shuffled)
			}
			batches = append(batches, Batch(shuffled[start:end]))
		}
		runs = append(runs, batches)
	}
	return runs
}

// shuffled returns a Fisher-Yates shuffled copy of the input.
func (p *RunPlanner) shuffled(countries []string) []string {
	out := make([]string, len(countries))
	copy(out, countries)

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(out) - 1; i > 0; i-- {
		j := p.rnd.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// totalBatchCount is the fixed batch total recorded on the job at
// creation: ceil(countryCount/batchSize) * numRuns.
func totalBatchCount(countryCount, batchSize, numRuns int) int {
	if batchSize < 1 {
		batchSize = 1
	}
	perRun := (countryCount + batchSize - 1) / batchSize
	return perRun * numRuns
}
