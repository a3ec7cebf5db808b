// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobTracker holds the in-memory scoring job records. Jobs live only for
// the duration of the triggering request plus the polling window; nothing
// is persisted across restarts.
//
// All mutation goes through the tracker's lock so that counter increments
// from concurrent batch-completion callbacks are never lost, and progress
// is recomputed (not incremented) on every update so racing updates stay
// self-correcting.
type JobTracker struct {
	mu   sync.RWMutex
	jobs map[string]*ScoringJob
}

// NewJobTracker creates an empty tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{jobs: make(map[string]*ScoringJob)}
}

// CreateJob registers a new running job. Batch and country totals are
// fixed for the job's lifetime.
func (t *JobTracker) CreateJob(scenarioID string, totalBatches, totalCountries int) *ScoringJob {
	now := time.Now().UTC()
	job := &ScoringJob{
		ID:             uuid.New().String(),
		ScenarioID:     scenarioID,
		TotalBatches:   totalBatches,
		TotalCountries: totalCountries,
		Status:         JobStatusRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[job.ID] = job
	return t.copyLocked(job)
}

// Get returns a copy of the job, safe to hand to a polling client while
// batch callbacks keep mutating the original.
func (t *JobTracker) Get(jobID string) (*ScoringJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return nil, false
	}
	return t.copyLocked(job), true
}

// RecordBatchDone increments the batch counter (and the country counter
// by countriesScored) after any batch settles, then recomputes progress.
// Counters only ever move up and are capped at their totals; terminal
// jobs are never mutated.
func (t *JobTracker) RecordBatchDone(jobID string, countriesScored int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok || job.Status != JobStatusRunning {
		return
	}

	if job.CompletedBatches < job.TotalBatches {
		job.CompletedBatches++
	}
	job.CompletedCountries += countriesScored
	if job.CompletedCountries > job.TotalCountries {
		job.CompletedCountries = job.TotalCountries
	}

	if job.TotalBatches > 0 {
		job.Progress = int(math.Round(float64(job.CompletedBatches) / float64(job.TotalBatches) * 100))
	}
	if job.Progress > 100 {
		job.Progress = 100
	}
	job.UpdatedAt = time.Now().UTC()
}

// Complete marks the job terminal-successful once the full dispatch set
// has settled. A non-empty errSummary (e.g. "3 batches failed") records
// partial failure without failing the job.
func (t *JobTracker) Complete(jobID, errSummary string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok || job.Status != JobStatusRunning {
		return
	}

	job.Status = JobStatusCompleted
	job.Progress = 100
	job.Error = errSummary
	job.UpdatedAt = time.Now().UTC()
}

// Fail marks the job terminal-failed. Reserved for pipeline-level
// conditions that prevent any batch from running at all.
func (t *JobTracker) Fail(jobID, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok || job.Status != JobStatusRunning {
		return
	}

	job.Status = JobStatusFailed
	job.Error = message
	job.UpdatedAt = time.Now().UTC()
}

func (t *JobTracker) copyLocked(job *ScoringJob) *ScoringJob {
	cp := *job
	return &cp
}
