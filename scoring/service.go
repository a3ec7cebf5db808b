// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geopulse/platform/scoring/llm"
	"geopulse/platform/shared/logger"
)

// ErrNoMissingCountries reports that every country in the reference set
// already has a stored score for the scenario.
var ErrNoMissingCountries = errors.New("no countries missing scores")

// ScoreOptions selects the provider path for one scoring request.
type ScoreOptions struct {
	// Grounded routes batches through the web-grounded model chain.
	Grounded bool `json:"grounded"`
	// Model overrides the default model. For grounded requests it is
	// prepended to the fallback chain; for ungrounded requests it replaces
	// the default model outright.
	Model string `json:"model,omitempty"`
}

// ProviderStatus is one entry of the provider health report.
type ProviderStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
}

// ServiceConfig wires a ScoringService.
type ServiceConfig struct {
	Reference       ReferenceStore
	Scores          ScoreStore
	Tracker         *JobTracker
	Scorer          *BatchScorer
	Planner         *RunPlanner
	GroundedLimiter RateLimiter // throttles the grounded tier, may be nil
	Providers       []llm.Provider
	Logger          *logger.Logger
	Metrics         *PipelineMetrics
	BatchSize       int
	NumRuns         int
}

// ScoringService owns the scoring pipeline: it plans runs, dispatches
// batches, tracks job progress and persists results.
type ScoringService struct {
	reference       ReferenceStore
	scores          ScoreStore
	tracker         *JobTracker
	scorer          *BatchScorer
	planner         *RunPlanner
	groundedLimiter RateLimiter
	providers       []llm.Provider
	logger          *logger.Logger
	metrics         *PipelineMetrics
	batchSize       int
	numRuns         int
}

// NewScoringService creates a ScoringService.
func NewScoringService(cfg ServiceConfig) *ScoringService {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.NumRuns < 1 {
		cfg.NumRuns = DefaultNumRuns
	}
	if cfg.Planner == nil {
		cfg.Planner = NewRunPlanner()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New("scoring-service")
	}
	return &ScoringService{
		reference:       cfg.Reference,
		scores:          cfg.Scores,
		tracker:         cfg.Tracker,
		scorer:          cfg.Scorer,
		planner:         cfg.Planner,
		groundedLimiter: cfg.GroundedLimiter,
		providers:       cfg.Providers,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		batchSize:       cfg.BatchSize,
		numRuns:         cfg.NumRuns,
	}
}

// StartScoring kicks off a full scoring pass over the active country list
// for one scenario. The returned job is already registered with the
// tracker; the pipeline itself runs in the background and the caller polls
// the job for progress.
func (s *ScoringService) StartScoring(ctx context.Context, scenarioID string, opts ScoreOptions) (*ScoringJob, error) {
	scenario, err := s.reference.GetScenarioByID(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	countries, err := s.reference.GetActiveCountryList(ctx)
	if err != nil {
		// The job is created and immediately failed so the caller always
		// gets a job ID to poll, even when reference data is unavailable.
		job := s.tracker.CreateJob(scenarioID, 0, 0)
		s.tracker.Fail(job.ID, fmt.Sprintf("failed to load country list: %v", err))
		s.metrics.RecordJob(JobStatusFailed)
		failed, _ := s.tracker.Get(job.ID)
		return failed, nil
	}
	if len(countries) == 0 {
		job := s.tracker.CreateJob(scenarioID, 0, 0)
		s.tracker.Fail(job.ID, "country list is empty")
		s.metrics.RecordJob(JobStatusFailed)
		failed, _ := s.tracker.Get(job.ID)
		return failed, nil
	}

	return s.launch(scenario, countries, opts), nil
}

// RerunMissing scores only the countries that have no stored score for the
// scenario yet, typically after a partial failure in an earlier job.
func (s *ScoringService) RerunMissing(ctx context.Context, scenarioID string, opts ScoreOptions) (*ScoringJob, error) {
	scenario, err := s.reference.GetScenarioByID(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	countries, err := s.reference.GetActiveCountryList(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load country list: %w", err)
	}

	stored, err := s.scores.GetScoresForScenario(ctx, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing scores: %w", err)
	}

	have := make(map[string]bool, len(stored))
	for _, cs := range stored {
		have[cs.CountryName] = true
	}

	var missing []string
	for _, country := range countries {
		if !have[country] {
			missing = append(missing, country)
		}
	}
	if len(missing) == 0 {
		return nil, ErrNoMissingCountries
	}

	return s.launch(scenario, missing, opts), nil
}

// GetJob returns a snapshot of one job.
func (s *ScoringService) GetJob(jobID string) (*ScoringJob, bool) {
	return s.tracker.Get(jobID)
}

// GetScores returns all stored scores for a scenario.
func (s *ScoringService) GetScores(ctx context.Context, scenarioID string) ([]CountryScore, error) {
	return s.scores.GetScoresForScenario(ctx, scenarioID)
}

// ProviderStatuses reports configured providers and their health.
func (s *ScoringService) ProviderStatuses() []ProviderStatus {
	statuses := make([]ProviderStatus, 0, len(s.providers))
	for _, p := range s.providers {
		statuses = append(statuses, ProviderStatus{Name: p.Name(), Healthy: p.IsHealthy()})
	}
	return statuses
}

// launch registers the job and starts the pipeline in the background with
// a fresh context: the job must outlive the triggering HTTP request.
func (s *ScoringService) launch(scenario *Scenario, countries []string, opts ScoreOptions) *ScoringJob {
	totalBatches := totalBatchCount(len(countries), s.batchSize, s.numRuns)
	job := s.tracker.CreateJob(scenario.ID, totalBatches, len(countries))

	s.logger.Info(scenario.ID, job.ID, "Scoring job started", map[string]interface{}{
		"countries":     len(countries),
		"total_batches": totalBatches,
		"num_runs":      s.numRuns,
		"batch_size":    s.batchSize,
		"grounded":      opts.Grounded,
	})

	go s.runPipeline(context.Background(), job.ID, *scenario, countries, opts)
	return job
}

func (s *ScoringService) runPipeline(ctx context.Context, jobID string, scenario Scenario, countries []string, opts ScoreOptions) {
	start := time.Now()
	tier := "ungrounded"
	if opts.Grounded {
		tier = "grounded"
	}

	plan := s.planner.Plan(countries, s.numRuns, s.batchSize)

	var tasks []BatchTask
	for run, batches := range plan {
		for index, batch := range batches {
			tasks = append(tasks, BatchTask{Run: run, Index: index, Countries: batch})
		}
	}

	valid := make(map[string]bool, len(countries))
	for _, country := range countries {
		valid[country] = true
	}

	collector := newRunCollector()

	dispatchOpts := DispatchOptions{}
	if opts.Grounded {
		// Only the grounded tier runs on a small per-minute quota; the
		// first batch is warmed synchronously so the shared prompt prefix
		// lands in the provider cache before the concurrent burst.
		dispatchOpts.Limiter = s.groundedLimiter
		dispatchOpts.WarmFirstBatch = true
	}

	results := dispatchAll(ctx, tasks, dispatchOpts, func(ctx context.Context, task BatchTask) error {
		batchStart := time.Now()
		action := fmt.Sprintf("score/%s/r%d/b%d", scenario.ID, task.Run, task.Index)

		parsed, err := s.scorer.ScoreBatch(ctx, action, scenario, task.Countries, opts.Grounded, opts.Model)
		s.metrics.RecordBatch(tier, time.Since(batchStart), err)
		if err != nil {
			s.logger.Error(scenario.ID, jobID, "Batch scoring failed", map[string]interface{}{
				"run":   task.Run,
				"batch": task.Index,
				"error": err.Error(),
			})
			s.tracker.RecordBatchDone(jobID, 0)
			return err
		}

		// The model may echo countries outside this batch or misspell
		// names; only scores for countries actually in the batch count.
		scored := make(map[string]ScoreResult, len(task.Countries))
		for _, country := range task.Countries {
			if result, ok := parsed[country]; ok {
				scored[country] = result
			}
		}
		collector.Record(scored)

		if err := s.persistResults(ctx, scenario.ID, scored); err != nil {
			s.logger.Error(scenario.ID, jobID, "Batch persistence failed", map[string]interface{}{
				"run":   task.Run,
				"batch": task.Index,
				"error": err.Error(),
			})
			s.tracker.RecordBatchDone(jobID, 0)
			return err
		}

		s.tracker.RecordBatchDone(jobID, len(scored))
		return nil
	})

	// Once the dispatch set has settled the job completes, even with zero
	// successes: failed only covers conditions that prevent any batch from
	// running at all, and rerunMissing is the recovery path for the gaps.
	failures := countFailures(results)
	summary := ""
	if failures > 0 {
		summary = fmt.Sprintf("%d batches failed", failures)
	}

	if s.numRuns > 1 {
		// Fold the per-run results into final per-country values and
		// overwrite the incremental single-run scores written above.
		runs := collector.Snapshot()
		final := aggregateRuns(countries, runs)
		aggregated := make(map[string]ScoreResult, len(final))
		for country, result := range final {
			if len(runs[country]) == 0 {
				// Never attempted successfully; nothing to persist.
				continue
			}
			aggregated[country] = result
		}
		if err := s.persistResults(ctx, scenario.ID, aggregated); err != nil {
			s.logger.Error(scenario.ID, jobID, "Aggregate persistence failed", map[string]interface{}{
				"error": err.Error(),
			})
			// The incremental per-batch scores are already stored, so the
			// job still completes with the failure on record.
			if summary != "" {
				summary += "; "
			}
			summary += fmt.Sprintf("failed to persist aggregated scores: %v", err)
		}
	}

	s.tracker.Complete(jobID, summary)
	s.metrics.RecordJob(JobStatusCompleted)

	s.logger.InfoWithDuration(scenario.ID, jobID, "Scoring job finished",
		float64(time.Since(start).Milliseconds()), map[string]interface{}{
			"batches":  len(tasks),
			"failures": failures,
		})
}

// persistResults upserts one settled result set, clamping scores to the
// [-1, 1] domain on the way in.
func (s *ScoringService) persistResults(ctx context.Context, scenarioID string, results map[string]ScoreResult) error {
	if len(results) == 0 {
		return nil
	}

	scores := make([]CountryScore, 0, len(results))
	for country, result := range results {
		scores = append(scores, CountryScore{
			CountryName: country,
			Score:       clampScore(result.Score),
			Reasoning:   result.Reasoning,
		})
	}
	return s.scores.UpsertScores(ctx, scenarioID, scores)
}
