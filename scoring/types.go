// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"time"
)

// Scenario is a user-described geopolitical situation to score countries
// against. Side definitions anchor what +1 and -1 mean for this scenario.
type Scenario struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	SideA       string `json:"side_a"`
	SideB       string `json:"side_b"`
}

// CountryScore is one (scenario, country) judgment. Score is always in
// [-1, 1] once stored; Reasoning may be empty when a country was reported
// without successful runs.
type CountryScore struct {
	CountryName string  `json:"country_name"`
	Score       float64 `json:"score"`
	Reasoning   string  `json:"reasoning,omitempty"`
}

// ScoreResult is the per-country outcome of one batch or aggregation pass.
type ScoreResult struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Batch is an ordered group of countries scored together in one LLM call.
// Batches are ephemeral: they exist only within one dispatch cycle.
type Batch []string

// JobStatus enumerates the lifecycle states of a scoring job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ScoringJob is the mutable progress record for one in-flight scoring
// request, polled by clients while batches complete concurrently.
type ScoringJob struct {
	ID                 string    `json:"id"`
	ScenarioID         string    `json:"scenario_id"`
	TotalBatches       int       `json:"total_batches"`
	CompletedBatches   int       `json:"completed_batches"`
	TotalCountries     int       `json:"total_countries"`
	CompletedCountries int       `json:"completed_countries"`
	Status             JobStatus `json:"status"`
	Progress           int       `json:"progress"`
	Error              string    `json:"error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
