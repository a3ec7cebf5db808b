// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

/*
Package scoring provides the GeoPulse batch scoring pipeline: given a
geopolitical scenario, it produces a stance score in [-1, +1] with
reasoning for every country in the reference set.

# Overview

Scoring a scenario means hundreds of LLM judgments. The pipeline keeps
that tractable by batching countries into shared prompts, dispatching
batches concurrently under provider rate limits, and persisting results
incrementally so partial failures still leave partial data:

	Client → POST /api/v1/scenarios/{id}/score → job ID
	       → poll GET /api/v1/jobs/{id} until completed
	       → GET /api/v1/scenarios/{id}/scores

# Pipeline

One scoring job flows through these stages:

  - RunPlanner shuffles the country list per run and slices it into
    batches, so batch composition differs across runs
  - dispatchAll fires every batch concurrently and waits for all of
    them to settle; one batch's failure never cancels its siblings
  - BatchScorer builds the prompts (static rubric first so provider
    prompt caching hits), calls the provider with retries and model
    fallback, and parses the JSON scores
  - Results are upserted per batch; with multiple runs, per-country
    results are aggregated (clamped mean, median-run reasoning) at
    the end
  - JobTracker records progress for polling clients

# Provider Tiers

Two provider paths exist. The grounded tier (Gemini with web search)
runs on a small per-minute quota and is throttled by a sliding-window
rate limiter, distributed via Redis when REDIS_URL is set. The
ungrounded tier (OpenAI chat completions) runs unthrottled.

# Usage

	// Start the scorer service
	scoring.Run()

	// Configuration comes from environment variables:
	// PORT                - HTTP server port (default: 8090)
	// DATABASE_URL        - PostgreSQL connection string
	// REDIS_URL           - Redis URL for distributed rate limiting
	// OPENAI_API_KEY      - OpenAI API key (ungrounded tier)
	// GEMINI_API_KEY      - Google API key (grounded tier)
	// SCORING_CONFIG_FILE - optional YAML overlay (batch size, runs,
	//                       model chains, recent-context addenda)

# Metrics

The scorer exposes Prometheus metrics at /prometheus and JSON metrics
at /metrics:

  - geopulse_scoring_batches_total - settled batches by status
  - geopulse_scoring_batch_duration_milliseconds - batch latency histogram
  - geopulse_scoring_llm_tokens_total - tokens consumed per model
  - geopulse_scoring_jobs_total - jobs by terminal status

# Thread Safety

All exported types in this package are safe for concurrent use. Batch
completions mutate job state and run collections under mutexes; job
snapshots returned to pollers are copies.
*/
package scoring
