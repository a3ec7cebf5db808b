// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the GeoPulse scorer service.
//
// The scorer takes a geopolitical scenario and produces per-country
// stance scores in [-1, +1] with reasoning, by dispatching batched
// requests to LLM providers:
// - Plans shuffled batch partitions across one or more runs
// - Dispatches batches concurrently, rate-limited per provider quota
// - Persists scores incrementally so partial failures keep partial results
// - Tracks job progress for polling clients
//
// Usage:
//
//	./scorer
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8090)
//	DATABASE_URL - PostgreSQL connection string
//	REDIS_URL - optional Redis URL for distributed rate limiting
//	OPENAI_API_KEY - OpenAI API key (ungrounded tier)
//	GEMINI_API_KEY - Google API key (grounded tier)
//	SCORING_CONFIG_FILE - optional YAML config overlay
package main

import (
	"geopulse/platform/scoring"
)

func main() {
	scoring.Run()
}
