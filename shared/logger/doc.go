// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

/*
Package logger provides structured JSON logging for GeoPulse components.

# Overview

The logger outputs JSON to stdout, making logs easily consumable by
CloudWatch, ELK stack, or other log aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (scorer, scoring-service, scoring-api)
  - Instance ID and container name (for distributed tracing)
  - Scenario ID (to group all activity for one scenario)
  - Job ID (to follow one scoring job's lifecycle)

# Usage

	log := logger.New("scoring-service")

	log.Info(scenarioID, jobID, "Scoring job started", map[string]interface{}{
		"countries": 195,
	})

	log.ErrorWithCode(scenarioID, jobID, "Batch failed", 502, err, nil)

# Thread Safety

Logger instances are stateless after construction and safe for
concurrent use.
*/
package logger
