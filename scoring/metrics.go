// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geopulse_scoring_batches_total",
			Help: "Total number of scoring batches dispatched",
		},
		[]string{"status"},
	)
	promBatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geopulse_scoring_batch_duration_milliseconds",
			Help:    "Batch scoring duration in milliseconds",
			Buckets: []float64{500, 1000, 2000, 5000, 10000, 30000, 60000, 120000},
		},
		[]string{"tier"},
	)
	promLLMTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geopulse_scoring_llm_tokens_total",
			Help: "Total LLM tokens consumed by scoring calls",
		},
		[]string{"model"},
	)
	promJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geopulse_scoring_jobs_total",
			Help: "Total number of scoring jobs by terminal status",
		},
		[]string{"status"},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promBatchesTotal)
	prometheus.MustRegister(promBatchDuration)
	prometheus.MustRegister(promLLMTokens)
	prometheus.MustRegister(promJobsTotal)
}

// PipelineMetrics records scoring pipeline activity. A nil receiver is
// safe everywhere so tests can leave metrics unwired.
type PipelineMetrics struct{}

// NewPipelineMetrics returns the process-wide metrics recorder.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{}
}

// RecordTokens counts tokens consumed by one provider reply.
func (m *PipelineMetrics) RecordTokens(model string, tokens int) {
	if m == nil || tokens <= 0 {
		return
	}
	if model == "" {
		model = "unknown"
	}
	promLLMTokens.WithLabelValues(model).Add(float64(tokens))
}

// RecordBatch counts one settled batch and its duration. Tier is
// "grounded" or "ungrounded".
func (m *PipelineMetrics) RecordBatch(tier string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	promBatchesTotal.WithLabelValues(status).Inc()
	promBatchDuration.WithLabelValues(tier).Observe(float64(duration.Milliseconds()))
}

// RecordJob counts one job reaching a terminal status.
func (m *PipelineMetrics) RecordJob(status JobStatus) {
	if m == nil {
		return
	}
	promJobsTotal.WithLabelValues(string(status)).Inc()
}
