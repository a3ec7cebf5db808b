// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"geopulse/platform/scoring/llm"
)

// ratingScaleInstructions is the static scoring rubric. It leads the
// system prompt so providers can cache the shared prefix across batches.
const ratingScaleInstructions = `You are a geopolitical analyst. For each country you are given, estimate its stance on the scenario below on a scale from -1.0 to +1.0:
  +1.0 = fully aligned with Side A
   0.0 = neutral, undecided, or balancing both sides
  -1.0 = fully aligned with Side B
Base your judgment on the country's alliances, treaties, trade exposure, ideology, public statements, and recent behavior.

Respond with ONLY a JSON object, no prose and no code fences, shaped exactly like:
{"scores":{"<country name>":{"score":<number>,"reasoning":"<one or two sentences>"}}}
Use the country names exactly as given. Every listed country must appear in the scores object.`

// webSearchInstructions is appended only for grounded calls.
const webSearchInstructions = `Use web search to check for recent developments (statements, sanctions, votes, troop movements) before scoring. Prefer events from the last 12 months over older context.`

// buildSystemPrompt assembles the system prompt. Ordering is deliberate:
// the static rubric first, grounding instructions second, and the variable
// scenario text last, so the static prefix stays byte-identical across
// batches and provider-side prompt caching can hit.
func buildSystemPrompt(scenario Scenario, grounded bool) string {
	var b strings.Builder
	b.WriteString(ratingScaleInstructions)
	b.WriteString("\n\n")
	if grounded {
		b.WriteString(webSearchInstructions)
		b.WriteString("\n\n")
	}
	b.WriteString("Scenario: ")
	b.WriteString(scenario.Title)
	b.WriteString("\n")
	b.WriteString(scenario.Description)
	b.WriteString("\nSide A: ")
	b.WriteString(scenario.SideA)
	b.WriteString("\nSide B: ")
	b.WriteString(scenario.SideB)
	return b.String()
}

// buildUserPrompt lists the batch countries, attaching any per-country
// recent-context addenda. The addenda patch knowledge-cutoff gaps with
// injected current-events facts for countries whose situation moved after
// the model's training data was frozen.
func buildUserPrompt(countries Batch, recentContext map[string]string) string {
	var b strings.Builder
	b.WriteString("Score the following countries:\n")
	for _, country := range countries {
		b.WriteString("- ")
		b.WriteString(country)
		if note, ok := recentContext[country]; ok && note != "" {
			b.WriteString(" (recent context: ")
			b.WriteString(note)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// parseScores extracts the per-country results from a normalized JSON
// reply. Entries whose score is missing, non-numeric, NaN or infinite are
// dropped, never coerced to zero.
func parseScores(content string) (map[string]ScoreResult, error) {
	var envelope struct {
		Scores map[string]struct {
			Score     json.RawMessage `json:"score"`
			Reasoning string          `json:"reasoning"`
		} `json:"scores"`
	}

	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse scores object: %w", err)
	}
	if envelope.Scores == nil {
		return nil, fmt.Errorf("reply has no scores object")
	}

	results := make(map[string]ScoreResult, len(envelope.Scores))
	for country, entry := range envelope.Scores {
		var score float64
		if len(entry.Score) == 0 {
			continue
		}
		if err := json.Unmarshal(entry.Score, &score); err != nil {
			continue
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		results[country] = ScoreResult{Score: score, Reasoning: entry.Reasoning}
	}
	return results, nil
}

// BatchScorer scores one batch of countries with a single LLM call,
// retried on transient model-format failures and (for grounded calls)
// falling back across an ordered model chain.
type BatchScorer struct {
	grounded      *llm.Client
	ungrounded    *llm.Client
	chain         llm.FallbackChain
	maxAttempts   int
	timeout       time.Duration
	recentContext map[string]string
	metrics       *PipelineMetrics
}

// BatchScorerConfig wires a BatchScorer.
type BatchScorerConfig struct {
	Grounded      *llm.Client       // generate-content style client, may be nil
	Ungrounded    *llm.Client       // chat-completion style client, may be nil
	Chain         llm.FallbackChain // model chain for grounded calls
	MaxAttempts   int
	Timeout       time.Duration
	RecentContext map[string]string
	Metrics       *PipelineMetrics
}

// NewBatchScorer creates a BatchScorer.
func NewBatchScorer(cfg BatchScorerConfig) *BatchScorer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &BatchScorer{
		grounded:      cfg.Grounded,
		ungrounded:    cfg.Ungrounded,
		chain:         cfg.Chain,
		maxAttempts:   cfg.MaxAttempts,
		timeout:       cfg.Timeout,
		recentContext: cfg.RecentContext,
		metrics:       cfg.Metrics,
	}
}

// ScoreBatch builds the prompts, delegates to the right provider path and
// parses the reply. The returned map is keyed by country name as the
// model echoed it; callers filter it against the canonical country list
// before persisting anything.
func (b *BatchScorer) ScoreBatch(ctx context.Context, action string, scenario Scenario, countries Batch, grounded bool, modelChoice string) (map[string]ScoreResult, error) {
	if len(countries) == 0 {
		return map[string]ScoreResult{}, nil
	}

	userPrompt := buildUserPrompt(countries, b.recentContext)

	var content string
	var resp *llm.CompletionResponse
	var err error
	if grounded {
		content, resp, err = b.scoreGrounded(ctx, action, scenario, userPrompt, modelChoice)
	} else {
		content, resp, err = b.scoreUngrounded(ctx, action, scenario, userPrompt, modelChoice)
	}
	if err != nil {
		return nil, err
	}

	if b.metrics != nil && resp != nil {
		b.metrics.RecordTokens(resp.Model, resp.Usage.TotalTokens)
	}

	return parseScores(content)
}

func (b *BatchScorer) scoreGrounded(ctx context.Context, action string, scenario Scenario, userPrompt, modelChoice string) (string, *llm.CompletionResponse, error) {
	if b.grounded == nil {
		return "", nil, fmt.Errorf("grounded provider is not configured")
	}

	chain := b.chain
	if modelChoice != "" {
		chain = llm.FallbackChain{Models: append(
			[]llm.ModelOption{{Name: modelChoice, Grounded: true}},
			b.chain.Models...)}
	}

	return chain.Execute(ctx, func(ctx context.Context, model llm.ModelOption) (string, *llm.CompletionResponse, error) {
		systemPrompt := buildSystemPrompt(scenario, model.Grounded)
		return withRetry(ctx, action, b.maxAttempts, func(ctx context.Context, attemptAction string) (string, *llm.CompletionResponse, error) {
			return b.grounded.Call(ctx, attemptAction, llm.CompletionRequest{
				SystemPrompt: systemPrompt,
				Prompt:       userPrompt,
				Model:        model.Name,
				Grounded:     model.Grounded,
				JSONResponse: true,
				Temperature:  -1,
				Timeout:      b.timeout,
			})
		})
	})
}

func (b *BatchScorer) scoreUngrounded(ctx context.Context, action string, scenario Scenario, userPrompt, modelChoice string) (string, *llm.CompletionResponse, error) {
	if b.ungrounded == nil {
		return "", nil, fmt.Errorf("ungrounded provider is not configured")
	}

	systemPrompt := buildSystemPrompt(scenario, false)
	return withRetry(ctx, action, b.maxAttempts, func(ctx context.Context, attemptAction string) (string, *llm.CompletionResponse, error) {
		return b.ungrounded.Call(ctx, attemptAction, llm.CompletionRequest{
			SystemPrompt: systemPrompt,
			Prompt:       userPrompt,
			Model:        modelChoice,
			JSONResponse: true,
			Temperature:  -1,
			Timeout:      b.timeout,
		})
	})
}
