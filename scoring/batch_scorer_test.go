// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"context"
	"strings"
	"sync"
	"testing"

	"geopulse/platform/scoring/llm"
)

// scriptedProvider returns canned responses and records requests.
type scriptedProvider struct {
	mu       sync.Mutex
	name     string
	requests []llm.CompletionRequest
	respond  func(req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	return p.respond(req)
}

func (p *scriptedProvider) IsHealthy() bool { return true }

func (p *scriptedProvider) lastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

func (p *scriptedProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func staticReply(content string) func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: content, Model: "test-model"}, nil
	}
}

var testScenario = Scenario{
	ID:          "scn-1",
	Title:       "Arctic shipping lane dispute",
	Description: "Two blocs contest control of a newly navigable route.",
	SideA:       "Coastal states claiming territorial control",
	SideB:       "Maritime powers claiming freedom of navigation",
}

func TestBuildSystemPromptStaticPrefixFirst(t *testing.T) {
	grounded := buildSystemPrompt(testScenario, true)
	ungrounded := buildSystemPrompt(testScenario, false)

	for _, prompt := range []string{grounded, ungrounded} {
		if !strings.HasPrefix(prompt, ratingScaleInstructions) {
			t.Error("system prompt must start with the static rubric")
		}
		rubric := strings.Index(prompt, "scale from -1.0 to +1.0")
		scenario := strings.Index(prompt, "Arctic shipping lane dispute")
		if rubric == -1 || scenario == -1 || rubric > scenario {
			t.Error("variable scenario text must come after the static rubric")
		}
	}

	if !strings.Contains(grounded, "web search") {
		t.Error("grounded prompt must carry search instructions")
	}
	if strings.Contains(ungrounded, "web search") {
		t.Error("ungrounded prompt must not carry search instructions")
	}

	// The static prefix must be byte-identical across grounded prompts for
	// different scenarios so provider-side caching can hit.
	other := testScenario
	other.Title = "Different dispute"
	a := buildSystemPrompt(testScenario, true)
	b := buildSystemPrompt(other, true)
	common := len(ratingScaleInstructions) + len(webSearchInstructions)
	if a[:common] != b[:common] {
		t.Error("static prefix differs across scenarios")
	}
}

func TestBuildUserPromptAttachesRecentContext(t *testing.T) {
	prompt := buildUserPrompt(Batch{"France", "Japan"}, map[string]string{
		"Japan": "signed a new security pact in May",
	})

	if !strings.Contains(prompt, "- France\n") {
		t.Error("expected plain listing for countries without addenda")
	}
	if !strings.Contains(prompt, "- Japan (recent context: signed a new security pact in May)") {
		t.Error("expected recent-context addendum attached to Japan")
	}
}

func TestParseScoresDropsInvalidEntries(t *testing.T) {
	content := `{"scores":{
		"France":{"score":0.5,"reasoning":"aligned"},
		"Japan":{"score":"refuses to answer","reasoning":"n/a"},
		"Kenya":{"reasoning":"no score field"},
		"Brazil":{"score":-0.25,"reasoning":"trade ties"}
	}}`

	results, err := parseScores(content)
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 valid entries, got %d", len(results))
	}
	if results["France"].Score != 0.5 {
		t.Errorf("France score = %f", results["France"].Score)
	}
	if results["Brazil"].Score != -0.25 {
		t.Errorf("Brazil score = %f", results["Brazil"].Score)
	}
	if _, ok := results["Japan"]; ok {
		t.Error("non-numeric score must be dropped, not coerced")
	}
	if _, ok := results["Kenya"]; ok {
		t.Error("missing score must be dropped")
	}
}

func TestParseScoresRejectsMissingScoresObject(t *testing.T) {
	if _, err := parseScores(`{"result":"ok"}`); err == nil {
		t.Error("expected error for reply without scores object")
	}
	if _, err := parseScores(`not json`); err == nil {
		t.Error("expected error for non-JSON reply")
	}
}

func TestScoreBatchUngroundedPath(t *testing.T) {
	provider := &scriptedProvider{
		name:    "openai",
		respond: staticReply(`{"scores":{"France":{"score":0.7,"reasoning":"NATO member"}}}`),
	}
	scorer := NewBatchScorer(BatchScorerConfig{
		Ungrounded: llm.NewClient(provider, nil),
	})

	results, err := scorer.ScoreBatch(context.Background(), "score/scn-1/r0/b0",
		testScenario, Batch{"France"}, false, "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}

	if results["France"].Score != 0.7 {
		t.Errorf("expected parsed score 0.7, got %f", results["France"].Score)
	}

	req := provider.lastRequest()
	if req.Model != "gpt-4o" {
		t.Errorf("model override not passed through, got %q", req.Model)
	}
	if !req.JSONResponse {
		t.Error("ungrounded requests must ask for JSON output")
	}
	if req.Grounded {
		t.Error("ungrounded path must not request grounding")
	}
}

func TestScoreBatchGroundedFallsBackAcrossModels(t *testing.T) {
	provider := &scriptedProvider{name: "gemini"}
	provider.respond = func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if req.Model == "gemini-2.5-flash" {
			return nil, llm.NewProviderError("gemini", llm.ErrCodeServerError, "overloaded")
		}
		return &llm.CompletionResponse{
			Content: `{"scores":{"India":{"score":0.1,"reasoning":"hedging"}}}`,
			Model:   req.Model,
		}, nil
	}

	scorer := NewBatchScorer(BatchScorerConfig{
		Grounded: llm.NewClient(provider, nil),
		Chain: llm.FallbackChain{Models: []llm.ModelOption{
			{Name: "gemini-2.5-flash", Grounded: true},
			{Name: "gemini-2.0-flash", Grounded: true},
		}},
	})

	results, err := scorer.ScoreBatch(context.Background(), "score/scn-1/r0/b0",
		testScenario, Batch{"India"}, true, "")
	if err != nil {
		t.Fatal(err)
	}
	if results["India"].Score != 0.1 {
		t.Errorf("expected fallback model result, got %+v", results["India"])
	}
	if provider.requestCount() != 2 {
		t.Errorf("expected 2 calls (primary + fallback), got %d", provider.requestCount())
	}
}

func TestScoreBatchGroundedModelChoicePrependsToChain(t *testing.T) {
	provider := &scriptedProvider{
		name:    "gemini",
		respond: staticReply(`{"scores":{"Egypt":{"score":0.0,"reasoning":"neutral stance"}}}`),
	}

	scorer := NewBatchScorer(BatchScorerConfig{
		Grounded: llm.NewClient(provider, nil),
		Chain: llm.FallbackChain{Models: []llm.ModelOption{
			{Name: "gemini-2.5-flash", Grounded: true},
		}},
	})

	_, err := scorer.ScoreBatch(context.Background(), "score/scn-1/r0/b0",
		testScenario, Batch{"Egypt"}, true, "gemini-exp")
	if err != nil {
		t.Fatal(err)
	}

	if got := provider.lastRequest().Model; got != "gemini-exp" {
		t.Errorf("model choice must be tried first, got %q", got)
	}
}

func TestScoreBatchRetriesMalformedReplies(t *testing.T) {
	calls := 0
	provider := &scriptedProvider{name: "openai"}
	provider.respond = func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		calls++
		if calls < 3 {
			return &llm.CompletionResponse{Content: "Sure! Here are the scores you asked for..."}, nil
		}
		return &llm.CompletionResponse{
			Content: `{"scores":{"Oman":{"score":-0.2,"reasoning":"quiet alignment"}}}`,
		}, nil
	}

	scorer := NewBatchScorer(BatchScorerConfig{
		Ungrounded:  llm.NewClient(provider, nil),
		MaxAttempts: 3,
	})

	results, err := scorer.ScoreBatch(context.Background(), "score/scn-1/r0/b0",
		testScenario, Batch{"Oman"}, false, "")
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if results["Oman"].Score != -0.2 {
		t.Errorf("unexpected result %+v", results["Oman"])
	}
}

func TestScoreBatchEmptyBatchIsNoop(t *testing.T) {
	provider := &scriptedProvider{name: "openai", respond: staticReply(`{}`)}
	scorer := NewBatchScorer(BatchScorerConfig{Ungrounded: llm.NewClient(provider, nil)})

	results, err := scorer.ScoreBatch(context.Background(), "score/scn-1/r0/b0",
		testScenario, Batch{}, false, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty result, got %d entries", len(results))
	}
	if provider.requestCount() != 0 {
		t.Error("empty batch must not call the provider")
	}
}

func TestScoreBatchMissingProvider(t *testing.T) {
	scorer := NewBatchScorer(BatchScorerConfig{})

	if _, err := scorer.ScoreBatch(context.Background(), "a", testScenario, Batch{"France"}, true, ""); err == nil {
		t.Error("expected error when grounded provider is missing")
	}
	if _, err := scorer.ScoreBatch(context.Background(), "a", testScenario, Batch{"France"}, false, ""); err == nil {
		t.Error("expected error when ungrounded provider is missing")
	}
}
