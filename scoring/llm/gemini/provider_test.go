// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"geopulse/platform/scoring/llm"
)

// mockHTTPClient is a mock HTTP client for testing.
type mockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.DoFunc(req)
}

// Helper to create a successful generateContent response.
func successResponse(parts []string, inputTokens, outputTokens int) *http.Response {
	var geminiParts []geminiPart
	for _, p := range parts {
		geminiParts = append(geminiParts, geminiPart{Text: p})
	}
	resp := geminiResponse{
		Candidates: []geminiCandidate{
			{
				Content:      geminiContent{Parts: geminiParts, Role: "model"},
				FinishReason: "STOP",
			},
		},
		UsageMetadata: &geminiUsageMetadata{
			PromptTokenCount:     inputTokens,
			CandidatesTokenCount: outputTokens,
			TotalTokenCount:      inputTokens + outputTokens,
		},
	}
	body, _ := json.Marshal(resp)
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     make(http.Header),
	}
}

func errorResponse(statusCode int, message, status string) *http.Response {
	resp := map[string]any{
		"error": map[string]any{
			"code":    statusCode,
			"message": message,
			"status":  status,
		},
	}
	body, _ := json.Marshal(resp)
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     make(http.Header),
	}
}

func newTestProvider(t *testing.T, doFunc func(req *http.Request) (*http.Response, error)) *Provider {
	t.Helper()
	p, err := NewProvider(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	p.SetHTTPClient(&mockHTTPClient{DoFunc: doFunc})
	return p
}

func TestNewProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewProvider(Config{}); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestCompleteGroundedRequestShape(t *testing.T) {
	var captured map[string]any
	p := newTestProvider(t, func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &captured)

		if !strings.Contains(req.URL.Path, ":generateContent") {
			t.Errorf("unexpected path: %s", req.URL.Path)
		}
		if req.URL.Query().Get("key") != "test-key" {
			t.Error("missing API key query parameter")
		}
		return successResponse([]string{`{"scores":{"France":{"score":0.4}}}`}, 80, 30), nil
	})

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "rate countries",
		Prompt:       "France",
		Model:        ModelGemini25Flash,
		Grounded:     true,
		JSONResponse: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Content != `{"scores":{"France":{"score":0.4}}}` {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 110 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}

	// Grounding attaches the google_search tool
	tools, ok := captured["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("expected google_search tool, got %v", captured["tools"])
	}
	if _, ok := tools[0].(map[string]any)["google_search"]; !ok {
		t.Errorf("expected google_search tool, got %v", tools[0])
	}

	// Grounded calls must not force a JSON mime type
	genCfg := captured["generationConfig"].(map[string]any)
	if _, ok := genCfg["responseMimeType"]; ok {
		t.Error("grounded calls must not set responseMimeType")
	}

	// System instruction rides separately from contents
	if _, ok := captured["systemInstruction"]; !ok {
		t.Error("expected systemInstruction in request")
	}
}

func TestCompleteUngroundedJSONHint(t *testing.T) {
	p := newTestProvider(t, func(req *http.Request) (*http.Response, error) {
		var captured map[string]any
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &captured)

		if _, ok := captured["tools"]; ok {
			t.Error("ungrounded calls must not attach tools")
		}
		genCfg := captured["generationConfig"].(map[string]any)
		if genCfg["responseMimeType"] != "application/json" {
			t.Error("ungrounded JSON calls should set responseMimeType")
		}
		return successResponse([]string{`{"scores":{}}`}, 1, 1), nil
	})

	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "s", Prompt: "p", JSONResponse: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCompleteConcatenatesParts(t *testing.T) {
	p := newTestProvider(t, func(req *http.Request) (*http.Response, error) {
		return successResponse([]string{`{"scores":`, `{"France":{"score":0.4}}}`}, 1, 1), nil
	})

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "s", Prompt: "p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != `{"scores":{"France":{"score":0.4}}}` {
		t.Errorf("parts not concatenated: %q", resp.Content)
	}
}

func TestCompleteQuotaExhaustedIsFatal(t *testing.T) {
	p := newTestProvider(t, func(req *http.Request) (*http.Response, error) {
		return errorResponse(http.StatusTooManyRequests, "Quota exceeded", "RESOURCE_EXHAUSTED"), nil
	})

	_, err := p.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "s", Prompt: "p"})

	var pe *llm.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %v", err)
	}
	if pe.Code != llm.ErrCodeRateLimit || pe.Retryable {
		t.Errorf("quota errors must surface immediately, got %+v", pe)
	}
}

func TestCompletePermissionDeniedIsAuthError(t *testing.T) {
	p := newTestProvider(t, func(req *http.Request) (*http.Response, error) {
		return errorResponse(http.StatusForbidden, "API key not valid", "PERMISSION_DENIED"), nil
	})

	_, err := p.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "s", Prompt: "p"})

	var pe *llm.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %v", err)
	}
	if pe.Code != llm.ErrCodeAuth {
		t.Errorf("expected auth error, got %+v", pe)
	}
}

func TestCompleteServerErrorMarksUnhealthy(t *testing.T) {
	p := newTestProvider(t, func(req *http.Request) (*http.Response, error) {
		return errorResponse(http.StatusServiceUnavailable, "The model is overloaded", "UNAVAILABLE"), nil
	})

	_, err := p.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "s", Prompt: "p"})
	if err == nil {
		t.Fatal("expected error")
	}
	if p.IsHealthy() {
		t.Error("5xx must mark the provider unhealthy")
	}
}

func TestDefaultFallbackModels(t *testing.T) {
	models := DefaultFallbackModels()
	if len(models) < 2 {
		t.Fatalf("expected a chain of at least 2 models, got %d", len(models))
	}
	if models[0].Name != ModelGemini25Flash || !models[0].Grounded {
		t.Errorf("preferred model must lead the chain: %+v", models[0])
	}
	for _, m := range models {
		if !IsValidModel(m.Name) {
			t.Errorf("invalid model in chain: %s", m.Name)
		}
	}
}
