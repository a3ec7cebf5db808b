// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

// Package gemini provides the generate-content style LLM provider used for
// grounded scoring calls. It targets Google's Gemini REST API and can
// attach the google_search tool so that model answers draw on live web
// retrieval instead of stale training data.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"geopulse/platform/scoring/llm"
)

const (
	// DefaultBaseURL is the default Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultAPIVersion is the Gemini API version.
	DefaultAPIVersion = "v1beta"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max output tokens for completions.
	DefaultMaxTokens = 8192

	// DefaultTemperature is the default temperature for completions.
	DefaultTemperature = 0.3
)

// Model constants for supported Gemini models.
const (
	ModelGemini25Flash = "gemini-2.5-flash"
	ModelGemini25Pro   = "gemini-2.5-pro"
	ModelGemini2Flash  = "gemini-2.0-flash"

	// DefaultModel is the preferred grounded scoring model.
	DefaultModel = ModelGemini25Flash
)

// DefaultFallbackModels is the ordered model chain for grounded scoring:
// preferred model first, cheaper/older models as fallbacks.
func DefaultFallbackModels() []llm.ModelOption {
	return []llm.ModelOption{
		{Name: ModelGemini25Flash, Grounded: true},
		{Name: ModelGemini2Flash, Grounded: true},
	}
}

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements the llm.Provider interface for Google Gemini.
type Provider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	timeout    time.Duration
	client     HTTPClient
	healthy    bool
	mu         sync.RWMutex
}

// Config contains configuration for the Gemini provider.
type Config struct {
	APIKey     string        // Required: Google API key
	BaseURL    string        // Optional: API base URL
	APIVersion string        // Optional: API version (default: v1beta)
	Model      string        // Optional: default model
	Timeout    time.Duration // Optional: HTTP timeout (default: 120s)
}

// NewProvider creates a new Gemini provider instance.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Provider{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		client:     &http.Client{Timeout: cfg.Timeout},
		healthy:    true,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "gemini"
}

// IsHealthy returns whether the provider is healthy.
func (p *Provider) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy && p.apiKey != ""
}

func (p *Provider) setHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

// Complete issues one generateContent request. When req.Grounded is set
// the google_search tool is attached so the model can consult live web
// results. Non-2xx responses come back as fatal provider errors.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	temperature := req.Temperature
	if temperature < 0 {
		temperature = DefaultTemperature
	}

	apiReq := p.buildAPIRequest(req, maxTokens, temperature)

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent?key=%s",
		p.baseURL, p.apiVersion, model, p.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.setHealthy(false)
		pe := llm.NewProviderError("gemini", llm.ErrCodeTransport, err.Error())
		pe.Cause = err
		return nil, pe
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			p.setHealthy(false)
		}
		return nil, p.parseAPIError(resp.StatusCode, body)
	}

	p.setHealthy(true)

	var apiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, llm.NewProviderError("gemini", llm.ErrCodeMalformedResponse, "failed to decode response envelope")
	}

	content := ""
	if len(apiResp.Candidates) > 0 {
		// Grounded responses may interleave text parts; concatenate them.
		var b strings.Builder
		for _, part := range apiResp.Candidates[0].Content.Parts {
			b.WriteString(part.Text)
		}
		content = b.String()
	}

	inputTokens := 0
	outputTokens := 0
	if apiResp.UsageMetadata != nil {
		inputTokens = apiResp.UsageMetadata.PromptTokenCount
		outputTokens = apiResp.UsageMetadata.CandidatesTokenCount
	}

	return &llm.CompletionResponse{
		Content: content,
		Model:   model,
		Usage: llm.UsageStats{
			PromptTokens:     inputTokens,
			CompletionTokens: outputTokens,
			TotalTokens:      inputTokens + outputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// buildAPIRequest builds the Gemini API request body.
func (p *Provider) buildAPIRequest(req llm.CompletionRequest, maxTokens int, temperature float64) map[string]any {
	generationConfig := map[string]any{
		"maxOutputTokens": maxTokens,
		"temperature":     temperature,
	}
	// The google_search tool rejects forced JSON mime types, so the
	// structured-output hint only applies to ungrounded calls.
	if req.JSONResponse && !req.Grounded {
		generationConfig["responseMimeType"] = "application/json"
	}

	apiReq := map[string]any{
		"contents": []map[string]any{
			{
				"role": "user",
				"parts": []map[string]any{
					{"text": req.Prompt},
				},
			},
		},
		"generationConfig": generationConfig,
	}

	if req.SystemPrompt != "" {
		apiReq["systemInstruction"] = map[string]any{
			"parts": []map[string]any{
				{"text": req.SystemPrompt},
			},
		}
	}

	if req.Grounded {
		apiReq["tools"] = []map[string]any{
			{"google_search": map[string]any{}},
		}
	}

	return apiReq
}

// parseAPIError rewrites an error response body into a clean message.
func (p *Provider) parseAPIError(statusCode int, body []byte) *llm.ProviderError {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	message := ""
	status := ""
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		status = errResp.Error.Status
	} else {
		text := strings.TrimSpace(string(body))
		if strings.HasPrefix(text, "<") {
			message = fmt.Sprintf("HTTP %d error page", statusCode)
		} else {
			if len(text) > 200 {
				text = text[:200] + "..."
			}
			message = text
		}
		if message == "" {
			message = fmt.Sprintf("HTTP %d with empty body", statusCode)
		}
	}

	code := llm.ErrCodeInvalidRequest
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden ||
		status == "UNAUTHENTICATED" || status == "PERMISSION_DENIED":
		code = llm.ErrCodeAuth
	case statusCode == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
		code = llm.ErrCodeRateLimit
	case statusCode >= 500:
		code = llm.ErrCodeServerError
	}

	pe := llm.NewProviderError("gemini", code, message)
	pe.StatusCode = statusCode
	return pe
}

// SetHTTPClient sets a custom HTTP client for testing.
func (p *Provider) SetHTTPClient(client HTTPClient) {
	p.client = client
}

// Internal API types

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates,omitempty"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// IsValidModel checks if the given model is a Gemini model name.
func IsValidModel(model string) bool {
	return strings.HasPrefix(model, "gemini-")
}
