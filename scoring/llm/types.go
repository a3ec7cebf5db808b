// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CompletionRequest encapsulates all parameters for a graded LLM request.
type CompletionRequest struct {
	// SystemPrompt sets the rating-scale and formatting instructions.
	// Static content is ordered first so providers can cache the prefix.
	SystemPrompt string `json:"system_prompt"`

	// Prompt is the user message (country list plus context addenda).
	Prompt string `json:"prompt"`

	// Model overrides the provider's default model.
	Model string `json:"model,omitempty"`

	// MaxTokens limits the response size. 0 means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness. Negative means provider default.
	Temperature float64 `json:"temperature,omitempty"`

	// JSONResponse hints the provider to emit a structured JSON object.
	JSONResponse bool `json:"json_response,omitempty"`

	// Grounded requests live web-search retrieval when the provider
	// supports it. Providers without grounding ignore this.
	Grounded bool `json:"grounded,omitempty"`

	// Timeout bounds the in-flight HTTP request. 0 means no per-call
	// timeout beyond the provider's transport default.
	Timeout time.Duration `json:"-"`
}

// CompletionResponse contains the result of an LLM completion.
type CompletionResponse struct {
	// Content is the generated text, trimmed and unfenced by the caller.
	Content string `json:"content"`

	// Model is the actual model used (may differ from requested).
	Model string `json:"model"`

	// Usage contains token usage statistics.
	Usage UsageStats `json:"usage"`

	// Latency is the time taken to generate the response.
	Latency time.Duration `json:"latency"`
}

// UsageStats tracks token usage for monitoring.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider is the contract implemented by each LLM backend.
type Provider interface {
	// Name returns the provider identifier ("openai", "gemini").
	Name() string

	// Complete issues one graded request. Failures are returned as
	// *ProviderError so callers can branch on the Retryable tag.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsHealthy reports whether the provider is configured and its last
	// call did not indicate an outage.
	IsHealthy() bool
}

// ProviderError represents a classified failure from an LLM provider.
// Retryable is a tag, not a type hierarchy: the retry policy pattern-matches
// on it without knowing which provider produced the error.
type ProviderError struct {
	// Provider is the name of the provider that returned the error.
	Provider string `json:"provider"`

	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// StatusCode is the HTTP status code (if applicable).
	StatusCode int `json:"status_code,omitempty"`

	// Retryable indicates whether the request can be re-attempted.
	// Only transient model-format failures qualify; transport, auth and
	// server errors are surfaced immediately.
	Retryable bool `json:"retryable"`

	// Cause is the underlying error (if any).
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Common error codes.
const (
	// ErrCodeEmptyResponse indicates a blank or near-blank reply.
	ErrCodeEmptyResponse = "empty_response"

	// ErrCodeMalformedResponse indicates a reply that is not valid JSON.
	ErrCodeMalformedResponse = "malformed_response"

	// ErrCodeAuth indicates authentication failure.
	ErrCodeAuth = "authentication_error"

	// ErrCodeRateLimit indicates provider-side rate limiting.
	ErrCodeRateLimit = "rate_limit"

	// ErrCodeInvalidRequest indicates a malformed request.
	ErrCodeInvalidRequest = "invalid_request"

	// ErrCodeServerError indicates a provider server error.
	ErrCodeServerError = "server_error"

	// ErrCodeTransport indicates a network failure or timeout.
	ErrCodeTransport = "transport_error"
)

// NewProviderError creates a ProviderError with the Retryable tag derived
// from the code. Model-format failures self-correct on retry; everything
// else escalates immediately (model fallback is a separate mechanism).
func NewProviderError(provider, code, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
	}
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmptyResponse, ErrCodeMalformedResponse:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is tagged retryable. Any error that is
// not a *ProviderError is treated as fatal.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// minContentLength is the smallest non-whitespace reply treated as real
// content. Anything shorter is classified as an empty (retryable) response.
const minContentLength = 10

// NormalizeContent trims a raw model reply, unwraps a fenced code block if
// present, and validates that the remainder parses as JSON. Violations are
// returned as retryable ProviderErrors: truncation and stray prose are
// transient model misbehavior that self-corrects on retry.
func NormalizeContent(provider, content string) (string, error) {
	trimmed := strings.TrimSpace(content)

	if len(strings.Join(strings.Fields(trimmed), "")) < minContentLength {
		return "", NewProviderError(provider, ErrCodeEmptyResponse,
			fmt.Sprintf("response too short (%d chars)", len(trimmed)))
	}

	trimmed = unfence(trimmed)

	if !json.Valid([]byte(trimmed)) {
		return "", NewProviderError(provider, ErrCodeMalformedResponse,
			"response is not valid JSON")
	}

	return trimmed, nil
}

// unfence strips a Markdown code fence wrapper (``` or ```json) from a
// reply. Models frequently fence JSON output despite instructions.
func unfence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := strings.TrimPrefix(s, "```")
	// Drop an optional language tag on the opening fence line
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		first := strings.TrimSpace(body[:idx])
		if first == "json" || first == "JSON" || first == "" {
			body = body[idx+1:]
		}
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}
