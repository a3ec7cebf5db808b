// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"time"
)

// CallRecord is one structured log entry for a provider call attempt.
// Prompts and responses are truncated before they reach the sink.
type CallRecord struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Action       string    `json:"action"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt"`
	UserPrompt   string    `json:"user_prompt"`
	Response     string    `json:"response"`
	Status       string    `json:"status"` // "success" or "error"
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
}

// CallSink receives call records. Append is best-effort and never returns
// an error: logging failures must never fail the scoring pipeline, so call
// sites neither check nor wait on the sink.
type CallSink interface {
	Append(rec CallRecord)
}

// NopSink discards all records.
type NopSink struct{}

// Append implements CallSink.
func (NopSink) Append(CallRecord) {}

// recordTruncateLen bounds prompt/response text stored per call record.
const recordTruncateLen = 500

// Client wraps a Provider with prompt validation, response normalization
// and per-attempt call logging. It is the single entry point the scoring
// pipeline uses to talk to a provider.
type Client struct {
	provider Provider
	sink     CallSink
}

// NewClient creates a Client. A nil sink is replaced with NopSink.
func NewClient(provider Provider, sink CallSink) *Client {
	if sink == nil {
		sink = NopSink{}
	}
	return &Client{provider: provider, sink: sink}
}

// Provider returns the wrapped provider.
func (c *Client) Provider() Provider {
	return c.provider
}

// Call issues one graded request and returns the normalized JSON content.
// The reply is trimmed, unfenced and validated as JSON; violations come
// back as retryable *ProviderError values. Every attempt, success or
// failure, emits one record to the sink.
func (c *Client) Call(ctx context.Context, action string, req CompletionRequest) (string, *CompletionResponse, error) {
	if req.SystemPrompt == "" || req.Prompt == "" {
		err := NewProviderError(c.provider.Name(), ErrCodeInvalidRequest, "system and user prompts must be non-empty")
		c.log(action, req, "", err, 0)
		return "", nil, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.provider.Complete(ctx, req)
	duration := time.Since(start)

	if err != nil {
		c.log(action, req, "", err, duration)
		return "", nil, err
	}

	content, err := NormalizeContent(c.provider.Name(), resp.Content)
	if err != nil {
		c.log(action, req, resp.Content, err, duration)
		return "", nil, err
	}

	c.log(action, req, content, nil, duration)
	return content, resp, nil
}

func (c *Client) log(action string, req CompletionRequest, response string, callErr error, duration time.Duration) {
	rec := CallRecord{
		Timestamp:    time.Now().UTC(),
		Action:       action,
		Provider:     c.provider.Name(),
		Model:        req.Model,
		SystemPrompt: truncate(req.SystemPrompt, recordTruncateLen),
		UserPrompt:   truncate(req.Prompt, recordTruncateLen),
		Response:     truncate(response, recordTruncateLen),
		Status:       "success",
		DurationMS:   duration.Milliseconds(),
	}
	if callErr != nil {
		rec.Status = "error"
		rec.ErrorMessage = callErr.Error()
	}
	c.sink.Append(rec)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
