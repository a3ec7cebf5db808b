// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

/*
Package llm provides a unified interface and types for LLM providers
used by the scoring pipeline.

# Provider Interface

The Provider interface is the core abstraction that all providers
implement:

	type Provider interface {
		Name() string
		Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
		IsHealthy() bool
	}

Concrete implementations live in the openai and gemini subpackages.

# Client

Client wraps a Provider with the behavior every scoring call needs:
prompt validation, per-request timeouts, response normalization (trim,
code-fence stripping, JSON validation) and per-attempt call logging to
a CallSink.

# Error Handling

Provider errors are wrapped in ProviderError with error codes for
categorization. Only model-output defects (empty or malformed JSON
replies) are marked retryable; transport, auth, quota and server
errors are fatal for the attempt and surface to the fallback chain:

	content, resp, err := client.Call(ctx, action, req)
	if err != nil {
		if llm.IsRetryable(err) {
			// same model may succeed on a fresh attempt
		}
	}

# Model Fallback

FallbackChain tries an ordered list of models, advancing to the next
on any error and stopping early only when the context is done.

# Thread Safety

All provider implementations must be safe for concurrent use; one
Client instance serves every concurrent batch in a scoring job.
*/
package llm
