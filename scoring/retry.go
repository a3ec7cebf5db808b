// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"context"
	"fmt"

	"geopulse/platform/scoring/llm"
)

// retryCall runs one fully-retried model call. The attempt number is
// embedded in the action label passed down to the call, so every attempt
// shows up distinctly in the call log.
type retryCall func(ctx context.Context, attemptAction string) (string, *llm.CompletionResponse, error)

// withRetry invokes call up to maxAttempts times. Only errors tagged
// retryable are re-attempted; anything else propagates immediately. No
// delay is inserted between attempts: requests are already spaced by the
// rate limiter upstream.
func withRetry(ctx context.Context, action string, maxAttempts int, call retryCall) (string, *llm.CompletionResponse, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptAction := fmt.Sprintf("%s#%d", action, attempt)

		content, resp, err := call(ctx, attemptAction)
		if err == nil {
			return content, resp, nil
		}
		lastErr = err

		if !llm.IsRetryable(err) {
			return "", nil, err
		}
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
	}

	return "", nil, fmt.Errorf("exhausted %d attempts: %w", maxAttempts, lastErr)
}
