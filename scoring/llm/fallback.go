// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
)

// ModelOption is one entry in an ordered fallback chain: a model name plus
// the capability flags the scoring pipeline cares about.
type ModelOption struct {
	Name     string `yaml:"name" json:"name"`
	Grounded bool   `yaml:"grounded" json:"grounded"`
}

// FallbackChain tries an ordered list of models in sequence. The chain
// advances to the next model only after the current one has fatally failed
// (or exhausted its retry budget upstream); the first model to fully
// succeed wins. This is a separate mechanism from retry: retries re-ask
// the same model, fallback moves on to a different one.
type FallbackChain struct {
	Models []ModelOption
}

// CallFunc runs one fully-retried call against a single model and returns
// the normalized content.
type CallFunc func(ctx context.Context, model ModelOption) (string, *CompletionResponse, error)

// Execute walks the chain until a model succeeds or the chain is
// exhausted, in which case the last model's error is returned.
func (f FallbackChain) Execute(ctx context.Context, call CallFunc) (string, *CompletionResponse, error) {
	if len(f.Models) == 0 {
		return "", nil, fmt.Errorf("fallback chain has no models")
	}

	var lastErr error
	for _, model := range f.Models {
		content, resp, err := call(ctx, model)
		if err == nil {
			return content, resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// The whole request was cancelled; trying another model
			// would fail the same way.
			break
		}
	}

	return "", nil, fmt.Errorf("all %d models in fallback chain failed: %w", len(f.Models), lastErr)
}
