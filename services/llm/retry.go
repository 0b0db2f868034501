// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig controls call-site retries around a Completer.
type RetryConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns 3 attempts with exponential waits from 2s
// capped at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// RetryingCompleter retries transient failures of the wrapped Completer.
//
// # Description
//
// Retries are applied here rather than inside provider clients so every
// backend shares one policy. Provider responses with a 4xx status other
// than 429 are treated as permanent and returned immediately. Context
// cancellation stops the retry loop.
//
// # Example
//
//	base, _ := llm.NewAnthropicClient(llm.AnthropicConfig{})
//	c := llm.NewRetryingCompleter(base, llm.DefaultRetryConfig())
//	text, err := c.Complete(ctx, llm.CompletionRequest{UserPrompt: "hi"})
type RetryingCompleter struct {
	next Completer
	cfg  RetryConfig
}

func NewRetryingCompleter(next Completer, cfg RetryConfig) *RetryingCompleter {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	return &RetryingCompleter{next: next, cfg: cfg}
}

// Complete implements the Completer interface.
func (r *RetryingCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	attempt := 0
	return backoff.Retry(ctx, func() (string, error) {
		attempt++
		text, err := r.next.Complete(ctx, req)
		if err == nil {
			return text, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return "", backoff.Permanent(err)
		}
		slog.Warn("LLM call failed, will retry", "attempt", attempt, "max_attempts", r.cfg.MaxAttempts, "error", err)
		return "", err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.cfg.MaxAttempts))
}
