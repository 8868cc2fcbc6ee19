// Copyright 2026 QuantumForge Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package llm provides the unified upstream provider abstraction the
orchestration engine's branches call through.

# Overview

The llm package defines the Provider contract every upstream model API
is adapted to, plus the resilience wrapper (retry, circuit breaking,
idempotent response caching) applied before a provider is handed to the
Provider Registry. Everything above this package — candidate routing,
speculative branch fan-out, collapse — works purely in terms of
Provider and the closed types.ErrorCode set.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│          Orchestration (router / quantum / agent)           │
	├─────────────────────────────────────────────────────────────┤
	│            Provider Adapter (branch accounting)             │
	├─────────────────────────────────────────────────────────────┤
	│  ┌─────────────┐  ┌─────────────┐  ┌─────────────────────┐ │
	│  │ Idempotency │  │   Retry     │  │   CircuitBreaker    │ │
	│  │  (cache)    │  │  (Backoff)  │  │   (per provider)    │ │
	│  └─────────────┘  └─────────────┘  └─────────────────────┘ │
	├─────────────────────────────────────────────────────────────┤
	│                    Provider Interface                       │
	├──────────────────────────┬──────────────────────────────────┤
	│        Anthropic         │           Others...              │
	└──────────────────────────┴──────────────────────────────────┘

# Provider Interface

The core Provider interface defines the contract for all upstream
providers:

	type Provider interface {
	    Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	    Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	    HealthCheck(ctx context.Context) (*HealthStatus, error)
	    Name() string
	    SupportsNativeFunctionCalling() bool
	    ListModels(ctx context.Context) ([]Model, error)
	}

# Usage

Basic usage with a single provider:

	claude := anthropic.NewClaudeProvider(providers.ClaudeConfig{
	    APIKey: "your-api-key",
	}, logger)

	resp, err := claude.Completion(ctx, &llm.ChatRequest{
	    Model: "claude-sonnet-4-5",
	    Messages: []llm.Message{
	        llm.NewUserMessage("Hello!"),
	    },
	})

# Streaming

All providers support streaming responses:

	stream, err := provider.Stream(ctx, req)
	if err != nil {
	    log.Fatal(err)
	}

	for chunk := range stream {
	    if chunk.Err != nil {
	        break
	    }
	    fmt.Print(chunk.Delta.Content)
	}

Chunks are delivered in production order; a consumer concatenating
Delta.Content always holds a prefix of the final output.

# Retry and Resilience

Built-in retry with exponential backoff, circuit breaking, and
idempotent response caching:

	resilient := llm.NewResilientProvider(provider, nil, logger)

The wrapped provider is what gets registered with the engine's Provider
Registry; the per-branch adapter layer above it adds ErrorKind
classification and wall-budget enforcement but never retries a call the
wrapper already gave up on.

# Error Handling

Provider implementations return errors with provider-level codes (for
example llm.ErrUnauthorized or llm.ErrRateLimited); the adapter's
ClassifyError maps every failure onto the closed set (AUTH, RATE_LIMIT,
CONTEXT_OVERFLOW, SAFETY_REFUSAL, PROVIDER_5XX, TIMEOUT, NETWORK,
CANCELLED, INVALID_MODEL, UNKNOWN) before it leaves the adapter.
Use types.IsRetryable / ErrorCode.Retryable to check retryability.

See the subpackages for additional functionality:
  - llm/middleware: request rewriter chain applied before provider calls
  - llm/retry: retry strategies and backoff
  - llm/circuitbreaker: per-provider circuit breaking
  - llm/idempotency: response caching keyed by deterministic request hash
  - llm/budget: process-wide token/cost budget windows
  - llm/tokenizer: model-aware token counting
*/
package llm
