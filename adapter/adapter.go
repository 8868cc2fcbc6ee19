// Package adapter provides a uniform request/response surface over one
// upstream model API, with streaming delivery, token accounting, and
// closed-set error classification. It sits directly on top of
// llm.Provider the way llm.ResilientProvider decorates a Provider with
// retry/circuit-breaker behavior; here the decoration target is the
// engine's branch execution lifecycle rather than a bare
// ChatRequest/ChatResponse round trip.
package adapter

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/quantumforge/engine/llm"
	"github.com/quantumforge/engine/llm/tokenizer"
	"github.com/quantumforge/engine/manifest"
	"github.com/quantumforge/engine/router"
	"github.com/quantumforge/engine/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sink receives incremental output as it is produced. Implementations
// must treat calls as append-only and in production order; Generate
// never reorders or rewrites a chunk already delivered to sink.
type Sink func(chunk string)

// GenerateRequest is what a branch needs the adapter to turn into an
// upstream call.
type GenerateRequest struct {
	Messages  []types.Message
	Candidate router.CandidateTuple
	ModelID   string
	Stream    bool
}

// GenerateResult is the terminal, successful outcome of one Generate call.
type GenerateResult struct {
	FinalOutput  string
	TokensIn     int
	TokensOut    int
	CostUSD      float64
	FinishReason string
}

// Adapter is the uniform contract every upstream model API is reduced
// to. Candidate diversification, routing, and scoring live above this
// layer; Adapter only knows how to run one call and account for it.
type Adapter interface {
	// Generate produces a completion, retrying internally per RetryBudget
	// for retryable ErrorKinds. sink receives incremental tokens when
	// req.Stream is true; otherwise it receives exactly one final chunk.
	Generate(ctx context.Context, req GenerateRequest, budget RetryBudget, sink Sink) (GenerateResult, error)

	// CountTokens returns a model-consistent token estimate for text.
	// The Agent Executor does not call it; its file truncation is a fixed
	// byte budget.
	CountTokens(text string) (int, error)

	// ProviderID identifies which upstream this adapter fronts.
	ProviderID() string
}

// RetryBudget bounds the adapter's own retry loop. Total time spent
// sleeping between attempts must not exceed a fixed fraction of the
// branch's wall budget; the caller computes that fraction and passes
// it in.
type RetryBudget struct {
	MaxAttempts  int
	MaxTotalWait time.Duration
}

// DefaultRetryBudget allows three attempts and caps total backoff sleep
// at 30% of the branch's wall budget.
func DefaultRetryBudget(branchWall time.Duration) RetryBudget {
	return RetryBudget{
		MaxAttempts:  3,
		MaxTotalWait: time.Duration(float64(branchWall) * 0.30),
	}
}

// LLMAdapter adapts an llm.Provider plus its Model Manifest entry into
// the Adapter contract. One LLMAdapter instance is shared by every
// branch that targets the same provider; the semaphore gates how many
// Generate calls may be in flight at once.
type LLMAdapter struct {
	providerID string
	provider   llm.Provider
	entry      manifest.Entry
	tok        tokenizer.Tokenizer
	logger     *zap.Logger

	sem     chan struct{}
	limiter *rate.Limiter
}

// Option configures an LLMAdapter beyond its required constructor args.
type Option func(*LLMAdapter)

// WithRateLimit installs a token-bucket limiter ahead of every upstream
// attempt. All branches targeting this adapter's provider share the
// bucket, so speculative fan-out cannot exceed the provider's allowed
// request rate even when the concurrency semaphore would permit it.
func WithRateLimit(qps float64, burst int) Option {
	return func(a *LLMAdapter) {
		if qps > 0 {
			if burst <= 0 {
				burst = 1
			}
			a.limiter = rate.NewLimiter(rate.Limit(qps), burst)
		}
	}
}

// NewLLMAdapter builds an adapter for one (provider, canonical model)
// pair. concurrency caps simultaneous in-flight Generate calls; 0 means
// unbounded (tests and single-branch strategies commonly pass 0).
func NewLLMAdapter(providerID string, provider llm.Provider, entry manifest.Entry, concurrency int, logger *zap.Logger, opts ...Option) *LLMAdapter {
	tok, err := tokenizer.NewTiktokenTokenizer(entry.ModelID)
	var t tokenizer.Tokenizer
	if err != nil || tok == nil {
		t = tokenizer.NewEstimatorTokenizer(entry.ModelID, entry.ContextWindow)
	} else {
		t = tok
	}

	var sem chan struct{}
	if concurrency > 0 {
		sem = make(chan struct{}, concurrency)
	}

	a := &LLMAdapter{
		providerID: providerID,
		provider:   provider,
		entry:      entry,
		tok:        t,
		logger:     logger,
		sem:        sem,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *LLMAdapter) ProviderID() string { return a.providerID }

func (a *LLMAdapter) CountTokens(text string) (int, error) {
	return a.tok.CountTokens(text)
}

// EstimateCost is the pure cost prediction operation: given a
// candidate's output-token allowance and an estimate of prompt tokens,
// predict USD using the Model Manifest's pricing for this adapter's
// entry. It never calls upstream and has no side effects.
func EstimateCost(entry manifest.Entry, candidate router.CandidateTuple, promptTokensEstimate int) float64 {
	outTokens := candidate.MaxOutputTokens
	if outTokens <= 0 {
		outTokens = 1024
	}
	return entry.EstimateCost(promptTokensEstimate, outTokens)
}

func (a *LLMAdapter) acquire(ctx context.Context) error {
	if a.sem != nil {
		select {
		case a.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			a.release()
			return err
		}
	}
	return nil
}

func (a *LLMAdapter) release() {
	if a.sem == nil {
		return
	}
	<-a.sem
}

// Generate implements Adapter.Generate with the branch retry policy:
// exponential backoff with jitter for retryable kinds, bounded attempts,
// and a total sleep budget. Non-retryable kinds and a cancelled ctx fail
// immediately without consuming the rest of the attempt budget.
func (a *LLMAdapter) Generate(ctx context.Context, req GenerateRequest, budget RetryBudget, sink Sink) (GenerateResult, error) {
	if err := a.acquire(ctx); err != nil {
		return GenerateResult{}, classify(err)
	}
	defer a.release()

	maxAttempts := budget.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var totalWait time.Duration
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			if budget.MaxTotalWait > 0 && totalWait+delay > budget.MaxTotalWait {
				break
			}
			totalWait += delay
			select {
			case <-ctx.Done():
				return GenerateResult{}, classify(ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := a.attempt(ctx, req, sink)
		if err == nil {
			return result, nil
		}
		lastErr = err

		kind := ClassifyError(err)
		if !kind.Retryable() {
			return GenerateResult{}, err
		}
	}
	return GenerateResult{}, lastErr
}

func (a *LLMAdapter) attempt(ctx context.Context, req GenerateRequest, sink Sink) (GenerateResult, error) {
	chatReq := &llm.ChatRequest{
		Model:       req.ModelID,
		Messages:    req.Messages,
		MaxTokens:   req.Candidate.MaxOutputTokens,
		Temperature: req.Candidate.Temperature,
		TopP:        req.Candidate.TopP,
	}

	if !req.Stream {
		resp, err := a.provider.Completion(ctx, chatReq)
		if err != nil {
			return GenerateResult{}, classify(err)
		}
		out := ""
		finish := ""
		if len(resp.Choices) > 0 {
			out = resp.Choices[0].Message.Content
			finish = resp.Choices[0].FinishReason
		}
		if sink != nil && out != "" {
			sink(out)
		}
		return GenerateResult{
			FinalOutput:  out,
			TokensIn:     resp.Usage.PromptTokens,
			TokensOut:    resp.Usage.CompletionTokens,
			CostUSD:      a.entry.EstimateCost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
			FinishReason: finish,
		}, nil
	}

	stream, err := a.provider.Stream(ctx, chatReq)
	if err != nil {
		return GenerateResult{}, classify(err)
	}

	var out strings.Builder
	var usage llm.ChatUsage
	finish := ""
	for chunk := range stream {
		if chunk.Err != nil {
			return GenerateResult{}, classify(chunk.Err)
		}
		if chunk.Delta.Content != "" {
			out.WriteString(chunk.Delta.Content)
			if sink != nil {
				sink(chunk.Delta.Content)
			}
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		select {
		case <-ctx.Done():
			return GenerateResult{}, classify(ctx.Err())
		default:
		}
	}

	return GenerateResult{
		FinalOutput:  out.String(),
		TokensIn:     usage.PromptTokens,
		TokensOut:    usage.CompletionTokens,
		CostUSD:      a.entry.EstimateCost(usage.PromptTokens, usage.CompletionTokens),
		FinishReason: finish,
	}, nil
}

func backoffDelay(attempt int) time.Duration {
	const (
		initial    = 500 * time.Millisecond
		max        = 10 * time.Second
		multiplier = 2.0
	)
	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}
	jitter := delay * 0.25
	delay += (rand.Float64()*2 - 1) * jitter
	if delay < float64(initial) {
		delay = float64(initial)
	}
	return time.Duration(delay)
}

// classify wraps any error returned by the underlying llm.Provider into
// a *types.Error carrying one of the closed ErrorKinds, so nothing above
// the adapter boundary ever type-switches on an upstream SDK error.
func classify(err error) *types.Error {
	if err == nil {
		return nil
	}
	kind := ClassifyError(err)
	return types.NewError(kind, err.Error()).
		WithCause(err).
		WithRetryable(kind.Retryable()).
		WithHTTPStatus(types.HTTPStatusForKind(kind))
}

// ClassifyError maps any error the adapter layer can observe, whether
// a *types.Error from llm.Provider, a context error, or a raw network
// error, onto the closed ErrorKind set. It is the single place this
// mapping happens; no other package inspects upstream error shapes.
func ClassifyError(err error) types.ErrorCode {
	if err == nil {
		return types.ErrUnknown
	}
	if errors.Is(err, context.Canceled) {
		return types.ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrTimeout
	}

	var typed *types.Error
	if errors.As(err, &typed) {
		switch typed.Code {
		case types.ErrAuth, types.ErrAuthentication, types.ErrUnauthorized, types.ErrForbidden:
			return types.ErrAuth
		case types.ErrRateLimit, types.ErrRateLimited, types.ErrQuotaExceeded:
			return types.ErrRateLimit
		case types.ErrContextOverflow, types.ErrContextTooLong:
			return types.ErrContextOverflow
		case types.ErrContentFiltered, types.ErrSafetyRefusal:
			return types.ErrSafetyRefusal
		case types.ErrModelNotFound, types.ErrInvalidModel:
			return types.ErrInvalidModel
		case types.ErrUpstreamTimeout, types.ErrTimeout:
			return types.ErrTimeout
		case types.ErrModelOverloaded, types.ErrUpstreamError, types.ErrServiceUnavailable, types.ErrProviderUnavailable, types.ErrProvider5xx:
			return types.ErrProvider5xx
		case types.ErrCancelled:
			return types.ErrCancelled
		case types.ErrBadRequest, types.ErrInvalidRequest:
			return types.ErrUnknown
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return types.ErrTimeout
		}
		return types.ErrNetwork
	}

	return types.ErrUnknown
}
