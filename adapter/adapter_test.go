package adapter

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/quantumforge/engine/llm"
	"github.com/quantumforge/engine/manifest"
	"github.com/quantumforge/engine/router"
	"github.com/quantumforge/engine/types"
)

// fakeProvider is a minimal llm.Provider stand-in, in the style of the
// provider fakes used to test the retry/resilience decorators.
type fakeProvider struct {
	completions []func() (*llm.ChatResponse, error)
	call        int
	streamChunks []llm.StreamChunk
	streamErr    error
}

func (f *fakeProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	i := f.call
	f.call++
	if i >= len(f.completions) {
		i = len(f.completions) - 1
	}
	return f.completions[i]()
}

func (f *fakeProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan llm.StreamChunk, len(f.streamChunks))
	for _, c := range f.streamChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}
func (f *fakeProvider) Name() string                          { return "fake" }
func (f *fakeProvider) SupportsNativeFunctionCalling() bool    { return false }
func (f *fakeProvider) ListModels(ctx context.Context) ([]llm.Model, error) { return nil, nil }

func testEntry() manifest.Entry {
	return manifest.Entry{
		ProviderID:    "fake",
		ModelID:       "fake-model",
		ContextWindow: 8192,
		Pricing:       manifest.Pricing{InputPer1K: 0.001, OutputPer1K: 0.002},
	}
}

func TestLLMAdapter_Generate_SucceedsOnFirstAttempt(t *testing.T) {
	p := &fakeProvider{completions: []func() (*llm.ChatResponse, error){
		func() (*llm.ChatResponse, error) {
			return &llm.ChatResponse{
				Choices: []llm.ChatChoice{{Message: types.NewMessage(types.RoleAssistant, "hi there"), FinishReason: "stop"}},
				Usage:   llm.ChatUsage{PromptTokens: 10, CompletionTokens: 5},
			}, nil
		},
	}}
	a := NewLLMAdapter("fake", p, testEntry(), 0, nil)

	result, err := a.Generate(context.Background(), GenerateRequest{
		Messages: []types.Message{types.NewMessage(types.RoleUser, "hello")},
	}, DefaultRetryBudget(10*time.Second), nil)

	require.NoError(t, err)
	assert.Equal(t, "hi there", result.FinalOutput)
	assert.Equal(t, "stop", result.FinishReason)
	assert.Equal(t, 10, result.TokensIn)
	assert.Equal(t, 5, result.TokensOut)
}

func TestLLMAdapter_Generate_RetriesRetryableErrorThenSucceeds(t *testing.T) {
	attempts := 0
	p := &fakeProvider{completions: []func() (*llm.ChatResponse, error){
		func() (*llm.ChatResponse, error) {
			attempts++
			return nil, types.NewError(types.ErrProvider5xx, "upstream hiccup").WithRetryable(true)
		},
		func() (*llm.ChatResponse, error) {
			attempts++
			return &llm.ChatResponse{Choices: []llm.ChatChoice{{Message: types.NewMessage(types.RoleAssistant, "ok"), FinishReason: "stop"}}}, nil
		},
	}}
	a := NewLLMAdapter("fake", p, testEntry(), 0, nil)

	result, err := a.Generate(context.Background(), GenerateRequest{
		Messages: []types.Message{types.NewMessage(types.RoleUser, "hello")},
	}, RetryBudget{MaxAttempts: 3, MaxTotalWait: 5 * time.Second}, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", result.FinalOutput)
	assert.Equal(t, 2, attempts)
}

func TestLLMAdapter_Generate_NonRetryableFailsImmediately(t *testing.T) {
	attempts := 0
	p := &fakeProvider{completions: []func() (*llm.ChatResponse, error){
		func() (*llm.ChatResponse, error) {
			attempts++
			return nil, types.NewError(types.ErrAuth, "bad key").WithRetryable(false)
		},
	}}
	a := NewLLMAdapter("fake", p, testEntry(), 0, nil)

	_, err := a.Generate(context.Background(), GenerateRequest{
		Messages: []types.Message{types.NewMessage(types.RoleUser, "hello")},
	}, DefaultRetryBudget(10*time.Second), nil)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestLLMAdapter_Generate_StreamDeliversChunksInOrder(t *testing.T) {
	p := &fakeProvider{streamChunks: []llm.StreamChunk{
		{Delta: types.NewMessage(types.RoleAssistant, "He")},
		{Delta: types.NewMessage(types.RoleAssistant, "llo")},
		{FinishReason: "stop", Usage: &llm.ChatUsage{PromptTokens: 3, CompletionTokens: 2}},
	}}
	a := NewLLMAdapter("fake", p, testEntry(), 0, nil)

	var seen []string
	result, err := a.Generate(context.Background(), GenerateRequest{
		Messages: []types.Message{types.NewMessage(types.RoleUser, "hi")},
		Stream:   true,
	}, DefaultRetryBudget(10*time.Second), func(chunk string) {
		seen = append(seen, chunk)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"He", "llo"}, seen)
	assert.Equal(t, "Hello", result.FinalOutput)
}

func TestDefaultRetryBudget_CapsAt30PercentOfWallBudget(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		wallMS := rapid.IntRange(1, 600_000).Draw(rt, "wallMS")
		wall := time.Duration(wallMS) * time.Millisecond
		budget := DefaultRetryBudget(wall)
		assert.LessOrEqual(t, budget.MaxTotalWait, wall)
		assert.InDelta(t, float64(wall)*0.3, float64(budget.MaxTotalWait), float64(wall)*0.01+1)
	})
}

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

var _ net.Error = timeoutNetError{}

func TestClassifyError_ClosedSetMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want types.ErrorCode
	}{
		{"context canceled", context.Canceled, types.ErrCancelled},
		{"context deadline", context.DeadlineExceeded, types.ErrTimeout},
		{"auth", types.NewError(types.ErrAuthentication, ""), types.ErrAuth},
		{"rate limit", types.NewError(types.ErrRateLimited, ""), types.ErrRateLimit},
		{"context overflow", types.NewError(types.ErrContextTooLong, ""), types.ErrContextOverflow},
		{"safety", types.NewError(types.ErrContentFiltered, ""), types.ErrSafetyRefusal},
		{"invalid model", types.NewError(types.ErrModelNotFound, ""), types.ErrInvalidModel},
		{"provider 5xx", types.NewError(types.ErrUpstreamError, ""), types.ErrProvider5xx},
		{"cancelled", types.NewError(types.ErrCancelled, ""), types.ErrCancelled},
		{"net timeout", timeoutNetError{}, types.ErrTimeout},
		{"unknown", errors.New("mystery"), types.ErrUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}

func TestEstimateCost_IsPure(t *testing.T) {
	entry := testEntry()
	candidate := router.CandidateTuple{MaxOutputTokens: 500}
	a := EstimateCost(entry, candidate, 1000)
	b := EstimateCost(entry, candidate, 1000)
	assert.Equal(t, a, b)
	assert.Greater(t, a, 0.0)
}
