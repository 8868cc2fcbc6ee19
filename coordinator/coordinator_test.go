package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumforge/engine/agent"
	"github.com/quantumforge/engine/llm"
	"github.com/quantumforge/engine/manifest"
	"github.com/quantumforge/engine/quantum"
	"github.com/quantumforge/engine/registry"
	"github.com/quantumforge/engine/router"
	"github.com/quantumforge/engine/types"
)

type scriptedProvider struct {
	replies map[string]string
	fail    map[string]error
}

func (p *scriptedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err, ok := p.fail[req.Model]; ok {
		return nil, err
	}
	reply := p.replies[req.Model]
	if reply == "" {
		reply = "default reply"
	}
	return &llm.ChatResponse{
		Choices: []llm.ChatChoice{{Message: types.NewMessage(types.RoleAssistant, reply), FinishReason: "stop"}},
		Usage:   llm.ChatUsage{PromptTokens: 10, CompletionTokens: 5},
	}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	reply := p.replies[req.Model]
	ch <- llm.StreamChunk{Delta: types.NewMessage(types.RoleAssistant, reply), FinishReason: "stop"}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}
func (p *scriptedProvider) Name() string                       { return "anthropic" }
func (p *scriptedProvider) SupportsNativeFunctionCalling() bool { return false }
func (p *scriptedProvider) ListModels(ctx context.Context) ([]llm.Model, error) { return nil, nil }

const (
	modelA = "claude-3-5-sonnet-20241022"
	modelB = "claude-3-haiku-20240307"
)

func newCoordinator(t *testing.T, p *scriptedProvider) *Coordinator {
	t.Helper()
	m := manifest.Default()
	reg := registry.New(m, nil)
	require.NoError(t, reg.RegisterProvider("anthropic", p, 0))
	agents := agent.New(reg, nil)
	return New(quantum.New(agents, nil), agents, nil)
}

func oneCandidate() []router.CandidateTuple {
	return []router.CandidateTuple{{AgentRole: "developer", ProviderID: "anthropic", ModelID: modelA, MaxOutputTokens: 100, Weight: 1}}
}

func twoCandidates() []router.CandidateTuple {
	return []router.CandidateTuple{
		{AgentRole: "developer", ProviderID: "anthropic", ModelID: modelA, MaxOutputTokens: 100, Weight: 1},
		{AgentRole: "developer", ProviderID: "anthropic", ModelID: modelB, MaxOutputTokens: 100, Weight: 0.5},
	}
}

func TestCoordinator_RunSingle_ReturnsOneBranchResult(t *testing.T) {
	c := newCoordinator(t, &scriptedProvider{replies: map[string]string{modelA: "the answer"}})
	decision := router.Decision{Strategy: router.StrategySingle, Candidates: oneCandidate(), Budget: router.Budget{WallMS: 5000}}

	result := c.Run(context.Background(), "r1", agent.Input{Prompt: "hi"}, decision, nil)
	assert.Equal(t, "the answer", result.Output)
	assert.Len(t, result.Branches, 1)
}

func TestCoordinator_RunSingle_NoCandidatesReturnsEmptyResult(t *testing.T) {
	c := newCoordinator(t, &scriptedProvider{})
	decision := router.Decision{Strategy: router.StrategySingle, Budget: router.Budget{WallMS: 5000}}
	result := c.Run(context.Background(), "r1", agent.Input{Prompt: "hi"}, decision, nil)
	assert.Empty(t, result.ChosenBranchID)
	assert.Empty(t, result.Branches)
}

func TestCoordinator_RunSequential_FoldsPriorStageOutputForward(t *testing.T) {
	c := newCoordinator(t, &scriptedProvider{replies: map[string]string{modelA: "stage one output", modelB: "stage two output"}})
	decision := router.Decision{
		Strategy:   router.StrategySequential,
		Candidates: twoCandidates(),
		Budget:     router.Budget{WallMS: 6000},
	}

	result := c.Run(context.Background(), "r1", agent.Input{Prompt: "start"}, decision, nil)
	assert.Equal(t, "stage two output", result.Output, "the last successful stage's output should win")
	assert.Len(t, result.Branches, 2)
}

func TestCoordinator_RunSequential_SkipsFailedStageAndKeepsPriorWinner(t *testing.T) {
	c := newCoordinator(t, &scriptedProvider{
		replies: map[string]string{modelA: "stage one output"},
		fail:    map[string]error{modelB: types.NewError(types.ErrAuth, "bad key").WithRetryable(false)},
	})
	decision := router.Decision{
		Strategy:   router.StrategySequential,
		Candidates: twoCandidates(),
		Budget:     router.Budget{WallMS: 6000},
	}

	result := c.Run(context.Background(), "r1", agent.Input{Prompt: "start"}, decision, nil)
	assert.Equal(t, "stage one output", result.Output, "a failed optional stage should not erase the earlier winner")
	assert.Len(t, result.Branches, 2)
}

func TestCoordinator_RunHybrid_CombinesExplorationAndRefinementAggregates(t *testing.T) {
	c := newCoordinator(t, &scriptedProvider{replies: map[string]string{modelA: "explored answer", modelB: "refined answer"}})
	decision := router.Decision{
		Strategy:     router.StrategyHybrid,
		CollapseRule: router.CollapseBestOfN,
		Candidates:   twoCandidates(),
		Budget:       router.Budget{WallMS: 9000},
	}

	result := c.Run(context.Background(), "r1", agent.Input{Prompt: "start"}, decision, nil)
	assert.Equal(t, "refined answer", result.Output, "the refinement stage should win when it succeeds")
	assert.Len(t, result.Branches, 2)
	assert.Greater(t, result.Aggregate.TokensIn, 0)
}

func TestCoordinator_RunHybrid_FewerThanTwoCandidatesFallsBackToQuantum(t *testing.T) {
	c := newCoordinator(t, &scriptedProvider{replies: map[string]string{modelA: "only answer"}})
	decision := router.Decision{
		Strategy:     router.StrategyHybrid,
		CollapseRule: router.CollapseBestOfN,
		Candidates:   oneCandidate(),
		Budget:       router.Budget{WallMS: 5000},
	}

	result := c.Run(context.Background(), "r1", agent.Input{Prompt: "start"}, decision, nil)
	assert.Equal(t, "only answer", result.Output)
}

func TestCoordinator_RunParallel_DelegatesToQuantumExecutor(t *testing.T) {
	c := newCoordinator(t, &scriptedProvider{replies: map[string]string{modelA: "alpha reply", modelB: "beta reply"}})
	decision := router.Decision{
		Strategy:     router.StrategyParallel,
		CollapseRule: router.CollapseFirstSuccess,
		StreamMode:   "buffered",
		Candidates:   twoCandidates(),
		Budget:       router.Budget{WallMS: 5000},
	}

	result := c.Run(context.Background(), "r1", agent.Input{Prompt: "start"}, decision, nil)
	assert.NotEmpty(t, result.ChosenBranchID)
}
