package quantum

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumforge/engine/agent"
	"github.com/quantumforge/engine/branch"
	"github.com/quantumforge/engine/llm"
	"github.com/quantumforge/engine/manifest"
	"github.com/quantumforge/engine/registry"
	"github.com/quantumforge/engine/router"
	"github.com/quantumforge/engine/types"
)

// keyedProvider replies or fails per-model, so a single fake provider can
// drive several differently-behaving branches within one manifest.
type keyedProvider struct {
	replies map[string]string
	fail    map[string]error
	delay   map[string]time.Duration
}

func (p *keyedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if d, ok := p.delay[req.Model]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := p.fail[req.Model]; ok {
		return nil, err
	}
	return &llm.ChatResponse{
		Choices: []llm.ChatChoice{{Message: types.NewMessage(types.RoleAssistant, p.replies[req.Model]), FinishReason: "stop"}},
		Usage:   llm.ChatUsage{PromptTokens: 10, CompletionTokens: 5},
	}, nil
}

func (p *keyedProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if d, ok := p.delay[req.Model]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	ch := make(chan llm.StreamChunk, 1)
	if err, ok := p.fail[req.Model]; ok {
		close(ch)
		return ch, err
	}
	ch <- llm.StreamChunk{Delta: types.NewMessage(types.RoleAssistant, p.replies[req.Model]), FinishReason: "stop"}
	close(ch)
	return ch, nil
}

func (p *keyedProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}
func (p *keyedProvider) Name() string                       { return "anthropic" }
func (p *keyedProvider) SupportsNativeFunctionCalling() bool { return false }
func (p *keyedProvider) ListModels(ctx context.Context) ([]llm.Model, error) { return nil, nil }

const (
	modelA = "claude-3-5-sonnet-20241022"
	modelB = "claude-3-haiku-20240307"
)

func twoCandidates() []router.CandidateTuple {
	return []router.CandidateTuple{
		{AgentRole: "developer", ProviderID: "anthropic", ModelID: modelA, MaxOutputTokens: 256, Weight: 1.0},
		{AgentRole: "developer", ProviderID: "anthropic", ModelID: modelB, MaxOutputTokens: 256, Weight: 0.5},
	}
}

func newExecutor(t *testing.T, p *keyedProvider) *Executor {
	t.Helper()
	m := manifest.Default()
	reg := registry.New(m, nil)
	require.NoError(t, reg.RegisterProvider("anthropic", p, 0))
	return New(agent.New(reg, nil), nil)
}

func decisionFor(rule router.CollapseRule) router.Decision {
	return router.Decision{
		Strategy:     router.StrategyQuantum,
		CollapseRule: rule,
		StreamMode:   "buffered",
		Candidates:   twoCandidates(),
		Budget:       router.Budget{WallMS: 5000},
	}
}

func TestQuantum_BestOfN_PicksHigherScoringBranch(t *testing.T) {
	p := &keyedProvider{replies: map[string]string{
		modelA: "a short reply",
		modelB: "a substantially longer and more thorough reply with more detail",
	}}
	x := newExecutor(t, p)

	result := x.Run(context.Background(), "req1", agent.Input{Prompt: "hi", TaskKind: router.TaskCodeGeneration}, decisionFor(router.CollapseBestOfN), nil)

	require.NotEmpty(t, result.ChosenBranchID)
	assert.Len(t, result.Branches, 2)
}

func TestQuantum_FirstSuccess_CancelsLoserAndReportsSuperseded(t *testing.T) {
	p := &keyedProvider{
		replies: map[string]string{modelA: "fast winner", modelB: "slow loser"},
		delay:   map[string]time.Duration{modelB: 2 * time.Second},
	}
	x := newExecutor(t, p)

	var events []StreamEvent
	var mu sync.Mutex
	sink := func(e StreamEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}

	decision := decisionFor(router.CollapseFirstSuccess)
	result := x.Run(context.Background(), "req1", agent.Input{Prompt: "hi"}, decision, sink)

	assert.NotEmpty(t, result.ChosenBranchID)
	assert.Equal(t, "fast winner", result.Output)

	var sawSuperseded bool
	for _, e := range events {
		if e.Type == "superseded" {
			sawSuperseded = true
		}
	}
	assert.True(t, sawSuperseded, "the slower branch should be reported superseded")
}

func TestQuantum_Consensus_PicksMajorityOutput(t *testing.T) {
	p := &keyedProvider{replies: map[string]string{
		modelA: "same answer",
		modelB: "same answer",
	}}
	x := newExecutor(t, p)

	result := x.Run(context.Background(), "req1", agent.Input{Prompt: "hi"}, decisionFor(router.CollapseConsensusThenRefine), nil)
	assert.Equal(t, "same answer", result.Output)
}

func TestQuantum_Consensus_FallsBackToBestOfNWhenNoMajority(t *testing.T) {
	p := &keyedProvider{replies: map[string]string{
		modelA: "first distinct answer",
		modelB: "second entirely distinct answer",
	}}
	x := newExecutor(t, p)

	result := x.Run(context.Background(), "req1", agent.Input{Prompt: "hi"}, decisionFor(router.CollapseConsensusThenRefine), nil)
	assert.NotEmpty(t, result.ChosenBranchID, "with no majority, best_of_n must still pick a winner")
}

func TestQuantum_AllBranchesFail_LeavesChosenBranchEmpty(t *testing.T) {
	p := &keyedProvider{fail: map[string]error{
		modelA: types.NewError(types.ErrAuth, "bad key").WithRetryable(false),
		modelB: types.NewError(types.ErrAuth, "bad key").WithRetryable(false),
	}}
	x := newExecutor(t, p)

	result := x.Run(context.Background(), "req1", agent.Input{Prompt: "hi"}, decisionFor(router.CollapseBestOfN), nil)
	assert.Empty(t, result.ChosenBranchID)
	assert.Empty(t, result.Output)

	kinds := FailedKinds(result)
	require.Len(t, kinds, 2)
	assert.Equal(t, types.ErrAuth, kinds[0])
}

func TestQuantum_WeightedVote_FallsBackToBestOfN(t *testing.T) {
	p := &keyedProvider{replies: map[string]string{
		modelA: "alpha",
		modelB: "beta, a longer and richer answer overall",
	}}
	x := newExecutor(t, p)

	result := x.Run(context.Background(), "req1", agent.Input{Prompt: "hi"}, decisionFor(router.CollapseWeightedVote), nil)
	assert.NotEmpty(t, result.ChosenBranchID)
}

func TestQuantum_CallerCancellation_AllBranchesTerminalNoLateTokens(t *testing.T) {
	p := &keyedProvider{
		replies: map[string]string{modelA: "never delivered", modelB: "never delivered"},
		delay: map[string]time.Duration{
			modelA: 2 * time.Second,
			modelB: 2 * time.Second,
		},
	}
	x := newExecutor(t, p)

	var mu sync.Mutex
	var tokensAfterCancel int
	cancelled := make(chan struct{})
	sink := func(e StreamEvent) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case <-cancelled:
			if e.Type == "token" {
				tokensAfterCancel++
			}
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
		close(cancelled)
	}()

	decision := decisionFor(router.CollapseBestOfN)
	result := x.Run(ctx, "req-cancel", agent.Input{Prompt: "hi"}, decision, sink)

	assert.Empty(t, result.ChosenBranchID)
	require.Len(t, result.Branches, 2)
	for _, b := range result.Branches {
		assert.Contains(t, []branch.Status{branch.Cancelled, branch.TimedOut, branch.Failed}, b.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, tokensAfterCancel, "no token events may arrive after caller cancellation")
}

func TestQuantum_BestOfN_TentativeLeaderStreamsOnlyLeader(t *testing.T) {
	// modelA streams first (becomes the tentative leader) but loses the
	// scored collapse to modelB's structured, longer reply.
	p := &keyedProvider{
		replies: map[string]string{
			modelA: "ok",
			modelB: "```go\nfunc main() {}\n```\n" + "a thorough explanation of the approach, covering structure, naming, and edge cases in enough depth to pass the length signal comfortably for scoring purposes here",
		},
		delay: map[string]time.Duration{modelB: 150 * time.Millisecond},
	}
	x := newExecutor(t, p)

	var mu sync.Mutex
	var events []StreamEvent
	sink := func(e StreamEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}

	decision := decisionFor(router.CollapseBestOfN)
	decision.StreamMode = "tentative_leader"
	result := x.Run(context.Background(), "req-leader", agent.Input{Prompt: "hi", TaskKind: router.TaskCodeGeneration}, decision, sink)

	require.NotEmpty(t, result.ChosenBranchID)

	// Map branch ids to models via the result summaries.
	idToModel := map[string]string{}
	for _, b := range result.Branches {
		idToModel[b.BranchID] = b.Candidate.ModelID
	}
	assert.Equal(t, modelB, idToModel[result.ChosenBranchID], "the structured reply should win best_of_n")

	mu.Lock()
	defer mu.Unlock()

	var leaderID string
	var supersededEvents []StreamEvent
	for _, e := range events {
		switch e.Type {
		case "token":
			if leaderID == "" {
				leaderID = e.BranchID
			}
			assert.Equal(t, leaderID, e.BranchID, "only the tentative leader may stream tokens")
		case "superseded":
			supersededEvents = append(supersededEvents, e)
		}
	}

	require.NotEmpty(t, leaderID, "the fast branch should have streamed as leader")
	assert.Equal(t, modelA, idToModel[leaderID])
	require.Len(t, supersededEvents, 1, "collapsing away from the leader must emit superseded")
	assert.Equal(t, result.ChosenBranchID, supersededEvents[0].BranchID)
	assert.Equal(t, []string{leaderID}, supersededEvents[0].Superseded)
}

func TestQuantum_BestOfN_BufferedModeEmitsNoTokens(t *testing.T) {
	p := &keyedProvider{replies: map[string]string{modelA: "a", modelB: "b"}}
	x := newExecutor(t, p)

	var mu sync.Mutex
	var tokens int
	sink := func(e StreamEvent) {
		mu.Lock()
		defer mu.Unlock()
		if e.Type == "token" {
			tokens++
		}
	}

	decision := decisionFor(router.CollapseBestOfN) // StreamMode: "buffered"
	result := x.Run(context.Background(), "req-buffered", agent.Input{Prompt: "hi"}, decision, sink)

	require.NotEmpty(t, result.ChosenBranchID)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, tokens, "buffered mode must not emit token events")
}
