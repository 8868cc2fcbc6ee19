package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumforge/engine/branch"
	"github.com/quantumforge/engine/llm"
	"github.com/quantumforge/engine/manifest"
	"github.com/quantumforge/engine/registry"
	"github.com/quantumforge/engine/router"
	"github.com/quantumforge/engine/types"
)

type scriptedProvider struct {
	reply     string
	finish    string
	err       error
	lastMsgs  []types.Message
}

func (p *scriptedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.lastMsgs = req.Messages
	if p.err != nil {
		return nil, p.err
	}
	return &llm.ChatResponse{
		Choices: []llm.ChatChoice{{Message: types.NewMessage(types.RoleAssistant, p.reply), FinishReason: p.finish}},
		Usage:   llm.ChatUsage{PromptTokens: 12, CompletionTokens: 8},
	}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{Delta: types.NewMessage(types.RoleAssistant, p.reply), FinishReason: p.finish}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}
func (p *scriptedProvider) Name() string                       { return "anthropic" }
func (p *scriptedProvider) SupportsNativeFunctionCalling() bool { return false }
func (p *scriptedProvider) ListModels(ctx context.Context) ([]llm.Model, error) { return nil, nil }

func testRegistry(t *testing.T, p *scriptedProvider) *registry.Registry {
	t.Helper()
	m := manifest.Default()
	reg := registry.New(m, nil)
	require.NoError(t, reg.RegisterProvider("anthropic", p, 0))
	return reg
}

func candidate() router.CandidateTuple {
	return router.CandidateTuple{
		AgentRole:       "developer",
		ProviderID:      "anthropic",
		ModelID:         "claude-3-5-sonnet-20241022",
		MaxOutputTokens: 256,
		Weight:          1.0,
	}
}

func TestExecutor_Run_SucceedsAndScoresBranch(t *testing.T) {
	p := &scriptedProvider{reply: "```go\nfunc main() {}\n```", finish: "stop"}
	exec := New(testRegistry(t, p), nil)

	ex := branch.New("b1", 0, candidate())
	exec.Run(context.Background(), Input{Prompt: "write hello world", TaskKind: router.TaskCodeGeneration}, ex, false, nil, 5*time.Second)

	snap := ex.Snapshot()
	assert.Equal(t, branch.Succeeded, snap.Status)
	assert.Contains(t, snap.FinalOutput, "func main")
	assert.Greater(t, snap.Score, 0.0)
}

func TestExecutor_Run_UnknownModelFailsWithInvalidModel(t *testing.T) {
	p := &scriptedProvider{reply: "x", finish: "stop"}
	exec := New(testRegistry(t, p), nil)

	badCandidate := candidate()
	badCandidate.ModelID = "does-not-exist"
	ex := branch.New("b1", 0, badCandidate)
	exec.Run(context.Background(), Input{Prompt: "hi"}, ex, false, nil, 5*time.Second)

	snap := ex.Snapshot()
	assert.Equal(t, branch.Failed, snap.Status)
	assert.Equal(t, types.ErrInvalidModel, snap.ErrorKind)
}

func TestExecutor_Run_ContextCancelledBeforeCompletionCancelsBranch(t *testing.T) {
	p := &scriptedProvider{reply: "x", finish: "stop"}
	exec := New(testRegistry(t, p), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := branch.New("b1", 0, candidate())
	exec.Run(ctx, Input{Prompt: "hi"}, ex, false, nil, 5*time.Second)

	snap := ex.Snapshot()
	assert.True(t, snap.Status == branch.Cancelled || snap.Status == branch.Failed)
}

func TestExecutor_BuildMessages_ComposesPersonaAgentAndTaskOverlays(t *testing.T) {
	p := &scriptedProvider{reply: "ok", finish: "stop"}
	reg := testRegistry(t, p)
	exec := New(reg, nil)

	a, _, err := reg.Resolve("anthropic", "claude-3-5-sonnet-20241022")
	require.NoError(t, err)

	in := Input{
		Prompt:         "do the thing",
		PersonaOverlay: "persona overlay text",
		TaskKind:       router.TaskTesting,
	}
	msgs := exec.buildMessages(in, candidate(), a)
	require.Len(t, msgs, 1)
	final := msgs[0].Content
	assert.True(t, strings.Contains(final, "persona overlay text"))
	assert.True(t, strings.Contains(final, "Produce working, idiomatic code"))
	assert.True(t, strings.Contains(final, "Produce tests that exercise the behavior"))
	assert.True(t, strings.Contains(final, "do the thing"))
}

func TestExecutor_BuildUserContent_OrdersMostRecentFileFirst(t *testing.T) {
	exec := New(testRegistry(t, &scriptedProvider{reply: "x"}), nil)
	in := Input{
		Files: []FileInput{
			{Path: "a.go", Content: "package a"},
			{Path: "b.go", Content: "package b"},
		},
	}
	content := exec.buildUserContent(in, nil)
	aIdx := strings.Index(content, "a.go")
	bIdx := strings.Index(content, "b.go")
	require.NotEqual(t, -1, aIdx)
	require.NotEqual(t, -1, bIdx)
	assert.Less(t, bIdx, aIdx, "the most recently referenced file (last in the list) should appear first")
}
