// Package agent implements the agent executor: running one candidate
// tuple to completion against the provider registry, applying the agent
// role's prompt overlay, observing cancellation at every suspension
// point, and recording a terminal branch execution.
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quantumforge/engine/adapter"
	"github.com/quantumforge/engine/branch"
	"github.com/quantumforge/engine/registry"
	"github.com/quantumforge/engine/router"
	"github.com/quantumforge/engine/scoring"
	"github.com/quantumforge/engine/types"
	"go.uber.org/zap"
)

// FileInput is one user-supplied file, in the order it was referenced by
// the request (earlier in the slice means referenced earlier).
type FileInput struct {
	Path     string
	Content  string
	Language string
}

// Input is everything the Agent Executor needs from a NormalizedRequest
// to run one branch: the persona's enhanced prompt plus the raw prompt
// and files needed to rebuild the final prompt for each candidate's
// agent-role overlay.
type Input struct {
	RequestID      string
	TaskKind       router.TaskKind
	Prompt         string
	EnhancedPrompt string
	PersonaOverlay string
	Files          []FileInput
}

// taskTemplates gives each task_kind a short framing line inserted
// between the persona/agent overlays and the user's content, per the
// compose() pure function described in the design notes.
var taskTemplates = map[router.TaskKind]string{
	router.TaskCodeGeneration: "Write or modify code to satisfy the request below.",
	router.TaskCodeAnalysis:   "Analyze the code and request below; explain findings precisely.",
	router.TaskTesting:        "Produce tests that exercise the behavior described below.",
	router.TaskCustom:         "Carry out the request below.",
}

// agentOverlays condition the prompt further by the candidate's agent
// role, layered on top of the persona overlay the Persona Validator
// already attached. Distinct from persona.overlays: a request routed to
// strategy=quantum may run several agent roles concurrently regardless
// of which single persona the validator picked.
var agentOverlays = map[string]string{
	"developer": "Produce working, idiomatic code with minimal ceremony.",
	"reviewer":  "Critique precisely; call out defects and risks, not style nitpicks.",
	"architect": "Reason about structure, tradeoffs, and failure modes before proposing a design.",
	"tester":    "Produce thorough, runnable tests covering edge cases.",
	"security":  "Identify vulnerabilities and propose concrete mitigations.",
}

// Compose builds the final prompt by concatenating, in order: the
// persona overlay, the agent-role overlay, the task-kind template, and
// the user content (prompt plus truncated files). It is a pure function
// of its inputs, as required by the design notes' compose() contract.
func Compose(personaOverlay, agentOverlay, taskTemplate, userContent string) string {
	var b strings.Builder
	for _, part := range []string{personaOverlay, agentOverlay, taskTemplate} {
		if part == "" {
			continue
		}
		b.WriteString(part)
		b.WriteString("\n\n")
	}
	b.WriteString(userContent)
	return b.String()
}

// maxFileBytes bounds how much file content is folded into one prompt.
// It is the only limit buildUserContent applies: the candidate model's
// context window and the adapter's CountTokens are not consulted.
const maxFileBytes = 400_000

// Executor runs a single CandidateTuple to a terminal BranchExecution.
type Executor struct {
	registry *registry.Registry
	logger   *zap.Logger
	weights  scoring.Weights
}

// New builds an Agent Executor over reg, the process-wide Provider
// Registry.
func New(reg *registry.Registry, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{registry: reg, logger: logger, weights: scoring.DefaultWeights()}
}

// Run executes one branch for candidate against in, streaming
// incremental output to sink if stream is true, and respecting ctx for
// cancellation and wall deadline. It always returns (never panics) and
// leaves ex in a terminal state.
func (x *Executor) Run(ctx context.Context, in Input, ex *branch.Execution, stream bool, sink adapter.Sink, wall time.Duration) {
	ex.Start()

	a, entry, err := x.registry.Resolve(ex.Candidate().ProviderID, ex.Candidate().ModelID)
	if err != nil {
		ex.Fail(types.ErrInvalidModel, err.Error(), 0, 0, 0)
		return
	}

	if wall <= 0 {
		wall = 60 * time.Second
	}
	branchCtx, cancel := context.WithTimeout(ctx, wall)
	defer cancel()

	messages := x.buildMessages(in, ex.Candidate(), a)

	result, genErr := a.Generate(branchCtx, adapter.GenerateRequest{
		Messages:  messages,
		Candidate: ex.Candidate(),
		ModelID:   entry.ModelID,
		Stream:    stream,
	}, adapter.DefaultRetryBudget(wall), func(chunk string) {
		ex.Append(chunk)
		if sink != nil {
			sink(chunk)
		}
	})

	if genErr != nil {
		kind := adapter.ClassifyError(genErr)
		if branchCtx.Err() == context.DeadlineExceeded {
			ex.TimeoutExceeded()
			return
		}
		if kind == types.ErrCancelled || ctx.Err() == context.Canceled {
			ex.Cancel()
			return
		}
		ex.Fail(kind, genErr.Error(), 0, 0, 0)
		return
	}

	ex.Succeed(result.FinalOutput, result.TokensIn, result.TokensOut, result.CostUSD, result.FinishReason)
	ex.SetScore(scoring.Score(ex.Snapshot(), in.TaskKind, x.weights))
}

// buildMessages composes the final prompt for candidate and wraps it in
// the single-user-message shape every Provider Adapter expects; system
// framing is folded into the same message body rather than a separate
// system role, matching how persona.Validate appends its overlay inline.
func (x *Executor) buildMessages(in Input, candidate router.CandidateTuple, a adapter.Adapter) []types.Message {
	agentOverlay := agentOverlays[candidate.AgentRole]
	if candidate.SystemPromptOverlay != "" {
		agentOverlay = candidate.SystemPromptOverlay + "\n" + agentOverlay
	}
	taskTemplate := taskTemplates[in.TaskKind]

	userContent := x.buildUserContent(in, a)
	prompt := in.EnhancedPrompt
	if prompt == "" {
		prompt = in.Prompt
	}

	userBody := prompt
	if userContent != "" {
		userBody = prompt + "\n\n" + userContent
	}
	final := Compose(in.PersonaOverlay, agentOverlay, taskTemplate, userBody)

	return []types.Message{types.NewMessage(types.RoleUser, final)}
}

// buildUserContent appends file contents after the prompt, truncated to
// the fixed maxFileBytes budget (not to the candidate model's context
// window, which is not looked up here). Selection when truncation is
// required is deterministic: most-recently-referenced files first (the
// tail of in.Files, which preserves request order), ties broken by path.
func (x *Executor) buildUserContent(in Input, a adapter.Adapter) string {
	if len(in.Files) == 0 {
		return ""
	}

	ordered := make([]FileInput, len(in.Files))
	copy(ordered, in.Files)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := len(in.Files)-1-indexOf(in.Files, ordered[i]), len(in.Files)-1-indexOf(in.Files, ordered[j])
		if ri != rj {
			return ri < rj
		}
		return ordered[i].Path < ordered[j].Path
	})

	var b strings.Builder
	budget := maxFileBytes
	for _, f := range ordered {
		if budget <= 0 {
			break
		}
		content := f.Content
		if len(content) > budget {
			content = content[:budget]
		}
		budget -= len(content)
		fmt.Fprintf(&b, "\n--- file: %s ---\n%s\n", f.Path, content)
	}
	return b.String()
}

func indexOf(files []FileInput, target FileInput) int {
	for i, f := range files {
		if f.Path == target.Path && f.Content == target.Content {
			return i
		}
	}
	return 0
}
