// Package pipeline implements the request pipeline: intake ->
// persona -> route -> orchestrate -> respond, the single place a wire
// request turns into an orchestration result. Cancellation is carried by
// ctx through every stage. Two checks can reject a request before any
// provider is called: intake (BAD_REQUEST) and, when a token budget is
// attached, the budget check after routing (RATE_LIMIT).
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quantumforge/engine/agent"
	"github.com/quantumforge/engine/branch"
	"github.com/quantumforge/engine/coordinator"
	"github.com/quantumforge/engine/internal/metrics"
	"github.com/quantumforge/engine/llm/budget"
	"github.com/quantumforge/engine/persona"
	"github.com/quantumforge/engine/quantum"
	"github.com/quantumforge/engine/router"
	"github.com/quantumforge/engine/types"
	"go.uber.org/zap"
)

// FileInput is one wire-level file attachment.
type FileInput struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

// Request is the wire-level body of POST /v1/execute, already JSON
// decoded with unknown-field rejection (DisallowUnknownFields) applied
// by the HTTP handler before it reaches intake.
type Request struct {
	Prompt             string      `json:"prompt"`
	PersonaHint        string      `json:"persona_hint,omitempty"`
	TaskKind           string      `json:"task_kind,omitempty"`
	Files              []FileInput `json:"files,omitempty"`
	MaxLatencyMS       int         `json:"max_latency_ms,omitempty"`
	MaxCostUSD         float64     `json:"max_cost_usd,omitempty"`
	MaxTokens          int         `json:"max_tokens,omitempty"`
	Stream             bool        `json:"stream,omitempty"`
	PreferredProviders []string    `json:"preferred_providers,omitempty"`
	PreferredModels    []string    `json:"preferred_models,omitempty"`
}

// Pipeline wires together the Persona Validator, Router, and
// Orchestration Coordinator into the single Intake->Respond flow.
type Pipeline struct {
	router      *router.Router
	coordinator *coordinator.Coordinator
	budget      *budget.TokenBudgetManager
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// New builds a Pipeline over an already-constructed Router and
// Coordinator; both are expected to share the same Model Manifest.
func New(r *router.Router, c *coordinator.Coordinator, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{router: r, coordinator: c, logger: logger}
}

// WithBudget attaches a process-wide token budget manager. When set,
// requests whose routed budget would blow a window limit are rejected
// before any branch starts, and actual consumption is recorded after
// every orchestration regardless of outcome.
func (p *Pipeline) WithBudget(m *budget.TokenBudgetManager) *Pipeline {
	p.budget = m
	return p
}

// WithMetrics attaches a metrics collector; orchestration outcomes and
// per-branch consumption are recorded after every Execute.
func (p *Pipeline) WithMetrics(c *metrics.Collector) *Pipeline {
	p.metrics = c
	return p
}

// taskKindAliases maps the wire-level task_kind string onto the closed
// router.TaskKind set, defaulting to custom for anything unrecognized.
var taskKindAliases = map[string]router.TaskKind{
	"code_generation": router.TaskCodeGeneration,
	"code_analysis":   router.TaskCodeAnalysis,
	"testing":         router.TaskTesting,
	"custom":          router.TaskCustom,
	"":                router.TaskCustom,
}

// Execute runs the full Intake -> Persona -> Route -> Orchestrate ->
// Respond pipeline for req, emitting streaming events to events (nil is
// fine for a non-streaming caller). It never returns a second error
// value for an orchestration failure: a branch.Result with an empty
// ChosenBranchID and every branch FAILED carries that information, and
// callers read the highest-priority ErrorKind via ErrorFor(result).
func (p *Pipeline) Execute(ctx context.Context, req Request, events quantum.EventSink) (branch.Result, *types.Error) {
	requestID := uuid.NewString()

	if err := intake(req); err != nil {
		return branch.Result{RequestID: requestID}, err
	}

	personaResult := persona.Validate(req.Prompt, req.PersonaHint)

	taskKind, ok := taskKindAliases[strings.ToLower(req.TaskKind)]
	if !ok {
		taskKind = router.TaskCustom
	}

	fileRefs := make([]router.FileRef, len(req.Files))
	agentFiles := make([]agent.FileInput, len(req.Files))
	for i, f := range req.Files {
		fileRefs[i] = router.FileRef{Path: f.Path, Size: len(f.Content)}
		agentFiles[i] = agent.FileInput{Path: f.Path, Content: f.Content, Language: f.Language}
	}

	routeInput := router.Input{
		TaskKind:      taskKind,
		Prompt:        req.Prompt,
		PersonaResult: personaResult,
		Files:         fileRefs,
		Constraints: router.Constraints{
			MaxLatencyMS: req.MaxLatencyMS,
			MaxCostUSD:   req.MaxCostUSD,
			MaxTokens:    req.MaxTokens,
			Stream:       req.Stream,
		},
		PreferredProviders: req.PreferredProviders,
		PreferredModels:    req.PreferredModels,
	}
	decision := p.router.Route(routeInput)

	if p.budget != nil {
		if err := p.budget.CheckBudget(ctx, decision.Budget.Tokens, decision.Budget.USD); err != nil {
			p.logger.Warn("request rejected by token budget",
				zap.String("request_id", requestID),
				zap.Error(err),
			)
			return branch.Result{RequestID: requestID},
				types.NewError(types.ErrRateLimit, err.Error()).
					WithRetryable(true).
					WithHTTPStatus(types.HTTPStatusForKind(types.ErrRateLimit))
		}
	}

	agentIn := agent.Input{
		RequestID:      requestID,
		TaskKind:       taskKind,
		Prompt:         req.Prompt,
		EnhancedPrompt: personaResult.EnhancedPrompt,
		PersonaOverlay: "",
		Files:          agentFiles,
	}

	result := p.coordinator.Run(ctx, requestID, agentIn, decision, events)

	if p.budget != nil {
		p.budget.RecordUsage(budget.UsageRecord{
			Timestamp: time.Now(),
			Tokens:    result.Aggregate.TokensIn + result.Aggregate.TokensOut,
			Cost:      result.Aggregate.CostUSD,
			RequestID: requestID,
		})
	}

	if p.metrics != nil {
		status := "succeeded"
		if kind, failed := ErrorFor(result); failed {
			status = string(kind)
		}
		p.metrics.RecordOrchestration(string(result.Strategy), status,
			time.Duration(result.Aggregate.WallMS)*time.Millisecond)
		for _, b := range result.Branches {
			p.metrics.RecordBranch(b.Candidate.ProviderID, b.Candidate.ModelID,
				string(b.Status), b.TokensIn, b.TokensOut, b.CostUSD)
		}
	}

	return result, nil
}

// intake validates req against the closed schema and assigns nothing
// itself beyond rejection: an empty prompt or a negative budget field is
// a caller error, not something routing or execution should ever see.
func intake(req Request) *types.Error {
	if strings.TrimSpace(req.Prompt) == "" {
		return types.NewError(types.ErrBadRequest, "prompt must not be empty")
	}
	if req.MaxLatencyMS < 0 || req.MaxCostUSD < 0 || req.MaxTokens < 0 {
		return types.NewError(types.ErrBadRequest, "budget constraints must not be negative")
	}
	if req.TaskKind != "" {
		if _, ok := taskKindAliases[strings.ToLower(req.TaskKind)]; !ok {
			return types.NewError(types.ErrBadRequest, "unrecognized task_kind: "+req.TaskKind)
		}
	}
	for _, f := range req.Files {
		if strings.TrimSpace(f.Path) == "" {
			return types.NewError(types.ErrBadRequest, "file entries must include a path")
		}
	}
	return nil
}

// ErrorFor derives the request-level error to report when every branch
// in result failed, using the fixed collapse-priority order. ok is false when at
// least one branch succeeded (result.ChosenBranchID is non-empty).
func ErrorFor(result branch.Result) (types.ErrorCode, bool) {
	if result.ChosenBranchID != "" {
		return "", false
	}
	kinds := make([]types.ErrorCode, 0, len(result.Branches))
	for _, b := range result.Branches {
		if b.ErrorKind != nil {
			kinds = append(kinds, *b.ErrorKind)
		}
	}
	if len(kinds) == 0 {
		return types.ErrUnknown, true
	}
	return types.HighestPriorityKind(kinds), true
}

// DeadlineFor derives a context deadline from a request's max_latency_ms
// constraint, used by the HTTP handler to bound the whole pipeline call.
func DeadlineFor(req Request, fallback time.Duration) time.Duration {
	if req.MaxLatencyMS > 0 {
		return time.Duration(req.MaxLatencyMS) * time.Millisecond
	}
	return fallback
}
