// Package router turns a normalized request into a route decision: a
// complexity/context classification, an orchestration strategy, a
// diversified candidate set, a collapse rule, and a budget. Selection
// policy lives here and only here; the executors below it never second-
// guess a decision mid-flight.
package router

import (
	"sort"
	"strings"

	"github.com/quantumforge/engine/manifest"
	"github.com/quantumforge/engine/persona"
)

// Complexity buckets a request's estimated difficulty.
type Complexity string

const (
	Trivial  Complexity = "trivial"
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
	Critical Complexity = "critical"
)

// PrimaryContext is the dominant subject matter detected in a request.
type PrimaryContext string

const (
	CodeGeneration PrimaryContext = "code_generation"
	CodeAnalysis   PrimaryContext = "code_analysis"
	Architecture   PrimaryContext = "architecture"
	Security       PrimaryContext = "security"
	Testing        PrimaryContext = "testing"
	Other          PrimaryContext = "other"
)

// Strategy selects how the Orchestration Coordinator composes executors.
type Strategy string

const (
	StrategySingle     Strategy = "single"
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyQuantum    Strategy = "quantum"
	StrategyHybrid     Strategy = "hybrid"
)

// CollapseRule selects how the Quantum Executor picks a winning branch.
type CollapseRule string

const (
	CollapseFirstSuccess       CollapseRule = "first_success"
	CollapseBestOfN            CollapseRule = "best_of_n"
	CollapseWeightedVote        CollapseRule = "weighted_vote"
	CollapseConsensusThenRefine CollapseRule = "consensus_then_refine"
)

// TaskKind mirrors the wire-level request's declared kind.
type TaskKind string

const (
	TaskCodeGeneration TaskKind = "code_generation"
	TaskCodeAnalysis   TaskKind = "code_analysis"
	TaskTesting        TaskKind = "testing"
	TaskCustom         TaskKind = "custom"
)

// FileRef is a minimal view of an input file needed for complexity scoring
// and later prompt composition; the executor owns the full structure.
type FileRef struct {
	Path string
	Size int
}

// Constraints mirrors the caller's budget/streaming preferences.
type Constraints struct {
	MaxLatencyMS int
	MaxCostUSD   float64
	MaxTokens    int
	Stream       bool
}

// Input is what the Router needs from a NormalizedRequest.
type Input struct {
	TaskKind            TaskKind
	Prompt              string
	PersonaResult       persona.Result
	Files               []FileRef
	Constraints         Constraints
	PreferredProviders  []string
	PreferredModels     []string
}

// CandidateTuple is one (agent role, provider, model, params) combination a
// branch will run.
type CandidateTuple struct {
	AgentRole          string
	ProviderID         string
	ModelID            string
	Temperature        float32
	TopP               float32
	MaxOutputTokens    int
	SystemPromptOverlay string
	Weight             float64
}

// Budget bounds a RouteDecision's total resource consumption. WallMS
// and Tokens/USD are request-level; PerBranchTokens is the output-token
// allowance each branch inherits, sized so that summed worst-case
// consumption across all branches stays within Tokens times the
// configured over-provision factor. WallMS is not divided: speculative
// branches run concurrently and share one wall clock (sequential
// strategies divide it per stage in the coordinator).
type Budget struct {
	WallMS          int
	Tokens          int
	USD             float64
	PerBranchTokens int
}

// Decision is the Router's full output for one request.
type Decision struct {
	Complexity     Complexity
	PrimaryContext PrimaryContext
	Strategy       Strategy
	CollapseRule   CollapseRule
	StreamMode     string // "tentative_leader" | "buffered"
	Candidates     []CandidateTuple
	Budget         Budget
}

// Config tunes Router behavior; the zero value is usable.
type Config struct {
	MaxBranches            int
	DefaultStreamMode      string
	OverProvisionFactor    float64
}

// DefaultConfig mirrors config.DefaultOrchestrationConfig/DefaultQuantumConfig.
func DefaultConfig() Config {
	return Config{
		MaxBranches:         5,
		DefaultStreamMode:   "tentative_leader",
		OverProvisionFactor: 1.5,
	}
}

// Router classifies requests and selects execution strategy and candidates.
type Router struct {
	cfg      Config
	manifest *manifest.Manifest
}

// New builds a Router over a given Model Manifest.
func New(cfg Config, m *manifest.Manifest) *Router {
	if cfg.MaxBranches <= 0 {
		cfg.MaxBranches = DefaultConfig().MaxBranches
	}
	if cfg.DefaultStreamMode == "" {
		cfg.DefaultStreamMode = DefaultConfig().DefaultStreamMode
	}
	if cfg.OverProvisionFactor <= 0 {
		cfg.OverProvisionFactor = DefaultConfig().OverProvisionFactor
	}
	return &Router{cfg: cfg, manifest: m}
}

// Route produces a deterministic RouteDecision for in. Equal inputs (and an
// unchanged manifest/config) always yield an equal Decision.
func (r *Router) Route(in Input) Decision {
	complexity := classifyComplexity(in)
	primary := classifyPrimaryContext(in)
	strategy, collapse := selectStrategy(complexity, primary)

	branchCount := branchCountFor(strategy, r.cfg.MaxBranches)
	candidates := r.selectCandidates(in, primary, branchCount)

	streamMode := r.cfg.DefaultStreamMode
	if collapse == CollapseFirstSuccess {
		streamMode = "tentative_leader"
	}

	budget := r.deriveBudget(in.Constraints, len(candidates))

	// Propagate the per-branch allowance into each candidate so the
	// Provider Adapter enforces it as the upstream max_tokens; no branch
	// can then overrun its share regardless of executor behavior.
	for i := range candidates {
		if budget.PerBranchTokens > 0 && candidates[i].MaxOutputTokens > budget.PerBranchTokens {
			candidates[i].MaxOutputTokens = budget.PerBranchTokens
		}
	}

	return Decision{
		Complexity:     complexity,
		PrimaryContext: primary,
		Strategy:       strategy,
		CollapseRule:   collapse,
		StreamMode:     streamMode,
		Candidates:     candidates,
		Budget:         budget,
	}
}

// classifyComplexity scores a request on length, keyword, multi-step, and
// file-volume signals into a stable bucket.
func classifyComplexity(in Input) Complexity {
	text := strings.ToLower(in.Prompt)
	score := 0

	switch {
	case len(text) > 600:
		score += 3
	case len(text) > 250:
		score += 2
	case len(text) > 60:
		score += 1
	}

	complexKeywords := []string{"distributed", "concurrency", "concurrent", "microservice", "consensus",
		"architecture", "scalability", "refactor", "security", "migrate", "multi-tenant",
		"consistency", "high availability"}
	hits := 0
	for _, kw := range complexKeywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	score += hits

	if isMultiStep(text) {
		score += 2
	}

	var totalFileBytes int
	for _, f := range in.Files {
		totalFileBytes += f.Size
	}
	switch {
	case len(in.Files) > 5 || totalFileBytes > 50_000:
		score += 3
	case len(in.Files) > 1 || totalFileBytes > 5_000:
		score += 1
	}

	if strings.Contains(text, "critical") || strings.Contains(text, "production outage") || strings.Contains(text, "incident") {
		return Critical
	}

	switch {
	case score <= 1:
		return Trivial
	case score <= 3:
		return Simple
	case score <= 5:
		return Moderate
	case score <= 9:
		return Complex
	default:
		return Critical
	}
}

func isMultiStep(text string) bool {
	markers := []string{"first,", "first ", "step 1", "1.", "then ", "after that"}
	hits := 0
	for _, m := range markers {
		if strings.Contains(text, m) {
			hits++
		}
	}
	return hits >= 2
}

// classifyPrimaryContext picks the dominant subject tag, preferring the
// persona validator's own tags first, falling back to fresh keyword
// scoring, and tie-breaking toward architecture/security.
func classifyPrimaryContext(in Input) PrimaryContext {
	tagScore := map[PrimaryContext]int{}
	for _, t := range in.PersonaResult.Tags {
		tagScore[PrimaryContext(t)]++
	}

	text := strings.ToLower(in.Prompt)
	bump := func(ctx PrimaryContext, kws ...string) {
		for _, kw := range kws {
			if strings.Contains(text, kw) {
				tagScore[ctx]++
			}
		}
	}
	bump(Architecture, "architecture", "design a", "distributed", "microservice")
	bump(Security, "security", "vulnerability", "exploit", "cve")
	bump(CodeAnalysis, "analyze", "review", "explain why")
	bump(Testing, "test", "tests", "coverage")
	bump(CodeGeneration, "implement", "write", "build", "create")

	if in.TaskKind == TaskTesting {
		tagScore[Testing] += 2
	}
	if in.TaskKind == TaskCodeAnalysis {
		tagScore[CodeAnalysis] += 2
	}
	if in.TaskKind == TaskCodeGeneration {
		tagScore[CodeGeneration] += 1
	}

	priority := []PrimaryContext{Architecture, Security, CodeAnalysis, Testing, CodeGeneration, Other}
	best := Other
	bestScore := 0
	for _, ctx := range priority {
		if tagScore[ctx] > bestScore {
			best = ctx
			bestScore = tagScore[ctx]
		}
	}
	return best
}

// selectStrategy implements the table in the orchestration design: complexity
// and primary context jointly determine strategy and default collapse rule.
func selectStrategy(c Complexity, ctx PrimaryContext) (Strategy, CollapseRule) {
	switch c {
	case Trivial, Simple:
		return StrategySingle, ""
	case Moderate:
		switch ctx {
		case CodeAnalysis, Security:
			return StrategySequential, ""
		default:
			return StrategyParallel, CollapseFirstSuccess
		}
	case Complex:
		return StrategyQuantum, CollapseBestOfN
	default: // Critical
		return StrategyHybrid, CollapseBestOfN
	}
}

func branchCountFor(s Strategy, maxBranches int) int {
	switch s {
	case StrategySingle:
		return 1
	case StrategySequential:
		return 1
	case StrategyParallel:
		return 2
	case StrategyQuantum, StrategyHybrid:
		n := 4
		if n > maxBranches {
			n = maxBranches
		}
		return n
	default:
		return 1
	}
}

// selectCandidates builds count diversified candidates: preferred providers
// first, then capability-matched fill from the manifest. No two candidates
// share (provider, model) unless their sampling params differ.
func (r *Router) selectCandidates(in Input, ctx PrimaryContext, count int) []CandidateTuple {
	var pool []manifest.Entry

	seen := map[string]bool{}
	appendEntry := func(e manifest.Entry) {
		key := e.ProviderID + "/" + e.ModelID
		if !seen[key] {
			seen[key] = true
			pool = append(pool, e)
		}
	}

	for _, providerID := range in.PreferredProviders {
		for _, modelID := range in.PreferredModels {
			if e, err := r.manifest.Resolve(providerID, modelID); err == nil {
				appendEntry(e)
			}
		}
	}

	capable := r.manifest.ListCapable(string(ctx))
	if len(capable) == 0 {
		capable = r.manifest.ListCapable()
	}
	for _, e := range capable {
		appendEntry(e)
	}

	if len(pool) == 0 {
		return nil
	}

	agentRole := agentRoleFor(ctx)
	var candidates []CandidateTuple
	for i := 0; i < count; i++ {
		e := pool[i%len(pool)]
		// When we must reuse a (provider, model) pair because the pool is
		// smaller than count, vary temperature so the diversification
		// invariant (no two candidates identical unless params differ)
		// still holds.
		temp := float32(0.2) + float32(i/len(pool))*0.3
		candidates = append(candidates, CandidateTuple{
			AgentRole:       agentRole,
			ProviderID:      e.ProviderID,
			ModelID:         e.ModelID,
			Temperature:     temp,
			TopP:            1.0,
			MaxOutputTokens: 4096,
			Weight:          1.0 / float64(i+1),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Weight > candidates[j].Weight
	})
	return candidates
}

func agentRoleFor(ctx PrimaryContext) string {
	switch ctx {
	case Architecture:
		return "architect"
	case Security:
		return "security"
	case Testing:
		return "tester"
	case CodeAnalysis:
		return "reviewer"
	default:
		return "developer"
	}
}

// deriveBudget turns caller constraints into a per-branch-aware budget.
// The request's token budget is divided across the candidates with the
// over-provision factor applied: factor > 1 concedes that speculative
// branches cancelled mid-flight rarely consume their full share, so each
// branch may hold slightly more than an even split while the summed
// worst case (N × PerBranchTokens) still stays ≤ Tokens × factor. A
// single branch never gets more than the request budget itself.
func (r *Router) deriveBudget(c Constraints, numCandidates int) Budget {
	b := Budget{
		WallMS: 30_000,
		Tokens: 8192,
		USD:    0.50,
	}
	if c.MaxLatencyMS > 0 {
		b.WallMS = c.MaxLatencyMS
	}
	if c.MaxTokens > 0 {
		b.Tokens = c.MaxTokens
	}
	if c.MaxCostUSD > 0 {
		b.USD = c.MaxCostUSD
	}

	n := numCandidates
	if n < 1 {
		n = 1
	}
	perBranch := int(float64(b.Tokens) * r.cfg.OverProvisionFactor / float64(n))
	if perBranch > b.Tokens {
		perBranch = b.Tokens
	}
	if perBranch < 1 {
		perBranch = 1
	}
	b.PerBranchTokens = perBranch
	return b
}
