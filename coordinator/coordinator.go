// Package coordinator implements the orchestration coordinator:
// given a RouteDecision, it dispatches to the right execution shape
// (single branch, sequential pipeline, parallel branches, quantum
// collapse, or hybrid) and always returns one OrchestrationResult.
package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/quantumforge/engine/agent"
	"github.com/quantumforge/engine/branch"
	"github.com/quantumforge/engine/quantum"
	"github.com/quantumforge/engine/router"
	"go.uber.org/zap"
)

// Coordinator dispatches a RouteDecision to the appropriate execution
// strategy and always returns a terminal OrchestrationResult.
type Coordinator struct {
	quantum *quantum.Executor
	agents  *agent.Executor
	logger  *zap.Logger
}

// New builds a Coordinator over the given Quantum and Agent Executors.
func New(q *quantum.Executor, a *agent.Executor, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{quantum: q, agents: a, logger: logger}
}

// Run dispatches decision's strategy and returns the OrchestrationResult.
// events, if non-nil, receives streaming notifications regardless of
// strategy; single/sequential strategies only ever emit "token" events
// for their one active branch at a time.
func (c *Coordinator) Run(ctx context.Context, requestID string, in agent.Input, decision router.Decision, events quantum.EventSink) branch.Result {
	switch decision.Strategy {
	case router.StrategySingle:
		return c.runSingle(ctx, requestID, in, decision, events)
	case router.StrategySequential:
		return c.runSequential(ctx, requestID, in, decision, events)
	case router.StrategyHybrid:
		return c.runHybrid(ctx, requestID, in, decision, events)
	case router.StrategyParallel, router.StrategyQuantum:
		fallthrough
	default:
		return c.quantum.Run(ctx, requestID, in, decision, events)
	}
}

// runSingle executes exactly one candidate, with no collapse step.
func (c *Coordinator) runSingle(ctx context.Context, requestID string, in agent.Input, decision router.Decision, events quantum.EventSink) branch.Result {
	candidates := decision.Candidates
	if len(candidates) == 0 {
		return branch.Result{RequestID: requestID, Strategy: decision.Strategy}
	}
	wall := time.Duration(decision.Budget.WallMS) * time.Millisecond
	ex := branch.New(uuid.NewString(), 0, candidates[0])

	sink := func(chunk string) {
		if events != nil {
			events(quantum.StreamEvent{Type: "token", BranchID: ex.ID(), Chunk: chunk})
		}
	}
	c.agents.Run(ctx, in, ex, decision.StreamMode != "buffered", sink, wall)
	snap := ex.Snapshot()
	if events != nil {
		events(quantum.StreamEvent{Type: "branch_status", BranchID: ex.ID(), Status: snap.Status})
	}

	result := branch.Result{
		RequestID: requestID,
		Strategy:  decision.Strategy,
		Aggregate: branch.AggregateSnapshots([]branch.Snapshot{snap}, wall),
		Branches:  []branch.Summary{branch.Summarize(snap)},
	}
	if snap.Status == branch.Succeeded {
		result.ChosenBranchID = ex.ID()
		result.Output = snap.FinalOutput
	}
	return result
}

// runSequential executes decision.Candidates one after another, each
// stage seeing the prior stage's output folded into its prompt. A stage
// whose branch fails is skipped (its candidate is marked optional by the
// sequential-strategy semantics) rather than aborting the pipeline. The
// result lists every stage's branch; if every stage fails, no branch is
// chosen and the output is empty.
func (c *Coordinator) runSequential(ctx context.Context, requestID string, in agent.Input, decision router.Decision, events quantum.EventSink) branch.Result {
	wall := time.Duration(decision.Budget.WallMS) * time.Millisecond
	stageWall := wall
	if n := len(decision.Candidates); n > 0 {
		stageWall = wall / time.Duration(n)
	}

	var snaps []branch.Snapshot
	carried := in
	chosenID := ""
	chosenOutput := ""

	for i, candidate := range decision.Candidates {
		ex := branch.New(uuid.NewString(), i, candidate)
		sink := func(chunk string) {
			if events != nil {
				events(quantum.StreamEvent{Type: "token", BranchID: ex.ID(), Chunk: chunk})
			}
		}
		c.agents.Run(ctx, carried, ex, decision.StreamMode != "buffered", sink, stageWall)
		snap := ex.Snapshot()
		snaps = append(snaps, snap)
		if events != nil {
			events(quantum.StreamEvent{Type: "branch_status", BranchID: ex.ID(), Status: snap.Status})
		}

		if snap.Status == branch.Succeeded {
			chosenID = ex.ID()
			chosenOutput = snap.FinalOutput
			carried.EnhancedPrompt = snap.FinalOutput
			carried.Prompt = snap.FinalOutput
		}

		if ctx.Err() != nil {
			break
		}
	}

	summaries := make([]branch.Summary, len(snaps))
	for i, s := range snaps {
		summaries[i] = branch.Summarize(s)
	}
	return branch.Result{
		RequestID:      requestID,
		ChosenBranchID: chosenID,
		Output:         chosenOutput,
		Strategy:       decision.Strategy,
		Aggregate:      branch.AggregateSnapshots(snaps, wall),
		Branches:       summaries,
	}
}

// runHybrid runs a quantum best_of_n round over decision.Candidates,
// then feeds the winner into one sequential refinement stage using the
// last candidate in the list as the refiner, following the hybrid
// definition ("quantum best_of_n, then one sequential refinement
// stage").
func (c *Coordinator) runHybrid(ctx context.Context, requestID string, in agent.Input, decision router.Decision, events quantum.EventSink) branch.Result {
	if len(decision.Candidates) < 2 {
		return c.quantum.Run(ctx, requestID, in, decision, events)
	}

	exploreDecision := decision
	exploreDecision.CollapseRule = router.CollapseBestOfN
	exploreDecision.Candidates = decision.Candidates[:len(decision.Candidates)-1]
	exploreDecision.Budget.WallMS = decision.Budget.WallMS * 2 / 3

	first := c.quantum.Run(ctx, requestID, in, exploreDecision, events)
	if first.ChosenBranchID == "" {
		return first
	}

	refineIn := in
	refineIn.EnhancedPrompt = first.Output
	refineIn.Prompt = first.Output

	refineDecision := decision
	refineDecision.Candidates = decision.Candidates[len(decision.Candidates)-1:]
	refineDecision.Budget.WallMS = decision.Budget.WallMS / 3

	second := c.runSequential(ctx, requestID, refineIn, refineDecision, events)

	combined := branch.Result{
		RequestID:      requestID,
		Strategy:       decision.Strategy,
		ChosenBranchID: first.ChosenBranchID,
		Output:         first.Output,
		Branches:       append(append([]branch.Summary{}, first.Branches...), second.Branches...),
	}
	combined.Aggregate = branch.Aggregate{
		TokensIn:  first.Aggregate.TokensIn + second.Aggregate.TokensIn,
		TokensOut: first.Aggregate.TokensOut + second.Aggregate.TokensOut,
		CostUSD:   first.Aggregate.CostUSD + second.Aggregate.CostUSD,
		WallMS:    first.Aggregate.WallMS + second.Aggregate.WallMS,
	}
	if second.ChosenBranchID != "" {
		combined.ChosenBranchID = second.ChosenBranchID
		combined.Output = second.Output
	}
	return combined
}
