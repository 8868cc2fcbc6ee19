// Package quantum implements the quantum executor: fanning a route
// decision's candidates out into concurrent branch executions,
// enforcing per-provider concurrency limits, and collapsing the
// branches into one result under one of the four closed collapse
// rules. Streaming follows the route decision's mode: tentative_leader
// streams only the currently-leading branch's tokens and emits a
// superseded event when the collapse picks a different branch; buffered
// emits no token events and delivers output only in the final result.
package quantum

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantumforge/engine/agent"
	"github.com/quantumforge/engine/branch"
	"github.com/quantumforge/engine/router"
	"github.com/quantumforge/engine/scoring"
	"github.com/quantumforge/engine/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StreamEvent mirrors the wire-level streaming event shapes, decoupled
// from HTTP: the handler translates these into wire frames. For a
// "superseded" event, BranchID names the branch now owning the stream
// and Superseded lists the branch(es) whose streamed prefix it replaces.
type StreamEvent struct {
	Type       string // "token" | "superseded" | "branch_status"
	BranchID   string
	Chunk      string
	Status     branch.Status
	Superseded []string
}

// streamLeader tracks which branch currently owns the caller-facing
// token stream during a tentative_leader run. The first branch to
// produce output claims the stream; every other branch's tokens stay
// buffered in its own partial output. If the collapse picks a branch
// other than the leader, the executor emits a "superseded" event so the
// caller knows the streamed prefix was replaced.
type streamLeader struct {
	mu sync.Mutex
	id string
}

// claim reports whether id owns the stream, claiming it when unowned.
func (l *streamLeader) claim(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.id == "" {
		l.id = id
	}
	return l.id == id
}

func (l *streamLeader) current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.id
}

// EventSink receives StreamEvents as branches progress. May be nil.
type EventSink func(StreamEvent)

// Executor runs a RouteDecision's candidates concurrently and collapses
// them into one Result.
type Executor struct {
	agents  *agent.Executor
	logger  *zap.Logger
	weights scoring.Weights
}

// New builds a Quantum Executor over the given Agent Executor, which
// actually resolves and calls providers for each branch.
func New(agents *agent.Executor, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{agents: agents, logger: logger, weights: scoring.DefaultWeights()}
}

// Run executes decision.Candidates concurrently (trimmed to
// decision.Budget/MaxBranches by the router already) and collapses them
// per decision.CollapseRule. ctx cancellation propagates to every branch;
// the branches not chosen by a first_success collapse are cancelled
// immediately and reported as superseded.
func (x *Executor) Run(ctx context.Context, requestID string, in agent.Input, decision router.Decision, events EventSink) branch.Result {
	start := time.Now()
	branchCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	executions := make([]*branch.Execution, len(decision.Candidates))
	for i, c := range decision.Candidates {
		executions[i] = branch.New(uuid.NewString(), i, c)
	}

	wall := time.Duration(decision.Budget.WallMS) * time.Millisecond

	switch decision.CollapseRule {
	case router.CollapseFirstSuccess:
		return x.collapseFirstSuccess(branchCtx, cancelAll, requestID, in, decision, executions, wall, start, events)
	case router.CollapseConsensusThenRefine:
		return x.collapseConsensus(branchCtx, requestID, in, decision, executions, wall, start, events)
	case router.CollapseWeightedVote:
		// Weighted voting over free-text completions has no well-defined
		// equality notion beyond the normalized-match consensus already
		// implements; fall back to the same scored best_of_n selection.
		fallthrough
	case router.CollapseBestOfN:
		fallthrough
	default:
		return x.collapseBestOfN(branchCtx, requestID, in, decision, executions, wall, start, events)
	}
}

// runAll runs every execution concurrently to completion (or
// cancellation) and returns once all goroutines have returned. In
// tentative_leader mode only the leading branch's tokens reach events;
// in buffered mode no token events are emitted at all and the caller
// sees output only in the final result.
func (x *Executor) runAll(ctx context.Context, in agent.Input, decision router.Decision, executions []*branch.Execution, wall time.Duration, events EventSink) *streamLeader {
	g, gctx := errgroup.WithContext(ctx)
	stream := decision.StreamMode != "buffered"
	lead := &streamLeader{}

	for _, ex := range executions {
		ex := ex
		g.Go(func() error {
			sink := func(chunk string) {
				if events != nil && stream && lead.claim(ex.ID()) {
					events(StreamEvent{Type: "token", BranchID: ex.ID(), Chunk: chunk})
				}
			}
			x.agents.Run(gctx, in, ex, stream, sink, wall)
			if events != nil {
				events(StreamEvent{Type: "branch_status", BranchID: ex.ID(), Status: ex.Snapshot().Status})
			}
			return nil
		})
	}
	_ = g.Wait()
	return lead
}

// reportLeaderSwitch emits a "superseded" event when a tentative_leader
// run collapses to a branch other than the one that was streaming.
func reportLeaderSwitch(events EventSink, decision router.Decision, lead *streamLeader, winnerID string) {
	if events == nil || decision.StreamMode == "buffered" {
		return
	}
	if prev := lead.current(); prev != "" && prev != winnerID {
		events(StreamEvent{Type: "superseded", BranchID: winnerID, Superseded: []string{prev}})
	}
}

// collapseFirstSuccess races every branch and returns as soon as one
// SUCCEEDED; the rest are cancelled and reported superseded. It starts
// its own goroutines instead of using runAll so it can cancel the other
// branches the moment one succeeds; it still waits for the cancelled
// branches to return before assembling the result.
func (x *Executor) collapseFirstSuccess(ctx context.Context, cancelAll context.CancelFunc, requestID string, in agent.Input, decision router.Decision, executions []*branch.Execution, wall time.Duration, start time.Time, events EventSink) branch.Result {
	stream := decision.StreamMode != "buffered"
	lead := &streamLeader{}
	done := make(chan *branch.Execution, len(executions))
	var wg sync.WaitGroup

	for _, ex := range executions {
		ex := ex
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink := func(chunk string) {
				if events != nil && stream && lead.claim(ex.ID()) {
					events(StreamEvent{Type: "token", BranchID: ex.ID(), Chunk: chunk})
				}
			}
			x.agents.Run(ctx, in, ex, stream, sink, wall)
			done <- ex
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	var winner *branch.Execution
	var finished []*branch.Execution
	for ex := range done {
		finished = append(finished, ex)
		if events != nil {
			events(StreamEvent{Type: "branch_status", BranchID: ex.ID(), Status: ex.Snapshot().Status})
		}
		if winner == nil && ex.Snapshot().Status == branch.Succeeded {
			winner = ex
			cancelAll()
		}
	}

	snaps := snapshotAll(executions)
	result := assemble(requestID, decision.Strategy, snaps, time.Since(start))
	if winner != nil {
		result.ChosenBranchID = winner.ID()
		result.Output = winner.Snapshot().FinalOutput
		reportSuperseded(events, executions, winner.ID())
		return result
	}
	return resultWithErrorOrEmpty(result, snaps)
}

// collapseBestOfN runs every branch to completion and picks the highest
// scored SUCCEEDED branch per the scoring.Better tie-break.
func (x *Executor) collapseBestOfN(ctx context.Context, requestID string, in agent.Input, decision router.Decision, executions []*branch.Execution, wall time.Duration, start time.Time, events EventSink) branch.Result {
	lead := x.runAll(ctx, in, decision, executions, wall, events)

	snaps := snapshotAll(executions)
	result := assemble(requestID, decision.Strategy, snaps, time.Since(start))

	var best *branch.Snapshot
	for i := range snaps {
		if snaps[i].Status != branch.Succeeded {
			continue
		}
		if best == nil || scoring.Better(snaps[i], *best) {
			s := snaps[i]
			best = &s
		}
	}
	if best == nil {
		return resultWithErrorOrEmpty(result, snaps)
	}
	result.ChosenBranchID = best.ID
	result.Output = best.FinalOutput
	reportLeaderSwitch(events, decision, lead, best.ID)
	return result
}

// collapseConsensus runs every branch, then returns the branch whose
// normalized output matches the majority of SUCCEEDED branches,
// resolving to best_of_n when there is no majority (every output
// distinct) or fewer than two branches succeeded.
func (x *Executor) collapseConsensus(ctx context.Context, requestID string, in agent.Input, decision router.Decision, executions []*branch.Execution, wall time.Duration, start time.Time, events EventSink) branch.Result {
	lead := x.runAll(ctx, in, decision, executions, wall, events)

	snaps := snapshotAll(executions)
	result := assemble(requestID, decision.Strategy, snaps, time.Since(start))

	var succeeded []branch.Snapshot
	for _, s := range snaps {
		if s.Status == branch.Succeeded {
			succeeded = append(succeeded, s)
		}
	}
	if len(succeeded) < 2 {
		return x.collapseBestOfNFromSnapshots(result, succeeded, snaps, decision, lead, events)
	}

	winner, ok := scoring.Majority(succeeded)
	if ok {
		key := scoring.Normalize(winner.FinalOutput)
		agree := 0
		for _, s := range succeeded {
			if scoring.Normalize(s.FinalOutput) == key {
				agree++
			}
		}
		ok = agree > 1
	}
	if !ok {
		return x.collapseBestOfNFromSnapshots(result, succeeded, snaps, decision, lead, events)
	}
	result.ChosenBranchID = winner.ID
	result.Output = winner.FinalOutput
	reportLeaderSwitch(events, decision, lead, winner.ID)
	return result
}

func (x *Executor) collapseBestOfNFromSnapshots(result branch.Result, succeeded []branch.Snapshot, all []branch.Snapshot, decision router.Decision, lead *streamLeader, events EventSink) branch.Result {
	var best *branch.Snapshot
	for i := range succeeded {
		if best == nil || scoring.Better(succeeded[i], *best) {
			s := succeeded[i]
			best = &s
		}
	}
	if best == nil {
		return resultWithErrorOrEmpty(result, all)
	}
	result.ChosenBranchID = best.ID
	result.Output = best.FinalOutput
	reportLeaderSwitch(events, decision, lead, best.ID)
	return result
}

func snapshotAll(executions []*branch.Execution) []branch.Snapshot {
	snaps := make([]branch.Snapshot, len(executions))
	for i, ex := range executions {
		snaps[i] = ex.Snapshot()
	}
	return snaps
}

func assemble(requestID string, strategy router.Strategy, snaps []branch.Snapshot, wall time.Duration) branch.Result {
	summaries := make([]branch.Summary, len(snaps))
	for i, s := range snaps {
		summaries[i] = branch.Summarize(s)
	}
	return branch.Result{
		RequestID: requestID,
		Strategy:  strategy,
		Aggregate: branch.AggregateSnapshots(snaps, wall),
		Branches:  summaries,
	}
}

func reportSuperseded(events EventSink, executions []*branch.Execution, winnerID string) {
	if events == nil {
		return
	}
	var superseded []string
	for _, ex := range executions {
		if ex.ID() != winnerID {
			superseded = append(superseded, ex.ID())
		}
	}
	if len(superseded) > 0 {
		events(StreamEvent{Type: "superseded", BranchID: winnerID, Superseded: superseded})
	}
}

// resultWithErrorOrEmpty is reached when every branch failed. It leaves
// ChosenBranchID/Output empty; the coordinator derives the request-level
// error via types.HighestPriorityKind over result.Branches' ErrorKinds.
func resultWithErrorOrEmpty(result branch.Result, snaps []branch.Snapshot) branch.Result {
	return result
}

// FailedKinds extracts the ErrorKind of every non-succeeded branch in
// result, for the coordinator to rank with types.HighestPriorityKind.
func FailedKinds(result branch.Result) []types.ErrorCode {
	kinds := make([]types.ErrorCode, 0, len(result.Branches))
	for _, b := range result.Branches {
		if b.ErrorKind != nil {
			kinds = append(kinds, *b.ErrorKind)
		}
	}
	return kinds
}
