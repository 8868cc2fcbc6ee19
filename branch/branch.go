// Package branch holds the BranchExecution and OrchestrationResult data
// model: one speculative execution attempt, its absorbing
// state machine, and the final envelope the Request Pipeline hands back
// to a caller. It has no execution logic of its own — the Agent and
// Quantum Executors drive a BranchExecution's transitions — so that the
// state machine's invariants (terminal states are absorbing, partial
// output is append-only) live in exactly one place.
package branch

import (
	"strings"
	"sync"
	"time"

	"github.com/quantumforge/engine/router"
	"github.com/quantumforge/engine/types"
)

// Status is one state in the BranchExecution state machine:
//
//	PENDING --start--> RUNNING --success--> SUCCEEDED
//	                       |--error(non-retryable)--> FAILED
//	                       |--cancel--> CANCELLED
//	                       |--wall-exceeded--> TIMED_OUT
type Status string

const (
	Pending   Status = "PENDING"
	Running   Status = "RUNNING"
	Succeeded Status = "SUCCEEDED"
	Failed    Status = "FAILED"
	Cancelled Status = "CANCELLED"
	TimedOut  Status = "TIMED_OUT"
)

// Terminal reports whether s is one of the state machine's absorbing
// states.
func (s Status) Terminal() bool {
	switch s {
	case Succeeded, Failed, Cancelled, TimedOut:
		return true
	default:
		return false
	}
}

// Execution is one BranchExecution: a single running or completed
// speculative attempt at a CandidateTuple. All mutation goes through its
// methods, which enforce that once a branch reaches a terminal status it
// never leaves it.
type Execution struct {
	mu sync.Mutex

	id             string
	candidateIndex int
	candidate      router.CandidateTuple

	status     Status
	startedAt  time.Time
	finishedAt time.Time

	tokensIn  int
	tokensOut int
	costUSD   float64

	partial strings.Builder
	final   string

	finishReason string
	errorKind    types.ErrorCode
	errorMessage string
	score        float64
	scored       bool
}

// New creates a PENDING branch for candidate at candidateIndex within
// its RouteDecision's candidate list (used as the lowest-priority
// best_of_n tie-break).
func New(id string, candidateIndex int, candidate router.CandidateTuple) *Execution {
	return &Execution{
		id:             id,
		candidateIndex: candidateIndex,
		candidate:      candidate,
		status:         Pending,
	}
}

func (e *Execution) ID() string                      { return e.id }
func (e *Execution) CandidateIndex() int              { return e.candidateIndex }
func (e *Execution) Candidate() router.CandidateTuple { return e.candidate }

// Start transitions PENDING -> RUNNING and records the start time. It is
// a no-op if the branch is already terminal or running.
func (e *Execution) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != Pending {
		return
	}
	e.status = Running
	e.startedAt = time.Now()
}

// Append adds a chunk of incremental output. Appends after the branch
// has gone terminal are dropped: a cancelled or timed-out branch must
// not keep growing its partial output once superseded.
func (e *Execution) Append(chunk string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Terminal() {
		return
	}
	e.partial.WriteString(chunk)
}

// PartialOutput returns everything appended so far, regardless of
// status.
func (e *Execution) PartialOutput() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.partial.String()
}

// Succeed transitions RUNNING -> SUCCEEDED, absorbing final accounting.
// It is a no-op if the branch is already terminal.
func (e *Execution) Succeed(output string, tokensIn, tokensOut int, costUSD float64, finishReason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Terminal() {
		return
	}
	e.status = Succeeded
	e.finishedAt = time.Now()
	e.final = output
	e.tokensIn = tokensIn
	e.tokensOut = tokensOut
	e.costUSD = costUSD
	e.finishReason = finishReason
}

// Fail transitions RUNNING -> FAILED with a classified ErrorKind. Tokens
// already consumed before the failure (e.g. a partial stream that then
// errored) are still recorded; accounting survives failure.
func (e *Execution) Fail(kind types.ErrorCode, message string, tokensIn, tokensOut int, costUSD float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Terminal() {
		return
	}
	e.status = Failed
	e.finishedAt = time.Now()
	e.errorKind = kind
	e.errorMessage = message
	e.tokensIn = tokensIn
	e.tokensOut = tokensOut
	e.costUSD = costUSD
}

// Cancel transitions RUNNING or PENDING -> CANCELLED. Cancellation is
// cooperative and idempotent: calling Cancel on an already-terminal
// branch does nothing; terminal states are absorbing.
func (e *Execution) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Terminal() {
		return
	}
	e.status = Cancelled
	e.finishedAt = time.Now()
	e.errorKind = types.ErrCancelled
}

// TimeoutExceeded transitions RUNNING -> TIMED_OUT.
func (e *Execution) TimeoutExceeded() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Terminal() {
		return
	}
	e.status = TimedOut
	e.finishedAt = time.Now()
	e.errorKind = types.ErrTimeout
}

// SetScore records the best_of_n evaluator's score for this branch. It
// is set once, after the branch is terminal; the scoring function itself
// lives in package scoring to keep this type free of scoring policy.
func (e *Execution) SetScore(score float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.score = score
	e.scored = true
}

// Snapshot is an immutable, race-free read of an Execution's current
// fields, safe to pass across goroutines (e.g. into a scoring function
// or an SSE event) without holding the branch's lock.
type Snapshot struct {
	ID             string
	CandidateIndex int
	Candidate      router.CandidateTuple
	Status         Status
	StartedAt      time.Time
	FinishedAt     time.Time
	TokensIn       int
	TokensOut      int
	CostUSD        float64
	FinalOutput    string
	FinishReason   string
	ErrorKind      types.ErrorCode
	ErrorMessage   string
	Score          float64
}

// Snapshot takes a consistent, lock-free-to-read copy of the branch's
// current state.
func (e *Execution) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		ID:             e.id,
		CandidateIndex: e.candidateIndex,
		Candidate:      e.candidate,
		Status:         e.status,
		StartedAt:      e.startedAt,
		FinishedAt:     e.finishedAt,
		TokensIn:       e.tokensIn,
		TokensOut:      e.tokensOut,
		CostUSD:        e.costUSD,
		FinalOutput:    e.final,
		FinishReason:   e.finishReason,
		ErrorKind:      e.errorKind,
		ErrorMessage:   e.errorMessage,
		Score:          e.score,
	}
}

// WallTime reports how long the branch ran; zero if it never started.
func (s Snapshot) WallTime() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Summary is the wire-level view of a branch in a response's `branches[]`.
type Summary struct {
	BranchID   string                 `json:"branch_id"`
	Candidate  router.CandidateTuple  `json:"candidate"`
	Status     Status                 `json:"status"`
	TokensIn   int                    `json:"tokens_in"`
	TokensOut  int                    `json:"tokens_out"`
	CostUSD    float64                `json:"cost_usd"`
	ErrorKind  *types.ErrorCode       `json:"error_kind,omitempty"`
}

// Summarize projects a Snapshot into the wire-level Summary.
func Summarize(s Snapshot) Summary {
	sum := Summary{
		BranchID:  s.ID,
		Candidate: s.Candidate,
		Status:    s.Status,
		TokensIn:  s.TokensIn,
		TokensOut: s.TokensOut,
		CostUSD:   s.CostUSD,
	}
	if s.ErrorKind != "" {
		k := s.ErrorKind
		sum.ErrorKind = &k
	}
	return sum
}

// Aggregate sums resource consumption across every branch considered,
// including cancelled and failed ones: tokens already accounted remain
// in aggregate cost.
type Aggregate struct {
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
	WallMS    int64   `json:"wall_ms"`
}

// Result is the single outcome of one orchestrated request,
// referencing its winning branch by id without owning the branch
// slice.
type Result struct {
	RequestID      string          `json:"request_id"`
	ChosenBranchID string          `json:"chosen_branch_id"`
	Output         string          `json:"output"`
	Strategy       router.Strategy `json:"strategy"`
	Aggregate      Aggregate       `json:"aggregate"`
	Branches       []Summary       `json:"branches"`
}

// AggregateSnapshots sums resource usage across every snapshot, used by
// executors to populate Result.Aggregate after collapse.
func AggregateSnapshots(snaps []Snapshot, wall time.Duration) Aggregate {
	agg := Aggregate{WallMS: wall.Milliseconds()}
	for _, s := range snaps {
		agg.TokensIn += s.TokensIn
		agg.TokensOut += s.TokensOut
		agg.CostUSD += s.CostUSD
	}
	return agg
}
