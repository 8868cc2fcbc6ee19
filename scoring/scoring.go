// Package scoring implements the best_of_n evaluator: a pure,
// deterministic function from a terminal BranchExecution's fields to a
// score, plus the tie-break and consensus-equality helpers the Quantum
// Executor's collapse rules need. Keeping this in its own package (away
// from both agent and quantum) lets both the Agent Executor, which sets
// a branch's score on success, and the Quantum Executor, which compares
// scores across branches, share one scoring policy without an import
// cycle between them.
package scoring

import (
	"regexp"
	"strings"

	"github.com/quantumforge/engine/branch"
	"github.com/quantumforge/engine/router"
)

// Weights controls the relative contribution of each scoring signal.
// The exact values are a configuration
// choice; DefaultWeights bakes in the decision recorded in DESIGN.md.
type Weights struct {
	FinishReason float64
	Structure    float64
	InverseCost  float64
	PriorWeight  float64
}

// DefaultWeights returns the weights this implementation ships with:
// finish-reason 0.4, structure heuristic 0.3, inverse-cost 0.2, prior
// candidate weight 0.1.
func DefaultWeights() Weights {
	return Weights{
		FinishReason: 0.4,
		Structure:    0.3,
		InverseCost:  0.2,
		PriorWeight:  0.1,
	}
}

var codeBlockPattern = regexp.MustCompile("```")

// Score is the best_of_n evaluator: a weighted combination of
// finish-reason quality, output-structure heuristics appropriate to
// taskKind, an inverse-cost bonus, and the candidate's prior weight. It
// is pure — same Snapshot and taskKind always produce the same score —
// and only ever reads a SUCCEEDED branch's terminal fields.
func Score(s branch.Snapshot, taskKind router.TaskKind, w Weights) float64 {
	if s.Status != branch.Succeeded {
		return -1
	}
	return w.FinishReason*finishReasonScore(s.FinishReason) +
		w.Structure*structureScore(s.FinalOutput, taskKind, s.Candidate.AgentRole) +
		w.InverseCost*inverseCostScore(s.CostUSD) +
		w.PriorWeight*clamp01(s.Candidate.Weight)
}

func finishReasonScore(reason string) float64 {
	switch strings.ToLower(reason) {
	case "", "stop", "end_turn", "complete", "completed":
		return 1.0
	case "length", "max_tokens":
		return 0.3
	case "tool_calls", "tool_use":
		return 0.8
	default:
		return 0.5
	}
}

// structureScore rewards output shaped the way taskKind/agentRole expect:
// a parseable code block for generation tasks, test-looking content for
// the tester role, and non-trivial length as a floor signal against
// empty or truncated answers.
func structureScore(output string, taskKind router.TaskKind, agentRole string) float64 {
	if strings.TrimSpace(output) == "" {
		return 0.0
	}
	score := 0.2
	if codeBlockPattern.MatchString(output) {
		score += 0.5
	}
	lower := strings.ToLower(output)
	switch {
	case agentRole == "tester" || taskKind == router.TaskTesting:
		if strings.Contains(lower, "func test") || strings.Contains(lower, "assert") || strings.Contains(lower, "expect(") {
			score += 0.3
		}
	case agentRole == "security":
		if strings.Contains(lower, "vulnerab") || strings.Contains(lower, "mitigat") || strings.Contains(lower, "cve") {
			score += 0.3
		}
	case agentRole == "architect":
		if strings.Contains(lower, "trade-off") || strings.Contains(lower, "tradeoff") || strings.Contains(lower, "scal") {
			score += 0.3
		}
	default:
		if len(output) > 200 {
			score += 0.3
		}
	}
	return clamp01(score)
}

// inverseCostScore rewards cheaper branches without ever going negative
// or unbounded: 1.0 at zero cost, asymptotically approaching 0 as cost
// grows.
func inverseCostScore(costUSD float64) float64 {
	if costUSD < 0 {
		costUSD = 0
	}
	return 1.0 / (1.0 + costUSD*100.0)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Better reports whether candidate should win over current under the
// best_of_n tie-break rule: higher score; on a score tie, lower cost;
// still tied, lower wall time; still tied, lower candidate index.
func Better(candidate, current branch.Snapshot) bool {
	if candidate.Score != current.Score {
		return candidate.Score > current.Score
	}
	if candidate.CostUSD != current.CostUSD {
		return candidate.CostUSD < current.CostUSD
	}
	if cw, uw := candidate.WallTime(), current.WallTime(); cw != uw {
		return cw < uw
	}
	return candidate.CandidateIndex < current.CandidateIndex
}

// Normalize collapses whitespace and case so consensus_then_refine can
// compare branch outputs for "majority" agreement without being
// defeated by incidental formatting differences.
func Normalize(output string) string {
	fields := strings.Fields(strings.ToLower(output))
	return strings.Join(fields, " ")
}

// Majority returns the normalized output value that appears most often
// among snaps (ties broken by the first-seen value, for determinism),
// and the snapshot that produced it. ok is false if snaps is empty.
func Majority(snaps []branch.Snapshot) (winner branch.Snapshot, ok bool) {
	counts := make(map[string]int)
	firstIndex := make(map[string]int)
	for i, s := range snaps {
		key := Normalize(s.FinalOutput)
		counts[key]++
		if _, seen := firstIndex[key]; !seen {
			firstIndex[key] = i
		}
	}
	bestKey := ""
	bestCount := -1
	for key, count := range counts {
		if count > bestCount || (count == bestCount && firstIndex[key] < firstIndex[bestKey]) {
			bestKey, bestCount = key, count
		}
	}
	if bestCount < 0 {
		return branch.Snapshot{}, false
	}
	return snaps[firstIndex[bestKey]], true
}
