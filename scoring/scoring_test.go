package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/quantumforge/engine/branch"
	"github.com/quantumforge/engine/router"
)

func succeededSnapshot(output string, cost float64, finishReason string, weight float64, idx int) branch.Snapshot {
	start := time.Now()
	return branch.Snapshot{
		ID:             "b",
		CandidateIndex: idx,
		Candidate:      router.CandidateTuple{Weight: weight},
		Status:         branch.Succeeded,
		StartedAt:      start,
		FinishedAt:     start.Add(time.Second),
		FinalOutput:    output,
		FinishReason:   finishReason,
		CostUSD:        cost,
	}
}

func TestScore_NonSucceededReturnsNegativeOne(t *testing.T) {
	s := branch.Snapshot{Status: branch.Failed}
	assert.Equal(t, -1.0, Score(s, router.TaskCustom, DefaultWeights()))
}

func TestScore_IsDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		output := rapid.StringMatching(`[a-zA-Z0-9 ]{0,200}`).Draw(rt, "output")
		cost := rapid.Float64Range(0, 10).Draw(rt, "cost")
		weight := rapid.Float64Range(0, 1).Draw(rt, "weight")

		snap := succeededSnapshot(output, cost, "stop", weight, 0)
		w := DefaultWeights()

		first := Score(snap, router.TaskCodeGeneration, w)
		second := Score(snap, router.TaskCodeGeneration, w)
		require.Equal(t, first, second)
	})
}

func TestScore_CheaperBranchScoresHigherAllElseEqual(t *testing.T) {
	cheap := succeededSnapshot("same output", 0.01, "stop", 0.5, 0)
	expensive := succeededSnapshot("same output", 1.0, "stop", 0.5, 0)
	w := DefaultWeights()
	assert.Greater(t, Score(cheap, router.TaskCustom, w), Score(expensive, router.TaskCustom, w))
}

func TestBetter_TieBreaksByScoreThenCostThenWallTimeThenIndex(t *testing.T) {
	base := time.Now()
	a := branch.Snapshot{Score: 0.9, CostUSD: 0.5, StartedAt: base, FinishedAt: base.Add(time.Second), CandidateIndex: 1}
	b := branch.Snapshot{Score: 0.5, CostUSD: 0.1, StartedAt: base, FinishedAt: base.Add(time.Second), CandidateIndex: 0}
	assert.True(t, Better(a, b), "higher score should win regardless of cost")

	c := branch.Snapshot{Score: 0.5, CostUSD: 0.1, StartedAt: base, FinishedAt: base.Add(time.Second), CandidateIndex: 0}
	d := branch.Snapshot{Score: 0.5, CostUSD: 0.2, StartedAt: base, FinishedAt: base.Add(time.Second), CandidateIndex: 1}
	assert.True(t, Better(c, d), "equal score: lower cost should win")

	e := branch.Snapshot{Score: 0.5, CostUSD: 0.1, StartedAt: base, FinishedAt: base.Add(time.Second), CandidateIndex: 1}
	f := branch.Snapshot{Score: 0.5, CostUSD: 0.1, StartedAt: base, FinishedAt: base.Add(2 * time.Second), CandidateIndex: 0}
	assert.True(t, Better(e, f), "equal score and cost: lower wall time should win")

	g := branch.Snapshot{Score: 0.5, CostUSD: 0.1, StartedAt: base, FinishedAt: base.Add(time.Second), CandidateIndex: 0}
	h := branch.Snapshot{Score: 0.5, CostUSD: 0.1, StartedAt: base, FinishedAt: base.Add(time.Second), CandidateIndex: 1}
	assert.True(t, Better(g, h), "fully tied: lower candidate index should win")
	assert.False(t, Better(h, g))
}

func TestMajority_PicksMostFrequentNormalizedOutput(t *testing.T) {
	snaps := []branch.Snapshot{
		{ID: "1", FinalOutput: "Hello World"},
		{ID: "2", FinalOutput: "hello   world"},
		{ID: "3", FinalOutput: "something else entirely"},
	}
	winner, ok := Majority(snaps)
	require.True(t, ok)
	assert.Equal(t, "1", winner.ID)
}

func TestMajority_EmptyInputReportsNotOK(t *testing.T) {
	_, ok := Majority(nil)
	assert.False(t, ok)
}

func TestNormalize_CollapsesWhitespaceAndCase(t *testing.T) {
	assert.Equal(t, "hello world", Normalize("  Hello   \n World\t"))
}
