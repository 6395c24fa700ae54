package consensus

import (
	"testing"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

func TestOptimalSubtaskCount(t *testing.T) {
	cases := []struct {
		n    uint64
		k    int
		want int
	}{
		{1000, 10, 10},
		{50, 10, 5},
		{5, 10, 1},
		{0, 10, 1},
	}
	for _, tc := range cases {
		if got := OptimalSubtaskCount(tc.n, tc.k); got != tc.want {
			t.Errorf("count(%d, %d) = %d, want %d", tc.n, tc.k, got, tc.want)
		}
	}
}

func TestSelectStrategy(t *testing.T) {
	cases := []struct {
		n      uint64
		atomic bool
		want   Strategy
	}{
		{1000, false, StrategyMassiveParallelism},
		{50, false, StrategyStandardDecomposition},
		{8, false, StrategyDirectAssignment},
		{50, true, StrategyRedundantExecution},
		{1, true, StrategyDirectAssignment},
	}
	for _, tc := range cases {
		if got := SelectStrategy(tc.n, 10, tc.atomic); got != tc.want {
			t.Errorf("strategy(%d, atomic=%v) = %s, want %s", tc.n, tc.atomic, got, tc.want)
		}
	}
}

func TestRedundantExecutionCount(t *testing.T) {
	if got := RedundantExecutionCount(100, 10); got != 10 {
		t.Fatalf("count = %d, want 10", got)
	}
	if got := RedundantExecutionCount(3, 10); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
	if got := RedundantExecutionCount(0, 10); got != 1 {
		t.Fatalf("count = %d, want floor 1", got)
	}
}

func TestSuggestedParallelism(t *testing.T) {
	// Forced deeper recursion surfaces as parallelism pressure, not as a
	// hard field: massive branches suggest k.
	if got := SuggestedParallelism(StrategyMassiveParallelism, 4, 10); got != 10 {
		t.Fatalf("massive parallelism = %v, want k", got)
	}
	if got := SuggestedParallelism(StrategyStandardDecomposition, 4, 10); got != 4 {
		t.Fatalf("standard = %v, want subtask count", got)
	}
	if got := SuggestedParallelism(StrategyRedundantExecution, 4, 10); got != 1 {
		t.Fatalf("redundant = %v, want 1", got)
	}
}

func TestDecomposable(t *testing.T) {
	if Decomposable(protocol.TierExecutor, 5) {
		t.Fatal("executors never decompose")
	}
	if Decomposable(protocol.Tier2, 0) {
		t.Fatal("a coordinator with no peers executes directly")
	}
	if !Decomposable(protocol.Tier2, 3) {
		t.Fatal("a coordinator with peers re-enters the rfp")
	}
}
