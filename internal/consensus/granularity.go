package consensus

import "github.com/ssd-technologies/openswarm/internal/protocol"

// Strategy is how a coordinator should decompose a task at its tier.
type Strategy string

const (
	// StrategyMassiveParallelism: N_branch > k², fan out across many
	// coordinators; proposers raise estimated_parallelism so critics favor
	// deeper decomposition.
	StrategyMassiveParallelism Strategy = "MassiveParallelism"
	// StrategyStandardDecomposition: k < N_branch <= k², recurse normally.
	StrategyStandardDecomposition Strategy = "StandardDecomposition"
	// StrategyDirectAssignment: N_branch <= k, hand subtasks straight to
	// executors.
	StrategyDirectAssignment Strategy = "DirectAssignment"
	// StrategyRedundantExecution: atomic task with multiple agents; run it
	// on several executors and take the majority result.
	StrategyRedundantExecution Strategy = "RedundantExecution"
)

// OptimalSubtaskCount targets S ≈ min(k, max(1, N_branch/k)) subtasks.
func OptimalSubtaskCount(nBranch uint64, k int) int {
	if k <= 0 {
		return 1
	}
	raw := int(nBranch) / k
	if raw < 1 {
		raw = 1
	}
	if raw > k {
		raw = k
	}
	return raw
}

// SelectStrategy picks the decomposition strategy for a branch.
func SelectStrategy(nBranch uint64, k int, isAtomic bool) Strategy {
	if isAtomic {
		if nBranch > 1 {
			return StrategyRedundantExecution
		}
		return StrategyDirectAssignment
	}
	kk := uint64(k) * uint64(k)
	switch {
	case nBranch > kk:
		return StrategyMassiveParallelism
	case nBranch > uint64(k):
		return StrategyStandardDecomposition
	default:
		return StrategyDirectAssignment
	}
}

// RedundantExecutionCount is how many executors redundantly run an atomic
// task: min(N_branch, k), floor 1.
func RedundantExecutionCount(nBranch uint64, k int) int {
	n := int(nBranch)
	if n > k {
		n = k
	}
	if n < 1 {
		n = 1
	}
	return n
}

// SuggestedParallelism encodes the decomposition pressure into a plan's
// estimated_parallelism: MassiveParallelism pushes toward k, direct
// assignment toward the subtask count itself.
func SuggestedParallelism(strategy Strategy, subtaskCount, k int) float64 {
	switch strategy {
	case StrategyMassiveParallelism:
		return float64(k)
	case StrategyStandardDecomposition:
		return float64(subtaskCount)
	case StrategyRedundantExecution:
		return 1.0
	default:
		return float64(subtaskCount)
	}
}

// Decomposable reports whether a coordinator at the given tier with the
// given peers should open an RFP for an assigned subtask (per the cascade
// rule) instead of executing it directly.
func Decomposable(tier protocol.Tier, peerCount int) bool {
	return !tier.Executor && peerCount > 0
}
