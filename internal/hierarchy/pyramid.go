package hierarchy

import (
	"math"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// PyramidConfig parameterizes the pyramid allocator.
type PyramidConfig struct {
	// BranchingFactor is k: each coordinator oversees at most k subordinates.
	BranchingFactor int
	// MaxDepth caps the hierarchy depth.
	MaxDepth int
}

// DefaultPyramidConfig returns the protocol defaults (k=10, depth cap 10).
func DefaultPyramidConfig() PyramidConfig {
	return PyramidConfig{
		BranchingFactor: protocol.DefaultBranchingFactor,
		MaxDepth:        protocol.DefaultMaxHierarchyDepth,
	}
}

// Layout is the computed pyramid structure for a swarm size.
type Layout struct {
	// Depth is the number of tiers.
	Depth int
	// Tier1Count is the number of Tier-1 leaders.
	Tier1Count int
	// AgentsPerTier holds the agent count at each tier (index 0 = Tier-1).
	AgentsPerTier   []uint64
	SwarmSize       uint64
	BranchingFactor int
}

// Allocator computes pyramid layouts and tier assignments.
type Allocator struct {
	config PyramidConfig
}

// NewAllocator creates an allocator with the given configuration.
func NewAllocator(config PyramidConfig) *Allocator {
	if config.BranchingFactor <= 1 {
		config.BranchingFactor = protocol.DefaultBranchingFactor
	}
	if config.MaxDepth <= 0 {
		config.MaxDepth = protocol.DefaultMaxHierarchyDepth
	}
	return &Allocator{config: config}
}

// ComputeDepth returns D = ceil(log_k(N)) clamped to [1, MaxDepth]. A swarm
// of one has depth 1; a swarm of zero has depth 0.
func (a *Allocator) ComputeDepth(swarmSize uint64) int {
	if swarmSize == 0 {
		return 0
	}
	if swarmSize <= 1 {
		return 1
	}
	k := float64(a.config.BranchingFactor)
	depth := int(math.Ceil(math.Log(float64(swarmSize)) / math.Log(k)))
	if depth < 1 {
		depth = 1
	}
	if depth > a.config.MaxDepth {
		depth = a.config.MaxDepth
	}
	return depth
}

// ComputeLayout distributes N agents across tiers. Tier-1 holds min(k, N)
// leaders; each intermediate tier holds k times the tier above, capped by
// what remains; the bottom tier takes the rest.
func (a *Allocator) ComputeLayout(swarmSize uint64) Layout {
	depth := a.ComputeDepth(swarmSize)
	layout := Layout{
		Depth:           depth,
		SwarmSize:       swarmSize,
		BranchingFactor: a.config.BranchingFactor,
	}
	if depth == 0 {
		return layout
	}
	if depth == 1 {
		layout.Tier1Count = int(swarmSize)
		layout.AgentsPerTier = []uint64{swarmSize}
		return layout
	}

	k := uint64(a.config.BranchingFactor)
	remaining := swarmSize

	tier1 := k
	if swarmSize < k {
		tier1 = swarmSize
	}
	layout.Tier1Count = int(tier1)
	layout.AgentsPerTier = append(layout.AgentsPerTier, tier1)
	remaining -= tier1

	for i := 1; i < depth-1; i++ {
		ideal := layout.AgentsPerTier[i-1] * k
		count := ideal
		if count > remaining {
			count = remaining
		}
		layout.AgentsPerTier = append(layout.AgentsPerTier, count)
		remaining -= count
	}

	layout.AgentsPerTier = append(layout.AgentsPerTier, remaining)
	return layout
}

// AssignTier places an agent by rank (0 = highest composite score) into a
// tier of the layout. The bottom tier is always Executor; a single-tier
// layout means everyone executes directly.
func (a *Allocator) AssignTier(rank int, layout Layout) protocol.Tier {
	if len(layout.AgentsPerTier) == 0 {
		return protocol.TierExecutor
	}
	if len(layout.AgentsPerTier) == 1 {
		return protocol.TierExecutor
	}
	lastIdx := len(layout.AgentsPerTier) - 1
	cumulative := uint64(0)
	for tierIdx, count := range layout.AgentsPerTier {
		cumulative += count
		if uint64(rank) < cumulative {
			if tierIdx == lastIdx {
				return protocol.TierExecutor
			}
			return protocol.Tier{Level: tierIdx + 1}
		}
	}
	return protocol.TierExecutor
}

// ParentIndex returns the branch index of an agent within its tier: agents
// are grouped into branches of size k, each overseen by one agent in the
// tier above.
func (a *Allocator) ParentIndex(rankInTier int) int {
	return rankInTier / a.config.BranchingFactor
}

// BranchingFactor returns k.
func (a *Allocator) BranchingFactor() int {
	return a.config.BranchingFactor
}
