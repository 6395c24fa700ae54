package protocol

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Tier is a level in the pyramid hierarchy. Tier-1 nodes are the top-level
// orchestrators; Executor marks leaves regardless of depth.
type Tier struct {
	// Level is 1 for Tier-1, 2 for Tier-2, n for deeper coordinator tiers.
	// Zero when Executor is set.
	Level int `json:"level,omitempty"`
	// Executor marks a leaf agent.
	Executor bool `json:"executor,omitempty"`
}

// Tier constructors for the fixed variants.
var (
	Tier1        = Tier{Level: 1}
	Tier2        = Tier{Level: 2}
	TierExecutor = Tier{Executor: true}
)

// TierN returns the coordinator tier at depth n (n >= 3).
func TierN(n int) Tier { return Tier{Level: n} }

// Depth returns the normalized depth value used for comparisons. Executors
// sort below every coordinator tier.
func (t Tier) Depth() int {
	if t.Executor {
		return math.MaxInt32
	}
	return t.Level
}

func (t Tier) String() string {
	if t.Executor {
		return "Executor"
	}
	return fmt.Sprintf("Tier%d", t.Level)
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending       TaskStatus = "Pending"
	StatusProposalPhase TaskStatus = "ProposalPhase"
	StatusVotingPhase   TaskStatus = "VotingPhase"
	StatusInProgress    TaskStatus = "InProgress"
	StatusCompleted     TaskStatus = "Completed"
	StatusFailed        TaskStatus = "Failed"
	StatusRejected      TaskStatus = "Rejected"
)

// Terminal reports whether the status is a sticky end state.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRejected
}

// Rank orders statuses along the lifecycle so replicas can merge concurrent
// updates deterministically: a later phase always wins over an earlier one,
// and terminal states win over everything.
func (s TaskStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProposalPhase:
		return 1
	case StatusVotingPhase:
		return 2
	case StatusInProgress:
		return 3
	case StatusCompleted, StatusFailed, StatusRejected:
		return 4
	default:
		return -1
	}
}

// Task is a unit of work in the swarm hierarchy.
type Task struct {
	TaskID        string     `json:"task_id"`
	ParentTaskID  string     `json:"parent_task_id,omitempty"`
	Epoch         uint64     `json:"epoch"`
	Status        TaskStatus `json:"status"`
	Description   string     `json:"description"`
	AssignedTo    AgentID    `json:"assigned_to,omitempty"`
	TierLevel     int        `json:"tier_level"`
	Subtasks      []string   `json:"subtasks"`
	WinningPlanID string     `json:"winning_plan_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	Deadline      *time.Time `json:"deadline,omitempty"`
}

// NewTask creates a pending task with a fresh UUID.
func NewTask(description string, tierLevel int, epoch uint64) *Task {
	return &Task{
		TaskID:      uuid.NewString(),
		Epoch:       epoch,
		Status:      StatusPending,
		Description: description,
		TierLevel:   tierLevel,
		Subtasks:    []string{},
		CreatedAt:   time.Now().UTC(),
	}
}

// PlanSubtask is one slice of a decomposition plan.
type PlanSubtask struct {
	Index                int      `json:"index"`
	Description          string   `json:"description"`
	RequiredCapabilities []string `json:"required_capabilities"`
	EstimatedComplexity  float64  `json:"estimated_complexity"`
}

// Plan is a task-decomposition proposal. A plan is immutable after reveal;
// its canonical-JSON hash is the commit published during the RFP.
type Plan struct {
	PlanID               string        `json:"plan_id"`
	TaskID               string        `json:"task_id"`
	Proposer             AgentID       `json:"proposer"`
	Epoch                uint64        `json:"epoch"`
	Subtasks             []PlanSubtask `json:"subtasks"`
	Rationale            string        `json:"rationale"`
	EstimatedParallelism float64       `json:"estimated_parallelism"`
	CreatedAt            time.Time     `json:"created_at"`
}

// NewPlan creates an empty plan for a task with a fresh UUID.
func NewPlan(taskID string, proposer AgentID, epoch uint64) *Plan {
	return &Plan{
		PlanID:               uuid.NewString(),
		TaskID:               taskID,
		Proposer:             proposer,
		Epoch:                epoch,
		Subtasks:             []PlanSubtask{},
		EstimatedParallelism: 1.0,
		CreatedAt:            time.Now().UTC(),
	}
}

// Validate checks the plan's structural invariant: subtask indexes form
// 0..k-1 without gaps.
func (p *Plan) Validate() error {
	for i, st := range p.Subtasks {
		if st.Index != i {
			return NewError(KindInvalidParams, "plan %s: subtask index %d at position %d", p.PlanID, st.Index, i)
		}
	}
	return nil
}

// Hash returns the plan's commit hash: hex(SHA-256(canonical_json(plan))).
func (p *Plan) Hash() (string, error) {
	return CanonicalHash(p)
}

// Artifact is an immutable, content-addressed execution result.
type Artifact struct {
	ArtifactID  string    `json:"artifact_id"`
	TaskID      string    `json:"task_id"`
	Producer    AgentID   `json:"producer"`
	ContentCID  string    `json:"content_cid"`
	MerkleHash  string    `json:"merkle_hash"`
	ContentType string    `json:"content_type"`
	SizeBytes   uint64    `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewArtifact builds a leaf artifact for content. At leaves the Merkle hash
// equals the content CID.
func NewArtifact(taskID string, producer AgentID, content []byte, contentType string) *Artifact {
	cid := ComputeCID(content)
	return &Artifact{
		ArtifactID:  uuid.NewString(),
		TaskID:      taskID,
		Producer:    producer,
		ContentCID:  cid,
		MerkleHash:  cid,
		ContentType: contentType,
		SizeBytes:   uint64(len(content)),
		CreatedAt:   time.Now().UTC(),
	}
}

// CriticScore is a voter's evaluation of a plan, used for IRV tie-breaks.
type CriticScore struct {
	Feasibility  float64 `json:"feasibility"`
	Parallelism  float64 `json:"parallelism"`
	Completeness float64 `json:"completeness"`
	Risk         float64 `json:"risk"`
}

// Aggregate computes the weighted critic aggregate:
// 0.30·feas + 0.30·comp + 0.25·par + 0.15·(1−risk).
func (c CriticScore) Aggregate() float64 {
	return 0.30*c.Feasibility + 0.30*c.Completeness + 0.25*c.Parallelism + 0.15*(1.0-c.Risk)
}

// RankedVote is a ranked-choice ballot over plan IDs.
type RankedVote struct {
	Voter        AgentID                `json:"voter"`
	TaskID       string                 `json:"task_id"`
	Epoch        uint64                 `json:"epoch"`
	Rankings     []string               `json:"rankings"`
	CriticScores map[string]CriticScore `json:"critic_scores"`
}

// EpochInfo is the epoch metadata held by the last-writer-wins register.
type EpochInfo struct {
	EpochNumber        uint64    `json:"epoch_number"`
	StartedAt          time.Time `json:"started_at"`
	DurationSecs       uint64    `json:"duration_secs"`
	Tier1Leaders       []AgentID `json:"tier1_leaders"`
	EstimatedSwarmSize uint64    `json:"estimated_swarm_size"`
}

// NetworkStats is the hierarchy snapshot observable by any agent.
type NetworkStats struct {
	TotalAgents      uint64  `json:"total_agents"`
	HierarchyDepth   int     `json:"hierarchy_depth"`
	BranchingFactor  int     `json:"branching_factor"`
	CurrentEpoch     uint64  `json:"current_epoch"`
	MyTier           Tier    `json:"my_tier"`
	SubordinateCount int     `json:"subordinate_count"`
	ParentID         AgentID `json:"parent_id,omitempty"`
}

// ProofOfWork is the entry proof submitted during handshake.
type ProofOfWork struct {
	Nonce      uint64 `json:"nonce"`
	Hash       string `json:"hash"`
	Difficulty int    `json:"difficulty"`
}

// SwarmInfo describes a swarm, stored in the DHT and tracked locally.
type SwarmInfo struct {
	SwarmID     string    `json:"swarm_id"`
	Name        string    `json:"name"`
	IsPublic    bool      `json:"is_public"`
	AgentCount  uint64    `json:"agent_count"`
	Creator     AgentID   `json:"creator"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description"`
}

// NewPublicSwarm returns the default public swarm record.
func NewPublicSwarm(creator AgentID) *SwarmInfo {
	return &SwarmInfo{
		SwarmID:     DefaultSwarmID,
		Name:        DefaultSwarmName,
		IsPublic:    true,
		AgentCount:  1,
		Creator:     creator,
		CreatedAt:   time.Now().UTC(),
		Description: "Default public swarm - open to all agents",
	}
}

// NewPrivateSwarm returns a fresh private swarm record with a generated ID.
func NewPrivateSwarm(name string, creator AgentID, description string) *SwarmInfo {
	return &SwarmInfo{
		SwarmID:     uuid.NewString(),
		Name:        name,
		IsPublic:    false,
		AgentCount:  1,
		Creator:     creator,
		CreatedAt:   time.Now().UTC(),
		Description: description,
	}
}
