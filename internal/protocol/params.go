package protocol

import "time"

// Payload structs for each protocol method. Field names match the wire
// format; every payload that participates in an epoch window carries the
// epoch it was minted in.

// HandshakeParams is sent when two peers connect.
type HandshakeParams struct {
	AgentID         AgentID            `json:"agent_id"`
	PubKey          string             `json:"pub_key"`
	Capabilities    []string           `json:"capabilities"`
	Resources       AgentResources     `json:"resources"`
	LocationVector  VivaldiCoordinates `json:"location_vector"`
	ProofOfWork     ProofOfWork        `json:"proof_of_work"`
	ProtocolVersion string             `json:"protocol_version"`
	SwarmID         string             `json:"swarm_id"`
}

// CandidacyParams announces a Tier-1 candidacy on election/tier1.
type CandidacyParams struct {
	AgentID        AgentID            `json:"agent_id"`
	Epoch          uint64             `json:"epoch"`
	Score          NodeScore          `json:"score"`
	LocationVector VivaldiCoordinates `json:"location_vector"`
}

// ElectionVoteParams is a ranked ballot over Tier-1 candidates.
type ElectionVoteParams struct {
	Voter             AgentID   `json:"voter"`
	Epoch             uint64    `json:"epoch"`
	CandidateRankings []AgentID `json:"candidate_rankings"`
}

// TierAssignmentParams assigns a tier to a subordinate (request/response).
type TierAssignmentParams struct {
	AssignedAgent AgentID `json:"assigned_agent"`
	Tier          Tier    `json:"tier"`
	ParentID      AgentID `json:"parent_id"`
	Epoch         uint64  `json:"epoch"`
	BranchSize    uint64  `json:"branch_size"`
}

// TaskInjectionParams announces an externally injected task.
type TaskInjectionParams struct {
	Task       Task    `json:"task"`
	Originator AgentID `json:"originator"`
}

// ProposalCommitParams is the commit half of the RFP: hash only.
type ProposalCommitParams struct {
	TaskID   string  `json:"task_id"`
	Proposer AgentID `json:"proposer"`
	Epoch    uint64  `json:"epoch"`
	PlanHash string  `json:"plan_hash"`
}

// ProposalRevealParams is the reveal half: the full plan.
type ProposalRevealParams struct {
	TaskID string `json:"task_id"`
	Plan   Plan   `json:"plan"`
}

// TaskAssignmentParams hands a subtask to a subordinate (request/response).
type TaskAssignmentParams struct {
	Task          Task    `json:"task"`
	Assignee      AgentID `json:"assignee"`
	ParentTaskID  string  `json:"parent_task_id"`
	WinningPlanID string  `json:"winning_plan_id"`
}

// ResultSubmissionParams carries an executor's artifact and its Merkle proof.
type ResultSubmissionParams struct {
	TaskID      string   `json:"task_id"`
	AgentID     AgentID  `json:"agent_id"`
	Artifact    Artifact `json:"artifact"`
	MerkleProof []string `json:"merkle_proof"`
}

// VerificationResultParams is the coordinator's accept/reject verdict.
type VerificationResultParams struct {
	TaskID   string  `json:"task_id"`
	AgentID  AgentID `json:"agent_id"`
	Accepted bool    `json:"accepted"`
	Reason   string  `json:"reason,omitempty"`
}

// KeepAliveParams is the periodic leader heartbeat. Seq preserves causal
// order within a sender; Delta optionally piggybacks an anti-entropy delta.
type KeepAliveParams struct {
	AgentID   AgentID   `json:"agent_id"`
	Epoch     uint64    `json:"epoch"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Delta     []byte    `json:"delta,omitempty"`
}

// SuccessionParams announces a leader replacement.
type SuccessionParams struct {
	FailedLeader AgentID   `json:"failed_leader"`
	NewLeader    AgentID   `json:"new_leader"`
	Epoch        uint64    `json:"epoch"`
	BranchAgents []AgentID `json:"branch_agents"`
}

// SwarmAnnounceParams advertises a swarm on the discovery topic.
type SwarmAnnounceParams struct {
	SwarmID     string    `json:"swarm_id"`
	Name        string    `json:"name"`
	IsPublic    bool      `json:"is_public"`
	AgentID     AgentID   `json:"agent_id"`
	AgentCount  uint64    `json:"agent_count"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// SwarmJoinParams requests membership in a swarm. Token is required for
// private swarms.
type SwarmJoinParams struct {
	SwarmID   string    `json:"swarm_id"`
	AgentID   AgentID   `json:"agent_id"`
	Token     string    `json:"token,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SwarmJoinResponseParams answers a join request.
type SwarmJoinResponseParams struct {
	SwarmID  string  `json:"swarm_id"`
	AgentID  AgentID `json:"agent_id"`
	Accepted bool    `json:"accepted"`
	Reason   string  `json:"reason,omitempty"`
}

// SwarmLeaveParams notifies departure from a swarm.
type SwarmLeaveParams struct {
	SwarmID   string    `json:"swarm_id"`
	AgentID   AgentID   `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ProvideParams advertises content residency for a CID.
type ProvideParams struct {
	CID     string  `json:"cid"`
	AgentID AgentID `json:"agent_id"`
}

// AntiEntropyParams carries a CRDT snapshot or delta between replicas.
type AntiEntropyParams struct {
	AgentID AgentID `json:"agent_id"`
	Epoch   uint64  `json:"epoch"`
	// Full marks a full-state exchange as opposed to a bounded delta.
	Full     bool   `json:"full"`
	Snapshot []byte `json:"snapshot"`
}
