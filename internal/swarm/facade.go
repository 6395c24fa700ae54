package swarm

import (
	"sort"
	"time"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// Facade operations: the public contract invoked by the local agent
// endpoint. Results are plain structs the RPC layer serializes verbatim.

// Status is the get_status result.
type Status struct {
	AgentID      protocol.AgentID `json:"agent_id"`
	Status       string           `json:"status"`
	Tier         string           `json:"tier"`
	Epoch        uint64           `json:"epoch"`
	ParentID     protocol.AgentID `json:"parent_id,omitempty"`
	ActiveTasks  int              `json:"active_tasks"`
	KnownAgents  int              `json:"known_agents"`
	ContentItems int              `json:"content_items"`
}

// GetStatus reports the node's own view of itself.
func (n *Node) GetStatus() Status {
	n.mu.RLock()
	tier := n.tier
	parent := n.parentID
	n.mu.RUnlock()

	return Status{
		AgentID:      n.identity.AgentID,
		Status:       "active",
		Tier:         tier.String(),
		Epoch:        n.replica.Epochs.CurrentEpoch(),
		ParentID:     parent,
		ActiveTasks:  n.replica.Tasks.ActiveCount(),
		KnownAgents:  n.replica.Agents.Len(),
		ContentItems: n.replica.Content.ItemCount(),
	}
}

// GetNetworkStats reports the hierarchy snapshot.
func (n *Node) GetNetworkStats() protocol.NetworkStats {
	n.mu.RLock()
	tier := n.tier
	parent := n.parentID
	n.mu.RUnlock()

	estimate := n.estimator.Estimate()
	return protocol.NetworkStats{
		TotalAgents:      estimate,
		HierarchyDepth:   n.allocator.ComputeDepth(estimate),
		BranchingFactor:  n.config.BranchingFactor,
		CurrentEpoch:     n.replica.Epochs.CurrentEpoch(),
		MyTier:           tier,
		SubordinateCount: len(n.subordinates()),
		ParentID:         parent,
	}
}

// HierarchyView is the get_hierarchy result.
type HierarchyView struct {
	Self            HierarchyPeer   `json:"self"`
	Peers           []HierarchyPeer `json:"peers"`
	TotalAgents     uint64          `json:"total_agents"`
	HierarchyDepth  int             `json:"hierarchy_depth"`
	BranchingFactor int             `json:"branching_factor"`
	Epoch           uint64          `json:"epoch"`
}

// HierarchyPeer is one agent's placement in the hierarchy view.
type HierarchyPeer struct {
	AgentID  protocol.AgentID `json:"agent_id"`
	Tier     string           `json:"tier"`
	ParentID protocol.AgentID `json:"parent_id,omitempty"`
}

// GetHierarchy reports the known hierarchy.
func (n *Node) GetHierarchy() HierarchyView {
	n.mu.RLock()
	self := HierarchyPeer{AgentID: n.identity.AgentID, Tier: n.tier.String(), ParentID: n.parentID}
	n.mu.RUnlock()

	var peers []HierarchyPeer
	for _, rec := range n.replica.Agents.All() {
		if rec.Profile.AgentID == n.identity.AgentID {
			continue
		}
		peers = append(peers, HierarchyPeer{
			AgentID:  rec.Profile.AgentID,
			Tier:     rec.Tier.String(),
			ParentID: rec.ParentID,
		})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].AgentID < peers[j].AgentID })

	estimate := n.estimator.Estimate()
	return HierarchyView{
		Self:            self,
		Peers:           peers,
		TotalAgents:     estimate,
		HierarchyDepth:  n.allocator.ComputeDepth(estimate),
		BranchingFactor: n.config.BranchingFactor,
		Epoch:           n.replica.Epochs.CurrentEpoch(),
	}
}

// PendingTasks is the receive_task result.
type PendingTasks struct {
	PendingTasks []*protocol.Task `json:"pending_tasks"`
	AgentID      protocol.AgentID `json:"agent_id"`
	Tier         string           `json:"tier"`
}

// ReceiveTask returns the tasks awaiting the local agent: pending tasks
// assigned to this node or not yet assigned to anyone, at any tier, oldest
// first.
func (n *Node) ReceiveTask() PendingTasks {
	n.mu.RLock()
	tier := n.tier
	n.mu.RUnlock()

	var out []*protocol.Task
	for _, task := range n.replica.Tasks.Pending() {
		if task.Status != protocol.StatusPending {
			continue
		}
		if task.AssignedTo == n.identity.AgentID || task.AssignedTo == "" {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return PendingTasks{PendingTasks: out, AgentID: n.identity.AgentID, Tier: tier.String()}
}

// TaskView is the get_task result.
type TaskView struct {
	Task      *protocol.Task `json:"task"`
	IsPending bool           `json:"is_pending"`
}

// GetTask looks up one task.
func (n *Node) GetTask(taskID string) (*TaskView, error) {
	task, ok := n.replica.Tasks.Get(taskID)
	if !ok {
		return nil, protocol.NewError(protocol.KindTaskNotFound, "task %s", taskID)
	}
	return &TaskView{Task: task, IsPending: task.Status == protocol.StatusPending}, nil
}

// InjectedTask is the inject_task result.
type InjectedTask struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
	Epoch       uint64 `json:"epoch"`
	Injected    bool   `json:"injected"`
}

// InjectTask creates a Tier-1 task, records it, and announces it on the
// tier-1 task channel. When this node has tier peers it opens the RFP
// immediately; a lone node leaves the task pending for its local agent.
func (n *Node) InjectTask(description string) (*InjectedTask, error) {
	epoch := n.replica.Epochs.CurrentEpoch()
	task := protocol.NewTask(description, 1, epoch)
	if err := n.replica.Tasks.Put(task); err != nil {
		return nil, err
	}

	n.publish(protocol.TopicTasks(n.config.SwarmID, 1), protocol.MethodTaskInjection, protocol.TaskInjectionParams{
		Task:       *task,
		Originator: n.identity.AgentID,
	})

	if peers := n.peersAtTier(); len(peers) > 0 {
		// Self plus the tier peers are the expected proposers.
		if err := n.engine.OpenRFP(task.TaskID, epoch, len(peers)+1); err != nil {
			return nil, err
		}
	}
	return &InjectedTask{
		TaskID:      task.TaskID,
		Description: description,
		Epoch:       epoch,
		Injected:    true,
	}, nil
}

// ProposedPlan is the propose_plan result.
type ProposedPlan struct {
	PlanID          string `json:"plan_id"`
	PlanHash        string `json:"plan_hash"`
	TaskID          string `json:"task_id"`
	Accepted        bool   `json:"accepted"`
	CommitPublished bool   `json:"commit_published"`
	RevealPublished bool   `json:"reveal_published"`
}

// ProposePlan submits the local agent's decomposition plan for a task: the
// commit is published first, then the reveal, and both are fed through the
// local engine so this replica participates in its own round. Executors may
// not propose; a second proposal for the same task is a duplicate.
func (n *Node) ProposePlan(plan *protocol.Plan) (*ProposedPlan, error) {
	n.mu.RLock()
	tier := n.tier
	n.mu.RUnlock()
	if tier.Executor {
		return nil, protocol.NewError(protocol.KindInvalidRequest, "executors do not propose plans")
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if plan.Proposer == "" {
		plan.Proposer = n.identity.AgentID
	}
	if plan.Epoch == 0 {
		plan.Epoch = n.replica.Epochs.CurrentEpoch()
	}

	hash, err := plan.Hash()
	if err != nil {
		return nil, err
	}
	commit := &protocol.ProposalCommitParams{
		TaskID:   plan.TaskID,
		Proposer: plan.Proposer,
		Epoch:    plan.Epoch,
		PlanHash: hash,
	}
	if err := n.engine.HandleCommit(commit); err != nil {
		return nil, err
	}
	n.publish(protocol.TopicProposals(n.config.SwarmID, plan.TaskID), protocol.MethodProposalCommit, commit)

	reveal := &protocol.ProposalRevealParams{TaskID: plan.TaskID, Plan: *plan}
	revealPublished := false
	if err := n.engine.HandleReveal(reveal); err == nil {
		n.publish(protocol.TopicProposals(n.config.SwarmID, plan.TaskID), protocol.MethodProposalReveal, reveal)
		revealPublished = true
	} else {
		// Still collecting commits; the consensus tick retries the reveal
		// once the commit phase closes.
		n.mu.Lock()
		n.pendingReveals[plan.TaskID] = reveal
		n.mu.Unlock()
	}

	return &ProposedPlan{
		PlanID:          plan.PlanID,
		PlanHash:        hash,
		TaskID:          plan.TaskID,
		Accepted:        true,
		CommitPublished: true,
		RevealPublished: revealPublished,
	}, nil
}

// SubmittedResult is the submit_result result.
type SubmittedResult struct {
	TaskID     string `json:"task_id"`
	ArtifactID string `json:"artifact_id"`
	Accepted   bool   `json:"accepted"`
}

// SubmitResult records the local agent's artifact for a task. Content is
// stored content-addressed and provided; the result is verified locally
// (the fast path for a task this node coordinates) and published on the
// task's results channel for the coordinator above.
func (n *Node) SubmitResult(params *protocol.ResultSubmissionParams, content []byte) (*SubmittedResult, error) {
	if _, ok := n.replica.Tasks.Get(params.TaskID); !ok {
		return nil, protocol.NewError(protocol.KindTaskNotFound, "task %s", params.TaskID)
	}
	if params.AgentID == "" {
		params.AgentID = n.identity.AgentID
	}

	if len(content) > 0 {
		cid, err := n.replica.Content.PutTyped(content, params.Artifact.ContentType)
		if err != nil {
			return nil, err
		}
		if cid != params.Artifact.ContentCID {
			return nil, protocol.NewError(protocol.KindResultRejected,
				"content hashes to %s, artifact claims %s", cid, params.Artifact.ContentCID)
		}
		if err := n.replica.Content.Provide(cid); err != nil {
			return nil, err
		}
	}

	accepted := true
	if _, isParent := n.engine.Cascade().ParentOf(params.TaskID); isParent {
		verdict, branchHash, err := n.engine.HandleResult(params)
		if err != nil {
			return nil, err
		}
		accepted = verdict.Accepted
		if !accepted {
			return nil, protocol.NewError(protocol.KindResultRejected, "%s", verdict.Reason)
		}
		if branchHash != "" {
			if parentID, ok := n.engine.Cascade().ParentOf(params.TaskID); ok {
				n.propagateBranch(parentID, branchHash)
			}
		}
	} else {
		// A leaf or lone-node task completes directly.
		if err := n.engine.CompleteDirect(params.TaskID, &params.Artifact); err != nil {
			return nil, err
		}
	}

	n.publish(protocol.TopicResults(n.config.SwarmID, params.TaskID), protocol.MethodResultSubmission, params)

	return &SubmittedResult{
		TaskID:     params.TaskID,
		ArtifactID: params.Artifact.ArtifactID,
		Accepted:   accepted,
	}, nil
}

// Connect dials a peer, performs the handshake, and registers it.
func (n *Node) Connect(addr string) error {
	// A placeholder ID registers the connection until the peer's first
	// frame identifies it.
	var placeholder NodeID
	copy(placeholder[:], []byte(addr))
	if err := n.transport.Connect(addr, placeholder); err != nil {
		return err
	}

	pow := protocol.SolvePoW([]byte(n.transport.selfInfo().PubKey), n.config.PoWDifficulty)
	params := protocol.HandshakeParams{
		AgentID:         n.identity.AgentID,
		PubKey:          n.transport.selfInfo().PubKey,
		Capabilities:    n.config.Capabilities,
		ProofOfWork:     pow,
		ProtocolVersion: protocol.ProtocolVersion,
		SwarmID:         n.config.SwarmID,
	}
	env, err := protocol.NewRequest(protocol.MethodHandshake, params, n.identity.Private)
	if err != nil {
		return err
	}
	return n.transport.Send(placeholder, &Frame{Envelope: env})
}

// ListSwarms returns the known swarm records.
func (n *Node) ListSwarms() []*protocol.SwarmInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*protocol.SwarmInfo, 0, len(n.swarms))
	for _, info := range n.swarms {
		clone := *info
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SwarmID < out[j].SwarmID })
	return out
}

// CreateSwarm creates a swarm and announces it on the discovery channel.
// With a secret the swarm is private and joined with a passphrase-derived
// token; with an empty secret it is public and the token is empty. Returns
// the record and the token to share with invited agents.
func (n *Node) CreateSwarm(name, description, secret string) (*protocol.SwarmInfo, string, error) {
	if name == "" {
		return nil, "", protocol.NewError(protocol.KindInvalidParams, "swarm name required")
	}
	info := protocol.NewPrivateSwarm(name, n.identity.AgentID, description)
	token := ""
	if secret != "" {
		token = protocol.DeriveSwarmToken(info.SwarmID, secret)
	} else {
		info.IsPublic = true
	}

	n.mu.Lock()
	n.swarms[info.SwarmID] = info
	if secret != "" {
		n.swarmSecrets[info.SwarmID] = secret
	}
	n.mu.Unlock()

	n.publish(protocol.TopicSwarmDiscovery(), protocol.MethodSwarmAnnounce, protocol.SwarmAnnounceParams{
		SwarmID:     info.SwarmID,
		Name:        info.Name,
		IsPublic:    info.IsPublic,
		AgentID:     n.identity.AgentID,
		AgentCount:  1,
		Description: description,
		Timestamp:   time.Now().UTC(),
	})
	clone := *info
	return &clone, token, nil
}

// JoinSwarm requests membership in a known swarm. Private swarms require
// the join token; a missing or wrong token is rejected immediately when
// this node knows the secret, otherwise the join request travels to the
// swarm and is answered asynchronously.
func (n *Node) JoinSwarm(swarmID, token string) (*protocol.SwarmInfo, error) {
	n.mu.RLock()
	info, known := n.swarms[swarmID]
	secret, haveSecret := n.swarmSecrets[swarmID]
	n.mu.RUnlock()

	if !known {
		return nil, protocol.NewError(protocol.KindInvalidParams, "unknown swarm %s", swarmID)
	}
	if !info.IsPublic {
		if token == "" {
			return nil, protocol.NewError(protocol.KindInvalidSignature, "token required for private swarm")
		}
		if haveSecret && !protocol.VerifySwarmToken(token, swarmID, secret) {
			return nil, protocol.NewError(protocol.KindInvalidSignature, "invalid swarm token")
		}
	}

	n.publish(protocol.TopicSwarmAnnounce(swarmID), protocol.MethodSwarmJoin, protocol.SwarmJoinParams{
		SwarmID:   swarmID,
		AgentID:   n.identity.AgentID,
		Token:     token,
		Timestamp: time.Now().UTC(),
	})
	clone := *info
	return &clone, nil
}

// CurrentEpoch returns the locally registered epoch number.
func (n *Node) CurrentEpoch() uint64 {
	return n.replica.Epochs.CurrentEpoch()
}

// AgentID returns this node's DID.
func (n *Node) AgentID() protocol.AgentID {
	return n.identity.AgentID
}

// Addr returns the transport listen address.
func (n *Node) Addr() string {
	return n.transport.Addr()
}
