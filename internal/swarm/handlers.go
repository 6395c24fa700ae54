package swarm

import (
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/openswarm/internal/hierarchy"
	"github.com/ssd-technologies/openswarm/internal/protocol"
	"github.com/ssd-technologies/openswarm/internal/state"
)

// registerHandlers wires every protocol method to its subsystem.
func (n *Node) registerHandlers() {
	n.router.Handle(protocol.MethodHandshake, n.onHandshake)
	n.router.Handle(protocol.MethodKeepAlive, n.onKeepAlive)
	n.router.Handle(protocol.MethodAntiEntropy, n.onAntiEntropy)
	n.router.Handle(protocol.MethodTaskInjection, n.onTaskInjection)
	n.router.Handle(protocol.MethodProposalCommit, n.onProposalCommit)
	n.router.Handle(protocol.MethodProposalReveal, n.onProposalReveal)
	n.router.Handle(protocol.MethodConsensusVote, n.onConsensusVote)
	n.router.Handle(protocol.MethodTaskAssignment, n.onTaskAssignment)
	n.router.Handle(protocol.MethodResultSubmission, n.onResultSubmission)
	n.router.Handle(protocol.MethodVerificationResult, n.onVerificationResult)
	n.router.Handle(protocol.MethodCandidacy, n.onCandidacy)
	n.router.Handle(protocol.MethodElectionVote, n.onElectionVote)
	n.router.Handle(protocol.MethodTierAssignment, n.onTierAssignment)
	n.router.Handle(protocol.MethodSuccession, n.onSuccession)
	n.router.Handle(protocol.MethodSwarmAnnounce, n.onSwarmAnnounce)
	n.router.Handle(protocol.MethodSwarmJoin, n.onSwarmJoin)
	n.router.Handle(protocol.MethodSwarmLeave, n.onSwarmLeave)
	n.router.Handle(protocol.MethodProvide, n.onProvide)
	n.router.Handle(protocol.MethodAgentKeepAlive, func(*protocol.Envelope, SenderInfo) error { return nil })
	n.router.Handle(protocol.MethodSwarmJoinResponse, func(*protocol.Envelope, SenderInfo) error { return nil })
}

// onHandshake admits a new peer: its proof of work must satisfy the local
// difficulty, then the peer lands in the routing table and agent registry.
func (n *Node) onHandshake(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.HandshakeParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}

	if !protocol.VerifyPoW([]byte(params.PubKey), params.ProofOfWork, n.config.PoWDifficulty) {
		return protocol.NewError(protocol.KindInvalidPoW, "handshake from %s", params.AgentID)
	}

	n.table.Add(PeerInfo{
		ID:          NodeIDFromAgent(params.AgentID),
		AgentID:     params.AgentID,
		Address:     from.Address,
		Coordinates: &params.LocationVector,
		LastSeen:    time.Now(),
	})
	n.replica.Agents.Put(state.AgentRecord{
		Profile: protocol.AgentProfile{
			AgentID:        params.AgentID,
			PubKey:         params.PubKey,
			Capabilities:   protocol.AgentCapabilities{Skills: params.Capabilities},
			Resources:      params.Resources,
			LocationVector: params.LocationVector,
		},
		Tier:     protocol.TierExecutor,
		LastSeen: time.Now().UTC(),
	})
	n.cluster.UpdateCoordinates(params.AgentID, params.LocationVector)
	return nil
}

// onKeepAlive feeds the succession monitor and merges any piggybacked
// anti-entropy delta.
func (n *Node) onKeepAlive(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.KeepAliveParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}
	if params.AgentID == "" {
		return nil // transport hello
	}

	n.monitor.RecordKeepalive(params.AgentID, params.Seq, nil)
	if rec, ok := n.replica.Agents.Get(params.AgentID); ok {
		rec.LastSeen = time.Now().UTC()
		n.replica.Agents.Put(*rec)
	}

	if len(params.Delta) > 0 {
		ex, err := state.DecodeExchange(params.Delta)
		if err != nil {
			return err
		}
		n.replica.Apply(ex)
	}
	return nil
}

// onAntiEntropy merges a full-state exchange.
func (n *Node) onAntiEntropy(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.AntiEntropyParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}
	ex, err := state.DecodeExchange(params.Snapshot)
	if err != nil {
		return err
	}
	n.replica.Apply(ex)
	return nil
}

// onTaskInjection records an announced task. Every coordinator at the
// task's tier opens its own RFP round so the commits and reveals it
// observes (including its own proposal) have a state machine to land in;
// executors just track the record.
func (n *Node) onTaskInjection(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.TaskInjectionParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}
	if _, exists := n.replica.Tasks.Get(params.Task.TaskID); exists {
		return nil
	}
	if err := n.replica.Tasks.Put(&params.Task); err != nil {
		return err
	}

	n.mu.RLock()
	tier := n.tier
	n.mu.RUnlock()
	peers := n.peersAtTier()
	if !tier.Executor && len(peers) > 0 && tier.Level == params.Task.TierLevel {
		// Self plus the tier peers are the expected proposers.
		return n.engine.OpenRFP(params.Task.TaskID, params.Task.Epoch, len(peers)+1)
	}
	return nil
}

func (n *Node) onProposalCommit(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.ProposalCommitParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}
	err := n.engine.HandleCommit(&params)
	if protocol.IsKind(err, protocol.KindTaskNotFound) {
		return nil // not coordinating this task
	}
	return err
}

func (n *Node) onProposalReveal(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.ProposalRevealParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}
	err := n.engine.HandleReveal(&params)
	if protocol.IsKind(err, protocol.KindTaskNotFound) {
		return nil
	}
	return err
}

func (n *Node) onConsensusVote(env *protocol.Envelope, from SenderInfo) error {
	var vote protocol.RankedVote
	if err := env.DecodeParams(&vote); err != nil {
		return err
	}
	err := n.engine.HandleVote(&vote)
	if protocol.IsKind(err, protocol.KindTaskNotFound) {
		return nil
	}
	return err
}

// onTaskAssignment accepts a subtask handed to this node. Coordinators with
// peers re-enter the RFP cycle for their slice; executors and lone
// coordinators leave it pending for their local agent.
func (n *Node) onTaskAssignment(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.TaskAssignmentParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}
	if params.Assignee != n.identity.AgentID {
		// Another branch's assignment; track the record only.
		if _, exists := n.replica.Tasks.Get(params.Task.TaskID); !exists {
			return n.replica.Tasks.Put(&params.Task)
		}
		return nil
	}

	if err := n.replica.Tasks.Put(&params.Task); err != nil {
		return err
	}

	n.mu.RLock()
	tier := n.tier
	n.mu.RUnlock()
	peers := n.peersAtTier()
	if !tier.Executor && len(peers) > 0 {
		return n.engine.OpenRFP(params.Task.TaskID, params.Task.Epoch, len(peers)+1)
	}
	return nil
}

// onResultSubmission verifies a submitted artifact and broadcasts the
// verdict; an accepted final child completes the branch and propagates the
// parent hash upward on the parent's results channel.
func (n *Node) onResultSubmission(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.ResultSubmissionParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}

	verdict, branchHash, err := n.engine.HandleResult(&params)
	if err != nil {
		if protocol.IsKind(err, protocol.KindTaskNotFound) {
			return nil
		}
		return err
	}

	n.publish(protocol.TopicResults(n.config.SwarmID, params.TaskID), protocol.MethodVerificationResult, verdict)

	if !verdict.Accepted {
		n.reassignRejected(params.TaskID)
		return nil
	}
	if branchHash != "" {
		if parentID, ok := n.engine.Cascade().ParentOf(params.TaskID); ok {
			n.propagateBranch(parentID, branchHash)
		}
	}
	return nil
}

// reassignRejected moves a rejected subtask to the next subordinate while
// the retry budget lasts.
func (n *Node) reassignRejected(subtaskID string) {
	cascade := n.engine.Cascade()
	if cascade.Failed(subtaskID) {
		return
	}
	current, ok := cascade.Assignee(subtaskID)
	if !ok {
		return
	}
	var next protocol.AgentID
	for _, sub := range n.subordinates() {
		if sub.ID != current {
			next = sub.ID
			break
		}
	}
	if next == "" {
		next = current // nobody else; retry the same executor
	}
	if err := cascade.Reassign(subtaskID, next); err != nil {
		return
	}
	task, ok := n.replica.Tasks.Get(subtaskID)
	if !ok {
		return
	}
	task.AssignedTo = next
	if err := n.replica.Tasks.Put(task); err != nil {
		return
	}
	n.publish(protocol.TopicTasks(n.config.SwarmID, task.TierLevel), protocol.MethodTaskAssignment, protocol.TaskAssignmentParams{
		Task:         *task,
		Assignee:     next,
		ParentTaskID: task.ParentTaskID,
	})
	n.log.Info("subtask reassigned",
		zap.String("task_id", subtaskID),
		zap.String("assignee", string(next)))
}

// propagateBranch submits the completed branch hash on the parent task's
// results channel so the coordinator above can verify and roll up further.
func (n *Node) propagateBranch(parentTaskID, branchHash string) {
	artifact := protocol.Artifact{
		TaskID:     parentTaskID,
		Producer:   n.identity.AgentID,
		ContentCID: branchHash,
		MerkleHash: branchHash,
		CreatedAt:  time.Now().UTC(),
	}
	n.publish(protocol.TopicResults(n.config.SwarmID, parentTaskID), protocol.MethodResultSubmission, protocol.ResultSubmissionParams{
		TaskID:   parentTaskID,
		AgentID:  n.identity.AgentID,
		Artifact: artifact,
	})
}

func (n *Node) onVerificationResult(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.VerificationResultParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}
	if params.Accepted || params.AgentID != n.identity.AgentID {
		return nil
	}
	n.log.Warn("result rejected by coordinator",
		zap.String("task_id", params.TaskID),
		zap.String("reason", params.Reason))
	return nil
}

func (n *Node) onCandidacy(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.CandidacyParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}
	n.electionMu.Lock()
	defer n.electionMu.Unlock()
	if n.election == nil {
		return nil
	}
	err := n.election.RegisterCandidate(&params)
	if protocol.IsKind(err, protocol.KindInsufficientReputation) {
		return err
	}
	return nil
}

func (n *Node) onElectionVote(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.ElectionVoteParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}
	n.electionMu.Lock()
	defer n.electionMu.Unlock()
	if n.election == nil {
		return nil
	}
	return n.election.RecordVote(&params)
}

// onTierAssignment applies a signed tier assignment addressed to this node
// and records everyone else's placement.
func (n *Node) onTierAssignment(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.TierAssignmentParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}

	if rec, ok := n.replica.Agents.Get(params.AssignedAgent); ok {
		rec.Tier = params.Tier
		rec.ParentID = params.ParentID
		rec.LastSeen = time.Now().UTC()
		n.replica.Agents.Put(*rec)
	}

	if params.AssignedAgent != n.identity.AgentID {
		return nil
	}
	n.mu.Lock()
	n.tier = params.Tier
	n.parentID = params.ParentID
	n.mu.Unlock()

	// Watch the new parent's keep-alives.
	if params.ParentID != "" {
		var score *protocol.NodeScore
		if rec, ok := n.replica.Agents.Get(params.ParentID); ok {
			score = &rec.Score
		}
		n.monitor.Watch(params.ParentID, score)
	}
	n.log.Info("tier assigned",
		zap.String("tier", params.Tier.String()),
		zap.String("parent", string(params.ParentID)))
	return nil
}

// onSuccession validates and applies a leader replacement: the local node
// must have observed the timeout itself, and the successor must score at
// least as high as the best branch score recorded here.
func (n *Node) onSuccession(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.SuccessionParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}

	var newScore, branchBest float64
	if rec, ok := n.replica.Agents.Get(params.NewLeader); ok {
		newScore = rec.Score.Composite()
	}
	for _, id := range params.BranchAgents {
		if rec, ok := n.replica.Agents.Get(id); ok {
			if c := rec.Score.Composite(); c > branchBest {
				branchBest = c
			}
		}
	}
	if err := n.monitor.AcceptSuccession(&params, newScore, branchBest); err != nil {
		return err
	}

	var scorePtr *protocol.NodeScore
	if rec, ok := n.replica.Agents.Get(params.NewLeader); ok {
		scorePtr = &rec.Score
	}
	n.monitor.Promote(hierarchy.SuccessionResult{
		FailedLeader: params.FailedLeader,
		NewLeader:    params.NewLeader,
		BranchAgents: params.BranchAgents,
		Epoch:        params.Epoch,
	}, scorePtr)

	n.cluster.RemoveLeader(params.FailedLeader)
	n.cluster.RegisterLeader(params.NewLeader, nil, uint64(n.config.BranchingFactor))

	// Reparent: agents under the failed leader now report to the successor.
	n.mu.Lock()
	if n.parentID == params.FailedLeader {
		n.parentID = params.NewLeader
	}
	for i, l := range n.leaders {
		if l == params.FailedLeader {
			n.leaders[i] = params.NewLeader
		}
	}
	n.mu.Unlock()

	if rec, ok := n.replica.Agents.Get(params.NewLeader); ok {
		rec.Tier = protocol.Tier1
		rec.ParentID = ""
		n.replica.Agents.Put(*rec)
	}
	n.replica.Agents.Remove(params.FailedLeader)

	n.log.Info("succession applied",
		zap.String("failed", string(params.FailedLeader)),
		zap.String("new_leader", string(params.NewLeader)))
	return nil
}

func (n *Node) onSwarmAnnounce(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.SwarmAnnounceParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	info, ok := n.swarms[params.SwarmID]
	if !ok {
		info = &protocol.SwarmInfo{
			SwarmID:   params.SwarmID,
			Name:      params.Name,
			IsPublic:  params.IsPublic,
			Creator:   params.AgentID,
			CreatedAt: params.Timestamp,
		}
		n.swarms[params.SwarmID] = info
	}
	info.AgentCount = params.AgentCount
	info.Description = params.Description
	return nil
}

// onSwarmJoin answers a join request. Private swarms require the token
// derived from the creator passphrase.
func (n *Node) onSwarmJoin(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.SwarmJoinParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}

	n.mu.RLock()
	info, known := n.swarms[params.SwarmID]
	secret, haveSecret := n.swarmSecrets[params.SwarmID]
	n.mu.RUnlock()

	resp := protocol.SwarmJoinResponseParams{SwarmID: params.SwarmID, AgentID: params.AgentID}
	switch {
	case !known:
		resp.Accepted = false
		resp.Reason = "unknown swarm"
	case !info.IsPublic && haveSecret && !protocol.VerifySwarmToken(params.Token, params.SwarmID, secret):
		resp.Accepted = false
		resp.Reason = "invalid token"
	default:
		resp.Accepted = true
	}
	n.publish(protocol.TopicSwarmAnnounce(params.SwarmID), protocol.MethodSwarmJoinResponse, resp)
	if resp.Accepted {
		n.mu.Lock()
		info.AgentCount++
		n.mu.Unlock()
	}
	return nil
}

func (n *Node) onSwarmLeave(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.SwarmLeaveParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if info, ok := n.swarms[params.SwarmID]; ok && info.AgentCount > 0 {
		info.AgentCount--
	}
	return nil
}

func (n *Node) onProvide(env *protocol.Envelope, from SenderInfo) error {
	var params protocol.ProvideParams
	if err := env.DecodeParams(&params); err != nil {
		return err
	}
	return n.replica.Content.AddProvider(params.CID, params.AgentID)
}

// peersAtTier lists the other coordinators at this node's tier, the RFP
// proposer pool.
func (n *Node) peersAtTier() []protocol.AgentID {
	n.mu.RLock()
	myTier := n.tier
	n.mu.RUnlock()

	var out []protocol.AgentID
	for _, rec := range n.replica.Agents.All() {
		if rec.Profile.AgentID == n.identity.AgentID {
			continue
		}
		if rec.Tier == myTier {
			out = append(out, rec.Profile.AgentID)
		}
	}
	return out
}
