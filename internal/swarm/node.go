package swarm

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ssd-technologies/openswarm/internal/consensus"
	"github.com/ssd-technologies/openswarm/internal/hierarchy"
	"github.com/ssd-technologies/openswarm/internal/protocol"
	"github.com/ssd-technologies/openswarm/internal/state"
)

// Config is the node's runtime configuration, resolved by the config layer.
type Config struct {
	SwarmID             string
	SwarmToken          string
	AgentName           string
	Capabilities        []string
	BranchingFactor     int
	EpochDuration       time.Duration
	KeepaliveInterval   time.Duration
	LeaderTimeout       time.Duration
	CommitRevealTimeout time.Duration
	VotingTimeout       time.Duration
	PoWDifficulty       int
	MaxHierarchyDepth   int
	ListenAddr          string
	BootstrapPeers      []string
}

// applyDefaults fills zero-valued fields with protocol defaults.
func (c *Config) applyDefaults() {
	if c.SwarmID == "" {
		c.SwarmID = protocol.DefaultSwarmID
	}
	if c.BranchingFactor <= 0 {
		c.BranchingFactor = protocol.DefaultBranchingFactor
	}
	if c.EpochDuration <= 0 {
		c.EpochDuration = protocol.DefaultEpochDurationSecs * time.Second
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = protocol.DefaultKeepaliveIntervalSecs * time.Second
	}
	if c.LeaderTimeout <= 0 {
		c.LeaderTimeout = protocol.DefaultLeaderTimeoutSecs * time.Second
	}
	if c.CommitRevealTimeout <= 0 {
		c.CommitRevealTimeout = protocol.DefaultCommitRevealTimeoutSecs * time.Second
	}
	if c.VotingTimeout <= 0 {
		c.VotingTimeout = protocol.DefaultVotingTimeoutSecs * time.Second
	}
	if c.PoWDifficulty <= 0 {
		c.PoWDifficulty = protocol.DefaultPoWDifficulty
	}
	if c.MaxHierarchyDepth <= 0 {
		c.MaxHierarchyDepth = protocol.DefaultMaxHierarchyDepth
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:0"
	}
}

// Node is one coordination-core peer: it owns the replicated state, the
// consensus engine, the hierarchy machinery, and the network layers, and
// exposes the facade operations consumed by the local agent endpoint.
type Node struct {
	identity *protocol.Identity
	config   Config

	replica    *state.Replica
	engine     *consensus.Engine
	estimator  *hierarchy.SizeEstimator
	allocator  *hierarchy.Allocator
	monitor    *hierarchy.Monitor
	cluster    *hierarchy.Cluster
	table      *RoutingTable
	transport  *Transport
	pubsub     *PubSub
	router     *Router
	reputation *Reputation
	log        *zap.Logger

	// mu guards the hierarchy snapshot and swarm membership.
	mu           sync.RWMutex
	tier         protocol.Tier
	parentID     protocol.AgentID
	leaders      []protocol.AgentID
	swarms       map[string]*protocol.SwarmInfo
	swarmSecrets map[string]string
	ownScore     protocol.NodeScore

	keepaliveSeq uint64
	// pendingReveals holds local proposals whose reveal could not be
	// recorded yet (the round was still collecting commits); the consensus
	// tick retries them once the reveal phase opens.
	pendingReveals map[string]*protocol.ProposalRevealParams

	// future holds frames minted in an epoch ahead of ours; they drain once
	// the epoch register catches up.
	futureMu sync.Mutex
	future   []*Frame

	// election is the live Tier-1 election for the current epoch, if any.
	electionMu sync.Mutex
	election   *hierarchy.Election

	cancel context.CancelFunc
	done   chan struct{}
}

// NewNode assembles a node from its identity, configuration, and content
// store.
func NewNode(identity *protocol.Identity, config Config, content *state.ContentStore, log *zap.Logger) *Node {
	config.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	replica := state.NewReplica(string(identity.AgentID), content)
	selfID := NodeIDFromAgent(identity.AgentID)

	n := &Node{
		identity:  identity,
		config:    config,
		replica:   replica,
		estimator: hierarchy.NewSizeEstimator(10),
		allocator: hierarchy.NewAllocator(hierarchy.PyramidConfig{
			BranchingFactor: config.BranchingFactor,
			MaxDepth:        config.MaxHierarchyDepth,
		}),
		monitor:        hierarchy.NewMonitor(config.LeaderTimeout, config.KeepaliveInterval),
		cluster:        hierarchy.NewCluster(),
		table:          NewRoutingTable(selfID, 20),
		reputation:     NewReputation(),
		log:            log,
		tier:           protocol.Tier1, // a lone node is its own Tier-1
		swarms:         make(map[string]*protocol.SwarmInfo),
		swarmSecrets:   make(map[string]string),
		pendingReveals: make(map[string]*protocol.ProposalRevealParams),
		ownScore: protocol.NodeScore{
			AgentID:        identity.AgentID,
			ProofOfCompute: 0.5,
			Reputation:     0.5,
			Uptime:         1.0,
		},
		done: make(chan struct{}),
	}

	n.engine = consensus.NewEngine(consensus.EngineConfig{
		BranchingFactor:  config.BranchingFactor,
		CommitTimeout:    config.CommitRevealTimeout,
		VotingTimeout:    config.VotingTimeout,
		ProhibitSelfVote: true,
	}, identity.AgentID, replica, log)

	n.transport = NewTransport(SenderInfo{
		NodeID:  selfID,
		AgentID: identity.AgentID,
		PubKey:  hex.EncodeToString(identity.Public),
	})
	n.pubsub = NewPubSub(n.transport)
	n.router = NewRouter(n.reputation, n.replica.Epochs.CurrentEpoch, log)
	n.registerHandlers()
	n.transport.OnFrame(n.handleFrame)

	n.swarms[protocol.DefaultSwarmID] = protocol.NewPublicSwarm(identity.AgentID)
	if config.SwarmID != protocol.DefaultSwarmID {
		info := &protocol.SwarmInfo{
			SwarmID:   config.SwarmID,
			Name:      config.SwarmID,
			IsPublic:  config.SwarmToken == "",
			Creator:   identity.AgentID,
			CreatedAt: time.Now().UTC(),
		}
		n.swarms[config.SwarmID] = info
	}

	content.OnProvide(n.announceProvider)
	return n
}

// Start binds the transport, dials the bootstrap peers, and launches the
// node's periodic loops. It returns once the transport is listening.
func (n *Node) Start(ctx context.Context) error {
	if err := n.transport.Listen(n.config.ListenAddr); err != nil {
		return err
	}

	n.replica.Epochs.Set(protocol.EpochInfo{
		EpochNumber:        1,
		StartedAt:          time.Now().UTC(),
		DurationSecs:       uint64(n.config.EpochDuration / time.Second),
		EstimatedSwarmSize: 1,
	})

	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	// Bootstrap dials run concurrently; a subset failing is tolerable as
	// long as the mesh is reachable through the rest.
	var g errgroup.Group
	for _, addr := range n.config.BootstrapPeers {
		addr := addr
		g.Go(func() error {
			if err := n.Connect(addr); err != nil {
				n.log.Warn("bootstrap dial failed", zap.String("addr", addr), zap.Error(err))
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	go n.runLoops(ctx)

	n.log.Info("node started",
		zap.String("agent_id", string(n.identity.AgentID)),
		zap.String("listen", n.transport.Addr()),
		zap.String("swarm", n.config.SwarmID))
	return nil
}

// Close stops the loops and tears down the transport.
func (n *Node) Close() {
	if n.cancel != nil {
		n.cancel()
		<-n.done
	}
	n.transport.Close()
}

// runLoops drives the periodic work: keep-alives with piggybacked deltas,
// leader timeout checks, anti-entropy exchanges, size estimation, consensus
// round ticks, epoch transitions, and retention sweeps.
func (n *Node) runLoops(ctx context.Context) {
	defer close(n.done)

	keepalive := time.NewTicker(n.config.KeepaliveInterval)
	antiEntropy := time.NewTicker(6 * n.config.KeepaliveInterval)
	consensusTick := time.NewTicker(time.Second)
	epochTick := time.NewTicker(n.config.EpochDuration)
	defer keepalive.Stop()
	defer antiEntropy.Stop()
	defer consensusTick.Stop()
	defer epochTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			n.sendKeepalive()
			n.checkLeaderTimeouts()
			n.estimator.UpdateFromBuckets(n.table.BucketPopulations())
		case <-antiEntropy.C:
			n.fullExchange()
			n.replica.Sweep(n.replica.Epochs.CurrentEpoch())
			n.pubsub.PruneSeen()
		case <-consensusTick.C:
			n.tickConsensus()
		case <-epochTick.C:
			n.advanceEpoch()
		}
	}
}

// handleFrame is the transport ingress: gossip frames go through the pubsub
// dedup/forwarding path, everything lands in the router. Frames minted in a
// future epoch are buffered until the local epoch register catches up.
func (n *Node) handleFrame(frame *Frame, from NodeID) {
	if frame.Topic != "" {
		if !n.pubsub.HandleFrame(frame, from) {
			return
		}
	}
	if frame.Envelope == nil {
		return
	}
	if frame.Envelope.Signature == "" && frame.Envelope.Method == protocol.MethodKeepAlive {
		return // transport identification hello
	}

	if n.isFutureEpoch(frame.Envelope) {
		n.futureMu.Lock()
		n.future = append(n.future, frame)
		n.futureMu.Unlock()
		return
	}

	if err := n.router.Dispatch(frame, from); err != nil {
		n.log.Debug("dispatch failed",
			zap.String("method", frame.Envelope.Method),
			zap.Error(err))
	}
}

// isFutureEpoch reports whether the envelope's params carry an epoch ahead
// of the local register. Such messages are buffered: the epoch boundary is
// an explicit serialization barrier.
func (n *Node) isFutureEpoch(env *protocol.Envelope) bool {
	var probe struct {
		Epoch *uint64 `json:"epoch"`
	}
	if err := json.Unmarshal(env.Params, &probe); err != nil || probe.Epoch == nil {
		return false
	}
	return *probe.Epoch > n.replica.Epochs.CurrentEpoch()
}

// drainFuture re-dispatches buffered frames whose epoch has arrived.
func (n *Node) drainFuture() {
	n.futureMu.Lock()
	pending := n.future
	n.future = nil
	n.futureMu.Unlock()

	for _, frame := range pending {
		n.handleFrame(frame, frame.Sender.NodeID)
	}
}

// sendKeepalive publishes the leader heartbeat with a bounded anti-entropy
// delta piggybacked.
func (n *Node) sendKeepalive() {
	epoch := n.replica.Epochs.CurrentEpoch()
	delta, err := state.EncodeExchange(n.replica.Delta(epoch))
	if err != nil {
		n.log.Warn("encode delta", zap.Error(err))
		delta = nil
	}

	n.mu.Lock()
	n.keepaliveSeq++
	seq := n.keepaliveSeq
	n.mu.Unlock()

	params := protocol.KeepAliveParams{
		AgentID:   n.identity.AgentID,
		Epoch:     epoch,
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		Delta:     delta,
	}
	n.publish(protocol.TopicKeepalive(n.config.SwarmID), protocol.MethodKeepAlive, params)
}

// checkLeaderTimeouts triggers succession for silent leaders: the
// highest-scored known subordinate of the failed leader announces the
// replacement.
func (n *Node) checkLeaderTimeouts() {
	for _, failed := range n.monitor.TimedOut() {
		n.log.Warn("leader timeout", zap.String("leader", string(failed)))

		branch := n.monitor.Branch(failed)
		var scores []protocol.NodeScore
		for _, id := range branch {
			if rec, ok := n.replica.Agents.Get(id); ok {
				scores = append(scores, rec.Score)
			}
		}
		if self := n.selfInBranch(branch); self && len(scores) > 0 {
			successor, err := n.monitor.PickSuccessor(failed, scores)
			if err != nil {
				continue
			}
			// Only the chosen successor announces; everyone else waits for
			// the announcement.
			if successor == n.identity.AgentID {
				n.announceSuccession(failed, branch)
			}
		}
	}
}

func (n *Node) selfInBranch(branch []protocol.AgentID) bool {
	for _, id := range branch {
		if id == n.identity.AgentID {
			return true
		}
	}
	return false
}

func (n *Node) announceSuccession(failed protocol.AgentID, branch []protocol.AgentID) {
	params := protocol.SuccessionParams{
		FailedLeader: failed,
		NewLeader:    n.identity.AgentID,
		Epoch:        n.replica.Epochs.CurrentEpoch(),
		BranchAgents: branch,
	}
	n.publish(protocol.TopicHierarchy(n.config.SwarmID), protocol.MethodSuccession, params)

	n.mu.Lock()
	n.tier = protocol.Tier1
	n.parentID = ""
	n.mu.Unlock()
	n.log.Info("announced succession", zap.String("failed", string(failed)))
}

// fullExchange sends a full-state anti-entropy snapshot to one random
// neighbor.
func (n *Node) fullExchange() {
	peers := n.transport.ConnectedPeers()
	if len(peers) == 0 {
		return
	}
	target := peers[rand.Intn(len(peers))]

	snapshot, err := state.EncodeExchange(n.replica.Snapshot())
	if err != nil {
		n.log.Warn("encode snapshot", zap.Error(err))
		return
	}
	params := protocol.AntiEntropyParams{
		AgentID:  n.identity.AgentID,
		Epoch:    n.replica.Epochs.CurrentEpoch(),
		Full:     true,
		Snapshot: snapshot,
	}
	env, err := protocol.NewNotification(protocol.MethodAntiEntropy, params, n.identity.Private)
	if err != nil {
		return
	}
	if err := n.transport.Send(target, &Frame{Envelope: env}); err != nil {
		n.log.Debug("anti-entropy send failed", zap.Error(err))
	}
}

// tickConsensus advances every live RFP round: commit windows that elapsed
// open voting, and voting rounds finish when their electorate has voted or
// their (possibly extended) deadline passes.
func (n *Node) tickConsensus() {
	n.flushPendingReveals()
	for _, task := range n.replica.Tasks.Pending() {
		switch task.Status {
		case protocol.StatusProposalPhase:
			if n.engine.CommitWindowClosed(task.TaskID) {
				n.openVoting(task.TaskID)
			}
		case protocol.StatusVotingPhase:
			if expired, fallback := n.engine.VotingExpired(task.TaskID); expired {
				n.finishVoting(task.TaskID, fallback)
			}
		}
	}
}

// flushPendingReveals retries local reveals that were waiting for their
// round's commit phase to close.
func (n *Node) flushPendingReveals() {
	n.mu.Lock()
	pending := make(map[string]*protocol.ProposalRevealParams, len(n.pendingReveals))
	for id, reveal := range n.pendingReveals {
		pending[id] = reveal
	}
	n.mu.Unlock()

	for taskID, reveal := range pending {
		if err := n.engine.HandleReveal(reveal); err != nil {
			if protocol.IsKind(err, protocol.KindTaskNotFound) {
				// The round is gone (epoch rollover); drop the reveal.
				n.mu.Lock()
				delete(n.pendingReveals, taskID)
				n.mu.Unlock()
			}
			continue
		}
		n.publish(protocol.TopicProposals(n.config.SwarmID, taskID), protocol.MethodProposalReveal, reveal)
		n.mu.Lock()
		delete(n.pendingReveals, taskID)
		n.mu.Unlock()
	}
}

func (n *Node) openVoting(taskID string) {
	tierBelow := n.tierBelowAgents()
	senate, err := n.engine.StartVoting(taskID, tierBelow)
	if err != nil {
		n.log.Debug("open voting failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	n.log.Info("voting opened", zap.String("task_id", taskID), zap.Int("senate", len(senate)))
}

func (n *Node) finishVoting(taskID string, criticFallback bool) {
	result, err := n.engine.FinishVoting(taskID, criticFallback)
	if err != nil {
		n.log.Debug("finish voting failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	// The winning plan cascades to subordinates; the proposer becomes Prime
	// Orchestrator for the task.
	plan, err := n.engine.WinningPlan(taskID)
	if err != nil {
		return
	}
	subs := n.subordinates()
	if len(subs) == 0 {
		return // a lone coordinator leaves the task for its local agent
	}
	assignments, err := n.engine.Distribute(taskID, plan, subs)
	if err != nil {
		n.log.Warn("cascade failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	for _, a := range assignments {
		params := protocol.TaskAssignmentParams{
			Task:          a.Task,
			Assignee:      a.Assignee,
			ParentTaskID:  a.ParentTaskID,
			WinningPlanID: result.Winner,
		}
		n.publish(protocol.TopicTasks(n.config.SwarmID, a.Task.TierLevel), protocol.MethodTaskAssignment, params)
	}
}

// advanceEpoch rolls the epoch register forward, cancels cross-epoch
// consensus rounds, and opens the next Tier-1 election.
func (n *Node) advanceEpoch() {
	current := n.replica.Epochs.Current()
	next := protocol.EpochInfo{
		EpochNumber:        current.EpochNumber + 1,
		StartedAt:          time.Now().UTC(),
		DurationSecs:       uint64(n.config.EpochDuration / time.Second),
		EstimatedSwarmSize: n.estimator.Estimate(),
	}
	n.replica.Epochs.Set(next)

	dropped := n.engine.DropEpochRounds(next.EpochNumber)
	for _, taskID := range dropped {
		n.log.Info("cancelled cross-epoch round",
			zap.String("task_id", taskID),
			zap.Uint64("epoch", next.EpochNumber))
	}

	n.electionMu.Lock()
	n.election = hierarchy.NewElection(hierarchy.ElectionConfig{
		MinCandidacyScore: 0.3,
		MinUptime:         0.5,
		Seats:             n.config.BranchingFactor,
		MaxCandidates:     100,
	}, next.EpochNumber)
	n.electionMu.Unlock()

	// Announce candidacy when eligible.
	score := n.SelfScore()
	if score.Composite() >= 0.3 && score.Uptime >= 0.5 {
		n.publish(protocol.TopicElectionTier1(n.config.SwarmID), protocol.MethodCandidacy, protocol.CandidacyParams{
			AgentID: n.identity.AgentID,
			Epoch:   next.EpochNumber,
			Score:   score,
		})
	}

	n.drainFuture()
	go n.runElection(next.EpochNumber)
	n.log.Info("epoch advanced", zap.Uint64("epoch", next.EpochNumber),
		zap.Uint64("estimated_swarm_size", next.EstimatedSwarmSize))
}

// runElection drives the local side of the per-epoch Tier-1 election: after
// the candidacy window closes, broadcast a ranked ballot; after the voting
// window, tally (the tally is deterministic, so every replica computes the
// same leader set) and apply the new hierarchy.
func (n *Node) runElection(epoch uint64) {
	time.Sleep(2 * n.config.KeepaliveInterval) // candidacy window

	n.electionMu.Lock()
	election := n.election
	n.electionMu.Unlock()
	if election == nil || election.CandidateCount() == 0 {
		return
	}

	// Ballot: candidates in composite order, never self first.
	candidates := election.Candidates()
	rankings := make([]protocol.AgentID, 0, len(candidates))
	for _, c := range candidates {
		rankings = append(rankings, c.AgentID)
	}
	if len(rankings) > 1 && rankings[0] == n.identity.AgentID {
		rankings[0], rankings[1] = rankings[1], rankings[0]
	}
	vote := protocol.ElectionVoteParams{
		Voter:             n.identity.AgentID,
		Epoch:             epoch,
		CandidateRankings: rankings,
	}
	if err := election.RecordVote(&vote); err == nil {
		n.publish(protocol.TopicElectionTier1(n.config.SwarmID), protocol.MethodElectionVote, vote)
	}

	time.Sleep(2 * n.config.KeepaliveInterval) // voting window

	result, err := election.Tally()
	if err != nil {
		n.log.Warn("election tally failed", zap.Uint64("epoch", epoch), zap.Error(err))
		return
	}
	n.applyElection(result)
}

// applyElection installs the elected Tier-1 leaders: leaders take Tier-1;
// everyone else joins the closest leader's branch and watches its
// keep-alives.
func (n *Node) applyElection(result *hierarchy.ElectionResult) {
	selfLeads := false
	for _, leader := range result.Leaders {
		var coords *protocol.VivaldiCoordinates
		if rec, ok := n.replica.Agents.Get(leader); ok {
			c := rec.Profile.LocationVector
			coords = &c
			rec.Tier = protocol.Tier1
			rec.ParentID = ""
			n.replica.Agents.Put(*rec)
		}
		n.cluster.RegisterLeader(leader, coords, uint64(n.config.BranchingFactor))
		if leader == n.identity.AgentID {
			selfLeads = true
		}
	}

	n.mu.Lock()
	n.leaders = append([]protocol.AgentID(nil), result.Leaders...)
	n.mu.Unlock()

	if selfLeads {
		n.mu.Lock()
		n.tier = protocol.Tier1
		n.parentID = ""
		n.mu.Unlock()
		n.assignBranch(result.Epoch)
		n.log.Info("elected tier-1 leader", zap.Uint64("epoch", result.Epoch))
		return
	}

	assignment, err := n.cluster.Assign(n.identity.AgentID)
	if err != nil {
		return
	}
	depth := n.allocator.ComputeDepth(n.estimator.Estimate())
	tier := protocol.TierExecutor
	if depth > 2 {
		tier = protocol.Tier2
	}
	n.mu.Lock()
	n.tier = tier
	n.parentID = assignment.LeaderID
	n.mu.Unlock()

	var score *protocol.NodeScore
	if rec, ok := n.replica.Agents.Get(assignment.LeaderID); ok {
		score = &rec.Score
	}
	n.monitor.Watch(assignment.LeaderID, score)
	n.log.Info("joined branch",
		zap.String("leader", string(assignment.LeaderID)),
		zap.String("tier", tier.String()))
}

// assignBranch sends signed tier assignments to the agents whose closest
// leader is this node. Deeper branches recurse through the assignees' own
// coordination; direct subordinates are placed by score rank.
func (n *Node) assignBranch(epoch uint64) {
	branch := n.cluster.Branch(n.identity.AgentID)
	if len(branch) == 0 {
		return
	}
	depth := n.allocator.ComputeDepth(n.estimator.Estimate())

	for _, agent := range branch {
		tier := protocol.TierExecutor
		if depth > 2 {
			tier = protocol.Tier2
		}
		params := protocol.TierAssignmentParams{
			AssignedAgent: agent,
			Tier:          tier,
			ParentID:      n.identity.AgentID,
			Epoch:         epoch,
			BranchSize:    uint64(len(branch)),
		}
		n.publish(protocol.TopicHierarchy(n.config.SwarmID), protocol.MethodTierAssignment, params)

		if rec, ok := n.replica.Agents.Get(agent); ok {
			rec.Tier = tier
			rec.ParentID = n.identity.AgentID
			n.replica.Agents.Put(*rec)
		}
	}
	n.monitor.SetBranch(n.identity.AgentID, branch)
}

// SelfScore returns this node's current composite score inputs, with the
// reputation component fed from the violation tracker.
func (n *Node) SelfScore() protocol.NodeScore {
	n.mu.RLock()
	score := n.ownScore
	n.mu.RUnlock()
	score.Reputation = n.reputation.Score(n.identity.AgentID)
	return score
}

// subordinates lists this node's direct children from the agent registry.
func (n *Node) subordinates() []consensus.Subordinate {
	var out []consensus.Subordinate
	for _, id := range n.replica.Agents.Subordinates(n.identity.AgentID) {
		rec, ok := n.replica.Agents.Get(id)
		if !ok {
			continue
		}
		out = append(out, consensus.Subordinate{ID: id, Tier: rec.Tier})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// tierBelowAgents lists the agents one tier below this node, the senate
// sampling pool: coordinators at level+1 when any exist, otherwise the
// executors (the bottom of a shallow branch).
func (n *Node) tierBelowAgents() []protocol.AgentID {
	n.mu.RLock()
	myTier := n.tier
	n.mu.RUnlock()
	if myTier.Executor {
		return nil
	}

	var coordinators, executors []protocol.AgentID
	for _, rec := range n.replica.Agents.All() {
		if rec.Profile.AgentID == n.identity.AgentID {
			continue
		}
		if rec.Tier.Executor {
			executors = append(executors, rec.Profile.AgentID)
		} else if rec.Tier.Level == myTier.Level+1 {
			coordinators = append(coordinators, rec.Profile.AgentID)
		}
	}
	if len(coordinators) > 0 {
		return coordinators
	}
	return executors
}

// publish signs and publishes a notification on a topic.
func (n *Node) publish(topic, method string, params interface{}) {
	env, err := protocol.NewNotification(method, params, n.identity.Private)
	if err != nil {
		n.log.Warn("build notification", zap.String("method", method), zap.Error(err))
		return
	}
	if err := n.pubsub.Publish(topic, env); err != nil {
		n.log.Debug("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// announceProvider advertises content residency: a provide notification on
// the swarm's content channel lets consumers look up providers and stream
// from whichever responds.
func (n *Node) announceProvider(cid string) {
	n.publish(protocol.TopicContent(n.config.SwarmID), protocol.MethodProvide, protocol.ProvideParams{
		CID:     cid,
		AgentID: n.identity.AgentID,
	})
}
