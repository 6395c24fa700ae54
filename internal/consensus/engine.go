package consensus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/openswarm/internal/protocol"
	"github.com/ssd-technologies/openswarm/internal/state"
)

// EngineConfig parameterizes the consensus engine.
type EngineConfig struct {
	BranchingFactor   int
	CommitTimeout     time.Duration
	VotingTimeout     time.Duration
	ProhibitSelfVote  bool
	ExpectedProposers int
}

// DefaultEngineConfig returns the protocol defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BranchingFactor:  protocol.DefaultBranchingFactor,
		CommitTimeout:    protocol.DefaultCommitRevealTimeoutSecs * time.Second,
		VotingTimeout:    protocol.DefaultVotingTimeoutSecs * time.Second,
		ProhibitSelfVote: true,
	}
}

// round is the live state machine for one task's RFP/vote/cascade flow. All
// transitions run on observed messages; terminal statuses are sticky and
// guarded at the task registry.
type round struct {
	taskID string
	epoch  uint64
	rfp    *Rfp
	voting *Voting

	votingDeadline time.Time
	votingExtended bool

	winner *VotingResult
}

// Engine drives every local task through Pending → ProposalPhase →
// VotingPhase → InProgress → terminal, owning the per-task round state
// machines. Network delivery and timers live in the node; the engine is
// purely reactive to observed messages and explicit tick calls.
type Engine struct {
	mu      sync.Mutex
	config  EngineConfig
	self    protocol.AgentID
	replica *state.Replica
	cascade *Cascade
	rounds  map[string]*round
	log     *zap.Logger
}

// NewEngine creates a consensus engine over the node's replica.
func NewEngine(config EngineConfig, self protocol.AgentID, replica *state.Replica, log *zap.Logger) *Engine {
	if config.BranchingFactor <= 0 {
		config.BranchingFactor = protocol.DefaultBranchingFactor
	}
	if config.CommitTimeout <= 0 {
		config.CommitTimeout = protocol.DefaultCommitRevealTimeoutSecs * time.Second
	}
	if config.VotingTimeout <= 0 {
		config.VotingTimeout = protocol.DefaultVotingTimeoutSecs * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		config:  config,
		self:    self,
		replica: replica,
		cascade: NewCascade(),
		rounds:  make(map[string]*round),
		log:     log,
	}
}

// Cascade exposes the cascade tracker (the node uses it for reassignment).
func (e *Engine) Cascade() *Cascade { return e.cascade }

// OpenRFP moves a pending task into the proposal phase and opens its
// commit-reveal round for the expected number of peer proposers.
func (e *Engine) OpenRFP(taskID string, epoch uint64, expectedProposers int) error {
	task, ok := e.replica.Tasks.Get(taskID)
	if !ok {
		return protocol.NewError(protocol.KindTaskNotFound, "task %s", taskID)
	}
	if task.Status != protocol.StatusPending {
		return protocol.NewError(protocol.KindInvalidRequest, "task %s is %s, not Pending", taskID, task.Status)
	}

	r := &round{
		taskID: taskID,
		epoch:  epoch,
		rfp:    NewRfp(taskID, epoch, expectedProposers),
	}
	r.rfp.SetCommitTimeout(e.config.CommitTimeout)
	if err := r.rfp.Open(); err != nil {
		return err
	}

	e.mu.Lock()
	e.rounds[taskID] = r
	e.mu.Unlock()

	if err := e.replica.Tasks.SetStatus(taskID, protocol.StatusProposalPhase, epoch); err != nil {
		return err
	}
	e.log.Info("rfp opened",
		zap.String("task_id", taskID),
		zap.Uint64("epoch", epoch),
		zap.Int("expected_proposers", expectedProposers))
	return nil
}

// HandleCommit records an observed proposal commit.
func (e *Engine) HandleCommit(params *protocol.ProposalCommitParams) error {
	r, err := e.round(params.TaskID)
	if err != nil {
		return err
	}
	if err := r.rfp.RecordCommit(params); err != nil {
		return err
	}
	e.log.Debug("proposal commit recorded",
		zap.String("task_id", params.TaskID),
		zap.String("proposer", string(params.Proposer)),
		zap.Int("commits", r.rfp.CommitCount()))
	return nil
}

// HandleReveal records an observed proposal reveal, verifying the plan hash
// against the commit.
func (e *Engine) HandleReveal(params *protocol.ProposalRevealParams) error {
	r, err := e.round(params.TaskID)
	if err != nil {
		return err
	}
	if err := r.rfp.RecordReveal(params); err != nil {
		return err
	}
	e.log.Debug("proposal reveal recorded",
		zap.String("task_id", params.TaskID),
		zap.String("proposer", string(params.Plan.Proposer)),
		zap.Int("reveals", r.rfp.RevealCount()))
	return nil
}

// CommitWindowClosed reports whether a round's commit window has elapsed.
func (e *Engine) CommitWindowClosed(taskID string) bool {
	r, err := e.round(taskID)
	if err != nil {
		return false
	}
	return r.rfp.CommitWindowClosed()
}

// StartVoting finalizes the RFP and opens the voting round. The senate is
// drawn deterministically from the tier below; the returned DIDs are the
// sampled senate members (peers always vote).
func (e *Engine) StartVoting(taskID string, tierBelow []protocol.AgentID) ([]protocol.AgentID, error) {
	r, err := e.round(taskID)
	if err != nil {
		return nil, err
	}

	if r.rfp.Phase() == PhaseCommit {
		if err := r.rfp.CloseCommits(); err != nil {
			return nil, err
		}
	}
	proposals, err := r.rfp.Finalize()
	if err != nil {
		return nil, err
	}

	voting := NewVoting(VotingConfig{ProhibitSelfVote: e.config.ProhibitSelfVote, MinVotes: 1}, taskID, r.epoch)
	voting.SetProposals(proposals)
	senate := voting.SelectSenate(tierBelow, e.config.BranchingFactor)

	e.mu.Lock()
	r.voting = voting
	r.votingDeadline = time.Now().Add(e.config.VotingTimeout)
	e.mu.Unlock()

	if err := e.replica.Tasks.SetStatus(taskID, protocol.StatusVotingPhase, r.epoch); err != nil {
		return nil, err
	}
	e.log.Info("voting opened",
		zap.String("task_id", taskID),
		zap.Int("proposals", len(proposals)),
		zap.Int("senate", len(senate)))
	return senate, nil
}

// HandleVote records an observed ranked-choice ballot.
func (e *Engine) HandleVote(vote *protocol.RankedVote) error {
	r, err := e.round(vote.TaskID)
	if err != nil {
		return err
	}
	if r.voting == nil {
		return protocol.NewError(protocol.KindInvalidRequest, "task %s not in voting phase", vote.TaskID)
	}
	return r.voting.RecordVote(vote)
}

// VotingExpired reports whether the round's voting deadline has passed. Per
// the timeout policy the first expiry extends the deadline once by 2×; the
// second expiry reports true with critic fallback forced.
func (e *Engine) VotingExpired(taskID string) (expired, useCriticFallback bool) {
	r, err := e.round(taskID)
	if err != nil || r.voting == nil {
		return false, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if time.Now().Before(r.votingDeadline) {
		return false, false
	}
	if !r.votingExtended {
		r.votingExtended = true
		r.votingDeadline = time.Now().Add(2 * e.config.VotingTimeout)
		e.log.Warn("voting timeout, extending once", zap.String("task_id", taskID))
		return false, false
	}
	return true, true
}

// FinishVoting tallies the ballots (or takes the critic winner on a double
// timeout), stores the winning plan on the task record, and moves the task
// to InProgress. Returns the result.
func (e *Engine) FinishVoting(taskID string, criticFallback bool) (*VotingResult, error) {
	r, err := e.round(taskID)
	if err != nil {
		return nil, err
	}
	if r.voting == nil {
		return nil, protocol.NewError(protocol.KindInvalidRequest, "task %s not in voting phase", taskID)
	}

	var result *VotingResult
	if criticFallback {
		result, err = r.voting.CriticWinner()
	} else {
		result, err = r.voting.Tally()
	}
	if err != nil {
		return nil, err
	}
	r.winner = result

	task, ok := e.replica.Tasks.Get(taskID)
	if !ok {
		return nil, protocol.NewError(protocol.KindTaskNotFound, "task %s", taskID)
	}
	task.WinningPlanID = result.Winner
	task.Status = protocol.StatusInProgress
	if err := e.replica.Tasks.Put(task); err != nil {
		return nil, err
	}

	e.log.Info("plan selected",
		zap.String("task_id", taskID),
		zap.String("winning_plan", result.Winner),
		zap.String("prime_orchestrator", string(result.WinningProposer)),
		zap.Int("rounds", result.Rounds),
		zap.Bool("critic_fallback", result.CriticFallback))
	return result, nil
}

// WinningPlan returns the revealed winning plan of a finished round.
func (e *Engine) WinningPlan(taskID string) (*protocol.Plan, error) {
	r, err := e.round(taskID)
	if err != nil {
		return nil, err
	}
	if r.winner == nil {
		return nil, protocol.NewError(protocol.KindInvalidRequest, "task %s has no winner yet", taskID)
	}
	plan, ok := r.rfp.Revealed(r.winner.Winner)
	if !ok {
		return nil, protocol.NewError(protocol.KindTaskNotFound, "winning plan %s not among reveals", r.winner.Winner)
	}
	return plan, nil
}

// Distribute cascades the winning plan's subtasks to subordinates and
// records the assignments in the task record.
func (e *Engine) Distribute(taskID string, plan *protocol.Plan, subordinates []Subordinate) ([]SubtaskAssignment, error) {
	assignments, err := e.cascade.Distribute(taskID, plan, subordinates, plan.Epoch)
	if err != nil {
		return nil, err
	}

	task, ok := e.replica.Tasks.Get(taskID)
	if !ok {
		return nil, protocol.NewError(protocol.KindTaskNotFound, "task %s", taskID)
	}
	for _, a := range assignments {
		task.Subtasks = append(task.Subtasks, a.Task.TaskID)
		if err := e.replica.Tasks.Put(&a.Task); err != nil {
			return nil, err
		}
	}
	if err := e.replica.Tasks.Put(task); err != nil {
		return nil, err
	}
	return assignments, nil
}

// HandleResult verifies a submitted artifact: the Merkle proof must check
// out against the artifact's merkle hash and the content CID must appear in
// the proof chain. Accepted artifacts are recorded as DAG leaves; rejected
// ones count against the subtask's reassignment budget. Returns the verdict
// to broadcast and, when the parent's children are all accepted, the parent
// hash to propagate upward.
func (e *Engine) HandleResult(params *protocol.ResultSubmissionParams) (*protocol.VerificationResultParams, string, error) {
	verdict := &protocol.VerificationResultParams{
		TaskID:  params.TaskID,
		AgentID: params.AgentID,
	}

	task, ok := e.replica.Tasks.Get(params.TaskID)
	if !ok {
		return nil, "", protocol.NewError(protocol.KindTaskNotFound, "task %s", params.TaskID)
	}

	if !e.verifyArtifact(params) {
		verdict.Accepted = false
		verdict.Reason = "merkle proof verification failed"
		retriesLeft, err := e.cascade.RecordRejection(params.TaskID)
		if err != nil {
			// Result for a task this node did not cascade: reject outright.
			return verdict, "", nil
		}
		if retriesLeft == 0 {
			if err := e.replica.Tasks.SetStatus(params.TaskID, protocol.StatusFailed, task.Epoch); err != nil {
				return nil, "", err
			}
			e.log.Warn("subtask failed after exhausting reassignments",
				zap.String("task_id", params.TaskID))
		}
		return verdict, "", nil
	}

	verdict.Accepted = true
	e.replica.Dag.AddLeafHash(params.TaskID, params.Artifact.MerkleHash)

	if err := e.replica.Tasks.SetStatus(params.TaskID, protocol.StatusCompleted, task.Epoch); err != nil {
		return nil, "", err
	}

	parentID, ok := e.cascade.ParentOf(params.TaskID)
	if !ok {
		return verdict, "", nil
	}
	complete, err := e.cascade.RecordAcceptance(params.TaskID, params.Artifact.MerkleHash)
	if err != nil {
		return nil, "", err
	}
	if !complete {
		return verdict, "", nil
	}

	// All children accepted: compute the parent hash over child hashes in
	// index order and record the branch.
	childHashes, ok := e.cascade.ChildHashes(parentID)
	if !ok {
		return verdict, "", nil
	}
	branch := e.replica.Dag.AddBranch(parentID, childHashes)
	if err := e.replica.Tasks.SetStatus(parentID, protocol.StatusCompleted, task.Epoch); err != nil {
		return nil, "", err
	}
	e.log.Info("branch complete",
		zap.String("parent_task", parentID),
		zap.String("branch_hash", branch.Hash),
		zap.Int("children", len(childHashes)))
	return verdict, branch.Hash, nil
}

// verifyArtifact checks the artifact's internal consistency and its Merkle
// proof. A leaf artifact must have merkle_hash == content_cid; a proof, when
// present, must recompute to the artifact's merkle hash.
func (e *Engine) verifyArtifact(params *protocol.ResultSubmissionParams) bool {
	art := &params.Artifact
	if art.ContentCID == "" || art.MerkleHash == "" {
		return false
	}
	if len(params.MerkleProof) == 0 {
		// Leaf submission: the merkle hash is the content CID.
		return art.MerkleHash == art.ContentCID
	}
	return state.VerifyProof(art.MerkleHash, params.MerkleProof, art.ContentCID)
}

// CompleteDirect marks a leaf task completed with a verified artifact,
// recording the leaf in the DAG. Used by executors finishing their own
// assignment and by single-node swarms.
func (e *Engine) CompleteDirect(taskID string, artifact *protocol.Artifact) error {
	task, ok := e.replica.Tasks.Get(taskID)
	if !ok {
		return protocol.NewError(protocol.KindTaskNotFound, "task %s", taskID)
	}
	if artifact.MerkleHash != artifact.ContentCID {
		return protocol.NewError(protocol.KindResultRejected, "leaf artifact hash mismatch")
	}
	e.replica.Dag.AddLeafHash(taskID, artifact.MerkleHash)
	return e.replica.Tasks.SetStatus(taskID, protocol.StatusCompleted, task.Epoch)
}

// DropEpochRounds cancels every round minted in an epoch older than the
// given one. A later call for a cancelled task finds no round and fails with
// TaskNotFound; no epoch-mismatch error is raised. Returns the cancelled
// task IDs.
func (e *Engine) DropEpochRounds(beforeEpoch uint64) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var dropped []string
	for id, r := range e.rounds {
		if r.epoch < beforeEpoch {
			delete(e.rounds, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

func (e *Engine) round(taskID string) (*round, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rounds[taskID]
	if !ok {
		return nil, protocol.NewError(protocol.KindTaskNotFound, "no rfp round for task %s", taskID)
	}
	return r, nil
}
