// Package consensus implements the competitive task-decomposition protocol:
// commit-reveal proposal exchange, ranked-choice plan voting with critic
// scores, the adaptive granularity policy, the subtask cascade, and the
// per-task engine that drives a task through its lifecycle.
package consensus

import (
	"sync"
	"time"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// RfpPhase is the state of one request-for-proposal round.
type RfpPhase string

const (
	PhaseIdle           RfpPhase = "Idle"
	PhaseCommit         RfpPhase = "CommitPhase"
	PhaseReveal         RfpPhase = "RevealPhase"
	PhaseReadyForVoting RfpPhase = "ReadyForVoting"
	PhaseCompleted      RfpPhase = "Completed"
)

// RevealedProposal is a commit-verified plan ready for voting.
type RevealedProposal struct {
	Proposer protocol.AgentID
	Plan     protocol.Plan
	PlanHash string
}

// Rfp coordinates the commit-reveal exchange for a single task. Proposers
// first publish only the canonical-JSON hash of their plan; once all
// expected commits arrive (or the commit window closes) plans are revealed
// and checked against their hashes, so no proposer can copy another's plan.
type Rfp struct {
	mu     sync.Mutex
	taskID string
	epoch  uint64
	phase  RfpPhase

	commits map[protocol.AgentID]string // proposer -> plan hash
	reveals map[protocol.AgentID]RevealedProposal

	commitStarted     time.Time
	commitTimeout     time.Duration
	expectedProposers int
}

// NewRfp creates an RFP round for a task expecting commits from the given
// number of peer proposers.
func NewRfp(taskID string, epoch uint64, expectedProposers int) *Rfp {
	if expectedProposers < 1 {
		expectedProposers = 1
	}
	return &Rfp{
		taskID:            taskID,
		epoch:             epoch,
		phase:             PhaseIdle,
		commits:           make(map[protocol.AgentID]string),
		reveals:           make(map[protocol.AgentID]RevealedProposal),
		commitTimeout:     protocol.DefaultCommitRevealTimeoutSecs * time.Second,
		expectedProposers: expectedProposers,
	}
}

// SetCommitTimeout overrides the commit window (tests and configuration).
func (r *Rfp) SetCommitTimeout(d time.Duration) {
	r.mu.Lock()
	r.commitTimeout = d
	r.mu.Unlock()
}

// Open starts the commit phase.
func (r *Rfp) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseIdle {
		return protocol.NewError(protocol.KindInvalidRequest, "rfp for %s already open (%s)", r.taskID, r.phase)
	}
	r.phase = PhaseCommit
	r.commitStarted = time.Now()
	return nil
}

// RecordCommit admits a proposal commit. A proposer may not commit twice for
// the same task. When all expected commits are in, the round advances to the
// reveal phase.
func (r *Rfp) RecordCommit(params *protocol.ProposalCommitParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseCommit {
		return protocol.NewError(protocol.KindInvalidRequest, "not in commit phase (%s)", r.phase)
	}
	if params.TaskID != r.taskID {
		return protocol.NewError(protocol.KindTaskNotFound, "commit for %s on rfp %s", params.TaskID, r.taskID)
	}
	if params.Epoch != r.epoch {
		return protocol.NewError(protocol.KindEpochMismatch, "commit epoch %d, rfp epoch %d", params.Epoch, r.epoch)
	}
	if _, dup := r.commits[params.Proposer]; dup {
		return protocol.NewError(protocol.KindDuplicateProposal, "proposer %s already committed for %s", params.Proposer, r.taskID)
	}

	r.commits[params.Proposer] = params.PlanHash
	if len(r.commits) >= r.expectedProposers {
		r.phase = PhaseReveal
	}
	return nil
}

// CommitWindowClosed reports whether the 60-second commit window has
// elapsed.
func (r *Rfp) CommitWindowClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseCommit || r.commitStarted.IsZero() {
		return false
	}
	return time.Since(r.commitStarted) >= r.commitTimeout
}

// CloseCommits force-advances to the reveal phase on timeout. Fails when no
// commits arrived at all.
func (r *Rfp) CloseCommits() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseCommit {
		return protocol.NewError(protocol.KindInvalidRequest, "cannot close commits from %s", r.phase)
	}
	if len(r.commits) == 0 {
		return protocol.NewError(protocol.KindVotingTimeout, "no proposals committed for %s", r.taskID)
	}
	r.phase = PhaseReveal
	return nil
}

// RecordReveal admits a revealed plan, verifying that its canonical-JSON
// hash matches the commit. Mismatches are rejected with
// CommitRevealMismatch and the proposer's commit is forfeited.
func (r *Rfp) RecordReveal(params *protocol.ProposalRevealParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseReveal {
		return protocol.NewError(protocol.KindInvalidRequest, "not in reveal phase (%s)", r.phase)
	}
	if params.TaskID != r.taskID {
		return protocol.NewError(protocol.KindTaskNotFound, "reveal for %s on rfp %s", params.TaskID, r.taskID)
	}
	if err := params.Plan.Validate(); err != nil {
		return err
	}

	proposer := params.Plan.Proposer
	committed, ok := r.commits[proposer]
	if !ok {
		return protocol.NewError(protocol.KindCommitRevealMismatch, "no commit from proposer %s", proposer)
	}

	computed, err := params.Plan.Hash()
	if err != nil {
		return err
	}
	if computed != committed {
		delete(r.commits, proposer)
		return protocol.NewError(protocol.KindCommitRevealMismatch,
			"plan hash %s does not match commit %s", computed, committed)
	}

	r.reveals[proposer] = RevealedProposal{
		Proposer: proposer,
		Plan:     params.Plan,
		PlanHash: computed,
	}
	if len(r.reveals) >= len(r.commits) {
		r.phase = PhaseReadyForVoting
	}
	return nil
}

// Finalize closes the round and returns the verified proposals for voting.
func (r *Rfp) Finalize() ([]RevealedProposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseReadyForVoting && r.phase != PhaseReveal {
		return nil, protocol.NewError(protocol.KindInvalidRequest, "cannot finalize from %s", r.phase)
	}
	if len(r.reveals) == 0 {
		return nil, protocol.NewError(protocol.KindVotingTimeout, "no proposals revealed for %s", r.taskID)
	}

	r.phase = PhaseCompleted
	out := make([]RevealedProposal, 0, len(r.reveals))
	for _, p := range r.reveals {
		out = append(out, p)
	}
	return out, nil
}

// Phase returns the current phase.
func (r *Rfp) Phase() RfpPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// CommitCount returns the number of commits received.
func (r *Rfp) CommitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commits)
}

// RevealCount returns the number of verified reveals.
func (r *Rfp) RevealCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reveals)
}

// Revealed returns the verified plan with the given ID, if any proposer
// revealed it.
func (r *Rfp) Revealed(planID string) (*protocol.Plan, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.reveals {
		if p.Plan.PlanID == planID {
			plan := p.Plan
			return &plan, true
		}
	}
	return nil, false
}

// TaskID returns the task this round decomposes.
func (r *Rfp) TaskID() string { return r.taskID }
