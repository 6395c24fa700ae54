package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"sort"
	"sync"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// VotingConfig parameterizes plan selection.
type VotingConfig struct {
	// ProhibitSelfVote rejects ballots ranking the voter's own plan first.
	ProhibitSelfVote bool
	// MinVotes is the minimum ballot count for a valid tally.
	MinVotes int
}

// DefaultVotingConfig returns the protocol defaults.
func DefaultVotingConfig() VotingConfig {
	return VotingConfig{ProhibitSelfVote: true, MinVotes: 1}
}

// VotingResult is the outcome of an IRV tally.
type VotingResult struct {
	Winner           string
	WinningProposer  protocol.AgentID
	Rounds           int
	EliminationOrder []string
	FinalTallies     map[string]int
	TotalVotes       int
	// CriticFallback marks a winner chosen by critic aggregate because the
	// ballots exhausted without a majority.
	CriticFallback bool
}

// ballot is one voter's live IRV state.
type ballot struct {
	voter        protocol.AgentID
	choices      []string
	criticScores map[string]protocol.CriticScore
}

// Voting runs ranked-choice plan selection for one task: ballots are
// collected from the tier peers plus the senate sample, then tallied by
// instant runoff with critic aggregates breaking ties.
type Voting struct {
	mu        sync.Mutex
	config    VotingConfig
	taskID    string
	epoch     uint64
	proposals map[string]protocol.AgentID // plan_id -> proposer
	ballots   []ballot
	senate    map[protocol.AgentID]bool // nil until a senate is drawn
	finalized bool
}

// NewVoting creates a voting round for a task.
func NewVoting(config VotingConfig, taskID string, epoch uint64) *Voting {
	if config.MinVotes < 1 {
		config.MinVotes = 1
	}
	return &Voting{
		config:    config,
		taskID:    taskID,
		epoch:     epoch,
		proposals: make(map[string]protocol.AgentID),
	}
}

// SetProposals registers the plans on the ballot, mapping plan ID to
// proposer for self-vote checks.
func (v *Voting) SetProposals(proposals []RevealedProposal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, p := range proposals {
		v.proposals[p.Plan.PlanID] = p.Proposer
	}
}

// SelectSenate draws the deterministic senate sample: min(limit,
// len(tierBelow)/2) voters from the tier directly below, chosen by a seeded
// shuffle of the sorted DID list. The seed is the first 8 bytes of
// SHA-256(epoch_be ‖ task_id), so every replica draws the same senate. The
// tier peers passed as electorate always vote; the returned set is the
// additional sample.
func (v *Voting) SelectSenate(tierBelow []protocol.AgentID, limit int) []protocol.AgentID {
	size := len(tierBelow) / 2
	if size > limit {
		size = limit
	}
	if size <= 0 {
		v.mu.Lock()
		v.senate = map[protocol.AgentID]bool{}
		v.mu.Unlock()
		return nil
	}

	sorted := make([]protocol.AgentID, len(tierBelow))
	copy(sorted, tierBelow)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rng := rand.New(rand.NewSource(senateSeed(v.epoch, v.taskID)))
	rng.Shuffle(len(sorted), func(i, j int) { sorted[i], sorted[j] = sorted[j], sorted[i] })
	sample := sorted[:size]

	v.mu.Lock()
	v.senate = make(map[protocol.AgentID]bool, size)
	for _, id := range sample {
		v.senate[id] = true
	}
	v.mu.Unlock()

	out := make([]protocol.AgentID, size)
	copy(out, sample)
	return out
}

// senateSeed derives the deterministic senate seed from epoch ‖ task_id.
func senateSeed(epoch uint64, taskID string) int64 {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], epoch)
	h.Write(buf[:])
	h.Write([]byte(taskID))
	sum := h.Sum(nil)
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// InSenate reports whether a tier-below agent is part of the drawn sample.
func (v *Voting) InSenate(id protocol.AgentID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.senate != nil && v.senate[id]
}

// RecordVote admits a ranked ballot. A proposer ranking their own plan first
// is rejected with SelfVoteProhibited; rankings over unknown plan IDs are
// filtered; a ballot with no valid choices is rejected.
func (v *Voting) RecordVote(vote *protocol.RankedVote) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.finalized {
		return protocol.NewError(protocol.KindInvalidRequest, "voting for %s already finalized", v.taskID)
	}
	if vote.TaskID != v.taskID {
		return protocol.NewError(protocol.KindTaskNotFound, "vote for %s on round %s", vote.TaskID, v.taskID)
	}
	if vote.Epoch != v.epoch {
		return protocol.NewError(protocol.KindEpochMismatch, "vote epoch %d, round epoch %d", vote.Epoch, v.epoch)
	}

	if v.config.ProhibitSelfVote && len(vote.Rankings) > 0 {
		if proposer, ok := v.proposals[vote.Rankings[0]]; ok && proposer == vote.Voter {
			return protocol.NewError(protocol.KindSelfVoteProhibited, "voter %s ranked own plan first", vote.Voter)
		}
	}

	var valid []string
	for _, id := range vote.Rankings {
		if _, ok := v.proposals[id]; ok {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return protocol.NewError(protocol.KindInvalidParams, "no valid proposals in rankings")
	}

	v.ballots = append(v.ballots, ballot{
		voter:        vote.Voter,
		choices:      valid,
		criticScores: vote.CriticScores,
	})
	return nil
}

// BallotCount returns the number of admitted ballots.
func (v *Voting) BallotCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.ballots)
}

// Tally executes the instant-runoff algorithm:
//
//  1. Count first preferences over living ballots.
//  2. A plan with strictly more than half the live ballots wins.
//  3. Otherwise eliminate the lowest-count plan (ties break to the lower
//     critic aggregate, then the lower plan ID) and redistribute.
//  4. When every ballot exhausts without a majority, the plan with the
//     highest aggregate critic score wins.
func (v *Voting) Tally() (*VotingResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.ballots) < v.config.MinVotes {
		return nil, protocol.NewError(protocol.KindVotingTimeout, "only %d ballots for %s", len(v.ballots), v.taskID)
	}
	if len(v.proposals) == 0 {
		return nil, protocol.NewError(protocol.KindInvalidRequest, "no proposals registered for %s", v.taskID)
	}

	live := make([]ballot, len(v.ballots))
	for i, b := range v.ballots {
		choices := make([]string, len(b.choices))
		copy(choices, b.choices)
		live[i] = ballot{voter: b.voter, choices: choices, criticScores: b.criticScores}
	}

	eliminated := make(map[string]bool)
	var eliminationOrder []string
	rounds := 0

	for {
		rounds++
		tallies := make(map[string]int)
		for id := range v.proposals {
			if !eliminated[id] {
				tallies[id] = 0
			}
		}

		liveBallots := 0
		for _, b := range live {
			for _, choice := range b.choices {
				if !eliminated[choice] {
					tallies[choice]++
					liveBallots++
					break
				}
			}
		}

		if len(tallies) == 0 || liveBallots == 0 {
			// Ballots exhausted: critic aggregate decides.
			winner := v.criticWinnerLocked(eliminated)
			if winner == "" {
				return nil, protocol.NewError(protocol.KindVotingTimeout, "all proposals eliminated for %s", v.taskID)
			}
			v.finalized = true
			return &VotingResult{
				Winner:           winner,
				WinningProposer:  v.proposals[winner],
				Rounds:           rounds,
				EliminationOrder: eliminationOrder,
				FinalTallies:     tallies,
				TotalVotes:       len(v.ballots),
				CriticFallback:   true,
			}, nil
		}

		// Majority check: strictly more than 50% of live ballots, or a
		// single surviving plan.
		for id, count := range tallies {
			if count*2 > liveBallots || len(tallies) == 1 {
				v.finalized = true
				return &VotingResult{
					Winner:           id,
					WinningProposer:  v.proposals[id],
					Rounds:           rounds,
					EliminationOrder: eliminationOrder,
					FinalTallies:     tallies,
					TotalVotes:       len(v.ballots),
				}, nil
			}
		}

		loser := v.pickEliminationLocked(tallies)
		eliminated[loser] = true
		eliminationOrder = append(eliminationOrder, loser)
		for i := range live {
			pruned := live[i].choices[:0]
			for _, c := range live[i].choices {
				if !eliminated[c] {
					pruned = append(pruned, c)
				}
			}
			live[i].choices = pruned
		}
	}
}

// CriticWinner returns the plan with the highest aggregate critic score,
// used when voting times out twice.
func (v *Voting) CriticWinner() (*VotingResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	winner := v.criticWinnerLocked(nil)
	if winner == "" {
		return nil, protocol.NewError(protocol.KindVotingTimeout, "no proposals to fall back on for %s", v.taskID)
	}
	v.finalized = true
	return &VotingResult{
		Winner:          winner,
		WinningProposer: v.proposals[winner],
		TotalVotes:      len(v.ballots),
		CriticFallback:  true,
	}, nil
}

// pickEliminationLocked selects the plan to eliminate: fewest first
// choices, ties broken by lower critic aggregate, then by lower plan ID.
func (v *Voting) pickEliminationLocked(tallies map[string]int) string {
	var loser string
	first := true
	for id := range tallies {
		if first {
			loser, first = id, false
			continue
		}
		if tallies[id] != tallies[loser] {
			if tallies[id] < tallies[loser] {
				loser = id
			}
			continue
		}
		ca, cb := v.aggregateCriticLocked(id), v.aggregateCriticLocked(loser)
		if ca != cb {
			if ca < cb {
				loser = id
			}
			continue
		}
		if id < loser {
			loser = id
		}
	}
	return loser
}

// criticWinnerLocked returns the non-eliminated plan with the highest
// critic aggregate; ties resolve to the lower plan ID.
func (v *Voting) criticWinnerLocked(eliminated map[string]bool) string {
	var winner string
	best := -1.0
	ids := make([]string, 0, len(v.proposals))
	for id := range v.proposals {
		if eliminated != nil && eliminated[id] {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		agg := v.aggregateCriticLocked(id)
		if agg > best {
			best, winner = agg, id
		}
	}
	return winner
}

// aggregateCriticLocked averages the critic aggregates every ballot gave a
// plan. Plans no ballot scored aggregate to zero.
func (v *Voting) aggregateCriticLocked(planID string) float64 {
	var sum float64
	var n int
	for _, b := range v.ballots {
		if score, ok := b.criticScores[planID]; ok {
			sum += score.Aggregate()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
