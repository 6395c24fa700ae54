package hierarchy

import (
	"sort"
	"sync"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// ElectionConfig parameterizes the per-epoch Tier-1 election.
type ElectionConfig struct {
	// MinCandidacyScore is the composite score floor for candidacy.
	MinCandidacyScore float64
	// MinUptime is the uptime floor for candidacy.
	MinUptime float64
	// Seats is the number of Tier-1 leaders to elect (k).
	Seats int
	// MaxCandidates bounds the candidate pool.
	MaxCandidates int
}

// DefaultElectionConfig returns the protocol defaults.
func DefaultElectionConfig() ElectionConfig {
	return ElectionConfig{
		MinCandidacyScore: 0.3,
		MinUptime:         0.5,
		Seats:             protocol.DefaultBranchingFactor,
		MaxCandidates:     100,
	}
}

// Candidate is a registered Tier-1 candidate.
type Candidate struct {
	AgentID   protocol.AgentID
	Score     protocol.NodeScore
	Composite float64
	Location  protocol.VivaldiCoordinates
}

// ElectionResult is the outcome of one epoch's Tier-1 election.
type ElectionResult struct {
	Epoch uint64
	// Leaders in seat order (first seat awarded first).
	Leaders    []protocol.AgentID
	TotalVotes int
	Rounds     int
}

// Election runs the Tier-1 election for one epoch: candidacy registration,
// ballot collection, and an Instant-Runoff tally with seat quotas.
type Election struct {
	mu         sync.Mutex
	config     ElectionConfig
	epoch      uint64
	candidates map[protocol.AgentID]*Candidate
	ballots    map[protocol.AgentID][]protocol.AgentID // voter -> rankings
	finalized  bool
	result     *ElectionResult
}

// NewElection creates an election for the given epoch.
func NewElection(config ElectionConfig, epoch uint64) *Election {
	if config.Seats <= 0 {
		config.Seats = protocol.DefaultBranchingFactor
	}
	return &Election{
		config:     config,
		epoch:      epoch,
		candidates: make(map[protocol.AgentID]*Candidate),
		ballots:    make(map[protocol.AgentID][]protocol.AgentID),
	}
}

// RegisterCandidate admits a candidacy announcement. Candidates below the
// composite-score or uptime floor are rejected with InsufficientReputation.
// When the pool is full, the weakest candidate is displaced only by a
// stronger one.
func (e *Election) RegisterCandidate(params *protocol.CandidacyParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finalized {
		return protocol.NewError(protocol.KindInvalidRequest, "election for epoch %d already finalized", e.epoch)
	}
	if params.Epoch != e.epoch {
		return protocol.NewError(protocol.KindEpochMismatch, "candidacy epoch %d, election epoch %d", params.Epoch, e.epoch)
	}

	composite := params.Score.Composite()
	if composite < e.config.MinCandidacyScore {
		return protocol.NewError(protocol.KindInsufficientReputation,
			"composite %.3f below minimum %.3f", composite, e.config.MinCandidacyScore)
	}
	if params.Score.Uptime < e.config.MinUptime {
		return protocol.NewError(protocol.KindInsufficientReputation,
			"uptime %.3f below minimum %.3f", params.Score.Uptime, e.config.MinUptime)
	}

	if len(e.candidates) >= e.config.MaxCandidates {
		weakestID, weakestScore := protocol.AgentID(""), 2.0
		for id, c := range e.candidates {
			if c.Composite < weakestScore {
				weakestID, weakestScore = id, c.Composite
			}
		}
		if composite <= weakestScore {
			return protocol.NewError(protocol.KindInsufficientReputation, "candidate pool full")
		}
		delete(e.candidates, weakestID)
	}

	e.candidates[params.AgentID] = &Candidate{
		AgentID:   params.AgentID,
		Score:     params.Score,
		Composite: composite,
		Location:  params.LocationVector,
	}
	return nil
}

// RecordVote admits a ranked ballot. A candidate ranking themselves first is
// rejected with SelfVoteProhibited; a later ballot from the same voter
// overwrites the earlier one.
func (e *Election) RecordVote(vote *protocol.ElectionVoteParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finalized {
		return protocol.NewError(protocol.KindInvalidRequest, "election for epoch %d already finalized", e.epoch)
	}
	if vote.Epoch != e.epoch {
		return protocol.NewError(protocol.KindEpochMismatch, "vote epoch %d, election epoch %d", vote.Epoch, e.epoch)
	}
	if len(vote.CandidateRankings) == 0 {
		return protocol.NewError(protocol.KindInvalidParams, "empty rankings")
	}

	// Self-first ballots from candidates are discarded.
	if _, isCandidate := e.candidates[vote.Voter]; isCandidate && vote.CandidateRankings[0] == vote.Voter {
		return protocol.NewError(protocol.KindSelfVoteProhibited, "voter %s ranked themselves first", vote.Voter)
	}

	rankings := make([]protocol.AgentID, len(vote.CandidateRankings))
	copy(rankings, vote.CandidateRankings)
	e.ballots[vote.Voter] = rankings
	return nil
}

// Candidates returns the registered candidates ordered by composite score
// descending (DID ascending on ties), the natural ballot order for a voter
// with no further preference signal.
func (e *Election) Candidates() []Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	surviving := make(map[protocol.AgentID]bool, len(e.candidates))
	for id := range e.candidates {
		surviving[id] = true
	}
	ranked := e.rankByComposite(surviving)
	out := make([]Candidate, 0, len(ranked))
	for _, id := range ranked {
		out = append(out, *e.candidates[id])
	}
	return out
}

// CandidateCount returns the number of registered candidates.
func (e *Election) CandidateCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.candidates)
}

// VoteCount returns the number of ballots received.
func (e *Election) VoteCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ballots)
}

// Tally runs the IRV seat allocation and finalizes the election.
//
// Each round counts every ballot's top-ranked surviving candidate. A
// candidate whose first-choice count exceeds ballots/seats wins a seat and
// is removed, redistributing their ballots; otherwise the candidate with the
// fewest first choices is eliminated. Ties break on higher composite score
// and then lexicographic DID, making the tally deterministic for identical
// ballot inputs. The tally ends when all seats fill or the pool empties;
// remaining seats go to surviving candidates in composite order.
func (e *Election) Tally() (*ElectionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finalized {
		return e.result, nil
	}
	if len(e.candidates) == 0 {
		return nil, protocol.NewError(protocol.KindInvalidRequest, "no candidates for epoch %d", e.epoch)
	}

	surviving := make(map[protocol.AgentID]bool, len(e.candidates))
	for id := range e.candidates {
		surviving[id] = true
	}

	var leaders []protocol.AgentID
	quota := float64(len(e.ballots)) / float64(e.config.Seats)
	rounds := 0

	for len(leaders) < e.config.Seats && len(surviving) > 0 {
		// When survivors fit in the remaining seats, seat them by score.
		if len(surviving) <= e.config.Seats-len(leaders) {
			leaders = append(leaders, e.rankByComposite(surviving)...)
			break
		}

		rounds++
		counts := e.firstChoiceCounts(surviving)

		if winner, ok := e.quotaWinner(counts, quota); ok {
			leaders = append(leaders, winner)
			delete(surviving, winner)
			continue
		}

		loser := e.pickLoser(counts, surviving)
		delete(surviving, loser)
	}

	e.finalized = true
	e.result = &ElectionResult{
		Epoch:      e.epoch,
		Leaders:    leaders,
		TotalVotes: len(e.ballots),
		Rounds:     rounds,
	}
	return e.result, nil
}

// firstChoiceCounts tallies each ballot's top surviving choice.
func (e *Election) firstChoiceCounts(surviving map[protocol.AgentID]bool) map[protocol.AgentID]int {
	counts := make(map[protocol.AgentID]int, len(surviving))
	for id := range surviving {
		counts[id] = 0
	}
	for _, rankings := range e.ballots {
		for _, choice := range rankings {
			if surviving[choice] {
				counts[choice]++
				break
			}
		}
	}
	return counts
}

// quotaWinner returns the candidate exceeding the seat quota, preferring the
// highest count and breaking ties on composite then DID.
func (e *Election) quotaWinner(counts map[protocol.AgentID]int, quota float64) (protocol.AgentID, bool) {
	var winner protocol.AgentID
	found := false
	for id, count := range counts {
		if float64(count) <= quota {
			continue
		}
		if !found || e.beats(id, winner, counts) {
			winner, found = id, true
		}
	}
	return winner, found
}

// pickLoser returns the candidate to eliminate: fewest first choices, ties
// broken by lower composite, then by higher DID (so the lexicographically
// smaller DID survives).
func (e *Election) pickLoser(counts map[protocol.AgentID]int, surviving map[protocol.AgentID]bool) protocol.AgentID {
	var loser protocol.AgentID
	first := true
	for id := range surviving {
		if first {
			loser, first = id, false
			continue
		}
		if e.losesTo(id, loser, counts) {
			loser = id
		}
	}
	return loser
}

// beats reports whether a outranks b as a seat winner.
func (e *Election) beats(a, b protocol.AgentID, counts map[protocol.AgentID]int) bool {
	if counts[a] != counts[b] {
		return counts[a] > counts[b]
	}
	ca, cb := e.candidates[a].Composite, e.candidates[b].Composite
	if ca != cb {
		return ca > cb
	}
	return a < b
}

// losesTo reports whether a is a weaker survivor than b.
func (e *Election) losesTo(a, b protocol.AgentID, counts map[protocol.AgentID]int) bool {
	if counts[a] != counts[b] {
		return counts[a] < counts[b]
	}
	ca, cb := e.candidates[a].Composite, e.candidates[b].Composite
	if ca != cb {
		return ca < cb
	}
	return a > b
}

// rankByComposite returns the surviving candidates ordered by composite
// score descending, DID ascending on ties.
func (e *Election) rankByComposite(surviving map[protocol.AgentID]bool) []protocol.AgentID {
	out := make([]protocol.AgentID, 0, len(surviving))
	for id := range surviving {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := e.candidates[out[i]].Composite, e.candidates[out[j]].Composite
		if ci != cj {
			return ci > cj
		}
		return out[i] < out[j]
	})
	return out
}
