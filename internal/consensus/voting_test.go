package consensus

import (
	"testing"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

func proposalsFor(entries map[string]string) []RevealedProposal {
	out := make([]RevealedProposal, 0, len(entries))
	for planID, proposer := range entries {
		plan := protocol.Plan{PlanID: planID, Proposer: protocol.AgentID(proposer)}
		out = append(out, RevealedProposal{Proposer: protocol.AgentID(proposer), Plan: plan})
	}
	return out
}

func rankedVote(voter, taskID string, epoch uint64, rankings ...string) *protocol.RankedVote {
	return &protocol.RankedVote{
		Voter:        protocol.AgentID(voter),
		TaskID:       taskID,
		Epoch:        epoch,
		Rankings:     rankings,
		CriticScores: map[string]protocol.CriticScore{},
	}
}

func TestIrvClearMajority(t *testing.T) {
	v := NewVoting(VotingConfig{MinVotes: 1}, "t1", 1)
	v.SetProposals(proposalsFor(map[string]string{"planA": "alice", "planB": "bob"}))

	for _, vote := range []*protocol.RankedVote{
		rankedVote("v1", "t1", 1, "planA", "planB"),
		rankedVote("v2", "t1", 1, "planA", "planB"),
		rankedVote("v3", "t1", 1, "planA", "planB"),
		rankedVote("v4", "t1", 1, "planB", "planA"),
	} {
		if err := v.RecordVote(vote); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}

	result, err := v.Tally()
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if result.Winner != "planA" || result.Rounds != 1 {
		t.Fatalf("winner = %s in %d rounds", result.Winner, result.Rounds)
	}
	if result.WinningProposer != "alice" {
		t.Fatalf("prime orchestrator = %s", result.WinningProposer)
	}
}

func TestIrvElimination(t *testing.T) {
	v := NewVoting(VotingConfig{MinVotes: 1}, "t1", 1)
	v.SetProposals(proposalsFor(map[string]string{"planA": "alice", "planB": "bob", "planC": "carol"}))

	// A:2, B:2, C:1 → C eliminated → its ballot flows to B → B wins 3:2.
	for _, vote := range []*protocol.RankedVote{
		rankedVote("v1", "t1", 1, "planA", "planB", "planC"),
		rankedVote("v2", "t1", 1, "planA", "planC", "planB"),
		rankedVote("v3", "t1", 1, "planB", "planA", "planC"),
		rankedVote("v4", "t1", 1, "planB", "planC", "planA"),
		rankedVote("v5", "t1", 1, "planC", "planB", "planA"),
	} {
		if err := v.RecordVote(vote); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}

	result, err := v.Tally()
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if result.Winner != "planB" {
		t.Fatalf("winner = %s, want planB", result.Winner)
	}
	if len(result.EliminationOrder) != 1 || result.EliminationOrder[0] != "planC" {
		t.Fatalf("elimination order = %v", result.EliminationOrder)
	}
}

// Scenario: three nodes, perfectly rotated ballots. First-choice counts are
// all 1; ties break by lower plan ID, so elimination and the final winner
// are deterministic across replicas.
func TestIrvThreeWayRotation(t *testing.T) {
	run := func() string {
		v := NewVoting(VotingConfig{ProhibitSelfVote: true, MinVotes: 1}, "T", 1)
		v.SetProposals(proposalsFor(map[string]string{"P_A": "A", "P_B": "B", "P_C": "C"}))
		for _, vote := range []*protocol.RankedVote{
			rankedVote("A", "T", 1, "P_B", "P_C", "P_A"),
			rankedVote("B", "T", 1, "P_C", "P_A", "P_B"),
			rankedVote("C", "T", 1, "P_A", "P_B", "P_C"),
		} {
			if err := v.RecordVote(vote); err != nil {
				t.Fatalf("vote: %v", err)
			}
		}
		result, err := v.Tally()
		if err != nil {
			t.Fatalf("tally: %v", err)
		}
		return result.Winner
	}

	first := run()
	// P_A has the lowest plan ID, so it is eliminated first; its ballot
	// (from C) flows to P_B, which then holds a majority.
	if first != "P_B" {
		t.Fatalf("winner = %s, want P_B", first)
	}
	for i := 0; i < 5; i++ {
		if run() != first {
			t.Fatal("tally not deterministic across replicas")
		}
	}
}

func TestSelfVoteRejected(t *testing.T) {
	v := NewVoting(DefaultVotingConfig(), "t1", 1)
	v.SetProposals(proposalsFor(map[string]string{"planA": "alice", "planB": "bob"}))

	err := v.RecordVote(rankedVote("alice", "t1", 1, "planA", "planB"))
	if !protocol.IsKind(err, protocol.KindSelfVoteProhibited) {
		t.Fatalf("expected SelfVoteProhibited, got %v", err)
	}
	// Ranking someone else first is allowed.
	if err := v.RecordVote(rankedVote("alice", "t1", 1, "planB", "planA")); err != nil {
		t.Fatalf("legal ballot rejected: %v", err)
	}
}

func TestUnknownPlansFiltered(t *testing.T) {
	v := NewVoting(VotingConfig{MinVotes: 1}, "t1", 1)
	v.SetProposals(proposalsFor(map[string]string{"planA": "alice"}))

	if err := v.RecordVote(rankedVote("v1", "t1", 1, "bogus", "planA")); err != nil {
		t.Fatalf("ballot with partial unknowns rejected: %v", err)
	}
	err := v.RecordVote(rankedVote("v2", "t1", 1, "bogus1", "bogus2"))
	if !protocol.IsKind(err, protocol.KindInvalidParams) {
		t.Fatalf("expected InvalidParams for all-unknown ballot, got %v", err)
	}
}

func TestCriticTieBreakOnElimination(t *testing.T) {
	v := NewVoting(VotingConfig{MinVotes: 1}, "t1", 1)
	v.SetProposals(proposalsFor(map[string]string{"planA": "alice", "planB": "bob", "planC": "carol"}))

	// planB and planC tie at one first-choice each; planB has the weaker
	// critic aggregate, so it is eliminated first.
	voteWithCritics := func(voter string, rankings []string, scores map[string]protocol.CriticScore) *protocol.RankedVote {
		rv := rankedVote(voter, "t1", 1, rankings...)
		rv.CriticScores = scores
		return rv
	}
	weakB := map[string]protocol.CriticScore{
		"planB": {Feasibility: 0.1, Parallelism: 0.1, Completeness: 0.1, Risk: 0.9},
		"planC": {Feasibility: 0.9, Parallelism: 0.9, Completeness: 0.9, Risk: 0.1},
	}
	if err := v.RecordVote(voteWithCritics("v1", []string{"planA"}, weakB)); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := v.RecordVote(voteWithCritics("v2", []string{"planA"}, weakB)); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := v.RecordVote(voteWithCritics("v3", []string{"planB", "planA"}, weakB)); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := v.RecordVote(voteWithCritics("v4", []string{"planC", "planA"}, weakB)); err != nil {
		t.Fatalf("vote: %v", err)
	}

	result, err := v.Tally()
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if len(result.EliminationOrder) == 0 || result.EliminationOrder[0] != "planB" {
		t.Fatalf("elimination order = %v, want planB first", result.EliminationOrder)
	}
	if result.Winner != "planA" {
		t.Fatalf("winner = %s", result.Winner)
	}
}

func TestCriticFallbackWinner(t *testing.T) {
	v := NewVoting(VotingConfig{MinVotes: 1}, "t1", 1)
	v.SetProposals(proposalsFor(map[string]string{"planA": "alice", "planB": "bob"}))

	rv := rankedVote("v1", "t1", 1, "planA")
	rv.CriticScores = map[string]protocol.CriticScore{
		"planA": {Feasibility: 0.2, Parallelism: 0.2, Completeness: 0.2, Risk: 0.8},
		"planB": {Feasibility: 0.9, Parallelism: 0.9, Completeness: 0.9, Risk: 0.1},
	}
	if err := v.RecordVote(rv); err != nil {
		t.Fatalf("vote: %v", err)
	}

	result, err := v.CriticWinner()
	if err != nil {
		t.Fatalf("critic winner: %v", err)
	}
	if result.Winner != "planB" || !result.CriticFallback {
		t.Fatalf("critic fallback = %+v, want planB", result)
	}
}

func TestSenateDeterministic(t *testing.T) {
	below := []protocol.AgentID{
		"did:swarm:01", "did:swarm:02", "did:swarm:03", "did:swarm:04",
		"did:swarm:05", "did:swarm:06", "did:swarm:07", "did:swarm:08",
	}

	v1 := NewVoting(DefaultVotingConfig(), "task-x", 7)
	v2 := NewVoting(DefaultVotingConfig(), "task-x", 7)
	s1 := v1.SelectSenate(below, 3)
	s2 := v2.SelectSenate(below, 3)

	// min(3, 8/2) = 3 members, identical across replicas.
	if len(s1) != 3 || len(s2) != 3 {
		t.Fatalf("senate sizes = %d / %d, want 3", len(s1), len(s2))
	}
	for i := range s1 {
		if s1[i] != s2[i] {
			t.Fatalf("senates differ: %v vs %v", s1, s2)
		}
	}

	// A different task draws a different sample (with overwhelming
	// probability for this input size — pinned by the fixed hash).
	v3 := NewVoting(DefaultVotingConfig(), "task-y", 7)
	s3 := v3.SelectSenate(below, 3)
	same := len(s3) == len(s1)
	if same {
		for i := range s1 {
			if s1[i] != s3[i] {
				same = false
				break
			}
		}
	}
	if same {
		t.Fatal("senate should depend on task id")
	}

	if !v1.InSenate(s1[0]) {
		t.Fatal("drawn member not recognized")
	}
}

func TestSenateSizeBound(t *testing.T) {
	v := NewVoting(DefaultVotingConfig(), "t", 1)
	// tier_below_count/2 = 1 < limit.
	s := v.SelectSenate([]protocol.AgentID{"did:swarm:a", "did:swarm:b"}, 10)
	if len(s) != 1 {
		t.Fatalf("senate = %d, want 1", len(s))
	}
	// Empty tier below → empty senate.
	v2 := NewVoting(DefaultVotingConfig(), "t", 1)
	if s := v2.SelectSenate(nil, 10); len(s) != 0 {
		t.Fatalf("empty tier below should draw no senate, got %v", s)
	}
}
