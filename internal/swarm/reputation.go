package swarm

import (
	"sync"
	"time"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// Reputation tracks protocol violations per agent over a sliding window.
// Validation failures (bad signatures, stale epochs, invalid proofs of
// work) are never retried; the offending message is dropped and counted
// here, and the count depresses the agent's reputation component.
type Reputation struct {
	mu     sync.Mutex
	window time.Duration
	// violations: agent -> kind -> event timestamps.
	violations map[protocol.AgentID]map[protocol.ErrorKind][]time.Time
	// successes: agent -> accepted-message timestamps.
	successes map[protocol.AgentID][]time.Time
}

// NewReputation creates a tracker with a one-hour sliding window.
func NewReputation() *Reputation {
	return &Reputation{
		window:     time.Hour,
		violations: make(map[protocol.AgentID]map[protocol.ErrorKind][]time.Time),
		successes:  make(map[protocol.AgentID][]time.Time),
	}
}

// countedKind reports whether an error kind counts against reputation.
func countedKind(kind protocol.ErrorKind) bool {
	switch kind {
	case protocol.KindInvalidSignature, protocol.KindEpochMismatch,
		protocol.KindInvalidPoW, protocol.KindSelfVoteProhibited,
		protocol.KindDuplicateProposal, protocol.KindCommitRevealMismatch:
		return true
	}
	return false
}

// RecordViolation counts a dropped message against its sender. Unknown or
// uncounted kinds are ignored.
func (r *Reputation) RecordViolation(agent protocol.AgentID, kind protocol.ErrorKind) {
	if !countedKind(kind) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds, ok := r.violations[agent]
	if !ok {
		kinds = make(map[protocol.ErrorKind][]time.Time)
		r.violations[agent] = kinds
	}
	kinds[kind] = append(kinds[kind], time.Now())
}

// RecordSuccess counts a verified, accepted message from an agent.
func (r *Reputation) RecordSuccess(agent protocol.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes[agent] = append(r.successes[agent], time.Now())
}

// Violations returns the number of in-window violations for an agent.
func (r *Reputation) Violations(agent protocol.AgentID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(agent)
	total := 0
	for _, events := range r.violations[agent] {
		total += len(events)
	}
	return total
}

// Score returns the agent's reputation component in [0,1]: the in-window
// success fraction, with a neutral 0.5 for agents with no history.
func (r *Reputation) Score(agent protocol.AgentID) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(agent)

	bad := 0
	for _, events := range r.violations[agent] {
		bad += len(events)
	}
	good := len(r.successes[agent])
	if good+bad == 0 {
		return 0.5
	}
	return float64(good) / float64(good+bad)
}

func (r *Reputation) pruneLocked(agent protocol.AgentID) {
	cutoff := time.Now().Add(-r.window)
	if kinds, ok := r.violations[agent]; ok {
		for kind, events := range kinds {
			kinds[kind] = pruneBefore(events, cutoff)
			if len(kinds[kind]) == 0 {
				delete(kinds, kind)
			}
		}
		if len(kinds) == 0 {
			delete(r.violations, agent)
		}
	}
	if events, ok := r.successes[agent]; ok {
		r.successes[agent] = pruneBefore(events, cutoff)
		if len(r.successes[agent]) == 0 {
			delete(r.successes, agent)
		}
	}
}

func pruneBefore(events []time.Time, cutoff time.Time) []time.Time {
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
