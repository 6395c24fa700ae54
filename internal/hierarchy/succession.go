package hierarchy

import (
	"sort"
	"sync"
	"time"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// LeaderStatus tracks one monitored leader.
type LeaderStatus struct {
	LeaderID             protocol.AgentID
	LastSeen             time.Time
	Score                *protocol.NodeScore
	SuccessionInProgress bool
	// missed is reset to zero by every accepted heartbeat; nothing increments
	// it, and timeouts are judged from LastSeen.
	missed int
}

// SuccessionResult describes a confirmed leader replacement.
type SuccessionResult struct {
	FailedLeader protocol.AgentID
	NewLeader    protocol.AgentID
	BranchAgents []protocol.AgentID
	Epoch        uint64
}

// Monitor watches leader keep-alives and drives succession when a leader
// goes silent for the timeout (three missed intervals by default).
type Monitor struct {
	mu                sync.Mutex
	timeout           time.Duration
	keepaliveInterval time.Duration
	leaders           map[protocol.AgentID]*LeaderStatus
	branches          map[protocol.AgentID][]protocol.AgentID
	// highestSeen records the highest composite score passed to Watch or
	// RecordKeepalive. AcceptSuccession does not read it; it compares against
	// the branch maximum its caller supplies.
	highestSeen float64
	// lastSeq tracks the last keep-alive sequence number per sender so
	// out-of-order heartbeats from one sender are dropped.
	lastSeq map[protocol.AgentID]uint64
}

// NewMonitor creates a monitor with the given timeouts.
func NewMonitor(timeout, keepaliveInterval time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = protocol.DefaultLeaderTimeoutSecs * time.Second
	}
	if keepaliveInterval <= 0 {
		keepaliveInterval = protocol.DefaultKeepaliveIntervalSecs * time.Second
	}
	return &Monitor{
		timeout:           timeout,
		keepaliveInterval: keepaliveInterval,
		leaders:           make(map[protocol.AgentID]*LeaderStatus),
		branches:          make(map[protocol.AgentID][]protocol.AgentID),
		lastSeq:           make(map[protocol.AgentID]uint64),
	}
}

// Watch registers a leader for keep-alive monitoring.
func (m *Monitor) Watch(leaderID protocol.AgentID, score *protocol.NodeScore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaders[leaderID] = &LeaderStatus{
		LeaderID: leaderID,
		LastSeen: time.Now(),
		Score:    score,
	}
	if score != nil && score.Composite() > m.highestSeen {
		m.highestSeen = score.Composite()
	}
}

// Unwatch stops monitoring a leader.
func (m *Monitor) Unwatch(leaderID protocol.AgentID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leaders, leaderID)
	delete(m.branches, leaderID)
	delete(m.lastSeq, leaderID)
}

// SetBranch records the branch membership under a leader, used for
// succession announcements.
func (m *Monitor) SetBranch(leaderID protocol.AgentID, agents []protocol.AgentID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.branches[leaderID] = append([]protocol.AgentID(nil), agents...)
}

// Branch returns the known branch of a leader.
func (m *Monitor) Branch(leaderID protocol.AgentID) []protocol.AgentID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protocol.AgentID(nil), m.branches[leaderID]...)
}

// RecordKeepalive resets a leader's timeout. Heartbeats with a sequence
// number at or below the last seen one are dropped, preserving causal order
// within a sender. A leader that recovers mid-succession cancels it.
func (m *Monitor) RecordKeepalive(leaderID protocol.AgentID, seq uint64, score *protocol.NodeScore) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastSeq[leaderID]; ok && seq <= last {
		return false
	}
	m.lastSeq[leaderID] = seq

	status, ok := m.leaders[leaderID]
	if !ok {
		return false
	}
	status.LastSeen = time.Now()
	status.missed = 0
	status.SuccessionInProgress = false
	if score != nil {
		status.Score = score
		if score.Composite() > m.highestSeen {
			m.highestSeen = score.Composite()
		}
	}
	return true
}

// TimedOut returns the leaders whose silence has exceeded the timeout and
// marks them as undergoing succession. Callers invoke this on every
// keep-alive interval tick.
func (m *Monitor) TimedOut() []protocol.AgentID {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []protocol.AgentID
	for id, status := range m.leaders {
		if status.SuccessionInProgress {
			continue
		}
		if now.Sub(status.LastSeen) > m.timeout {
			status.SuccessionInProgress = true
			out = append(out, id)
		}
	}
	return out
}

// HasObservedTimeout reports whether this node has itself seen the leader go
// silent. Succession announcements are accepted only when this holds.
func (m *Monitor) HasObservedTimeout(leaderID protocol.AgentID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.leaders[leaderID]
	if !ok {
		return false
	}
	return status.SuccessionInProgress || time.Since(status.LastSeen) > m.timeout
}

// PickSuccessor orders the branch candidates by composite score (DID breaks
// ties) and returns the strongest as the proposed new leader.
func (m *Monitor) PickSuccessor(failedLeader protocol.AgentID, branchScores []protocol.NodeScore) (protocol.AgentID, error) {
	if len(branchScores) == 0 {
		return "", protocol.NewError(protocol.KindPeerUnreachable, "no candidates in branch of %s", failedLeader)
	}
	sorted := make([]protocol.NodeScore, len(branchScores))
	copy(sorted, branchScores)
	sort.Slice(sorted, func(i, j int) bool {
		ci, cj := sorted[i].Composite(), sorted[j].Composite()
		if ci != cj {
			return ci > cj
		}
		return sorted[i].AgentID < sorted[j].AgentID
	})
	return sorted[0].AgentID, nil
}

// AcceptSuccession validates an incoming succession announcement: the
// accepting node must itself have observed the leader timeout, and the new
// leader's composite score must be at least the highest score this node has
// recorded in the branch.
func (m *Monitor) AcceptSuccession(params *protocol.SuccessionParams, newLeaderScore float64, branchHighest float64) error {
	if !m.HasObservedTimeout(params.FailedLeader) {
		return protocol.NewError(protocol.KindInvalidRequest,
			"leader %s not observed as failed", params.FailedLeader)
	}
	if newLeaderScore < branchHighest {
		return protocol.NewError(protocol.KindInsufficientReputation,
			"successor score %.3f below branch best %.3f", newLeaderScore, branchHighest)
	}
	return nil
}

// Promote replaces the failed leader with the new one in the monitor: the
// new leader is watched, the old one dropped, and the branch reparented.
func (m *Monitor) Promote(result SuccessionResult, score *protocol.NodeScore) {
	m.mu.Lock()
	branch := m.branches[result.FailedLeader]
	m.mu.Unlock()

	m.Unwatch(result.FailedLeader)
	m.Watch(result.NewLeader, score)

	reparented := make([]protocol.AgentID, 0, len(branch))
	for _, id := range branch {
		if id != result.NewLeader {
			reparented = append(reparented, id)
		}
	}
	m.SetBranch(result.NewLeader, reparented)
}

// KeepaliveInterval returns the heartbeat period.
func (m *Monitor) KeepaliveInterval() time.Duration {
	return m.keepaliveInterval
}
