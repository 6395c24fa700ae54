package hierarchy

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// LeaderLocation is a Tier-1 leader's advertised position and capacity.
type LeaderLocation struct {
	AgentID     protocol.AgentID
	Coordinates protocol.VivaldiCoordinates
	HasCoords   bool
	Capacity    uint64
	CurrentLoad uint64
}

// Assignment maps an agent to its chosen leader.
type Assignment struct {
	AgentID        protocol.AgentID
	LeaderID       protocol.AgentID
	EstimatedRTTMs float64
}

// Cluster assigns agents to the Tier-1 leader with the lowest network
// distance. Distance is the Vivaldi coordinate distance when both sides have
// coordinates; otherwise it falls back to the lexicographic distance between
// the SHA-256 hashes of the two DIDs. Leaders at capacity overflow to the
// next closest.
type Cluster struct {
	mu          sync.Mutex
	leaders     map[protocol.AgentID]*LeaderLocation
	coords      map[protocol.AgentID]protocol.VivaldiCoordinates
	assignments map[protocol.AgentID]Assignment
}

// NewCluster creates an empty cluster map.
func NewCluster() *Cluster {
	return &Cluster{
		leaders:     make(map[protocol.AgentID]*LeaderLocation),
		coords:      make(map[protocol.AgentID]protocol.VivaldiCoordinates),
		assignments: make(map[protocol.AgentID]Assignment),
	}
}

// RegisterLeader adds or updates a leader. Existing load carries over.
func (c *Cluster) RegisterLeader(id protocol.AgentID, coords *protocol.VivaldiCoordinates, capacity uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc := &LeaderLocation{AgentID: id, Capacity: capacity}
	if coords != nil {
		loc.Coordinates = *coords
		loc.HasCoords = true
	}
	if prev, ok := c.leaders[id]; ok {
		loc.CurrentLoad = prev.CurrentLoad
	}
	c.leaders[id] = loc
}

// RemoveLeader drops a leader and orphans its assignments.
func (c *Cluster) RemoveLeader(id protocol.AgentID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.leaders, id)
	for agent, a := range c.assignments {
		if a.LeaderID == id {
			delete(c.assignments, agent)
		}
	}
}

// UpdateCoordinates records an agent's Vivaldi position.
func (c *Cluster) UpdateCoordinates(id protocol.AgentID, coords protocol.VivaldiCoordinates) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coords[id] = coords
}

// Assign places an agent with its closest leader that still has capacity,
// falling back to the closest regardless when all are full.
func (c *Cluster) Assign(agent protocol.AgentID) (Assignment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.leaders) == 0 {
		return Assignment{}, protocol.NewError(protocol.KindPeerUnreachable, "no leaders available for clustering")
	}

	type scored struct {
		id   protocol.AgentID
		dist float64
		free bool
	}
	agentCoords, hasCoords := c.coords[agent]
	options := make([]scored, 0, len(c.leaders))
	for id, leader := range c.leaders {
		var dist float64
		if hasCoords && leader.HasCoords {
			dist = agentCoords.DistanceTo(leader.Coordinates)
		} else {
			dist = hashDistance(agent, id)
		}
		options = append(options, scored{id: id, dist: dist, free: leader.CurrentLoad < leader.Capacity})
	}
	sort.Slice(options, func(i, j int) bool {
		if options[i].dist != options[j].dist {
			return options[i].dist < options[j].dist
		}
		return options[i].id < options[j].id
	})

	chosen := options[0]
	for _, opt := range options {
		if opt.free {
			chosen = opt
			break
		}
	}

	// Release the previous assignment's load when reassigning.
	if prev, ok := c.assignments[agent]; ok {
		if leader, ok := c.leaders[prev.LeaderID]; ok && leader.CurrentLoad > 0 {
			leader.CurrentLoad--
		}
	}
	c.leaders[chosen.id].CurrentLoad++

	assignment := Assignment{AgentID: agent, LeaderID: chosen.id, EstimatedRTTMs: chosen.dist}
	c.assignments[agent] = assignment
	return assignment, nil
}

// Rebalance clears loads and reassigns every known agent, used after leader
// changes.
func (c *Cluster) Rebalance() ([]Assignment, error) {
	c.mu.Lock()
	for _, leader := range c.leaders {
		leader.CurrentLoad = 0
	}
	c.assignments = make(map[protocol.AgentID]Assignment)
	agents := make([]protocol.AgentID, 0, len(c.coords))
	for id := range c.coords {
		agents = append(agents, id)
	}
	c.mu.Unlock()

	sort.Slice(agents, func(i, j int) bool { return agents[i] < agents[j] })
	out := make([]Assignment, 0, len(agents))
	for _, agent := range agents {
		a, err := c.Assign(agent)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Branch returns the agents assigned to a leader.
func (c *Cluster) Branch(leaderID protocol.AgentID) []protocol.AgentID {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.AgentID
	for agent, a := range c.assignments {
		if a.LeaderID == leaderID {
			out = append(out, agent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AssignmentOf returns an agent's current assignment.
func (c *Cluster) AssignmentOf(agent protocol.AgentID) (Assignment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.assignments[agent]
	return a, ok
}

// LeaderCount returns the number of registered leaders.
func (c *Cluster) LeaderCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.leaders)
}

// hashDistance is the coordinate fallback: the lexicographic distance
// between the SHA-256 hashes of two DIDs, folded into a float so it can be
// compared against Vivaldi distances within the fallback-only case.
func hashDistance(a, b protocol.AgentID) float64 {
	ha, hb := a.Hash(), b.Hash()
	cmp := bytes.Compare(ha[:], hb[:])
	if cmp == 0 {
		return 0
	}
	var va, vb uint64
	for i := 0; i < 8; i++ {
		va = va<<8 | uint64(ha[i])
		vb = vb<<8 | uint64(hb[i])
	}
	if cmp < 0 {
		return float64(vb - va)
	}
	return float64(va - vb)
}
