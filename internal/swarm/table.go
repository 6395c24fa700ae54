package swarm

import (
	"sort"
	"sync"
	"time"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// NumBuckets is the number of k-buckets (one per bit of the ID space).
const NumBuckets = 256

// PeerInfo describes a known peer.
type PeerInfo struct {
	ID          NodeID
	AgentID     protocol.AgentID
	Address     string
	PublicKey   []byte
	Coordinates *protocol.VivaldiCoordinates
	LastSeen    time.Time
}

// bucket is a single k-bucket.
type bucket struct {
	peers       []PeerInfo
	lastRefresh time.Time
}

// RoutingTable is a Kademlia routing table with 256 k-buckets. Long-lived
// contacts are preferred: a full bucket drops new peers.
type RoutingTable struct {
	mu      sync.RWMutex
	self    NodeID
	k       int
	buckets [NumBuckets]*bucket
}

// NewRoutingTable creates a table for the local node with bucket capacity k.
func NewRoutingTable(self NodeID, k int) *RoutingTable {
	rt := &RoutingTable{self: self, k: k}
	now := time.Now()
	for i := 0; i < NumBuckets; i++ {
		rt.buckets[i] = &bucket{peers: make([]PeerInfo, 0), lastRefresh: now}
	}
	return rt
}

// Self returns the local node's ID.
func (rt *RoutingTable) Self() NodeID {
	return rt.self
}

// Add inserts a peer into its k-bucket. An existing peer moves to the tail
// (most recently seen) with refreshed metadata; a full bucket drops the
// newcomer.
func (rt *RoutingTable) Add(peer PeerInfo) {
	if peer.ID == rt.self {
		return
	}
	if peer.LastSeen.IsZero() {
		peer.LastSeen = time.Now()
	}

	idx := BucketIndex(rt.self, peer.ID)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := rt.buckets[idx]
	for i, p := range b.peers {
		if p.ID == peer.ID {
			b.peers = append(b.peers[:i], b.peers[i+1:]...)
			b.peers = append(b.peers, peer)
			b.lastRefresh = time.Now()
			return
		}
	}
	if len(b.peers) < rt.k {
		b.peers = append(b.peers, peer)
		b.lastRefresh = time.Now()
	}
}

// Remove deletes a peer from the table.
func (rt *RoutingTable) Remove(id NodeID) {
	idx := BucketIndex(rt.self, id)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := rt.buckets[idx]
	for i, p := range b.peers {
		if p.ID == id {
			b.peers = append(b.peers[:i], b.peers[i+1:]...)
			return
		}
	}
}

// Get returns a peer by ID.
func (rt *RoutingTable) Get(id NodeID) (PeerInfo, bool) {
	idx := BucketIndex(rt.self, id)

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	for _, p := range rt.buckets[idx].peers {
		if p.ID == id {
			return p, true
		}
	}
	return PeerInfo{}, false
}

// ClosestN returns up to n peers closest to target by XOR distance.
func (rt *RoutingTable) ClosestN(target NodeID, n int) []PeerInfo {
	rt.mu.RLock()
	var all []PeerInfo
	for _, b := range rt.buckets {
		all = append(all, b.peers...)
	}
	rt.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return DistanceLess(target, all[i].ID, all[j].ID)
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// All returns every peer in the table.
func (rt *RoutingTable) All() []PeerInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var all []PeerInfo
	for _, b := range rt.buckets {
		all = append(all, b.peers...)
	}
	return all
}

// Size returns the total number of peers across all buckets.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	total := 0
	for _, b := range rt.buckets {
		total += len(b.peers)
	}
	return total
}

// BucketPopulations returns the peer count per shared-prefix depth, the
// input to swarm-size estimation: index i holds the number of peers whose
// IDs share an i-bit prefix with ours.
func (rt *RoutingTable) BucketPopulations() []int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]int, NumBuckets)
	for i, b := range rt.buckets {
		out[i] = len(b.peers)
	}
	return out
}

// StaleBuckets returns the indices of buckets unrefreshed for maxAge.
func (rt *RoutingTable) StaleBuckets(maxAge time.Duration) []int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	cutoff := time.Now().Add(-maxAge)
	var stale []int
	for i, b := range rt.buckets {
		if b.lastRefresh.Before(cutoff) {
			stale = append(stale, i)
		}
	}
	return stale
}
