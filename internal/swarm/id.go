// Package swarm is the node runtime: the Kademlia-style key space and
// routing table used for peer lookup and size estimation, the WebSocket
// transport carrying signed envelopes, the topic-scoped gossip layer, the
// router that dispatches inbound traffic to subsystems, and the Node that
// ties the coordination core together behind the facade operations.
package swarm

import (
	"crypto/sha256"
	"encoding/hex"
	"math/bits"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// IDLength is the byte length of a NodeID (256 bits).
const IDLength = 32

// NodeID is a 256-bit identifier in the DHT key space. Agents, content, and
// tasks all map into the same space so any record can be located by XOR
// distance.
type NodeID [IDLength]byte

// NodeIDFromAgent maps an agent DID into the key space.
func NodeIDFromAgent(agent protocol.AgentID) NodeID {
	return agent.Hash()
}

// ContentKey maps a content CID into the key space.
func ContentKey(cid string) NodeID {
	return sha256.Sum256([]byte("content:" + cid))
}

// TaskKey maps a task ID into the key space.
func TaskKey(taskID string) NodeID {
	return sha256.Sum256([]byte("task:" + taskID))
}

// SwarmKey maps a swarm record into the key space.
func SwarmKey(swarmID string) NodeID {
	return sha256.Sum256([]byte("swarm:" + swarmID))
}

// Hex returns the full lowercase hex form of the ID.
func (id NodeID) Hex() string {
	return hex.EncodeToString(id[:])
}

// Short returns an abbreviated hex form for logs.
func (id NodeID) Short() string {
	return hex.EncodeToString(id[:4])
}

// XOR returns the Kademlia distance between two IDs: d(a,b) = a XOR b.
func XOR(a, b NodeID) NodeID {
	var result NodeID
	for i := 0; i < IDLength; i++ {
		result[i] = a[i] ^ b[i]
	}
	return result
}

// DistanceLess reports whether a is strictly closer to target than b,
// comparing XOR distances byte-by-byte from the most significant byte.
func DistanceLess(target, a, b NodeID) bool {
	da := XOR(target, a)
	db := XOR(target, b)
	for i := 0; i < IDLength; i++ {
		if da[i] != db[i] {
			return da[i] < db[i]
		}
	}
	return false
}

// BucketIndex returns the k-bucket index of a peer relative to self: the
// position of the highest bit set in XOR(self, other), counting from the
// most significant bit. Identical IDs land in the closest bucket (255).
func BucketIndex(self, other NodeID) int {
	dist := XOR(self, other)
	for i := 0; i < IDLength; i++ {
		if dist[i] != 0 {
			return i*8 + bits.LeadingZeros8(dist[i])
		}
	}
	return 255
}
