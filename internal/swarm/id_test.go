package swarm

import (
	"testing"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

func TestXORDistance(t *testing.T) {
	var a, b NodeID
	a[0] = 0xff
	b[0] = 0x0f

	d := XOR(a, b)
	if d[0] != 0xf0 {
		t.Fatalf("xor = %x", d[0])
	}
	if XOR(a, a) != (NodeID{}) {
		t.Fatal("distance to self must be zero")
	}
}

func TestDistanceLess(t *testing.T) {
	var target, near, far NodeID
	near[0] = 0x01
	far[0] = 0x80

	if !DistanceLess(target, near, far) {
		t.Fatal("near should be closer")
	}
	if DistanceLess(target, far, near) {
		t.Fatal("far should not be closer")
	}
	if DistanceLess(target, near, near) {
		t.Fatal("equal distance is not strictly less")
	}
}

func TestBucketIndex(t *testing.T) {
	var self, other NodeID
	other[0] = 0x80 // differs in the most significant bit
	if idx := BucketIndex(self, other); idx != 0 {
		t.Fatalf("msb bucket = %d", idx)
	}

	other[0] = 0
	other[31] = 0x01 // differs only in the least significant bit
	if idx := BucketIndex(self, other); idx != 255 {
		t.Fatalf("lsb bucket = %d", idx)
	}

	if idx := BucketIndex(self, self); idx != 255 {
		t.Fatalf("identical ids bucket = %d", idx)
	}
}

func TestKeyDerivations(t *testing.T) {
	agent := protocol.AgentID("did:swarm:abcdef")
	if NodeIDFromAgent(agent) != agent.Hash() {
		t.Fatal("agent key must be the DID hash")
	}
	if ContentKey("cid1") == TaskKey("cid1") {
		t.Fatal("content and task keys must not collide for equal ids")
	}
	if ContentKey("a") == ContentKey("b") {
		t.Fatal("distinct cids must map to distinct keys")
	}
	if SwarmKey("public") == ContentKey("public") {
		t.Fatal("swarm and content keys must not collide")
	}
}
