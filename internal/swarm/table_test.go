package swarm

import (
	"crypto/rand"
	"testing"
	"time"
)

func randomNodeID(t *testing.T) NodeID {
	t.Helper()
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return id
}

func TestTableAddAndGet(t *testing.T) {
	self := randomNodeID(t)
	rt := NewRoutingTable(self, 20)

	peer := PeerInfo{ID: randomNodeID(t), Address: "127.0.0.1:1234"}
	rt.Add(peer)

	got, ok := rt.Get(peer.ID)
	if !ok || got.Address != "127.0.0.1:1234" {
		t.Fatalf("get = %+v ok=%v", got, ok)
	}
	if rt.Size() != 1 {
		t.Fatalf("size = %d", rt.Size())
	}

	// The local node never enters its own table.
	rt.Add(PeerInfo{ID: self})
	if rt.Size() != 1 {
		t.Fatal("self should not be added")
	}
}

func TestTableBucketCapacity(t *testing.T) {
	self := NodeID{}
	rt := NewRoutingTable(self, 2)

	// Three peers in the same bucket (same leading bit).
	var p1, p2, p3 NodeID
	p1[0], p2[0], p3[0] = 0x80, 0x81, 0x82
	rt.Add(PeerInfo{ID: p1})
	rt.Add(PeerInfo{ID: p2})
	rt.Add(PeerInfo{ID: p3}) // bucket full: dropped

	if rt.Size() != 2 {
		t.Fatalf("size = %d, want 2 (full bucket drops newcomers)", rt.Size())
	}
	if _, ok := rt.Get(p3); ok {
		t.Fatal("p3 should have been dropped")
	}

	// Re-adding an existing peer refreshes it instead of dropping.
	rt.Add(PeerInfo{ID: p1, Address: "refreshed"})
	got, _ := rt.Get(p1)
	if got.Address != "refreshed" {
		t.Fatal("existing peer not refreshed")
	}
}

func TestTableClosestN(t *testing.T) {
	self := NodeID{}
	rt := NewRoutingTable(self, 20)

	var near, mid, far NodeID
	near[31] = 0x01
	mid[16] = 0x01
	far[0] = 0x80
	for _, id := range []NodeID{far, near, mid} {
		rt.Add(PeerInfo{ID: id})
	}

	closest := rt.ClosestN(self, 2)
	if len(closest) != 2 {
		t.Fatalf("closest = %d peers", len(closest))
	}
	if closest[0].ID != near || closest[1].ID != mid {
		t.Fatal("peers not ordered by XOR distance")
	}
}

func TestTableRemove(t *testing.T) {
	rt := NewRoutingTable(randomNodeID(t), 20)
	peer := PeerInfo{ID: randomNodeID(t)}
	rt.Add(peer)
	rt.Remove(peer.ID)
	if _, ok := rt.Get(peer.ID); ok {
		t.Fatal("removed peer still present")
	}
}

func TestTableBucketPopulations(t *testing.T) {
	self := NodeID{}
	rt := NewRoutingTable(self, 20)

	var msb NodeID
	msb[0] = 0x80
	rt.Add(PeerInfo{ID: msb})

	pops := rt.BucketPopulations()
	if len(pops) != NumBuckets {
		t.Fatalf("populations length = %d", len(pops))
	}
	if pops[0] != 1 {
		t.Fatalf("bucket 0 population = %d", pops[0])
	}
	total := 0
	for _, p := range pops {
		total += p
	}
	if total != rt.Size() {
		t.Fatalf("population sum %d != size %d", total, rt.Size())
	}
}

func TestTableStaleBuckets(t *testing.T) {
	rt := NewRoutingTable(randomNodeID(t), 20)
	time.Sleep(10 * time.Millisecond)
	stale := rt.StaleBuckets(time.Millisecond)
	if len(stale) != NumBuckets {
		t.Fatalf("stale = %d, want all buckets", len(stale))
	}
}
