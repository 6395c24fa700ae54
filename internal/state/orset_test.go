package state

import (
	"math/rand"
	"sort"
	"testing"
)

func TestOrSetAddContains(t *testing.T) {
	s := NewOrSet[string]("n1")
	s.Add("hello")
	if !s.Contains("hello") {
		t.Fatal("added element should be present")
	}
	if s.Contains("world") {
		t.Fatal("absent element should not be present")
	}
}

func TestOrSetRemoveAndReAdd(t *testing.T) {
	s := NewOrSet[string]("n1")
	s.Add("x")
	s.Remove("x")
	if s.Contains("x") {
		t.Fatal("removed element should be absent")
	}
	s.Add("x")
	if !s.Contains("x") {
		t.Fatal("re-add must restore the element")
	}
}

func TestOrSetConcurrentAddWins(t *testing.T) {
	a := NewOrSet[string]("a")
	b := NewOrSet[string]("b")

	a.Add("x")
	b.Add("x")
	a.Merge(b)
	b.Merge(a)

	// a re-adds concurrently with b removing.
	a.Add("x")
	b.Remove("x")

	a.Merge(b)
	if !a.Contains("x") {
		t.Fatal("concurrent add must win over remove")
	}
}

func TestOrSetMergeUnion(t *testing.T) {
	a := NewOrSet[string]("a")
	b := NewOrSet[string]("b")
	a.Add("1")
	b.Add("2")
	a.Merge(b)
	if !a.Contains("1") || !a.Contains("2") {
		t.Fatalf("merge should union elements, got %v", a.Elements())
	}
	if a.Len() != 2 {
		t.Fatalf("len = %d, want 2", a.Len())
	}
}

// Convergence property: two replicas receiving the same operations in any
// order converge to the same query result.
func TestOrSetConvergenceUnderReordering(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	values := []string{"a", "b", "c", "d", "e"}

	for trial := 0; trial < 50; trial++ {
		// Generate a random op sequence on two origin replicas.
		origin1 := NewOrSet[string]("o1")
		origin2 := NewOrSet[string]("o2")
		for i := 0; i < 20; i++ {
			v := values[rng.Intn(len(values))]
			target := origin1
			if rng.Intn(2) == 0 {
				target = origin2
			}
			if rng.Intn(3) == 0 {
				target.Remove(v)
			} else {
				target.Add(v)
			}
		}

		// Replica A merges origin1 then origin2; replica B the reverse.
		replicaA := NewOrSet[string]("ra")
		replicaA.Merge(origin1)
		replicaA.Merge(origin2)

		replicaB := NewOrSet[string]("rb")
		replicaB.Merge(origin2)
		replicaB.Merge(origin1)

		ea, eb := replicaA.Elements(), replicaB.Elements()
		sort.Strings(ea)
		sort.Strings(eb)
		if len(ea) != len(eb) {
			t.Fatalf("trial %d: diverged: %v vs %v", trial, ea, eb)
		}
		for i := range ea {
			if ea[i] != eb[i] {
				t.Fatalf("trial %d: diverged: %v vs %v", trial, ea, eb)
			}
		}
	}
}

func TestOrSetSnapshotRoundTrip(t *testing.T) {
	s := NewOrSet[string]("n1")
	s.Add("keep")
	s.Add("drop")
	s.Remove("drop")

	snap := s.Snapshot()
	restored := NewOrSet[string]("n2")
	restored.ApplySnapshot(snap)

	if !restored.Contains("keep") {
		t.Fatal("snapshot lost a live element")
	}
	if restored.Contains("drop") {
		t.Fatal("snapshot resurrected a removed element")
	}
}

func TestOrSetSnapshotIdempotent(t *testing.T) {
	s := NewOrSet[string]("n1")
	s.Add("x")
	snap := s.Snapshot()

	r := NewOrSet[string]("n2")
	r.ApplySnapshot(snap)
	r.ApplySnapshot(snap) // applying twice must not change the result
	if r.Len() != 1 || !r.Contains("x") {
		t.Fatalf("idempotence violated: %v", r.Elements())
	}
}

func TestOrSetCompact(t *testing.T) {
	s := NewOrSet[string]("n1")
	s.Add("gone")
	s.Remove("gone")
	s.Add("alive")

	s.Compact(func(v string) bool { return v == "gone" })
	if s.Contains("gone") {
		t.Fatal("compacted element should stay absent")
	}
	if !s.Contains("alive") {
		t.Fatal("compact must not touch live elements")
	}
	if len(s.entries) != 1 {
		t.Fatalf("entries not compacted: %d", len(s.entries))
	}
	if len(s.tombstones) != 0 {
		t.Fatalf("tombstones not compacted: %d", len(s.tombstones))
	}
}
