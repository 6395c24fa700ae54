package state

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

func TestShardAndReconstruct(t *testing.T) {
	store := testContentStore(t)

	rng := rand.New(rand.NewSource(7))
	data := make([]byte, 64*1024)
	rng.Read(data)

	manifest, err := ShardContent(store, data)
	if err != nil {
		t.Fatalf("shard: %v", err)
	}
	if len(manifest.ShardCIDs) != DataShards+ParityShards {
		t.Fatalf("shard count = %d", len(manifest.ShardCIDs))
	}
	if manifest.ArtifactCID != protocol.ComputeCID(data) {
		t.Fatal("manifest cid mismatch")
	}

	out, err := ReconstructContent(store, manifest)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatal("reconstructed content differs")
	}
}

func TestReconstructWithMissingShards(t *testing.T) {
	// Reconstruction must succeed with up to ParityShards shards missing.
	full := testContentStore(t)
	data := make([]byte, 16*1024)
	rand.New(rand.NewSource(9)).Read(data)

	manifest, err := ShardContent(full, data)
	if err != nil {
		t.Fatalf("shard: %v", err)
	}

	// A second store receives only DataShards of the shards.
	partial := testContentStore(t)
	for i, cid := range manifest.ShardCIDs {
		if i >= DataShards {
			break
		}
		shard, ok, err := full.Get(cid)
		if err != nil || !ok {
			t.Fatalf("fetch shard %d: ok=%v err=%v", i, ok, err)
		}
		if _, err := partial.Put(shard); err != nil {
			t.Fatalf("store shard: %v", err)
		}
	}

	out, err := ReconstructContent(partial, manifest)
	if err != nil {
		t.Fatalf("reconstruct with missing parity: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatal("reconstructed content differs")
	}
}

func TestReconstructTooFewShards(t *testing.T) {
	full := testContentStore(t)
	data := make([]byte, 8*1024)
	rand.New(rand.NewSource(11)).Read(data)

	manifest, err := ShardContent(full, data)
	if err != nil {
		t.Fatalf("shard: %v", err)
	}

	sparse := testContentStore(t)
	// Only DataShards-1 shards available.
	for i := 0; i < DataShards-1; i++ {
		shard, _, err := full.Get(manifest.ShardCIDs[i])
		if err != nil {
			t.Fatalf("fetch shard: %v", err)
		}
		if _, err := sparse.Put(shard); err != nil {
			t.Fatalf("store shard: %v", err)
		}
	}

	_, err = ReconstructContent(sparse, manifest)
	if !protocol.IsKind(err, protocol.KindDhtLookupFailed) {
		t.Fatalf("expected DhtLookupFailed, got %v", err)
	}
}
