package state

import (
	"fmt"

	"github.com/klauspost/reedsolomon"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// Artifact sharding parameters. ShardContent splits its input into
// DataShards data pieces plus ParityShards parity pieces so any DataShards
// of the total suffice to reconstruct. ShardThreshold is the size bound for
// large artifacts; ShardContent does not check it and shards whatever it is
// given.
const (
	ShardThreshold = 1 << 20 // 1 MiB
	DataShards     = 4
	ParityShards   = 2
)

// ShardManifest describes how an artifact was split. ShardContent returns it
// to the caller; it does not store the manifest or provide the individual
// shards.
type ShardManifest struct {
	ArtifactCID  string   `json:"artifact_cid"`
	OriginalSize int      `json:"original_size"`
	DataShards   int      `json:"data_shards"`
	ParityShards int      `json:"parity_shards"`
	ShardCIDs    []string `json:"shard_cids"`
}

// ShardContent splits data into erasure-coded shards and stores each shard
// in the content store. Returns the manifest.
func ShardContent(store *ContentStore, data []byte) (*ShardManifest, error) {
	enc, err := reedsolomon.New(DataShards, ParityShards)
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}

	shards, err := enc.Split(data)
	if err != nil {
		return nil, fmt.Errorf("split content: %w", err)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode parity: %w", err)
	}

	manifest := &ShardManifest{
		ArtifactCID:  protocol.ComputeCID(data),
		OriginalSize: len(data),
		DataShards:   DataShards,
		ParityShards: ParityShards,
		ShardCIDs:    make([]string, 0, len(shards)),
	}
	for _, shard := range shards {
		cid, err := store.Put(shard)
		if err != nil {
			return nil, fmt.Errorf("store shard: %w", err)
		}
		manifest.ShardCIDs = append(manifest.ShardCIDs, cid)
	}
	return manifest, nil
}

// ReconstructContent reassembles the original content from whatever shards
// the store holds. At least DataShards shards must be present.
func ReconstructContent(store *ContentStore, manifest *ShardManifest) ([]byte, error) {
	enc, err := reedsolomon.New(manifest.DataShards, manifest.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}

	shards := make([][]byte, len(manifest.ShardCIDs))
	available := 0
	for i, cid := range manifest.ShardCIDs {
		data, ok, err := store.Get(cid)
		if err != nil {
			return nil, fmt.Errorf("get shard %d: %w", i, err)
		}
		if ok {
			shards[i] = data
			available++
		}
	}
	if available < manifest.DataShards {
		return nil, protocol.NewError(protocol.KindDhtLookupFailed,
			"only %d of %d required shards available", available, manifest.DataShards)
	}

	if err := enc.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("reconstruct: %w", err)
	}

	out := make([]byte, 0, manifest.OriginalSize)
	for _, shard := range shards[:manifest.DataShards] {
		out = append(out, shard...)
	}
	if len(out) < manifest.OriginalSize {
		return nil, fmt.Errorf("reconstructed %d bytes, expected %d", len(out), manifest.OriginalSize)
	}
	out = out[:manifest.OriginalSize]

	// The reassembled bytes must hash back to the artifact CID.
	if protocol.ComputeCID(out) != manifest.ArtifactCID {
		return nil, protocol.NewError(protocol.KindResultRejected, "reconstructed content does not match artifact cid")
	}
	return out, nil
}
