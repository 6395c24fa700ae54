package protocol

import (
	"crypto/ed25519"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDeriveAgentID(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id := DeriveAgentID(pub)
	if !strings.HasPrefix(string(id), DIDPrefix) {
		t.Fatalf("missing DID prefix: %s", id)
	}
	if len(id) != len(DIDPrefix)+64 {
		t.Fatalf("unexpected DID length %d", len(id))
	}
	if !id.Valid() {
		t.Fatalf("derived DID should be valid: %s", id)
	}
}

func TestAgentIDValid(t *testing.T) {
	bad := []AgentID{
		"",
		"did:swarm:",
		"did:swarm:xyz",
		AgentID("did:other:" + strings.Repeat("a", 64)),
		AgentID("did:swarm:" + strings.Repeat("g", 64)),
	}
	for _, id := range bad {
		if id.Valid() {
			t.Errorf("expected invalid: %q", id)
		}
	}
	good := AgentID("did:swarm:" + strings.Repeat("ab", 32))
	if !good.Valid() {
		t.Errorf("expected valid: %q", good)
	}
}

func TestLoadOrGenerateIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")

	first, err := LoadOrGenerateIdentity(path)
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat seed file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("seed file mode = %v, want 0600", info.Mode().Perm())
	}

	// Loading again must yield the same identity.
	second, err := LoadOrGenerateIdentity(path)
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	if first.AgentID != second.AgentID {
		t.Fatalf("identity changed across loads: %s vs %s", first.AgentID, second.AgentID)
	}
}

func TestLoadIdentityRejectsBadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")
	if err := os.WriteFile(path, []byte("short"), 0600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := LoadOrGenerateIdentity(path); err == nil {
		t.Fatal("expected error for truncated seed file")
	}
}

func TestCompositeScore(t *testing.T) {
	score := NodeScore{
		ProofOfCompute: 0.8,
		Reputation:     0.9,
		Uptime:         1.0,
		Stake:          0.5,
	}
	want := 0.25*0.8 + 0.40*0.9 + 0.20*1.0 + 0.15*0.5
	if got := score.Composite(); math.Abs(got-want) > 1e-10 {
		t.Fatalf("composite = %v, want %v", got, want)
	}

	// Stake is clamped to 1.
	score.Stake = 3.0
	capped := NodeScore{ProofOfCompute: 0.8, Reputation: 0.9, Uptime: 1.0, Stake: 1.0}
	if math.Abs(score.Composite()-capped.Composite()) > 1e-10 {
		t.Fatal("stake above 1 should be clamped")
	}
}

func TestVivaldiDistance(t *testing.T) {
	a := VivaldiCoordinates{}
	b := VivaldiCoordinates{X: 3, Y: 4}
	if d := a.DistanceTo(b); math.Abs(d-5.0) > 1e-10 {
		t.Fatalf("distance = %v, want 5", d)
	}
}

func TestVivaldiUpdateConverges(t *testing.T) {
	local := VivaldiCoordinates{X: 1, Y: 1, Z: 1}
	peer := VivaldiCoordinates{X: 10, Y: 0, Z: 0}
	const rtt = 40.0

	for i := 0; i < 200; i++ {
		local.Update(peer, rtt, 0.1)
	}
	if err := math.Abs(local.DistanceTo(peer) - rtt); err > 10 {
		t.Fatalf("coordinates did not converge: residual %v", err)
	}
}
