package protocol

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"strings"
)

// AgentID is a swarm agent identifier: did:swarm:<hex(SHA-256(public_key))>.
// It is immutable per keypair and doubles as the signing identity.
type AgentID string

// DIDPrefix is the scheme prefix of every agent identifier.
const DIDPrefix = "did:swarm:"

// DeriveAgentID computes the DID for an Ed25519 public key.
func DeriveAgentID(pub ed25519.PublicKey) AgentID {
	sum := sha256.Sum256(pub)
	return AgentID(DIDPrefix + hex.EncodeToString(sum[:]))
}

// Valid reports whether the identifier is well-formed: the did:swarm prefix
// followed by 64 lowercase hex characters.
func (a AgentID) Valid() bool {
	s := string(a)
	if !strings.HasPrefix(s, DIDPrefix) {
		return false
	}
	body := s[len(DIDPrefix):]
	if len(body) != 64 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}

// Hash returns the SHA-256 of the identifier, used as its position in the
// DHT key space and for lexicographic hash-distance fallbacks.
func (a AgentID) Hash() [32]byte {
	return sha256.Sum256([]byte(a))
}

func (a AgentID) String() string { return string(a) }

// Identity bundles a node's signing keypair with its derived agent ID.
type Identity struct {
	AgentID AgentID
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// LoadOrGenerateIdentity loads the 32-byte Ed25519 seed from path, or
// generates a fresh seed and writes it with owner-only permissions when the
// file does not exist.
func LoadOrGenerateIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != ed25519.SeedSize {
			return nil, fmt.Errorf("invalid seed file %s: expected %d bytes, got %d", path, ed25519.SeedSize, len(data))
		}
		priv := ed25519.NewKeyFromSeed(data)
		return identityFromKey(priv), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	if err := os.WriteFile(path, seed, 0600); err != nil {
		return nil, fmt.Errorf("write seed file: %w", err)
	}
	return identityFromKey(ed25519.NewKeyFromSeed(seed)), nil
}

func identityFromKey(priv ed25519.PrivateKey) *Identity {
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		AgentID: DeriveAgentID(pub),
		Public:  pub,
		Private: priv,
	}
}

// NodeScore is the weighted score used for elections and succession ordering.
// Each component is in [0,1].
type NodeScore struct {
	AgentID        AgentID `json:"agent_id"`
	ProofOfCompute float64 `json:"proof_of_compute"`
	Reputation     float64 `json:"reputation"`
	Uptime         float64 `json:"uptime"`
	Stake          float64 `json:"stake"`
}

// Composite computes the weighted composite score:
// 0.25·PoC + 0.40·Rep + 0.20·Up + 0.15·Stake.
func (s NodeScore) Composite() float64 {
	stake := math.Min(s.Stake, 1.0)
	return 0.25*s.ProofOfCompute + 0.40*s.Reputation + 0.20*s.Uptime + 0.15*stake
}

// VivaldiCoordinates is a three-dimensional network coordinate where the
// Euclidean distance between two points approximates the RTT between the
// corresponding nodes.
type VivaldiCoordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DistanceTo returns the Euclidean distance to other (estimated RTT in ms).
func (v VivaldiCoordinates) DistanceTo(other VivaldiCoordinates) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Update moves the coordinate toward consistency with an observed RTT sample
// against a peer's coordinate, using a simplified Vivaldi step.
func (v *VivaldiCoordinates) Update(peer VivaldiCoordinates, observedRTTMillis, weight float64) {
	estimated := v.DistanceTo(peer)
	errTerm := observedRTTMillis - estimated
	var delta float64
	if estimated > 0 {
		delta = weight * errTerm / estimated
	} else {
		delta = weight * 0.1
	}
	v.X += delta * (v.X - peer.X)
	v.Y += delta * (v.Y - peer.Y)
	v.Z += delta * (v.Z - peer.Z)
}

// AgentCapabilities lists what an agent can do, advertised during handshake.
type AgentCapabilities struct {
	Models []string `json:"models"`
	Skills []string `json:"skills"`
}

// AgentResources describes the hardware behind an agent.
type AgentResources struct {
	CPUCores  int `json:"cpu_cores"`
	RAMGb     int `json:"ram_gb"`
	GPUVRAMGb int `json:"gpu_vram_gb,omitempty"`
	DiskGb    int `json:"disk_gb,omitempty"`
}

// AgentProfile is the full identity record kept in the agent registry.
type AgentProfile struct {
	AgentID        AgentID            `json:"agent_id"`
	PubKey         string             `json:"pub_key"` // hex-encoded Ed25519 public key
	Capabilities   AgentCapabilities  `json:"capabilities"`
	Resources      AgentResources     `json:"resources"`
	LocationVector VivaldiCoordinates `json:"location_vector"`
}
