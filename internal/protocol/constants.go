// Package protocol defines the wire-level building blocks of the Open Swarm
// Protocol: agent identity, the signed JSON-RPC envelope, the task/plan/vote
// data model, topic naming, proof of work, and the protocol error kinds
// shared by every subsystem.
package protocol

// ProtocolVersion is the version tag carried by every envelope. Peers with an
// incompatible tag are rejected during verification.
const ProtocolVersion = "/openswarm/aether/1.0.0"

// TopicPrefix is the prefix of every gossip topic string.
const TopicPrefix = "/openswarm/1.0.0"

// JSONRPCVersion is the JSON-RPC version field of the envelope.
const JSONRPCVersion = "2.0"

// DefaultSwarmID is the identifier of the public swarm every node may join
// without a token.
const DefaultSwarmID = "public"

// DefaultSwarmName is the display name of the public swarm.
const DefaultSwarmName = "Open Swarm"

// Protocol timing and sizing defaults. Each is overridable via configuration.
const (
	DefaultBranchingFactor         = 10
	DefaultEpochDurationSecs       = 3600
	DefaultKeepaliveIntervalSecs   = 10
	DefaultLeaderTimeoutSecs       = 30
	DefaultCommitRevealTimeoutSecs = 60
	DefaultVotingTimeoutSecs       = 120
	DefaultMaxHierarchyDepth       = 10
	DefaultPoWDifficulty           = 16
	DefaultRPCTimeoutSecs          = 30
	DefaultIdleConnTimeoutSecs     = 60
)

// EpochLagTolerance is how many epochs behind the local epoch an incoming
// message may be before it is discarded with an epoch-mismatch error.
const EpochLagTolerance = 2
