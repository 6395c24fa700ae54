package protocol

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/argon2"
)

// Swarm token derivation parameters. Deliberately light: the token gates
// membership, it does not protect stored secrets, and every joining agent
// re-derives it.
const (
	tokenTime    = 1
	tokenMemory  = 64 * 1024 // KiB
	tokenThreads = 4
	tokenKeyLen  = 32
)

// DeriveSwarmToken derives the join token for a private swarm from its
// creator passphrase using Argon2id with the swarm ID as salt. The derivation
// is deterministic, so any agent holding the passphrase can compute it.
func DeriveSwarmToken(swarmID, secret string) string {
	key := argon2.IDKey([]byte(secret), []byte(swarmID), tokenTime, tokenMemory, tokenThreads, tokenKeyLen)
	return hex.EncodeToString(key)
}

// VerifySwarmToken checks a presented token against the swarm ID and secret
// in constant time.
func VerifySwarmToken(token, swarmID, secret string) bool {
	expected := DeriveSwarmToken(swarmID, secret)
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}
