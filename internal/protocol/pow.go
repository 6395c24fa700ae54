package protocol

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/bits"
)

// SolvePoW searches for a nonce such that SHA-256(data ‖ nonce_le) has at
// least difficulty leading zero bits. Used as the handshake entry proof.
func SolvePoW(data []byte, difficulty int) ProofOfWork {
	var nonce uint64
	for {
		sum := powHash(data, nonce)
		if leadingZeroBits(sum) >= difficulty {
			return ProofOfWork{
				Nonce:      nonce,
				Hash:       hex.EncodeToString(sum[:]),
				Difficulty: difficulty,
			}
		}
		nonce++
	}
}

// VerifyPoW checks a proof of work against the given data and difficulty.
func VerifyPoW(data []byte, pow ProofOfWork, difficulty int) bool {
	if pow.Difficulty < difficulty {
		return false
	}
	sum := powHash(data, pow.Nonce)
	return leadingZeroBits(sum) >= difficulty
}

func powHash(data []byte, nonce uint64) [32]byte {
	h := sha256.New()
	h.Write(data)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], nonce)
	h.Write(buf[:])
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

func leadingZeroBits(sum [32]byte) int {
	count := 0
	for _, b := range sum {
		if b == 0 {
			count += 8
			continue
		}
		count += bits.LeadingZeros8(b)
		break
	}
	return count
}
