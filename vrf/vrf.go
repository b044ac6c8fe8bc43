// Package vrf handles externally supplied verifiable randomness: seed
// derivation, the provider contract, sanity validation of delivered values
// and deterministic index derivation.
package vrf

import (
	"encoding/binary"

	"github.com/boxvault/boxvault/core"
	"github.com/boxvault/boxvault/crypto"
)

// Seed derives the request seed for a subject at a point in time:
// subjectID bytes followed by the little-endian timestamp.
func Seed(subjectID string, timestamp int64) []byte {
	seed := make([]byte, 0, len(subjectID)+8)
	seed = append(seed, subjectID...)
	seed = binary.LittleEndian.AppendUint64(seed, uint64(timestamp))
	return seed
}

// Provider requests randomness from an external service. Implementations
// must derive the same request ID for the same seed.
type Provider interface {
	RequestRandomness(seed []byte) (uint64, error)
}

// MockProvider derives request IDs locally: the first 8 little-endian bytes
// of keccak256(seed). It performs no external call; fulfillment arrives via
// the oracle callback channel. A production provider integrates a real
// verifiable-randomness service behind the same contract.
type MockProvider struct{}

func (MockProvider) RequestRandomness(seed []byte) (uint64, error) {
	h := crypto.Keccak256(seed)
	return binary.LittleEndian.Uint64(h[:8]), nil
}

// Validate rejects degenerate randomness values. All-zero means unfulfilled;
// all-0xFF is treated as suspicious.
func Validate(randomness [32]byte) error {
	allZero, allFF := true, true
	for _, b := range randomness {
		if b != 0x00 {
			allZero = false
		}
		if b != 0xFF {
			allFF = false
		}
	}
	if allZero || allFF {
		return core.ErrVrfNotFulfilled
	}
	return nil
}

// DeriveIndex maps randomness to an index in [0, poolSize). The derivation
// is bit-for-bit deterministic: the same randomness must always reveal the
// same item if recomputed.
func DeriveIndex(randomness [32]byte, subjectID string, contextID uint64, poolSize uint64) (uint64, error) {
	if poolSize == 0 {
		return 0, core.ErrInvalidPoolSize
	}

	data := make([]byte, 0, 32+len(subjectID)+8)
	data = append(data, randomness[:]...)
	data = append(data, subjectID...)
	data = binary.LittleEndian.AppendUint64(data, contextID)

	h := crypto.Keccak256(data)
	return binary.LittleEndian.Uint64(h[:8]) % poolSize, nil
}
