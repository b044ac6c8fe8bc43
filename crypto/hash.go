package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string.
// Used for record identifiers and derived addresses.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw SHA-256 bytes of data.
func HashBytes(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// Keccak256 returns the legacy Keccak-256 digest of the concatenated inputs.
// Merkle leaves, roots and randomness derivations use this hash so that
// inventory snapshots produced off-service verify bit-for-bit against
// published roots.
func Keccak256(data ...[]byte) [32]byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var out [32]byte
	d.Sum(out[:0])
	return out
}
