// Package merkle implements the inventory membership tree: sorted-pair
// Keccak-256 hashing, proof generation and proof verification. Sorting each
// pair before hashing makes verification independent of traversal side, so a
// verifier can fold a proof into a leaf without knowing left/right order.
package merkle

import (
	"bytes"

	"github.com/boxvault/boxvault/core"
	"github.com/boxvault/boxvault/crypto"
)

// MaxProofDepth caps proof length during verification. A depth of 20 covers
// over a million leaves; anything deeper is treated as hostile input.
const MaxProofDepth = 20

// hashPair combines two nodes, smaller hash first.
func hashPair(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256(a[:], b[:])
}

// BuildRoot computes the root of the given leaves. A single leaf is its own
// root. At every level an odd trailing node is paired with itself.
func BuildRoot(leaves [][32]byte) ([32]byte, error) {
	if len(leaves) == 0 {
		return [32]byte{}, core.ErrInvalidBatchId
	}

	level := make([][32]byte, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left // odd trailing node pairs with itself
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		level = next
	}
	return level[0], nil
}

// GenerateProof returns the sibling path for target from leaf to root.
// Self-pairings contribute no proof element; only real siblings are recorded.
func GenerateProof(leaves [][32]byte, target [32]byte) ([][32]byte, error) {
	index := -1
	for i, leaf := range leaves {
		if leaf == target {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, core.ErrInvalidMerkleProof
	}

	var proof [][32]byte
	level := make([][32]byte, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		sibling := index ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}

		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		level = next
		index /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the root by folding proof into leaf with the same
// sort-then-hash rule and compares it to the expected root.
func VerifyProof(leaf, root [32]byte, proof [][32]byte) error {
	if len(proof) > MaxProofDepth {
		return core.ErrMerkleProofTooDeep
	}

	computed := leaf
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	if computed != root {
		return core.ErrInvalidMerkleProof
	}
	return nil
}

// InventoryLeaf hashes an inventory item into its leaf representation.
// The separator keeps ("ab","c") and ("a","bc") distinct.
func InventoryLeaf(inventoryID, metadata string) [32]byte {
	return crypto.Keccak256([]byte(inventoryID), []byte("|"), []byte(metadata))
}
