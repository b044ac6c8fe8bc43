package core

import (
	"encoding/hex"
	"fmt"
)

// Hash32 is a 32-byte digest. It JSON-encodes as lowercase hex so record
// dumps and RPC responses stay readable.
type Hash32 [32]byte

// MarshalText implements encoding.TextMarshaler.
func (h Hash32) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash32) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("hash must be 32 bytes, got %d", len(raw))
	}
	copy(h[:], raw)
	return nil
}

// Hex returns the lowercase hex encoding.
func (h Hash32) Hex() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether every byte is zero. A zero AssignedInventory means
// the box is still unbound.
func (h Hash32) IsZero() bool {
	return h == Hash32{}
}

// Hash32FromHex parses a 64-char hex string.
func Hash32FromHex(s string) (Hash32, error) {
	var h Hash32
	err := h.UnmarshalText([]byte(s))
	return h, err
}
