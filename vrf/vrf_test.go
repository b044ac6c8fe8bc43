package vrf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxvault/boxvault/core"
	"github.com/boxvault/boxvault/crypto"
)

func TestSeedLayout(t *testing.T) {
	seed := Seed("box-1", 0x0102030405060708)
	require.Len(t, seed, len("box-1")+8)
	assert.Equal(t, []byte("box-1"), seed[:5])
	// little-endian timestamp tail
	assert.Equal(t, []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, seed[5:])
}

func TestMockProviderDeterministic(t *testing.T) {
	p := MockProvider{}
	seed := Seed("box-1", 1700000000)

	id1, err := p.RequestRandomness(seed)
	require.NoError(t, err)
	id2, err := p.RequestRandomness(seed)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same seed, same request id")

	id3, err := p.RequestRandomness(Seed("box-1", 1700000001))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3, "different seed, different request id")
}

func TestValidate(t *testing.T) {
	var zero [32]byte
	assert.ErrorIs(t, Validate(zero), core.ErrVrfNotFulfilled)

	var ff [32]byte
	for i := range ff {
		ff[i] = 0xFF
	}
	assert.ErrorIs(t, Validate(ff), core.ErrVrfNotFulfilled)

	assert.NoError(t, Validate(crypto.Keccak256([]byte("randomness"))))
}

func TestDeriveIndexDeterministic(t *testing.T) {
	r := crypto.Keccak256([]byte("randomness"))

	i1, err := DeriveIndex(r, "box-1", 7, 100)
	require.NoError(t, err)
	i2, err := DeriveIndex(r, "box-1", 7, 100)
	require.NoError(t, err)
	assert.Equal(t, i1, i2)
	assert.Less(t, i1, uint64(100))

	// every input participates in the derivation
	j, err := DeriveIndex(r, "box-2", 7, 1<<62)
	require.NoError(t, err)
	k, err := DeriveIndex(r, "box-1", 8, 1<<62)
	require.NoError(t, err)
	base, err := DeriveIndex(r, "box-1", 7, 1<<62)
	require.NoError(t, err)
	assert.NotEqual(t, base, j)
	assert.NotEqual(t, base, k)
}

func TestDeriveIndexRange(t *testing.T) {
	for i := 0; i < 50; i++ {
		r := crypto.Keccak256([]byte{byte(i)})
		idx, err := DeriveIndex(r, "box", 1, 7)
		require.NoError(t, err)
		assert.Less(t, idx, uint64(7))
	}
}

func TestDeriveIndexZeroPool(t *testing.T) {
	r := crypto.Keccak256([]byte("randomness"))
	_, err := DeriveIndex(r, "box-1", 1, 0)
	assert.ErrorIs(t, err, core.ErrInvalidPoolSize)
}
