package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxvault/boxvault/crypto"
)

func TestOperationSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	op, err := NewOperation(OpMintBox, pub.Hex(), MintBoxPayload{BatchID: 1, URI: "ipfs://box"})
	require.NoError(t, err)
	op.Sign(priv)

	assert.NotEmpty(t, op.ID)
	assert.Equal(t, op.ID, op.Hash(), "ID is the signing hash")
	assert.NoError(t, op.Verify())
}

func TestOperationVerifyRejectsTampering(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	op, err := NewOperation(OpMintBox, pub.Hex(), MintBoxPayload{BatchID: 1, URI: "ipfs://box"})
	require.NoError(t, err)
	op.Sign(priv)

	op.Timestamp++
	assert.ErrorIs(t, op.Verify(), ErrInvalidSignature)
}

func TestOperationVerifyRejectsWrongSigner(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, otherPub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	op, err := NewOperation(OpOpenBox, otherPub.Hex(), OpenBoxPayload{AssetID: "a", PoolSize: 1})
	require.NoError(t, err)
	op.Sign(priv) // signed with a key that does not match From

	assert.ErrorIs(t, op.Verify(), ErrInvalidSignature)
}

func TestOperationVerifyRejectsBadFrom(t *testing.T) {
	op := &Operation{Type: OpMintBox, From: "not-a-pubkey"}
	assert.Error(t, op.Verify())

	op.From = ""
	assert.Error(t, op.Verify())
}

func TestCheckedMath(t *testing.T) {
	sum, err := CheckedAdd(1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sum)

	_, err = CheckedAdd(^uint64(0), 1)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)

	diff, err := CheckedSub(5, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), diff)

	_, err = CheckedSub(3, 5)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)

	prod, err := CheckedMul(6, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), prod)

	_, err = CheckedMul(^uint64(0), 2)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestHash32HexRoundTrip(t *testing.T) {
	var h Hash32
	h[0], h[31] = 0xDE, 0xAD

	parsed, err := Hash32FromHex(h.Hex())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = Hash32FromHex("nope")
	assert.Error(t, err)

	assert.True(t, Hash32{}.IsZero())
	assert.False(t, h.IsZero())
}
