package wallet

import (
	"github.com/boxvault/boxvault/core"
	"github.com/boxvault/boxvault/crypto"
)

// Wallet holds a key pair and provides operation-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from").
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// NewOp creates a signed operation of the given type.
func (w *Wallet) NewOp(typ core.OpType, payload any) (*core.Operation, error) {
	op, err := core.NewOperation(typ, w.pub.Hex(), payload)
	if err != nil {
		return nil, err
	}
	op.Sign(w.priv)
	return op, nil
}

// MintBox creates a signed mint operation against a batch.
func (w *Wallet) MintBox(batchID uint64, name, uri string) (*core.Operation, error) {
	return w.NewOp(core.OpMintBox, core.MintBoxPayload{
		BatchID: batchID,
		Name:    name,
		URI:     uri,
	})
}

// OpenBox creates a signed open request for a box the wallet owns.
func (w *Wallet) OpenBox(assetID string, poolSize uint64) (*core.Operation, error) {
	return w.NewOp(core.OpOpenBox, core.OpenBoxPayload{
		AssetID:  assetID,
		PoolSize: poolSize,
	})
}

// SellBack creates a signed buyback at the stored oracle price with a
// minimum acceptable payout.
func (w *Wallet) SellBack(assetID string, minPrice uint64) (*core.Operation, error) {
	return w.NewOp(core.OpSellBack, core.SellBackPayload{
		AssetID:  assetID,
		MinPrice: minPrice,
	})
}
