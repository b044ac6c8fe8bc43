package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boxvault/boxvault/crypto"
)

// OpType identifies the kind of state transition an operation performs.
type OpType string

const (
	OpInitVault         OpType = "init_vault"
	OpSetPaused         OpType = "set_paused"
	OpToggleBuyback     OpType = "toggle_buyback"
	OpSetMinTreasury    OpType = "set_min_treasury"
	OpTransferAuthority OpType = "transfer_authority"
	OpAcceptAuthority   OpType = "accept_authority"
	OpDepositTreasury   OpType = "deposit_treasury"
	OpWithdrawTreasury  OpType = "withdraw_treasury"

	OpPublishRoot OpType = "publish_root"
	OpMintBox     OpType = "mint_box"
	OpOpenBox     OpType = "open_box"
	OpVrfCallback OpType = "vrf_callback"
	OpRevealClaim OpType = "reveal_claim"
	OpAssign      OpType = "assign"

	OpSetPrice       OpType = "set_price"
	OpSellBack       OpType = "sell_back"
	OpSellBackQuoted OpType = "sell_back_quoted"
)

// Operation is the atomic unit of work against the vault ledger.
// From holds the signer's full hex-encoded ed25519 public key.
// Signature covers all fields except Signature itself.
type Operation struct {
	ID        string          `json:"id"`
	Type      OpType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields covered by the signature.
type signingBody struct {
	Type      OpType          `json:"type"`
	From      string          `json:"from"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the operation (sans Signature).
// Returns an empty string if marshalling fails (cannot happen in practice).
func (op *Operation) Hash() string {
	body := signingBody{
		Type:      op.Type,
		From:      op.From,
		Timestamp: op.Timestamp,
		Payload:   op.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (op *Operation) Sign(priv crypto.PrivateKey) {
	hash := op.Hash()
	op.Signature = crypto.Sign(priv, []byte(hash))
	op.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (op *Operation) Verify() error {
	if op.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(op.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	if err := crypto.Verify(pub, []byte(op.Hash()), op.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// NewOperation creates an unsigned operation with the current timestamp.
func NewOperation(typ OpType, from string, payload any) (*Operation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Operation{
		Type:      typ,
		From:      from,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// InitVaultPayload creates the Global record and the treasury account.
type InitVaultPayload struct {
	Oracle             string `json:"oracle"`          // oracle pubkey hex
	SettlementMint     string `json:"settlement_mint"` // settlement-asset code
	MinTreasuryBalance uint64 `json:"min_treasury_balance"`
}

// SetPausedPayload flips the emergency pause flag.
type SetPausedPayload struct {
	Paused bool `json:"paused"`
}

// ToggleBuybackPayload enables or disables buybacks.
type ToggleBuybackPayload struct {
	Enabled bool `json:"enabled"`
}

// SetMinTreasuryPayload updates the solvency floor.
type SetMinTreasuryPayload struct {
	Amount uint64 `json:"amount"`
}

// TransferAuthorityPayload starts a two-step authority handoff.
type TransferAuthorityPayload struct {
	NewAuthority string `json:"new_authority"` // pubkey hex
}

// DepositTreasuryPayload moves settlement funds from the signer to the treasury.
type DepositTreasuryPayload struct {
	Amount uint64 `json:"amount"`
}

// WithdrawTreasuryPayload moves settlement funds out of the treasury.
type WithdrawTreasuryPayload struct {
	To     string `json:"to"` // recipient address
	Amount uint64 `json:"amount"`
}

// PublishRootPayload publishes (or re-publishes, while unopened) a batch.
type PublishRootPayload struct {
	BatchID      uint64    `json:"batch_id"`
	MerkleRoot   Hash32    `json:"merkle_root"`
	SnapshotTime int64     `json:"snapshot_time"`
	TotalItems   uint64    `json:"total_items"`
	Mode         ClaimMode `json:"claim_mode"`
	Items        []ItemRef `json:"items,omitempty"`
}

// MintBoxPayload mints a sealed box against a batch.
type MintBoxPayload struct {
	BatchID uint64 `json:"batch_id"`
	Name    string `json:"name"`
	URI     string `json:"uri"`
}

// OpenBoxPayload requests randomness for a sealed box.
type OpenBoxPayload struct {
	AssetID  string `json:"asset_id"`
	PoolSize uint64 `json:"pool_size"`
}

// VrfCallbackPayload delivers oracle randomness for a pending request.
type VrfCallbackPayload struct {
	AssetID    string `json:"asset_id"`
	RequestID  uint64 `json:"request_id"`
	Randomness Hash32 `json:"randomness"`
}

// RevealClaimPayload resolves a direct-mode box to its item.
type RevealClaimPayload struct {
	AssetID string `json:"asset_id"`
}

// AssignPayload binds a proof-mode box to an inventory item.
type AssignPayload struct {
	AssetID         string   `json:"asset_id"`
	InventoryIDHash Hash32   `json:"inventory_id_hash"`
	Proof           []Hash32 `json:"proof"`
}

// SetPricePayload records an oracle-signed price for an inventory item.
// Signature covers keccak256(hash || LE(price) || LE(timestamp)) and must
// verify against the vault's oracle key; the relayer identity is irrelevant.
type SetPricePayload struct {
	InventoryIDHash Hash32 `json:"inventory_id_hash"`
	Price           uint64 `json:"price"`
	Timestamp       int64  `json:"timestamp"`
	Signature       string `json:"signature"` // hex ed25519 signature
}

// SellBackPayload redeems a revealed box at the stored oracle price.
type SellBackPayload struct {
	AssetID  string `json:"asset_id"`
	MinPrice uint64 `json:"min_price"`
}

// SellBackQuotedPayload redeems a revealed box at a caller-quoted price.
type SellBackQuotedPayload struct {
	AssetID     string `json:"asset_id"`
	MarketPrice uint64 `json:"market_price"`
	MinPrice    uint64 `json:"min_price"`
}
