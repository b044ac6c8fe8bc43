package core

// Default economic parameters, in settlement-asset base units (6 decimals).
const (
	// DefaultMinTreasuryBalance is the solvency floor applied when the vault
	// is initialized without an explicit value (1000 units).
	DefaultMinTreasuryBalance uint64 = 1000 * 1_000_000

	// BuybackSpreadBps is the spread fee retained on every buyback,
	// in basis points (100 = 1%).
	BuybackSpreadBps uint64 = 100

	// MaxPriceAgeSeconds is how long an oracle price stays usable.
	MaxPriceAgeSeconds int64 = 300

	// SnapshotForwardToleranceSeconds bounds how far in the future a batch
	// snapshot or price timestamp may claim to be.
	SnapshotForwardToleranceSeconds int64 = 60
)

// ClaimMode selects how an opened box resolves to an item. The two modes are
// alternative terminal paths after opening, chosen per batch at publish time.
type ClaimMode string

const (
	// ClaimDirect resolves the item straight from the batch's ordered item
	// list using the box's random index.
	ClaimDirect ClaimMode = "direct"

	// ClaimProof defers item selection to an assign operation carrying a
	// Merkle membership proof against the batch root.
	ClaimProof ClaimMode = "proof"
)

// Global is the singleton vault configuration and statistics record.
// Created once by init_vault; mutated only through admin operations.
type Global struct {
	Authority          string `json:"authority"`                   // admin pubkey hex
	PendingAuthority   string `json:"pending_authority,omitempty"` // two-step transfer target
	Oracle             string `json:"oracle"`                      // randomness/price oracle pubkey hex
	SettlementMint     string `json:"settlement_mint"`             // settlement-asset code
	Treasury           string `json:"treasury"`                    // derived treasury account address
	BuybackEnabled     bool   `json:"buyback_enabled"`
	Paused             bool   `json:"paused"`
	MinTreasuryBalance uint64 `json:"min_treasury_balance"`
	CurrentBatch       uint64 `json:"current_batch"`
	TotalBoxesMinted   uint64 `json:"total_boxes_minted"`
	TotalBuybacks      uint64 `json:"total_buybacks"`
	TotalBuybackVolume uint64 `json:"total_buyback_volume"`
}

// ItemRef is one entry of a direct-claim batch's item list.
type ItemRef struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// Batch is a published inventory snapshot. The Merkle root is immutable once
// any box has been opened against it.
type Batch struct {
	BatchID      uint64    `json:"batch_id"`
	MerkleRoot   Hash32    `json:"merkle_root"`
	SnapshotTime int64     `json:"snapshot_time"`
	TotalItems   uint64    `json:"total_items"`
	BoxesMinted  uint64    `json:"boxes_minted"`
	BoxesOpened  uint64    `json:"boxes_opened"`
	Mode         ClaimMode `json:"claim_mode"`
	Items        []ItemRef `json:"items,omitempty"` // direct mode only
}

// BoxState tracks one mystery box through its lifecycle.
// Terminal once Redeemed is true.
type BoxState struct {
	AssetID           string `json:"asset_id"` // bound collectible
	Owner             string `json:"owner"`    // pubkey hex
	BatchID           uint64 `json:"batch_id"`
	Opened            bool   `json:"opened"`
	AssignedInventory Hash32 `json:"assigned_inventory"` // zero = unbound
	MintTime          int64  `json:"mint_time"`
	OpenTime          int64  `json:"open_time"`
	RandomIndex       uint64 `json:"random_index"`
	Redeemed          bool   `json:"redeemed"`
	RedeemTime        int64  `json:"redeem_time"`
}

// VrfPending is the bookkeeping record for an outstanding randomness request.
// Created at open, consumed and deleted at reveal. Its existence blocks a
// second open request for the same box.
type VrfPending struct {
	AssetID     string `json:"asset_id"`
	User        string `json:"user"` // requester pubkey hex
	RequestID   uint64 `json:"request_id"`
	RequestTime int64  `json:"request_time"`
	PoolSize    uint64 `json:"pool_size"`
	Randomness  Hash32 `json:"randomness"` // zero = unfulfilled
}

// InventoryAssignment marks an inventory item as bound to a box. Created
// exactly once per inventory hash and never mutated; its existence is the
// sole double-assignment guard.
type InventoryAssignment struct {
	InventoryIDHash Hash32 `json:"inventory_id_hash"`
	AssetID         string `json:"asset_id"`
	BatchID         uint64 `json:"batch_id"`
	AssignedAt      int64  `json:"assigned_at"`
}

// PriceStore holds the latest oracle-signed price for an inventory item.
type PriceStore struct {
	InventoryIDHash Hash32 `json:"inventory_id_hash"`
	Price           uint64 `json:"price"` // settlement base units
	Timestamp       int64  `json:"timestamp"`
	Oracle          string `json:"oracle"` // pubkey hex
	UpdateCount     uint64 `json:"update_count"`
}

// OpReceipt records that an operation ID has been applied. Created by the
// engine inside the same atomic unit as the operation's writes, so a
// byte-identical replay fails the create-if-absent gate.
type OpReceipt struct {
	OpID      string `json:"op_id"`
	Type      OpType `json:"type"`
	AppliedAt int64  `json:"applied_at"`
}

// Account holds a settlement-asset balance. The treasury is an Account whose
// address is derived from the vault authority at init.
type Account struct {
	Address string `json:"address"` // pubkey hex or derived address
	Balance uint64 `json:"balance"`
}

// Asset is a collectible managed by the asset collaborator. Boxes are minted
// frozen and stay frozen until unfrozen-then-burned at redemption.
type Asset struct {
	ID       string `json:"id"`
	Owner    string `json:"owner"` // pubkey hex
	Name     string `json:"name"`
	URI      string `json:"uri"`
	Frozen   bool   `json:"frozen"`
	MintedAt int64  `json:"minted_at"`
}
