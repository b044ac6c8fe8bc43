package core

// State is the vault ledger interface. Implementations must be snapshot-able
// so the engine can roll back failed operations. Create* methods are atomic
// create-if-absent and return ErrAlreadyExists on conflict; inventory
// assignments and pending randomness requests depend on that for replay
// protection.
type State interface {
	// Global singleton
	GetGlobal() (*Global, error)
	SetGlobal(g *Global) error
	CreateGlobal(g *Global) error

	// Batches
	GetBatch(batchID uint64) (*Batch, error)
	SetBatch(b *Batch) error

	// Boxes
	GetBox(assetID string) (*BoxState, error)
	SetBox(b *BoxState) error
	CreateBox(b *BoxState) error

	// Pending randomness
	GetVrfPending(assetID string) (*VrfPending, error)
	SetVrfPending(p *VrfPending) error
	CreateVrfPending(p *VrfPending) error
	DeleteVrfPending(assetID string) error

	// Inventory assignments (create-once, never mutated)
	GetAssignment(hash Hash32) (*InventoryAssignment, error)
	CreateAssignment(a *InventoryAssignment) error

	// Prices
	GetPrice(hash Hash32) (*PriceStore, error)
	SetPrice(p *PriceStore) error

	// Executed operations (replay protection, create-once)
	GetOpReceipt(opID string) (*OpReceipt, error)
	CreateOpReceipt(r *OpReceipt) error

	// Accounts (settlement balances)
	GetAccount(address string) (*Account, error)
	SetAccount(acc *Account) error

	// Collectible assets
	GetAsset(id string) (*Asset, error)
	SetAsset(a *Asset) error
	DeleteAsset(id string) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic ledger root from the current
	// write buffer without flushing.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	Commit() error
}
