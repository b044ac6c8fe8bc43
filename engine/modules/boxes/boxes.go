// Package boxes implements the box lifecycle state machine: batch
// publication, minting, open requests, randomness fulfillment and the two
// claim variants (direct reveal and Merkle-proof assignment).
package boxes

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/boxvault/boxvault/core"
	"github.com/boxvault/boxvault/crypto"
	"github.com/boxvault/boxvault/engine"
	"github.com/boxvault/boxvault/engine/assets"
	"github.com/boxvault/boxvault/events"
	"github.com/boxvault/boxvault/merkle"
	"github.com/boxvault/boxvault/vrf"
)

// MaxMetadataURILen bounds box metadata URIs.
const MaxMetadataURILen = 200

func init() {
	engine.Register(core.OpPublishRoot, handlePublishRoot)
	engine.Register(core.OpMintBox, handleMintBox)
	engine.Register(core.OpOpenBox, handleOpenBox)
	engine.Register(core.OpVrfCallback, handleVrfCallback)
	engine.Register(core.OpRevealClaim, handleRevealClaim)
	engine.Register(core.OpAssign, handleAssign)
}

// handlePublishRoot creates or updates a batch. A root may only be
// re-published while no box has been opened against it; after that the root
// is immutable, since overwriting it would break every outstanding proof.
func handlePublishRoot(ctx *engine.Context, payload json.RawMessage) error {
	var p core.PublishRootPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode publish_root payload: %w", err)
	}
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	if err := ctx.RequireAuthority(g); err != nil {
		return err
	}

	if p.MerkleRoot.IsZero() {
		return fmt.Errorf("%w: merkle root must not be zero", core.ErrInvalidBatchId)
	}
	if p.TotalItems == 0 {
		return fmt.Errorf("%w: total_items must be > 0", core.ErrInvalidBatchId)
	}
	if p.SnapshotTime <= 0 || p.SnapshotTime > ctx.Now+core.SnapshotForwardToleranceSeconds {
		return fmt.Errorf("%w: snapshot_time %d", core.ErrInvalidTimestamp, p.SnapshotTime)
	}

	mode := p.Mode
	if mode == "" {
		mode = core.ClaimProof
	}
	switch mode {
	case core.ClaimProof:
		if len(p.Items) != 0 {
			return fmt.Errorf("%w: proof-mode batches carry no item list", core.ErrInvalidMetadata)
		}
	case core.ClaimDirect:
		if uint64(len(p.Items)) != p.TotalItems {
			return fmt.Errorf("%w: direct-mode batch needs %d items, got %d",
				core.ErrInvalidMetadata, p.TotalItems, len(p.Items))
		}
	default:
		return fmt.Errorf("%w: unknown claim mode %q", core.ErrInvalidMetadata, mode)
	}

	batch, err := ctx.State.GetBatch(p.BatchID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		// New batch: bump the global batch counter.
		g.CurrentBatch, err = core.CheckedAdd(g.CurrentBatch, 1)
		if err != nil {
			return err
		}
		if err := ctx.State.SetGlobal(g); err != nil {
			return err
		}
		batch = &core.Batch{BatchID: p.BatchID}
	case err != nil:
		return err
	default:
		if batch.BoxesOpened > 0 {
			return fmt.Errorf("%w: batch %d has opened boxes, root is immutable",
				core.ErrInvalidBatchId, p.BatchID)
		}
	}

	// Counters survive a re-publish so the global mint total stays the sum
	// of all batch totals.
	batch.MerkleRoot = p.MerkleRoot
	batch.SnapshotTime = p.SnapshotTime
	batch.TotalItems = p.TotalItems
	batch.Mode = mode
	batch.Items = p.Items
	if err := ctx.State.SetBatch(batch); err != nil {
		return err
	}

	ctx.Emit(events.EventRootPublished, map[string]any{
		"batch_id":    p.BatchID,
		"merkle_root": p.MerkleRoot.Hex(),
		"total_items": p.TotalItems,
		"claim_mode":  string(mode),
	})
	return nil
}

func handleMintBox(ctx *engine.Context, payload json.RawMessage) error {
	var p core.MintBoxPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode mint_box payload: %w", err)
	}
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	if err := ctx.RequireNotPaused(g); err != nil {
		return err
	}
	if p.URI == "" || len(p.URI) > MaxMetadataURILen {
		return fmt.Errorf("%w: metadata uri", core.ErrInvalidMetadata)
	}

	batch, err := ctx.State.GetBatch(p.BatchID)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%w: batch %d does not exist", core.ErrInvalidBatchId, p.BatchID)
	}
	if err != nil {
		return err
	}

	// Deterministic collectible ID from the minting operation.
	assetID := crypto.Hash([]byte(ctx.Op.ID + ":box"))

	name := p.Name
	if name == "" {
		name = fmt.Sprintf("Mystery Box #%d", g.TotalBoxesMinted+1)
	}
	if err := assets.Mint(ctx.State, &core.Asset{
		ID:       assetID,
		Owner:    ctx.Op.From,
		Name:     name,
		URI:      p.URI,
		Frozen:   true,
		MintedAt: ctx.Now,
	}); err != nil {
		return err
	}

	if err := ctx.State.CreateBox(&core.BoxState{
		AssetID:  assetID,
		Owner:    ctx.Op.From,
		BatchID:  p.BatchID,
		MintTime: ctx.Now,
	}); err != nil {
		return err
	}

	batch.BoxesMinted, err = core.CheckedAdd(batch.BoxesMinted, 1)
	if err != nil {
		return err
	}
	if err := ctx.State.SetBatch(batch); err != nil {
		return err
	}
	g.TotalBoxesMinted, err = core.CheckedAdd(g.TotalBoxesMinted, 1)
	if err != nil {
		return err
	}
	if err := ctx.State.SetGlobal(g); err != nil {
		return err
	}

	ctx.Emit(events.EventBoxMinted, map[string]any{
		"asset_id": assetID,
		"batch_id": p.BatchID,
		"owner":    ctx.Op.From,
	})
	return nil
}

// handleOpenBox requests randomness for a sealed box. The VrfPending record
// created here doubles as the open-request lock: a second request while one
// is outstanding fails on the create-if-absent gate.
func handleOpenBox(ctx *engine.Context, payload json.RawMessage) error {
	var p core.OpenBoxPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode open_box payload: %w", err)
	}
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	if err := ctx.RequireNotPaused(g); err != nil {
		return err
	}

	box, err := ctx.State.GetBox(p.AssetID)
	if err != nil {
		return fmt.Errorf("box %q: %w", p.AssetID, err)
	}
	if box.Owner != ctx.Op.From {
		return fmt.Errorf("%w: only the box owner can open it", core.ErrUnauthorized)
	}
	if box.Opened {
		return core.ErrAlreadyOpened
	}

	batch, err := ctx.State.GetBatch(box.BatchID)
	if err != nil {
		return fmt.Errorf("batch %d: %w", box.BatchID, err)
	}
	if p.PoolSize == 0 || p.PoolSize > batch.TotalItems {
		return fmt.Errorf("%w: pool_size %d, batch has %d items",
			core.ErrInvalidPoolSize, p.PoolSize, batch.TotalItems)
	}

	seed := vrf.Seed(p.AssetID, ctx.Now)
	requestID, err := ctx.Vrf.RequestRandomness(seed)
	if err != nil {
		return fmt.Errorf("request randomness: %w", err)
	}

	if err := ctx.State.CreateVrfPending(&core.VrfPending{
		AssetID:     p.AssetID,
		User:        ctx.Op.From,
		RequestID:   requestID,
		RequestTime: ctx.Now,
		PoolSize:    p.PoolSize,
	}); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			return fmt.Errorf("%w: open request already pending", core.ErrAlreadyOpened)
		}
		return err
	}

	ctx.Emit(events.EventOpenRequested, map[string]any{
		"asset_id":   p.AssetID,
		"request_id": requestID,
		"pool_size":  p.PoolSize,
	})
	return nil
}

// handleVrfCallback consumes oracle randomness: it validates the delivery,
// derives the random index and flips the box to opened. Only the configured
// oracle may fulfill, and only once per box.
func handleVrfCallback(ctx *engine.Context, payload json.RawMessage) error {
	var p core.VrfCallbackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode vrf_callback payload: %w", err)
	}
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	if err := ctx.RequireOracle(g); err != nil {
		return err
	}
	if err := ctx.RequireNotPaused(g); err != nil {
		return err
	}

	pending, err := ctx.State.GetVrfPending(p.AssetID)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%w: no pending request for %q", core.ErrVrfNotFulfilled, p.AssetID)
	}
	if err != nil {
		return err
	}
	if pending.RequestID != p.RequestID {
		return fmt.Errorf("%w: request id mismatch", core.ErrVrfNotFulfilled)
	}
	if !pending.Randomness.IsZero() {
		return fmt.Errorf("%w: randomness already delivered", core.ErrAlreadyOpened)
	}
	if err := vrf.Validate(p.Randomness); err != nil {
		return err
	}

	box, err := ctx.State.GetBox(p.AssetID)
	if err != nil {
		return fmt.Errorf("box %q: %w", p.AssetID, err)
	}
	if box.Opened {
		return core.ErrAlreadyOpened
	}

	index, err := vrf.DeriveIndex(p.Randomness, p.AssetID, box.BatchID, pending.PoolSize)
	if err != nil {
		return err
	}

	pending.Randomness = p.Randomness
	if err := ctx.State.SetVrfPending(pending); err != nil {
		return err
	}

	box.Opened = true
	box.OpenTime = ctx.Now
	box.RandomIndex = index
	if err := ctx.State.SetBox(box); err != nil {
		return err
	}

	batch, err := ctx.State.GetBatch(box.BatchID)
	if err != nil {
		return fmt.Errorf("batch %d: %w", box.BatchID, err)
	}
	batch.BoxesOpened, err = core.CheckedAdd(batch.BoxesOpened, 1)
	if err != nil {
		return err
	}
	if err := ctx.State.SetBatch(batch); err != nil {
		return err
	}

	ctx.Emit(events.EventBoxOpened, map[string]any{
		"asset_id":     p.AssetID,
		"random_index": index,
		"pool_size":    pending.PoolSize,
	})
	return nil
}

// handleRevealClaim resolves a direct-mode box: the random index picks the
// item straight from the batch's published list, the collectible's metadata
// flips from mystery box to the concrete item, and the pending randomness
// record is consumed.
func handleRevealClaim(ctx *engine.Context, payload json.RawMessage) error {
	var p core.RevealClaimPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode reveal_claim payload: %w", err)
	}
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	if err := ctx.RequireNotPaused(g); err != nil {
		return err
	}

	box, err := ctx.State.GetBox(p.AssetID)
	if err != nil {
		return fmt.Errorf("box %q: %w", p.AssetID, err)
	}
	if box.Owner != ctx.Op.From {
		return fmt.Errorf("%w: only the box owner can claim", core.ErrUnauthorized)
	}
	if !box.Opened {
		return core.ErrNotOpenedYet
	}
	if !box.AssignedInventory.IsZero() {
		return core.ErrInventoryAlreadyAssigned
	}

	batch, err := ctx.State.GetBatch(box.BatchID)
	if err != nil {
		return fmt.Errorf("batch %d: %w", box.BatchID, err)
	}
	if batch.Mode != core.ClaimDirect || len(batch.Items) == 0 {
		return fmt.Errorf("%w: batch %d is not a direct-claim batch",
			core.ErrInvalidBatchId, box.BatchID)
	}

	item := batch.Items[box.RandomIndex%uint64(len(batch.Items))]
	inventoryHash := core.Hash32(merkle.InventoryLeaf(item.Name, item.URI))

	box.AssignedInventory = inventoryHash
	if err := ctx.State.SetBox(box); err != nil {
		return err
	}
	if err := assets.UpdateMetadata(ctx.State, box.AssetID, item.Name, item.URI); err != nil {
		return err
	}
	// Consume the fulfilled request; the record must not be reusable.
	if err := ctx.State.DeleteVrfPending(p.AssetID); err != nil {
		return err
	}

	ctx.Emit(events.EventInventoryAssigned, map[string]any{
		"asset_id":          p.AssetID,
		"inventory_id_hash": inventoryHash.Hex(),
		"batch_id":          box.BatchID,
		"item":              item.Name,
	})
	return nil
}

// handleAssign binds a proof-mode box to an inventory item. Creating the
// InventoryAssignment record is the exclusivity gate: it either comes into
// existence here, exactly once, or the operation fails with no mutation.
func handleAssign(ctx *engine.Context, payload json.RawMessage) error {
	var p core.AssignPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode assign payload: %w", err)
	}
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	if err := ctx.RequireNotPaused(g); err != nil {
		return err
	}
	if p.InventoryIDHash.IsZero() {
		return fmt.Errorf("%w: inventory hash must not be zero", core.ErrInvalidBatchId)
	}

	box, err := ctx.State.GetBox(p.AssetID)
	if err != nil {
		return fmt.Errorf("box %q: %w", p.AssetID, err)
	}
	if box.Owner != ctx.Op.From {
		return fmt.Errorf("%w: only the box owner can assign", core.ErrUnauthorized)
	}
	if !box.Opened {
		return core.ErrNotOpenedYet
	}
	if !box.AssignedInventory.IsZero() {
		return core.ErrInventoryAlreadyAssigned
	}

	batch, err := ctx.State.GetBatch(box.BatchID)
	if err != nil {
		return fmt.Errorf("batch %d: %w", box.BatchID, err)
	}
	if batch.Mode != core.ClaimProof {
		return fmt.Errorf("%w: batch %d is not a proof-claim batch",
			core.ErrInvalidBatchId, box.BatchID)
	}

	proof := make([][32]byte, len(p.Proof))
	for i, h := range p.Proof {
		proof[i] = h
	}
	if err := merkle.VerifyProof(p.InventoryIDHash, batch.MerkleRoot, proof); err != nil {
		return err
	}

	if err := ctx.State.CreateAssignment(&core.InventoryAssignment{
		InventoryIDHash: p.InventoryIDHash,
		AssetID:         p.AssetID,
		BatchID:         box.BatchID,
		AssignedAt:      ctx.Now,
	}); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			return core.ErrInventoryAlreadyAssigned
		}
		return err
	}

	box.AssignedInventory = p.InventoryIDHash
	if err := ctx.State.SetBox(box); err != nil {
		return err
	}
	// The pending record was consumed by the callback; drop it if a stale
	// one is still around.
	if err := ctx.State.DeleteVrfPending(p.AssetID); err != nil {
		return err
	}

	ctx.Emit(events.EventInventoryAssigned, map[string]any{
		"asset_id":          p.AssetID,
		"inventory_id_hash": p.InventoryIDHash.Hex(),
		"batch_id":          box.BatchID,
	})
	return nil
}
