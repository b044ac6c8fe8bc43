// Package market implements oracle price ingestion and buyback settlement.
package market

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/boxvault/boxvault/core"
	"github.com/boxvault/boxvault/crypto"
	"github.com/boxvault/boxvault/engine"
	"github.com/boxvault/boxvault/engine/assets"
	"github.com/boxvault/boxvault/engine/bank"
	"github.com/boxvault/boxvault/events"
)

func init() {
	engine.Register(core.OpSetPrice, handleSetPrice)
	engine.Register(core.OpSellBack, handleSellBack)
	engine.Register(core.OpSellBackQuoted, handleSellBackQuoted)
}

// handleSetPrice records an oracle-signed price for an inventory item. The
// operation may be relayed by anyone; trust comes from the embedded oracle
// signature, not from the operation signer.
func handleSetPrice(ctx *engine.Context, payload json.RawMessage) error {
	var p core.SetPricePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_price payload: %w", err)
	}
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	if p.InventoryIDHash.IsZero() {
		return fmt.Errorf("%w: inventory hash must not be zero", core.ErrInvalidBatchId)
	}
	if p.Price == 0 {
		return fmt.Errorf("%w: price must be > 0", core.ErrInvalidMetadata)
	}
	if p.Timestamp <= 0 || p.Timestamp > ctx.Now+core.SnapshotForwardToleranceSeconds {
		return fmt.Errorf("%w: price timestamp %d", core.ErrInvalidTimestamp, p.Timestamp)
	}

	oracle, err := crypto.PubKeyFromHex(g.Oracle)
	if err != nil {
		return fmt.Errorf("vault oracle key: %w", err)
	}
	msg := PriceMessage(p.InventoryIDHash, p.Price, p.Timestamp)
	if err := crypto.Verify(oracle, msg[:], p.Signature); err != nil {
		return fmt.Errorf("%w: oracle price signature: %v", core.ErrInvalidSignature, err)
	}

	ps, err := ctx.State.GetPrice(p.InventoryIDHash)
	switch {
	case errors.Is(err, core.ErrNotFound):
		ps = &core.PriceStore{InventoryIDHash: p.InventoryIDHash}
	case err != nil:
		return err
	default:
		// Monotonic feed: never replace a price with an older one.
		if p.Timestamp < ps.Timestamp {
			return fmt.Errorf("%w: older than stored price", core.ErrInvalidTimestamp)
		}
	}

	ps.Price = p.Price
	ps.Timestamp = p.Timestamp
	ps.Oracle = g.Oracle
	ps.UpdateCount, err = core.CheckedAdd(ps.UpdateCount, 1)
	if err != nil {
		return err
	}
	if err := ctx.State.SetPrice(ps); err != nil {
		return err
	}

	ctx.Emit(events.EventPriceUpdated, map[string]any{
		"inventory_id_hash": p.InventoryIDHash.Hex(),
		"price":             p.Price,
		"timestamp":         p.Timestamp,
	})
	return nil
}

func handleSellBack(ctx *engine.Context, payload json.RawMessage) error {
	var p core.SellBackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode sell_back payload: %w", err)
	}
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	box, err := redeemableBox(ctx, g, p.AssetID)
	if err != nil {
		return err
	}

	ps, err := ctx.State.GetPrice(box.AssignedInventory)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%w: no price recorded for item", core.ErrPriceStale)
	}
	if err != nil {
		return err
	}
	if IsPriceStale(ps.Timestamp, ctx.Now) {
		return fmt.Errorf("%w: price is %ds old", core.ErrPriceStale, ctx.Now-ps.Timestamp)
	}

	return settle(ctx, g, box, ps.Price, p.MinPrice)
}

// handleSellBackQuoted settles at a caller-supplied quote instead of the
// stored oracle price. The slippage floor is the caller's only protection
// here, so a zero quote is rejected outright.
func handleSellBackQuoted(ctx *engine.Context, payload json.RawMessage) error {
	var p core.SellBackQuotedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode sell_back_quoted payload: %w", err)
	}
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	box, err := redeemableBox(ctx, g, p.AssetID)
	if err != nil {
		return err
	}
	if p.MarketPrice == 0 {
		return fmt.Errorf("%w: quoted price must be > 0", core.ErrSlippageExceeded)
	}
	return settle(ctx, g, box, p.MarketPrice, p.MinPrice)
}

// redeemableBox runs the guards every buyback variant shares: pause and
// buyback switches, ownership, lifecycle position.
func redeemableBox(ctx *engine.Context, g *core.Global, assetID string) (*core.BoxState, error) {
	if err := ctx.RequireNotPaused(g); err != nil {
		return nil, err
	}
	if !g.BuybackEnabled {
		return nil, core.ErrBuybackDisabled
	}

	box, err := ctx.State.GetBox(assetID)
	if err != nil {
		return nil, fmt.Errorf("box %q: %w", assetID, err)
	}
	if box.Owner != ctx.Op.From {
		return nil, fmt.Errorf("%w: only the box owner can sell back", core.ErrUnauthorized)
	}
	if box.Redeemed {
		return nil, fmt.Errorf("%w: box already redeemed", core.ErrAlreadyOpened)
	}
	if !box.Opened || box.AssignedInventory.IsZero() {
		return nil, core.ErrNotOpenedYet
	}
	return box, nil
}

// settle pays the seller from the treasury and retires the collectible.
// Solvency is checked against payout plus the configured floor, so a buyback
// can never drain the treasury below its reserve.
func settle(ctx *engine.Context, g *core.Global, box *core.BoxState, price, minPrice uint64) error {
	payout, err := ComputePayout(price, core.BuybackSpreadBps)
	if err != nil {
		return err
	}
	if payout < minPrice {
		return fmt.Errorf("%w: payout %d below floor %d", core.ErrSlippageExceeded, payout, minPrice)
	}

	treasuryBalance, err := bank.Balance(ctx.State, g.Treasury)
	if err != nil {
		return err
	}
	required, err := core.CheckedAdd(payout, g.MinTreasuryBalance)
	if err != nil {
		return err
	}
	if treasuryBalance < required {
		return fmt.Errorf("%w: treasury %d, need %d", core.ErrTreasuryInsufficient,
			treasuryBalance, required)
	}

	if err := bank.Transfer(ctx.State, g.Treasury, box.Owner, payout); err != nil {
		return err
	}

	g.TotalBuybacks, err = core.CheckedAdd(g.TotalBuybacks, 1)
	if err != nil {
		return err
	}
	g.TotalBuybackVolume, err = core.CheckedAdd(g.TotalBuybackVolume, payout)
	if err != nil {
		return err
	}
	if err := ctx.State.SetGlobal(g); err != nil {
		return err
	}

	// Thaw then burn: the collectible leaves circulation at redemption.
	if err := assets.SetFrozen(ctx.State, box.AssetID, false); err != nil {
		return err
	}
	if err := assets.Burn(ctx.State, box.AssetID, box.Owner); err != nil {
		return err
	}

	box.Redeemed = true
	box.RedeemTime = ctx.Now
	if err := ctx.State.SetBox(box); err != nil {
		return err
	}

	ctx.Emit(events.EventBuybackExecuted, map[string]any{
		"asset_id":          box.AssetID,
		"seller":            box.Owner,
		"price":             price,
		"payout":            payout,
		"inventory_id_hash": box.AssignedInventory.Hex(),
	})
	return nil
}
