// Package admin implements vault initialization, emergency controls,
// two-step authority transfer and treasury funding operations.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/boxvault/boxvault/core"
	"github.com/boxvault/boxvault/crypto"
	"github.com/boxvault/boxvault/engine"
	"github.com/boxvault/boxvault/engine/bank"
	"github.com/boxvault/boxvault/events"
)

func init() {
	engine.Register(core.OpInitVault, handleInitVault)
	engine.Register(core.OpSetPaused, handleSetPaused)
	engine.Register(core.OpToggleBuyback, handleToggleBuyback)
	engine.Register(core.OpSetMinTreasury, handleSetMinTreasury)
	engine.Register(core.OpTransferAuthority, handleTransferAuthority)
	engine.Register(core.OpAcceptAuthority, handleAcceptAuthority)
	engine.Register(core.OpDepositTreasury, handleDepositTreasury)
	engine.Register(core.OpWithdrawTreasury, handleWithdrawTreasury)
}

// TreasuryAddress derives the treasury account address for an authority.
func TreasuryAddress(authority string) string {
	return crypto.Hash([]byte("treasury:" + authority))
}

func handleInitVault(ctx *engine.Context, payload json.RawMessage) error {
	var p core.InitVaultPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode init_vault payload: %w", err)
	}
	if _, err := crypto.PubKeyFromHex(p.Oracle); err != nil {
		return fmt.Errorf("invalid oracle pubkey: %w", err)
	}
	if p.SettlementMint == "" {
		return errors.New("settlement_mint required")
	}

	minBalance := p.MinTreasuryBalance
	if minBalance == 0 {
		minBalance = core.DefaultMinTreasuryBalance
	}

	g := &core.Global{
		Authority:          ctx.Op.From,
		Oracle:             p.Oracle,
		SettlementMint:     p.SettlementMint,
		Treasury:           TreasuryAddress(ctx.Op.From),
		BuybackEnabled:     true,
		Paused:             false,
		MinTreasuryBalance: minBalance,
	}
	if err := ctx.State.CreateGlobal(g); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			return fmt.Errorf("vault already initialized: %w", err)
		}
		return err
	}
	if err := ctx.State.SetAccount(&core.Account{Address: g.Treasury}); err != nil {
		return err
	}

	ctx.Emit(events.EventVaultInitialized, map[string]any{
		"authority": g.Authority,
		"oracle":    g.Oracle,
		"treasury":  g.Treasury,
	})
	return nil
}

func handleSetPaused(ctx *engine.Context, payload json.RawMessage) error {
	var p core.SetPausedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_paused payload: %w", err)
	}
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	if err := ctx.RequireAuthority(g); err != nil {
		return err
	}
	g.Paused = p.Paused
	if err := ctx.State.SetGlobal(g); err != nil {
		return err
	}
	ctx.Emit(events.EventPauseToggled, map[string]any{"paused": p.Paused})
	return nil
}

func handleToggleBuyback(ctx *engine.Context, payload json.RawMessage) error {
	var p core.ToggleBuybackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode toggle_buyback payload: %w", err)
	}
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	if err := ctx.RequireAuthority(g); err != nil {
		return err
	}
	g.BuybackEnabled = p.Enabled
	if err := ctx.State.SetGlobal(g); err != nil {
		return err
	}
	ctx.Emit(events.EventBuybackToggled, map[string]any{"enabled": p.Enabled})
	return nil
}

func handleSetMinTreasury(ctx *engine.Context, payload json.RawMessage) error {
	var p core.SetMinTreasuryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_min_treasury payload: %w", err)
	}
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	if err := ctx.RequireAuthority(g); err != nil {
		return err
	}
	g.MinTreasuryBalance = p.Amount
	return ctx.State.SetGlobal(g)
}

// handleTransferAuthority stages the handoff; nothing changes until the new
// identity explicitly accepts. This prevents an irrecoverable transfer to an
// unreachable key.
func handleTransferAuthority(ctx *engine.Context, payload json.RawMessage) error {
	var p core.TransferAuthorityPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer_authority payload: %w", err)
	}
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	if err := ctx.RequireAuthority(g); err != nil {
		return err
	}
	if _, err := crypto.PubKeyFromHex(p.NewAuthority); err != nil {
		return fmt.Errorf("invalid new authority pubkey: %w", err)
	}
	g.PendingAuthority = p.NewAuthority
	return ctx.State.SetGlobal(g)
}

func handleAcceptAuthority(ctx *engine.Context, payload json.RawMessage) error {
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	if g.PendingAuthority == "" || ctx.Op.From != g.PendingAuthority {
		return fmt.Errorf("%w: signer is not the pending authority", core.ErrUnauthorized)
	}
	old := g.Authority
	g.Authority = g.PendingAuthority
	g.PendingAuthority = ""
	if err := ctx.State.SetGlobal(g); err != nil {
		return err
	}
	ctx.Emit(events.EventAuthorityChanged, map[string]any{
		"old_authority": old,
		"new_authority": g.Authority,
	})
	return nil
}

func handleDepositTreasury(ctx *engine.Context, payload json.RawMessage) error {
	var p core.DepositTreasuryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode deposit_treasury payload: %w", err)
	}
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	if err := bank.Transfer(ctx.State, ctx.Op.From, g.Treasury, p.Amount); err != nil {
		return err
	}
	ctx.Emit(events.EventTreasuryDeposit, map[string]any{
		"depositor": ctx.Op.From,
		"amount":    p.Amount,
	})
	return nil
}

// handleWithdrawTreasury enforces the same solvency floor as settlement: the
// balance left behind must stay at or above the configured minimum.
func handleWithdrawTreasury(ctx *engine.Context, payload json.RawMessage) error {
	var p core.WithdrawTreasuryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode withdraw_treasury payload: %w", err)
	}
	g, err := ctx.Global()
	if err != nil {
		return err
	}
	if err := ctx.RequireAuthority(g); err != nil {
		return err
	}
	if p.To == "" {
		return errors.New("withdraw recipient required")
	}

	balance, err := bank.Balance(ctx.State, g.Treasury)
	if err != nil {
		return err
	}
	remaining, err := core.CheckedSub(balance, p.Amount)
	if err != nil {
		return err
	}
	if remaining < g.MinTreasuryBalance {
		return fmt.Errorf("%w: withdrawal leaves %d, floor is %d",
			core.ErrTreasuryInsufficient, remaining, g.MinTreasuryBalance)
	}

	if err := bank.Transfer(ctx.State, g.Treasury, p.To, p.Amount); err != nil {
		return err
	}
	ctx.Emit(events.EventTreasuryWithdraw, map[string]any{
		"to":     p.To,
		"amount": p.Amount,
	})
	return nil
}
