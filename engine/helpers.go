package engine

import (
	"errors"
	"fmt"

	"github.com/boxvault/boxvault/core"
)

// Global loads the singleton vault record, failing if the vault has not been
// initialized yet.
func (ctx *Context) Global() (*core.Global, error) {
	g, err := ctx.State.GetGlobal()
	if errors.Is(err, core.ErrNotFound) {
		return nil, errors.New("vault not initialized")
	}
	return g, err
}

// RequireAuthority checks that the operation signer is the vault authority.
func (ctx *Context) RequireAuthority(g *core.Global) error {
	if ctx.Op.From != g.Authority {
		return fmt.Errorf("%w: signer is not the vault authority", core.ErrUnauthorized)
	}
	return nil
}

// RequireOracle checks that the operation signer is the configured oracle.
func (ctx *Context) RequireOracle(g *core.Global) error {
	if ctx.Op.From != g.Oracle {
		return fmt.Errorf("%w: signer is not the oracle", core.ErrUnauthorized)
	}
	return nil
}

// RequireNotPaused gates user-mutating transitions. Admin operations never
// call this.
func (ctx *Context) RequireNotPaused(g *core.Global) error {
	if g.Paused {
		return fmt.Errorf("%w: vault is paused", core.ErrBuybackDisabled)
	}
	return nil
}
