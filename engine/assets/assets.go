// Package assets implements the collectible collaborator consumed by the
// lifecycle handlers: mint, metadata update, freeze control and burn.
// Every call either fully succeeds or fully fails.
package assets

import (
	"errors"
	"fmt"

	"github.com/boxvault/boxvault/core"
)

// Mint creates a new collectible record. The ID must be unique; boxes derive
// it from the minting operation's hash, so collisions mean a replayed mint.
func Mint(st core.State, a *core.Asset) error {
	if a.ID == "" {
		return errors.New("asset id required")
	}
	_, err := st.GetAsset(a.ID)
	if err == nil {
		return fmt.Errorf("%w: asset %q", core.ErrAlreadyExists, a.ID)
	}
	if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	return st.SetAsset(a)
}

// UpdateMetadata rewrites an asset's display name and URI. Used when a
// mystery box resolves into a concrete item.
func UpdateMetadata(st core.State, id, name, uri string) error {
	a, err := st.GetAsset(id)
	if err != nil {
		return fmt.Errorf("asset %q: %w", id, err)
	}
	a.Name = name
	a.URI = uri
	return st.SetAsset(a)
}

// SetFrozen flips the freeze flag. Boxes are minted frozen so they cannot be
// moved while the vault holds redemption liability against them.
func SetFrozen(st core.State, id string, frozen bool) error {
	a, err := st.GetAsset(id)
	if err != nil {
		return fmt.Errorf("asset %q: %w", id, err)
	}
	a.Frozen = frozen
	return st.SetAsset(a)
}

// Burn permanently destroys an asset. Only the owner's operations may burn,
// and a frozen asset must be unfrozen first.
func Burn(st core.State, id, owner string) error {
	a, err := st.GetAsset(id)
	if err != nil {
		return fmt.Errorf("asset %q: %w", id, err)
	}
	if a.Owner != owner {
		return fmt.Errorf("%w: asset %q not owned by %s", core.ErrUnauthorized, id, owner)
	}
	if a.Frozen {
		return fmt.Errorf("asset %q is frozen; unfreeze before burning", id)
	}
	return st.DeleteAsset(id)
}
