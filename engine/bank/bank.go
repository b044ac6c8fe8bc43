// Package bank implements the fungible settlement-asset collaborator:
// balance lookups and all-or-nothing transfers between ledger accounts.
package bank

import (
	"fmt"

	"github.com/boxvault/boxvault/core"
)

// Transfer moves amount from one account to another. It either fully
// succeeds or leaves both balances untouched; running inside an engine
// operation, a failure after the debit is rolled back with the rest of the
// write buffer.
func Transfer(st core.State, from, to string, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: transfer amount must be > 0", core.ErrInsufficientFunds)
	}
	if from == to {
		return fmt.Errorf("transfer from and to are the same account %q", from)
	}

	sender, err := st.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance < amount {
		return fmt.Errorf("%w: have %d, need %d", core.ErrInsufficientFunds, sender.Balance, amount)
	}
	sender.Balance -= amount
	if err := st.SetAccount(sender); err != nil {
		return err
	}

	recipient, err := st.GetAccount(to)
	if err != nil {
		return err
	}
	recipient.Balance, err = core.CheckedAdd(recipient.Balance, amount)
	if err != nil {
		return err
	}
	return st.SetAccount(recipient)
}

// Balance returns the current balance of address. Unknown accounts have a
// zero balance.
func Balance(st core.State, address string) (uint64, error) {
	acc, err := st.GetAccount(address)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Credit mints amount into address. Only test fixtures and administrative
// funding paths use this; settlement itself always moves existing funds.
func Credit(st core.State, address string, amount uint64) error {
	acc, err := st.GetAccount(address)
	if err != nil {
		return err
	}
	acc.Balance, err = core.CheckedAdd(acc.Balance, amount)
	if err != nil {
		return err
	}
	return st.SetAccount(acc)
}
