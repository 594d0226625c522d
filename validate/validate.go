// Package validate implements the transaction-group validator named
// interface of spec.md §1: "the on-disk block store, the transaction-group
// validator... are referenced by contract in §6" — out of scope for the
// concurrency-heavy core, but needed so the core has something concrete to
// call. Grounded on original_source/src/scopes/client.rs, where
// `Group::new(transactions, &state, &senders)` and the surrounding fee
// logic are the only place the prototype touches group semantics.
package validate

import (
	"github.com/pkg/errors"

	"github.com/uqoin-network/uqoin-node/chain"
	"github.com/uqoin-network/uqoin-node/common"
	"github.com/uqoin-network/uqoin-node/state"
)

var (
	ErrCoinUnknown    = errors.New("validate: coin has no owner in state")
	ErrNotOwner       = errors.New("validate: sender does not own coin")
	ErrOrderMismatch  = errors.New("validate: merge operands have different orders")
	ErrOrderTooLow    = errors.New("validate: coin order too low to split")
	ErrSameCoin       = errors.New("validate: merge operands must be distinct coins")
)

// Group checks a structurally-valid *chain.Group against a state snapshot:
// every coin referenced exists, is owned by the claimed sender, and the
// operation is numerically sound (split needs order > 0, merge needs equal
// orders on two distinct coins).
func Group(g *chain.Group, st *state.State) error {
	tx := g.Transactions[0]
	sender := g.Sender()

	switch tx.Type {
	case chain.Transfer:
		if err := requireOwner(st, tx.Coin, sender); err != nil {
			return err
		}
	case chain.Split:
		if err := requireOwner(st, tx.Coin, sender); err != nil {
			return err
		}
		info, _ := st.GetCoinInfo(tx.Coin)
		if info.Order == 0 {
			return ErrOrderTooLow
		}
	case chain.Merge:
		if tx.Coin == tx.Coin2 {
			return ErrSameCoin
		}
		if err := requireOwner(st, tx.Coin, sender); err != nil {
			return err
		}
		if err := requireOwner(st, tx.Coin2, sender); err != nil {
			return err
		}
		i1, _ := st.GetCoinInfo(tx.Coin)
		i2, _ := st.GetCoinInfo(tx.Coin2)
		if i1.Order != i2.Order {
			return ErrOrderMismatch
		}
	}

	if fee := g.GetFee(); fee != nil {
		if err := requireOwner(st, fee.Coin, sender); err != nil {
			return err
		}
	}
	return nil
}

func requireOwner(st *state.State, coin, sender common.U256) error {
	owner, ok := st.GetOwner(coin)
	if !ok {
		return ErrCoinUnknown
	}
	if owner != sender {
		return ErrNotOwner
	}
	return nil
}
