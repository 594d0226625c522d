package chain

import (
	"github.com/uqoin-network/uqoin-node/common"
)

// Group is a semantically complete atomic unit of transactions (spec.md
// §3): one primary operation (Transfer, Split or Merge) plus an optional
// trailing Fee transaction. Groups, not individual transactions, are the
// unit of mempool admission and block assembly. Grounded on
// original_source/src/scopes/client.rs, whose send_view builds exactly
// this shape: `Group::new(transactions, &state, &senders)`, then inspects
// `group.get_type()` and `group.get_fee()`.
type Group struct {
	Transactions []Transaction
	Senders      []common.U256
}

// NewGroup performs the structural validation spec.md assigns to group
// construction: 1 or 2 transactions, the first is a primary operation, the
// optional second is a Fee paid by the same sender as the first. Deeper
// semantic checks (does the sender actually own the coin, is the order
// correct) belong to the validate package (the out-of-scope
// transaction-group validator named interface, spec.md §1).
func NewGroup(txs []Transaction, senders []common.U256) (*Group, error) {
	if len(txs) == 0 || len(txs) > 2 {
		return nil, ErrGroupShape
	}
	if txs[0].Type == Fee {
		return nil, ErrGroupShape
	}
	if len(txs) == 2 {
		if txs[1].Type != Fee {
			return nil, ErrGroupShape
		}
		if senders[1] != senders[0] {
			return nil, ErrGroupSender
		}
	}
	return &Group{Transactions: txs, Senders: senders}, nil
}

// GetType returns the primary operation's type.
func (g *Group) GetType() Type {
	return g.Transactions[0].Type
}

// GetFee returns the trailing Fee transaction, if the group carries one.
func (g *Group) GetFee() *Transaction {
	if len(g.Transactions) == 2 {
		return &g.Transactions[1]
	}
	return nil
}

// Sender returns the wallet that owns (and authorized) this group's
// primary operation.
func (g *Group) Sender() common.U256 {
	return g.Senders[0]
}
