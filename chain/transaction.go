package chain

import (
	"github.com/uqoin-network/uqoin-node/common"
	"github.com/uqoin-network/uqoin-node/crypto"
)

// Type enumerates the kinds of single transactions a Group can be built
// from (spec.md Glossary: "Group — atomic set of transactions that must
// succeed or fail together").
type Type int

const (
	// Transfer moves one coin to a new owner.
	Transfer Type = iota
	// Split breaks one coin into two coins one order lower, owned by the
	// same wallet (the free_split fee exemption in spec.md §6 applies
	// only to this type).
	Split
	// Merge combines two same-order coins owned by the same wallet into
	// one coin one order higher.
	Merge
	// Fee pays a whole coin to the block's miner; Fee transactions are
	// never a Group's primary operation, only an optional trailing member.
	Fee
)

const txPreimageSize = 1 + common.Size256*3

// Transaction is a single signed operation on a coin. The sender/owner
// authorizing it is never stored (spec.md §3): it is recovered from Sig
// against the preimage of the other fields.
type Transaction struct {
	Type  Type        `json:"type"`
	Coin  common.U256  `json:"coin"`
	Coin2 common.U256  `json:"coin2,omitempty"` // second coin consumed by Merge
	To    common.U256  `json:"to"`              // new owner (Transfer); unused by Split/Merge (owner kept) and Fee (coin goes to the block's miner)
	Sig   [65]byte     `json:"sig"`
}

func (tx Transaction) preimage() []byte {
	buf := make([]byte, 0, txPreimageSize)
	buf = append(buf, byte(tx.Type))
	buf = append(buf, tx.Coin[:]...)
	buf = append(buf, tx.Coin2[:]...)
	buf = append(buf, tx.To[:]...)
	return buf
}

// Hash returns the digest signed by the transaction's current owner.
func (tx Transaction) Hash(schema *crypto.Schema) common.U256 {
	return schema.Hash256(tx.preimage())
}

// CalcSender recovers the wallet that authorized this transaction. Per
// spec.md §9 Open Question (a), sender recovery is a pure function of the
// signature alone (the curve math does not consult mutable state); callers
// still pass state to every call site that needs it (fee/order lookups,
// coin-ownership checks performed by the validate package) so senders are
// always recomputed fresh at the point of use rather than cached from an
// earlier, possibly stale, state snapshot.
func (tx Transaction) CalcSender(schema *crypto.Schema) (common.U256, error) {
	return schema.Recover(tx.Hash(schema), tx.Sig)
}

// CalcSenders recovers senders for a whole transaction list, preserving
// order. Grounded on original_source/src/tasks/mine.rs:
// `Transaction::calc_senders(&transactions, &state, &schema)`.
func CalcSenders(schema *crypto.Schema, txs []Transaction) ([]common.U256, error) {
	out := make([]common.U256, len(txs))
	for i, tx := range txs {
		sender, err := tx.CalcSender(schema)
		if err != nil {
			return nil, err
		}
		out[i] = sender
	}
	return out, nil
}

// childCoin derives the deterministic id of a coin produced by Split or
// Merge from its parent coin(s). Using a pure hash derivation (rather than
// storing new ids on the transaction) keeps roll_down exact-inverse of
// roll_up: the derived id is always recomputable, so reverting a block
// never needs extra bookkeeping beyond "forget the derived coin, restore
// the parent(s)".
func childCoin(schema *crypto.Schema, salt byte, coins ...common.U256) common.U256 {
	buf := make([]byte, 0, 1+len(coins)*common.Size256)
	buf = append(buf, salt)
	for _, c := range coins {
		buf = append(buf, c[:]...)
	}
	return schema.Hash256(buf)
}

// SplitChildren returns the two coins produced by splitting coin (order-1
// each): a "left" and "right" half distinguished only by derivation salt.
func SplitChildren(schema *crypto.Schema, coin common.U256) (common.U256, common.U256) {
	return childCoin(schema, 0x01, coin), childCoin(schema, 0x02, coin)
}

// MergeChild returns the single coin produced by merging two same-order
// coins. Order of the two inputs does not matter.
func MergeChild(schema *crypto.Schema, a, b common.U256) common.U256 {
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	return childCoin(schema, 0x10, a, b)
}
