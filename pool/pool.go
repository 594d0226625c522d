// Package pool implements the mempool of spec.md §3: a set of pending
// transaction groups keyed by sender, admitted and drained as whole groups
// rather than individual transactions. Grounded on original_source/src/tasks/mine.rs
// (`pool.prepare(rng, &state, &schema, &private_key, mining_groups_max)`,
// `pool.update(&state, &schema)`, `pool.clear()`).
package pool

import (
	"github.com/uqoin-network/uqoin-node/chain"
	"github.com/uqoin-network/uqoin-node/common"
	"github.com/uqoin-network/uqoin-node/state"
	"github.com/uqoin-network/uqoin-node/validate"
)

// Pool holds at most one pending group per sender. It carries no lock of
// its own: the Shared State Container (spec.md §4.1) is the single owner
// of the pool's read/write lock, acquired in the fixed global order.
type Pool struct {
	groups map[common.U256]*chain.Group
}

func New() *Pool {
	return &Pool{groups: make(map[common.U256]*chain.Group)}
}

// Add admits a group into the pool, replacing any earlier pending group
// from the same sender (a sender may only have one outstanding group at a
// time, mirroring an account nonce).
func (p *Pool) Add(g *chain.Group, sender common.U256) {
	p.groups[sender] = g
}

// Len reports the number of pending groups.
func (p *Pool) Len() int { return len(p.groups) }

// Prepare drains a candidate block's transaction list from the pool,
// respecting a current state snapshot and capping the number of groups
// drained at maxGroups. Draining order is randomized (tie-broken by rng)
// so that concurrent miners racing on the same pool content do not
// converge on identical candidates. Groups that fail validation against
// st are skipped, not removed (Update is the only place group membership
// shrinks outside of a successful commit).
func (p *Pool) Prepare(rng chain.RNG, st *state.State, maxGroups int) ([]chain.Transaction, []common.U256) {
	senders := make([]common.U256, 0, len(p.groups))
	for sender := range p.groups {
		senders = append(senders, sender)
	}
	shuffle(rng, senders)

	var txs []chain.Transaction
	var txSenders []common.U256
	taken := 0
	for _, sender := range senders {
		if taken >= maxGroups {
			break
		}
		g := p.groups[sender]
		if err := validate.Group(g, st); err != nil {
			continue
		}
		for range g.Transactions {
			txSenders = append(txSenders, sender)
		}
		txs = append(txs, g.Transactions...)
		taken++
	}
	return txs, txSenders
}

// Update drops every group that is no longer valid against st — e.g. a
// coin it depends on was consumed by a block committed on an alternate
// branch during sync (spec.md §9 Open Question (b), accepted as correct).
func (p *Pool) Update(st *state.State) {
	for sender, g := range p.groups {
		if err := validate.Group(g, st); err != nil {
			delete(p.groups, sender)
		}
	}
}

// Clear empties the pool, used by the commit path when a build failure
// implies the drained groups were mutually inconsistent (spec.md §4.6
// step 2).
func (p *Pool) Clear() {
	p.groups = make(map[common.U256]*chain.Group)
}

// Merge re-admits groups from another pool (e.g. the ones rolled down
// during a sync reorg) without evicting groups already present from a
// different sender.
func (p *Pool) Merge(other *Pool) {
	for sender, g := range other.groups {
		if _, exists := p.groups[sender]; !exists {
			p.groups[sender] = g
		}
	}
}

func shuffle(rng chain.RNG, s []common.U256) {
	for i := len(s) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}
