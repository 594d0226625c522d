// Package commit implements C6, the Block Commit Path of spec.md §4.6: take
// a candidate (prevHash, miner, transactions, winning nonce), verify the
// candidate is still built against the current chain head, assemble and
// persist the block, roll the state forward, update the pool, and persist
// a state snapshot. Grounded on original_source/src/tasks/mine.rs's
// `add_new_block`, which is the one place the prototype performs every one
// of these steps in the documented order.
package commit

import (
	"path/filepath"

	"github.com/uqoin-network/uqoin-node/appdata"
	"github.com/uqoin-network/uqoin-node/chain"
	"github.com/uqoin-network/uqoin-node/common"
	"github.com/uqoin-network/uqoin-node/internal/errs"
	internallog "github.com/uqoin-network/uqoin-node/internal/log"
)

var logger = internallog.NewModuleLogger(internallog.Commit)

// Result reports what a Block attempt actually did, so callers (the mine
// supervisor, the sync supervisor's reorg path) can log or react without
// re-deriving state.
type Result struct {
	Committed bool
	Stale     bool
	Info      chain.BlockInfo
}

// Block attempts to commit one candidate block built against expectedPrev.
// It acquires the fixed lock order blockchain -> state -> pool (spec.md
// §4.1) for the whole attempt, so a concurrent sync commit and a mine
// commit can never interleave.
//
// If the chain head has moved past expectedPrev since the candidate was
// mined (another block — from sync or a faster mining thread — won the
// race), the candidate is silently discarded: Result.Stale is true, no
// error. This is spec.md §4.6's "stale-prevhash check" and is the expected,
// common outcome of losing a block race, not a failure.
//
// A build failure (a transaction's sender cannot be recovered from its
// signature, or the nonce does not meet chain.COMPLEXITY) clears the pool
// and returns a tagged errs.BuildFailure, per spec.md §4.6 step 2. The
// transactions are not re-validated against state here: coin ownership,
// orders and group shape are not checked by this function.
func Block(a *appdata.AppData, expectedPrev chain.BlockInfo, miner common.U256, txs []chain.Transaction, nonce common.U256) (Result, error) {
	a.BlockchainMu.Lock()
	defer a.BlockchainMu.Unlock()
	a.StateMu.Lock()
	defer a.StateMu.Unlock()

	last := a.State.GetLastBlockInfo()
	if last.Hash != expectedPrev.Hash {
		logger.Debug("discarding stale candidate", "expected_prev", expectedPrev.Hash, "actual_prev", last.Hash)
		return Result{Stale: true}, nil
	}

	senders, err := chain.CalcSenders(a.Schema, txs)
	if err != nil {
		return clearPoolOnFailure(a, err)
	}

	block, err := chain.Build(a.Schema, last, miner, txs, nonce, chain.COMPLEXITY)
	if err != nil {
		return clearPoolOnFailure(a, err)
	}

	info, err := a.Blockchain.PushNewBlock(block, txs)
	if err != nil {
		return Result{}, errs.StorageFailure(err)
	}

	a.State.RollUp(info.Bix, block, txs, senders)

	a.PoolMu.Lock()
	a.Pool.Update(a.State)
	a.PoolMu.Unlock()

	if err := a.State.Dump(statePath(a)); err != nil {
		return Result{}, errs.StorageFailure(err)
	}

	logger.Info("new block committed", "bix", info.Bix, "miner", miner, "txs", len(txs))
	return Result{Committed: true, Info: info}, nil
}

func clearPoolOnFailure(a *appdata.AppData, cause error) (Result, error) {
	logger.Warn("unable to build a block, clearing pool", "err", cause)
	a.PoolMu.Lock()
	a.Pool.Clear()
	a.PoolMu.Unlock()
	return Result{}, errs.BuildFailure(cause)
}

func statePath(a *appdata.AppData) string {
	return filepath.Join(a.Config.DataPath, appdata.StateFileName)
}
