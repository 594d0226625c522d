// Package mine implements C5: the two-tier mining subsystem of spec.md
// §4.5. A cooperative supervisor goroutine refreshes a shared candidate
// (chain head hash + drained transaction list) up to mining_update_count
// times, sleeping between refreshes; a pool of OS-thread mining workers
// continuously searches for a winning nonce against whatever candidate is
// currently published, writing a result to a shared output slot. Both
// slots are guarded by one synchronous lock distinct from the cooperative
// AppData locks (spec.md §5: "a synchronous lock on three shared slots,
// not a cooperative one"). Grounded on original_source/src/tasks/mine.rs's
// `task`, `get_transactions_from_pool` and `add_new_block`, which is the
// single most complete subsystem in the prototype.
package mine

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	set "gopkg.in/fatih/set.v0"

	"github.com/uqoin-network/uqoin-node/appdata"
	"github.com/uqoin-network/uqoin-node/chain"
	"github.com/uqoin-network/uqoin-node/commit"
	"github.com/uqoin-network/uqoin-node/common"
	internallog "github.com/uqoin-network/uqoin-node/internal/log"
)

var logger = internallog.NewModuleLogger(internallog.Mine)

var (
	blocksMinedCounter  = metrics.NewRegisteredCounter("mine/blocksmined", nil)
	raceLostCounter     = metrics.NewRegisteredCounter("mine/racelost", nil)
	hashRateMeter       = metrics.NewRegisteredMeter("mine/hashrate", nil)
)

// input is the candidate a worker mines against.
type input struct {
	ready     bool
	blockHash common.U256
	txs       []chain.Transaction
}

// output is a winning nonce found for some input.
type output struct {
	blockHash common.U256
	txs       []chain.Transaction
	nonce     common.U256
	set       bool
}

// Supervisor owns the two shared slots and the worker pool. It has no
// cooperative lock of its own: slotMu is a plain sync.Mutex taken briefly
// by both OS-thread workers and the cooperative supervisor loop, per
// spec.md §5's explicit split between the two scheduling tiers.
type Supervisor struct {
	app *appdata.AppData

	slotMu sync.Mutex
	in     input
	out    output
}

// New creates a mine Supervisor bound to app. It does not start any
// goroutines; call Run.
func New(app *appdata.AppData) *Supervisor {
	return &Supervisor{app: app}
}

// Run starts mining_threads worker goroutines and blocks running the
// cooperative supervisor loop until ctx is cancelled. Intended to run
// under the crash-restart wrapper of tasksup.Supervise (spec.md §4.7).
func (s *Supervisor) Run(ctx context.Context) error {
	threads := s.app.Config.MiningThreads
	if threads <= 0 {
		logger.Info("mining disabled: MINING_THREADS <= 0")
		<-ctx.Done()
		return ctx.Err()
	}

	miner := s.app.Schema.PublicKey(s.app.Config.PrivateKey)

	for i := 0; i < threads; i++ {
		go s.worker(ctx, i, miner)
	}

	rng := chain.NewMathRNG(time.Now().UnixNano())
	for ctx.Err() == nil {
		s.refreshCandidateLoop(ctx, rng)
		s.tryCommitMinedBlock()
	}
	return ctx.Err()
}

// refreshCandidateLoop implements the "try to update transactions to join
// mining_update_count times" loop of original_source's task function: it
// re-drains the pool up to MiningUpdateCount times, publishing a new
// candidate to the input slot only when the chain head moved or the
// drained transaction count grew — spec.md's "never switch to a shorter
// candidate" rule, so workers never discard in-progress work on a
// same-head refresh that produced fewer transactions (e.g. a concurrent
// pool update raced the drain).
func (s *Supervisor) refreshCandidateLoop(ctx context.Context, rng chain.RNG) {
	iterSleep := time.Duration(s.app.Config.MiningTimeout/max1(s.app.Config.MiningUpdateCount)) * time.Millisecond

	for i := 0; i < s.app.Config.MiningUpdateCount; i++ {
		if ctx.Err() != nil {
			return
		}
		blockHash, txs := s.drainCandidate(rng)

		s.slotMu.Lock()
		if !s.in.ready || blockHash != s.in.blockHash || len(txs) > len(s.in.txs) {
			s.in = input{ready: true, blockHash: blockHash, txs: txs}
		}
		s.slotMu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(iterSleep):
		}
	}
}

// drainCandidate reads the pool under the fixed lock order (state then
// pool) and returns the current chain head hash plus a deduplicated
// transaction list. The dedup set drops any transaction whose coin already
// appears earlier in the prepared list, so no coin is referenced twice in
// one candidate — mirroring the teacher's ancestor/family exclusion sets in
// work/worker.go.
func (s *Supervisor) drainCandidate(rng chain.RNG) (common.U256, []chain.Transaction) {
	s.app.StateMu.RLock()
	defer s.app.StateMu.RUnlock()
	s.app.PoolMu.RLock()
	defer s.app.PoolMu.RUnlock()

	txs, _ := s.app.Pool.Prepare(rng, s.app.State, s.app.Config.MiningGroupsMax)

	seenCoins := set.New()
	deduped := make([]chain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if seenCoins.Has(tx.Coin) {
			continue
		}
		seenCoins.Add(tx.Coin)
		deduped = append(deduped, tx)
	}

	return s.app.State.GetLastBlockInfo().Hash, deduped
}

// tryCommitMinedBlock checks the output slot and, if a worker found a
// winning nonce, attempts to commit it via the commit package. The slot is
// cleared either way: a stale result (another block won the race while
// this nonce was being searched for) is simply discarded, per spec.md
// §4.6's "silent discard on stale prevhash" testable property.
func (s *Supervisor) tryCommitMinedBlock() {
	s.slotMu.Lock()
	out := s.out
	s.out = output{}
	s.slotMu.Unlock()

	if !out.set {
		return
	}

	miner := s.app.Schema.PublicKey(s.app.Config.PrivateKey)
	prev := chain.BlockInfo{Hash: out.blockHash}
	result, err := commit.Block(s.app, prev, miner, out.txs, out.nonce)
	if err != nil {
		logger.Warn("mined block failed to commit", "err", err)
		return
	}
	if result.Stale {
		raceLostCounter.Inc(1)
		logger.Debug("mined block lost the race to a concurrent commit")
		return
	}
	blocksMinedCounter.Inc(1)
	logger.Info("mined block committed", "bix", result.Info.Bix)
}

// worker is one OS-thread proof-of-work search loop. It never touches
// AppData directly: it only ever reads the input slot and writes the
// output slot, exactly the "workers communicate via a synchronous lock on
// shared slots, never through the cooperative locks" boundary spec.md §5
// draws between the two scheduling tiers.
func (s *Supervisor) worker(ctx context.Context, id int, miner common.U256) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rng := chain.NewMathRNG(time.Now().UnixNano() + int64(id))
	budget := s.app.Config.MiningNonceCountPerIteration

	for {
		if ctx.Err() != nil {
			return
		}

		s.slotMu.Lock()
		in := s.in
		haveOutForLonger := s.out.set && len(s.out.txs) >= len(in.txs)
		s.slotMu.Unlock()

		if !in.ready {
			time.Sleep(time.Millisecond)
			continue
		}
		if haveOutForLonger {
			time.Sleep(time.Millisecond)
			continue
		}

		start := time.Now()
		nonce, ok := chain.Mine(s.app.Schema, rng, in.blockHash, miner, in.txs, chain.COMPLEXITY, budget)
		hashRateMeter.Mark(int64(budget) * int64(time.Second) / int64(time.Since(start)+1))
		if !ok {
			continue
		}

		s.slotMu.Lock()
		if !s.out.set || len(in.txs) > len(s.out.txs) {
			s.out = output{blockHash: in.blockHash, txs: in.txs, nonce: nonce, set: true}
		}
		s.slotMu.Unlock()
	}
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
