// Package appdata implements C1, the Shared State Container of spec.md
// §4.1: the single owner of the blockchain store, the materialized state,
// the mempool, the peer list and the is_syncing flag, each guarded by its
// own lock acquired in the fixed global order blockchain -> state -> pool
// -> peers -> is_syncing. Grounded on original_source/src/appdata.rs
// (AppData's field list: config, schema, pool, state, blockchain,
// validators — a tokio::sync::RwLock per field) translated to Go's
// sync.RWMutex, and on the teacher's node/service.go pattern of a single
// struct wiring every subsystem together at startup.
package appdata

import (
	"path/filepath"
	"sync"

	"github.com/uqoin-network/uqoin-node/chain"
	"github.com/uqoin-network/uqoin-node/chainstore"
	"github.com/uqoin-network/uqoin-node/common"
	"github.com/uqoin-network/uqoin-node/config"
	"github.com/uqoin-network/uqoin-node/crypto"
	internallog "github.com/uqoin-network/uqoin-node/internal/log"
	"github.com/uqoin-network/uqoin-node/pool"
	"github.com/uqoin-network/uqoin-node/state"
)

var logger = internallog.NewModuleLogger(internallog.Appdata)

// StateFileName is the snapshot file spec.md §6 names: DATA_PATH/state.json.
const StateFileName = "state.json"

// AppData is C1's Shared State Container. Every field that participates in
// concurrent mutation is guarded by its own lock; callers that need more
// than one resource MUST acquire the locks in exactly this order:
// BlockchainMu, StateMu, PoolMu, PeersMu, SyncMu. Violating the order is a
// deadlock waiting to happen and is the one invariant this package cannot
// enforce at compile time (spec.md §4.1 and §9).
type AppData struct {
	Config config.Config
	Schema *crypto.Schema

	BlockchainMu sync.RWMutex
	Blockchain   *chainstore.Store

	StateMu sync.RWMutex
	State   *state.State

	PoolMu sync.RWMutex
	Pool   *pool.Pool

	PeersMu sync.RWMutex
	peers   []string

	SyncMu    sync.Mutex
	isSyncing bool

	// Validators carries forward original_source/src/appdata.rs's
	// `validators: RwLock<Vec<U256>>` field (SUPPLEMENTED FEATURES: GET
	// /validator/list). It has no consensus weight in this node — plain
	// longest-chain is the only fork rule (spec.md §1 Non-goals).
	ValidatorsMu sync.RWMutex
	validators   []common.U256
}

// New opens the block store at cfg.DataPath, then either loads a state
// snapshot from disk or rebuilds state from scratch by replaying every
// block in the store. Grounded on spec.md §4.1's startup contract: "open
// blockchain, load state snapshot or rebuild by replay, persist snapshot;
// fail hard on snapshot-apply errors rather than silently rebuild."
func New(cfg config.Config) (*AppData, error) {
	store, err := chainstore.Open(cfg.DataPath)
	if err != nil {
		return nil, err
	}

	schema := crypto.New()
	statePath := filepath.Join(cfg.DataPath, StateFileName)

	var st *state.State
	if state.Exists(statePath) {
		st, err = state.Load(statePath)
		if err != nil {
			store.Close()
			return nil, err
		}
		if st.GetLastBlockInfo().Bix != store.LastBlockInfo().Bix {
			logger.Warn("state snapshot is behind the block store, rebuilding",
				"state_bix", st.GetLastBlockInfo().Bix, "store_bix", store.LastBlockInfo().Bix)
			st, err = rebuild(schema, store)
			if err != nil {
				store.Close()
				return nil, err
			}
		}
	} else {
		st, err = rebuild(schema, store)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	if err := st.Dump(statePath); err != nil {
		store.Close()
		return nil, err
	}

	var validators []common.U256
	if !cfg.PrivateKey.IsZero() {
		validators = append(validators, schema.PublicKey(cfg.PrivateKey))
	}

	return &AppData{
		Config:     cfg,
		Schema:     schema,
		Blockchain: store,
		State:      st,
		Pool:       pool.New(),
		peers:      append([]string(nil), cfg.Nodes...),
		validators: validators,
	}, nil
}

// rebuild replays every block currently in store, from genesis, into a
// fresh State. Used both at cold start (no snapshot file yet) and when an
// existing snapshot's cursor doesn't match the store (e.g. the node
// crashed between committing a block and dumping the snapshot).
func rebuild(schema *crypto.Schema, store *chainstore.Store) (*state.State, error) {
	st := state.New()
	head := store.LastBlockInfo().Bix
	for bix := uint64(1); bix <= head; bix++ {
		data, err := store.GetBlockData(bix)
		if err != nil {
			return nil, err
		}
		senders, err := chain.CalcSenders(schema, data.Transactions)
		if err != nil {
			return nil, err
		}
		st.RollUp(bix, data.Block, data.Transactions, senders)
	}
	logger.Info("state rebuilt from block store", "bix", head)
	return st, nil
}

// Close releases the underlying block store.
func (a *AppData) Close() error {
	return a.Blockchain.Close()
}

// PersistState dumps the current state under StateMu's read lock (a dump
// only reads the in-memory maps) to StateFileName, per the commit path's
// final step (spec.md §4.6 step 5).
func (a *AppData) PersistState() error {
	a.StateMu.RLock()
	defer a.StateMu.RUnlock()
	return a.State.Dump(filepath.Join(a.Config.DataPath, StateFileName))
}

// Peers returns a snapshot copy of the configured peer list.
func (a *AppData) Peers() []string {
	a.PeersMu.RLock()
	defer a.PeersMu.RUnlock()
	out := make([]string, len(a.peers))
	copy(out, a.peers)
	return out
}

// AddPeer appends a peer URL if not already present.
func (a *AppData) AddPeer(url string) {
	a.PeersMu.Lock()
	defer a.PeersMu.Unlock()
	for _, p := range a.peers {
		if p == url {
			return
		}
	}
	a.peers = append(a.peers, url)
}

// IsSyncing reports whether a multi-batch catch-up is in progress: the sync
// supervisor sets it when the remote head is more than one batch ahead and
// clears it once a batch reaches the remote head (spec.md §4.4). The API
// rejects /client/coins, /client/coins/hash and /client/send while it is
// set; mining does not consult it.
func (a *AppData) IsSyncing() bool {
	a.SyncMu.Lock()
	defer a.SyncMu.Unlock()
	return a.isSyncing
}

// SetSyncing updates the is_syncing flag. It is the last lock in the fixed
// acquisition order and must never be held while requesting any of the
// others.
func (a *AppData) SetSyncing(v bool) {
	a.SyncMu.Lock()
	defer a.SyncMu.Unlock()
	a.isSyncing = v
}

// Validators returns the configured validator public keys (SUPPLEMENTED
// FEATURES: GET /validator/list), a read-only informational list with no
// consensus weight.
func (a *AppData) Validators() []common.U256 {
	a.ValidatorsMu.RLock()
	defer a.ValidatorsMu.RUnlock()
	out := make([]common.U256, len(a.validators))
	copy(out, a.validators)
	return out
}
