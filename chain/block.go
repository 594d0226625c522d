// Package chain implements the data model of spec.md §3: blocks, the
// compact BlockInfo cursor, block-plus-transactions BlockData, and the
// transaction/group types that make up the mempool and block-assembly
// unit. Grounded on original_source/src/scopes/blockchain.rs (BlockInfo,
// BlockData, GENESIS_HASH) and on the teacher's header/body split
// (storage/database/db_manager.go separates ReadHeader from ReadBody) which
// this package mirrors: Block never embeds its own transaction list.
package chain

import (
	"encoding/binary"
	"math/bits"

	"github.com/uqoin-network/uqoin-node/common"
	"github.com/uqoin-network/uqoin-node/crypto"
)

// COMPLEXITY is the fixed proof-of-work difficulty target: the minimum
// number of leading zero bits a block hash must carry. Dynamic difficulty
// adjustment is an explicit Non-goal (spec.md §1).
const COMPLEXITY = 20

// GenesisHashHex is the fixed 256-bit constant referenced by spec.md §3 as
// GENESIS_HASH.
const GenesisHashHex = "0000000000000000000000000000000000000000000000000000000000000000"

// GenesisHash returns the parsed GENESIS_HASH constant.
func GenesisHash() common.U256 { return common.FromHex(GenesisHashHex) }

// Block is the header-only record of spec.md §3: byte offset into the flat
// block file, its size, its own hash, the miner's public key, the winning
// nonce, and a link to the previous block's hash. Transactions are carried
// alongside it in BlockData / persisted separately in the block store,
// never embedded, so that a BlockInfo cursor stays O(1) to copy.
type Block struct {
	Offset   uint64      `json:"offset"`
	Size     uint64      `json:"size"`
	Hash     common.U256 `json:"hash"`
	Miner    common.U256 `json:"miner"`
	Nonce    common.U256 `json:"nonce"`
	PrevHash common.U256 `json:"prev_hash"`
}

// BlockInfo is the minimal cursor into the chain (spec.md §3).
type BlockInfo struct {
	Bix       uint64      `json:"bix"`
	OffsetEnd uint64      `json:"offset_end"`
	Hash      common.U256 `json:"hash"`
}

// Genesis is BlockInfo::genesis = {0, 0, GENESIS_HASH}.
func Genesis() BlockInfo {
	return BlockInfo{Bix: 0, OffsetEnd: 0, Hash: GenesisHash()}
}

// BlockData bundles a block with its transactions, as returned by the
// block-data and block-many HTTP endpoints (spec.md §6).
type BlockData struct {
	Bix          uint64        `json:"bix"`
	Block        Block         `json:"block"`
	Transactions []Transaction `json:"transactions"`
}

// signingPreimage serializes everything that commits a block's identity
// except the block's own hash: the previous hash, the miner, the nonce and
// the ordered transaction list. It is the preimage hashed to produce
// Block.Hash and the preimage re-hashed by proof-of-work search.
func signingPreimage(prevHash, miner, nonce common.U256, txs []Transaction) []byte {
	buf := make([]byte, 0, 96+len(txs)*txPreimageSize)
	buf = append(buf, prevHash[:]...)
	buf = append(buf, miner[:]...)
	buf = append(buf, nonce[:]...)
	var lenBytes [8]byte
	binary.BigEndian.PutUint64(lenBytes[:], uint64(len(txs)))
	buf = append(buf, lenBytes[:]...)
	for _, tx := range txs {
		buf = append(buf, tx.preimage()...)
	}
	return buf
}

// leadingZeroBits counts how many leading bits of h are zero.
func leadingZeroBits(h common.U256) int {
	n := 0
	for _, b := range h {
		if b == 0 {
			n += 8
			continue
		}
		n += bits.LeadingZeros8(b)
		break
	}
	return n
}

// meetsComplexity reports whether hash h satisfies the fixed PoW target.
func meetsComplexity(h common.U256, complexity int) bool {
	return leadingZeroBits(h) >= complexity
}

// Mine performs a bounded proof-of-work search: it tries up to
// nonceBudget nonces drawn from rng and returns the first one whose hash
// meets complexity, or false if the budget is exhausted. Grounded on
// original_source/src/tasks/mine.rs (Block::mine call inside the worker
// loop, `Some(mining_nonce_count_per_iteration)` bounding the search).
func Mine(schema *crypto.Schema, rng RNG, prevHash, miner common.U256, txs []Transaction, complexity int, nonceBudget uint64) (common.U256, bool) {
	for i := uint64(0); i < nonceBudget; i++ {
		nonce := rng.Next256()
		h := schema.Hash256(signingPreimage(prevHash, miner, nonce, txs))
		if meetsComplexity(h, complexity) {
			return nonce, true
		}
	}
	return common.Zero, false
}

// RNG is the minimal randomness source threaded explicitly through mining
// and pool preparation (spec.md §9: never captured from a global).
type RNG interface {
	Next256() common.U256
	Intn(n int) int
}

// Build assembles a candidate block once a winning nonce has been found,
// per the commit path (spec.md §4.6 step 2). senders must already be
// recomputed against state; Build does not re-derive them. Group-level
// validation is delegated to the validate package (the named
// transaction-group validator interface of spec.md §1).
func Build(schema *crypto.Schema, last BlockInfo, miner common.U256, txs []Transaction, nonce common.U256, complexity int) (Block, error) {
	h := schema.Hash256(signingPreimage(last.Hash, miner, nonce, txs))
	if !meetsComplexity(h, complexity) {
		return Block{}, ErrComplexityNotMet
	}
	return Block{
		Hash:     h,
		Miner:    miner,
		Nonce:    nonce,
		PrevHash: last.Hash,
	}, nil
}

// Validate re-derives a downloaded block's hash and checks it both chains
// from prevInfo and meets the fixed complexity target, per the speculative
// validation step of the sync supervisor (spec.md §4.4 step 7).
func Validate(schema *crypto.Schema, block Block, txs []Transaction, prevInfo BlockInfo, complexity int) error {
	if block.PrevHash != prevInfo.Hash {
		return ErrChainBroken
	}
	h := schema.Hash256(signingPreimage(block.PrevHash, block.Miner, block.Nonce, txs))
	if h != block.Hash {
		return ErrHashMismatch
	}
	if !meetsComplexity(h, complexity) {
		return ErrComplexityNotMet
	}
	return nil
}
