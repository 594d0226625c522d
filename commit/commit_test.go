package commit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uqoin-network/uqoin-node/appdata"
	"github.com/uqoin-network/uqoin-node/chain"
	"github.com/uqoin-network/uqoin-node/common"
	"github.com/uqoin-network/uqoin-node/config"
)

func mineEmptyBlock(t *testing.T, a *appdata.AppData, miner common.U256) (common.U256, chain.BlockInfo) {
	t.Helper()
	prev := a.State.GetLastBlockInfo()
	rng := chain.NewMathRNG(42)
	nonce, ok := chain.Mine(a.Schema, rng, prev.Hash, miner, nil, chain.COMPLEXITY, 50_000_000)
	require.True(t, ok, "failed to find a nonce within the test budget")
	return nonce, prev
}

func TestBlockCommitsAgainstCurrentHead(t *testing.T) {
	a, err := appdata.New(config.Config{DataPath: t.TempDir()})
	require.NoError(t, err)
	defer a.Close()

	miner := common.FromHex("aabb")
	nonce, prev := mineEmptyBlock(t, a, miner)

	result, err := Block(a, prev, miner, nil, nonce)
	require.NoError(t, err)
	assert.True(t, result.Committed)
	assert.False(t, result.Stale)
	assert.Equal(t, uint64(1), result.Info.Bix)
	assert.Equal(t, uint64(1), a.State.GetLastBlockInfo().Bix)
	assert.Equal(t, uint64(1), a.Blockchain.LastBlockInfo().Bix)
}

func TestBlockDiscardsStaleCandidate(t *testing.T) {
	a, err := appdata.New(config.Config{DataPath: t.TempDir()})
	require.NoError(t, err)
	defer a.Close()

	miner := common.FromHex("aabb")
	staleInfo := chain.BlockInfo{Bix: 0, Hash: common.FromHex("deadbeef")}

	result, err := Block(a, staleInfo, miner, nil, common.Zero)
	require.NoError(t, err)
	assert.False(t, result.Committed)
	assert.True(t, result.Stale)
	assert.Equal(t, uint64(0), a.State.GetLastBlockInfo().Bix)
}

func TestBlockClearsPoolOnBuildFailure(t *testing.T) {
	a, err := appdata.New(config.Config{DataPath: t.TempDir()})
	require.NoError(t, err)
	defer a.Close()

	miner := common.FromHex("aabb")
	prev := a.State.GetLastBlockInfo()

	// An unsigned transaction fails sender recovery, exercising the
	// clear-pool-on-build-failure path before a nonce is ever checked.
	bogusTx := []chain.Transaction{{Type: chain.Transfer, Coin: common.FromHex("01"), To: common.FromHex("02")}}
	a.PoolMu.Lock()
	a.Pool.Add(&chain.Group{Transactions: bogusTx, Senders: []common.U256{common.FromHex("03")}}, common.FromHex("03"))
	a.PoolMu.Unlock()

	result, err := Block(a, prev, miner, bogusTx, common.Zero)
	assert.Error(t, err)
	assert.False(t, result.Committed)
	a.PoolMu.RLock()
	assert.Equal(t, 0, a.Pool.Len())
	a.PoolMu.RUnlock()
}
