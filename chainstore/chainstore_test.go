package chainstore

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uqoin-network/uqoin-node/chain"
	"github.com/uqoin-network/uqoin-node/common"
)

func TestPushAndFetch(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, chain.Genesis(), s.LastBlockInfo())

	b1 := chain.Block{Hash: common.FromHex("aa"), Miner: common.FromHex("01"), PrevHash: chain.GenesisHash()}
	txs1 := []chain.Transaction{{Type: chain.Transfer, Coin: common.FromHex("01")}}
	info1, err := s.PushNewBlock(b1, txs1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info1.Bix)

	b2 := chain.Block{Hash: common.FromHex("bb"), Miner: common.FromHex("02"), PrevHash: b1.Hash}
	txs2 := []chain.Transaction{{Type: chain.Split, Coin: common.FromHex("02")}}
	info2, err := s.PushNewBlock(b2, txs2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info2.Bix)

	assert.Equal(t, info2, s.LastBlockInfo())

	data1, err := s.GetBlockData(1)
	require.NoError(t, err)
	assert.Equal(t, b1.Hash, data1.Block.Hash)
	assert.Len(t, data1.Transactions, 1)

	many, err := s.GetBlockMany(1, 10)
	require.NoError(t, err)
	if !assert.Len(t, many, 2) {
		t.Log(spew.Sdump(many))
	}
	assert.Equal(t, uint64(1), many[0].Bix)
	assert.Equal(t, uint64(2), many[1].Bix)
}

func TestRollbackTo(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	b1 := chain.Block{Hash: common.FromHex("aa"), PrevHash: chain.GenesisHash()}
	info1, err := s.PushNewBlock(b1, nil)
	require.NoError(t, err)

	b2 := chain.Block{Hash: common.FromHex("bb"), PrevHash: b1.Hash}
	_, err = s.PushNewBlock(b2, nil)
	require.NoError(t, err)

	require.NoError(t, s.RollbackTo(info1))
	assert.Equal(t, info1, s.LastBlockInfo())

	_, err = s.GetBlockInfo(2)
	assert.Error(t, err)

	data1, err := s.GetBlockData(1)
	require.NoError(t, err)
	assert.Equal(t, b1.Hash, data1.Block.Hash)
}

func TestTransactionIndexAndRollback(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, TransactionInfo{}, s.LastTransactionInfo())

	b1 := chain.Block{Hash: common.FromHex("aa"), PrevHash: chain.GenesisHash()}
	txs1 := []chain.Transaction{
		{Type: chain.Transfer, Coin: common.FromHex("01")},
		{Type: chain.Fee, Coin: common.FromHex("02")},
	}
	_, err = s.PushNewBlock(b1, txs1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.LastTransactionInfo().Tix)

	b2 := chain.Block{Hash: common.FromHex("bb"), PrevHash: b1.Hash}
	txs2 := []chain.Transaction{{Type: chain.Split, Coin: common.FromHex("03")}}
	_, err = s.PushNewBlock(b2, txs2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), s.LastTransactionInfo().Tix)

	tx1, err := s.GetTransaction(1)
	require.NoError(t, err)
	assert.Equal(t, common.FromHex("01"), tx1.Coin)

	tx3, err := s.GetTransaction(3)
	require.NoError(t, err)
	assert.Equal(t, common.FromHex("03"), tx3.Coin)

	info1, err := s.GetTransactionInfo(1)
	require.NoError(t, err)
	raw, err := s.GetTransactionRaw(0, info1.OffsetEnd)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	require.NoError(t, s.RollbackTo(chain.Genesis()))
	assert.Equal(t, TransactionInfo{}, s.LastTransactionInfo())
	_, err = s.GetTransaction(1)
	assert.Error(t, err)
}

func TestReopenRecoversHead(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	b1 := chain.Block{Hash: common.FromHex("aa"), PrevHash: chain.GenesisHash()}
	info1, err := s.PushNewBlock(b1, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, info1, s2.LastBlockInfo())
}
