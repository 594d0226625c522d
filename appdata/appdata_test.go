package appdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uqoin-network/uqoin-node/config"
)

func TestNewColdStart(t *testing.T) {
	cfg := config.Config{DataPath: t.TempDir()}
	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, uint64(0), a.State.GetLastBlockInfo().Bix)
	assert.False(t, a.IsSyncing())
	assert.Empty(t, a.Peers())
}

func TestReopenRebuildsOrLoadsConsistently(t *testing.T) {
	cfg := config.Config{DataPath: t.TempDir()}
	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.PersistState())
	require.NoError(t, a.Close())

	a2, err := New(cfg)
	require.NoError(t, err)
	defer a2.Close()
	assert.Equal(t, a.State.GetLastBlockInfo(), a2.State.GetLastBlockInfo())
}

func TestPeerListDedup(t *testing.T) {
	cfg := config.Config{DataPath: t.TempDir(), Nodes: []string{"http://a"}}
	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	a.AddPeer("http://b")
	a.AddPeer("http://a")
	assert.ElementsMatch(t, []string{"http://a", "http://b"}, a.Peers())
}

func TestSyncingFlag(t *testing.T) {
	cfg := config.Config{DataPath: t.TempDir()}
	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.IsSyncing())
	a.SetSyncing(true)
	assert.True(t, a.IsSyncing())
}
