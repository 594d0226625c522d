package mine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uqoin-network/uqoin-node/appdata"
	"github.com/uqoin-network/uqoin-node/config"
)

func TestDrainCandidateEmptyPool(t *testing.T) {
	a, err := appdata.New(config.Config{DataPath: t.TempDir()})
	require.NoError(t, err)
	defer a.Close()

	s := New(a)
	hash, txs := s.drainCandidate(nil)
	assert.Equal(t, a.State.GetLastBlockInfo().Hash, hash)
	assert.Empty(t, txs)
}

func TestRunMinesAndCommitsWithinTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("mines real proof-of-work, skipped in short mode")
	}
	priv := [32]byte{}
	priv[31] = 7
	a, err := appdata.New(config.Config{
		DataPath:                     t.TempDir(),
		MiningThreads:                2,
		PrivateKey:                   priv,
		MiningTimeout:                500,
		MiningUpdateCount:            5,
		MiningNonceCountPerIteration: 200_000,
		MiningGroupsMax:              16,
	})
	require.NoError(t, err)
	defer a.Close()

	s := New(a)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(20 * time.Second)
	for a.State.GetLastBlockInfo().Bix == 0 {
		select {
		case <-deadline:
			t.Fatal("no block was mined within the test budget")
		case <-time.After(50 * time.Millisecond):
		}
	}
	cancel()
	<-done

	assert.GreaterOrEqual(t, a.State.GetLastBlockInfo().Bix, uint64(1))
}
