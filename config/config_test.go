package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	keys := []string{
		"HOST", "PORT", "WORKERS", "DATA_PATH", "NODES", "PRIVATE_KEY",
		"MINING_THREADS", "FEE_MIN", "NODE_SYNC_TIMEOUT", "NODE_SYNC_BLOCK_COUNT",
		"MINING_TIMEOUT", "MINING_UPDATE_COUNT", "MINING_NONCE_COUNT_PER_ITERATION",
		"MINING_GROUPS_MAX", "LOG_LEVEL",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range keys {
			os.Unsetenv(k)
		}
	})
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, c.Host)
	assert.Equal(t, uint16(DefaultPort), c.Port)
	assert.Equal(t, DefaultNodeSyncTimeout, c.NodeSyncTimeout)
	assert.Nil(t, c.Nodes)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("PORT", "9000")
	os.Setenv("NODES", "http://a:5772, http://b:5772")
	os.Setenv("MINING_THREADS", "4")

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, uint16(9000), c.Port)
	assert.Equal(t, []string{"http://a:5772", "http://b:5772"}, c.Nodes)
	assert.Equal(t, 4, c.MiningThreads)
}

func TestFromEnvBadPortFailsHard(t *testing.T) {
	clearEnv(t)
	os.Setenv("PORT", "not-a-number")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnvBadPrivateKeyFailsHard(t *testing.T) {
	clearEnv(t)
	os.Setenv("PRIVATE_KEY", "not-hex!!")
	_, err := FromEnv()
	assert.Error(t, err)
}
