// Package config implements the environment-variable driven Config of
// spec.md §6, with a github.com/urfave/cli flag overlay so the binary also
// accepts command-line flags that override the environment, matching the
// teacher's cmd/ convention (e.g. cmd/utils/flags.go). Grounded on
// original_source/src/config.rs, whose Config::from_env this expands with
// every field spec.md §6 names.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/uqoin-network/uqoin-node/common"
)

// Config holds every runtime-tunable parameter named in spec.md §6.
type Config struct {
	Host string
	Port uint16

	Workers  int
	DataPath string

	Nodes      []string
	PrivateKey common.U256

	MiningThreads int
	FeeMin        uint64

	NodeSyncTimeout               int // milliseconds
	NodeSyncBlockCount            int
	MiningTimeout                 int // milliseconds
	MiningUpdateCount             int
	MiningNonceCountPerIteration  uint64
	MiningGroupsMax               int

	LogLevel string
}

// Defaults mirror the constants the original prototype's config.rs and
// spec.md §6 specify.
const (
	DefaultHost                         = "localhost"
	DefaultPort                         = 5772
	DefaultWorkers                      = 1
	DefaultDataPath                     = "./data"
	DefaultMiningThreads                = 0
	DefaultFeeMin                       = 0
	DefaultNodeSyncTimeout               = 5000
	DefaultNodeSyncBlockCount            = 1000
	DefaultMiningTimeout                 = 20000
	DefaultMiningUpdateCount             = 20
	DefaultMiningNonceCountPerIteration  = 100000
	DefaultMiningGroupsMax                = 64
	DefaultLogLevel                      = "info"
)

// FromEnv builds a Config from the process environment, falling back to the
// defaults above for anything unset. A malformed numeric or hex value is a
// hard startup error (spec.md §4.1: fail fast on bad configuration, never
// silently substitute a default for an explicitly-set-but-invalid value).
func FromEnv() (Config, error) {
	c := Config{
		Host:                         getEnv("HOST", DefaultHost),
		Workers:                      DefaultWorkers,
		DataPath:                     getEnv("DATA_PATH", DefaultDataPath),
		MiningThreads:                DefaultMiningThreads,
		FeeMin:                       DefaultFeeMin,
		NodeSyncTimeout:              DefaultNodeSyncTimeout,
		NodeSyncBlockCount:           DefaultNodeSyncBlockCount,
		MiningTimeout:                DefaultMiningTimeout,
		MiningUpdateCount:            DefaultMiningUpdateCount,
		MiningNonceCountPerIteration: DefaultMiningNonceCountPerIteration,
		MiningGroupsMax:              DefaultMiningGroupsMax,
		LogLevel:                     getEnv("LOG_LEVEL", DefaultLogLevel),
	}

	var err error
	if c.Port, err = getEnvUint16("PORT", DefaultPort); err != nil {
		return Config{}, err
	}
	if c.Workers, err = getEnvInt("WORKERS", DefaultWorkers); err != nil {
		return Config{}, err
	}
	if c.MiningThreads, err = getEnvInt("MINING_THREADS", DefaultMiningThreads); err != nil {
		return Config{}, err
	}
	if c.FeeMin, err = getEnvUint64("FEE_MIN", DefaultFeeMin); err != nil {
		return Config{}, err
	}
	if c.NodeSyncTimeout, err = getEnvInt("NODE_SYNC_TIMEOUT", DefaultNodeSyncTimeout); err != nil {
		return Config{}, err
	}
	if c.NodeSyncBlockCount, err = getEnvInt("NODE_SYNC_BLOCK_COUNT", DefaultNodeSyncBlockCount); err != nil {
		return Config{}, err
	}
	if c.MiningTimeout, err = getEnvInt("MINING_TIMEOUT", DefaultMiningTimeout); err != nil {
		return Config{}, err
	}
	if c.MiningUpdateCount, err = getEnvInt("MINING_UPDATE_COUNT", DefaultMiningUpdateCount); err != nil {
		return Config{}, err
	}
	if c.MiningNonceCountPerIteration, err = getEnvUint64("MINING_NONCE_COUNT_PER_ITERATION", DefaultMiningNonceCountPerIteration); err != nil {
		return Config{}, err
	}
	if c.MiningGroupsMax, err = getEnvInt("MINING_GROUPS_MAX", DefaultMiningGroupsMax); err != nil {
		return Config{}, err
	}

	if nodes := os.Getenv("NODES"); nodes != "" {
		// spec.md §6 names NODES as whitespace-separated; a comma-separated
		// list (with or without spaces) is accepted too since that's the
		// more common shell-friendly form.
		for _, n := range strings.FieldsFunc(nodes, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		}) {
			c.Nodes = append(c.Nodes, n)
		}
	}

	if pk := os.Getenv("PRIVATE_KEY"); pk != "" {
		c.PrivateKey = common.FromHex(pk)
		if c.PrivateKey.IsZero() {
			return Config{}, errors.New("config: PRIVATE_KEY is set but not valid hex")
		}
	}

	return c, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "config: %s", key)
	}
	return n, nil
}

func getEnvUint16(key string, def uint16) (uint16, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "config: %s", key)
	}
	return uint16(n), nil
}

func getEnvUint64(key string, def uint64) (uint64, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "config: %s", key)
	}
	return n, nil
}
